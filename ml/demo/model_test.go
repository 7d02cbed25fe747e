package demo_test

import (
	"testing"

	"github.com/absmach/flclient/ml"
	"github.com/absmach/flclient/ml/demo"
	pkgerrors "github.com/absmach/flclient/pkg/errors"
	"github.com/absmach/flclient/pkg/fl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newModel(t *testing.T, hidden int) *demo.Model {
	t.Helper()
	cfg := demo.DefaultModelConfig()
	cfg.Hidden = hidden
	m, err := demo.NewModel(cfg)
	require.NoError(t, err)

	return m
}

func TestModelParameters(t *testing.T) {
	cases := []struct {
		desc   string
		hidden int
		names  []string
		shapes [][]int
	}{
		{
			desc:   "hidden layer",
			hidden: 16,
			names:  []string{"fc1.weight", "fc1.bias", "fc2.weight", "fc2.bias"},
			shapes: [][]int{{16, 8}, {16}, {3, 16}, {3}},
		},
		{
			desc:   "softmax regression",
			hidden: 0,
			names:  []string{"linear.weight", "linear.bias"},
			shapes: [][]int{{3, 8}, {3}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			params := newModel(t, tc.hidden).Parameters()
			require.Len(t, params, len(tc.names))
			for i, p := range params {
				assert.Equal(t, tc.names[i], p.Name)
				assert.Equal(t, tc.shapes[i], p.Shape)
				assert.NoError(t, p.Validate())
			}
		})
	}
}

func TestModelSeedIsDeterministic(t *testing.T) {
	a, b := newModel(t, 4), newModel(t, 4)
	assert.Equal(t, a.Parameters(), b.Parameters())
}

func TestLoadStateDict(t *testing.T) {
	m := newModel(t, 0)
	params := m.Parameters()

	state := make([]fl.NamedTensor, len(params))
	for i, p := range params {
		tensor := fl.NewTensor(p.Shape...)
		for j := range tensor.Data {
			tensor.Data[j] = float64(i + 1)
		}
		state[i] = fl.NamedTensor{Name: p.Name, Tensor: tensor}
	}
	require.NoError(t, m.LoadStateDict(state, true))

	for i, p := range m.Parameters() {
		assert.Equal(t, state[i].Data, p.Data)
	}
	// Live views alias model memory, the loaded copy does not.
	state[0].Data[0] = -99
	assert.NotEqual(t, -99.0, m.Parameters()[0].Data[0])
}

func TestLoadStateDictStrictness(t *testing.T) {
	m := newModel(t, 0)
	before := m.Parameters()[0].Clone()
	weight := fl.NamedTensor{Name: "linear.weight", Tensor: fl.NewTensor(3, 8)}
	bias := fl.NamedTensor{Name: "linear.bias", Tensor: fl.NewTensor(3)}

	cases := []struct {
		desc   string
		state  []fl.NamedTensor
		strict bool
		err    error
	}{
		{desc: "missing key", state: []fl.NamedTensor{weight}, strict: true, err: pkgerrors.ErrParameterMismatch},
		{desc: "missing key not strict", state: []fl.NamedTensor{bias}},
		{
			desc:   "unexpected key",
			state:  []fl.NamedTensor{weight, bias, {Name: "extra", Tensor: fl.NewTensor(1)}},
			strict: true,
			err:    pkgerrors.ErrParameterMismatch,
		},
		{
			desc:   "shape mismatch",
			state:  []fl.NamedTensor{{Name: "linear.weight", Tensor: fl.NewTensor(8, 3)}, bias},
			strict: true,
			err:    pkgerrors.ErrParameterMismatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			err := m.LoadStateDict(tc.state, tc.strict)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				assert.Equal(t, before, m.Parameters()[0].Tensor, "failed load must not touch parameters")

				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestStepRejectsBadBatch(t *testing.T) {
	m := newModel(t, 0)
	dm := newData(t, demo.DefaultDataConfig())
	loader, err := dm.TrainLoader()
	require.NoError(t, err)
	b, ok := loader.Next()
	require.True(t, ok)

	_, err = m.TrainingStep(ml.Batch{})
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidValue)

	bad := ml.Batch{Features: b.Features, Labels: append([]int{}, b.Labels...)}
	bad.Labels[0] = 7
	_, err = m.ValidationStep(bad)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidValue)
}

func TestTrainingReducesLoss(t *testing.T) {
	m := newModel(t, 16)
	opt, err := m.ConfigureOptimizer()
	require.NoError(t, err)

	dm := newData(t, demo.DefaultDataConfig())
	loader, err := dm.TrainLoader()
	require.NoError(t, err)

	epochLoss := func(train bool) float64 {
		loader.Reset()
		var sum float64
		var n int
		for b, ok := loader.Next(); ok; b, ok = loader.Next() {
			var out ml.StepOutput
			if train {
				out, err = m.TrainingStep(b)
				require.NoError(t, err)
				require.Len(t, out.Grads, 4)
				require.NoError(t, opt.Step(out.Grads))
			} else {
				out, err = m.ValidationStep(b)
				require.NoError(t, err)
				assert.Nil(t, out.Grads)
			}
			sum += out.Loss * float64(out.Count)
			n += out.Count
		}

		return sum / float64(n)
	}

	initial := epochLoss(false)
	for range 5 {
		epochLoss(true)
	}
	assert.Less(t, epochLoss(false), initial)
}

func TestSGDStepErrors(t *testing.T) {
	_, err := demo.NewSGD(nil, 0, 0, 0)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidValue)

	params := []fl.NamedTensor{{Name: "w", Tensor: fl.Tensor{Shape: []int{2}, Data: []float64{1, 1}}}}
	opt, err := demo.NewSGD(params, 0.5, 0, 0)
	require.NoError(t, err)

	assert.ErrorIs(t, opt.Step(nil), pkgerrors.ErrParameterMismatch)
	assert.ErrorIs(t, opt.Step([]fl.Tensor{fl.NewTensor(3)}), pkgerrors.ErrParameterMismatch)

	require.NoError(t, opt.Step([]fl.Tensor{{Shape: []int{2}, Data: []float64{1, -1}}}))
	assert.Equal(t, []float64{0.5, 1.5}, params[0].Data)
}

func TestSGDMomentumPersists(t *testing.T) {
	params := []fl.NamedTensor{{Name: "w", Tensor: fl.Tensor{Shape: []int{1}, Data: []float64{0}}}}
	opt, err := demo.NewSGD(params, 1, 0.5, 0)
	require.NoError(t, err)

	grad := []fl.Tensor{{Shape: []int{1}, Data: []float64{1}}}
	require.NoError(t, opt.Step(grad))
	assert.Equal(t, -1.0, params[0].Data[0])

	// Reloading parameters in place keeps the velocity buffer.
	params[0].Data[0] = 0
	require.NoError(t, opt.Step(grad))
	assert.Equal(t, -1.5, params[0].Data[0])
}

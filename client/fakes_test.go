package client_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/absmach/flclient/client"
	"github.com/absmach/flclient/fabric"
	"github.com/absmach/flclient/ml"
	pkgerrors "github.com/absmach/flclient/pkg/errors"
	"github.com/absmach/flclient/pkg/fl"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// recorder captures the order in which the handler drives its collaborators.
type recorder struct {
	mu     sync.Mutex
	calls  []string
	epochs []int
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string{}, r.calls...)
}

type fakeModel struct {
	params []fl.NamedTensor
	rec    *recorder
}

func newFakeModel(rec *recorder) *fakeModel {
	return &fakeModel{
		rec: rec,
		params: []fl.NamedTensor{
			{Name: "w", Tensor: fl.Tensor{Shape: []int{2, 2}, Data: []float64{1, 2, 3, 4}}},
			{Name: "b", Tensor: fl.Tensor{Shape: []int{2}, Data: []float64{5, 6}}},
		},
	}
}

func (m *fakeModel) Parameters() []fl.NamedTensor {
	return append([]fl.NamedTensor{}, m.params...)
}

func (m *fakeModel) LoadStateDict(state []fl.NamedTensor, strict bool) error {
	m.rec.add("set")
	if strict && len(state) != len(m.params) {
		return fmt.Errorf("fake: %w", pkgerrors.ErrParameterMismatch)
	}
	for i, p := range m.params {
		if state[i].Name != p.Name || !p.SameShape(state[i].Tensor) {
			return fmt.Errorf("fake: %q: %w", p.Name, pkgerrors.ErrParameterMismatch)
		}
	}
	for i, p := range m.params {
		copy(p.Data, state[i].Data)
	}

	return nil
}

func (m *fakeModel) ConfigureOptimizer() (ml.Optimizer, error) {
	return fakeOptimizer{}, nil
}

func (m *fakeModel) TrainingStep(ml.Batch) (ml.StepOutput, error) {
	return ml.StepOutput{}, nil
}

func (m *fakeModel) ValidationStep(ml.Batch) (ml.StepOutput, error) {
	return ml.StepOutput{}, nil
}

type fakeOptimizer struct{}

func (fakeOptimizer) Step([]fl.Tensor) error { return nil }

type fakeLoader struct {
	n      int
	cursor int
}

func (l *fakeLoader) Len() int { return l.n }
func (l *fakeLoader) Reset()   { l.cursor = 0 }

func (l *fakeLoader) Next() (ml.Batch, bool) {
	if l.cursor >= l.n {
		return ml.Batch{}, false
	}
	l.cursor++

	return ml.Batch{Labels: []int{0}}, true
}

type fakeData struct {
	train, val int
	stages     []string
}

func (d *fakeData) Setup(stage string) error {
	d.stages = append(d.stages, stage)

	return nil
}

func (d *fakeData) TrainLoader() (ml.Loader, error) { return &fakeLoader{n: d.train}, nil }
func (d *fakeData) ValLoader() (ml.Loader, error)   { return &fakeLoader{n: d.val}, nil }

func metricsOf(kv ...any) *fl.Metrics {
	m := fl.NewMetrics()
	for i := 0; i < len(kv); i += 2 {
		m.Set(kv[i].(string), kv[i+1].(float64))
	}

	return m
}

// fixture is a handler driven by scripted train and eval passes.
type fixture struct {
	handler *client.Handler
	model   *fakeModel
	rec     *recorder
	train   *fl.Metrics
	eval    *fl.Metrics
}

func newFixture(t *testing.T, cid int, preTrainVal bool) *fixture {
	t.Helper()

	f := &fixture{
		rec:   &recorder{},
		train: metricsOf("loss", 0.25, "accuracy", 0.75),
		eval:  metricsOf("accuracy", 0.5, "loss", 1.0),
	}
	f.model = newFakeModel(f.rec)

	train := func(_ context.Context, _ *fabric.Fabric, _ ml.Model, _ *fabric.Loader, _ ml.Optimizer, epochs int) (*fl.Metrics, error) {
		f.rec.add("train")
		f.rec.mu.Lock()
		f.rec.epochs = append(f.rec.epochs, epochs)
		f.rec.mu.Unlock()

		return f.train, nil
	}
	eval := func(_ context.Context, _ *fabric.Fabric, _ ml.Model, _ *fabric.Loader) (*fl.Metrics, error) {
		f.rec.add("eval")

		return f.eval, nil
	}

	fab, err := fabric.New(fabric.Config{Accelerator: "cpu"})
	require.NoError(t, err)

	h, err := client.NewHandler(cid, f.model, &fakeData{train: 3, val: 2}, fl.ExampleCounts{Trainset: 3, Valset: 2}, fab, preTrainVal,
		client.WithLogger(discard),
		client.WithTrainFunc(train),
		client.WithEvalFunc(eval),
	)
	require.NoError(t, err)
	f.handler = h

	return f
}

func (f *fixture) initialize(t *testing.T) {
	t.Helper()
	require.NoError(t, f.handler.Initialize(context.Background()))
}

func params(w, b float64) fl.ParameterVector {
	return fl.ParameterVector{
		{Shape: []int{2, 2}, Data: []float64{w, w, w, w}},
		{Shape: []int{2}, Data: []float64{b, b}},
	}
}

func round(server, epochs int) fl.RoundContext {
	return fl.RoundContext{ServerRound: server, LocalEpochs: epochs}
}

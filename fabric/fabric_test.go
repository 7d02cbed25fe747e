package fabric_test

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/absmach/flclient/fabric"
	"github.com/absmach/flclient/ml"
	pkgerrors "github.com/absmach/flclient/pkg/errors"
	"github.com/absmach/flclient/pkg/fl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceLoader struct {
	batches []ml.Batch
	cursor  int
	resets  int
}

func (l *sliceLoader) Len() int { return len(l.batches) }

func (l *sliceLoader) Reset() {
	l.cursor = 0
	l.resets++
}

func (l *sliceLoader) Next() (ml.Batch, bool) {
	if l.cursor >= len(l.batches) {
		return ml.Batch{}, false
	}
	b := l.batches[l.cursor]
	l.cursor++

	return b, true
}

type countingOptimizer struct {
	steps int
}

func (o *countingOptimizer) Step(_ []fl.Tensor) error {
	o.steps++

	return nil
}

func TestLaunch(t *testing.T) {
	cases := []struct {
		desc        string
		accelerator string
		device      string
		err         error
	}{
		{desc: "auto resolves to cpu", accelerator: "auto", device: "cpu"},
		{desc: "cpu", accelerator: "cpu", device: "cpu"},
		{desc: "gpu is unavailable", accelerator: "gpu", err: pkgerrors.ErrAcceleratorUnavailable},
		{desc: "cuda is unavailable", accelerator: "cuda", err: pkgerrors.ErrAcceleratorUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			f, err := fabric.New(fabric.Config{Accelerator: tc.accelerator})
			require.NoError(t, err)

			err = f.Launch(context.Background())
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				assert.Empty(t, f.Device())

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.device, f.Device())
		})
	}
}

func TestNewDefaults(t *testing.T) {
	f, err := fabric.New(fabric.Config{Accelerator: "cpu"})
	require.NoError(t, err)
	assert.Equal(t, fabric.DefaultStrategy, f.Config().Strategy)
	assert.Equal(t, fabric.DefaultPrecision, f.Config().Precision)
	assert.True(t, f.Config().Devices.IsAuto())

	_, err = fabric.New(fabric.Config{Accelerator: "abacus"})
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidValue)

	_, err = fabric.New(fabric.Config{})
	assert.ErrorIs(t, err, pkgerrors.ErrMissingValue)
}

func TestSetupRequiresLaunch(t *testing.T) {
	f, err := fabric.New(fabric.Config{Accelerator: "cpu"})
	require.NoError(t, err)

	_, _, err = f.Setup(nil, &countingOptimizer{})
	assert.Error(t, err)
	_, err = f.SetupDataloaders(&sliceLoader{})
	assert.Error(t, err)
}

func TestOptimizerCountsSteps(t *testing.T) {
	f, err := fabric.New(fabric.Config{Accelerator: "cpu"})
	require.NoError(t, err)
	require.NoError(t, f.Launch(context.Background()))

	inner := &countingOptimizer{}
	_, opt, err := f.Setup(nil, inner)
	require.NoError(t, err)

	for range 3 {
		require.NoError(t, opt.Step(nil))
	}
	assert.Equal(t, uint64(3), opt.Steps())
	assert.Equal(t, 3, inner.steps)
}

func TestLoaderEachResetsEveryPass(t *testing.T) {
	f, err := fabric.New(fabric.Config{Accelerator: "auto"})
	require.NoError(t, err)
	require.NoError(t, f.Launch(context.Background()))

	inner := &sliceLoader{batches: []ml.Batch{{Labels: []int{0}}, {Labels: []int{1, 2}}}}
	loaders, err := f.SetupDataloaders(inner)
	require.NoError(t, err)
	require.Len(t, loaders, 1)
	l := loaders[0]

	for pass := 1; pass <= 2; pass++ {
		seen := 0
		require.NoError(t, l.Each(context.Background(), func(b ml.Batch) error {
			seen += b.Size()

			return nil
		}))
		assert.Equal(t, 3, seen)
		assert.Equal(t, pass, l.Passes())
	}
	assert.Equal(t, 2, inner.resets)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Each(ctx, func(ml.Batch) error { return nil }), context.Canceled)
}

func TestParseDevices(t *testing.T) {
	cases := []struct {
		desc  string
		input any
		want  fabric.Devices
		str   string
		err   bool
	}{
		{desc: "nil", input: nil, want: fabric.AutoDevices(), str: "auto"},
		{desc: "auto", input: "auto", want: fabric.AutoDevices(), str: "auto"},
		{desc: "int", input: 2, want: fabric.Devices{Count: 2}, str: "2"},
		{desc: "toml int64", input: int64(1), want: fabric.Devices{Count: 1}, str: "1"},
		{desc: "json float", input: float64(4), want: fabric.Devices{Count: 4}, str: "4"},
		{desc: "numeric string", input: "3", want: fabric.Devices{Count: 3}, str: "3"},
		{desc: "id list", input: []any{0, int64(2)}, want: fabric.Devices{IDs: []int{0, 2}}, str: "[0 2]"},
		{desc: "zero count", input: 0, err: true},
		{desc: "fractional", input: 1.5, err: true},
		{desc: "count beyond int", input: 1e19, err: true},
		{desc: "id beyond int", input: []any{0, -1e19}, err: true},
		{desc: "not a number", input: math.NaN(), err: true},
		{desc: "empty list", input: []any{}, err: true},
		{desc: "duplicate ids", input: []any{1, 1}, err: true},
		{desc: "word", input: "many", err: true},
		{desc: "bool", input: true, err: true},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := fabric.ParseDevices(tc.input)
			if tc.err {
				assert.ErrorIs(t, err, pkgerrors.ErrInvalidValue)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.str, got.String())
		})
	}
}

func TestDevicesJSON(t *testing.T) {
	for _, d := range []fabric.Devices{fabric.AutoDevices(), {Count: 2}, {IDs: []int{1, 3}}} {
		data, err := json.Marshal(d)
		require.NoError(t, err)

		var decoded fabric.Devices
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, d, decoded)
	}
}

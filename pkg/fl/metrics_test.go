package fl_test

import (
	"encoding/json"
	"math"
	"testing"

	pkgerrors "github.com/absmach/flclient/pkg/errors"
	"github.com/absmach/flclient/pkg/fl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsKeepInsertionOrder(t *testing.T) {
	m := fl.NewMetrics()
	m.Set("loss", 0.5)
	m.Set("accuracy", 0.9)
	m.Set("cid", 3)
	m.Set("loss", 0.25)

	assert.Equal(t, []string{"loss", "accuracy", "cid"}, m.Keys())
	v, ok := m.Get("loss")
	assert.True(t, ok)
	assert.Equal(t, 0.25, v)
	assert.Equal(t, 3, m.Len())
}

func TestMetricsAdd(t *testing.T) {
	m := fl.NewMetrics()
	require.NoError(t, m.Add("loss", 1))

	err := m.Add("loss", 2)
	assert.ErrorIs(t, err, pkgerrors.ErrMetricCollision)

	v, _ := m.Get("loss")
	assert.Equal(t, 1.0, v)
}

func TestMetricsMerge(t *testing.T) {
	cases := []struct {
		desc     string
		base     map[string]float64
		baseKeys []string
		other    []string
		suffix   string
		keys     []string
		err      error
	}{
		{
			desc:   "merge into empty metrics",
			other:  []string{"accuracy", "loss"},
			suffix: fl.PreTrainValSuffix,
			keys:   []string{"accuracy_pre_train_val", "loss_pre_train_val"},
		},
		{
			desc:     "merge after existing keys",
			baseKeys: []string{"cid"},
			other:    []string{"loss", "accuracy"},
			keys:     []string{"cid", "loss", "accuracy"},
		},
		{
			desc:     "collision leaves metrics unchanged",
			baseKeys: []string{"cid", "loss"},
			other:    []string{"accuracy", "loss"},
			keys:     []string{"cid", "loss"},
			err:      pkgerrors.ErrMetricCollision,
		},
		{
			desc:     "suffix avoids collision",
			baseKeys: []string{"loss"},
			other:    []string{"loss"},
			suffix:   fl.PreTrainValSuffix,
			keys:     []string{"loss", "loss_pre_train_val"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			m := fl.NewMetrics()
			for i, k := range tc.baseKeys {
				m.Set(k, float64(i))
			}
			other := fl.NewMetrics()
			for i, k := range tc.other {
				other.Set(k, float64(10+i))
			}

			err := m.Merge(other, tc.suffix)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tc.keys, m.Keys())
		})
	}
}

func TestMetricsMergeNil(t *testing.T) {
	m := fl.NewMetrics()
	m.Set("cid", 0)

	require.NoError(t, m.Merge(nil, ""))
	assert.Equal(t, []string{"cid"}, m.Keys())
}

func TestMetricsJSONOrder(t *testing.T) {
	m := fl.NewMetrics()
	m.Set("loss_pre_train_val", 1.5)
	m.Set("cid", 2)
	m.Set("loss", 0.5)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `{"loss_pre_train_val":1.5,"cid":2,"loss":0.5}`, string(data))

	var decoded fl.Metrics
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, m.Keys(), decoded.Keys())
	assert.Equal(t, m.Map(), decoded.Map())
}

func TestMetricsUnmarshalRejectsNonObject(t *testing.T) {
	var m fl.Metrics
	err := json.Unmarshal([]byte(`[1,2]`), &m)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidValue)
}

func TestNilMetrics(t *testing.T) {
	var m *fl.Metrics

	_, ok := m.Get("loss")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
	assert.Empty(t, m.Keys())
	assert.Empty(t, m.Map())
}

func TestMetricsValidate(t *testing.T) {
	m := fl.NewMetrics()
	m.Set("accuracy", 0.5)
	require.NoError(t, m.Validate())

	m.Set("loss", math.NaN())
	m.Set("f1", math.Inf(1))
	err := m.Validate()
	require.ErrorIs(t, err, pkgerrors.ErrInvalidValue)
	assert.Contains(t, err.Error(), `"loss"`)
	assert.Contains(t, err.Error(), `"f1"`)

	_, err = json.Marshal(m)
	assert.Error(t, err, "non-finite metrics cannot be encoded")

	var nilMetrics *fl.Metrics
	assert.NoError(t, nilMetrics.Validate())
}

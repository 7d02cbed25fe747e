package fl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"

	pkgerrors "github.com/absmach/flclient/pkg/errors"
)

const (
	LossKey = "loss"
	CIDKey  = "cid"

	// PreTrainValSuffix marks metrics measured on freshly received
	// parameters, before any local update.
	PreTrainValSuffix = "_pre_train_val"
)

// Metrics is a string to scalar mapping that remembers insertion order.
type Metrics struct {
	keys   []string
	values map[string]float64
}

func NewMetrics() *Metrics {
	return &Metrics{values: make(map[string]float64)}
}

// Set stores v under key. A key keeps its original position when overwritten.
func (m *Metrics) Set(key string, v float64) {
	if m.values == nil {
		m.values = make(map[string]float64)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

func (m *Metrics) Get(key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	v, ok := m.values[key]

	return v, ok
}

func (m *Metrics) Has(key string) bool {
	_, ok := m.Get(key)

	return ok
}

func (m *Metrics) Keys() []string {
	if m == nil {
		return nil
	}

	return slices.Clone(m.keys)
}

func (m *Metrics) Len() int {
	if m == nil {
		return 0
	}

	return len(m.keys)
}

// Add stores v under key and fails if the key is already present.
func (m *Metrics) Add(key string, v float64) error {
	if m.Has(key) {
		return fmt.Errorf("metric %q already reported: %w", key, pkgerrors.ErrMetricCollision)
	}
	m.Set(key, v)

	return nil
}

// Merge copies every metric of other into m, appending suffix to its key.
// Nothing is copied if any resulting key already exists in m.
func (m *Metrics) Merge(other *Metrics, suffix string) error {
	if other == nil {
		return nil
	}

	var errs []error
	for _, k := range other.keys {
		if m.Has(k + suffix) {
			errs = append(errs, fmt.Errorf("metric %q already reported: %w", k+suffix, pkgerrors.ErrMetricCollision))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for _, k := range other.keys {
		m.Set(k+suffix, other.values[k])
	}

	return nil
}

// Map returns an unordered copy of the metrics.
func (m *Metrics) Map() map[string]float64 {
	out := make(map[string]float64, m.Len())
	if m == nil {
		return out
	}
	for k, v := range m.values {
		out[k] = v
	}

	return out
}

// Validate fails for NaN and infinite values, which have no JSON form.
func (m *Metrics) Validate() error {
	if m == nil {
		return nil
	}

	var errs []error
	for _, k := range m.keys {
		if v := m.values[k]; math.IsNaN(v) || math.IsInf(v, 0) {
			errs = append(errs, fmt.Errorf("metric %q is %v: %w", k, v, pkgerrors.ErrInvalidValue))
		}
	}

	return errors.Join(errs...)
}

func (m *Metrics) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, fmt.Errorf("metric %q: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

func (m *Metrics) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("metrics: expected a JSON object: %w", pkgerrors.ErrInvalidValue)
	}

	*m = Metrics{values: make(map[string]float64)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)

		var v float64
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("metric %q: %w", key, err)
		}
		m.Set(key, v)
	}

	_, err = dec.Token()

	return err
}

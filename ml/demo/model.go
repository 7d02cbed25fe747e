// Package demo provides a small softmax classifier and synthetic data so
// that a client can run end to end without external ML tooling.
package demo

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/absmach/flclient/ml"
	pkgerrors "github.com/absmach/flclient/pkg/errors"
	"github.com/absmach/flclient/pkg/fl"
	"gonum.org/v1/gonum/mat"
)

type ModelConfig struct {
	NumFeatures int     `json:"num_features"`
	NumClasses  int     `json:"num_classes"`
	Hidden      int     `json:"hidden"`
	LR          float64 `json:"lr"`
	Momentum    float64 `json:"momentum"`
	WeightDecay float64 `json:"weight_decay"`
	Seed        uint64  `json:"seed"`
}

func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		NumFeatures: 8,
		NumClasses:  3,
		Hidden:      16,
		LR:          0.1,
		Momentum:    0.9,
	}
}

func (c ModelConfig) Validate() error {
	var errs []error
	if c.NumFeatures <= 0 {
		errs = append(errs, fmt.Errorf("num_features must be positive, got %d", c.NumFeatures))
	}
	if c.NumClasses < 2 {
		errs = append(errs, fmt.Errorf("num_classes must be at least 2, got %d", c.NumClasses))
	}
	if c.Hidden < 0 {
		errs = append(errs, fmt.Errorf("hidden must not be negative, got %d", c.Hidden))
	}
	if c.LR <= 0 {
		errs = append(errs, fmt.Errorf("lr must be positive, got %g", c.LR))
	}
	if c.Momentum < 0 || c.Momentum >= 1 {
		errs = append(errs, fmt.Errorf("momentum must be in [0, 1), got %g", c.Momentum))
	}
	if c.WeightDecay < 0 {
		errs = append(errs, fmt.Errorf("weight_decay must not be negative, got %g", c.WeightDecay))
	}

	return errors.Join(errs...)
}

// Model is a fully connected classifier. With Hidden > 0 it has one ReLU
// hidden layer, otherwise it is a plain softmax regression.
type Model struct {
	cfg    ModelConfig
	params []fl.NamedTensor
}

var _ ml.Model = (*Model)(nil)

func NewModel(cfg ModelConfig) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	m := &Model{cfg: cfg}
	if cfg.Hidden > 0 {
		m.addLayer("fc1", cfg.NumFeatures, cfg.Hidden, rng)
		m.addLayer("fc2", cfg.Hidden, cfg.NumClasses, rng)
	} else {
		m.addLayer("linear", cfg.NumFeatures, cfg.NumClasses, rng)
	}

	return m, nil
}

func (m *Model) addLayer(name string, in, out int, rng *rand.Rand) {
	w := fl.NewTensor(out, in)
	limit := math.Sqrt(6 / float64(in+out))
	for i := range w.Data {
		w.Data[i] = (rng.Float64()*2 - 1) * limit
	}

	m.params = append(m.params,
		fl.NamedTensor{Name: name + ".weight", Tensor: w},
		fl.NamedTensor{Name: name + ".bias", Tensor: fl.NewTensor(out)},
	)
}

func (m *Model) Parameters() []fl.NamedTensor {
	out := make([]fl.NamedTensor, len(m.params))
	copy(out, m.params)

	return out
}

func (m *Model) LoadStateDict(state []fl.NamedTensor, strict bool) error {
	byName := make(map[string]fl.Tensor, len(state))
	for _, nt := range state {
		byName[nt.Name] = nt.Tensor
	}

	var errs []error
	known := make(map[string]bool, len(m.params))
	for _, p := range m.params {
		known[p.Name] = true
		t, ok := byName[p.Name]
		if !ok {
			if strict {
				errs = append(errs, fmt.Errorf("missing key %q", p.Name))
			}

			continue
		}
		if !p.SameShape(t) || len(t.Data) != len(p.Data) {
			errs = append(errs, fmt.Errorf("size mismatch for %q: expected shape %v, got %v", p.Name, p.Shape, t.Shape))
		}
	}
	if strict {
		for _, nt := range state {
			if !known[nt.Name] {
				errs = append(errs, fmt.Errorf("unexpected key %q", nt.Name))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("load state dict: %w", errors.Join(append([]error{pkgerrors.ErrParameterMismatch}, errs...)...))
	}

	for _, p := range m.params {
		if t, ok := byName[p.Name]; ok {
			copy(p.Data, t.Data)
		}
	}

	return nil
}

func (m *Model) ConfigureOptimizer() (ml.Optimizer, error) {
	return NewSGD(m.Parameters(), m.cfg.LR, m.cfg.Momentum, m.cfg.WeightDecay)
}

func (m *Model) TrainingStep(b ml.Batch) (ml.StepOutput, error) {
	return m.step(b, true)
}

func (m *Model) ValidationStep(b ml.Batch) (ml.StepOutput, error) {
	return m.step(b, false)
}

func (m *Model) numLayers() int {
	return len(m.params) / 2
}

func (m *Model) weight(l int) *mat.Dense {
	w := m.params[2*l]

	return mat.NewDense(w.Shape[0], w.Shape[1], w.Data)
}

func (m *Model) bias(l int) []float64 {
	return m.params[2*l+1].Data
}

func (m *Model) step(b ml.Batch, train bool) (ml.StepOutput, error) {
	if b.Features == nil || b.Size() == 0 {
		return ml.StepOutput{}, fmt.Errorf("empty batch: %w", pkgerrors.ErrInvalidValue)
	}
	rows, cols := b.Features.Dims()
	if rows != b.Size() {
		return ml.StepOutput{}, fmt.Errorf("batch has %d rows but %d labels: %w", rows, b.Size(), pkgerrors.ErrInvalidValue)
	}
	if cols != m.cfg.NumFeatures {
		return ml.StepOutput{}, fmt.Errorf("batch has %d features, model expects %d: %w", cols, m.cfg.NumFeatures, pkgerrors.ErrInvalidValue)
	}
	for _, y := range b.Labels {
		if y < 0 || y >= m.cfg.NumClasses {
			return ml.StepOutput{}, fmt.Errorf("label %d outside [0, %d): %w", y, m.cfg.NumClasses, pkgerrors.ErrInvalidValue)
		}
	}

	acts := m.forward(b.Features)
	logits := acts[len(acts)-1]
	probs, loss, correct := softmaxCrossEntropy(logits, b.Labels)

	out := ml.StepOutput{Loss: loss, Correct: correct, Count: rows}
	if train {
		out.Grads = m.backward(acts, probs, b.Labels)
	}

	return out, nil
}

// forward returns the input followed by the output of every layer.
func (m *Model) forward(x *mat.Dense) []*mat.Dense {
	acts := []*mat.Dense{x}
	last := m.numLayers() - 1
	for l := range m.numLayers() {
		w, bias := m.weight(l), m.bias(l)
		rows, _ := acts[l].Dims()
		out, _ := w.Dims()

		z := mat.NewDense(rows, out, nil)
		z.Mul(acts[l], w.T())
		z.Apply(func(_, j int, v float64) float64 {
			v += bias[j]
			if l < last && v < 0 {
				return 0
			}

			return v
		}, z)
		acts = append(acts, z)
	}

	return acts
}

func (m *Model) backward(acts []*mat.Dense, probs *mat.Dense, labels []int) []fl.Tensor {
	rows, classes := probs.Dims()
	delta := mat.NewDense(rows, classes, nil)
	delta.Apply(func(i, j int, v float64) float64 {
		if labels[i] == j {
			v--
		}

		return v / float64(rows)
	}, probs)

	grads := make([]fl.Tensor, len(m.params))
	for l := m.numLayers() - 1; l >= 0; l-- {
		w := m.weight(l)
		out, in := w.Dims()

		gw := fl.NewTensor(out, in)
		mat.NewDense(out, in, gw.Data).Mul(delta.T(), acts[l])

		gb := fl.NewTensor(out)
		for j := range out {
			gb.Data[j] = mat.Sum(delta.ColView(j))
		}
		grads[2*l], grads[2*l+1] = gw, gb

		if l == 0 {
			break
		}
		prev := mat.NewDense(rows, in, nil)
		prev.Mul(delta, w)
		prev.Apply(func(i, j int, v float64) float64 {
			if acts[l].At(i, j) <= 0 {
				return 0
			}

			return v
		}, prev)
		delta = prev
	}

	return grads
}

func softmaxCrossEntropy(logits *mat.Dense, labels []int) (*mat.Dense, float64, int) {
	rows, cols := logits.Dims()
	probs := mat.NewDense(rows, cols, nil)

	var loss float64
	correct := 0
	for i := range rows {
		row := logits.RawRowView(i)
		maxV, argmax := row[0], 0
		for j, v := range row {
			if v > maxV {
				maxV, argmax = v, j
			}
		}
		if argmax == labels[i] {
			correct++
		}

		var sum float64
		for j, v := range row {
			e := math.Exp(v - maxV)
			probs.Set(i, j, e)
			sum += e
		}
		for j := range cols {
			probs.Set(i, j, probs.At(i, j)/sum)
		}
		loss -= math.Log(math.Max(probs.At(i, labels[i]), 1e-12))
	}

	return probs, loss / float64(rows), correct
}

package fl

import (
	"encoding/json"
	"fmt"
	"slices"

	pkgerrors "github.com/absmach/flclient/pkg/errors"
)

const (
	ServerRoundKey = "server_round"
	LocalEpochsKey = "local_epochs"
)

// Tensor is a dense row-major array of float64 values.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// NewTensor allocates a zeroed tensor of the given shape.
func NewTensor(shape ...int) Tensor {
	return Tensor{
		Shape: slices.Clone(shape),
		Data:  make([]float64, NumElements(shape)),
	}
}

// NumElements returns the number of scalars a tensor of this shape holds.
func NumElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}

	return n
}

func (t Tensor) Clone() Tensor {
	return Tensor{
		Shape: slices.Clone(t.Shape),
		Data:  slices.Clone(t.Data),
	}
}

func (t Tensor) SameShape(other Tensor) bool {
	return slices.Equal(t.Shape, other.Shape)
}

// Validate checks that the data length agrees with the shape.
func (t Tensor) Validate() error {
	for _, d := range t.Shape {
		if d < 0 {
			return fmt.Errorf("tensor shape %v has a negative dimension: %w", t.Shape, pkgerrors.ErrInvalidValue)
		}
	}
	if n := NumElements(t.Shape); n != len(t.Data) {
		return fmt.Errorf("tensor shape %v needs %d values, got %d: %w", t.Shape, n, len(t.Data), pkgerrors.ErrInvalidValue)
	}

	return nil
}

type NamedTensor struct {
	Name string
	Tensor
}

// ParameterVector is the ordered list of model parameters exchanged with the
// coordinator. Order is the only binding between a value and its parameter.
type ParameterVector []Tensor

func (pv ParameterVector) Clone() ParameterVector {
	out := make(ParameterVector, len(pv))
	for i, t := range pv {
		out[i] = t.Clone()
	}

	return out
}

// RoundContext is the per-RPC configuration sent by the coordinator.
type RoundContext struct {
	ServerRound int
	LocalEpochs int
	Extras      map[string]any
}

func (rc RoundContext) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(rc.Extras)+2)
	for k, v := range rc.Extras {
		out[k] = v
	}
	out[ServerRoundKey] = rc.ServerRound
	out[LocalEpochsKey] = rc.LocalEpochs

	return json.Marshal(out)
}

func (rc *RoundContext) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*rc = RoundContext{}
	for k, v := range raw {
		switch k {
		case ServerRoundKey, LocalEpochsKey:
			f, ok := v.(float64)
			if !ok || f != float64(int(f)) {
				return fmt.Errorf("round context: %s must be an integer, got %v: %w", k, v, pkgerrors.ErrInvalidRoundContext)
			}
			if k == ServerRoundKey {
				rc.ServerRound = int(f)
			} else {
				rc.LocalEpochs = int(f)
			}
		default:
			if rc.Extras == nil {
				rc.Extras = make(map[string]any)
			}
			rc.Extras[k] = v
		}
	}

	return nil
}

// ExampleCounts are reported to the coordinator as aggregation weights.
type ExampleCounts struct {
	Trainset int `json:"trainset"`
	Valset   int `json:"valset"`
}

type FitRes struct {
	Parameters  ParameterVector
	NumExamples int
	Metrics     *Metrics
}

type EvaluateRes struct {
	Loss        float64
	NumExamples int
	Metrics     *Metrics
}

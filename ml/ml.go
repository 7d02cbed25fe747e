// Package ml defines the capabilities the federated client expects from a
// model and a data module.
package ml

import (
	"github.com/absmach/flclient/pkg/fl"
	"gonum.org/v1/gonum/mat"
)

// Stages accepted by DataModule.Setup.
const (
	StageFit      = "fit"
	StageValidate = "validate"
)

// Batch is a mini-batch of examples: one row of Features per label.
type Batch struct {
	Features *mat.Dense
	Labels   []int
}

func (b Batch) Size() int {
	return len(b.Labels)
}

// StepOutput is the result of a single forward (and optionally backward) pass.
// Grads follow the order of Model.Parameters and are nil for validation steps.
type StepOutput struct {
	Loss    float64
	Correct int
	Count   int
	Grads   []fl.Tensor
}

type Model interface {
	// Parameters returns the live parameter tensors in canonical order.
	// Their data slices alias the model's memory.
	Parameters() []fl.NamedTensor

	// LoadStateDict copies state into the model. With strict set, names,
	// count and shapes must match Parameters exactly.
	LoadStateDict(state []fl.NamedTensor, strict bool) error

	ConfigureOptimizer() (Optimizer, error)

	TrainingStep(b Batch) (StepOutput, error)
	ValidationStep(b Batch) (StepOutput, error)
}

// Optimizer updates model parameters in place from gradients.
type Optimizer interface {
	Step(grads []fl.Tensor) error
}

// Loader is a resettable cursor over batches.
type Loader interface {
	// Len is the number of batches in one full pass.
	Len() int
	Reset()
	Next() (Batch, bool)
}

type DataModule interface {
	Setup(stage string) error
	TrainLoader() (Loader, error)
	ValLoader() (Loader, error)
}

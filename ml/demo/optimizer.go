package demo

import (
	"fmt"

	"github.com/absmach/flclient/ml"
	pkgerrors "github.com/absmach/flclient/pkg/errors"
	"github.com/absmach/flclient/pkg/fl"
)

// SGD is stochastic gradient descent with momentum and L2 weight decay.
// Velocity buffers survive parameter reloads, so momentum carries across rounds.
type SGD struct {
	params      []fl.NamedTensor
	lr          float64
	momentum    float64
	weightDecay float64
	velocity    [][]float64
}

var _ ml.Optimizer = (*SGD)(nil)

func NewSGD(params []fl.NamedTensor, lr, momentum, weightDecay float64) (*SGD, error) {
	if lr <= 0 {
		return nil, fmt.Errorf("sgd: lr must be positive, got %g: %w", lr, pkgerrors.ErrInvalidValue)
	}

	velocity := make([][]float64, len(params))
	for i, p := range params {
		velocity[i] = make([]float64, len(p.Data))
	}

	return &SGD{
		params:      params,
		lr:          lr,
		momentum:    momentum,
		weightDecay: weightDecay,
		velocity:    velocity,
	}, nil
}

func (o *SGD) Step(grads []fl.Tensor) error {
	if len(grads) != len(o.params) {
		return fmt.Errorf("sgd: got %d gradients for %d parameters: %w", len(grads), len(o.params), pkgerrors.ErrParameterMismatch)
	}
	for i, g := range grads {
		if len(g.Data) != len(o.params[i].Data) {
			return fmt.Errorf("sgd: gradient for %q has %d values, want %d: %w", o.params[i].Name, len(g.Data), len(o.params[i].Data), pkgerrors.ErrParameterMismatch)
		}
	}

	for i, g := range grads {
		p, v := o.params[i].Data, o.velocity[i]
		for j, d := range g.Data {
			d += o.weightDecay * p[j]
			if o.momentum > 0 {
				v[j] = o.momentum*v[j] + d
				d = v[j]
			}
			p[j] -= o.lr * d
		}
	}

	return nil
}

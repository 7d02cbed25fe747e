// Package loops holds the default training and evaluation passes run by
// the protocol handler.
package loops

import (
	"context"
	"fmt"

	"github.com/absmach/flclient/fabric"
	"github.com/absmach/flclient/ml"
	pkgerrors "github.com/absmach/flclient/pkg/errors"
	"github.com/absmach/flclient/pkg/fl"
)

const AccuracyKey = "accuracy"

// Train runs epochs passes over train, stepping opt after every batch. It
// reports the example-weighted loss and accuracy of the last epoch.
func Train(ctx context.Context, f *fabric.Fabric, model ml.Model, train *fabric.Loader, opt ml.Optimizer, epochs int) (*fl.Metrics, error) {
	if epochs <= 0 {
		return nil, fmt.Errorf("train: epochs must be positive, got %d: %w", epochs, pkgerrors.ErrInvalidValue)
	}

	var acc accumulator
	for epoch := range epochs {
		acc = accumulator{}
		err := train.Each(ctx, func(b ml.Batch) error {
			out, err := model.TrainingStep(b)
			if err != nil {
				return err
			}
			if err := opt.Step(out.Grads); err != nil {
				return err
			}
			acc.add(out)

			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("train: epoch %d on %s: %w", epoch+1, f.Device(), err)
		}
	}

	m := fl.NewMetrics()
	m.Set(fl.LossKey, acc.loss())
	m.Set(AccuracyKey, acc.accuracy())

	return m, nil
}

// Evaluate runs one pass over val without updating the model.
func Evaluate(ctx context.Context, f *fabric.Fabric, model ml.Model, val *fabric.Loader) (*fl.Metrics, error) {
	var acc accumulator
	err := val.Each(ctx, func(b ml.Batch) error {
		out, err := model.ValidationStep(b)
		if err != nil {
			return err
		}
		acc.add(out)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate on %s: %w", f.Device(), err)
	}

	m := fl.NewMetrics()
	m.Set(AccuracyKey, acc.accuracy())
	m.Set(fl.LossKey, acc.loss())

	return m, nil
}

type accumulator struct {
	lossSum float64
	correct int
	count   int
}

func (a *accumulator) add(out ml.StepOutput) {
	a.lossSum += out.Loss * float64(out.Count)
	a.correct += out.Correct
	a.count += out.Count
}

func (a accumulator) loss() float64 {
	if a.count == 0 {
		return 0
	}

	return a.lossSum / float64(a.count)
}

func (a accumulator) accuracy() float64 {
	if a.count == 0 {
		return 0
	}

	return float64(a.correct) / float64(a.count)
}

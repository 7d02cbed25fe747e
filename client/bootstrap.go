package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/absmach/flclient"
	"github.com/absmach/flclient/fabric"
	"github.com/absmach/flclient/ml"
	pkgerrors "github.com/absmach/flclient/pkg/errors"
	"github.com/absmach/flclient/pkg/fl"
	"github.com/absmach/flclient/registry"
)

// Build instantiates the data module and model named in cfg, prepares the
// data for fitting and returns a handler in the Constructed state. Both
// splits must yield at least one batch.
func Build(ctx context.Context, cfg flclient.Config, reg *registry.Registry, opts ...Option) (*Handler, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bc := registry.BuildContext{RootDir: cfg.RootDir}

	dataFactory, err := reg.DataModule(cfg.Data.Name)
	if err != nil {
		return nil, err
	}
	data, err := dataFactory.New(cfg.Data.Config, bc)
	if err != nil {
		return nil, fmt.Errorf("failed to build data module %q: %w", cfg.Data.Name, err)
	}
	if err := data.Setup(ml.StageFit); err != nil {
		return nil, fmt.Errorf("data module %q setup: %w: %w", cfg.Data.Name, pkgerrors.ErrDataSetup, err)
	}

	counts, err := countExamples(data)
	if err != nil {
		return nil, fmt.Errorf("data module %q: %w", cfg.Data.Name, err)
	}

	modelFactory, err := reg.Model(cfg.Model.Name)
	if err != nil {
		return nil, err
	}
	model, err := modelFactory.New(cfg.Model.Config, bc)
	if err != nil {
		return nil, fmt.Errorf("failed to build model %q: %w", cfg.Model.Name, err)
	}

	fab, err := fabric.New(cfg.Fabric)
	if err != nil {
		return nil, err
	}

	h, err := NewHandler(cfg.CID, model, data, counts, fab, cfg.PreTrainVal, opts...)
	if err != nil {
		return nil, err
	}
	h.logger.Debug("client built",
		slog.Int("cid", cfg.CID),
		slog.String("model", cfg.Model.Name),
		slog.String("data", cfg.Data.Name),
		slog.String("accelerator", cfg.Fabric.Accelerator),
	)

	return h, nil
}

// countExamples measures both splits in batches, the unit the data loaders
// report their length in.
func countExamples(data ml.DataModule) (fl.ExampleCounts, error) {
	train, err := data.TrainLoader()
	if err != nil {
		return fl.ExampleCounts{}, fmt.Errorf("train loader: %w: %w", pkgerrors.ErrDataSetup, err)
	}
	val, err := data.ValLoader()
	if err != nil {
		return fl.ExampleCounts{}, fmt.Errorf("val loader: %w: %w", pkgerrors.ErrDataSetup, err)
	}

	counts := fl.ExampleCounts{Trainset: train.Len(), Valset: val.Len()}
	if counts.Trainset == 0 || counts.Valset == 0 {
		return counts, fmt.Errorf("empty split (trainset=%d, valset=%d): %w", counts.Trainset, counts.Valset, pkgerrors.ErrDataSetup)
	}

	return counts, nil
}

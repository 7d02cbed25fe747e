// Package fabric is the execution context of the client: it resolves the
// accelerator, binds the model and optimizer to it and manages the data
// loaders across passes.
package fabric

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/absmach/flclient/ml"
	pkgerrors "github.com/absmach/flclient/pkg/errors"
	"github.com/absmach/flclient/pkg/fl"
)

const (
	AcceleratorAuto = "auto"
	AcceleratorCPU  = "cpu"

	DefaultStrategy  = "auto"
	DefaultPrecision = "64-true"
)

var (
	Accelerators = []string{AcceleratorAuto, AcceleratorCPU, "gpu", "cuda", "mps", "tpu"}

	errNotLaunched = errors.New("fabric not launched")
)

type Config struct {
	Accelerator string  `json:"accelerator"`
	Devices     Devices `json:"devices"`
	Strategy    string  `json:"strategy"`
	Precision   string  `json:"precision"`
}

func (c Config) Validate() error {
	if c.Accelerator == "" {
		return fmt.Errorf("accelerator is required but missing: %w", pkgerrors.ErrMissingValue)
	}
	if !slices.Contains(Accelerators, c.Accelerator) {
		return fmt.Errorf("accelerator %q is not one of %v: %w", c.Accelerator, Accelerators, pkgerrors.ErrInvalidValue)
	}

	return c.Devices.Validate()
}

// Fabric is created once per client and injected into the protocol handler.
type Fabric struct {
	cfg      Config
	device   string
	launched bool
}

func New(cfg Config) (*Fabric, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("fabric: %w", err)
	}
	if cfg.Strategy == "" {
		cfg.Strategy = DefaultStrategy
	}
	if cfg.Precision == "" {
		cfg.Precision = DefaultPrecision
	}

	return &Fabric{cfg: cfg}, nil
}

func (f *Fabric) Config() Config {
	return f.cfg
}

// Device is the resolved device name, empty until Launch.
func (f *Fabric) Device() string {
	return f.device
}

// Launch resolves the accelerator. Only the host backend is available.
func (f *Fabric) Launch(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch f.cfg.Accelerator {
	case AcceleratorAuto, AcceleratorCPU:
		f.device = AcceleratorCPU
	default:
		return fmt.Errorf("fabric: accelerator %q: %w", f.cfg.Accelerator, pkgerrors.ErrAcceleratorUnavailable)
	}
	f.launched = true

	return nil
}

// Setup binds the model and optimizer to the execution context.
func (f *Fabric) Setup(model ml.Model, opt ml.Optimizer) (*Module, *Optimizer, error) {
	if !f.launched {
		return nil, nil, errNotLaunched
	}

	return &Module{Model: model, device: f.device}, &Optimizer{Optimizer: opt}, nil
}

func (f *Fabric) SetupDataloaders(loaders ...ml.Loader) ([]*Loader, error) {
	if !f.launched {
		return nil, errNotLaunched
	}

	out := make([]*Loader, len(loaders))
	for i, l := range loaders {
		out[i] = &Loader{Loader: l}
	}

	return out, nil
}

// Module is a model bound to a device.
type Module struct {
	ml.Model
	device string
}

func (m *Module) Device() string {
	return m.device
}

// Optimizer counts the steps it applies.
type Optimizer struct {
	ml.Optimizer
	steps atomic.Uint64
}

func (o *Optimizer) Step(grads []fl.Tensor) error {
	if err := o.Optimizer.Step(grads); err != nil {
		return err
	}
	o.steps.Add(1)

	return nil
}

func (o *Optimizer) Steps() uint64 {
	return o.steps.Load()
}

// Loader rewinds the wrapped loader before each pass.
type Loader struct {
	ml.Loader
	passes int
}

// Each runs fn on every batch of one full pass. Context cancellation is
// checked between batches.
func (l *Loader) Each(ctx context.Context, fn func(ml.Batch) error) error {
	l.Reset()
	l.passes++
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, ok := l.Next()
		if !ok {
			return nil
		}
		if err := fn(b); err != nil {
			return err
		}
	}
}

func (l *Loader) Passes() int {
	return l.passes
}

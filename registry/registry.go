// Package registry maps model and data module names to their factories.
package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"github.com/absmach/flclient/ml"
	pkgerrors "github.com/absmach/flclient/pkg/errors"
	"github.com/absmach/flclient/pkg/schema"
)

type Kind string

const (
	KindModel      Kind = "model"
	KindDataModule Kind = "datamodule"
)

// BuildContext carries client-wide settings a factory may need.
type BuildContext struct {
	RootDir string
}

// Factory decodes and validates the payload of a tagged component config.
// Payload violations are reported as a *schema.Error whose paths are
// relative to the payload.
type Factory interface {
	Decode(raw map[string]any) (any, error)
}

type ModelFactory struct {
	decode func(raw map[string]any) (any, error)
	build  func(cfg any, bc BuildContext) (ml.Model, error)
}

func (f ModelFactory) Decode(raw map[string]any) (any, error) {
	return f.decode(raw)
}

// New builds a model from a payload returned by Decode.
func (f ModelFactory) New(cfg any, bc BuildContext) (ml.Model, error) {
	return f.build(cfg, bc)
}

type DataModuleFactory struct {
	decode func(raw map[string]any) (any, error)
	build  func(cfg any, bc BuildContext) (ml.DataModule, error)
}

func (f DataModuleFactory) Decode(raw map[string]any) (any, error) {
	return f.decode(raw)
}

func (f DataModuleFactory) New(cfg any, bc BuildContext) (ml.DataModule, error) {
	return f.build(cfg, bc)
}

// Model builds a ModelFactory whose payload is checked against s and then
// decoded into C, starting from defaults. A nil s only rejects keys C does
// not declare.
func Model[C any, M ml.Model](s *schema.Schema, defaults C, fn func(C, BuildContext) (M, error)) ModelFactory {
	return ModelFactory{
		decode: func(raw map[string]any) (any, error) {
			return decode(s, defaults, raw)
		},
		build: func(cfg any, bc BuildContext) (ml.Model, error) {
			c, ok := cfg.(C)
			if !ok {
				return nil, fmt.Errorf("model config has type %T, want %T: %w", cfg, defaults, pkgerrors.ErrInvalidValue)
			}
			m, err := fn(c, bc)
			if err != nil {
				return nil, err
			}

			return m, nil
		},
	}
}

func DataModule[C any, D ml.DataModule](s *schema.Schema, defaults C, fn func(C, BuildContext) (D, error)) DataModuleFactory {
	return DataModuleFactory{
		decode: func(raw map[string]any) (any, error) {
			return decode(s, defaults, raw)
		},
		build: func(cfg any, bc BuildContext) (ml.DataModule, error) {
			c, ok := cfg.(C)
			if !ok {
				return nil, fmt.Errorf("data module config has type %T, want %T: %w", cfg, defaults, pkgerrors.ErrInvalidValue)
			}
			d, err := fn(c, bc)
			if err != nil {
				return nil, err
			}

			return d, nil
		},
	}
}

// Registry is populated once at process start and read-only afterwards.
type Registry struct {
	models      map[string]ModelFactory
	dataModules map[string]DataModuleFactory
}

func New() *Registry {
	return &Registry{
		models:      make(map[string]ModelFactory),
		dataModules: make(map[string]DataModuleFactory),
	}
}

func (r *Registry) RegisterModel(name string, f ModelFactory) *Registry {
	r.models[name] = f

	return r
}

func (r *Registry) RegisterDataModule(name string, f DataModuleFactory) *Registry {
	r.dataModules[name] = f

	return r
}

// Resolve returns the factory registered under name for kind.
func (r *Registry) Resolve(kind Kind, name string) (Factory, error) {
	switch kind {
	case KindModel:
		return r.Model(name)
	case KindDataModule:
		return r.DataModule(name)
	default:
		return nil, fmt.Errorf("component kind %q: %w", kind, pkgerrors.ErrUnknownComponent)
	}
}

func (r *Registry) Model(name string) (ModelFactory, error) {
	f, ok := r.models[name]
	if !ok {
		return ModelFactory{}, fmt.Errorf("model %q is not registered (known: %v): %w", name, r.Names(KindModel), pkgerrors.ErrUnknownComponent)
	}

	return f, nil
}

func (r *Registry) DataModule(name string) (DataModuleFactory, error) {
	f, ok := r.dataModules[name]
	if !ok {
		return DataModuleFactory{}, fmt.Errorf("datamodule %q is not registered (known: %v): %w", name, r.Names(KindDataModule), pkgerrors.ErrUnknownComponent)
	}

	return f, nil
}

// Names lists the registered names of kind in lexical order.
func (r *Registry) Names(kind Kind) []string {
	var names []string
	switch kind {
	case KindModel:
		for name := range r.models {
			names = append(names, name)
		}
	case KindDataModule:
		for name := range r.dataModules {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return names
}

func (r *Registry) Has(kind Kind, name string) bool {
	return slices.Contains(r.Names(kind), name)
}

type validator interface {
	Validate() error
}

func decode[C any](s *schema.Schema, defaults C, raw map[string]any) (C, error) {
	cfg := defaults
	if raw == nil {
		raw = map[string]any{}
	}

	data, err := payload(s, raw)
	if err != nil {
		return cfg, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}

	if v, ok := any(cfg).(validator); ok {
		if err := v.Validate(); err != nil {
			return cfg, err
		}
	}

	return cfg, nil
}

func payload(s *schema.Schema, raw map[string]any) ([]byte, error) {
	if s == nil {
		return json.Marshal(raw)
	}

	data, violations := s.Apply(raw)
	if len(violations) > 0 {
		return nil, &schema.Error{Violations: violations}
	}

	return data, nil
}

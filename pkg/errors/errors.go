package errors

import "errors"

var (
	// ErrConfigValidation indicates that the client configuration failed validation.
	ErrConfigValidation = errors.New("invalid client configuration")

	// ErrUnknownComponent indicates that a model or data module name is not registered.
	ErrUnknownComponent = errors.New("unknown component")

	// ErrDataSetup indicates that a data module produced empty or invalid loaders.
	ErrDataSetup = errors.New("data setup failed")

	// ErrParameterMismatch indicates that a parameter vector does not match the model.
	ErrParameterMismatch = errors.New("parameter mismatch")

	// ErrEvaluation indicates that a training or evaluation pass reported no
	// loss or a metric that is not a finite number.
	ErrEvaluation = errors.New("evaluation failed")

	ErrNotInitialized         = errors.New("handler not initialized")
	ErrTerminated             = errors.New("handler terminated")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrMetricCollision        = errors.New("metric key collision")
	ErrInvalidRoundContext    = errors.New("invalid round context")
	ErrAcceleratorUnavailable = errors.New("accelerator unavailable")
	ErrUnsupportedFormat      = errors.New("unsupported parameter format")
	ErrMissingValue           = errors.New("missing value")
	ErrInvalidValue           = errors.New("invalid value")
	ErrMalformedInstruction   = errors.New("malformed instruction")
)

package client

import (
	"fmt"
	"slices"

	pkgerrors "github.com/absmach/flclient/pkg/errors"
)

type State uint8

const (
	Constructed State = iota
	Initialized
	Fitting
	Evaluating
	Terminated
)

func (s State) String() string {
	switch s {
	case Constructed:
		return "Constructed"
	case Initialized:
		return "Initialized"
	case Fitting:
		return "Fitting"
	case Evaluating:
		return "Evaluating"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Fitting and Evaluating are transient: every RPC returns to Initialized.
var validTransitions = map[State][]State{
	Constructed: {Initialized, Terminated},
	Initialized: {Fitting, Evaluating, Terminated},
	Fitting:     {Initialized},
	Evaluating:  {Initialized},
	Terminated:  {},
}

func validateTransition(from, to State) error {
	if slices.Contains(validTransitions[from], to) {
		return nil
	}

	switch from {
	case Constructed:
		return fmt.Errorf("%s -> %s: %w", from, to, pkgerrors.ErrNotInitialized)
	case Terminated:
		return fmt.Errorf("%s -> %s: %w", from, to, pkgerrors.ErrTerminated)
	default:
		return fmt.Errorf("%s -> %s: %w", from, to, pkgerrors.ErrInvalidStateTransition)
	}
}

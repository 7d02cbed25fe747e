package client

import (
	"context"
	"errors"
	"fmt"
)

// Start initializes h, wraps it with middlewares (outermost last) and hands
// it to t for the lifetime of the session. The handler is terminated when
// the session ends, whatever the outcome.
func Start(ctx context.Context, h *Handler, t Transport, address string, middlewares ...Middleware) error {
	if h == nil || t == nil {
		return errors.New("session requires a handler and a transport")
	}

	if err := h.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize client: %w", err)
	}
	defer h.Terminate()

	var svc Service = h
	for _, mw := range middlewares {
		svc = mw(svc)
	}

	if err := t.Serve(ctx, address, svc); err != nil {
		return fmt.Errorf("session with %s ended: %w", address, err)
	}

	return nil
}

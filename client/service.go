package client

import (
	"context"

	"github.com/absmach/flclient/pkg/fl"
)

// Service is the RPC surface the coordinator drives through a transport.
type Service interface {
	GetParameters(ctx context.Context) (fl.ParameterVector, error)
	Fit(ctx context.Context, params fl.ParameterVector, rc fl.RoundContext) (fl.FitRes, error)
	Evaluate(ctx context.Context, params fl.ParameterVector, rc fl.RoundContext) (fl.EvaluateRes, error)
}

// Middleware decorates a Service with a cross-cutting concern.
type Middleware func(Service) Service

// Transport connects to the coordinator and serves RPCs on svc until the
// coordinator disconnects or ctx is done.
type Transport interface {
	Serve(ctx context.Context, address string, svc Service) error
}

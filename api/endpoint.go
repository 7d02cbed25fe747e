package api

import (
	"context"

	"github.com/absmach/flclient/client"
	"github.com/go-kit/kit/endpoint"
)

// StatusService reports the current state of the protocol handler.
type StatusService interface {
	Status() client.Status
}

func MakeStatusEndpoint(svc StatusService) endpoint.Endpoint {
	return func(_ context.Context, _ interface{}) (interface{}, error) {
		return statusRes{Status: svc.Status()}, nil
	}
}

func MakeHealthEndpoint(svc StatusService, version string) endpoint.Endpoint {
	return func(_ context.Context, _ interface{}) (interface{}, error) {
		s := svc.Status()
		res := healthRes{
			Status:  "pass",
			Version: version,
			State:   s.State,
		}
		if s.State == client.Terminated.String() {
			res.Status = "fail"
		}

		return res, nil
	}
}

// Package api exposes the local status of a running client over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const contentType = "application/json"

type coder interface {
	Code() int
}

// MakeHandler serves /status, /health and /metrics. Requests are traced and
// HTTP/2 is accepted in clear text.
func MakeHandler(svc StatusService, version string) http.Handler {
	opts := []kithttp.ServerOption{}

	mux := chi.NewRouter()
	mux.Get("/status", kithttp.NewServer(
		MakeStatusEndpoint(svc),
		decodeEmptyRequest,
		encodeResponse,
		opts...,
	).ServeHTTP)
	mux.Get("/health", kithttp.NewServer(
		MakeHealthEndpoint(svc, version),
		decodeEmptyRequest,
		encodeResponse,
		opts...,
	).ServeHTTP)
	mux.Handle("/metrics", promhttp.Handler())

	return h2c.NewHandler(otelhttp.NewHandler(mux, "flclient-status"), &http2.Server{})
}

func decodeEmptyRequest(_ context.Context, _ *http.Request) (interface{}, error) {
	return nil, nil
}

func encodeResponse(_ context.Context, w http.ResponseWriter, response interface{}) error {
	w.Header().Set("Content-Type", contentType)
	if c, ok := response.(coder); ok {
		w.WriteHeader(c.Code())
	}

	return json.NewEncoder(w).Encode(response)
}

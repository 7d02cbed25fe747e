package tracing_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/absmach/flclient/pkg/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

type collector struct {
	mu    sync.Mutex
	paths []string
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.paths = append(c.paths, r.URL.Path)
	c.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (c *collector) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string{}, c.paths...)
}

func TestNewProviderExportsSpans(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	c := &collector{}
	srv := httptest.NewServer(c)
	defer srv.Close()

	ctx := context.Background()
	tp, err := tracing.NewProvider(ctx, "flclient", srv.URL+"/v1/traces", "calm-river", 1)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(ctx, "fit")
	assert.True(t, span.SpanContext().IsSampled())
	span.End()

	require.NoError(t, tp.Shutdown(ctx))
	assert.Contains(t, c.received(), "/v1/traces")
}

func TestNewProviderSamplesNothingAtZero(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	c := &collector{}
	srv := httptest.NewServer(c)
	defer srv.Close()

	ctx := context.Background()
	tp, err := tracing.NewProvider(ctx, "flclient", srv.URL+"/v1/traces", "", 0)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(ctx, "evaluate")
	assert.False(t, span.SpanContext().IsSampled())
	span.End()

	require.NoError(t, tp.Shutdown(ctx))
	assert.Empty(t, c.received())
}

func TestNewProviderErrors(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		desc     string
		svc      string
		url      string
		fraction float64
	}{
		{desc: "missing url", svc: "flclient", fraction: 1},
		{desc: "missing service name", url: "http://localhost:4318/v1/traces", fraction: 1},
		{desc: "fraction above one", svc: "flclient", url: "http://localhost:4318/v1/traces", fraction: 1.5},
		{desc: "negative fraction", svc: "flclient", url: "http://localhost:4318/v1/traces", fraction: -0.1},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			tp, err := tracing.NewProvider(ctx, tc.svc, tc.url, "", tc.fraction)
			assert.Error(t, err)
			assert.Nil(t, tp)
		})
	}
}

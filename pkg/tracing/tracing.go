// Package tracing installs the process-wide OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

var (
	errNoURL     = errors.New("no OTLP collector URL specified")
	errNoSvcName = errors.New("no service name specified")
	errFraction  = errors.New("sampling fraction must be within [0, 1]")
)

// NewProvider exports spans over OTLP/HTTP to url, e.g.
// "http://collector:4318/v1/traces", sampling the given fraction of traces.
// The provider and the W3C trace context propagator are installed globally;
// callers must Shutdown the provider to flush pending spans.
func NewProvider(ctx context.Context, svcName, url, instanceID string, fraction float64) (*sdktrace.TracerProvider, error) {
	if url == "" {
		return nil, errNoURL
	}
	if svcName == "" {
		return nil, errNoSvcName
	}
	if fraction < 0 || fraction > 1 {
		return nil, fmt.Errorf("%w, got %g", errFraction, fraction)
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(url))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(svcName)}
	if instanceID != "" {
		attrs = append(attrs, semconv.ServiceInstanceIDKey.String(instanceID))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(fraction))),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(semconv.SchemaURL, attrs...)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, nil
}

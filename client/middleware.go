package client

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/absmach/flclient/pkg/fl"
	"github.com/absmach/flclient/pkg/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	methodGetParameters = "get_parameters"
	methodFit           = "fit"
	methodEvaluate      = "evaluate"
)

var _ Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    Service
}

func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(svc Service) Service {
		return &loggingMiddleware{logger: logger, svc: svc}
	}
}

func (lm *loggingMiddleware) GetParameters(ctx context.Context) (pv fl.ParameterVector, err error) {
	defer func(begin time.Time) {
		lm.log(methodGetParameters, begin, err, slog.Int("tensors", len(pv)))
	}(time.Now())

	return lm.svc.GetParameters(ctx)
}

func (lm *loggingMiddleware) Fit(ctx context.Context, params fl.ParameterVector, rc fl.RoundContext) (res fl.FitRes, err error) {
	defer func(begin time.Time) {
		lm.log(methodFit, begin, err,
			slog.Int("server_round", rc.ServerRound),
			slog.Int("local_epochs", rc.LocalEpochs),
			slog.Int("num_examples", res.NumExamples),
		)
	}(time.Now())

	return lm.svc.Fit(ctx, params, rc)
}

func (lm *loggingMiddleware) Evaluate(ctx context.Context, params fl.ParameterVector, rc fl.RoundContext) (res fl.EvaluateRes, err error) {
	defer func(begin time.Time) {
		lm.log(methodEvaluate, begin, err,
			slog.Int("server_round", rc.ServerRound),
			slog.Float64("loss", res.Loss),
			slog.Int("num_examples", res.NumExamples),
		)
	}(time.Now())

	return lm.svc.Evaluate(ctx, params, rc)
}

func (lm *loggingMiddleware) log(method string, begin time.Time, err error, attrs ...slog.Attr) {
	args := []any{slog.String("method", method), slog.String("duration", time.Since(begin).String())}
	if err != nil {
		args = append(args, slog.Any("error", err))
		lm.logger.Warn("rpc failed", args...)

		return
	}
	for _, a := range attrs {
		args = append(args, a)
	}
	lm.logger.Info("rpc completed", args...)
}

var _ Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	cid string
	svc Service
}

// MetricsMiddleware records RPC counts and latencies for client cid.
func MetricsMiddleware(cid int) Middleware {
	return func(svc Service) Service {
		return &metricsMiddleware{cid: strconv.Itoa(cid), svc: svc}
	}
}

func (mm *metricsMiddleware) GetParameters(ctx context.Context) (fl.ParameterVector, error) {
	defer mm.observe(methodGetParameters, time.Now())
	pv, err := mm.svc.GetParameters(ctx)
	mm.count(methodGetParameters, err)

	return pv, err
}

func (mm *metricsMiddleware) Fit(ctx context.Context, params fl.ParameterVector, rc fl.RoundContext) (fl.FitRes, error) {
	defer mm.observe(methodFit, time.Now())
	res, err := mm.svc.Fit(ctx, params, rc)
	mm.count(methodFit, err)

	return res, err
}

func (mm *metricsMiddleware) Evaluate(ctx context.Context, params fl.ParameterVector, rc fl.RoundContext) (fl.EvaluateRes, error) {
	defer mm.observe(methodEvaluate, time.Now())
	res, err := mm.svc.Evaluate(ctx, params, rc)
	mm.count(methodEvaluate, err)

	return res, err
}

func (mm *metricsMiddleware) observe(method string, begin time.Time) {
	metrics.RPCDuration.WithLabelValues(mm.cid, method).Observe(time.Since(begin).Seconds())
}

func (mm *metricsMiddleware) count(method string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.RPCTotal.WithLabelValues(mm.cid, method, status).Inc()
}

var _ Service = (*tracingMiddleware)(nil)

type tracingMiddleware struct {
	tracer trace.Tracer
	svc    Service
}

func TracingMiddleware(tracer trace.Tracer) Middleware {
	return func(svc Service) Service {
		return &tracingMiddleware{tracer: tracer, svc: svc}
	}
}

func (tm *tracingMiddleware) GetParameters(ctx context.Context) (fl.ParameterVector, error) {
	ctx, span := tm.tracer.Start(ctx, methodGetParameters)
	defer span.End()

	pv, err := tm.svc.GetParameters(ctx)
	record(span, err)

	return pv, err
}

func (tm *tracingMiddleware) Fit(ctx context.Context, params fl.ParameterVector, rc fl.RoundContext) (fl.FitRes, error) {
	ctx, span := tm.tracer.Start(ctx, methodFit, trace.WithAttributes(
		attribute.Int("server_round", rc.ServerRound),
		attribute.Int("local_epochs", rc.LocalEpochs),
		attribute.Int("tensors", len(params)),
	))
	defer span.End()

	res, err := tm.svc.Fit(ctx, params, rc)
	record(span, err)

	return res, err
}

func (tm *tracingMiddleware) Evaluate(ctx context.Context, params fl.ParameterVector, rc fl.RoundContext) (fl.EvaluateRes, error) {
	ctx, span := tm.tracer.Start(ctx, methodEvaluate, trace.WithAttributes(
		attribute.Int("server_round", rc.ServerRound),
		attribute.Int("tensors", len(params)),
	))
	defer span.End()

	res, err := tm.svc.Evaluate(ctx, params, rc)
	if err == nil {
		span.SetAttributes(attribute.Float64("loss", res.Loss))
	}
	record(span, err)

	return res, err
}

func record(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

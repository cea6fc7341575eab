// Package telemetry reports battery progress through OpenTelemetry. Each run,
// group and case becomes a span; cases are also counted and timed.
//
// Usage:
//
//	shutdown, _ := telemetry.Setup(os.Stderr)
//	defer shutdown(context.Background())
//	cfg.Hooks = append(cfg.Hooks, telemetry.NewHook(telemetry.DefaultConfig()))
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stringintech/rpc-autotester/autotest"
)

const instrumentationName = "rpc_autotester"

// Config configures the hook
type Config struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// EnableMetrics enables the case counter and duration histogram
	EnableMetrics bool
	// RecordExceptions calls RecordError on the span of a failed case
	RecordExceptions bool
	// X, when set, names the error class of failed cases
	X *autotest.Exceptions
}

// DefaultConfig returns a Config that uses the global providers
func DefaultConfig() Config {
	return Config{
		EnableMetrics:    true,
		RecordExceptions: true,
	}
}

// Hook implements autotest.Hook and autotest.RunHook
type Hook struct {
	cfg    Config
	tracer trace.Tracer

	caseCounter       metric.Int64Counter
	durationHistogram metric.Float64Histogram
}

var (
	_ autotest.Hook    = (*Hook)(nil)
	_ autotest.RunHook = (*Hook)(nil)
)

// NewHook creates a hook from cfg
func NewHook(cfg Config) *Hook {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}

	h := &Hook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}
	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		h.caseCounter, _ = meter.Int64Counter("autotest.cases",
			metric.WithUnit("{case}"),
			metric.WithDescription("Number of battery cases run"),
		)
		h.durationHistogram, _ = meter.Float64Histogram("autotest.case.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of battery cases"),
		)
	}
	return h
}

type startKey struct{}

func (h *Hook) OnRunStart(ctx context.Context) context.Context {
	ctx, _ = h.tracer.Start(ctx, "autotest")
	return ctx
}

func (h *Hook) OnRunEnd(ctx context.Context, summary *autotest.Summary) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Int("autotest.groups", len(summary.Groups)),
		attribute.Int("autotest.cases", summary.TotalCases()),
	)
	h.endSpan(span, summary.Err)
}

func (h *Hook) OnGroupStart(ctx context.Context, info autotest.GroupInfo) context.Context {
	ctx, _ = h.tracer.Start(ctx, "autotest/group",
		trace.WithAttributes(
			attribute.String("autotest.group", info.Name),
			attribute.String("autotest.client", info.Client),
		),
	)
	return ctx
}

func (h *Hook) OnGroupEnd(ctx context.Context, _ autotest.GroupInfo, err error) {
	h.endSpan(trace.SpanFromContext(ctx), err)
}

func (h *Hook) OnCaseStart(ctx context.Context, info autotest.CaseInfo) context.Context {
	ctx, _ = h.tracer.Start(ctx, fmt.Sprintf("autotest/%s %s", info.Kind, info.Method),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(caseAttributes(info)...),
	)
	return context.WithValue(ctx, startKey{}, time.Now())
}

func (h *Hook) OnCaseEnd(ctx context.Context, info autotest.CaseInfo, err error) {
	status := "passed"
	if err != nil {
		status = "failed"
	}

	if h.cfg.EnableMetrics {
		attrs := metric.WithAttributes(
			attribute.String("autotest.client", info.Group.Client),
			attribute.String("autotest.kind", info.Kind),
			attribute.Bool("autotest.negative", info.Negative),
			attribute.String("status", status),
		)
		if h.caseCounter != nil {
			h.caseCounter.Add(ctx, 1, attrs)
		}
		if start, ok := ctx.Value(startKey{}).(time.Time); ok && h.durationHistogram != nil {
			h.durationHistogram.Record(ctx, time.Since(start).Seconds(), attrs)
		}
	}

	span := trace.SpanFromContext(ctx)
	if err != nil && span.IsRecording() && h.cfg.X != nil {
		if name, ok := h.cfg.X.Classify(err); ok {
			span.SetAttributes(attribute.String("autotest.error_class", name))
		}
	}
	h.endSpan(span, err)
}

func (h *Hook) endSpan(span trace.Span, err error) {
	if !span.IsRecording() {
		return
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if h.cfg.RecordExceptions {
			span.RecordError(err)
		}
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func caseAttributes(info autotest.CaseInfo) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("rpc.method", info.Method),
		attribute.String("autotest.group", info.Group.Name),
		attribute.String("autotest.client", info.Group.Client),
		attribute.String("autotest.kind", info.Kind),
		attribute.Int("autotest.index", info.Index),
		attribute.Bool("autotest.proxy", info.Proxy),
		attribute.Bool("autotest.negative", info.Negative),
	}
}

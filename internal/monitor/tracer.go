package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "codeexec"

// Tracer wraps OpenTelemetry tracing for the execution engine.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer using the global TracerProvider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartSpan creates a new span and returns the updated context.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, fmt.Sprintf("codeexec.%s", name),
		trace.WithAttributes(attrs...),
	)
}

// EndSpan marks span as failed when err is non-nil and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// SpanFromContext returns the current span from the context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// Common attribute keys for engine tracing.
var (
	AttrJobID      = attribute.Key("codeexec.job.id")
	AttrLanguage   = attribute.Key("codeexec.language")
	AttrStatus     = attribute.Key("codeexec.status")
	AttrTestCases  = attribute.Key("codeexec.test_cases")
	AttrExitCode   = attribute.Key("codeexec.exit_code")
	AttrDurationMS = attribute.Key("codeexec.duration_ms")
)

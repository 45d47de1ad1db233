package monitor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// TracingOptions configures span export.
type TracingOptions struct {
	Enabled bool
	// Endpoint is an OTLP/HTTP collector address such as "localhost:4318".
	Endpoint string
	// SampleRate is the fraction of root spans kept, 0 to 1.
	SampleRate float64
	Insecure   bool
}

// SetupTracing installs a global TracerProvider exporting over OTLP/HTTP.
// When tracing is disabled the no-op global provider stays in place and the
// returned shutdown is a no-op.
func SetupTracing(ctx context.Context, opts TracingOptions) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !opts.Enabled {
		return noop, nil
	}

	clientOpts := []otlptracehttp.Option{}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, otlptracehttp.WithEndpoint(opts.Endpoint))
	}
	if opts.Insecure {
		clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, clientOpts...)
	if err != nil {
		return noop, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", tracerName))
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(clampRate(opts.SampleRate)))),
	)
	otel.SetTracerProvider(provider)

	log.Info().
		Str("endpoint", opts.Endpoint).
		Float64("sample_rate", opts.SampleRate).
		Msg("tracing enabled")
	return provider.Shutdown, nil
}

func clampRate(r float64) float64 {
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	default:
		return r
	}
}

// Package telemetry wires up OpenTelemetry tracing per SPEC_FULL.md §4.12.
// It is disabled by default; Init is only called when config.Telemetry.Enabled
// is true, so no exporter ever dials out unconfigured.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/trace"

	"github.com/sauerworld/qmaster/internal/logging"
)

// Shutdown flushes and closes the exporter. Call on process exit.
type Shutdown func(context.Context) error

// Init configures an OTLP/HTTP exporter and installs it as the global
// tracer provider, returning a Shutdown to call on exit.
func Init(ctx context.Context, serviceName string) (Shutdown, error) {
	exp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	logging.Info("telemetry: OTLP exporter initialized (service=%s)", serviceName)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}

// Tracer returns the named tracer from the global provider. Safe to call
// whether or not Init ran: the global provider defaults to a no-op one.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// NoopShutdown is used by callers that skip Init because telemetry is
// disabled, so main's defer site never needs a nil check.
func NoopShutdown(context.Context) error { return nil }

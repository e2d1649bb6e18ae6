// Package telemetry installs the OpenTelemetry tracer provider and the slog
// logger used by the binaries.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(ctx context.Context) error

// NewTracerProvider creates a TracerProvider whose finished spans are
// written to logger at debug level.
//
// The provider uses a SimpleSpanProcessor so a span is logged as soon as it
// ends, next to the log lines of the same operation.
func NewTracerProvider(serviceName, version string, logger *slog.Logger) *sdktrace.TracerProvider {
	if logger == nil {
		logger = slog.Default()
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		logger.Warn("failed to create resource, using default", "error", err)
		res = resource.Default()
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(NewLogExporter(logger))),
		sdktrace.WithResource(res),
	)
}

// Setup installs the global tracer provider and W3C propagator when enabled.
// When disabled the global no-op provider stays in place and the returned
// ShutdownFunc does nothing.
func Setup(enabled bool, serviceName, version string, logger *slog.Logger) ShutdownFunc {
	if !enabled {
		return func(context.Context) error { return nil }
	}

	tp := NewTracerProvider(serviceName, version, logger)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown
}

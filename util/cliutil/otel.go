package cliutil

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Enables the OTLP HTTP trace exporter if an endpoint is configured. The exporter reads the
// standard OTEL_EXPORTER_OTLP_* environment variables; at a minimum set
// OTEL_EXPORTER_OTLP_ENDPOINT=http://localhost:4318
//
// Returns a shutdown function, which is a no-op if tracing was not enabled.
func SetupOTEL(ctx context.Context, endpoint, serviceName, env string) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if endpoint == "" {
		return noop, nil
	}
	slog.Info("setting up trace exporter", "endpoint", endpoint)

	exp, err := otlptracehttp.New(ctx)
	if err != nil {
		return noop, err
	}
	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			attribute.String("env", env),
			attribute.String("environment", env),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

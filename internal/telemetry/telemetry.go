package telemetry

import (
	"context"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

func noop() {}

// enabled reports whether tracing was switched on via ENABLE_TELEMETRY
func enabled() bool {
	switch strings.ToLower(os.Getenv("ENABLE_TELEMETRY")) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// InitTelemetry wires the OTLP trace exporter when tracing is enabled and an
// OTEL_EXPORTER_OTLP_ENDPOINT is configured. Returns a shutdown hook, whether
// tracing is active, and any setup error; disabled tracing is not an error.
func InitTelemetry() (func(), bool, error) {
	if !enabled() {
		return noop, false, nil
	}
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return noop, false, nil
	}

	ctx := context.Background()
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return noop, false, err
	}

	service := os.Getenv("OTEL_SERVICE_NAME")
	if service == "" {
		service = "imovia-api"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(service),
			semconv.ServiceVersion(os.Getenv("OTEL_SERVICE_VERSION")),
		),
	)
	if err != nil {
		return noop, false, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return func() { provider.Shutdown(context.Background()) }, true, nil
}

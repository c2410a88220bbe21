package configs

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"

	helper "kapalku_backend/internals/helpers"
)

// InitTracer installs the global tracer provider. With no endpoint configured
// the no-op provider stays in place and the returned shutdown does nothing.
func InitTracer(ctx context.Context, cfg App) (func(context.Context) error, error) {
	if cfg.OTLPEndpoint == "" {
		helper.Logger.Info("tracing disabled (OTEL_EXPORTER_OTLP_ENDPOINT kosong)")
		return func(context.Context) error { return nil }, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exporter, err := otlptracegrpc.New(dialCtx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent(cfg.ServiceName)),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	helper.Logger.WithField("endpoint", cfg.OTLPEndpoint).Info("✅ OpenTelemetry tracer aktif")
	return tp.Shutdown, nil
}

// Package telemetry initializes OpenTelemetry tracing and metrics, adapted
// directly from libs/go/core/otelinit: OTLP/gRPC exporters, a resource
// tagged with the service name, and a periodic metric reader. Flush drains
// both exporters on shutdown the way otelinit.Flush does in main.go.
package telemetry

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Providers bundles the initialized tracer and meter providers so the
// entrypoint can hold onto them for shutdown/flush.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *metric.MeterProvider
}

// InitTracer builds a TracerProvider exporting to OTEL_EXPORTER_OTLP_ENDPOINT
// (empty disables the exporter and returns a no-exporter provider so the
// service still runs in environments with no collector).
func InitTracer(ctx context.Context, service string) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(service)))
	if err != nil {
		return nil, err
	}

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
		otel.SetTracerProvider(tp)
		return tp, nil
	}

	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// InitMetrics builds a MeterProvider with a periodic OTLP/gRPC reader, or a
// no-exporter provider when OTEL_EXPORTER_OTLP_ENDPOINT is unset.
func InitMetrics(ctx context.Context, service string) (*metric.MeterProvider, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(service)))
	if err != nil {
		return nil, err
	}

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		mp := metric.NewMeterProvider(metric.WithResource(res))
		otel.SetMeterProvider(mp)
		return mp, nil
	}

	exp, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(endpoint), otlpmetricgrpc.WithInsecure())
	if err != nil {
		return nil, err
	}

	reader := metric.NewPeriodicReader(exp, metric.WithInterval(15*time.Second))
	mp := metric.NewMeterProvider(metric.WithResource(res), metric.WithReader(reader))
	otel.SetMeterProvider(mp)
	return mp, nil
}

// Tracer returns a named tracer from the global provider, matching
// otelinit.WithSpan's usage pattern.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Flush shuts down both providers, flushing any buffered spans/metrics.
func Flush(ctx context.Context, p Providers) {
	if p.TracerProvider != nil {
		_ = p.TracerProvider.Shutdown(ctx)
	}
	if p.MeterProvider != nil {
		_ = p.MeterProvider.Shutdown(ctx)
	}
}

// Package tracing installs a process-wide OTel TracerProvider, grounded
// on the teacher's internal/agentctl/tracing package. Unlike the teacher
// (which falls back to trace/noop until OTEL_EXPORTER_OTLP_ENDPOINT is
// set), agentcore always runs the real SDK provider: with no exporter
// wired in, spans are created, attributed, and ended but never shipped
// anywhere, which is a no-op in effect while keeping otel/sdk on the
// hook for a real exporter later.
package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	initOnce sync.Once
	provider *sdktrace.TracerProvider
)

// Init installs the process-wide TracerProvider for serviceName. Safe to
// call more than once; only the first call takes effect.
func Init(serviceName string) {
	initOnce.Do(func() {
		res, err := resource.New(context.Background(), resource.WithAttributes(semconv.ServiceName(serviceName)))
		if err != nil {
			res = resource.Default()
		}
		provider = sdktrace.NewTracerProvider(sdktrace.WithResource(res))
		otel.SetTracerProvider(provider)
	})
}

// Tracer returns a named tracer from the process-wide provider. Safe to
// call before Init; otel defaults to its own no-op provider until one is
// set.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Shutdown flushes and releases the tracer provider, if one was installed.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	return provider.Shutdown(ctx)
}

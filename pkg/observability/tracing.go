// Package observability provides OpenTelemetry tracing setup for quotaflow.
// The engine creates spans around operations, chunks, and batches; callers
// that want them exported call Init once at startup.
package observability

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/quotaflow/quotaflow"

var initOnce sync.Once

// Config contains tracing configuration
type Config struct {
	// ServiceName labels exported spans
	ServiceName string
	// Enabled installs a real tracer provider; when false spans are no-ops
	Enabled bool
	// PrettyPrint renders exported spans as indented JSON
	PrettyPrint bool
}

// Init installs the global tracer provider. It returns a shutdown function
// that flushes pending spans; the function is safe to call even when
// tracing is disabled.
func Init(cfg Config) (func(context.Context) error, error) {
	shutdown := func(context.Context) error { return nil }

	if !cfg.Enabled {
		return shutdown, nil
	}

	var initErr error
	initOnce.Do(func() {
		opts := []stdouttrace.Option{}
		if cfg.PrettyPrint {
			opts = append(opts, stdouttrace.WithPrettyPrint())
		}

		exporter, err := stdouttrace.New(opts...)
		if err != nil {
			initErr = fmt.Errorf("failed to create trace exporter: %w", err)
			return
		}

		serviceName := cfg.ServiceName
		if serviceName == "" {
			serviceName = "quotaflow"
		}

		provider := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(sdkresource.NewSchemaless(
				attribute.String("service.name", serviceName),
			)),
		)
		otel.SetTracerProvider(provider)
		shutdown = provider.Shutdown
	})

	return shutdown, initErr
}

// Tracer returns the engine tracer from the global provider
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

package app

import (
	"context"
	"fmt"
	"io"

	"github.com/vk/framegraph/internal/profiling"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// newProfiler returns the profiler for the run and a function flushing it.
// With profiling enabled every node invocation becomes a span exported to w;
// otherwise the build's default profiler is used.
func newProfiler(enabled bool, w io.Writer) (profiling.Profiler, func(context.Context) error, error) {
	if !enabled {
		return profiling.Default(), func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	return profiling.NewOTel(tp.Tracer(profiling.TracerName)), tp.Shutdown, nil
}

//go:build framegraph_profiling

package profiling

import "go.opentelemetry.io/otel"

// Default returns the profiler compiled into this build: spans go to the
// global OpenTelemetry tracer provider.
func Default() Profiler {
	return NewOTel(otel.Tracer(TracerName))
}

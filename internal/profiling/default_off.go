//go:build !framegraph_profiling

package profiling

// Default returns the profiler compiled into this build: Nop.
func Default() Profiler {
	return Nop{}
}

package scheduler

import (
	"log/slog"
	"runtime"

	"github.com/vk/framegraph/internal/buffer"
	"github.com/vk/framegraph/internal/profiling"
)

type options struct {
	workers  int
	failFast bool
	pool     *buffer.Pool
	profiler profiling.Profiler
	logger   *slog.Logger
}

// Option configures a Scheduler.
type Option func(*options)

// WithWorkers sets the number of worker goroutines. Values below one select
// runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithFailFast halts the whole run on the first node failure.
func WithFailFast(enabled bool) Option {
	return func(o *options) { o.failFast = enabled }
}

// WithPool sets the buffer pool processors acquire from.
func WithPool(p *buffer.Pool) Option {
	return func(o *options) { o.pool = p }
}

// WithProfiler sets the span hooks called around every invocation.
func WithProfiler(p profiling.Profiler) Option {
	return func(o *options) { o.profiler = p }
}

// WithLogger sets the logger. It is also attached to the context passed to
// processors.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers < 1 {
		o.workers = runtime.NumCPU()
	}
	if o.pool == nil {
		o.pool = buffer.NewPool(buffer.PoolConfig{})
	}
	if o.profiler == nil {
		o.profiler = profiling.Default()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Package profiling defines the span hooks the scheduler calls around every
// node invocation, and the backends behind them.
//
// Spans are named "<node>::execute". BeginSpan is called strictly before the
// processor runs and Span.End strictly after it returns, including when it
// fails or panics. Nop is the default and costs an interface call and nothing
// else; building with the framegraph_profiling tag makes Default return the
// OpenTelemetry backend instead.
package profiling

import "context"

// Profiler starts spans.
type Profiler interface {
	BeginSpan(ctx context.Context, name string) (context.Context, Span)
}

// Span is an open span. End must be called exactly once; err is the outcome
// of the work the span covered and may be nil.
type Span interface {
	End(err error)
}

// Nop discards every span.
type Nop struct{}

type nopSpan struct{}

func (nopSpan) End(error) {}

// BeginSpan returns ctx unchanged and a span that does nothing.
func (Nop) BeginSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, nopSpan{}
}

// Enabled reports whether p records anything.
func Enabled(p Profiler) bool {
	if p == nil {
		return false
	}
	_, nop := p.(Nop)
	return !nop
}

// Package executor runs a single invocation of a node that a worker has
// already claimed: it takes one buffer from each input, calls the processor
// inside a profiling span, publishes the filled output slots and releases
// everything the invocation owned.
//
// The executor never changes node state. The scheduler decides what an
// Outcome means for the node.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vk/framegraph/internal/buffer"
	"github.com/vk/framegraph/internal/ctxlog"
	"github.com/vk/framegraph/internal/edge"
	"github.com/vk/framegraph/internal/node"
	"github.com/vk/framegraph/internal/profiling"
)

// ErrConcurrentEntry reports that two workers were inside the same node at
// once, which means the claim protocol was broken.
var ErrConcurrentEntry = errors.New("node entered by more than one worker")

// Executor holds what every invocation shares.
type Executor struct {
	Pool     *buffer.Pool
	Profiler profiling.Profiler
	// Stopping reports whether the owner is shutting down. A push refused
	// because of cancellation is only discarded while it returns true; nil
	// means never.
	Stopping func() bool
}

// Outcome describes how an invocation ended.
type Outcome struct {
	// Number is the invocation's sequence number for the node.
	Number uint64
	// Err is a *node.ExecutionError when the processor or the publish step
	// failed.
	Err error
	// Fatal is set when an invariant was violated. The node must not be
	// touched further.
	Fatal error
	// Skipped is true when a required input vanished before the call, which
	// only happens while the graph is being stopped.
	Skipped bool
	// EndOfStream is true when a generator reported it is done.
	EndOfStream bool
	Elapsed     time.Duration
}

// New creates an executor. A nil profiler means profiling.Nop.
func New(pool *buffer.Pool, profiler profiling.Profiler) *Executor {
	if profiler == nil {
		profiler = profiling.Nop{}
	}
	return &Executor{Pool: pool, Profiler: profiler}
}

// Run executes one invocation of n, which the caller must hold in Running.
func (x *Executor) Run(ctx context.Context, n *node.Node) Outcome {
	if n.Enter() > 1 {
		n.Leave()
		return Outcome{Fatal: fmt.Errorf("%w: '%s'", ErrConcurrentEntry, n.Name())}
	}
	defer n.Leave()

	inputs, ok := x.gather(n)
	if !ok {
		releaseAll(inputs)
		return Outcome{Skipped: true}
	}

	number := n.Invocations() + 1
	inv := node.NewInvocation(n, number, inputs, x.Pool, func(ctx context.Context, port int, b *buffer.Buffer) error {
		return x.publish(ctx, n, port, b)
	})

	spanCtx, span := x.Profiler.BeginSpan(ctx, n.SpanName())
	start := time.Now()
	err := call(spanCtx, n.Processor(), inv)
	elapsed := time.Since(start)
	span.End(err)
	n.Record(elapsed)

	out := Outcome{Number: number, Elapsed: elapsed}
	if errors.Is(err, node.ErrEndOfStream) {
		out.EndOfStream = true
		err = nil
	}

	if err == nil {
		for port, b := range inv.Outputs {
			if b == nil {
				continue
			}
			if perr := x.publish(ctx, n, port, b); perr != nil {
				err = perr
				break
			}
		}
	}
	releaseAll(inv.Outputs)
	releaseAll(inputs)

	if err != nil {
		out.Err = &node.ExecutionError{Node: n.Name(), Invocation: number, Err: err}
	}
	return out
}

// gather takes one buffer from every input that has one. It reports false
// when a gating input is empty.
func (x *Executor) gather(n *node.Node) ([]*buffer.Buffer, bool) {
	ports := n.Inputs()
	inputs := make([]*buffer.Buffer, len(ports))
	ok := true
	for i, p := range ports {
		e := n.InputEdge(i)
		if e == nil {
			if p.Gating() {
				ok = false
			}
			continue
		}
		b, has := e.Take()
		if !has && p.Gating() {
			ok = false
		}
		inputs[i] = b
	}
	return inputs, ok
}

// publish pushes b to every edge of an output port, in edge order. Pushes
// refused because the graph is shutting down are not errors; a cancellation
// at any other time is.
func (x *Executor) publish(ctx context.Context, n *node.Node, port int, b *buffer.Buffer) error {
	if port < 0 || port >= len(n.Outputs()) {
		return fmt.Errorf("output port %d out of range", port)
	}
	b.Seal()
	for _, e := range n.OutputEdges(port) {
		res, err := e.Push(ctx, b)
		switch {
		case err == nil:
			if res == edge.Dropped {
				ctxlog.FromContext(ctx).Debug("Buffer dropped by backpressure policy.",
					"node", n.Name(), "port", n.Outputs()[port].Name, "edge", e.ID, "policy", e.Policy().String())
			}
		case errors.Is(err, edge.ErrClosed):
			return nil
		case errors.Is(err, context.Canceled) && x.stopping():
			ctxlog.FromContext(ctx).Debug("Buffer discarded, pipeline is stopping.",
				"node", n.Name(), "port", n.Outputs()[port].Name, "edge", e.ID, "seq", b.Seq)
			return nil
		default:
			return fmt.Errorf("publish on '%s.%s': %w", n.Name(), n.Outputs()[port].Name, err)
		}
	}
	return nil
}

func (x *Executor) stopping() bool {
	return x.Stopping != nil && x.Stopping()
}

func call(ctx context.Context, p node.Processor, inv *node.Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panicked: %v", r)
		}
	}()
	return p.Process(ctx, inv)
}

func releaseAll(bufs []*buffer.Buffer) {
	for _, b := range bufs {
		if b != nil {
			b.Release()
		}
	}
}

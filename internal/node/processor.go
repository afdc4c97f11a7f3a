package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/framegraph/internal/buffer"
	"github.com/vk/framegraph/internal/property"
)

// ErrEndOfStream is returned by a generator node's processor when it has
// nothing more to produce. The node goes Idle for the rest of the run and no
// error is recorded. Outputs filled on that invocation are still published.
var ErrEndOfStream = errors.New("end of stream")

// Processor is the work a node performs.
type Processor interface {
	Process(ctx context.Context, inv *Invocation) error
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, inv *Invocation) error

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, inv *Invocation) error {
	return f(ctx, inv)
}

// EmitFunc publishes a buffer on an output port during an invocation.
type EmitFunc func(ctx context.Context, port int, b *buffer.Buffer) error

// Invocation is everything a processor sees for one run of its node.
//
// Inputs holds one buffer per input port (nil for an empty optional port).
// They are released after Process returns; a processor that keeps one must
// Retain it. Outputs holds one slot per output port. A buffer placed in a
// slot hands its reference to the scheduler, which publishes it to every
// edge of that port in port order and then releases it.
type Invocation struct {
	Node    string
	Number  uint64
	Inputs  []*buffer.Buffer
	Outputs []*buffer.Buffer
	Props   *property.Set

	pool *buffer.Pool
	emit EmitFunc
}

// NewInvocation prepares an invocation with empty output slots.
func NewInvocation(n *Node, number uint64, inputs []*buffer.Buffer, pool *buffer.Pool, emit EmitFunc) *Invocation {
	return &Invocation{
		Node:    n.name,
		Number:  number,
		Inputs:  inputs,
		Outputs: make([]*buffer.Buffer, len(n.outputs)),
		Props:   n.props,
		pool:    pool,
		emit:    emit,
	}
}

// Input returns the buffer on input port i, or nil.
func (inv *Invocation) Input(i int) *buffer.Buffer {
	if i < 0 || i >= len(inv.Inputs) {
		return nil
	}
	return inv.Inputs[i]
}

// Acquire gets a writable buffer from the pool, or allocates one when the
// invocation has no pool.
func (inv *Invocation) Acquire(size int) (*buffer.Buffer, error) {
	if inv.pool == nil {
		return buffer.New(make([]byte, size)), nil
	}
	return inv.pool.Acquire(size)
}

// Forward places input in on output slot out, adding the reference the slot
// consumes.
func (inv *Invocation) Forward(in, out int) {
	b := inv.Input(in)
	if b == nil || out < 0 || out >= len(inv.Outputs) {
		return
	}
	b.Retain()
	inv.Outputs[out] = b
}

// Emit publishes b on output port immediately. The caller keeps its
// reference. A full Block edge past its timeout surfaces here as a
// *buffer.CapacityError.
func (inv *Invocation) Emit(ctx context.Context, port int, b *buffer.Buffer) error {
	if inv.emit == nil {
		return fmt.Errorf("node '%s' cannot emit outside the scheduler", inv.Node)
	}
	return inv.emit(ctx, port, b)
}

// ExecutionError wraps a failure reported by a processor.
type ExecutionError struct {
	Node       string
	Invocation uint64
	Err        error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("node '%s' failed on invocation %d: %v", e.Node, e.Invocation, e.Err)
}

// Unwrap returns the processor's error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

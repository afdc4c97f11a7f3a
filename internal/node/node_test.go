package node

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/framegraph/internal/buffer"
	"github.com/vk/framegraph/internal/edge"
)

var noop = ProcessorFunc(func(context.Context, *Invocation) error { return nil })

func push(t *testing.T, e *edge.Edge) {
	t.Helper()
	_, err := e.Push(context.Background(), buffer.New([]byte{1}))
	require.NoError(t, err)
}

func take(t *testing.T, e *edge.Edge) {
	t.Helper()
	b, ok := e.Take()
	require.True(t, ok)
	b.Release()
}

func newJoin(t *testing.T) (*Node, *edge.Edge, *edge.Edge, *edge.Edge) {
	t.Helper()
	n, err := New(0, Config{
		Name: "join",
		Inputs: []Port{
			{Name: "left"},
			{Name: "right"},
			{Name: "side", Optional: true},
		},
		Processor: noop,
	})
	require.NoError(t, err)
	left, right, side := edge.New(edge.Config{}), edge.New(edge.Config{}), edge.New(edge.Config{})
	n.Wire([]*edge.Edge{left, right, side}, nil)
	return n, left, right, side
}

func TestNode_ReadinessLaw(t *testing.T) {
	n, left, right, side := newJoin(t)

	assert.False(t, n.Satisfied(), "no inputs buffered")
	push(t, side)
	assert.False(t, n.Satisfied(), "optional input alone is not enough")
	push(t, left)
	assert.False(t, n.Satisfied(), "one required input still empty")
	push(t, right)
	assert.True(t, n.Satisfied())

	take(t, side)
	assert.True(t, n.Satisfied(), "optional input does not gate")
	take(t, left)
	assert.False(t, n.Satisfied(), "emptying a required input makes the node not ready")
	assert.False(t, n.TryMarkReady())
	assert.Equal(t, Idle, n.State())

	push(t, left)
	assert.True(t, n.TryMarkReady())
	assert.Equal(t, Ready, n.State())
	assert.False(t, n.TryMarkReady(), "already Ready")
}

func TestNode_FeedbackInputDoesNotGate(t *testing.T) {
	n, err := New(0, Config{
		Name:      "accumulate",
		Inputs:    []Port{{Name: "in"}, {Name: "prev", Feedback: true}},
		Processor: noop,
	})
	require.NoError(t, err)
	in, prev := edge.New(edge.Config{}), edge.New(edge.Config{Feedback: true})
	n.Wire([]*edge.Edge{in, prev}, nil)

	push(t, in)
	assert.True(t, n.Satisfied())
}

func TestNode_GeneratorUntilExhausted(t *testing.T) {
	n, err := New(0, Config{Name: "src", Outputs: []Port{{Name: "out"}}, Processor: noop})
	require.NoError(t, err)

	assert.True(t, n.TryMarkReady())
	require.True(t, n.Claim())
	n.MarkExhausted()
	requeue, ok := n.Finish()
	assert.True(t, ok)
	assert.False(t, requeue)
	assert.Equal(t, Idle, n.State())
	assert.False(t, n.TryMarkReady())

	n.Prepare()
	assert.True(t, n.TryMarkReady(), "a new run clears exhaustion")
}

func TestNode_ClaimHasSingleWinner(t *testing.T) {
	for round := 0; round < 50; round++ {
		n, _, _, _ := newJoin(t)
		n.state.Store(int32(Ready))

		var winners atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if n.Claim() {
					winners.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()
		require.Equal(t, int32(1), winners.Load())
		require.Equal(t, Running, n.State())
	}
}

func TestNode_FinishRequeuesWhenInputRemains(t *testing.T) {
	n, left, right, _ := newJoin(t)
	push(t, left)
	push(t, left)
	push(t, right)
	push(t, right)
	require.True(t, n.TryMarkReady())
	require.True(t, n.Claim())

	take(t, left)
	take(t, right)
	requeue, ok := n.Finish()
	assert.True(t, ok)
	assert.True(t, requeue)
	assert.Equal(t, Ready, n.State())

	require.True(t, n.Claim())
	take(t, left)
	take(t, right)
	requeue, ok = n.Finish()
	assert.True(t, ok)
	assert.False(t, requeue)
	assert.Equal(t, Idle, n.State())
}

func TestNode_FinishOutsideRunningIsReported(t *testing.T) {
	n, _, _, _ := newJoin(t)
	_, ok := n.Finish()
	assert.False(t, ok)
}

func TestNode_FailAndReset(t *testing.T) {
	n, left, right, _ := newJoin(t)
	push(t, left)
	push(t, right)
	require.True(t, n.TryMarkReady())
	require.True(t, n.Claim())

	assert.True(t, n.Fail(errors.New("decoder exploded")))
	assert.Equal(t, Failed, n.State())
	assert.False(t, n.TryMarkReady(), "failed nodes are not dispatched")
	assert.False(t, n.Claim())

	stats := n.Stats()
	assert.Equal(t, uint64(1), stats.Failures)
	assert.Equal(t, "decoder exploded", stats.LastError)

	assert.True(t, n.Reset())
	assert.Equal(t, Idle, n.State())
	assert.True(t, n.TryMarkReady(), "queued input is still there after reset")
	assert.False(t, n.Reset(), "only Failed nodes reset")
}

func TestNode_StatsInFlightMatchesState(t *testing.T) {
	n, left, right, _ := newJoin(t)
	push(t, left)
	push(t, right)
	require.True(t, n.TryMarkReady())
	require.True(t, n.Claim())

	s := n.Stats()
	assert.Equal(t, Running, s.State)
	assert.Equal(t, 1, s.InFlight)

	n.Record(5 * time.Millisecond)
	n.Halt()
	s = n.Stats()
	assert.Equal(t, Stopped, s.State)
	assert.Zero(t, s.InFlight)
	assert.Equal(t, uint64(1), s.Invocations)
	assert.Equal(t, 5*time.Millisecond, s.Busy)
}

func TestNode_PortLookups(t *testing.T) {
	n, _, _, _ := newJoin(t)
	assert.Equal(t, 1, n.InputIndex("right"))
	assert.Equal(t, -1, n.InputIndex("nope"))
	assert.Equal(t, -1, n.OutputIndex("out"))
	assert.Equal(t, "join::execute", n.SpanName())
}

func TestNode_RequiresProcessor(t *testing.T) {
	_, err := New(0, Config{Name: "x"})
	assert.Error(t, err)
}

func TestCompatible(t *testing.T) {
	assert.True(t, Compatible(Port{Type: "video/raw"}, Port{Type: "video/raw"}))
	assert.True(t, Compatible(Port{}, Port{Type: "audio/pcm"}))
	assert.True(t, Compatible(Port{Type: "audio/pcm"}, Port{Type: AnyType}))
	assert.False(t, Compatible(Port{Type: "video/raw"}, Port{Type: "audio/pcm"}))
}

func TestInvocation_ForwardAndAcquire(t *testing.T) {
	n, err := New(0, Config{
		Name:      "pass",
		Inputs:    []Port{{Name: "in"}},
		Outputs:   []Port{{Name: "out"}},
		Processor: noop,
	})
	require.NoError(t, err)

	in := buffer.New([]byte("frame"))
	inv := NewInvocation(n, 1, []*buffer.Buffer{in}, nil, nil)
	inv.Forward(0, 0)
	assert.Same(t, in, inv.Outputs[0])
	assert.Equal(t, int32(2), in.Refs())

	b, err := inv.Acquire(16)
	require.NoError(t, err)
	assert.Equal(t, 16, b.Len())

	assert.Error(t, inv.Emit(context.Background(), 0, b))
	assert.Nil(t, inv.Input(3))
}

func TestExecutionError(t *testing.T) {
	cause := errors.New("boom")
	err := error(&ExecutionError{Node: "decode", Invocation: 3, Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "node 'decode' failed on invocation 3: boom", err.Error())
}

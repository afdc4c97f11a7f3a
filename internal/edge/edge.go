package edge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/framegraph/internal/buffer"
)

// DefaultDepth is the queue depth used when none is configured.
const DefaultDepth = 4

var (
	// ErrQueueFull is the cause inside the CapacityError returned when a Block
	// edge stays full.
	ErrQueueFull = errors.New("edge queue full")
	// ErrClosed is returned by pushes to an edge that has been closed.
	ErrClosed = errors.New("edge closed")
	// ErrTimestampRegression is returned when a buffer's timestamp is older
	// than the last one accepted by the edge.
	ErrTimestampRegression = errors.New("buffer timestamp went backwards")
)

// ID identifies an edge inside its graph.
type ID int

// External marks an endpoint owned by the host rather than a node.
const External = -1

// Endpoint is one side of an edge: a node arena index and a port index.
type Endpoint struct {
	Node int
	Port int
}

// Config is the static configuration of an edge.
type Config struct {
	Depth        int
	Policy       Policy
	BlockTimeout time.Duration
	Feedback     bool
}

// Stats are cumulative counters plus the current queue length.
type Stats struct {
	Queued  int
	Pushed  uint64
	Taken   uint64
	Dropped uint64
	Blocked uint64

	// Discarded counts queued buffers released by Close.
	Discarded uint64
}

// Edge is a bounded FIFO of buffers.
type Edge struct {
	ID   ID
	From Endpoint
	To   Endpoint

	cfg Config

	mu     sync.Mutex
	ring   []*buffer.Buffer
	head   int
	count  int
	closed bool
	space  chan struct{}
	lastTS time.Duration
	hasTS  bool
	onPush func()
	onTake func()

	queued  atomic.Int32
	pushed  atomic.Uint64
	taken   atomic.Uint64
	dropped atomic.Uint64
	blocked atomic.Uint64
	discard atomic.Uint64
}

// New creates an open edge.
func New(cfg Config) *Edge {
	if cfg.Depth <= 0 {
		cfg.Depth = DefaultDepth
	}
	return &Edge{
		cfg:   cfg,
		ring:  make([]*buffer.Buffer, cfg.Depth),
		space: make(chan struct{}),
		From:  Endpoint{Node: External},
		To:    Endpoint{Node: External},
	}
}

// Config returns the static configuration.
func (e *Edge) Config() Config { return e.cfg }

// Depth returns the maximum queue depth.
func (e *Edge) Depth() int { return e.cfg.Depth }

// Policy returns the backpressure policy.
func (e *Edge) Policy() Policy { return e.cfg.Policy }

// Feedback reports whether the edge is a marked back edge.
func (e *Edge) Feedback() bool { return e.cfg.Feedback }

// Len returns the number of queued buffers without taking the lock.
func (e *Edge) Len() int { return int(e.queued.Load()) }

// SetHooks installs callbacks run after every successful push and every take.
// Hooks run outside the edge lock.
func (e *Edge) SetHooks(onPush, onTake func()) {
	e.mu.Lock()
	e.onPush = onPush
	e.onTake = onTake
	e.mu.Unlock()
}

// Push enqueues b according to the edge policy. An accepted buffer is sealed
// and retained by the edge; the caller keeps its own reference.
func (e *Edge) Push(ctx context.Context, b *buffer.Buffer) (PushResult, error) {
	var (
		timer    *time.Timer
		deadline <-chan time.Time
		waited   bool
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	e.mu.Lock()
	for {
		res, evicted, hook, done, err := e.offerLocked(b)
		if done {
			e.mu.Unlock()
			if evicted != nil {
				evicted.Release()
			}
			if hook != nil {
				hook()
			}
			return res, err
		}

		if !waited {
			waited = true
			e.blocked.Add(1)
			if e.cfg.BlockTimeout > 0 {
				timer = time.NewTimer(e.cfg.BlockTimeout)
				deadline = timer.C
			}
		}
		wait := e.space
		e.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return Blocked, ctx.Err()
		case <-deadline:
			return Blocked, &buffer.CapacityError{
				Resource: "edge queue",
				Detail:   fmt.Sprintf("edge %d full for %s", e.ID, e.cfg.BlockTimeout),
				Err:      ErrQueueFull,
			}
		}
		e.mu.Lock()
	}
}

// TryPush is Push without waiting: on a full Block edge it returns Blocked and
// ErrQueueFull immediately.
func (e *Edge) TryPush(b *buffer.Buffer) (PushResult, error) {
	e.mu.Lock()
	res, evicted, hook, done, err := e.offerLocked(b)
	if !done {
		e.blocked.Add(1)
		e.mu.Unlock()
		return Blocked, ErrQueueFull
	}
	e.mu.Unlock()
	if evicted != nil {
		evicted.Release()
	}
	if hook != nil {
		hook()
	}
	return res, err
}

// offerLocked tries to place b in the queue. done is false only when a Block
// edge is full and the caller must wait.
func (e *Edge) offerLocked(b *buffer.Buffer) (res PushResult, evicted *buffer.Buffer, hook func(), done bool, err error) {
	if e.closed {
		return Blocked, nil, nil, true, ErrClosed
	}
	if e.hasTS && b.Timestamp < e.lastTS {
		e.dropped.Add(1)
		return Dropped, nil, nil, true, ErrTimestampRegression
	}
	if e.count < len(e.ring) {
		e.enqueueLocked(b)
		return Accepted, nil, e.onPush, true, nil
	}
	switch e.cfg.Policy {
	case DropNewest:
		e.dropped.Add(1)
		return Dropped, nil, nil, true, nil
	case DropOldest:
		evicted = e.dequeueLocked()
		e.dropped.Add(1)
		e.enqueueLocked(b)
		return Dropped, evicted, e.onPush, true, nil
	}
	return Blocked, nil, nil, false, nil
}

func (e *Edge) enqueueLocked(b *buffer.Buffer) {
	b.Retain()
	b.Seal()
	e.ring[(e.head+e.count)%len(e.ring)] = b
	e.count++
	e.queued.Store(int32(e.count))
	e.lastTS = b.Timestamp
	e.hasTS = true
	e.pushed.Add(1)
}

func (e *Edge) dequeueLocked() *buffer.Buffer {
	b := e.ring[e.head]
	e.ring[e.head] = nil
	e.head = (e.head + 1) % len(e.ring)
	e.count--
	e.queued.Store(int32(e.count))
	return b
}

// wakeLocked releases every producer waiting for space.
func (e *Edge) wakeLocked() {
	close(e.space)
	e.space = make(chan struct{})
}

// Peek returns the oldest queued buffer without removing it. It never blocks
// on an empty queue.
func (e *Edge) Peek() (*buffer.Buffer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.count == 0 {
		return nil, false
	}
	return e.ring[e.head], true
}

// Take removes the oldest queued buffer. The edge's reference moves to the
// caller, who must Release it.
func (e *Edge) Take() (*buffer.Buffer, bool) {
	e.mu.Lock()
	if e.count == 0 {
		e.mu.Unlock()
		return nil, false
	}
	b := e.dequeueLocked()
	e.taken.Add(1)
	e.wakeLocked()
	hook := e.onTake
	e.mu.Unlock()

	if hook != nil {
		hook()
	}
	return b, true
}

// Close rejects further pushes, wakes blocked producers and releases every
// queued buffer. It returns the number of buffers drained.
func (e *Edge) Close() int {
	e.mu.Lock()
	drained := make([]*buffer.Buffer, 0, e.count)
	for e.count > 0 {
		drained = append(drained, e.dequeueLocked())
	}
	e.closed = true
	e.wakeLocked()
	e.mu.Unlock()

	e.discard.Add(uint64(len(drained)))
	for _, b := range drained {
		b.Release()
	}
	return len(drained)
}

// Reset reopens a closed edge with an empty queue and forgets the last
// timestamp. Counters are cumulative and survive.
func (e *Edge) Reset() {
	e.Close()
	e.mu.Lock()
	e.closed = false
	e.hasTS = false
	e.lastTS = 0
	e.mu.Unlock()
}

// Closed reports whether the edge rejects pushes.
func (e *Edge) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Stats returns the counters. Each field is read atomically.
func (e *Edge) Stats() Stats {
	return Stats{
		Queued:  e.Len(),
		Pushed:  e.pushed.Load(),
		Taken:   e.taken.Load(),
		Dropped: e.dropped.Load(),
		Blocked: e.blocked.Load(),

		Discarded: e.discard.Load(),
	}
}

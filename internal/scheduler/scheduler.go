package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/vk/framegraph/internal/buffer"
	"github.com/vk/framegraph/internal/ctxlog"
	"github.com/vk/framegraph/internal/edge"
	"github.com/vk/framegraph/internal/executor"
	"github.com/vk/framegraph/internal/graph"
	"github.com/vk/framegraph/internal/introspect"
	"github.com/vk/framegraph/internal/node"
	"github.com/vk/framegraph/internal/profiling"
)

// Scheduler dispatches ready nodes of one graph onto a pool of workers.
type Scheduler struct {
	graph  *graph.Graph
	opts   options
	exec   *executor.Executor
	logger atomic.Pointer[slog.Logger]

	mu      sync.Mutex
	cond    *sync.Cond
	queue   readyQueue
	closed  bool
	running bool
	pending int // queued plus running nodes
	idle    chan struct{}
	runID   string
	runCtx  context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	halt    *sync.Once
	nodes   []*node.Node
	edges   []*edge.Edge

	errMu sync.Mutex
	err   error

	wg          sync.WaitGroup
	active      atomic.Int32
	claimMisses atomic.Uint64
}

// New creates a scheduler for g. Nothing runs until Start.
func New(g *graph.Graph, opts ...Option) *Scheduler {
	o := buildOptions(opts)
	s := &Scheduler{
		graph: g,
		opts:  o,
		exec:  executor.New(o.pool, o.profiler),
		done:  make(chan struct{}),
		halt:  &sync.Once{},
	}
	s.logger.Store(o.logger)
	s.exec.Stopping = s.closing
	s.cond = sync.NewCond(&s.mu)
	close(s.done)
	return s
}

// Graph returns the scheduled graph.
func (s *Scheduler) Graph() *graph.Graph { return s.graph }

// Pool returns the buffer pool processors acquire from.
func (s *Scheduler) Pool() *buffer.Pool { return s.opts.pool }

// Workers returns the size of the worker pool.
func (s *Scheduler) Workers() int { return s.opts.workers }

// Start validates and freezes the graph and launches the workers. ctx is the
// parent of the context passed to processors. Cancelling it closes dispatch
// like Stop does, but the workers are only joined and the edges closed by
// Stop itself.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrRunning
	}
	s.graph.Freeze()
	if err := s.graph.Validate(); err != nil {
		s.graph.Thaw()
		s.mu.Unlock()
		return fmt.Errorf("graph validation failed: %w", err)
	}

	s.nodes = s.graph.Nodes()
	s.edges = s.graph.Edges()
	byID := make(map[int]*node.Node, len(s.nodes))
	for _, n := range s.nodes {
		n.Prepare()
		byID[int(n.ID())] = n
	}
	for _, e := range s.edges {
		e.Reset()
		dst := byID[e.To.Node]
		e.SetHooks(func() { s.wake(dst) }, nil)
	}

	s.runID = uuid.NewString()
	logger := s.opts.logger.With("runID", s.runID)
	s.logger.Store(logger)
	runCtx, cancel := context.WithCancel(ctxlog.WithLogger(ctx, logger))
	s.runCtx, s.cancel = runCtx, cancel
	s.queue.reset()
	s.closed = false
	s.pending = 0
	s.idle = nil
	s.done = make(chan struct{})
	s.halt = &sync.Once{}
	s.errMu.Lock()
	s.err = nil
	s.errMu.Unlock()
	s.running = true
	s.mu.Unlock()

	for _, n := range s.nodes {
		s.wake(n)
	}
	for i := 0; i < s.opts.workers; i++ {
		s.wg.Add(1)
		go s.worker(runCtx, i)
	}
	s.wg.Add(1)
	go s.watch(runCtx)

	logger.Info("Scheduler started.", "workers", s.opts.workers, "nodes", len(s.nodes), "edges", len(s.edges),
		"profiling", profiling.Enabled(s.opts.profiler))
	return nil
}

// watch closes dispatch once the run context ends, whatever ended it.
func (s *Scheduler) watch(ctx context.Context) {
	defer s.wg.Done()
	<-ctx.Done()
	if s.closeQueue() {
		s.log().Info("Run context cancelled, dispatch closed.", "cause", context.Cause(ctx))
	}
}

// closeQueue stops dispatch and drops the nodes still waiting for a worker.
// Running invocations finish normally. It reports whether this call closed
// the queue.
func (s *Scheduler) closeQueue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.pending -= s.queue.len()
	s.queue.reset()
	if s.pending == 0 && s.idle != nil {
		close(s.idle)
		s.idle = nil
	}
	s.cond.Broadcast()
	return true
}

// closing reports whether the current run is shutting down. The run context
// ends before watch gets to close the queue, so both are checked.
func (s *Scheduler) closing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed || (s.runCtx != nil && s.runCtx.Err() != nil)
}

func (s *Scheduler) log() *slog.Logger { return s.logger.Load() }

// wake queues n if this call moved it from Idle to Ready.
func (s *Scheduler) wake(n *node.Node) {
	if n != nil && n.TryMarkReady() {
		s.enqueue(n)
	}
}

func (s *Scheduler) enqueue(n *node.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.pending == 0 {
		s.idle = make(chan struct{})
	}
	s.pending++
	s.queue.push(n)
	s.cond.Signal()
}

// settle marks one queued or running node as dealt with.
func (s *Scheduler) settle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == 0 {
		return
	}
	s.pending--
	if s.pending == 0 && s.idle != nil {
		close(s.idle)
		s.idle = nil
	}
}

// next blocks until a node is queued or the queue is closed.
func (s *Scheduler) next() (*node.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.queue.len() == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return nil, false
	}
	return s.queue.pop(), true
}

func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.wg.Done()
	logger := ctxlog.FromContext(ctx).With("workerID", id)
	logger.Debug("Worker started.")

	for {
		n, ok := s.next()
		if !ok {
			break
		}
		s.dispatch(ctx, logger, n)
	}
	logger.Debug("Worker finished.")
}

func (s *Scheduler) dispatch(ctx context.Context, logger *slog.Logger, n *node.Node) {
	defer s.settle()

	if ctx.Err() != nil {
		return
	}
	if !n.Claim() {
		s.claimMisses.Add(1)
		return
	}
	s.active.Add(1)
	out := s.exec.Run(ctx, n)
	s.active.Add(-1)

	switch {
	case out.Fatal != nil:
		s.fail(&FatalError{Node: n.Name(), Detail: "invocation aborted", Err: out.Fatal})
	case out.Err != nil:
		if !n.Fail(out.Err) {
			s.fail(&FatalError{Node: n.Name(), Detail: "node left Running during a failed invocation", Err: out.Err})
			return
		}
		logger.Error("Node execution failed.", "node", n.Name(), "invocation", out.Number, "error", out.Err)
		if s.opts.failFast {
			s.fail(out.Err)
		}
	default:
		if out.EndOfStream {
			n.MarkExhausted()
			logger.Debug("Node reached end of stream.", "node", n.Name())
		}
		requeue, ok := n.Finish()
		if !ok {
			s.fail(&FatalError{Node: n.Name(), Detail: fmt.Sprintf("node was %s when its invocation finished", n.State())})
			return
		}
		if requeue {
			s.enqueue(n)
		}
	}
}

// fail records err and halts dispatch. Only the first call has an effect.
func (s *Scheduler) fail(err error) {
	s.mu.Lock()
	halt, cancel, done := s.halt, s.cancel, s.done
	s.mu.Unlock()

	halt.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()

		s.log().Error("Scheduler halted.", "error", err)
		s.closeQueue()
		cancel()
		close(done)
	})
}

// Stop halts dispatch, waits for running invocations, closes every edge and
// marks every node Stopped. It returns the error that halted the run, if
// any. Stop is idempotent.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return s.Err()
	}
	halt, cancel, done := s.halt, s.cancel, s.done
	s.mu.Unlock()

	s.closeQueue()
	cancel()
	s.wg.Wait()

	dropped := 0
	for _, e := range s.edges {
		dropped += e.Close()
	}
	for _, n := range s.nodes {
		n.Halt()
	}
	s.graph.Thaw()

	s.mu.Lock()
	s.running = false
	s.queue.reset()
	s.pending = 0
	if s.idle != nil {
		close(s.idle)
		s.idle = nil
	}
	s.mu.Unlock()
	halt.Do(func() { close(done) })

	s.log().Info("Scheduler stopped.", "discardedBuffers", dropped, "claimMisses", s.claimMisses.Load())
	return s.Err()
}

// Running reports whether the workers are up.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Done is closed when the current run halts, either through Stop or because
// of a fatal or fail-fast error.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns the error that halted the current run.
func (s *Scheduler) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// WaitIdle blocks until no node is queued or running. It returns early when
// ctx is done or the run halts.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	for {
		s.mu.Lock()
		if !s.running || s.pending == 0 {
			s.mu.Unlock()
			return s.Err()
		}
		idle, done := s.idle, s.done
		s.mu.Unlock()

		select {
		case <-idle:
		case <-done:
			return s.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ResetNode moves a failed node back to Idle and queues it if its inputs are
// satisfied. It returns ErrNotRunning outside a run.
func (s *Scheduler) ResetNode(name string) error {
	n, ok := s.graph.Node(name)
	if !ok {
		return fmt.Errorf("node '%s' not found", name)
	}
	if !s.Running() {
		return fmt.Errorf("cannot reset node '%s': %w", name, ErrNotRunning)
	}
	if !n.Reset() {
		return fmt.Errorf("node '%s' is %s, not %s", name, n.State(), node.Failed)
	}
	s.log().Info("Node reset.", "node", name)
	s.wake(n)
	return nil
}

// Snapshot returns a point-in-time view of the run. It never waits on a
// worker.
func (s *Scheduler) Snapshot() (introspect.Snapshot, error) {
	s.mu.Lock()
	state := introspect.SchedulerState{
		RunID:    s.runID,
		Running:  s.running,
		FailFast: s.opts.failFast,
		Workers:  s.opts.workers,
		Queued:   s.queue.len(),
	}
	s.mu.Unlock()

	state.Active = int(s.active.Load())
	if err := s.Err(); err != nil {
		state.Halted = true
		state.Error = err.Error()
	}
	return introspect.Capture(s.graph, state, s.opts.pool.Stats())
}

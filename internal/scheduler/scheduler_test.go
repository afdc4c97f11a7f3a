package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/framegraph/internal/buffer"
	"github.com/vk/framegraph/internal/edge"
	"github.com/vk/framegraph/internal/graph"
	"github.com/vk/framegraph/internal/node"
	"github.com/vk/framegraph/internal/profiling"
)

// generator emits count buffers numbered from 1, then ends the stream. A
// negative count never ends.
func generator(count int) node.ProcessorFunc {
	var emitted atomic.Int64
	return func(_ context.Context, inv *node.Invocation) error {
		seq := emitted.Add(1)
		if count >= 0 && seq > int64(count) {
			return node.ErrEndOfStream
		}
		b, err := inv.Acquire(8)
		if err != nil {
			return err
		}
		b.Seq = uint64(seq)
		inv.Outputs[0] = b
		return nil
	}
}

func passthrough() node.ProcessorFunc {
	return func(_ context.Context, inv *node.Invocation) error {
		inv.Forward(0, 0)
		return nil
	}
}

// collector records the sequence numbers it receives on any input.
type collector struct {
	mu   sync.Mutex
	seqs []uint64
}

func (c *collector) Process(_ context.Context, inv *node.Invocation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, b := range inv.Inputs {
		if b != nil {
			c.seqs = append(c.seqs, b.Seq)
		}
	}
	return nil
}

func (c *collector) Seqs() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.seqs...)
}

func addSource(t *testing.T, g *graph.Graph, name string, p node.Processor) {
	t.Helper()
	_, err := g.AddNode(node.Config{Name: name, Outputs: []node.Port{{Name: "out"}}, Processor: p})
	require.NoError(t, err)
}

func addStage(t *testing.T, g *graph.Graph, name string, p node.Processor) {
	t.Helper()
	_, err := g.AddNode(node.Config{
		Name:      name,
		Inputs:    []node.Port{{Name: "in"}},
		Outputs:   []node.Port{{Name: "out"}},
		Processor: p,
	})
	require.NoError(t, err)
}

func addSink(t *testing.T, g *graph.Graph, name string, p node.Processor) {
	t.Helper()
	_, err := g.AddNode(node.Config{Name: name, Inputs: []node.Port{{Name: "in"}}, Processor: p})
	require.NoError(t, err)
}

func connect(t *testing.T, g *graph.Graph, from, to string, cfg edge.Config) {
	t.Helper()
	_, err := g.Connect(from, to, cfg)
	require.NoError(t, err)
}

func waitIdle(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.WaitIdle(ctx))
}

func TestScheduler_EndToEndPreservesOrder(t *testing.T) {
	g := graph.New()
	sink := &collector{}
	addSource(t, g, "src", generator(10))
	addStage(t, g, "xf", passthrough())
	addSink(t, g, "sink", sink)
	connect(t, g, "src.out", "xf.in", edge.Config{Depth: 4, Policy: edge.Block})
	connect(t, g, "xf.out", "sink.in", edge.Config{Depth: 4, Policy: edge.Block})

	pool := buffer.NewPool(buffer.PoolConfig{})
	s := New(g, WithWorkers(4), WithPool(pool))
	require.NoError(t, s.Start(context.Background()))
	waitIdle(t, s)
	require.NoError(t, s.Stop())

	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, sink.Seqs())
	assert.Equal(t, int64(0), pool.Stats().InUse, "every buffer returned to the pool")
	for _, n := range g.Nodes() {
		assert.Equal(t, node.Stopped, n.State(), n.Name())
	}
}

func TestScheduler_StartRejectsInvalidGraph(t *testing.T) {
	g := graph.New()
	addSink(t, g, "sink", &collector{})

	s := New(g, WithWorkers(1))
	err := s.Start(context.Background())
	assert.ErrorIs(t, err, graph.ErrUnconnectedInput)
	assert.False(t, s.Running())
	assert.False(t, g.Frozen())
}

func TestScheduler_StartTwice(t *testing.T) {
	g := graph.New()
	addSource(t, g, "src", generator(0))

	s := New(g, WithWorkers(1))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.ErrorIs(t, s.Start(context.Background()), ErrRunning)

	_, err := g.AddNode(node.Config{Name: "late", Processor: passthrough()})
	assert.ErrorIs(t, err, graph.ErrFrozen, "topology is frozen while running")
}

func TestScheduler_AtMostOneInvocationPerNode(t *testing.T) {
	var current, peak atomic.Int32
	hot := node.ProcessorFunc(func(_ context.Context, inv *node.Invocation) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Microsecond)
		current.Add(-1)
		return nil
	})

	g := graph.New()
	addSource(t, g, "a", generator(300))
	addSource(t, g, "b", generator(300))
	_, err := g.AddNode(node.Config{
		Name:      "hot",
		Inputs:    []node.Port{{Name: "a", Optional: true}, {Name: "b", Optional: true}},
		Processor: hot,
	})
	require.NoError(t, err)
	connect(t, g, "a.out", "hot.a", edge.Config{Depth: 2})
	connect(t, g, "b.out", "hot.b", edge.Config{Depth: 2})

	s := New(g, WithWorkers(8))
	require.NoError(t, s.Start(context.Background()))
	waitIdle(t, s)
	require.NoError(t, s.Stop())

	assert.Equal(t, int32(1), peak.Load())
	n, _ := g.Node("hot")
	assert.GreaterOrEqual(t, n.Invocations(), uint64(300))
}

func failingAt(number uint64, seen *collector) node.ProcessorFunc {
	return func(ctx context.Context, inv *node.Invocation) error {
		if inv.Number == number {
			return errors.New("decoder exploded")
		}
		return seen.Process(ctx, inv)
	}
}

// branches builds two independent chains: srcA -> bad and srcB -> good.
func branches(t *testing.T, bad node.Processor, good node.Processor) *graph.Graph {
	t.Helper()
	g := graph.New()
	addSource(t, g, "srcA", generator(20))
	addSource(t, g, "srcB", generator(20))
	addSink(t, g, "bad", bad)
	addSink(t, g, "good", good)
	connect(t, g, "srcA.out", "bad.in", edge.Config{Depth: 4, Policy: edge.DropOldest})
	connect(t, g, "srcB.out", "good.in", edge.Config{Depth: 4, Policy: edge.Block})
	return g
}

func TestScheduler_FailureIsLocal(t *testing.T) {
	badSeen, goodSeen := &collector{}, &collector{}
	g := branches(t, failingAt(3, badSeen), goodSeen)

	s := New(g, WithWorkers(3))
	require.NoError(t, s.Start(context.Background()))
	waitIdle(t, s)

	bad, _ := g.Node("bad")
	assert.Equal(t, node.Failed, bad.State())
	assert.Len(t, goodSeen.Seqs(), 20, "the independent branch keeps running")
	assert.NoError(t, s.Err())

	snap, err := s.Snapshot()
	require.NoError(t, err)
	ns, ok := snap.Node("bad")
	require.True(t, ok)
	assert.Equal(t, "Failed", ns.State)
	assert.Equal(t, uint64(1), ns.Failures)
	assert.Contains(t, ns.LastError, "decoder exploded")
	assert.Contains(t, ns.LastError, "node 'bad' failed on invocation 3")

	require.NoError(t, s.Stop())
	assert.Equal(t, node.Stopped, bad.State())
}

func TestScheduler_ResetNodeResumesDispatch(t *testing.T) {
	badSeen := &collector{}
	g := branches(t, failingAt(3, badSeen), &collector{})

	s := New(g, WithWorkers(2))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	waitIdle(t, s)
	require.Len(t, badSeen.Seqs(), 2)

	assert.Error(t, s.ResetNode("good"), "only failed nodes can be reset")
	assert.Error(t, s.ResetNode("missing"))
	require.NoError(t, s.ResetNode("bad"))
	waitIdle(t, s)

	seqs := badSeen.Seqs()
	require.Len(t, seqs, 6)
	assert.Equal(t, []uint64{17, 18, 19, 20}, seqs[2:], "the drop-oldest edge kept the newest buffers")
	bad, _ := g.Node("bad")
	assert.Equal(t, node.Idle, bad.State())
}

func TestScheduler_FailFastHalts(t *testing.T) {
	g := branches(t, failingAt(1, &collector{}), &collector{})

	s := New(g, WithWorkers(2), WithFailFast(true))
	require.NoError(t, s.Start(context.Background()))

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not halt")
	}
	err := s.Stop()
	var execErr *node.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "bad", execErr.Node)
	assert.Equal(t, err, s.Err())
	assert.False(t, s.Running())
}

func TestScheduler_StopUnblocksProducers(t *testing.T) {
	g := graph.New()
	addSource(t, g, "src", generator(-1))
	addStage(t, g, "xf", passthrough())
	addSink(t, g, "slow", node.ProcessorFunc(func(context.Context, *node.Invocation) error {
		time.Sleep(time.Millisecond)
		return nil
	}))
	connect(t, g, "src.out", "xf.in", edge.Config{Depth: 2, Policy: edge.Block})
	connect(t, g, "xf.out", "slow.in", edge.Config{Depth: 2, Policy: edge.Block})

	pool := buffer.NewPool(buffer.PoolConfig{})
	s := New(g, WithWorkers(4), WithPool(pool))
	require.NoError(t, s.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop() }()
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	for _, n := range g.Nodes() {
		assert.Equal(t, node.Stopped, n.State(), n.Name())
	}
	for _, e := range g.Edges() {
		assert.True(t, e.Closed())
		assert.Zero(t, e.Len())
	}
	assert.Equal(t, int64(0), pool.Stats().InUse)
	assert.NoError(t, s.Stop(), "Stop is idempotent")
}

func TestScheduler_StopWaitsForRunningInvocation(t *testing.T) {
	g := graph.New()
	started := make(chan struct{})
	var once sync.Once
	var finished atomic.Bool
	addSource(t, g, "src", node.ProcessorFunc(func(context.Context, *node.Invocation) error {
		once.Do(func() { close(started) })
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return node.ErrEndOfStream
	}))

	s := New(g, WithWorkers(2))
	require.NoError(t, s.Start(context.Background()))
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("source was never invoked")
	}

	require.NoError(t, s.Stop())
	assert.True(t, finished.Load(), "Stop returned while an invocation was still running")
	src, _ := g.Node("src")
	assert.Equal(t, node.Stopped, src.State())
}

func TestScheduler_CancelledStartContextClosesDispatch(t *testing.T) {
	g := graph.New()
	sink := &collector{}
	addSource(t, g, "src", generator(200))
	addSink(t, g, "sink", node.ProcessorFunc(func(ctx context.Context, inv *node.Invocation) error {
		time.Sleep(time.Millisecond)
		return sink.Process(ctx, inv)
	}))
	connect(t, g, "src.out", "sink.in", edge.Config{Depth: 1, Policy: edge.Block})

	pool := buffer.NewPool(buffer.PoolConfig{})
	s := New(g, WithWorkers(2), WithPool(pool))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	time.Sleep(5 * time.Millisecond)
	cancel()

	waitIdle(t, s)
	src, _ := g.Node("src")
	invocations := src.Invocations()
	assert.Less(t, invocations, uint64(200), "sources are not dispatched after the cancel")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, invocations, src.Invocations())
	assert.True(t, s.Running(), "workers are joined by Stop only")
	assert.NoError(t, s.Err())
	assert.NotEqual(t, node.Failed, src.State())
	assert.Zero(t, src.Stats().Failures, "a refused push during shutdown is not a failure")

	require.NoError(t, s.Stop())
	st := g.Edges()[0].Stats()
	seqs := sink.Seqs()
	assert.Zero(t, st.Dropped)
	assert.Equal(t, st.Pushed, uint64(len(seqs))+st.Discarded, "every accepted buffer was delivered or reported as discarded")
	for i, seq := range seqs {
		assert.Equal(t, uint64(i+1), seq)
	}
	assert.Equal(t, int64(0), pool.Stats().InUse)
}

func TestScheduler_ResetNodeNeedsARun(t *testing.T) {
	badSeen := &collector{}
	g := branches(t, failingAt(1, badSeen), &collector{})
	s := New(g, WithWorkers(2))
	assert.ErrorIs(t, s.ResetNode("bad"), ErrNotRunning)

	require.NoError(t, s.Start(context.Background()))
	waitIdle(t, s)
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.ResetNode("bad"), ErrNotRunning)
	assert.NotErrorIs(t, s.ResetNode("missing"), ErrNotRunning)
}

func TestScheduler_ResetNodeDuringRestart(t *testing.T) {
	g := branches(t, failingAt(1, &collector{}), &collector{})
	s := New(g, WithWorkers(2))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = s.ResetNode("bad")
				_, _ = s.Snapshot()
			}
		}
	}()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Start(context.Background()))
		waitIdle(t, s)
		require.NoError(t, s.Stop())
	}
	close(stop)
	wg.Wait()
}

func TestScheduler_RestartAfterReconfigure(t *testing.T) {
	g := graph.New()
	first := &collector{}
	addSource(t, g, "src", generator(3))
	addSink(t, g, "sink", first)
	connect(t, g, "src.out", "sink.in", edge.Config{})

	s := New(g, WithWorkers(2))
	require.NoError(t, s.Start(context.Background()))
	waitIdle(t, s)
	require.NoError(t, s.Stop())
	assert.Len(t, first.Seqs(), 3)

	second := &collector{}
	addSink(t, g, "tap", second)
	require.NoError(t, g.RemoveNode("src"))
	addSource(t, g, "src2", generator(5))
	connect(t, g, "src2.out", "sink.in", edge.Config{})
	connect(t, g, "src2.out", "tap.in", edge.Config{})

	require.NoError(t, s.Start(context.Background()))
	waitIdle(t, s)
	require.NoError(t, s.Stop())
	assert.Len(t, first.Seqs(), 8)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, second.Seqs())
}

func TestScheduler_ExternalInput(t *testing.T) {
	g := graph.New()
	sink := &collector{}
	addStage(t, g, "xf", passthrough())
	addSink(t, g, "sink", sink)
	connect(t, g, "xf.out", "sink.in", edge.Config{})
	in, err := g.AddInput("xf", "in", edge.Config{Depth: 2})
	require.NoError(t, err)

	s := New(g, WithWorkers(2))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	for i := 1; i <= 5; i++ {
		b := buffer.New([]byte{byte(i)})
		b.Seq = uint64(i)
		_, err := in.Push(context.Background(), b)
		require.NoError(t, err)
		b.Release()
	}
	waitIdle(t, s)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, sink.Seqs())
}

func TestScheduler_SnapshotConsistency(t *testing.T) {
	g := graph.New()
	addSource(t, g, "src", generator(-1))
	addStage(t, g, "xf", passthrough())
	addSink(t, g, "sink", node.ProcessorFunc(func(context.Context, *node.Invocation) error {
		time.Sleep(100 * time.Microsecond)
		return nil
	}))
	connect(t, g, "src.out", "xf.in", edge.Config{Depth: 4})
	connect(t, g, "xf.out", "sink.in", edge.Config{Depth: 4})

	const workers = 2
	s := New(g, WithWorkers(workers))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	deadline := time.Now().Add(50 * time.Millisecond)
	for time.Now().Before(deadline) {
		snap, err := s.Snapshot()
		require.NoError(t, err)
		require.True(t, snap.Scheduler.Running)
		assert.NotEmpty(t, snap.Scheduler.RunID)
		assert.LessOrEqual(t, snap.Scheduler.Active, workers)

		inFlight := 0
		for _, n := range snap.Nodes {
			if n.State == "Running" {
				assert.Equal(t, 1, n.InFlight, n.Name)
			} else {
				assert.Equal(t, 0, n.InFlight, n.Name)
			}
			inFlight += n.InFlight
		}
		assert.LessOrEqual(t, inFlight, workers)
		for _, e := range snap.Edges {
			assert.LessOrEqual(t, e.Queued, e.Depth)
		}
	}
}

func TestScheduler_ProfilingSpansBracketInvocations(t *testing.T) {
	rec := profiling.NewRecorder(0)
	g := graph.New()
	addSource(t, g, "src", generator(5))
	addSink(t, g, "sink", &collector{})
	connect(t, g, "src.out", "sink.in", edge.Config{})

	s := New(g, WithWorkers(3), WithProfiler(rec))
	require.NoError(t, s.Start(context.Background()))
	waitIdle(t, s)
	require.NoError(t, s.Stop())

	open := map[string]bool{}
	counts := map[string]int{}
	for _, ev := range rec.Events() {
		switch ev.Kind {
		case profiling.Begin:
			assert.False(t, open[ev.Name], "nested span for %s", ev.Name)
			open[ev.Name] = true
			counts[ev.Name]++
		case profiling.End:
			assert.True(t, open[ev.Name], "end without begin for %s", ev.Name)
			open[ev.Name] = false
		}
	}
	assert.Equal(t, 6, counts["src::execute"], "five buffers plus end of stream")
	assert.Equal(t, 5, counts["sink::execute"])
	for name, isOpen := range open {
		assert.False(t, isOpen, name)
	}
}

func TestScheduler_StartLogsRun(t *testing.T) {
	testCases := []struct {
		name     string
		profiler profiling.Profiler
		want     string
	}{
		{name: "nop", profiler: profiling.Nop{}, want: "profiling=false"},
		{name: "recorder", profiler: profiling.NewRecorder(0), want: "profiling=true"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var logs bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&logs, nil))
			g := graph.New()
			addSource(t, g, "src", generator(0))

			s := New(g, WithWorkers(1), WithProfiler(tc.profiler), WithLogger(logger))
			require.NoError(t, s.Start(context.Background()))
			waitIdle(t, s)
			require.NoError(t, s.Stop())

			out := logs.String()
			assert.Contains(t, out, `msg="Scheduler started."`)
			assert.Contains(t, out, tc.want)
			assert.Contains(t, out, `msg="Scheduler stopped."`)
		})
	}
}

func TestScheduler_WaitIdleHonoursContext(t *testing.T) {
	g := graph.New()
	addSource(t, g, "src", generator(-1))
	addSink(t, g, "sink", &collector{})
	connect(t, g, "src.out", "sink.in", edge.Config{Policy: edge.DropNewest})

	s := New(g, WithWorkers(2))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.WaitIdle(ctx), context.DeadlineExceeded)
}

func TestFatalError(t *testing.T) {
	cause := errors.New("boom")
	err := &FatalError{Node: "n", Detail: "state corrupted", Err: cause}
	assert.Equal(t, "fatal scheduler error at node 'n': state corrupted: boom", err.Error())
	assert.ErrorIs(t, err, cause)
}

package node

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/vk/framegraph/internal/edge"
	"github.com/vk/framegraph/internal/property"
)

// ID is a node's index in its graph's arena.
type ID int

// Config describes a node to add to a graph.
type Config struct {
	Name       string
	Kind       string
	Inputs     []Port
	Outputs    []Port
	Processor  Processor
	Properties *property.Set
}

// Stats is a read of a node's counters. Every field is loaded atomically;
// State and InFlight come from the same load.
type Stats struct {
	State       State
	InFlight    int
	Invocations uint64
	Busy        time.Duration
	Failures    uint64
	LastError   string
	Exhausted   bool
}

// Node is one processing stage.
type Node struct {
	id       ID
	name     string
	kind     string
	inputs   []Port
	outputs  []Port
	proc     Processor
	props    *property.Set
	spanName string

	inEdges  []*edge.Edge
	outEdges [][]*edge.Edge

	state       atomic.Int32
	exhausted   atomic.Bool
	entered     atomic.Int32
	invocations atomic.Uint64
	busyNanos   atomic.Int64
	failures    atomic.Uint64
	lastErr     atomic.Pointer[string]
}

// New creates an unwired node. The graph assigns its id.
func New(id ID, cfg Config) (*Node, error) {
	if cfg.Processor == nil {
		return nil, errors.New("node requires a processor")
	}
	props := cfg.Properties
	if props == nil {
		props = property.NewSet()
	}
	return &Node{
		id:       id,
		name:     cfg.Name,
		kind:     cfg.Kind,
		inputs:   append([]Port(nil), cfg.Inputs...),
		outputs:  append([]Port(nil), cfg.Outputs...),
		proc:     cfg.Processor,
		props:    props,
		spanName: cfg.Name + "::execute",
		inEdges:  make([]*edge.Edge, len(cfg.Inputs)),
		outEdges: make([][]*edge.Edge, len(cfg.Outputs)),
	}, nil
}

// ID returns the arena index.
func (n *Node) ID() ID { return n.id }

// Name returns the unique node name.
func (n *Node) Name() string { return n.name }

func (n *Node) Kind() string { return n.kind }

func (n *Node) Inputs() []Port { return n.inputs }

func (n *Node) Outputs() []Port { return n.outputs }

func (n *Node) Processor() Processor { return n.proc }

func (n *Node) Properties() *property.Set { return n.props }

// InputEdge returns the edge bound to input port, or nil.
func (n *Node) InputEdge(port int) *edge.Edge { return n.inEdges[port] }

// SpanName is the profiling span name, "<name>::execute".
func (n *Node) SpanName() string { return n.spanName }

// OutputEdges returns the edges fed by output port.
func (n *Node) OutputEdges(port int) []*edge.Edge { return n.outEdges[port] }

// InputIndex returns the index of the named input port, or -1.
func (n *Node) InputIndex(name string) int {
	for i, p := range n.inputs {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// OutputIndex returns the index of the named output port, or -1.
func (n *Node) OutputIndex(name string) int {
	for i, p := range n.outputs {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Wire replaces the node's edge bindings. Only the graph calls it, and only
// while the graph is quiesced.
func (n *Node) Wire(inputs []*edge.Edge, outputs [][]*edge.Edge) {
	n.inEdges = inputs
	n.outEdges = outputs
}

// Satisfied reports whether the inputs allow an invocation: every gating
// input holds a buffer, and at least one input holds one. A node without
// inputs is satisfied until its processor reports end of stream.
func (n *Node) Satisfied() bool {
	if len(n.inputs) == 0 {
		return !n.exhausted.Load()
	}
	buffered := false
	for i, p := range n.inputs {
		e := n.inEdges[i]
		if e != nil && e.Len() > 0 {
			buffered = true
			continue
		}
		if p.Gating() {
			return false
		}
	}
	return buffered
}

// State returns the current state.
func (n *Node) State() State { return State(n.state.Load()) }

// TryMarkReady moves an Idle node to Ready if its inputs are satisfied. It
// returns true for the caller that made the transition, which must then
// queue the node.
func (n *Node) TryMarkReady() bool {
	if n.State() != Idle || !n.Satisfied() {
		return false
	}
	return n.state.CompareAndSwap(int32(Idle), int32(Ready))
}

// Claim moves a Ready node to Running. Only one caller can win.
func (n *Node) Claim() bool {
	return n.state.CompareAndSwap(int32(Ready), int32(Running))
}

// Enter and Leave bracket the processor call. Enter returns the number of
// concurrent entries, which is 1 unless the claim protocol was violated.
func (n *Node) Enter() int32 { return n.entered.Add(1) }

// Leave undoes Enter.
func (n *Node) Leave() { n.entered.Add(-1) }

// Finish ends a successful run. requeue is true when the node went straight
// back to Ready and must be queued again. ok is false if the node was not
// Running, which is an invariant violation.
func (n *Node) Finish() (requeue, ok bool) {
	if n.Satisfied() {
		if n.state.CompareAndSwap(int32(Running), int32(Ready)) {
			return true, true
		}
		return false, false
	}
	if !n.state.CompareAndSwap(int32(Running), int32(Idle)) {
		return false, false
	}
	// A push may have landed between Satisfied and the store above.
	return n.TryMarkReady(), true
}

// Fail moves a Running node to Failed and records err.
func (n *Node) Fail(err error) bool {
	n.failures.Add(1)
	msg := err.Error()
	n.lastErr.Store(&msg)
	return n.state.CompareAndSwap(int32(Running), int32(Failed))
}

// Reset moves a Failed node back to Idle. The last error is kept for
// introspection. It returns false if the node was not Failed.
func (n *Node) Reset() bool {
	return n.state.CompareAndSwap(int32(Failed), int32(Idle))
}

// MarkExhausted records that a generator has nothing more to produce.
func (n *Node) MarkExhausted() { n.exhausted.Store(true) }

// Prepare puts the node in Idle for a new run. Call only while quiesced.
func (n *Node) Prepare() {
	n.exhausted.Store(false)
	n.state.Store(int32(Idle))
}

// Halt moves the node to Stopped. Call only after every worker has joined.
func (n *Node) Halt() {
	n.state.Store(int32(Stopped))
}

// Record adds one invocation of duration d to the counters.
func (n *Node) Record(d time.Duration) {
	n.invocations.Add(1)
	n.busyNanos.Add(int64(d))
}

// Invocations returns the number of completed invocations.
func (n *Node) Invocations() uint64 { return n.invocations.Load() }

// Stats reads the counters without locking.
func (n *Node) Stats() Stats {
	state := n.State()
	s := Stats{
		State:       state,
		Invocations: n.invocations.Load(),
		Busy:        time.Duration(n.busyNanos.Load()),
		Failures:    n.failures.Load(),
		Exhausted:   n.exhausted.Load(),
	}
	if state == Running {
		s.InFlight = 1
	}
	if msg := n.lastErr.Load(); msg != nil {
		s.LastError = *msg
	}
	return s
}

// Package introspect builds read-only views of a running graph.
//
// A Snapshot is assembled from atomic counters and short-held locks, so it
// can be taken at any time from any goroutine without pausing the workers.
// Counters are read one by one and are not a consistent cut across nodes,
// but a single node's State and InFlight always come from the same load.
package introspect

import (
	"time"

	"github.com/vk/framegraph/internal/buffer"
	"github.com/vk/framegraph/internal/edge"
	"github.com/vk/framegraph/internal/graph"
	"github.com/vk/framegraph/internal/node"
	"github.com/vk/framegraph/internal/portref"
)

// ExternalEndpoint names the host side of an input edge.
const ExternalEndpoint = "<external>"

// Source is anything that can produce a snapshot.
type Source interface {
	Snapshot() (Snapshot, error)
}

// Snapshot is a point-in-time view of the scheduler, the pool and the graph.
type Snapshot struct {
	Taken     time.Time        `json:"taken"`
	Scheduler SchedulerState   `json:"scheduler"`
	Pool      buffer.PoolStats `json:"pool"`
	Nodes     []NodeSnapshot   `json:"nodes"`
	Edges     []EdgeSnapshot   `json:"edges"`
}

// SchedulerState describes the worker pool.
type SchedulerState struct {
	RunID    string `json:"runId,omitempty"`
	Running  bool   `json:"running"`
	Halted   bool   `json:"halted"`
	FailFast bool   `json:"failFast"`
	Workers  int    `json:"workers"`
	Active   int    `json:"active"`
	Queued   int    `json:"queued"`
	Error    string `json:"error,omitempty"`
}

// NodeSnapshot describes one node.
type NodeSnapshot struct {
	ID          int               `json:"id"`
	Name        string            `json:"name"`
	Kind        string            `json:"kind"`
	State       string            `json:"state"`
	InFlight    int               `json:"inFlight"`
	Invocations uint64            `json:"invocations"`
	BusyMillis  float64           `json:"busyMillis"`
	Failures    uint64            `json:"failures"`
	LastError   string            `json:"lastError,omitempty"`
	Exhausted   bool              `json:"exhausted,omitempty"`
	Inputs      []PortSnapshot    `json:"inputs"`
	Outputs     []PortSnapshot    `json:"outputs"`
	Properties  map[string]string `json:"properties,omitempty"`
}

// PortSnapshot describes one port and the edges bound to it.
type PortSnapshot struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Optional bool   `json:"optional,omitempty"`
	Feedback bool   `json:"feedback,omitempty"`
	Edges    []int  `json:"edges"`
	Queued   int    `json:"queued"`
}

// EdgeSnapshot describes one edge.
type EdgeSnapshot struct {
	ID       int    `json:"id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Depth    int    `json:"depth"`
	Policy   string `json:"policy"`
	Feedback  bool   `json:"feedback,omitempty"`
	Closed    bool   `json:"closed,omitempty"`
	Queued    int    `json:"queued"`
	Pushed    uint64 `json:"pushed"`
	Taken     uint64 `json:"taken"`
	Dropped   uint64 `json:"dropped"`
	Blocked   uint64 `json:"blocked"`
	Discarded uint64 `json:"discarded"`
}

// Node returns the snapshot of the named node.
func (s Snapshot) Node(name string) (NodeSnapshot, bool) {
	for _, n := range s.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return NodeSnapshot{}, false
}

// Capture walks g and combines it with the given scheduler and pool state.
func Capture(g *graph.Graph, sched SchedulerState, pool buffer.PoolStats) (Snapshot, error) {
	snap := Snapshot{
		Taken:     time.Now(),
		Scheduler: sched,
		Pool:      pool,
		Nodes:     []NodeSnapshot{},
		Edges:     []EdgeSnapshot{},
	}
	names := make(map[int]*node.Node)
	index := make(map[int]int)

	err := g.Walk(graph.VisitorFuncs{
		Node: func(n *node.Node) error {
			names[int(n.ID())] = n
			index[int(n.ID())] = len(snap.Nodes)
			st := n.Stats()
			snap.Nodes = append(snap.Nodes, NodeSnapshot{
				ID:          int(n.ID()),
				Name:        n.Name(),
				Kind:        n.Kind(),
				State:       st.State.String(),
				InFlight:    st.InFlight,
				Invocations: st.Invocations,
				BusyMillis:  float64(st.Busy) / float64(time.Millisecond),
				Failures:    st.Failures,
				LastError:   st.LastError,
				Exhausted:   st.Exhausted,
				Inputs:      []PortSnapshot{},
				Outputs:     []PortSnapshot{},
			})
			return nil
		},
		Port: func(n *node.Node, i int, p node.Port, input bool) error {
			ns := &snap.Nodes[index[int(n.ID())]]
			ps := PortSnapshot{
				Name:     p.Name,
				Type:     p.MediaType(),
				Optional: p.Optional,
				Feedback: p.Feedback,
				Edges:    []int{},
			}
			if input {
				if e := n.InputEdge(i); e != nil {
					ps.Edges = append(ps.Edges, int(e.ID))
					ps.Queued = e.Len()
				}
				ns.Inputs = append(ns.Inputs, ps)
				return nil
			}
			for _, e := range n.OutputEdges(i) {
				ps.Edges = append(ps.Edges, int(e.ID))
				ps.Queued += e.Len()
			}
			ns.Outputs = append(ns.Outputs, ps)
			return nil
		},
		Property: func(n *node.Node, name, value string) error {
			ns := &snap.Nodes[index[int(n.ID())]]
			if ns.Properties == nil {
				ns.Properties = make(map[string]string)
			}
			ns.Properties[name] = value
			return nil
		},
		Edge: func(e *edge.Edge) error {
			st := e.Stats()
			snap.Edges = append(snap.Edges, EdgeSnapshot{
				ID:       int(e.ID),
				From:     endpointName(names, e.From, false),
				To:       endpointName(names, e.To, true),
				Depth:    e.Depth(),
				Policy:   e.Policy().String(),
				Feedback: e.Feedback(),
				Closed:   e.Closed(),
				Queued:   st.Queued,
				Pushed:   st.Pushed,
				Taken:    st.Taken,
				Dropped:  st.Dropped,
				Blocked:  st.Blocked,

				Discarded: st.Discarded,
			})
			return nil
		},
	})
	return snap, err
}

func endpointName(nodes map[int]*node.Node, ep edge.Endpoint, input bool) string {
	if ep.Node == edge.External {
		return ExternalEndpoint
	}
	n, ok := nodes[ep.Node]
	if !ok {
		return ExternalEndpoint
	}
	ports := n.Outputs()
	if input {
		ports = n.Inputs()
	}
	ref := portref.Ref{Node: n.Name()}
	if ep.Port >= 0 && ep.Port < len(ports) {
		ref.Port = ports[ep.Port].Name
	}
	return ref.String()
}

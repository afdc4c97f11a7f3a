package metrics

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/framegraph/internal/buffer"
	"github.com/vk/framegraph/internal/introspect"
)

type staticSource struct {
	snap introspect.Snapshot
	err  error
}

func (s staticSource) Snapshot() (introspect.Snapshot, error) { return s.snap, s.err }

func sampleSnapshot() introspect.Snapshot {
	return introspect.Snapshot{
		Scheduler: introspect.SchedulerState{Running: true, Workers: 4, Active: 1, Queued: 2},
		Pool:      buffer.PoolStats{Allocated: 4096, InUse: 1024, Exhausted: 3},
		Nodes: []introspect.NodeSnapshot{
			{ID: 0, Name: "src", Kind: "testsource", State: "Running", InFlight: 1, Invocations: 10, BusyMillis: 1500},
			{ID: 1, Name: "sink", Kind: "print", State: "Failed", Invocations: 4, Failures: 1},
		},
		Edges: []introspect.EdgeSnapshot{
			{ID: 0, From: "src.out", To: "sink.in", Depth: 4, Policy: "block", Queued: 3, Pushed: 10, Dropped: 2, Discarded: 1},
		},
	}
}

func TestCollector(t *testing.T) {
	c := NewCollector(staticSource{snap: sampleSnapshot()})

	expected := `
# HELP framegraph_node_invocations_total Completed invocations per node.
# TYPE framegraph_node_invocations_total counter
framegraph_node_invocations_total{kind="print",node="sink"} 4
framegraph_node_invocations_total{kind="testsource",node="src"} 10
# HELP framegraph_edge_dropped_total Buffers discarded by the edge's overflow policy.
# TYPE framegraph_edge_dropped_total counter
framegraph_edge_dropped_total{edge="0",from="src.out",to="sink.in"} 2
# HELP framegraph_edge_discarded_total Queued buffers released when the edge was closed.
# TYPE framegraph_edge_discarded_total counter
framegraph_edge_discarded_total{edge="0",from="src.out",to="sink.in"} 1
# HELP framegraph_scheduler_workers Size of the worker pool.
# TYPE framegraph_scheduler_workers gauge
framegraph_scheduler_workers 4
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"framegraph_node_invocations_total", "framegraph_edge_dropped_total",
		"framegraph_edge_discarded_total", "framegraph_scheduler_workers")
	assert.NoError(t, err)
}

func TestCollector_NodeStateIsOneHot(t *testing.T) {
	c := NewCollector(staticSource{snap: sampleSnapshot()})

	expected := `
# HELP framegraph_node_state 1 for the node's current state, 0 otherwise.
# TYPE framegraph_node_state gauge
framegraph_node_state{node="sink",state="Failed"} 1
framegraph_node_state{node="sink",state="Idle"} 0
framegraph_node_state{node="sink",state="Ready"} 0
framegraph_node_state{node="sink",state="Running"} 0
framegraph_node_state{node="sink",state="Stopped"} 0
framegraph_node_state{node="src",state="Failed"} 0
framegraph_node_state{node="src",state="Idle"} 0
framegraph_node_state{node="src",state="Ready"} 0
framegraph_node_state{node="src",state="Running"} 1
framegraph_node_state{node="src",state="Stopped"} 0
`
	assert.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "framegraph_node_state"))
}

func TestCollector_BusySeconds(t *testing.T) {
	c := NewCollector(staticSource{snap: sampleSnapshot()})
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() != "framegraph_node_busy_seconds_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "node" && lp.GetValue() == "src" {
					assert.InDelta(t, 1.5, m.GetCounter().GetValue(), 1e-9)
					found = true
				}
			}
		}
	}
	assert.True(t, found)
}

func TestCollector_SnapshotError(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(staticSource{err: errors.New("graph gone")})))
	_, err := reg.Gather()
	assert.ErrorContains(t, err, "graph gone")
}

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry(staticSource{snap: sampleSnapshot()})
	require.NoError(t, err)
	count, err := testutil.GatherAndCount(reg, "framegraph_pool_bytes")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

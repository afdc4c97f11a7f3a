// Package metrics exports scheduler snapshots as Prometheus metrics.
//
// The collector takes one snapshot per scrape, so every value in a scrape
// comes from the same point in time and nothing is recorded on the hot path.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/vk/framegraph/internal/introspect"
	"github.com/vk/framegraph/internal/node"
)

// Namespace prefixes every metric name.
const Namespace = "framegraph"

var nodeStates = []node.State{node.Idle, node.Ready, node.Running, node.Failed, node.Stopped}

// Collector implements prometheus.Collector over an introspect.Source.
type Collector struct {
	source introspect.Source

	nodeInvocations *prometheus.Desc
	nodeFailures    *prometheus.Desc
	nodeBusy        *prometheus.Desc
	nodeState       *prometheus.Desc
	edgeQueued      *prometheus.Desc
	edgeDepth       *prometheus.Desc
	edgePushed      *prometheus.Desc
	edgeDropped     *prometheus.Desc
	edgeBlocked     *prometheus.Desc
	edgeDiscarded   *prometheus.Desc
	poolBytes       *prometheus.Desc
	poolExhausted   *prometheus.Desc
	poolFaults      *prometheus.Desc
	workers         *prometheus.Desc
	activeWorkers   *prometheus.Desc
	readyQueue      *prometheus.Desc
	running         *prometheus.Desc
}

// NewCollector creates a collector reading from source.
func NewCollector(source introspect.Source) *Collector {
	nodeLabels := []string{"node", "kind"}
	edgeLabels := []string{"edge", "from", "to"}
	return &Collector{
		source:          source,
		nodeInvocations: desc("node", "invocations_total", "Completed invocations per node.", nodeLabels),
		nodeFailures:    desc("node", "failures_total", "Failed invocations per node.", nodeLabels),
		nodeBusy:        desc("node", "busy_seconds_total", "Time spent inside the node's processor.", nodeLabels),
		nodeState:       desc("node", "state", "1 for the node's current state, 0 otherwise.", []string{"node", "state"}),
		edgeQueued:      desc("edge", "queued_buffers", "Buffers currently queued on the edge.", edgeLabels),
		edgeDepth:       desc("edge", "depth", "Capacity of the edge.", edgeLabels),
		edgePushed:      desc("edge", "pushed_total", "Buffers accepted by the edge.", edgeLabels),
		edgeDropped:     desc("edge", "dropped_total", "Buffers discarded by the edge's overflow policy.", edgeLabels),
		edgeBlocked:     desc("edge", "blocked_total", "Pushes that did not complete.", edgeLabels),
		edgeDiscarded:   desc("edge", "discarded_total", "Queued buffers released when the edge was closed.", edgeLabels),
		poolBytes:       desc("pool", "bytes", "Buffer pool memory by category.", []string{"category"}),
		poolExhausted:   desc("pool", "exhausted_total", "Acquisitions refused because of the memory limit.", nil),
		poolFaults:      desc("pool", "release_faults_total", "Releases of buffers with no outstanding reference.", nil),
		workers:         desc("scheduler", "workers", "Size of the worker pool.", nil),
		activeWorkers:   desc("scheduler", "active_workers", "Workers currently running an invocation.", nil),
		readyQueue:      desc("scheduler", "ready_queue_length", "Nodes waiting for a worker.", nil),
		running:         desc("scheduler", "running", "1 while the scheduler is running.", nil),
	}
}

func desc(subsystem, name, help string, labels []string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(Namespace, subsystem, name), help, labels, nil)
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.nodeInvocations, c.nodeFailures, c.nodeBusy, c.nodeState,
		c.edgeQueued, c.edgeDepth, c.edgePushed, c.edgeDropped, c.edgeBlocked, c.edgeDiscarded,
		c.poolBytes, c.poolExhausted, c.poolFaults,
		c.workers, c.activeWorkers, c.readyQueue, c.running,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap, err := c.source.Snapshot()
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.running, err)
		return
	}

	for _, n := range snap.Nodes {
		ch <- prometheus.MustNewConstMetric(c.nodeInvocations, prometheus.CounterValue, float64(n.Invocations), n.Name, n.Kind)
		ch <- prometheus.MustNewConstMetric(c.nodeFailures, prometheus.CounterValue, float64(n.Failures), n.Name, n.Kind)
		ch <- prometheus.MustNewConstMetric(c.nodeBusy, prometheus.CounterValue, n.BusyMillis/1000, n.Name, n.Kind)
		for _, st := range nodeStates {
			v := 0.0
			if st.String() == n.State {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(c.nodeState, prometheus.GaugeValue, v, n.Name, st.String())
		}
	}

	for _, e := range snap.Edges {
		labels := []string{strconv.Itoa(e.ID), e.From, e.To}
		ch <- prometheus.MustNewConstMetric(c.edgeQueued, prometheus.GaugeValue, float64(e.Queued), labels...)
		ch <- prometheus.MustNewConstMetric(c.edgeDepth, prometheus.GaugeValue, float64(e.Depth), labels...)
		ch <- prometheus.MustNewConstMetric(c.edgePushed, prometheus.CounterValue, float64(e.Pushed), labels...)
		ch <- prometheus.MustNewConstMetric(c.edgeDropped, prometheus.CounterValue, float64(e.Dropped), labels...)
		ch <- prometheus.MustNewConstMetric(c.edgeBlocked, prometheus.CounterValue, float64(e.Blocked), labels...)
		ch <- prometheus.MustNewConstMetric(c.edgeDiscarded, prometheus.CounterValue, float64(e.Discarded), labels...)
	}

	ch <- prometheus.MustNewConstMetric(c.poolBytes, prometheus.GaugeValue, float64(snap.Pool.Allocated), "allocated")
	ch <- prometheus.MustNewConstMetric(c.poolBytes, prometheus.GaugeValue, float64(snap.Pool.InUse), "in_use")
	ch <- prometheus.MustNewConstMetric(c.poolBytes, prometheus.GaugeValue, float64(snap.Pool.Limit), "limit")
	ch <- prometheus.MustNewConstMetric(c.poolExhausted, prometheus.CounterValue, float64(snap.Pool.Exhausted))
	ch <- prometheus.MustNewConstMetric(c.poolFaults, prometheus.CounterValue, float64(snap.Pool.ReleaseFaults))

	ch <- prometheus.MustNewConstMetric(c.workers, prometheus.GaugeValue, float64(snap.Scheduler.Workers))
	ch <- prometheus.MustNewConstMetric(c.activeWorkers, prometheus.GaugeValue, float64(snap.Scheduler.Active))
	ch <- prometheus.MustNewConstMetric(c.readyQueue, prometheus.GaugeValue, float64(snap.Scheduler.Queued))
	running := 0.0
	if snap.Scheduler.Running {
		running = 1
	}
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, running)
}

// NewRegistry returns a private registry holding a Collector for source plus
// the Go runtime and process collectors.
func NewRegistry(source introspect.Source) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for _, col := range []prometheus.Collector{
		NewCollector(source),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/vk/framegraph/internal/edge"
	"github.com/vk/framegraph/internal/node"
	"github.com/vk/framegraph/internal/portref"
)

// Graph is an arena of nodes and edges.
type Graph struct {
	mutex  sync.RWMutex
	nodes  []*node.Node
	edges  []*edge.Edge
	byName map[string]node.ID
	frozen bool
}

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{byName: make(map[string]node.ID)}
}

// Freeze forbids topology changes. The scheduler calls it on start. It waits
// for a mutation in progress, and every mutation after it returns ErrFrozen.
func (g *Graph) Freeze() {
	g.mutex.Lock()
	g.frozen = true
	g.mutex.Unlock()
}

// Thaw allows topology changes again.
func (g *Graph) Thaw() {
	g.mutex.Lock()
	g.frozen = false
	g.mutex.Unlock()
}

// Frozen reports whether the graph is running.
func (g *Graph) Frozen() bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.frozen
}

// AddNode adds a node. The name must be unique and valid, and port names
// must be unique per direction.
func (g *Graph) AddNode(cfg node.Config) (node.ID, error) {
	if err := portref.ValidName(cfg.Name); err != nil {
		return -1, buildErr(KindInvalidNode, cfg.Name, "", "%v", err)
	}
	if err := checkPorts(cfg.Name, cfg.Inputs); err != nil {
		return -1, err
	}
	if err := checkPorts(cfg.Name, cfg.Outputs); err != nil {
		return -1, err
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()
	if g.frozen {
		return -1, ErrFrozen
	}

	if _, ok := g.byName[cfg.Name]; ok {
		return -1, buildErr(KindDuplicateNode, cfg.Name, "", "a node with this name already exists")
	}
	id := node.ID(len(g.nodes))
	n, err := node.New(id, cfg)
	if err != nil {
		return -1, buildErr(KindInvalidNode, cfg.Name, "", "%v", err)
	}
	g.nodes = append(g.nodes, n)
	g.byName[cfg.Name] = id
	return id, nil
}

func checkPorts(nodeName string, ports []node.Port) error {
	seen := make(map[string]struct{}, len(ports))
	for _, p := range ports {
		if err := portref.ValidName(p.Name); err != nil {
			return buildErr(KindInvalidNode, nodeName, p.Name, "%v", err)
		}
		if _, dup := seen[p.Name]; dup {
			return buildErr(KindInvalidNode, nodeName, p.Name, "duplicate port name")
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// AddEdge connects srcPort of srcNode to dstPort of dstNode. An empty port
// name selects the node's first port. Nothing is changed when an error is
// returned.
func (g *Graph) AddEdge(srcNode, srcPort, dstNode, dstPort string, cfg edge.Config) (edge.ID, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if g.frozen {
		return -1, ErrFrozen
	}

	src, srcIdx, err := g.resolveLocked(srcNode, srcPort, false)
	if err != nil {
		return -1, err
	}
	dst, dstIdx, err := g.resolveLocked(dstNode, dstPort, true)
	if err != nil {
		return -1, err
	}
	if err := g.checkEdgeLocked(src, srcIdx, dst, dstIdx, cfg.Feedback); err != nil {
		return -1, err
	}
	if src.ID() == dst.ID() && !cfg.Feedback {
		return -1, buildErr(KindCycle, dst.Name(), dst.Inputs()[dstIdx].Name, "self-referential edge must be marked as feedback")
	}

	e := g.appendEdgeLocked(cfg, edge.Endpoint{Node: int(src.ID()), Port: srcIdx}, edge.Endpoint{Node: int(dst.ID()), Port: dstIdx})
	g.rewireLocked(src.ID())
	g.rewireLocked(dst.ID())
	return e.ID, nil
}

// Connect is AddEdge with `node.port` references.
func (g *Graph) Connect(from, to string, cfg edge.Config) (edge.ID, error) {
	src, err := portref.Parse(from)
	if err != nil {
		return -1, buildErr(KindUnknownPort, "", "", "%v", err)
	}
	dst, err := portref.Parse(to)
	if err != nil {
		return -1, buildErr(KindUnknownPort, "", "", "%v", err)
	}
	return g.AddEdge(src.Node, src.Port, dst.Node, dst.Port, cfg)
}

// AddInput creates an external edge that the host feeds directly with Push.
func (g *Graph) AddInput(dstNode, dstPort string, cfg edge.Config) (*edge.Edge, error) {
	if cfg.Feedback {
		return nil, buildErr(KindFeedback, dstNode, dstPort, "external inputs cannot be feedback edges")
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()
	if g.frozen {
		return nil, ErrFrozen
	}

	dst, dstIdx, err := g.resolveLocked(dstNode, dstPort, true)
	if err != nil {
		return nil, err
	}
	if err := g.checkEdgeLocked(nil, 0, dst, dstIdx, false); err != nil {
		return nil, err
	}
	e := g.appendEdgeLocked(cfg, edge.Endpoint{Node: edge.External}, edge.Endpoint{Node: int(dst.ID()), Port: dstIdx})
	g.rewireLocked(dst.ID())
	return e, nil
}

func (g *Graph) appendEdgeLocked(cfg edge.Config, from, to edge.Endpoint) *edge.Edge {
	e := edge.New(cfg)
	e.ID = edge.ID(len(g.edges))
	e.From = from
	e.To = to
	g.edges = append(g.edges, e)
	return e
}

// resolveLocked finds a node and the index of one of its ports.
func (g *Graph) resolveLocked(nodeName, port string, input bool) (*node.Node, int, error) {
	id, ok := g.byName[nodeName]
	if !ok {
		return nil, 0, buildErr(KindUnknownNode, nodeName, port, "node not found")
	}
	n := g.nodes[id]
	ports := n.Outputs()
	dir := "output"
	if input {
		ports = n.Inputs()
		dir = "input"
	}
	if len(ports) == 0 {
		return nil, 0, buildErr(KindUnknownPort, nodeName, port, "node has no %s ports", dir)
	}
	if port == "" {
		return n, 0, nil
	}
	for i, p := range ports {
		if p.Name == port {
			return n, i, nil
		}
	}
	return nil, 0, buildErr(KindUnknownPort, nodeName, port, "%s port not found", dir)
}

// checkEdgeLocked applies the per-edge rules shared by AddEdge and Validate.
// src is nil for external inputs.
func (g *Graph) checkEdgeLocked(src *node.Node, srcIdx int, dst *node.Node, dstIdx int, feedback bool) error {
	in := dst.Inputs()[dstIdx]
	for _, e := range g.edges {
		if e != nil && e.To.Node == int(dst.ID()) && e.To.Port == dstIdx {
			return buildErr(KindPortTaken, dst.Name(), in.Name, "input already has an upstream edge (%d)", e.ID)
		}
	}
	if feedback && !in.Feedback {
		return buildErr(KindFeedback, dst.Name(), in.Name, "feedback edges must land on a port declared as a feedback input")
	}
	if src != nil {
		out := src.Outputs()[srcIdx]
		if !node.Compatible(out, in) {
			return buildErr(KindTypeMismatch, dst.Name(), in.Name, "'%s.%s' produces %s but the input accepts %s",
				src.Name(), out.Name, out.MediaType(), in.MediaType())
		}
	}
	return nil
}

// rewireLocked recomputes the edge bindings of one node.
func (g *Graph) rewireLocked(id node.ID) {
	n := g.nodes[id]
	if n == nil {
		return
	}
	inputs := make([]*edge.Edge, len(n.Inputs()))
	outputs := make([][]*edge.Edge, len(n.Outputs()))
	for _, e := range g.edges {
		if e == nil {
			continue
		}
		if e.To.Node == int(id) {
			inputs[e.To.Port] = e
		}
		if e.From.Node == int(id) {
			outputs[e.From.Port] = append(outputs[e.From.Port], e)
		}
	}
	n.Wire(inputs, outputs)
}

// RemoveEdge deletes an edge and drains its queue.
func (g *Graph) RemoveEdge(id edge.ID) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if g.frozen {
		return ErrFrozen
	}

	if int(id) < 0 || int(id) >= len(g.edges) || g.edges[id] == nil {
		return fmt.Errorf("edge not found: %d", id)
	}
	e := g.edges[id]
	g.edges[id] = nil
	e.Close()
	if e.From.Node != edge.External {
		g.rewireLocked(node.ID(e.From.Node))
	}
	g.rewireLocked(node.ID(e.To.Node))
	return nil
}

// RemoveNode deletes a node and every edge attached to it.
func (g *Graph) RemoveNode(name string) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if g.frozen {
		return ErrFrozen
	}

	id, ok := g.byName[name]
	if !ok {
		return fmt.Errorf("node not found: %s", name)
	}
	touched := make(map[node.ID]struct{})
	for i, e := range g.edges {
		if e == nil || (e.From.Node != int(id) && e.To.Node != int(id)) {
			continue
		}
		g.edges[i] = nil
		e.Close()
		if e.From.Node != edge.External {
			touched[node.ID(e.From.Node)] = struct{}{}
		}
		touched[node.ID(e.To.Node)] = struct{}{}
	}
	g.nodes[id] = nil
	delete(g.byName, name)
	for other := range touched {
		g.rewireLocked(other)
	}
	return nil
}

// Clear removes every node and edge.
func (g *Graph) Clear() error {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if g.frozen {
		return ErrFrozen
	}
	for _, e := range g.edges {
		if e != nil {
			e.Close()
		}
	}
	g.nodes = nil
	g.edges = nil
	g.byName = make(map[string]node.ID)
	return nil
}

// Node returns the node with the given name.
func (g *Graph) Node(name string) (*node.Node, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	id, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	return g.nodes[id], true
}

// NodeByID returns the node at an arena index.
func (g *Graph) NodeByID(id node.ID) (*node.Node, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	if int(id) < 0 || int(id) >= len(g.nodes) || g.nodes[id] == nil {
		return nil, false
	}
	return g.nodes[id], true
}

// Nodes returns the live nodes in arena order.
func (g *Graph) Nodes() []*node.Node {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	out := make([]*node.Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

// Edges returns the live edges in arena order.
func (g *Graph) Edges() []*edge.Edge {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	out := make([]*edge.Edge, 0, len(g.edges))
	for _, e := range g.edges {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// Edge returns the edge with the given id.
func (g *Graph) Edge(id edge.ID) (*edge.Edge, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	if int(id) < 0 || int(id) >= len(g.edges) || g.edges[id] == nil {
		return nil, false
	}
	return g.edges[id], true
}

// Upstream returns the names of the nodes feeding the given node.
func (g *Graph) Upstream(name string) ([]string, error) {
	return g.neighbours(name, true)
}

// Downstream returns the names of the nodes fed by the given node.
func (g *Graph) Downstream(name string) ([]string, error) {
	return g.neighbours(name, false)
}

func (g *Graph) neighbours(name string, up bool) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	id, ok := g.byName[name]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", name)
	}
	seen := make(map[int]struct{})
	var out []string
	for _, e := range g.edges {
		if e == nil {
			continue
		}
		var other int
		switch {
		case up && e.To.Node == int(id):
			other = e.From.Node
		case !up && e.From.Node == int(id):
			other = e.To.Node
		default:
			continue
		}
		if other == edge.External {
			continue
		}
		if _, dup := seen[other]; dup {
			continue
		}
		seen[other] = struct{}{}
		out = append(out, g.nodes[other].Name())
	}
	return out, nil
}

// Validate checks the whole topology without changing it. It returns nil or
// the join of every *BuildError found.
func (g *Graph) Validate() error {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	var problems []error

	seen := make(map[string]struct{}, len(g.nodes))
	for _, n := range g.nodes {
		if n == nil {
			continue
		}
		if _, dup := seen[n.Name()]; dup {
			problems = append(problems, buildErr(KindDuplicateNode, n.Name(), "", "a node with this name already exists"))
		}
		seen[n.Name()] = struct{}{}
	}

	bound := make(map[edge.Endpoint]edge.ID)
	for _, e := range g.edges {
		if e == nil {
			continue
		}
		dst := g.liveNode(e.To.Node)
		if dst == nil || e.To.Port < 0 || e.To.Port >= len(dst.Inputs()) {
			problems = append(problems, buildErr(KindUnknownNode, "", "", "edge %d points at a missing input", e.ID))
			continue
		}
		in := dst.Inputs()[e.To.Port]
		if prev, dup := bound[e.To]; dup {
			problems = append(problems, buildErr(KindPortTaken, dst.Name(), in.Name, "edges %d and %d share this input", prev, e.ID))
		}
		bound[e.To] = e.ID
		if e.Feedback() && !in.Feedback {
			problems = append(problems, buildErr(KindFeedback, dst.Name(), in.Name, "feedback edges must land on a port declared as a feedback input"))
		}
		if e.From.Node == edge.External {
			continue
		}
		src := g.liveNode(e.From.Node)
		if src == nil || e.From.Port < 0 || e.From.Port >= len(src.Outputs()) {
			problems = append(problems, buildErr(KindUnknownNode, dst.Name(), in.Name, "edge %d comes from a missing output", e.ID))
			continue
		}
		if out := src.Outputs()[e.From.Port]; !node.Compatible(out, in) {
			problems = append(problems, buildErr(KindTypeMismatch, dst.Name(), in.Name, "'%s.%s' produces %s but the input accepts %s",
				src.Name(), out.Name, out.MediaType(), in.MediaType()))
		}
	}

	for _, n := range g.nodes {
		if n == nil {
			continue
		}
		for i, p := range n.Inputs() {
			if !p.Gating() {
				continue
			}
			if _, ok := bound[edge.Endpoint{Node: int(n.ID()), Port: i}]; !ok {
				problems = append(problems, buildErr(KindUnconnectedInput, n.Name(), p.Name, "required input has no upstream edge"))
			}
		}
	}

	if err := g.detectCyclesLocked(); err != nil {
		problems = append(problems, err)
	}

	return errors.Join(problems...)
}

func (g *Graph) liveNode(idx int) *node.Node {
	if idx < 0 || idx >= len(g.nodes) {
		return nil
	}
	return g.nodes[idx]
}

// detectCyclesLocked runs a depth-first search over non-feedback edges and
// reports the first node found on a cycle.
func (g *Graph) detectCyclesLocked() error {
	// permanent: fully visited and not on a cycle.
	// temporary: on the current recursion stack.
	permanent := make(map[int]bool)
	temporary := make(map[int]bool)
	adj := g.forwardAdjacencyLocked()

	var visit func(id int) error
	visit = func(id int) error {
		if permanent[id] {
			return nil
		}
		if temporary[id] {
			return buildErr(KindCycle, g.nodes[id].Name(), "", "cycle detected without a feedback edge")
		}
		temporary[id] = true
		for _, next := range adj[id] {
			if err := visit(next); err != nil {
				return err
			}
		}
		delete(temporary, id)
		permanent[id] = true
		return nil
	}

	for _, n := range g.nodes {
		if n != nil && !permanent[int(n.ID())] {
			if err := visit(int(n.ID())); err != nil {
				return err
			}
		}
	}
	return nil
}

// forwardAdjacencyLocked maps each node to its downstream nodes, skipping
// feedback and external edges.
func (g *Graph) forwardAdjacencyLocked() map[int][]int {
	adj := make(map[int][]int)
	for _, e := range g.edges {
		if e == nil || e.Feedback() || e.From.Node == edge.External {
			continue
		}
		if g.liveNode(e.From.Node) == nil || g.liveNode(e.To.Node) == nil {
			continue
		}
		adj[e.From.Node] = append(adj[e.From.Node], e.To.Node)
	}
	return adj
}

// TopologicalOrder returns the nodes ordered so that every node comes after
// its non-feedback upstream nodes.
func (g *Graph) TopologicalOrder() ([]*node.Node, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	adj := g.forwardAdjacencyLocked()
	indegree := make(map[int]int)
	for _, targets := range adj {
		for _, t := range targets {
			indegree[t]++
		}
	}

	var queue []int
	for _, n := range g.nodes {
		if n != nil && indegree[int(n.ID())] == 0 {
			queue = append(queue, int(n.ID()))
		}
	}
	var order []*node.Node
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, g.nodes[id])
		for _, t := range adj[id] {
			indegree[t]--
			if indegree[t] == 0 {
				queue = append(queue, t)
			}
		}
	}

	live := 0
	for _, n := range g.nodes {
		if n != nil {
			live++
		}
	}
	if len(order) != live {
		return nil, buildErr(KindCycle, "", "", "graph has a cycle without a feedback edge")
	}
	return order, nil
}

package graph

import (
	"github.com/vk/framegraph/internal/edge"
	"github.com/vk/framegraph/internal/node"
)

// Visitor receives the parts of a graph during Walk. Returning an error stops
// the walk.
type Visitor interface {
	VisitNode(n *node.Node) error
	VisitPort(n *node.Node, index int, p node.Port, input bool) error
	VisitProperty(n *node.Node, name, value string) error
	VisitEdge(e *edge.Edge) error
}

// VisitorFuncs adapts optional callbacks to the Visitor interface.
type VisitorFuncs struct {
	Node     func(n *node.Node) error
	Port     func(n *node.Node, index int, p node.Port, input bool) error
	Property func(n *node.Node, name, value string) error
	Edge     func(e *edge.Edge) error
}

func (v VisitorFuncs) VisitNode(n *node.Node) error {
	if v.Node == nil {
		return nil
	}
	return v.Node(n)
}

func (v VisitorFuncs) VisitPort(n *node.Node, index int, p node.Port, input bool) error {
	if v.Port == nil {
		return nil
	}
	return v.Port(n, index, p, input)
}

func (v VisitorFuncs) VisitProperty(n *node.Node, name, value string) error {
	if v.Property == nil {
		return nil
	}
	return v.Property(n, name, value)
}

func (v VisitorFuncs) VisitEdge(e *edge.Edge) error {
	if v.Edge == nil {
		return nil
	}
	return v.Edge(e)
}

// Walk visits every node (then its input ports, output ports and
// properties) in arena order, followed by every edge. It holds the read lock
// for the duration, so visitors must not mutate the graph.
func (g *Graph) Walk(v Visitor) error {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	for _, n := range g.nodes {
		if n == nil {
			continue
		}
		if err := v.VisitNode(n); err != nil {
			return err
		}
		for i, p := range n.Inputs() {
			if err := v.VisitPort(n, i, p, true); err != nil {
				return err
			}
		}
		for i, p := range n.Outputs() {
			if err := v.VisitPort(n, i, p, false); err != nil {
				return err
			}
		}
		props := n.Properties()
		for _, name := range props.Names() {
			value, err := props.GetString(name)
			if err != nil {
				continue
			}
			if err := v.VisitProperty(n, name, value); err != nil {
				return err
			}
		}
	}
	for _, e := range g.edges {
		if e == nil {
			continue
		}
		if err := v.VisitEdge(e); err != nil {
			return err
		}
	}
	return nil
}

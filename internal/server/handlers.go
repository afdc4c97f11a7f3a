package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vk/framegraph/internal/introspect"
	"github.com/vk/framegraph/internal/node"
	"github.com/vk/framegraph/internal/property"
)

// GraphProps are the graph-level properties served by /props.
type GraphProps struct {
	RunID     string `json:"runId"`
	Running   bool   `json:"running"`
	Workers   int    `json:"workers"`
	PoolLimit int64  `json:"poolLimit"`
	Nodes     int    `json:"nodes"`
	Edges     int    `json:"edges"`
}

// PropertyView describes one node property.
type PropertyView struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Value    string `json:"value"`
	Doc      string `json:"doc,omitempty"`
	ReadOnly bool   `json:"readOnly,omitempty"`
}

// PinView describes one port.
type PinView struct {
	Node      string `json:"node"`
	Direction string `json:"direction"`
	introspect.PortSnapshot
	Gating bool `json:"gating"`
}

// StreamView is a port together with the edges bound to it.
type StreamView struct {
	PinView
	Edges []introspect.EdgeSnapshot `json:"edges"`
}

func errorJSON(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

func (s *Server) health(c *gin.Context) {
	c.String(http.StatusOK, "OK\n")
}

// takeSnapshot writes a 500 and returns false when the snapshot fails.
func (s *Server) takeSnapshot(c *gin.Context) (introspect.Snapshot, bool) {
	snap, err := s.ctrl.Snapshot()
	if err != nil {
		s.logger.Error("Snapshot failed.", "error", err)
		errorJSON(c, http.StatusInternalServerError, err)
		return introspect.Snapshot{}, false
	}
	return snap, true
}

func (s *Server) snapshot(c *gin.Context) {
	if snap, ok := s.takeSnapshot(c); ok {
		c.JSON(http.StatusOK, snap)
	}
}

func (s *Server) nodeList(c *gin.Context) {
	nodes := s.ctrl.Graph().Nodes()
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name())
	}
	c.JSON(http.StatusOK, names)
}

func (s *Server) graphProps(c *gin.Context) {
	snap, ok := s.takeSnapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, GraphProps{
		RunID:     snap.Scheduler.RunID,
		Running:   snap.Scheduler.Running,
		Workers:   snap.Scheduler.Workers,
		PoolLimit: snap.Pool.Limit,
		Nodes:     len(snap.Nodes),
		Edges:     len(snap.Edges),
	})
}

// lookup resolves the :name parameter, writing a 404 when it is unknown.
func (s *Server) lookup(c *gin.Context) (*node.Node, bool) {
	name := c.Param("name")
	n, ok := s.ctrl.Graph().Node(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "node not found", "node": name})
		return nil, false
	}
	return n, true
}

func (s *Server) node(c *gin.Context) {
	n, ok := s.lookup(c)
	if !ok {
		return
	}
	snap, ok := s.takeSnapshot(c)
	if !ok {
		return
	}
	ns, found := snap.Node(n.Name())
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "node not found", "node": n.Name()})
		return
	}
	c.JSON(http.StatusOK, ns)
}

func (s *Server) nodeProps(c *gin.Context) {
	n, ok := s.lookup(c)
	if !ok {
		return
	}
	props := n.Properties()
	views := make([]PropertyView, 0)
	for _, name := range props.Names() {
		view, err := describe(props, name)
		if err != nil {
			continue
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, views)
}

func describe(props *property.Set, name string) (PropertyView, error) {
	d, err := props.Describe(name)
	if err != nil {
		return PropertyView{}, err
	}
	value, err := props.GetString(name)
	if err != nil {
		return PropertyView{}, err
	}
	return PropertyView{
		Name:     d.Name,
		Type:     d.Type.FriendlyName(),
		Value:    value,
		Doc:      d.Doc,
		ReadOnly: d.ReadOnly,
	}, nil
}

// setNodeProp takes the new value as the raw request body.
func (s *Server) setNodeProp(c *gin.Context) {
	n, ok := s.lookup(c)
	if !ok {
		return
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		errorJSON(c, http.StatusBadRequest, err)
		return
	}
	prop := c.Param("prop")
	props := n.Properties()
	if err := props.SetString(prop, strings.TrimSpace(string(raw))); err != nil {
		switch {
		case errors.Is(err, property.ErrUnknown):
			errorJSON(c, http.StatusNotFound, err)
		case errors.Is(err, property.ErrReadOnly):
			errorJSON(c, http.StatusForbidden, err)
		default:
			errorJSON(c, http.StatusBadRequest, err)
		}
		return
	}
	view, err := describe(props, prop)
	if err != nil {
		errorJSON(c, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info("Node property updated.", "node", n.Name(), "property", prop, "value", view.Value)
	c.JSON(http.StatusOK, view)
}

// findPin looks the port up among inputs first, then outputs.
func (s *Server) findPin(c *gin.Context, param string) (introspect.Snapshot, PinView, bool) {
	n, ok := s.lookup(c)
	if !ok {
		return introspect.Snapshot{}, PinView{}, false
	}
	snap, ok := s.takeSnapshot(c)
	if !ok {
		return snap, PinView{}, false
	}
	ns, _ := snap.Node(n.Name())
	port := c.Param(param)
	if i := n.InputIndex(port); i >= 0 && i < len(ns.Inputs) {
		return snap, PinView{Node: n.Name(), Direction: "input", PortSnapshot: ns.Inputs[i], Gating: n.Inputs()[i].Gating()}, true
	}
	if i := n.OutputIndex(port); i >= 0 && i < len(ns.Outputs) {
		return snap, PinView{Node: n.Name(), Direction: "output", PortSnapshot: ns.Outputs[i]}, true
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "port not found", "node": n.Name(), "port": port})
	return snap, PinView{}, false
}

func (s *Server) pin(c *gin.Context) {
	if _, view, ok := s.findPin(c, "pin"); ok {
		c.JSON(http.StatusOK, view)
	}
}

func (s *Server) stream(c *gin.Context) {
	snap, view, ok := s.findPin(c, "stream")
	if !ok {
		return
	}
	out := StreamView{PinView: view, Edges: []introspect.EdgeSnapshot{}}
	for _, id := range view.PortSnapshot.Edges {
		for _, e := range snap.Edges {
			if e.ID == id {
				out.Edges = append(out.Edges, e)
			}
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) resetNode(c *gin.Context) {
	n, ok := s.lookup(c)
	if !ok {
		return
	}
	if err := s.ctrl.ResetNode(n.Name()); err != nil {
		errorJSON(c, http.StatusConflict, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"node": n.Name(), "state": n.State().String()})
}

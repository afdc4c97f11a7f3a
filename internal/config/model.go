package config

import (
	"context"
	"time"

	"github.com/zclconf/go-cty/cty"
)

// Loader reads pipeline descriptions from files or directories.
type Loader interface {
	Load(ctx context.Context, paths ...string) (*Model, error)
}

// Model is the whole pipeline description.
type Model struct {
	// Scheduler is nil when no settings were given.
	Scheduler *SchedulerSettings
	Nodes     []*NodeDecl
	Edges     []*EdgeDecl
}

// SchedulerSettings are pipeline-level defaults. A nil field was not set.
type SchedulerSettings struct {
	Workers   *int
	FailFast  *bool
	PoolLimit *int64
}

// NodeDecl declares one node.
type NodeDecl struct {
	Name       string
	Kind       string
	Properties map[string]cty.Value
	// Source is where the declaration came from, for error messages.
	Source string
}

// EdgeDecl declares one edge. Zero values select the edge defaults.
type EdgeDecl struct {
	From         string
	To           string
	Depth        int
	Policy       string
	Feedback     bool
	BlockTimeout time.Duration
	Source       string
}

// Merge appends other's declarations to m. Scheduler settings from other
// win field by field.
func (m *Model) Merge(other *Model) {
	m.Nodes = append(m.Nodes, other.Nodes...)
	m.Edges = append(m.Edges, other.Edges...)
	if other.Scheduler == nil {
		return
	}
	if m.Scheduler == nil {
		m.Scheduler = &SchedulerSettings{}
	}
	if other.Scheduler.Workers != nil {
		m.Scheduler.Workers = other.Scheduler.Workers
	}
	if other.Scheduler.FailFast != nil {
		m.Scheduler.FailFast = other.Scheduler.FailFast
	}
	if other.Scheduler.PoolLimit != nil {
		m.Scheduler.PoolLimit = other.Scheduler.PoolLimit
	}
}

package builder

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/framegraph/internal/config"
	"github.com/vk/framegraph/internal/ctxlog"
	"github.com/vk/framegraph/internal/edge"
	"github.com/vk/framegraph/internal/graph"
	"github.com/vk/framegraph/internal/registry"
)

// Build constructs and validates a graph from model.
func Build(ctx context.Context, model *config.Model, r *registry.Registry) (*graph.Graph, error) {
	g := graph.New()
	if err := Populate(ctx, g, model, r); err != nil {
		return nil, err
	}
	return g, nil
}

// Populate adds model's nodes and edges to an existing, stopped graph and
// validates the result. On error the graph may hold a partial pipeline.
func Populate(ctx context.Context, g *graph.Graph, model *config.Model, r *registry.Registry) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Build: Starting graph construction.", "nodes", len(model.Nodes), "edges", len(model.Edges))

	var errs []error
	for _, decl := range model.Nodes {
		if err := addNode(g, decl, r); err != nil {
			errs = append(errs, err)
		}
	}
	logger.Debug("Build: Node creation complete.", "node_count", len(g.Nodes()))

	for _, decl := range model.Edges {
		if err := addEdge(g, decl); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to build graph: %w", errors.Join(errs...))
	}
	logger.Debug("Build: Edge linking complete.", "edge_count", len(g.Edges()))

	if err := g.Validate(); err != nil {
		return fmt.Errorf("error validating graph: %w", err)
	}
	logger.Info("Build: Graph construction successful.", "nodes", len(g.Nodes()), "edges", len(g.Edges()))
	return nil
}

func addNode(g *graph.Graph, decl *config.NodeDecl, r *registry.Registry) error {
	cfg, err := r.Instantiate(decl.Name, decl.Kind, decl.Properties)
	if err != nil {
		return &graph.BuildError{Kind: graph.KindInvalidNode, Node: decl.Name, Detail: located(decl.Source, err.Error())}
	}
	_, err = g.AddNode(cfg)
	return err
}

func addEdge(g *graph.Graph, decl *config.EdgeDecl) error {
	policy, err := edge.ParsePolicy(decl.Policy)
	if err != nil {
		return fmt.Errorf("edge %s -> %s: %s", decl.From, decl.To, located(decl.Source, err.Error()))
	}
	_, err = g.Connect(decl.From, decl.To, edge.Config{
		Depth:        decl.Depth,
		Policy:       policy,
		BlockTimeout: decl.BlockTimeout,
		Feedback:     decl.Feedback,
	})
	return err
}

func located(source, msg string) string {
	if source == "" {
		return msg
	}
	return fmt.Sprintf("%s (in %s)", msg, source)
}

package hcl

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/framegraph/internal/config"
	"github.com/vk/framegraph/internal/ctxlog"
	"github.com/vk/framegraph/internal/fsutil"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// Extension is the file extension the loader looks for in directories.
const Extension = ".hcl"

// Loader is the HCL implementation of config.Loader.
type Loader struct{}

// NewLoader creates a new HCL pipeline loader.
func NewLoader() *Loader {
	return &Loader{}
}

var evalContext = &hcl.EvalContext{
	Functions: map[string]function.Function{
		"min":    stdlib.MinFunc,
		"max":    stdlib.MaxFunc,
		"format": stdlib.FormatFunc,
		"upper":  stdlib.UpperFunc,
		"lower":  stdlib.LowerFunc,
		"concat": stdlib.ConcatFunc,
		"env":    EnvFunc,
	},
}

// Load parses every .hcl file under paths and merges them into one model.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := fsutil.CollectFiles(paths, Extension)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no %s files found in %v", Extension, paths)
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	parser := hclparse.NewParser()
	model := &config.Model{}
	schedulerBlocks := 0

	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}
		part, count, err := l.decodeFile(hclFile.Body, file)
		if err != nil {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, err)
		}
		schedulerBlocks += count
		model.Merge(part)
	}
	if schedulerBlocks > 1 {
		return nil, fmt.Errorf("found %d scheduler blocks, at most one is allowed", schedulerBlocks)
	}

	logger.Debug("HCL loading complete.", "nodes", len(model.Nodes), "edges", len(model.Edges))
	return model, nil
}

// LoadBytes parses a single in-memory file. name is used in diagnostics.
func (l *Loader) LoadBytes(src []byte, name string) (*config.Model, error) {
	hclFile, diags := hclparse.NewParser().ParseHCL(src, name)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", name, diags)
	}
	model, count, err := l.decodeFile(hclFile.Body, name)
	if err != nil {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", name, err)
	}
	if count > 1 {
		return nil, fmt.Errorf("found %d scheduler blocks, at most one is allowed", count)
	}
	return model, nil
}

func (l *Loader) decodeFile(body hcl.Body, source string) (*config.Model, int, error) {
	var root fileRoot
	if diags := gohcl.DecodeBody(body, evalContext, &root); diags.HasErrors() {
		return nil, 0, diags
	}

	model := &config.Model{}
	for _, sb := range root.Scheduler {
		model.Merge(&config.Model{Scheduler: &config.SchedulerSettings{
			Workers:   sb.Workers,
			FailFast:  sb.FailFast,
			PoolLimit: sb.PoolLimit,
		}})
	}
	for _, nb := range root.Nodes {
		decl, err := translateNode(nb, source)
		if err != nil {
			return nil, 0, err
		}
		model.Nodes = append(model.Nodes, decl)
	}
	for _, eb := range root.Edges {
		decl, err := translateEdge(eb, source)
		if err != nil {
			return nil, 0, err
		}
		model.Edges = append(model.Edges, decl)
	}
	return model, len(root.Scheduler), nil
}

// translateNode evaluates the remaining attributes of a node block as
// property overrides.
func translateNode(nb *nodeBlock, source string) (*config.NodeDecl, error) {
	decl := &config.NodeDecl{
		Name:       nb.Name,
		Kind:       nb.Kind,
		Properties: make(map[string]cty.Value),
		Source:     source,
	}
	attrs, diags := nb.Remain.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("node %q: %w", nb.Name, diags)
	}
	for name, attr := range attrs {
		val, diags := attr.Expr.Value(evalContext)
		if diags.HasErrors() {
			return nil, fmt.Errorf("node %q, property %q: %w", nb.Name, name, diags)
		}
		decl.Properties[name] = val
	}
	return decl, nil
}

func translateEdge(eb *edgeBlock, source string) (*config.EdgeDecl, error) {
	decl := &config.EdgeDecl{From: eb.From, To: eb.To, Source: source}
	if eb.Depth != nil {
		if *eb.Depth < 1 {
			return nil, fmt.Errorf("edge %s -> %s: depth must be at least 1, got %d", eb.From, eb.To, *eb.Depth)
		}
		decl.Depth = *eb.Depth
	}
	if eb.Policy != nil {
		decl.Policy = *eb.Policy
	}
	if eb.Feedback != nil {
		decl.Feedback = *eb.Feedback
	}
	if eb.BlockTimeout != nil {
		d, err := time.ParseDuration(*eb.BlockTimeout)
		if err != nil {
			return nil, fmt.Errorf("edge %s -> %s: invalid block_timeout: %w", eb.From, eb.To, err)
		}
		decl.BlockTimeout = d
	}
	return decl, nil
}

package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/vk/framegraph/internal/ctxlog"
	"github.com/vk/framegraph/internal/node"
	"github.com/vk/framegraph/internal/property"
	"github.com/zclconf/go-cty/cty"
)

// Factory creates the processor for one node. props holds the node's
// properties with overrides already applied; the processor may keep it and
// read it on every invocation.
type Factory func(props *property.Set) (node.Processor, error)

// Kind describes one node kind.
type Kind struct {
	Name        string
	Description string
	Inputs      []node.Port
	Outputs     []node.Port
	Properties  []property.Descriptor
	New         Factory
}

// Module is the interface that all bundled modules implement to add their
// kinds.
type Module interface {
	Register(r *Registry)
}

// Registry holds the kinds of one application instance.
type Registry struct {
	kinds map[string]*Kind
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{kinds: make(map[string]*Kind)}
}

// Register adds a kind. Registering the same name twice is a programming
// error and panics.
func (r *Registry) Register(k Kind) {
	if k.Name == "" {
		panic("node kind must have a name")
	}
	if k.New == nil {
		panic(fmt.Sprintf("node kind '%s' has no factory", k.Name))
	}
	if _, exists := r.kinds[k.Name]; exists {
		panic(fmt.Sprintf("node kind with name '%s' already registered", k.Name))
	}
	r.kinds[k.Name] = &k
}

// Lookup returns the kind registered under name.
func (r *Registry) Lookup(name string) (*Kind, bool) {
	k, ok := r.kinds[name]
	return k, ok
}

// Kinds returns the registered kind names, sorted.
func (r *Registry) Kinds() []string {
	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Instantiate builds a node configuration of the given kind. Each override
// must name a declared property and convert to its type.
func (r *Registry) Instantiate(name, kind string, overrides map[string]cty.Value) (node.Config, error) {
	k, ok := r.kinds[kind]
	if !ok {
		return node.Config{}, fmt.Errorf("unknown node kind '%s'", kind)
	}
	props, err := k.NewProperties()
	if err != nil {
		return node.Config{}, err
	}

	names := make([]string, 0, len(overrides))
	for prop := range overrides {
		names = append(names, prop)
	}
	sort.Strings(names)
	for _, prop := range names {
		if err := props.Set(prop, overrides[prop]); err != nil {
			return node.Config{}, fmt.Errorf("kind '%s': %w", kind, err)
		}
	}

	proc, err := k.New(props)
	if err != nil {
		return node.Config{}, fmt.Errorf("kind '%s': failed to create processor: %w", kind, err)
	}
	return node.Config{
		Name:       name,
		Kind:       kind,
		Inputs:     append([]node.Port(nil), k.Inputs...),
		Outputs:    append([]node.Port(nil), k.Outputs...),
		Processor:  proc,
		Properties: props,
	}, nil
}

// NewProperties returns a property set holding the kind's defaults.
func (k *Kind) NewProperties() (*property.Set, error) {
	props := property.NewSet()
	for _, d := range k.Properties {
		if err := props.Declare(d); err != nil {
			return nil, fmt.Errorf("kind '%s': %w", k.Name, err)
		}
	}
	return props, nil
}

// Validate checks every kind for duplicate port names and property
// declarations that do not hold.
func (r *Registry) Validate(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	var errs []error
	for _, name := range r.Kinds() {
		k := r.kinds[name]
		if err := uniquePorts(k.Inputs); err != nil {
			errs = append(errs, fmt.Errorf("kind '%s' inputs: %w", name, err))
		}
		if err := uniquePorts(k.Outputs); err != nil {
			errs = append(errs, fmt.Errorf("kind '%s' outputs: %w", name, err))
		}
		if _, err := k.NewProperties(); err != nil {
			errs = append(errs, err)
		}
		for _, p := range k.Inputs {
			if p.Type == "" || p.Type == node.AnyType {
				logger.Debug("Kind accepts any media type on an input.", "kind", name, "port", p.Name)
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed: %w", errors.Join(errs...))
	}
	return nil
}

func uniquePorts(ports []node.Port) error {
	seen := make(map[string]struct{}, len(ports))
	for _, p := range ports {
		if p.Name == "" {
			return errors.New("port name cannot be empty")
		}
		if _, ok := seen[p.Name]; ok {
			return fmt.Errorf("duplicate port '%s'", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

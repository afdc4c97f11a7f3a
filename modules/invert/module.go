// Package invert provides the invert node kind, a per-byte negative filter
// over raw frames.
package invert

import (
	"context"

	"github.com/vk/framegraph/internal/node"
	"github.com/vk/framegraph/internal/property"
	"github.com/vk/framegraph/internal/registry"
	"github.com/vk/framegraph/modules/testsource"
	"github.com/zclconf/go-cty/cty"
)

// KindName is the registered kind name.
const KindName = "invert"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register adds the invert kind.
func (m *Module) Register(r *registry.Registry) {
	r.Register(registry.Kind{
		Name:        KindName,
		Description: "Replaces every byte x of a frame with 255-x.",
		Inputs:      []node.Port{{Name: "in", Type: testsource.MediaType}},
		Outputs:     []node.Port{{Name: "out", Type: testsource.MediaType}},
		Properties: []property.Descriptor{
			{Name: "enabled", Type: cty.Bool, Default: cty.True, Doc: "When false, frames pass through untouched."},
		},
		New: New,
	})
}

// Inverter is the processor behind invert.
type Inverter struct {
	props *property.Set
}

// New creates an Inverter.
func New(props *property.Set) (node.Processor, error) {
	return &Inverter{props: props}, nil
}

// Process implements node.Processor.
func (p *Inverter) Process(_ context.Context, inv *node.Invocation) error {
	in := inv.Input(0)
	if in == nil {
		return nil
	}
	if !p.props.Bool("enabled", true) {
		inv.Forward(0, 0)
		return nil
	}

	out, err := inv.Acquire(in.Len())
	if err != nil {
		return err
	}
	dst, err := out.Writable()
	if err != nil {
		out.Release()
		return err
	}
	Apply(dst, in.Bytes())
	out.Seq = in.Seq
	out.Timestamp = in.Timestamp
	inv.Outputs[0] = out
	return nil
}

// Apply writes the negative of src into dst. dst must be at least as long
// as src.
func Apply(dst, src []byte) {
	for i, v := range src {
		dst[i] = 255 - v
	}
}

// Package print provides the print_sink node kind, which logs the frames it
// receives.
package print

import (
	"context"
	"sync/atomic"

	"github.com/vk/framegraph/internal/ctxlog"
	"github.com/vk/framegraph/internal/node"
	"github.com/vk/framegraph/internal/property"
	"github.com/vk/framegraph/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

// KindName is the registered kind name.
const KindName = "print_sink"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register adds the print_sink kind.
func (m *Module) Register(r *registry.Registry) {
	r.Register(registry.Kind{
		Name:        KindName,
		Description: "Logs a summary line for received frames.",
		Inputs:      []node.Port{{Name: "in", Type: node.AnyType}},
		Properties: []property.Descriptor{
			{Name: "every", Type: cty.Number, Default: cty.NumberIntVal(1), Doc: "Log one frame out of every N; 0 disables logging."},
			{Name: "label", Type: cty.String, Default: cty.StringVal(""), Doc: "Prefix added to each log line."},
		},
		New: New,
	})
}

// Sink is the processor behind print_sink.
type Sink struct {
	props    *property.Set
	received atomic.Uint64
	lastSeq  atomic.Uint64
}

// New creates a Sink.
func New(props *property.Set) (node.Processor, error) {
	s := &Sink{props: props}
	if err := props.DeclareComputed("received", cty.Number, "Frames received so far.", func() cty.Value {
		return cty.NumberUIntVal(s.received.Load())
	}); err != nil {
		return nil, err
	}
	if err := props.DeclareComputed("last_seq", cty.Number, "Sequence number of the latest frame.", func() cty.Value {
		return cty.NumberUIntVal(s.lastSeq.Load())
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// Process implements node.Processor.
func (s *Sink) Process(ctx context.Context, inv *node.Invocation) error {
	b := inv.Input(0)
	if b == nil {
		return nil
	}
	count := s.received.Add(1)
	s.lastSeq.Store(b.Seq)

	every := s.props.Int("every", 1)
	if every <= 0 || count%uint64(every) != 0 {
		return nil
	}

	data := b.Bytes()
	var sum uint64
	for _, v := range data {
		sum += uint64(v)
	}
	mean := 0.0
	if len(data) > 0 {
		mean = float64(sum) / float64(len(data))
	}
	ctxlog.FromContext(ctx).Info("Frame received.",
		"node", inv.Node,
		"label", s.props.String("label", ""),
		"seq", b.Seq,
		"timestamp", b.Timestamp,
		"bytes", len(data),
		"mean", mean,
	)
	return nil
}

// Received reports how many frames the sink has seen.
func (s *Sink) Received() uint64 {
	return s.received.Load()
}

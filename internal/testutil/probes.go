package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vk/framegraph/internal/node"
	"github.com/vk/framegraph/internal/property"
	"github.com/vk/framegraph/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

// Probe kind names registered by ProbeModule.
const (
	ProbeSource = "probe_source"
	ProbeSink   = "probe_sink"
	ProbeFail   = "probe_fail"
)

// ProbeMediaType is the media type on every probe port.
const ProbeMediaType = "video/raw"

// ErrProbe is returned by probe_fail on its failing invocation.
var ErrProbe = errors.New("probe failure")

// ProbeModule registers small node kinds that record what they see, for
// scheduler-level tests driven through the loader and builder.
//
//   - probe_source emits "count" 4-byte buffers numbered from 1, then ends.
//   - probe_sink records the sequence number of every buffer it receives,
//     sleeping "delay" first.
//   - probe_fail forwards its input and fails on invocation "fail_at".
type ProbeModule struct {
	mu   sync.Mutex
	seen map[string][]uint64
}

// NewProbeModule creates an empty ProbeModule.
func NewProbeModule() *ProbeModule {
	return &ProbeModule{seen: make(map[string][]uint64)}
}

// Seen returns the sequence numbers received by the named sink, in order.
func (m *ProbeModule) Seen(name string) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64(nil), m.seen[name]...)
}

func (m *ProbeModule) record(name string, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[name] = append(m.seen[name], seq)
}

// Register adds the probe kinds.
func (m *ProbeModule) Register(r *registry.Registry) {
	out := []node.Port{{Name: "out", Type: ProbeMediaType}}
	in := []node.Port{{Name: "in", Type: ProbeMediaType}}

	r.Register(registry.Kind{
		Name:    ProbeSource,
		Outputs: out,
		Properties: []property.Descriptor{
			{Name: "count", Type: cty.Number, Default: cty.NumberIntVal(10)},
		},
		New: func(props *property.Set) (node.Processor, error) {
			var emitted uint64
			return node.ProcessorFunc(func(_ context.Context, inv *node.Invocation) error {
				if emitted >= uint64(props.Int("count", 10)) {
					return node.ErrEndOfStream
				}
				b, err := inv.Acquire(4)
				if err != nil {
					return err
				}
				emitted++
				b.Seq = emitted
				inv.Outputs[0] = b
				return nil
			}), nil
		},
	})

	r.Register(registry.Kind{
		Name:   ProbeSink,
		Inputs: in,
		Properties: []property.Descriptor{
			{Name: "delay", Type: cty.String, Default: cty.StringVal("0s")},
		},
		New: func(props *property.Set) (node.Processor, error) {
			return node.ProcessorFunc(func(ctx context.Context, inv *node.Invocation) error {
				if d := props.Duration("delay", 0); d > 0 {
					select {
					case <-time.After(d):
					case <-ctx.Done():
					}
				}
				if b := inv.Input(0); b != nil {
					m.record(inv.Node, b.Seq)
				}
				return nil
			}), nil
		},
	})

	r.Register(registry.Kind{
		Name:    ProbeFail,
		Inputs:  in,
		Outputs: out,
		Properties: []property.Descriptor{
			{Name: "fail_at", Type: cty.Number, Default: cty.NumberIntVal(1)},
		},
		New: func(props *property.Set) (node.Processor, error) {
			return node.ProcessorFunc(func(_ context.Context, inv *node.Invocation) error {
				if inv.Number == uint64(props.Int("fail_at", 1)) {
					return ErrProbe
				}
				inv.Forward(0, 0)
				return nil
			}), nil
		},
	})
}

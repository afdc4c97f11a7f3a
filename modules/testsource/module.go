// Package testsource provides the test_source node kind: a generator of
// synthetic 8-bit grayscale frames for exercising pipelines without devices.
package testsource

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/vk/framegraph/internal/node"
	"github.com/vk/framegraph/internal/property"
	"github.com/vk/framegraph/internal/registry"
	"github.com/zclconf/go-cty/cty"
	"golang.org/x/time/rate"
)

// KindName is the registered kind name.
const KindName = "test_source"

// MediaType is the media type of the frames produced: one byte per pixel.
const MediaType = "video/raw"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register adds the test_source kind.
func (m *Module) Register(r *registry.Registry) {
	r.Register(registry.Kind{
		Name:        KindName,
		Description: "Generates numbered gradient frames at a fixed rate.",
		Outputs:     []node.Port{{Name: "out", Type: MediaType}},
		Properties: []property.Descriptor{
			{Name: "width", Type: cty.Number, Default: cty.NumberIntVal(64), Doc: "Frame width in pixels."},
			{Name: "height", Type: cty.Number, Default: cty.NumberIntVal(48), Doc: "Frame height in pixels."},
			{Name: "fps", Type: cty.Number, Default: cty.NumberIntVal(30), Doc: "Frames per second; 0 produces frames as fast as possible."},
			{Name: "frames", Type: cty.Number, Default: cty.NumberIntVal(0), Doc: "Frames to produce before ending the stream; 0 is unlimited."},
		},
		New: New,
	})
}

// Source is the processor behind test_source.
type Source struct {
	props   *property.Set
	limiter *rate.Limiter
	fps     float64
	clock   time.Duration
	emitted atomic.Uint64
}

// New creates a Source reading its settings from props.
func New(props *property.Set) (node.Processor, error) {
	fps := props.Float("fps", 30)
	s := &Source{props: props, fps: fps, limiter: rate.NewLimiter(limitFor(fps), 1)}
	if err := props.DeclareComputed("emitted", cty.Number, "Frames produced so far.", func() cty.Value {
		return cty.NumberUIntVal(s.emitted.Load())
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// Process implements node.Processor.
func (s *Source) Process(ctx context.Context, inv *node.Invocation) error {
	limit := uint64(max(s.props.Int("frames", 0), 0))
	seq := s.emitted.Load() + 1
	if limit > 0 && seq > limit {
		return node.ErrEndOfStream
	}

	s.pace(s.props.Float("fps", 30))
	if err := s.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return node.ErrEndOfStream
		}
		return err
	}

	width, height := max(s.props.Int("width", 64), 1), max(s.props.Int("height", 48), 1)
	b, err := inv.Acquire(width * height)
	if err != nil {
		return err
	}
	frame, err := b.Writable()
	if err != nil {
		b.Release()
		return err
	}
	Fill(frame, width, seq)
	b.Seq = seq
	s.clock += s.interval()
	b.Timestamp = s.clock
	inv.Outputs[0] = b
	s.emitted.Store(seq)
	return nil
}

// pace applies a changed fps setting to the limiter.
func (s *Source) pace(fps float64) {
	if fps == s.fps {
		return
	}
	s.fps = fps
	s.limiter.SetLimit(limitFor(fps))
}

func limitFor(fps float64) rate.Limit {
	if fps <= 0 {
		return rate.Inf
	}
	return rate.Limit(fps)
}

// interval is the media time between frames. Unpaced frames advance the
// clock by a millisecond each.
func (s *Source) interval() time.Duration {
	if s.fps <= 0 {
		return time.Millisecond
	}
	return time.Duration(float64(time.Second) / s.fps)
}

// Fill draws a diagonal gradient shifted by seq into frame.
func Fill(frame []byte, width int, seq uint64) {
	for i := range frame {
		x, y := i%width, i/width
		frame[i] = byte(uint64(x+y) + seq)
	}
}

package profiling

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of framegraph spans.
const TracerName = "github.com/vk/framegraph/scheduler"

// OTel records node invocations as OpenTelemetry spans.
type OTel struct {
	tracer trace.Tracer
}

// NewOTel creates a profiler backed by tracer.
func NewOTel(tracer trace.Tracer) *OTel {
	return &OTel{tracer: tracer}
}

// BeginSpan starts an internal span tagged with the node name.
func (o *OTel) BeginSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("framegraph.node", strings.TrimSuffix(name, "::execute"))),
	)
	return ctx, otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}

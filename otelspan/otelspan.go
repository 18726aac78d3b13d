// Package otelspan bridges OpenTelemetry SDK spans into agentlens spans.
//
// An instrumented process can register Exporter with its TracerProvider
// and hand the accumulated traces to agentlens.Analyzer directly, without
// a collector in between:
//
//	exp := otelspan.NewExporter()
//	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
//	...
//	results, err := analyzer.Analyze(ctx, exp.Spans())
package otelspan

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/agentlens/agentlens"
)

// FromReadOnlySpan converts one exported SDK span into an agentlens span.
func FromReadOnlySpan(ros sdktrace.ReadOnlySpan) *agentlens.Span {
	sc := ros.SpanContext()

	span := &agentlens.Span{
		Name:       ros.Name(),
		TraceID:    sc.TraceID().String(),
		SpanID:     sc.SpanID().String(),
		StartedAt:  ros.StartTime(),
		EndedAt:    ros.EndTime(),
		Status:     statusFrom(ros.Status().Code),
		Attributes: attributeMap(ros.Attributes()),
	}
	if parent := ros.Parent(); parent.HasSpanID() {
		span.ParentSpanID = parent.SpanID().String()
	}

	for _, ev := range ros.Events() {
		span.Events = append(span.Events, agentlens.SpanEvent{
			Name:       ev.Name,
			Timestamp:  ev.Time,
			Attributes: attributeMap(ev.Attributes),
		})
	}

	return span
}

func statusFrom(code codes.Code) agentlens.SpanStatus {
	switch code {
	case codes.Ok:
		return agentlens.SpanStatusOK
	case codes.Error:
		return agentlens.SpanStatusError
	default:
		return agentlens.SpanStatusUnset
	}
}

func attributeMap(attrs []attribute.KeyValue) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		out[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

// Exporter implements sdktrace.SpanExporter, accumulating exported spans
// in memory so a process can analyze its own agent traces.
type Exporter struct {
	mu    sync.Mutex
	spans []*agentlens.Span
	done  bool
}

// NewExporter creates an empty exporter.
func NewExporter() *Exporter {
	return &Exporter{}
}

// ExportSpans converts and buffers the given spans.
func (e *Exporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return nil
	}
	for _, ros := range spans {
		e.spans = append(e.spans, FromReadOnlySpan(ros))
	}
	return nil
}

// Shutdown stops accepting spans. Buffered spans remain readable.
func (e *Exporter) Shutdown(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.done = true
	return nil
}

// Spans returns a copy of all buffered spans.
func (e *Exporter) Spans() []*agentlens.Span {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*agentlens.Span{}, e.spans...)
}

var _ sdktrace.SpanExporter = (*Exporter)(nil)

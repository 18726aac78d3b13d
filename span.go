package agentlens

import (
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// SpanStatus represents the status of a span as reported by the instrumentation.
type SpanStatus string

const (
	SpanStatusUnset SpanStatus = "unset"
	SpanStatusOK    SpanStatus = "ok"
	SpanStatusError SpanStatus = "error"
)

// SpanEvent represents a point-in-time event recorded on a span.
type SpanEvent struct {
	Name       string         `json:"name"`
	Timestamp  time.Time      `json:"timestamp"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Span is a single recorded operation from a distributed trace.
// Spans are produced by the instrumentation side and are treated as
// immutable input here; all derived state lives on Task.
type Span struct {
	Name         string         `json:"name"`
	TraceID      string         `json:"trace_id"`
	SpanID       string         `json:"span_id"`
	ParentSpanID string         `json:"parent_span_id,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	EndedAt      time.Time      `json:"ended_at"`
	Status       SpanStatus     `json:"status,omitempty"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	Events       []SpanEvent    `json:"events,omitempty"`

	// Children is populated by BuildSpanTrees, not by the producer.
	Children []*Span `json:"-"`
}

// BuildSpanTrees groups a flat span list by trace ID and links children to
// their parents. Spans whose parent is not in the input become roots of
// their trace. Children are sorted by start time so traversal order is
// deterministic. A parent/child reference cycle is a structural failure
// for that trace.
func BuildSpanTrees(spans []*Span) (map[string][]*Span, error) {
	byTrace := make(map[string][]*Span)
	for _, s := range spans {
		byTrace[s.TraceID] = append(byTrace[s.TraceID], s)
	}

	trees := make(map[string][]*Span, len(byTrace))
	for traceID, traceSpans := range byTrace {
		roots, err := linkSpans(traceSpans)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to build span tree", goerr.V("trace_id", traceID))
		}
		trees[traceID] = roots
	}

	return trees, nil
}

func linkSpans(spans []*Span) ([]*Span, error) {
	bySpanID := make(map[string]*Span, len(spans))
	for _, s := range spans {
		s.Children = nil
		bySpanID[s.SpanID] = s
	}

	var roots []*Span
	for _, s := range spans {
		if s.ParentSpanID == "" {
			roots = append(roots, s)
			continue
		}
		parent, ok := bySpanID[s.ParentSpanID]
		if !ok || parent == s {
			// Broken parent reference: promote to root
			roots = append(roots, s)
			continue
		}
		parent.Children = append(parent.Children, s)
	}

	for _, s := range spans {
		sort.SliceStable(s.Children, func(i, j int) bool {
			return s.Children[i].StartedAt.Before(s.Children[j].StartedAt)
		})
	}
	sort.SliceStable(roots, func(i, j int) bool {
		return roots[i].StartedAt.Before(roots[j].StartedAt)
	})

	// A cycle leaves some spans unreachable from any root.
	if reachableSpans(roots) != len(spans) {
		return nil, goerr.Wrap(ErrSpanCycle, "unreachable spans in trace",
			goerr.V("total", len(spans)), goerr.V("reachable", reachableSpans(roots)))
	}

	return roots, nil
}

func reachableSpans(roots []*Span) int {
	count := 0
	stack := append([]*Span{}, roots...)
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		count++
		stack = append(stack, s.Children...)
	}
	return count
}

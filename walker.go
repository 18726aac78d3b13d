package agentlens

import (
	"context"
)

// Walker drives the pre/post-order traversal of one trace's span tree,
// fanning each span out to the visitors that claim it. One Walker may be
// reused across traces, but each Walk call uses its own TraversalContext:
// traversal of a single trace is strictly single-threaded.
type Walker struct {
	visitors []*Visitor
}

// NewWalker creates a walker over the given visitors.
func NewWalker(visitors ...*Visitor) *Walker {
	return &Walker{visitors: visitors}
}

// Walk traverses the span trees of one trace and returns the finalized
// context. A failure in any visitor hook aborts the whole trace.
func (w *Walker) Walk(ctx context.Context, traceID string, roots []*Span) (*TraversalContext, error) {
	tc := NewTraversalContext(traceID)

	for _, root := range roots {
		if err := w.walkSpan(ctx, root, tc); err != nil {
			return nil, err
		}
	}

	for _, v := range w.visitors {
		if err := v.AfterTraversal(ctx, tc); err != nil {
			return nil, err
		}
	}

	return tc, nil
}

func (w *Walker) walkSpan(ctx context.Context, span *Span, tc *TraversalContext) error {
	// Claims are evaluated once, at the pre-order visit; the same set of
	// visitors receives the post-order call.
	var claimed []*Visitor
	for _, v := range w.visitors {
		if v.ShouldProcess(span, tc) {
			claimed = append(claimed, v)
		}
	}

	for _, v := range claimed {
		if err := v.Process(ctx, span, PhaseBeforeChildren, tc); err != nil {
			return err
		}
	}

	for _, child := range span.Children {
		if err := w.walkSpan(ctx, child, tc); err != nil {
			return err
		}
	}

	for _, v := range claimed {
		if err := v.Process(ctx, span, PhaseAfterChildren, tc); err != nil {
			return err
		}
	}

	return nil
}

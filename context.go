package agentlens

import (
	"context"
	"io"
	"log/slog"
	"time"
)

type ctxLoggerKey struct{}

var defaultLogger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(12)}))

func ctxWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxLoggerKey{}, logger)
}

func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxLoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return defaultLogger
}

// TraversalContext holds all state scoped to one trace's traversal. It is
// created by the walker when the first span of a trace is seen, mutated by
// visitors during the walk, and must never be shared across goroutines:
// the ancestor stack and span map are updated without synchronization.
type TraversalContext struct {
	TraceID string

	// Tasks is the finalized flattened task map, keyed by task ID. It is
	// populated exactly once by Finalize and is what downstream stages
	// (metrics rollup, persistence) consume.
	Tasks map[string]*FlatTask

	stack      []*Task
	taskBySpan map[string]*Task
	roots      []*Task
	processed  map[string]struct{}
	finalized  bool
}

// NewTraversalContext creates an empty context for one trace.
func NewTraversalContext(traceID string) *TraversalContext {
	return &TraversalContext{
		TraceID:    traceID,
		Tasks:      map[string]*FlatTask{},
		taskBySpan: map[string]*Task{},
		processed:  map[string]struct{}{},
	}
}

// ensureRoot creates the synthetic root task on first use and returns it.
func (tc *TraversalContext) ensureRoot() *Task {
	if len(tc.roots) > 0 {
		return tc.roots[0]
	}
	root := newRootTask()
	tc.roots = append(tc.roots, root)
	tc.stack = append(tc.stack, root)
	return root
}

// RootTasks returns the root tasks of the trace.
func (tc *TraversalContext) RootTasks() []*Task {
	return tc.roots
}

// currentTask returns the innermost open ancestor, or nil before the root
// task exists.
func (tc *TraversalContext) currentTask() *Task {
	if len(tc.stack) == 0 {
		return nil
	}
	return tc.stack[len(tc.stack)-1]
}

func (tc *TraversalContext) push(t *Task) {
	tc.stack = append(tc.stack, t)
}

// popIf removes the innermost open ancestor only when it is the given
// task; the root is never popped this way because it has no span.
func (tc *TraversalContext) popIf(t *Task) {
	if tc.currentTask() == t {
		tc.stack = tc.stack[:len(tc.stack)-1]
	}
}

func (tc *TraversalContext) mapSpan(spanID string, t *Task) {
	tc.taskBySpan[spanID] = t
}

// TaskForSpan returns the task created for the given span, if any.
func (tc *TraversalContext) TaskForSpan(spanID string) *Task {
	return tc.taskBySpan[spanID]
}

// MarkProcessed records that a span has been fully handled by a visitor.
// This replaces the older pattern of mutating shared span objects.
func (tc *TraversalContext) MarkProcessed(spanID string) {
	tc.processed[spanID] = struct{}{}
}

// IsProcessed reports whether a span has already been handled.
func (tc *TraversalContext) IsProcessed(spanID string) bool {
	_, ok := tc.processed[spanID]
	return ok
}

// Finalize corrects the root time range from its children, assigns
// hierarchical prefixes and produces the flattened task map. It runs at
// most once; repeated calls are no-ops, so retried after-traversal calls
// are safe.
func (tc *TraversalContext) Finalize() error {
	if tc.finalized {
		return nil
	}

	for _, root := range tc.roots {
		correctRootTimeRange(root)
	}
	AssignHierarchicalPrefixes(tc.roots)
	for _, root := range tc.roots {
		tc.flattenTree(root)
	}

	tc.finalized = true
	return nil
}

func (tc *TraversalContext) flattenTree(t *Task) {
	f := Flatten(t)
	f.TraceID = tc.TraceID
	tc.Tasks[t.ID] = f
	for _, child := range t.Children {
		tc.flattenTree(child)
	}
}

// correctRootTimeRange replaces the root's sentinel time range with the
// envelope of its children, ignoring the root itself.
func correctRootTimeRange(root *Task) {
	for _, child := range root.Children {
		if child.StartedAt.Before(root.StartedAt) {
			root.StartedAt = child.StartedAt
		}
		if child.EndedAt.After(root.EndedAt) {
			root.EndedAt = child.EndedAt
		}
	}
	if len(root.Children) == 0 {
		root.StartedAt = time.Time{}
		root.EndedAt = time.Time{}
	}
}

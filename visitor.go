package agentlens

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Phase identifies which side of the span-tree walk a Process call is on.
type Phase int

const (
	// PhaseBeforeChildren is the pre-order visit of a span.
	PhaseBeforeChildren Phase = iota
	// PhaseAfterChildren is the post-order visit of a span.
	PhaseAfterChildren
)

func (p Phase) String() string {
	switch p {
	case PhaseBeforeChildren:
		return "before_children"
	case PhaseAfterChildren:
		return "after_children"
	default:
		return "unknown"
	}
}

// VisitorOption configures a Visitor.
type VisitorOption func(*Visitor)

// WithVisitorRepository lets the visitor fetch previously recorded related
// elements during traversal. The lookup is best effort; failures are
// logged, never fatal.
func WithVisitorRepository(repo Repository) VisitorOption {
	return func(v *Visitor) {
		v.repo = repo
	}
}

// Visitor consumes spans of one framework in pre/post-order and builds the
// task tree inside a TraversalContext. One visitor instance serves one
// framework; the walker fans spans out to whichever visitors claim them.
type Visitor struct {
	framework Framework
	repo      Repository
}

// NewVisitor creates a visitor backed by the given framework hooks.
func NewVisitor(f Framework, opts ...VisitorOption) *Visitor {
	v := &Visitor{framework: f}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Framework returns the framework this visitor serves.
func (v *Visitor) Framework() Framework {
	return v.framework
}

// ShouldProcess reports whether this visitor claims the span: either the
// span carries the framework's own marker, or the nearest open ancestor
// task was attributed to this framework. Ownership inheritance lets one
// visitor claim an entire subtree once it recognizes the outermost span,
// even where inner spans carry no marker of their own.
func (v *Visitor) ShouldProcess(span *Span, tc *TraversalContext) bool {
	if v.framework.IsFrameworkSpan(span) {
		return true
	}
	if cur := tc.currentTask(); cur != nil {
		if owner, ok := cur.Attributes[attrFramework].(string); ok && owner == v.framework.Name() {
			return true
		}
	}
	return false
}

// Process handles one span at one traversal phase. The walker calls it
// once with PhaseBeforeChildren and once with PhaseAfterChildren for every
// span this visitor claims.
func (v *Visitor) Process(ctx context.Context, span *Span, phase Phase, tc *TraversalContext) error {
	switch phase {
	case PhaseBeforeChildren:
		return v.beforeChildren(ctx, span, tc)
	case PhaseAfterChildren:
		return v.afterChildren(ctx, span, tc)
	default:
		return goerr.New("unknown traversal phase", goerr.V("phase", int(phase)))
	}
}

func (v *Visitor) beforeChildren(ctx context.Context, span *Span, tc *TraversalContext) error {
	logger := LoggerFromContext(ctx)
	tc.ensureRoot()

	if tc.IsProcessed(span.SpanID) {
		return nil
	}
	if !v.framework.ShouldCreateTask(span) {
		return nil
	}

	task, err := v.framework.ExtractTask(ctx, span, tc)
	if err != nil {
		return goerr.Wrap(err, "task extraction failed",
			goerr.V("framework", v.framework.Name()),
			goerr.V("span_id", span.SpanID))
	}
	if task == nil {
		return nil
	}

	parent := tc.currentTask()
	if last := lastChild(parent); last != nil && !v.framework.IsApplicableTask(span, last) {
		logger.Debug("span deduplicated against previous task",
			"span_id", span.SpanID, "prev_task", last.ID)
		return nil
	}

	v.populateTask(ctx, task, span)

	task.Parent = parent
	parent.Children = append(parent.Children, task)
	parent.PromoteToComplex()

	tc.push(task)
	tc.mapSpan(span.SpanID, task)
	return nil
}

// populateTask copies span-derived state onto a freshly extracted task.
func (v *Visitor) populateTask(ctx context.Context, task *Task, span *Span) {
	if task.StartedAt.IsZero() {
		task.StartedAt = span.StartedAt
	}
	if task.EndedAt.IsZero() {
		task.EndedAt = span.EndedAt
	}
	if task.Status == "" {
		task.Status = span.Status
	}
	if len(task.Tags) == 0 {
		task.AddTag(TagToolCall)
	}

	task.Name = stripTaskTypeSuffix(task.Name)
	task.Attributes[attrFramework] = v.framework.Name()
	task.Events = append([]SpanEvent{}, span.Events...)

	v.framework.UpdatePropagatedInfo(task, span)
	v.indexRelatedEvents(ctx, task, span)
}

// indexRelatedEvents scans the span's events for Issue/Annotation markers
// and records their names by span ID, so downstream consumers resolve
// related elements without re-scanning events. Previously persisted
// related elements are excluded to avoid re-extraction.
func (v *Visitor) indexRelatedEvents(ctx context.Context, task *Task, span *Span) {
	var names []string
	for _, ev := range span.Events {
		if strings.HasPrefix(ev.Name, issueEventPrefix) || strings.HasPrefix(ev.Name, annotationEventPrefix) {
			names = append(names, ev.Name)
		}
	}
	if len(names) == 0 {
		return
	}

	if v.repo != nil {
		prior, err := v.repo.RelatedElements(ctx, task.ElementID, relatedElementType)
		if err != nil {
			LoggerFromContext(ctx).Warn("failed to fetch prior related elements",
				"task_id", task.ID, "error", err)
		} else if len(prior) > 0 {
			names = excludeKnown(names, prior)
		}
	}
	if len(names) == 0 {
		return
	}

	related, _ := task.Attributes[AttrRelatedElements].(map[string][]string)
	if related == nil {
		related = map[string][]string{}
	}
	related[span.SpanID] = append(related[span.SpanID], names...)
	task.Attributes[AttrRelatedElements] = related
}

// relatedElementType is the element type queried from the repository when
// deduplicating Issue/Annotation events.
const relatedElementType = "annotation"

func excludeKnown(names, known []string) []string {
	knownSet := make(map[string]struct{}, len(known))
	for _, k := range known {
		knownSet[k] = struct{}{}
	}
	var out []string
	for _, n := range names {
		if _, ok := knownSet[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}

func (v *Visitor) afterChildren(ctx context.Context, span *Span, tc *TraversalContext) error {
	task := tc.TaskForSpan(span.SpanID)

	if err := v.framework.HandleAfterChildren(ctx, task, span, tc); err != nil {
		return goerr.Wrap(err, "after-children hook failed",
			goerr.V("framework", v.framework.Name()),
			goerr.V("span_id", span.SpanID))
	}
	if task == nil {
		return nil
	}

	tc.popIf(task)
	task.SortChildren()
	DetectDependencies(task, v.framework)
	tc.MarkProcessed(span.SpanID)
	delete(task.Attributes, attrFramework)
	return nil
}

// AfterTraversal finalizes the context once the whole trace has been
// visited. Finalization is idempotent, so multiple visitors calling it on
// the same context is safe.
func (v *Visitor) AfterTraversal(ctx context.Context, tc *TraversalContext) error {
	return tc.Finalize()
}

func lastChild(t *Task) *Task {
	if t == nil || len(t.Children) == 0 {
		return nil
	}
	return t.Children[len(t.Children)-1]
}

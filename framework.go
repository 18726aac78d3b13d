package agentlens

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
)

// Well-known task attribute keys. Framework implementations normalize
// their provider-specific span attributes into these so the rollup engine
// stays framework-agnostic.
const (
	// AttrInputTokens, AttrOutputTokens and AttrTotalTokens hold the
	// token usage of an LLM-call task as integers.
	AttrInputTokens  = "num_input_tokens"
	AttrOutputTokens = "num_output_tokens"
	AttrTotalTokens  = "num_total_tokens"

	// AttrRelatedElements holds a map[string][]string from span ID to the
	// names of Issue/Annotation events indexed on that span, so downstream
	// components resolve related elements without re-scanning events.
	AttrRelatedElements = "related_elements"

	// attrFramework marks the owning framework on a task while its span
	// subtree is open. It is removed again when the subtree closes.
	attrFramework = "framework"
)

// Event name prefixes indexed into AttrRelatedElements during traversal.
const (
	issueEventPrefix      = "Issue"
	annotationEventPrefix = "Annotation"
)

// Framework is the capability interface implemented once per supported
// agent framework. The visitor implements everything framework-neutral;
// these hooks cover the span shapes that differ between frameworks.
type Framework interface {
	// Name returns the framework tag used for registry lookup and for
	// ownership inheritance down the open-ancestor stack.
	Name() string

	// IsFrameworkSpan reports whether the span carries this framework's
	// identifying marker.
	IsFrameworkSpan(span *Span) bool

	// ShouldCreateTask reports whether a task should be derived from the
	// span at all. Transport-level spans (e.g. HTTP requests) return false.
	ShouldCreateTask(span *Span) bool

	// ExtractTask maps a span to a candidate task. Returning (nil, nil)
	// declines the span without error.
	ExtractTask(ctx context.Context, span *Span, tc *TraversalContext) (*Task, error)

	// IsApplicableTask decides whether a span produces a new task given
	// the previous sibling, or is a duplicate of the same logical call
	// (consecutive LLM-call deduplication).
	IsApplicableTask(span *Span, prev *Task) bool

	// UpdatePropagatedInfo copies framework-propagated context (workflow
	// names, session ids) from the span onto the task.
	UpdatePropagatedInfo(task *Task, span *Span)

	// HandleAfterChildren runs at the post-order visit, e.g. to resolve a
	// graph-structure attribute into explicit dependency metadata on the
	// task's children. task is nil when no task was created for the span.
	HandleAfterChildren(ctx context.Context, task *Task, span *Span, tc *TraversalContext) error

	// DetectDependencies is the timing-heuristic fallback for frameworks
	// without explicit edge metadata. It runs after the explicit-edge
	// strategy over the same sorted children.
	DetectDependencies(parent *Task)

	// IsSentinelNode reports whether a node identifier is a synthetic
	// marker (e.g. a graph start node) that resolves without creating a
	// sibling edge.
	IsSentinelNode(node string) bool
}

// Registry holds the closed set of framework variants, keyed by name.
type Registry struct {
	mu         sync.RWMutex
	frameworks map[string]Framework
	order      []string
}

// NewRegistry creates an empty framework registry.
func NewRegistry() *Registry {
	return &Registry{frameworks: map[string]Framework{}}
}

// Register adds a framework. Registering the same name twice is an error.
func (r *Registry) Register(f Framework) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.frameworks[f.Name()]; ok {
		return goerr.Wrap(ErrDuplicateFramework, "register failed", goerr.V("framework", f.Name()))
	}
	r.frameworks[f.Name()] = f
	r.order = append(r.order, f.Name())
	return nil
}

// Lookup returns the framework registered under the given name.
func (r *Registry) Lookup(name string) (Framework, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.frameworks[name]
	return f, ok
}

// Frameworks returns all registered frameworks in registration order.
func (r *Registry) Frameworks() []Framework {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Framework, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.frameworks[name])
	}
	return out
}

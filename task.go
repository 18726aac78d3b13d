package agentlens

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tag classifies a Task's kind for rollup purposes.
type Tag string

const (
	TagLLMCall  Tag = "llm_call"
	TagToolCall Tag = "tool_call"
	TagComplex  Tag = "complex"
	TagDBCall   Tag = "db_call"
)

// RootTaskName is the name of the synthetic root task anchoring all
// top-level tasks of a trace.
const RootTaskName = "_ROOT"

// Metadata keys shared between framework implementations and the
// dependency detector.
const (
	// MetaNodeID holds the workflow node identifier of a task, when the
	// originating framework exposes one.
	MetaNodeID = "node_id"
	// MetaIncomingEdges holds the incoming edges of a task as [][]string:
	// each entry is one edge, listing the node IDs that must have finished
	// before this task started.
	MetaIncomingEdges = "incoming_edges"
)

// Task is a reconstructed, semantically tagged unit of agent work derived
// from one or more spans. It is mutable during traversal and frozen into
// a FlatTask at finalization.
type Task struct {
	ID        string
	ElementID string
	Name      string
	Tags      []Tag

	Input      map[string]any
	Output     map[string]any
	Attributes map[string]any
	Metadata   map[string]any
	Events     []SpanEvent

	StartedAt time.Time
	EndedAt   time.Time
	Status    SpanStatus

	// Parent owns the back-reference; a task never owns its parent.
	Parent   *Task
	Children []*Task

	// Dependent holds tasks this task depends on; Dependees is the
	// inverse. The two are always updated in pairs via AddDependency.
	Dependent []*Task
	Dependees []*Task
}

// NewTask creates an empty task with fresh identifiers.
func NewTask(name string) *Task {
	return &Task{
		ID:         uuid.Must(uuid.NewV7()).String(),
		ElementID:  uuid.New().String(),
		Name:       name,
		Input:      map[string]any{},
		Output:     map[string]any{},
		Attributes: map[string]any{},
		Metadata:   map[string]any{},
	}
}

func newRootTask() *Task {
	t := NewTask(RootTaskName)
	t.AddTag(TagComplex)
	// Sentinel range, corrected from children at finalization.
	t.StartedAt = time.Unix(1<<62-1, 0)
	t.EndedAt = time.Time{}
	return t
}

// IsRoot reports whether the task is the synthetic per-trace root.
func (t *Task) IsRoot() bool {
	return t.Parent == nil && strings.HasSuffix(t.Name, RootTaskName)
}

// HasTag reports whether the task carries the given tag.
func (t *Task) HasTag(tag Tag) bool {
	for _, v := range t.Tags {
		if v == tag {
			return true
		}
	}
	return false
}

// AddTag adds a tag to the task's tag set. Adding an existing tag is a no-op.
func (t *Task) AddTag(tag Tag) {
	if !t.HasTag(tag) {
		t.Tags = append(t.Tags, tag)
	}
}

// RemoveTag removes a tag from the task's tag set.
func (t *Task) RemoveTag(tag Tag) {
	for i, v := range t.Tags {
		if v == tag {
			t.Tags = append(t.Tags[:i], t.Tags[i+1:]...)
			return
		}
	}
}

// PromoteToComplex marks the task as a composite. COMPLEX excludes both
// LLM_CALL and TOOL_CALL, so those tags are dropped.
func (t *Task) PromoteToComplex() {
	t.RemoveTag(TagLLMCall)
	t.RemoveTag(TagToolCall)
	t.AddTag(TagComplex)
}

// SortChildren orders the task's children by start time.
func (t *Task) SortChildren() {
	sort.SliceStable(t.Children, func(i, j int) bool {
		return t.Children[i].StartedAt.Before(t.Children[j].StartedAt)
	})
}

// DependsOn reports whether a dependency edge from t to other already exists.
func (t *Task) DependsOn(other *Task) bool {
	for _, d := range t.Dependent {
		if d == other {
			return true
		}
	}
	return false
}

// AddDependency records that dependent depends on dependency. The link is
// symmetric: dependency gains a dependee entry. Duplicate links are ignored.
func AddDependency(dependent, dependency *Task) {
	if dependent == nil || dependency == nil || dependent == dependency {
		return
	}
	if dependent.DependsOn(dependency) {
		return
	}
	dependent.Dependent = append(dependent.Dependent, dependency)
	dependency.Dependees = append(dependency.Dependees, dependent)
}

// stripTaskTypeSuffix removes a trailing task-type marker from a derived
// task name, e.g. "search.tool_call" becomes "search".
func stripTaskTypeSuffix(name string) string {
	for _, tag := range []Tag{TagLLMCall, TagToolCall, TagComplex, TagDBCall} {
		suffix := "." + string(tag)
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	return name
}

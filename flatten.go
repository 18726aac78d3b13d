package agentlens

import (
	"maps"
	"time"
)

// FlatTask is an immutable snapshot of a Task with identifier references
// instead of live pointers. Flattening is the boundary that breaks the
// parent/children/dependent/dependees reference cycles before results are
// handed to persistence or analytics stages.
type FlatTask struct {
	ID        string `json:"id"`
	ElementID string `json:"element_id"`
	TraceID   string `json:"trace_id"`
	Name      string `json:"name"`
	Tags      []Tag  `json:"tags"`

	Input      map[string]any `json:"input,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Events     []SpanEvent    `json:"events,omitempty"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   time.Time  `json:"ended_at"`
	Status    SpanStatus `json:"status,omitempty"`

	ParentID     string   `json:"parent_id,omitempty"`
	DependentIDs []string `json:"dependent_ids"`
}

// Flatten produces the storage-ready snapshot of a task. Children,
// dependees and the parent pointer are deliberately omitted; only the
// parent ID and dependency IDs survive. DependentIDs is never nil.
func Flatten(t *Task) *FlatTask {
	f := &FlatTask{
		ID:           t.ID,
		ElementID:    t.ElementID,
		Name:         t.Name,
		Tags:         append([]Tag{}, t.Tags...),
		Input:        maps.Clone(t.Input),
		Output:       maps.Clone(t.Output),
		Attributes:   maps.Clone(t.Attributes),
		Metadata:     maps.Clone(t.Metadata),
		Events:       append([]SpanEvent{}, t.Events...),
		StartedAt:    t.StartedAt,
		EndedAt:      t.EndedAt,
		Status:       t.Status,
		DependentIDs: []string{},
	}
	if t.Parent != nil {
		f.ParentID = t.Parent.ID
	}
	for _, d := range t.Dependent {
		f.DependentIDs = append(f.DependentIDs, d.ID)
	}
	return f
}

package agentlens

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// TaskMetrics is the per-task rollup record. It exists only for the
// duration of one rollup pass; ToMetrics converts it into typed Metric
// entities for persistence.
type TaskMetrics struct {
	ExecutionTime time.Duration
	LLMCalls      int
	ToolCalls     int
	Subtasks      int
	Width         int
	LevelWidth    []int
	InputTokens   int
	OutputTokens  int
	TotalTokens   int

	// ToolDistribution counts tool invocations per tool name across the
	// task's subtree.
	ToolDistribution map[string]float64
}

func zeroTaskMetrics(execTime time.Duration) *TaskMetrics {
	return &TaskMetrics{
		ExecutionTime:    execTime,
		LevelWidth:       []int{},
		ToolDistribution: map[string]float64{},
	}
}

// ComputeTaskMetrics computes rollup statistics for every task of one
// trace, bottom-up. The input is the flattened task map exposed by a
// finalized TraversalContext, i.e. a plain parent-pointer forest.
//
// Per-task data-quality problems (missing token counts, childless COMPLEX
// tasks, duplicate IDs, unrecognized tags) are logged as warnings and
// yield defaulted values; they never abort the trace.
func ComputeTaskMetrics(ctx context.Context, tasks map[string]*FlatTask) (map[string]*TaskMetrics, error) {
	r := &rollup{
		tasks:    tasks,
		children: map[string][]*FlatTask{},
		visited:  map[string]*TaskMetrics{},
		logger:   LoggerFromContext(ctx),
	}

	for _, t := range tasks {
		if t.ParentID == "" {
			continue
		}
		if t.ParentID == t.ID {
			r.logger.Warn("task references itself as parent", "task_id", t.ID)
			continue
		}
		r.children[t.ParentID] = append(r.children[t.ParentID], t)
	}

	for _, t := range tasks {
		r.compute(t)
	}

	return r.visited, nil
}

type rollup struct {
	tasks    map[string]*FlatTask
	children map[string][]*FlatTask
	visited  map[string]*TaskMetrics
	logger   *slog.Logger
}

// compute classifies one task by its tag set and aggregates its subtree.
// Results are memoized by task ID; a task reached twice (malformed
// duplicate-parent input) reuses the first result with a warning.
func (r *rollup) compute(t *FlatTask) *TaskMetrics {
	if m, ok := r.visited[t.ID]; ok {
		return m
	}

	m := zeroTaskMetrics(executionTime(t, r.logger))
	// Memoize before recursing so malformed parent cycles terminate.
	r.visited[t.ID] = m

	warnInconsistentTags(t, r.logger)

	switch classifyTask(t) {
	case TagLLMCall:
		r.computeLLMCall(t, m)
	case TagToolCall:
		r.computeToolCall(t, m)
	case TagComplex:
		r.computeComplex(t, m)
	default:
		r.logger.Warn("task has no recognized tag, assigning zero metrics",
			"task_id", t.ID, "name", t.Name, "tags", t.Tags)
	}

	return m
}

func (r *rollup) computeLLMCall(t *FlatTask, m *TaskMetrics) {
	m.LLMCalls = 1
	m.Width = 1
	m.LevelWidth = []int{1}
	m.InputTokens = r.tokenAttr(t, AttrInputTokens)
	m.OutputTokens = r.tokenAttr(t, AttrOutputTokens)
	m.TotalTokens = r.tokenAttr(t, AttrTotalTokens)
}

func (r *rollup) computeToolCall(t *FlatTask, m *TaskMetrics) {
	m.ToolCalls = 1
	m.Width = 1
	m.LevelWidth = []int{1}
	m.ToolDistribution[toolName(t.Name)] = 1
}

func (r *rollup) computeComplex(t *FlatTask, m *TaskMetrics) {
	children := r.children[t.ID]
	if len(children) == 0 {
		r.logger.Warn("complex task has no children", "task_id", t.ID, "name", t.Name)
		return
	}

	level := []int{1}
	for _, child := range children {
		cm := r.compute(child)
		m.LLMCalls += cm.LLMCalls
		m.ToolCalls += cm.ToolCalls
		m.Subtasks += cm.Subtasks + 1
		m.InputTokens += cm.InputTokens
		m.OutputTokens += cm.OutputTokens
		m.TotalTokens += cm.TotalTokens
		level = mergeLevelWidth(level, cm.LevelWidth)
		for name, count := range cm.ToolDistribution {
			m.ToolDistribution[name] += count
		}
	}

	m.LevelWidth = level
	for _, w := range level {
		if w > m.Width {
			m.Width = w
		}
	}
}

func (r *rollup) tokenAttr(t *FlatTask, key string) int {
	raw, ok := t.Attributes[key]
	if !ok {
		r.logger.Warn("missing token count attribute, defaulting to 0",
			"task_id", t.ID, "attribute", key)
		return 0
	}
	n, ok := intValue(raw)
	if !ok {
		r.logger.Warn("token count attribute is not numeric, defaulting to 0",
			"task_id", t.ID, "attribute", key)
		return 0
	}
	return n
}

// executionTime computes end - start. Both timestamps must be present;
// a missing one yields zero with a warning rather than aborting the trace.
func executionTime(t *FlatTask, logger *slog.Logger) time.Duration {
	if t.StartedAt.IsZero() || t.EndedAt.IsZero() {
		logger.Warn("task is missing timestamps, execution time set to 0", "task_id", t.ID)
		return 0
	}
	return t.EndedAt.Sub(t.StartedAt)
}

// classifyTask picks the effective tag with priority
// LLM_CALL > TOOL_CALL > COMPLEX.
func classifyTask(t *FlatTask) Tag {
	for _, tag := range []Tag{TagLLMCall, TagToolCall, TagComplex} {
		for _, v := range t.Tags {
			if v == tag {
				return tag
			}
		}
	}
	return ""
}

func warnInconsistentTags(t *FlatTask, logger *slog.Logger) {
	has := func(tag Tag) bool {
		for _, v := range t.Tags {
			if v == tag {
				return true
			}
		}
		return false
	}
	llm, tool, complex := has(TagLLMCall), has(TagToolCall), has(TagComplex)
	if (llm && tool) || (complex && (llm || tool)) {
		logger.Warn("task carries an inconsistent tag combination",
			"task_id", t.ID, "tags", t.Tags)
	}
}

// mergeLevelWidth sums the running vector with the child's vector shifted
// down one level: the child's level 0 lands on the parent's level 1.
func mergeLevelWidth(base, child []int) []int {
	shifted := make([]int, len(child)+1)
	copy(shifted[1:], child)

	size := len(base)
	if len(shifted) > size {
		size = len(shifted)
	}
	out := make([]int, size)
	for i := range out {
		if i < len(base) {
			out[i] += base[i]
		}
		if i < len(shifted) {
			out[i] += shifted[i]
		}
	}
	return out
}

// toolName derives a tool's name from a task name: the hierarchical
// "prefix:" is dropped first, then the suffix after the last path
// separator is taken, e.g. "0.1:tools/search" yields "search".
func toolName(name string) string {
	if i := strings.Index(name, prefixSeparator); i >= 0 {
		name = name[i+len(prefixSeparator):]
	}
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func intValue(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case float32:
		return int(v), true
	default:
		return 0, false
	}
}

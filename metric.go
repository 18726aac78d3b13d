package agentlens

import (
	"math"
	"sort"

	"github.com/m-mizutani/goerr/v2"
)

// MetricKind declares the shape of a metric's value.
type MetricKind string

const (
	MetricKindNumeric      MetricKind = "numeric"
	MetricKindDistribution MetricKind = "distribution"
)

// Names of the metrics emitted per task.
const (
	MetricExecutionTime = "execution_time"
	MetricLLMCalls      = "llm_calls"
	MetricToolCalls     = "tool_calls"
	MetricSubtasks      = "subtasks"
	MetricWidth         = "width"
	MetricInputTokens   = "input_tokens"
	MetricOutputTokens  = "output_tokens"
	MetricTotalTokens   = "total_tokens"
	MetricToolUsage     = "tool_usage"
)

// Metric is a typed metric value keyed by (trace, task element, name),
// ready for handoff to an aggregation or persistence stage.
type Metric struct {
	TraceID       string     `json:"trace_id"`
	TaskElementID string     `json:"task_element_id"`
	Name          string     `json:"name"`
	Kind          MetricKind `json:"kind"`

	// Value is set for numeric metrics, Distribution for distribution
	// metrics; the constructors enforce the shape.
	Value        float64            `json:"value,omitempty"`
	Distribution map[string]float64 `json:"distribution,omitempty"`
}

// NewNumericMetric constructs a numeric metric. Non-finite values are
// rejected before any state is touched.
func NewNumericMetric(traceID, elementID, name string, value float64) (*Metric, error) {
	if name == "" {
		return nil, goerr.Wrap(ErrInvalidMetric, "metric name is empty")
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, goerr.Wrap(ErrInvalidMetric, "numeric metric value is not finite",
			goerr.V("name", name), goerr.V("value", value))
	}
	return &Metric{
		TraceID:       traceID,
		TaskElementID: elementID,
		Name:          name,
		Kind:          MetricKindNumeric,
		Value:         value,
	}, nil
}

// NewDistributionMetric constructs a distribution metric. A nil map is the
// wrong shape for this kind and is rejected; an empty map is valid.
func NewDistributionMetric(traceID, elementID, name string, dist map[string]float64) (*Metric, error) {
	if name == "" {
		return nil, goerr.Wrap(ErrInvalidMetric, "metric name is empty")
	}
	if dist == nil {
		return nil, goerr.Wrap(ErrInvalidMetric, "distribution metric requires a map value",
			goerr.V("name", name))
	}
	return &Metric{
		TraceID:       traceID,
		TaskElementID: elementID,
		Name:          name,
		Kind:          MetricKindDistribution,
		Distribution:  dist,
	}, nil
}

// MetricRecords converts per-task rollup results into one Metric per
// (task, metric-kind) pair. Output order is deterministic by task name.
func MetricRecords(traceID string, tasks map[string]*FlatTask, metrics map[string]*TaskMetrics) ([]*Metric, error) {
	ids := make([]string, 0, len(metrics))
	for id := range metrics {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := tasks[ids[i]], tasks[ids[j]]
		if ti == nil || tj == nil {
			return ids[i] < ids[j]
		}
		if ti.Name != tj.Name {
			return ti.Name < tj.Name
		}
		return ids[i] < ids[j]
	})

	var out []*Metric
	for _, id := range ids {
		task, ok := tasks[id]
		if !ok {
			continue
		}
		m := metrics[id]

		numeric := []struct {
			name  string
			value float64
		}{
			{MetricExecutionTime, m.ExecutionTime.Seconds()},
			{MetricLLMCalls, float64(m.LLMCalls)},
			{MetricToolCalls, float64(m.ToolCalls)},
			{MetricSubtasks, float64(m.Subtasks)},
			{MetricWidth, float64(m.Width)},
			{MetricInputTokens, float64(m.InputTokens)},
			{MetricOutputTokens, float64(m.OutputTokens)},
			{MetricTotalTokens, float64(m.TotalTokens)},
		}
		for _, n := range numeric {
			metric, err := NewNumericMetric(traceID, task.ElementID, n.name, n.value)
			if err != nil {
				return nil, err
			}
			out = append(out, metric)
		}

		dist := m.ToolDistribution
		if dist == nil {
			dist = map[string]float64{}
		}
		metric, err := NewDistributionMetric(traceID, task.ElementID, MetricToolUsage, dist)
		if err != nil {
			return nil, err
		}
		out = append(out, metric)
	}

	return out, nil
}

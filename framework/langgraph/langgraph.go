// Package langgraph implements the agentlens framework hooks for traces
// produced by graph-orchestration workloads. Node runs carry explicit
// trigger metadata, so dependencies between sibling tasks are resolved
// from the recorded graph edges rather than inferred from timing.
package langgraph

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/agentlens/agentlens"
)

// Span attribute keys emitted by the instrumentation.
const (
	attrSystem    = "gen_ai.system"
	attrOperation = "gen_ai.operation.name"
	attrToolName  = "gen_ai.tool.name"
	attrPrompt    = "gen_ai.prompt"
	attrCompletion = "gen_ai.completion"

	attrUsageInput  = "gen_ai.usage.input_tokens"
	attrUsageOutput = "gen_ai.usage.output_tokens"
	attrUsageTotal  = "gen_ai.usage.total_tokens"

	attrNode     = "langgraph.node"
	attrTriggers = "langgraph.triggers"
	// attrGraph holds the serialized graph structure on the workflow's
	// outermost span: a JSON object mapping node ID to its incoming
	// edges. It is resolved into per-child metadata after children.
	attrGraph    = "langgraph.graph"
	attrWorkflow = "traceloop.workflow.name"

	systemName = "langgraph"
)

// Graph sentinel nodes. They resolve trigger edges without producing a
// sibling dependency.
const (
	startNode = "__start__"
	endNode   = "__end__"
)

// Operation values mapped to task tags.
const (
	opChat        = "chat"
	opExecuteTool = "execute_tool"
)

// Framework implements agentlens.Framework for graph-orchestrated traces.
type Framework struct{}

// New creates the langgraph framework variant.
func New() *Framework {
	return &Framework{}
}

func (f *Framework) Name() string {
	return systemName
}

// IsFrameworkSpan recognizes spans carrying a node marker or the
// framework's system attribute.
func (f *Framework) IsFrameworkSpan(span *agentlens.Span) bool {
	if _, ok := span.Attributes[attrNode]; ok {
		return true
	}
	sys, _ := span.Attributes[attrSystem].(string)
	return sys == systemName
}

// ShouldCreateTask declines transport-level spans: HTTP client spans of
// the underlying SDKs produce no task.
func (f *Framework) ShouldCreateTask(span *agentlens.Span) bool {
	if _, ok := span.Attributes["http.method"]; ok {
		return false
	}
	if _, ok := span.Attributes["http.request.method"]; ok {
		return false
	}
	return true
}

// ExtractTask maps a node-run, LLM-call or tool-call span to a task.
func (f *Framework) ExtractTask(_ context.Context, span *agentlens.Span, _ *agentlens.TraversalContext) (*agentlens.Task, error) {
	task := agentlens.NewTask(span.Name)
	task.StartedAt = span.StartedAt
	task.EndedAt = span.EndedAt
	task.Status = span.Status

	op, _ := span.Attributes[attrOperation].(string)
	switch op {
	case opChat:
		task.AddTag(agentlens.TagLLMCall)
		f.extractLLMData(task, span)
	case opExecuteTool:
		task.AddTag(agentlens.TagToolCall)
		if name, ok := span.Attributes[attrToolName].(string); ok && name != "" {
			task.Name = name
		}
	}
	if _, ok := span.Attributes["db.system"]; ok {
		task.AddTag(agentlens.TagDBCall)
	}

	if node, ok := span.Attributes[attrNode].(string); ok && node != "" {
		task.Metadata[agentlens.MetaNodeID] = node
		if triggers := stringSlice(span.Attributes[attrTriggers]); len(triggers) > 0 {
			task.Metadata[agentlens.MetaIncomingEdges] = [][]string{triggers}
		}
	}

	return task, nil
}

func (f *Framework) extractLLMData(task *agentlens.Task, span *agentlens.Span) {
	if prompt, ok := span.Attributes[attrPrompt].(string); ok {
		task.Input["prompt"] = prompt
	}
	if completion, ok := span.Attributes[attrCompletion].(string); ok {
		task.Output["completion"] = completion
	}

	usage := map[string]string{
		attrUsageInput:  agentlens.AttrInputTokens,
		attrUsageOutput: agentlens.AttrOutputTokens,
		attrUsageTotal:  agentlens.AttrTotalTokens,
	}
	for src, dst := range usage {
		if v, ok := span.Attributes[src]; ok {
			task.Attributes[dst] = v
		}
	}
}

// IsApplicableTask rejects a span when it repeats the previous sibling's
// LLM call: retried streaming spans of the same node and name describe
// one logical call.
func (f *Framework) IsApplicableTask(span *agentlens.Span, prev *agentlens.Task) bool {
	if prev == nil || !prev.HasTag(agentlens.TagLLMCall) {
		return true
	}
	op, _ := span.Attributes[attrOperation].(string)
	if op != opChat {
		return true
	}
	node, _ := span.Attributes[attrNode].(string)
	prevNode, _ := prev.Metadata[agentlens.MetaNodeID].(string)
	if node != prevNode {
		return true
	}
	return stripPrefix(prev.Name) != span.Name
}

// UpdatePropagatedInfo copies the workflow name down onto every task of
// the subtree.
func (f *Framework) UpdatePropagatedInfo(task *agentlens.Task, span *agentlens.Span) {
	if wf, ok := span.Attributes[attrWorkflow].(string); ok && wf != "" {
		task.Metadata["workflow"] = wf
	}
}

// HandleAfterChildren resolves the graph-structure attribute on a
// workflow span into explicit incoming-edge metadata on the task's
// children, for nodes whose own run spans carried no trigger list.
func (f *Framework) HandleAfterChildren(_ context.Context, task *agentlens.Task, span *agentlens.Span, _ *agentlens.TraversalContext) error {
	if task == nil {
		return nil
	}
	raw, ok := span.Attributes[attrGraph].(string)
	if !ok || raw == "" {
		return nil
	}

	var graph map[string][][]string
	if err := json.Unmarshal([]byte(raw), &graph); err != nil {
		return goerr.Wrap(err, "malformed graph structure attribute", goerr.V("span_id", span.SpanID))
	}

	for _, child := range task.Children {
		node, _ := child.Metadata[agentlens.MetaNodeID].(string)
		if node == "" {
			continue
		}
		if _, ok := child.Metadata[agentlens.MetaIncomingEdges]; ok {
			continue
		}
		if edges, ok := graph[node]; ok && len(edges) > 0 {
			child.Metadata[agentlens.MetaIncomingEdges] = edges
		}
	}

	return nil
}

// DetectDependencies is a no-op: dependencies come from explicit edges.
func (f *Framework) DetectDependencies(_ *agentlens.Task) {}

// IsSentinelNode reports graph start/end markers.
func (f *Framework) IsSentinelNode(node string) bool {
	return node == startNode || node == endNode
}

func stringSlice(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		var out []string
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return strings.Split(v, ",")
	default:
		return nil
	}
}

func stripPrefix(name string) string {
	if i := strings.Index(name, ":"); i >= 0 {
		return name[i+1:]
	}
	return name
}

var _ agentlens.Framework = (*Framework)(nil)

// Package crewai implements the agentlens framework hooks for traces of
// simple call-chain workloads. There is no explicit edge metadata, so
// dependencies between siblings are inferred from strict time ordering.
package crewai

import (
	"context"
	"strings"

	"github.com/agentlens/agentlens"
)

// Span attribute keys emitted by the instrumentation.
const (
	attrSystem   = "gen_ai.system"
	attrSpanType = "crewai.span_type"
	attrAgent    = "crewai.agent.role"
	attrTaskDesc = "crewai.task.description"
	attrToolName = "gen_ai.tool.name"
	attrPrompt   = "gen_ai.prompt"
	attrCompletion = "gen_ai.completion"

	attrUsageInput  = "gen_ai.usage.input_tokens"
	attrUsageOutput = "gen_ai.usage.output_tokens"
	attrUsageTotal  = "gen_ai.usage.total_tokens"

	systemName = "crewai"
)

// Span type values mapped to task tags.
const (
	typeLLMCall   = "llm_call"
	typeToolUsage = "tool_usage"
	typeTask      = "task"
	typeAgent     = "agent"
)

// Framework implements agentlens.Framework for call-chain traces.
type Framework struct{}

// New creates the crewai framework variant.
func New() *Framework {
	return &Framework{}
}

func (f *Framework) Name() string {
	return systemName
}

// IsFrameworkSpan recognizes spans by the system attribute or any
// crewai-prefixed attribute key.
func (f *Framework) IsFrameworkSpan(span *agentlens.Span) bool {
	if sys, _ := span.Attributes[attrSystem].(string); sys == systemName {
		return true
	}
	for key := range span.Attributes {
		if strings.HasPrefix(key, "crewai.") {
			return true
		}
	}
	return false
}

// ShouldCreateTask declines transport-level spans.
func (f *Framework) ShouldCreateTask(span *agentlens.Span) bool {
	if _, ok := span.Attributes["http.method"]; ok {
		return false
	}
	if _, ok := span.Attributes["http.request.method"]; ok {
		return false
	}
	return true
}

// ExtractTask maps agent, task, LLM-call and tool-usage spans to tasks.
func (f *Framework) ExtractTask(_ context.Context, span *agentlens.Span, _ *agentlens.TraversalContext) (*agentlens.Task, error) {
	task := agentlens.NewTask(span.Name)
	task.StartedAt = span.StartedAt
	task.EndedAt = span.EndedAt
	task.Status = span.Status

	switch spanType(span) {
	case typeLLMCall:
		task.AddTag(agentlens.TagLLMCall)
		f.extractLLMData(task, span)
	case typeToolUsage:
		task.AddTag(agentlens.TagToolCall)
		if name, ok := span.Attributes[attrToolName].(string); ok && name != "" {
			task.Name = name
		}
	case typeTask, typeAgent:
		// Container spans become tasks; children promote them to COMPLEX.
		if desc, ok := span.Attributes[attrTaskDesc].(string); ok && desc != "" {
			task.Input["description"] = desc
		}
	}
	if _, ok := span.Attributes["db.system"]; ok {
		task.AddTag(agentlens.TagDBCall)
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

// IsApplicableTask rejects a span repeating the previous sibling's LLM
// call under the same name.
func (f *Framework) IsApplicableTask(span *agentlens.Span, prev *agentlens.Task) bool {
	if prev == nil || !prev.HasTag(agentlens.TagLLMCall) {
		return true
	}
	if spanType(span) != typeLLMCall {
		return true
	}
	return stripPrefix(prev.Name) != span.Name
}

// UpdatePropagatedInfo copies the executing agent role onto the task.
func (f *Framework) UpdatePropagatedInfo(task *agentlens.Task, span *agentlens.Span) {
	if role, ok := span.Attributes[attrAgent].(string); ok && role != "" {
		task.Metadata["agent_role"] = role
	}
}

// HandleAfterChildren has nothing to resolve for call-chain traces.
func (f *Framework) HandleAfterChildren(_ context.Context, _ *agentlens.Task, _ *agentlens.Span, _ *agentlens.TraversalContext) error {
	return nil
}

// DetectDependencies applies the timing heuristic: each child depends on
// the most recently finished sibling that ended strictly before the child
// started. Children are already sorted by start time.
func (f *Framework) DetectDependencies(parent *agentlens.Task) {
	for i, child := range parent.Children {
		var latest *agentlens.Task
		for _, prev := range parent.Children[:i] {
			if !prev.EndedAt.Before(child.StartedAt) {
				continue
			}
			if latest == nil || prev.EndedAt.After(latest.EndedAt) {
				latest = prev
			}
		}
		if latest != nil {
			agentlens.AddDependency(child, latest)
		}
	}
}

// IsSentinelNode never matches: call chains have no synthetic nodes.
func (f *Framework) IsSentinelNode(_ string) bool {
	return false
}

func spanType(span *agentlens.Span) string {
	t, _ := span.Attributes[attrSpanType].(string)
	return t
}

func stripPrefix(name string) string {
	if i := strings.Index(name, ":"); i >= 0 {
		return name[i+1:]
	}
	return name
}

var _ agentlens.Framework = (*Framework)(nil)

package langgraph_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/agentlens/agentlens"
	"github.com/agentlens/agentlens/framework/langgraph"
)

func span(name string, attrs map[string]any) *agentlens.Span {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	return &agentlens.Span{
		Name:       name,
		TraceID:    "trace-1",
		SpanID:     "span-1",
		StartedAt:  base,
		EndedAt:    base.Add(time.Second),
		Status:     agentlens.SpanStatusOK,
		Attributes: attrs,
	}
}

func TestIsFrameworkSpan(t *testing.T) {
	f := langgraph.New()

	gt.B(t, f.IsFrameworkSpan(span("s", map[string]any{"langgraph.node": "agent"}))).True()
	gt.B(t, f.IsFrameworkSpan(span("s", map[string]any{"gen_ai.system": "langgraph"}))).True()
	gt.B(t, f.IsFrameworkSpan(span("s", map[string]any{"gen_ai.system": "other"}))).False()
	gt.B(t, f.IsFrameworkSpan(span("s", map[string]any{}))).False()
}

func TestShouldCreateTask(t *testing.T) {
	f := langgraph.New()

	gt.B(t, f.ShouldCreateTask(span("s", map[string]any{"langgraph.node": "agent"}))).True()
	gt.B(t, f.ShouldCreateTask(span("s", map[string]any{"http.method": "POST"}))).False()
	gt.B(t, f.ShouldCreateTask(span("s", map[string]any{"http.request.method": "POST"}))).False()
}

func TestExtractTaskLLMCall(t *testing.T) {
	ctx := context.Background()
	f := langgraph.New()

	s := span("chat gpt-4o", map[string]any{
		"gen_ai.operation.name":      "chat",
		"gen_ai.prompt":              "what is the weather",
		"gen_ai.completion":          "sunny",
		"gen_ai.usage.input_tokens":  100,
		"gen_ai.usage.output_tokens": 50,
		"gen_ai.usage.total_tokens":  150,
	})

	task := gt.R1(f.ExtractTask(ctx, s, nil)).NoError(t)
	gt.Value(t, task).NotNil()
	gt.B(t, task.HasTag(agentlens.TagLLMCall)).True()
	gt.Equal(t, task.Input["prompt"], "what is the weather")
	gt.Equal(t, task.Output["completion"], "sunny")
	gt.Equal(t, task.Attributes[agentlens.AttrInputTokens], 100)
	gt.Equal(t, task.Attributes[agentlens.AttrOutputTokens], 50)
	gt.Equal(t, task.Attributes[agentlens.AttrTotalTokens], 150)
}

func TestExtractTaskToolCall(t *testing.T) {
	ctx := context.Background()
	f := langgraph.New()

	s := span("execute_tool", map[string]any{
		"gen_ai.operation.name": "execute_tool",
		"gen_ai.tool.name":      "web_search",
	})

	task := gt.R1(f.ExtractTask(ctx, s, nil)).NoError(t)
	gt.B(t, task.HasTag(agentlens.TagToolCall)).True()
	gt.Equal(t, task.Name, "web_search")
}

func TestExtractTaskDBCall(t *testing.T) {
	ctx := context.Background()
	f := langgraph.New()

	s := span("query", map[string]any{"db.system": "postgresql"})
	task := gt.R1(f.ExtractTask(ctx, s, nil)).NoError(t)
	gt.B(t, task.HasTag(agentlens.TagDBCall)).True()
}

func TestExtractTaskNodeTriggers(t *testing.T) {
	ctx := context.Background()
	f := langgraph.New()

	s := span("summarize", map[string]any{
		"langgraph.node":     "summarize",
		"langgraph.triggers": []string{"fetch", "rank"},
	})

	task := gt.R1(f.ExtractTask(ctx, s, nil)).NoError(t)
	gt.Equal(t, task.Metadata[agentlens.MetaNodeID], "summarize")
	gt.Equal(t, task.Metadata[agentlens.MetaIncomingEdges], any([][]string{{"fetch", "rank"}}))
}

func TestExtractTaskTriggersFromString(t *testing.T) {
	ctx := context.Background()
	f := langgraph.New()

	s := span("summarize", map[string]any{
		"langgraph.node":     "summarize",
		"langgraph.triggers": "fetch,rank",
	})

	task := gt.R1(f.ExtractTask(ctx, s, nil)).NoError(t)
	gt.Equal(t, task.Metadata[agentlens.MetaIncomingEdges], any([][]string{{"fetch", "rank"}}))
}

func TestIsApplicableTaskDeduplicatesRepeatedChat(t *testing.T) {
	f := langgraph.New()

	prev := agentlens.NewTask("chat gpt-4o")
	prev.AddTag(agentlens.TagLLMCall)
	prev.Metadata[agentlens.MetaNodeID] = "agent"

	same := span("chat gpt-4o", map[string]any{
		"gen_ai.operation.name": "chat",
		"langgraph.node":        "agent",
	})
	gt.B(t, f.IsApplicableTask(same, prev)).False()

	otherNode := span("chat gpt-4o", map[string]any{
		"gen_ai.operation.name": "chat",
		"langgraph.node":        "rank",
	})
	gt.B(t, f.IsApplicableTask(otherNode, prev)).True()

	tool := span("execute_tool", map[string]any{
		"gen_ai.operation.name": "execute_tool",
		"langgraph.node":        "agent",
	})
	gt.B(t, f.IsApplicableTask(tool, prev)).True()

	gt.B(t, f.IsApplicableTask(same, nil)).True()
}

func TestHandleAfterChildrenResolvesGraph(t *testing.T) {
	ctx := context.Background()
	f := langgraph.New()

	fetch := agentlens.NewTask("fetch")
	fetch.Metadata[agentlens.MetaNodeID] = "fetch"
	summarize := agentlens.NewTask("summarize")
	summarize.Metadata[agentlens.MetaNodeID] = "summarize"
	pinned := agentlens.NewTask("pinned")
	pinned.Metadata[agentlens.MetaNodeID] = "pinned"
	pinned.Metadata[agentlens.MetaIncomingEdges] = [][]string{{"fetch"}}

	parent := agentlens.NewTask("workflow")
	parent.Children = []*agentlens.Task{fetch, summarize, pinned}

	s := span("workflow", map[string]any{
		"langgraph.graph": `{"summarize":[["fetch"]],"pinned":[["summarize"]],"fetch":[["__start__"]]}`,
	})

	gt.NoError(t, f.HandleAfterChildren(ctx, parent, s, nil))

	gt.Equal(t, summarize.Metadata[agentlens.MetaIncomingEdges], any([][]string{{"fetch"}}))
	gt.Equal(t, fetch.Metadata[agentlens.MetaIncomingEdges], any([][]string{{"__start__"}}))
	// Edges already recorded by the node's own span are never overwritten
	gt.Equal(t, pinned.Metadata[agentlens.MetaIncomingEdges], any([][]string{{"fetch"}}))
}

func TestHandleAfterChildrenMalformedGraph(t *testing.T) {
	ctx := context.Background()
	f := langgraph.New()

	parent := agentlens.NewTask("workflow")
	s := span("workflow", map[string]any{"langgraph.graph": "{not json"})

	gt.Error(t, f.HandleAfterChildren(ctx, parent, s, nil))
}

func TestIsSentinelNode(t *testing.T) {
	f := langgraph.New()

	gt.B(t, f.IsSentinelNode("__start__")).True()
	gt.B(t, f.IsSentinelNode("__end__")).True()
	gt.B(t, f.IsSentinelNode("agent")).False()
}

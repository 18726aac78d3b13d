package agentlens_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/agentlens/agentlens"
)

func spanAt(name, spanID, parentID string, start, end time.Time, attrs map[string]any) *agentlens.Span {
	if attrs == nil {
		attrs = map[string]any{}
	}
	return &agentlens.Span{
		Name:         name,
		TraceID:      "trace-1",
		SpanID:       spanID,
		ParentSpanID: parentID,
		StartedAt:    start,
		EndedAt:      end,
		Status:       agentlens.SpanStatusOK,
		Attributes:   attrs,
	}
}

func flatByName(tc *agentlens.TraversalContext, name string) *agentlens.FlatTask {
	for _, f := range tc.Tasks {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func TestWalkBuildsTaskTree(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	agent := spanAt("agent", "s1", "", base, base.Add(30*time.Second),
		map[string]any{"stub.workflow": "w"})
	llm := spanAt("chat", "s2", "s1", base.Add(time.Second), base.Add(2*time.Second),
		map[string]any{
			"stub.kind":                  string(agentlens.TagLLMCall),
			agentlens.AttrInputTokens:    100,
			agentlens.AttrOutputTokens:   50,
			agentlens.AttrTotalTokens:    150,
		})
	tool := spanAt("search", "s3", "s1", base.Add(3*time.Second), base.Add(4*time.Second), nil)
	http := spanAt("POST /v1/chat", "s4", "s1", base.Add(5*time.Second), base.Add(6*time.Second),
		map[string]any{"http.method": "POST"})

	trees := gt.R1(agentlens.BuildSpanTrees([]*agentlens.Span{agent, llm, tool, http})).NoError(t)

	w := agentlens.NewWalker(agentlens.NewVisitor(&stubFramework{}))
	tc := gt.R1(w.Walk(ctx, "trace-1", trees["trace-1"])).NoError(t)

	// Synthetic root, agent task, and two children; the HTTP span is dropped
	gt.Equal(t, len(tc.Tasks), 4)

	root := flatByName(tc, "0:"+agentlens.RootTaskName)
	gt.Value(t, root).NotNil()
	gt.Equal(t, root.Tags, []agentlens.Tag{agentlens.TagComplex})
	gt.Equal(t, root.StartedAt, base)
	gt.Equal(t, root.EndedAt, base.Add(30*time.Second))

	agentTask := flatByName(tc, "0.0:agent")
	gt.Value(t, agentTask).NotNil()
	gt.Equal(t, agentTask.ParentID, root.ID)
	gt.B(t, hasTag(agentTask, agentlens.TagComplex)).True()
	gt.B(t, hasTag(agentTask, agentlens.TagToolCall)).False()

	llmTask := flatByName(tc, "0.0.0:chat")
	gt.Value(t, llmTask).NotNil()
	gt.Equal(t, llmTask.Tags, []agentlens.Tag{agentlens.TagLLMCall})
	gt.Equal(t, llmTask.Attributes[agentlens.AttrInputTokens], 100)

	toolTask := flatByName(tc, "0.0.1:search")
	gt.Value(t, toolTask).NotNil()
	gt.Equal(t, toolTask.Tags, []agentlens.Tag{agentlens.TagToolCall})

	// The transient framework marker never survives into flattened output
	for _, f := range tc.Tasks {
		_, ok := f.Attributes["framework"]
		gt.B(t, ok).False()
	}
}

func TestWalkDeduplicatesConsecutiveSpans(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	agent := spanAt("agent", "s1", "", base, base.Add(10*time.Second),
		map[string]any{"stub.workflow": "w"})
	first := spanAt("chat", "s2", "s1", base.Add(time.Second), base.Add(2*time.Second), nil)
	dup := spanAt("chat", "s3", "s1", base.Add(3*time.Second), base.Add(4*time.Second),
		map[string]any{"stub.duplicate": true})

	trees := gt.R1(agentlens.BuildSpanTrees([]*agentlens.Span{agent, first, dup})).NoError(t)

	w := agentlens.NewWalker(agentlens.NewVisitor(&stubFramework{}))
	tc := gt.R1(w.Walk(ctx, "trace-1", trees["trace-1"])).NoError(t)

	gt.Equal(t, len(tc.Tasks), 3)
	gt.Value(t, flatByName(tc, "0.0.0:chat")).NotNil()
	gt.Value(t, tc.TaskForSpan("s3")).Nil()
}

func TestWalkDependenciesEndToEnd(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	agent := spanAt("agent", "s1", "", base, base.Add(30*time.Second),
		map[string]any{"stub.workflow": "w"})
	fetch := spanAt("fetch", "s2", "s1", base.Add(time.Second), base.Add(2*time.Second),
		map[string]any{"stub.node": "fetch"})
	summarize := spanAt("summarize", "s3", "s1", base.Add(3*time.Second), base.Add(4*time.Second),
		map[string]any{
			"stub.node":  "summarize",
			"stub.edges": [][]string{{"fetch"}},
		})

	trees := gt.R1(agentlens.BuildSpanTrees([]*agentlens.Span{agent, fetch, summarize})).NoError(t)

	w := agentlens.NewWalker(agentlens.NewVisitor(&stubFramework{}))
	tc := gt.R1(w.Walk(ctx, "trace-1", trees["trace-1"])).NoError(t)

	fetchTask := flatByName(tc, "0.0.0:fetch")
	sumTask := flatByName(tc, "0.0.1:summarize")
	gt.Value(t, fetchTask).NotNil()
	gt.Value(t, sumTask).NotNil()
	gt.Equal(t, sumTask.DependentIDs, []string{fetchTask.ID})
	gt.Equal(t, fetchTask.DependentIDs, []string{})
}

func TestWalkExtractionFailureAbortsTrace(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	agent := spanAt("agent", "s1", "", base, base.Add(time.Second),
		map[string]any{"stub.workflow": "w"})
	trees := gt.R1(agentlens.BuildSpanTrees([]*agentlens.Span{agent})).NoError(t)

	w := agentlens.NewWalker(agentlens.NewVisitor(&stubFramework{failExtract: true}))
	_, err := w.Walk(ctx, "trace-1", trees["trace-1"])
	gt.Error(t, err)
}

func TestFinalizeIdempotent(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	agent := spanAt("agent", "s1", "", base, base.Add(time.Second),
		map[string]any{"stub.workflow": "w"})
	trees := gt.R1(agentlens.BuildSpanTrees([]*agentlens.Span{agent})).NoError(t)

	w := agentlens.NewWalker(agentlens.NewVisitor(&stubFramework{}))
	tc := gt.R1(w.Walk(ctx, "trace-1", trees["trace-1"])).NoError(t)

	before := len(tc.Tasks)
	gt.NoError(t, tc.Finalize())

	gt.Equal(t, len(tc.Tasks), before)
	// Prefixes are not appended a second time
	gt.Value(t, flatByName(tc, "0.0:agent")).NotNil()
	gt.Value(t, flatByName(tc, "0.0:0.0:agent")).Nil()
}

func TestWalkUnclaimedSpansYieldNothing(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	// No span carries the framework marker, so no visitor claims anything
	plain := spanAt("db", "s1", "", base, base.Add(time.Second), nil)
	trees := gt.R1(agentlens.BuildSpanTrees([]*agentlens.Span{plain})).NoError(t)

	w := agentlens.NewWalker(agentlens.NewVisitor(&stubFramework{}))
	tc := gt.R1(w.Walk(ctx, "trace-1", trees["trace-1"])).NoError(t)

	gt.Equal(t, len(tc.Tasks), 0)
	gt.Equal(t, len(tc.RootTasks()), 0)
}

func hasTag(f *agentlens.FlatTask, tag agentlens.Tag) bool {
	for _, v := range f.Tags {
		if v == tag {
			return true
		}
	}
	return false
}

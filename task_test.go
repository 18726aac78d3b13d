package agentlens_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/agentlens/agentlens"
)

func TestTagSet(t *testing.T) {
	task := agentlens.NewTask("t")
	gt.B(t, task.HasTag(agentlens.TagLLMCall)).False()

	task.AddTag(agentlens.TagLLMCall)
	task.AddTag(agentlens.TagLLMCall)
	gt.B(t, task.HasTag(agentlens.TagLLMCall)).True()
	gt.Equal(t, len(task.Tags), 1)

	task.RemoveTag(agentlens.TagLLMCall)
	gt.B(t, task.HasTag(agentlens.TagLLMCall)).False()
}

func TestPromoteToComplexDropsCallTags(t *testing.T) {
	task := agentlens.NewTask("t")
	task.AddTag(agentlens.TagLLMCall)
	task.AddTag(agentlens.TagDBCall)

	task.PromoteToComplex()

	gt.B(t, task.HasTag(agentlens.TagComplex)).True()
	gt.B(t, task.HasTag(agentlens.TagLLMCall)).False()
	gt.B(t, task.HasTag(agentlens.TagToolCall)).False()
	gt.B(t, task.HasTag(agentlens.TagDBCall)).True()
}

func TestAddDependencySymmetric(t *testing.T) {
	a := agentlens.NewTask("a")
	b := agentlens.NewTask("b")

	agentlens.AddDependency(b, a)

	gt.Equal(t, len(b.Dependent), 1)
	gt.Equal(t, b.Dependent[0], a)
	gt.Equal(t, len(a.Dependees), 1)
	gt.Equal(t, a.Dependees[0], b)

	// Duplicate links are ignored
	agentlens.AddDependency(b, a)
	gt.Equal(t, len(b.Dependent), 1)
	gt.Equal(t, len(a.Dependees), 1)

	// Self dependency is ignored
	agentlens.AddDependency(a, a)
	gt.Equal(t, len(a.Dependent), 0)
}

func TestSortChildren(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	parent := agentlens.NewTask("p")
	second := agentlens.NewTask("second")
	second.StartedAt = base.Add(10 * time.Second)
	first := agentlens.NewTask("first")
	first.StartedAt = base
	parent.Children = []*agentlens.Task{second, first}

	parent.SortChildren()

	gt.Equal(t, parent.Children[0], first)
	gt.Equal(t, parent.Children[1], second)
}

func TestNewTaskIdentifiers(t *testing.T) {
	a := agentlens.NewTask("a")
	b := agentlens.NewTask("b")
	gt.B(t, a.ID != "").True()
	gt.B(t, a.ElementID != "").True()
	gt.B(t, a.ID != b.ID).True()
}

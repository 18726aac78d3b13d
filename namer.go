package agentlens

import (
	"strconv"
	"strings"
)

// prefixSeparator joins the hierarchical prefix to the task name. A name
// already containing the separator is never prefixed again, which makes
// prefix assignment idempotent across repeated finalization runs.
const prefixSeparator = ":"

// AssignHierarchicalPrefixes rewrites every task name in the given trees
// to "prefix:name", where the prefix is the dotted position of the task
// among its siblings at each ancestor level. Root i gets "i"; the j-th
// child (ordered by start time) of a task with prefix P gets "P.j".
func AssignHierarchicalPrefixes(roots []*Task) {
	for i, root := range roots {
		assignPrefix(root, strconv.Itoa(i))
	}
}

func assignPrefix(t *Task, prefix string) {
	if !strings.Contains(t.Name, prefixSeparator) {
		t.Name = prefix + prefixSeparator + t.Name
	}
	t.SortChildren()
	for j, child := range t.Children {
		assignPrefix(child, prefix+"."+strconv.Itoa(j))
	}
}

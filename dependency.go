package agentlens

// DetectDependencies infers non-hierarchical ordering edges among the
// children of parent and records them as paired dependent/dependee links.
// Children must already be sorted by start time.
//
// Two composable strategies run in order: the explicit-edge strategy over
// per-child incoming-edge metadata (MetaIncomingEdges), then the
// framework's own timing heuristic for frameworks without explicit edges.
func DetectDependencies(parent *Task, fw Framework) {
	if parent == nil {
		return
	}

	for _, child := range parent.Children {
		resolveExplicitEdges(child, parent.Children, fw)
	}

	if fw != nil {
		fw.DetectDependencies(parent)
	}
}

// resolveExplicitEdges scans a child's incoming edges and commits the
// first edge whose sources all resolve to valid siblings. Later edges are
// not considered once one fully resolves.
func resolveExplicitEdges(child *Task, siblings []*Task, fw Framework) {
	for _, edge := range incomingEdges(child) {
		deps, ok := resolveEdge(child, edge, siblings, fw)
		if !ok {
			continue
		}
		for _, dep := range deps {
			AddDependency(child, dep)
		}
		return
	}
}

// resolveEdge resolves every source of one incoming edge. A source
// resolves when it names a sibling whose node ID matches and which
// finished strictly before the child started. Sentinel nodes resolve
// without producing a sibling edge. If any source fails to resolve, the
// whole edge fails.
func resolveEdge(child *Task, sources []string, siblings []*Task, fw Framework) ([]*Task, bool) {
	var deps []*Task
	for _, src := range sources {
		if fw != nil && fw.IsSentinelNode(src) {
			continue
		}
		sibling := findSiblingByNode(siblings, child, src)
		if sibling == nil {
			return nil, false
		}
		if !sibling.EndedAt.Before(child.StartedAt) {
			// Timing invariant violated: the edge is simply not created.
			return nil, false
		}
		if child.DependsOn(sibling) {
			// Already linked, e.g. on a repeated detection run.
			continue
		}
		deps = append(deps, sibling)
	}
	return deps, true
}

func findSiblingByNode(siblings []*Task, self *Task, nodeID string) *Task {
	for _, s := range siblings {
		if s == self {
			continue
		}
		if id, ok := s.Metadata[MetaNodeID].(string); ok && id == nodeID {
			return s
		}
	}
	return nil
}

// incomingEdges reads MetaIncomingEdges, tolerating both native [][]string
// values and the []any shapes produced by JSON decoding.
func incomingEdges(t *Task) [][]string {
	raw, ok := t.Metadata[MetaIncomingEdges]
	if !ok {
		return nil
	}

	switch v := raw.(type) {
	case [][]string:
		return v
	case []any:
		var edges [][]string
		for _, e := range v {
			switch src := e.(type) {
			case []string:
				edges = append(edges, src)
			case []any:
				var edge []string
				for _, s := range src {
					if str, ok := s.(string); ok {
						edge = append(edge, str)
					}
				}
				edges = append(edges, edge)
			}
		}
		return edges
	default:
		return nil
	}
}

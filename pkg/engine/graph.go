package engine

// The graph is fixed at compile time. Node execution follows declared
// edges only; an undeclared transition fails the invocation as a
// programming error.

// edges maps unconditional transitions. Route's outgoing edge is
// conditional and validated against routeTargets instead.
var edges = map[NodeID]NodeID{
	NodeInit:             NodeRoute,
	NodeYouTubeSearch:    NodeMerge,
	NodeKOCWSearch:       NodeMerge,
	NodeWebSearch:        NodeMerge,
	NodeDepartmentSearch: NodeMerge,
	NodeAgent:            NodeMerge,
	NodeFanOut:           NodeMerge,
	NodeFastPath:         NodeEnd,
	NodeMerge:            NodeEnd,
}

// routeTargets lists the nodes Route may branch to.
var routeTargets = map[NodeID]bool{
	NodeYouTubeSearch:    true,
	NodeKOCWSearch:       true,
	NodeWebSearch:        true,
	NodeDepartmentSearch: true,
	NodeAgent:            true,
	NodeFastPath:         true,
	NodeFanOut:           true,
}

// next returns the node following cur, applying the routing decision
// when cur branches.
func next(cur NodeID, res NodeResult) (NodeID, error) {
	if cur == NodeRoute {
		if !routeTargets[res.Next] {
			return NodeEnd, &UndeclaredEdgeError{From: cur, To: res.Next}
		}
		return res.Next, nil
	}

	to, ok := edges[cur]
	if !ok {
		return NodeEnd, &UndeclaredEdgeError{From: cur, To: ""}
	}
	return to, nil
}

package runtime

import (
	"cmp"
	"slices"

	"github.com/petal-labs/scenarioflow/graph"
)

// nodeSet tracks node membership by identity. Nodes are compared as
// interface values, so a node keeps its membership across hash changes.
type nodeSet map[graph.FlowNode]struct{}

func (s nodeSet) add(n graph.FlowNode)    { s[n] = struct{}{} }
func (s nodeSet) remove(n graph.FlowNode) { delete(s, n) }

func (s nodeSet) has(n graph.FlowNode) bool {
	_, ok := s[n]
	return ok
}

// sorted returns the members ordered by hash.
func (s nodeSet) sorted() []graph.FlowNode {
	out := make([]graph.FlowNode, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b graph.FlowNode) int {
		return cmp.Compare(a.Hash(), b.Hash())
	})
	return out
}

package roles

import (
	"slices"

	"github.com/petal-labs/scenarioflow/core"
	"github.com/petal-labs/scenarioflow/graph"
)

// session is one include/exclude window. Sessions live in the service's
// arena and are recycled through its free list.
type session struct {
	include map[core.Hash]struct{}
	exclude map[core.Hash]struct{}
	nodes   []graph.FlowNode
	live    bool
}

func (s *session) addInclude(node graph.FlowNode, identity core.Hash) {
	if s.include == nil {
		s.include = make(map[core.Hash]struct{})
	}
	s.include[identity] = struct{}{}
	s.addNode(node)
}

func (s *session) addExclude(node graph.FlowNode, identity core.Hash) {
	if s.exclude == nil {
		s.exclude = make(map[core.Hash]struct{})
	}
	s.exclude[identity] = struct{}{}
	s.addNode(node)
}

func (s *session) addNode(node graph.FlowNode) {
	if !slices.Contains(s.nodes, node) {
		s.nodes = append(s.nodes, node)
	}
}

func (s *session) reset() {
	clear(s.include)
	clear(s.exclude)
	clear(s.nodes)
	s.nodes = s.nodes[:0]
	s.live = false
}

// canExecute applies the window rules: an empty include set admits anyone
// not excluded; otherwise the identity must be included and not excluded.
func (s *session) canExecute(identity core.Hash) bool {
	_, excluded := s.exclude[identity]
	if len(s.include) == 0 {
		return !excluded
	}
	_, included := s.include[identity]
	return included && !excluded
}

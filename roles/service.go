// Package roles decides which participant identity may execute which node.
//
// Include and exclude marker components open a filter session on the node
// that carries them. The session propagates forward to descendants as they
// are processed until a node carrying a reset marker closes it. Node-local
// markers restrict only their own node.
package roles

import (
	"log/slog"

	"github.com/petal-labs/scenarioflow/core"
	"github.com/petal-labs/scenarioflow/graph"
)

// Service tracks filter sessions for one player tree. It is not safe for
// concurrent use; the player calls it from its loop.
type Service struct {
	logger *slog.Logger

	sessions []session
	free     []int
	byNode   map[graph.FlowNode]int

	// node-local window of the most recently processed node
	local session
}

// NewService returns an empty role filter service.
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger: logger,
		byNode: make(map[graph.FlowNode]int),
	}
}

// Process prepares the filter state for node before it is activated. It
// resets the node-local window, adopts a session inherited from a processed
// predecessor and applies the node's marker components.
//
// Processing a node that already belongs to a session without a reset in
// between is a usage error: it is logged and the session force-closed
// before the node is processed afresh.
func (s *Service) Process(node graph.FlowNode, g *graph.Graph) {
	cn, ok := node.(graph.ComponentsNode)
	if !ok {
		s.local.reset()
		return
	}

	s.local.reset()
	if idx, seen := s.byNode[node]; seen {
		s.logger.Error("roles: node processed twice without reset, filter session force-closed",
			"node", node.Hash())
		s.release(idx)
	}

	s.inherit(node, g)
	for _, c := range cn.Components() {
		s.apply(c, node)
	}
}

// CanBeExecuted reports whether identity may execute node. Identity 0
// disables filtering.
func (s *Service) CanBeExecuted(node graph.FlowNode, identity core.Hash) bool {
	if identity == 0 {
		return true
	}
	if !s.local.canExecute(identity) {
		return false
	}
	idx, ok := s.byNode[node]
	if !ok {
		return true
	}
	return s.sessions[idx].canExecute(identity)
}

// Clear closes every session.
func (s *Service) Clear() {
	for i := range s.sessions {
		if s.sessions[i].live {
			s.release(i)
		}
	}
	clear(s.byNode)
	s.local.reset()
}

// Sessions returns the number of open sessions.
func (s *Service) Sessions() int {
	return len(s.sessions) - len(s.free)
}

// InSession reports whether node currently belongs to a session.
func (s *Service) InSession(node graph.FlowNode) bool {
	_, ok := s.byNode[node]
	return ok
}

func (s *Service) inherit(node graph.FlowNode, g *graph.Graph) {
	if len(s.byNode) == 0 || g == nil {
		return
	}

	adopted := -1
	for prev := range g.IncomingNodes(node) {
		idx, ok := s.byNode[prev]
		if !ok {
			continue
		}
		if adopted < 0 {
			adopted = idx
			s.byNode[node] = idx
			s.sessions[idx].addNode(node)
			continue
		}
		if idx != adopted {
			s.logger.Error("roles: unclosed filter session force-closed",
				"node", node.Hash(), "predecessor", prev.Hash())
			s.release(idx)
		}
	}
}

func (s *Service) apply(c core.Component, node graph.FlowNode) {
	switch m := c.(type) {
	case core.RoleInclude:
		if m.Identity != nil {
			s.sessionFor(node).addInclude(node, m.Identity.Hash)
		}
	case core.RoleExclude:
		if m.Identity != nil {
			s.sessionFor(node).addExclude(node, m.Identity.Hash)
		}
	case core.RoleNodeInclude:
		if m.Identity != nil {
			s.local.addInclude(node, m.Identity.Hash)
		}
	case core.RoleNodeExclude:
		if m.Identity != nil {
			s.local.addExclude(node, m.Identity.Hash)
		}
	case core.RoleReset:
		if idx, ok := s.byNode[node]; ok {
			s.release(idx)
		}
	}
}

// sessionFor returns the session node belongs to, opening one if needed.
func (s *Service) sessionFor(node graph.FlowNode) *session {
	if idx, ok := s.byNode[node]; ok {
		return &s.sessions[idx]
	}

	var idx int
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		s.sessions = append(s.sessions, session{})
		idx = len(s.sessions) - 1
	}
	sess := &s.sessions[idx]
	sess.live = true
	sess.addNode(node)
	s.byNode[node] = idx
	return sess
}

// release evicts every member of the session and returns it to the free list.
func (s *Service) release(idx int) {
	sess := &s.sessions[idx]
	if !sess.live {
		return
	}
	for _, n := range sess.nodes {
		if cur, ok := s.byNode[n]; ok && cur == idx {
			delete(s.byNode, n)
		}
	}
	sess.reset()
	s.free = append(s.free, idx)
}

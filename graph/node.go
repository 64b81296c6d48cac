package graph

import (
	"iter"
	"slices"

	"github.com/petal-labs/scenarioflow/core"
)

// Node is anything the graph indexes by hash.
type Node interface {
	// Hash returns the node's current identity.
	Hash() core.Hash

	// SetHash changes the node's identity. Use Graph.UpdateHash for nodes
	// that are already part of a graph so attached links are re-keyed.
	SetHash(core.Hash)
}

// FlowNode is a node that participates in control flow. Its link sets hold
// back-references (link hashes) into the owning graph.
type FlowNode interface {
	Node

	// IncomingLinks returns the hashes of links ending at this node.
	IncomingLinks() *HashSet

	// OutgoingLinks returns the hashes of links starting at this node.
	OutgoingLinks() *HashSet

	// ActivationType returns the node's declared join policy.
	ActivationType() core.ActivationType
}

// ComponentsNode carries an ordered list of component payloads.
type ComponentsNode interface {
	FlowNode
	Components() []core.Component
}

// StartNode marks the entry points of a scenario.
type StartNode interface {
	FlowNode
	StartNode()
}

// EndNode marks nodes that must complete for a scenario to finish.
type EndNode interface {
	FlowNode
	EndNode()
}

// IsStart reports whether n is a start node.
func IsStart(n FlowNode) bool {
	_, ok := n.(StartNode)
	return ok
}

// IsEnd reports whether n is an end node.
func IsEnd(n FlowNode) bool {
	_, ok := n.(EndNode)
	return ok
}

// HashSet is an insertion-ordered set of hashes. The zero value is empty and
// ready to use.
type HashSet struct {
	index map[core.Hash]int
	items []core.Hash
}

// Add inserts h. It reports false if h was already present.
func (s *HashSet) Add(h core.Hash) bool {
	if s.index == nil {
		s.index = make(map[core.Hash]int)
	}
	if _, ok := s.index[h]; ok {
		return false
	}
	s.index[h] = len(s.items)
	s.items = append(s.items, h)
	return true
}

// Remove deletes h. It reports false if h was absent.
func (s *HashSet) Remove(h core.Hash) bool {
	i, ok := s.index[h]
	if !ok {
		return false
	}
	s.items = slices.Delete(s.items, i, i+1)
	delete(s.index, h)
	for j := i; j < len(s.items); j++ {
		s.index[s.items[j]] = j
	}
	return true
}

// Contains reports whether h is in the set.
func (s *HashSet) Contains(h core.Hash) bool {
	_, ok := s.index[h]
	return ok
}

// Len returns the number of hashes in the set.
func (s *HashSet) Len() int {
	return len(s.items)
}

// Clear empties the set.
func (s *HashSet) Clear() {
	clear(s.index)
	s.items = s.items[:0]
}

// All yields the hashes in insertion order.
func (s *HashSet) All() iter.Seq[core.Hash] {
	return func(yield func(core.Hash) bool) {
		for _, h := range s.items {
			if !yield(h) {
				return
			}
		}
	}
}

// Slice returns a copy of the hashes in insertion order.
func (s *HashSet) Slice() []core.Hash {
	return slices.Clone(s.items)
}

// NodeBase implements FlowNode and is embedded by concrete node types.
type NodeBase struct {
	hash       core.Hash
	activation core.ActivationType
	incoming   HashSet
	outgoing   HashSet
}

// NewNodeBase returns a base with the given identity and join policy.
func NewNodeBase(hash core.Hash, activation core.ActivationType) NodeBase {
	return NodeBase{hash: hash, activation: activation}
}

func (n *NodeBase) Hash() core.Hash                     { return n.hash }
func (n *NodeBase) SetHash(h core.Hash)                 { n.hash = h }
func (n *NodeBase) IncomingLinks() *HashSet             { return &n.incoming }
func (n *NodeBase) OutgoingLinks() *HashSet             { return &n.outgoing }
func (n *NodeBase) ActivationType() core.ActivationType { return n.activation }

// SetActivationType changes the declared join policy.
func (n *NodeBase) SetActivationType(t core.ActivationType) { n.activation = t }

// Link is a directed edge. Its identity is always derived from the current
// identities of its endpoints.
type Link struct {
	From FlowNode
	To   FlowNode
}

// NewLink returns a link from -> to.
func NewLink(from, to FlowNode) *Link {
	return &Link{From: from, To: to}
}

// Hash returns Combine(From.Hash(), To.Hash()).
func (l *Link) Hash() core.Hash {
	return core.Combine(l.From.Hash(), l.To.Hash())
}

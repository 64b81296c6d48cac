// Package graph holds the scenario graph: nodes and links indexed by hash,
// structural mutation, and traversal. It has no execution behavior.
package graph

import (
	"iter"
	"log/slog"
	"maps"
	"slices"

	"github.com/petal-labs/scenarioflow/core"
)

// Graph indexes nodes and links by hash. It owns neither: nodes and links
// are created by the authoring layer and only registered here.
//
// Graph is not safe for concurrent mutation. Structural edits must be
// serialized with any in-flight traversal.
type Graph struct {
	name   string
	nodes  map[core.Hash]Node
	links  map[core.Hash]*Link
	logger *slog.Logger
}

// New creates an empty graph.
func New(name string) *Graph {
	return &Graph{
		name:   name,
		nodes:  make(map[core.Hash]Node),
		links:  make(map[core.Hash]*Link),
		logger: slog.Default(),
	}
}

// Name returns the graph's identifier.
func (g *Graph) Name() string {
	return g.name
}

// SetLogger sets the logger used to report structural integrity errors.
// A nil logger restores slog.Default().
func (g *Graph) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	g.logger = l
}

// Clear removes every node and link.
func (g *Graph) Clear() {
	clear(g.links)
	clear(g.nodes)
}

// NodeCount returns the number of registered nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// LinkCount returns the number of registered links.
func (g *Graph) LinkCount() int { return len(g.links) }

// Nodes yields every node ordered by hash.
func (g *Graph) Nodes() iter.Seq[Node] {
	return func(yield func(Node) bool) {
		for _, h := range slices.Sorted(maps.Keys(g.nodes)) {
			if !yield(g.nodes[h]) {
				return
			}
		}
	}
}

// Links yields every link ordered by hash.
func (g *Graph) Links() iter.Seq[*Link] {
	return func(yield func(*Link) bool) {
		for _, h := range slices.Sorted(maps.Keys(g.links)) {
			if !yield(g.links[h]) {
				return
			}
		}
	}
}

// --- Nodes ---

// AddNode registers node. It reports false for a nil node or a hash
// collision. Link sets of a newly added flow node are reset.
func (g *Graph) AddNode(node Node) bool {
	if node == nil {
		return false
	}
	if _, exists := g.nodes[node.Hash()]; exists {
		return false
	}
	g.nodes[node.Hash()] = node
	if flow, ok := node.(FlowNode); ok {
		flow.IncomingLinks().Clear()
		flow.OutgoingLinks().Clear()
	}
	return true
}

// RemoveNodeByHash removes the node registered under hash.
func (g *Graph) RemoveNodeByHash(hash core.Hash) bool {
	node, ok := g.nodes[hash]
	if !ok {
		return false
	}
	return g.RemoveNode(node)
}

// RemoveNode unregisters node and every link touching it.
func (g *Graph) RemoveNode(node Node) bool {
	if node == nil {
		return false
	}
	if _, ok := g.nodes[node.Hash()]; !ok {
		return false
	}
	delete(g.nodes, node.Hash())

	if flow, ok := node.(FlowNode); ok {
		for _, link := range slices.Collect(g.AllLinks(flow)) {
			g.RemoveLink(link)
		}
	}
	return true
}

// ContainsNode reports whether a node is registered under hash.
func (g *Graph) ContainsNode(hash core.Hash) bool {
	_, ok := g.nodes[hash]
	return ok
}

// Node returns the node registered under hash.
func (g *Graph) Node(hash core.Hash) (Node, bool) {
	n, ok := g.nodes[hash]
	return n, ok
}

// FlowNode returns the flow node registered under hash. ok is false when the
// hash is unknown or the node is not a flow node.
func (g *Graph) FlowNode(hash core.Hash) (FlowNode, bool) {
	flow, ok := g.nodes[hash].(FlowNode)
	return flow, ok
}

// UpdateHash re-keys node from oldHash to newHash and re-registers every
// attached link under its recomputed hash, updating the opposite endpoint's
// link set. It reports false when nothing changed.
func (g *Graph) UpdateHash(node Node, oldHash, newHash core.Hash) bool {
	if node == nil || oldHash == newHash {
		return false
	}
	if current, ok := g.nodes[oldHash]; !ok || current != node {
		return false
	}
	if _, taken := g.nodes[newHash]; taken {
		g.logger.Error("graph: hash already in use", "old", oldHash, "new", newHash)
		return false
	}

	flow, isFlow := node.(FlowNode)
	var incoming, outgoing []*Link
	if isFlow {
		incoming = slices.Collect(g.IncomingLinks(flow))
		outgoing = slices.Collect(g.OutgoingLinks(flow))
	}

	node.SetHash(newHash)
	delete(g.nodes, oldHash)
	g.nodes[newHash] = node

	if !isFlow {
		return true
	}

	flow.IncomingLinks().Clear()
	flow.OutgoingLinks().Clear()

	for _, in := range incoming {
		fromHash := in.From.Hash()
		if in.From == flow {
			fromHash = oldHash
		}
		oldLink := core.Combine(fromHash, oldHash)
		delete(g.links, oldLink)
		g.links[in.Hash()] = in

		in.From.OutgoingLinks().Remove(oldLink)
		in.From.OutgoingLinks().Add(in.Hash())
		flow.IncomingLinks().Add(in.Hash())
	}
	for _, out := range outgoing {
		toHash := out.To.Hash()
		if out.To == flow {
			toHash = oldHash
		}
		oldLink := core.Combine(oldHash, toHash)
		delete(g.links, oldLink)
		g.links[out.Hash()] = out

		out.To.IncomingLinks().Remove(oldLink)
		out.To.IncomingLinks().Add(out.Hash())
		flow.OutgoingLinks().Add(out.Hash())
	}
	return true
}

// --- Links ---

// AddLink registers link and attaches it to both endpoints.
func (g *Graph) AddLink(link *Link) bool {
	if link == nil || link.From == nil || link.To == nil {
		return false
	}
	h := link.Hash()
	if _, exists := g.links[h]; exists {
		return false
	}
	g.links[h] = link
	link.From.OutgoingLinks().Add(h)
	link.To.IncomingLinks().Add(h)
	return true
}

// AddLinkWithNodes registers link and its endpoints.
func (g *Graph) AddLinkWithNodes(link *Link) bool {
	if link == nil || link.From == nil || link.To == nil {
		return false
	}
	h := link.Hash()
	if _, exists := g.links[h]; exists {
		return false
	}
	g.links[h] = link
	g.AddNode(link.From)
	g.AddNode(link.To)

	link.From.OutgoingLinks().Add(h)
	link.To.IncomingLinks().Add(h)
	return true
}

// RemoveLink unregisters link and detaches it from both endpoints.
func (g *Graph) RemoveLink(link *Link) bool {
	if link == nil {
		return false
	}
	h := link.Hash()
	if _, ok := g.links[h]; !ok {
		return false
	}
	delete(g.links, h)
	link.From.OutgoingLinks().Remove(h)
	link.To.IncomingLinks().Remove(h)
	return true
}

// RemoveLinkWithNodes unregisters link and both of its endpoints.
func (g *Graph) RemoveLinkWithNodes(link *Link) bool {
	if link == nil {
		return false
	}
	h := link.Hash()
	if _, ok := g.links[h]; !ok {
		return false
	}
	delete(g.links, h)
	g.RemoveNode(link.From)
	g.RemoveNode(link.To)

	link.From.OutgoingLinks().Remove(h)
	link.To.IncomingLinks().Remove(h)
	return true
}

// RemoveLinkBetween removes the link from -> to, if registered.
func (g *Graph) RemoveLinkBetween(from, to FlowNode) bool {
	if from == nil || to == nil {
		return false
	}
	return g.RemoveLink(g.links[core.Combine(from.Hash(), to.Hash())])
}

// Link returns the link registered under hash.
func (g *Graph) Link(hash core.Hash) (*Link, bool) {
	l, ok := g.links[hash]
	return l, ok
}

// ContainsLink reports whether link is registered.
func (g *Graph) ContainsLink(link *Link) bool {
	if link == nil {
		return false
	}
	_, ok := g.links[link.Hash()]
	return ok
}

// ContainsLinkBetween reports whether a link from -> to is registered.
func (g *Graph) ContainsLinkBetween(from, to FlowNode) bool {
	if from == nil || to == nil {
		return false
	}
	_, ok := g.links[core.Combine(from.Hash(), to.Hash())]
	return ok
}

// Connect creates a link from -> to and registers it with its endpoints.
// The returned link is non-nil even when registration fails.
func (g *Graph) Connect(from, to FlowNode) (*Link, bool) {
	link := NewLink(from, to)
	return link, g.AddLinkWithNodes(link)
}

// --- Traversal ---

// IncomingLinks yields the links ending at node. Dangling hashes are logged
// and skipped.
func (g *Graph) IncomingLinks(node FlowNode) iter.Seq[*Link] {
	return g.resolveLinks(node.IncomingLinks())
}

// OutgoingLinks yields the links starting at node.
func (g *Graph) OutgoingLinks(node FlowNode) iter.Seq[*Link] {
	return g.resolveLinks(node.OutgoingLinks())
}

// AllLinks yields incoming links followed by outgoing links.
func (g *Graph) AllLinks(node FlowNode) iter.Seq[*Link] {
	return func(yield func(*Link) bool) {
		for l := range g.IncomingLinks(node) {
			if !yield(l) {
				return
			}
		}
		for l := range g.OutgoingLinks(node) {
			if !yield(l) {
				return
			}
		}
	}
}

// IncomingNodes yields the predecessors of node.
func (g *Graph) IncomingNodes(node FlowNode) iter.Seq[FlowNode] {
	return func(yield func(FlowNode) bool) {
		for l := range g.IncomingLinks(node) {
			if l.From == nil {
				g.logger.Error("graph: link has no source", "node", node.Hash())
				continue
			}
			if !yield(l.From) {
				return
			}
		}
	}
}

// OutgoingNodes yields the successors of node.
func (g *Graph) OutgoingNodes(node FlowNode) iter.Seq[FlowNode] {
	return func(yield func(FlowNode) bool) {
		for l := range g.OutgoingLinks(node) {
			if l.To == nil {
				g.logger.Error("graph: link has no target", "node", node.Hash())
				continue
			}
			if !yield(l.To) {
				return
			}
		}
	}
}

func (g *Graph) resolveLinks(set *HashSet) iter.Seq[*Link] {
	return func(yield func(*Link) bool) {
		for h := range set.All() {
			link, ok := g.links[h]
			if !ok || link == nil {
				g.logger.Error("graph: link not found", "link", h)
				continue
			}
			if !yield(link) {
				return
			}
		}
	}
}

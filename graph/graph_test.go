package graph

import (
	"slices"
	"testing"

	"github.com/petal-labs/scenarioflow/core"
)

type testNode struct {
	NodeBase
	name string
}

func newTestNode(name string) *testNode {
	return &testNode{NodeBase: NewNodeBase(core.HashString(name), core.ActivationAnd), name: name}
}

type plainNode struct{ hash core.Hash }

func (n *plainNode) Hash() core.Hash     { return n.hash }
func (n *plainNode) SetHash(h core.Hash) { n.hash = h }

func TestGraph_AddNode(t *testing.T) {
	g := New("test")
	a := newTestNode("a")
	a.OutgoingLinks().Add(123)

	if !g.AddNode(a) {
		t.Fatal("AddNode should succeed")
	}
	if !g.ContainsNode(a.Hash()) {
		t.Error("ContainsNode should be true after AddNode")
	}
	if a.OutgoingLinks().Len() != 0 {
		t.Error("AddNode should reset the link sets of a flow node")
	}
	if g.AddNode(newTestNode("a")) {
		t.Error("AddNode should reject a hash collision")
	}
	if g.AddNode(nil) {
		t.Error("AddNode should reject nil")
	}
	if !g.AddNode(&plainNode{hash: 9}) {
		t.Error("AddNode should accept non-flow nodes")
	}
}

func TestGraph_RemoveNodeCascadesLinks(t *testing.T) {
	g := New("test")
	a, b, c := newTestNode("a"), newTestNode("b"), newTestNode("c")
	g.Connect(a, b)
	g.Connect(b, c)

	if !g.RemoveNode(b) {
		t.Fatal("RemoveNode should succeed")
	}
	if g.ContainsNode(b.Hash()) {
		t.Error("ContainsNode should be false after RemoveNode")
	}
	if g.LinkCount() != 0 {
		t.Errorf("LinkCount = %d, want 0", g.LinkCount())
	}
	if a.OutgoingLinks().Len() != 0 || c.IncomingLinks().Len() != 0 {
		t.Error("neighbours should no longer reference removed links")
	}
	if g.RemoveNode(b) {
		t.Error("RemoveNode of an absent node should fail")
	}
	if g.RemoveNodeByHash(12345) {
		t.Error("RemoveNodeByHash of an unknown hash should fail")
	}
}

func TestGraph_LinkHashDerivedFromEndpoints(t *testing.T) {
	g := New("test")
	a, b := newTestNode("a"), newTestNode("b")
	link, ok := g.Connect(a, b)
	if !ok {
		t.Fatal("Connect should succeed")
	}
	if link.Hash() != core.Combine(a.Hash(), b.Hash()) {
		t.Error("link hash should combine endpoint hashes")
	}
	if !g.ContainsLinkBetween(a, b) {
		t.Error("ContainsLinkBetween(a, b) should be true")
	}
	if g.ContainsLinkBetween(b, a) {
		t.Error("links are directed")
	}
	if _, ok := g.Connect(a, b); ok {
		t.Error("duplicate link should be rejected")
	}
}

func TestGraph_UpdateHash(t *testing.T) {
	g := New("test")
	a, b, c := newTestNode("a"), newTestNode("b"), newTestNode("c")
	g.Connect(a, b)
	g.Connect(b, c)

	oldHash := b.Hash()
	newHash := core.HashString("b2")
	if !g.UpdateHash(b, oldHash, newHash) {
		t.Fatal("UpdateHash should succeed")
	}

	if g.ContainsNode(oldHash) || !g.ContainsNode(newHash) {
		t.Fatal("node should be re-keyed")
	}
	if b.Hash() != newHash {
		t.Errorf("node hash = %d, want %d", b.Hash(), newHash)
	}

	for link := range g.Links() {
		if _, ok := g.Link(core.Combine(link.From.Hash(), link.To.Hash())); !ok {
			t.Errorf("link %d not registered under its derived hash", link.Hash())
		}
	}
	if g.LinkCount() != 2 {
		t.Errorf("LinkCount = %d, want 2", g.LinkCount())
	}

	checkSet := func(name string, set *HashSet) {
		for h := range set.All() {
			if _, ok := g.Link(h); !ok {
				t.Errorf("%s references stale link hash %d", name, h)
			}
		}
	}
	checkSet("a.outgoing", a.OutgoingLinks())
	checkSet("b.incoming", b.IncomingLinks())
	checkSet("b.outgoing", b.OutgoingLinks())
	checkSet("c.incoming", c.IncomingLinks())

	succ := slices.Collect(g.OutgoingNodes(a))
	if len(succ) != 1 || succ[0] != FlowNode(b) {
		t.Errorf("a successors = %v, want [b]", succ)
	}
}

func TestGraph_UpdateHashNoop(t *testing.T) {
	g := New("test")
	a, b := newTestNode("a"), newTestNode("b")
	g.Connect(a, b)

	if g.UpdateHash(a, a.Hash(), a.Hash()) {
		t.Error("UpdateHash with equal hashes should be a no-op")
	}
	if g.UpdateHash(nil, 1, 2) {
		t.Error("UpdateHash with nil node should be a no-op")
	}
	if g.UpdateHash(a, a.Hash(), b.Hash()) {
		t.Error("UpdateHash onto an existing hash should fail")
	}
	if !g.ContainsLinkBetween(a, b) {
		t.Error("graph should be unchanged")
	}
}

func TestGraph_UpdateHashSelfLoop(t *testing.T) {
	g := New("test")
	a := newTestNode("a")
	g.Connect(a, a)

	if !g.UpdateHash(a, a.Hash(), 77) {
		t.Fatal("UpdateHash should succeed")
	}
	if !g.ContainsLinkBetween(a, a) {
		t.Error("self loop should survive re-keying")
	}
	if g.LinkCount() != 1 {
		t.Errorf("LinkCount = %d, want 1", g.LinkCount())
	}
	if a.IncomingLinks().Len() != 1 || a.OutgoingLinks().Len() != 1 {
		t.Error("self loop should be referenced once per direction")
	}
}

func TestGraph_RemoveLink(t *testing.T) {
	g := New("test")
	a, b := newTestNode("a"), newTestNode("b")
	link, _ := g.Connect(a, b)

	if !g.RemoveLink(link) {
		t.Fatal("RemoveLink should succeed")
	}
	if a.OutgoingLinks().Len() != 0 || b.IncomingLinks().Len() != 0 {
		t.Error("endpoint link sets should be detached")
	}
	if !g.ContainsNode(a.Hash()) || !g.ContainsNode(b.Hash()) {
		t.Error("RemoveLink should keep the endpoints")
	}
	if g.RemoveLink(link) {
		t.Error("second RemoveLink should fail")
	}
}

func TestGraph_RemoveLinkWithNodes(t *testing.T) {
	g := New("test")
	a, b := newTestNode("a"), newTestNode("b")
	link, _ := g.Connect(a, b)

	if !g.RemoveLinkWithNodes(link) {
		t.Fatal("RemoveLinkWithNodes should succeed")
	}
	if g.NodeCount() != 0 || g.LinkCount() != 0 {
		t.Errorf("graph should be empty, got %d nodes %d links", g.NodeCount(), g.LinkCount())
	}
}

func TestGraph_DanglingLinkSkipped(t *testing.T) {
	g := New("test")
	a, b := newTestNode("a"), newTestNode("b")
	g.Connect(a, b)
	a.OutgoingLinks().Add(999)

	succ := slices.Collect(g.OutgoingNodes(a))
	if len(succ) != 1 {
		t.Errorf("dangling hash should be skipped, got %d successors", len(succ))
	}
}

func TestGraph_FlowNodeLookup(t *testing.T) {
	g := New("test")
	a := newTestNode("a")
	g.AddNode(a)
	g.AddNode(&plainNode{hash: 5})

	if n, ok := g.FlowNode(a.Hash()); !ok || n != FlowNode(a) {
		t.Error("FlowNode should find a registered flow node")
	}
	if _, ok := g.FlowNode(5); ok {
		t.Error("FlowNode should reject non-flow nodes")
	}
	if _, ok := g.FlowNode(404); ok {
		t.Error("FlowNode should report false for unknown hashes")
	}
}

func TestHashSet_Order(t *testing.T) {
	var s HashSet
	for _, h := range []core.Hash{3, 1, 2} {
		s.Add(h)
	}
	if s.Add(1) {
		t.Error("duplicate Add should report false")
	}
	s.Remove(1)
	if got := s.Slice(); !slices.Equal(got, []core.Hash{3, 2}) {
		t.Errorf("Slice = %v, want [3 2]", got)
	}
	if !s.Contains(2) || s.Contains(1) {
		t.Error("Contains mismatch after Remove")
	}
	s.Clear()
	if s.Len() != 0 {
		t.Error("Clear should empty the set")
	}
}

package block

import "testing"

// TestDominatorsDiamond builds the classic diamond (entry -> a, b -> join)
// and checks that join's immediate dominator is entry, while a and b
// dominate only themselves.
func TestDominatorsDiamond(t *testing.T) {
	g := NewGraph()
	entry := g.AddBlock()
	a := g.AddBlock()
	b := g.AddBlock()
	join := g.AddBlock()

	AddEdge(entry, a)
	AddEdge(entry, b)
	AddEdge(a, join)
	AddEdge(b, join)

	if idom := g.ImmediateDominator(join); idom != entry {
		t.Fatalf("expected join's idom to be entry, got %v", idom)
	}
	if !g.Dominates(entry, join) {
		t.Fatalf("expected entry to dominate join")
	}
	if g.Dominates(a, join) {
		t.Fatalf("expected a not to dominate join (b is an alternate path)")
	}
}

// TestCommonInitblockWalksLinearChains is the conditional-execution
// simplifier's "find initblock" step: two predecessor chains through
// single-in/single-out blocks must converge on the same block.
func TestCommonInitblockWalksLinearChains(t *testing.T) {
	g := NewGraph()
	init := g.AddBlock()
	prea := g.AddBlock()
	preb := g.AddBlock()
	iblock := g.AddBlock()

	AddEdge(init, prea)
	AddEdge(init, preb)
	AddEdge(prea, iblock)
	AddEdge(preb, iblock)

	found, ok := CommonInitblock([]*BlockBasic{prea, preb})
	if !ok || found != init {
		t.Fatalf("expected CommonInitblock to find the shared init block")
	}
}

func TestCommonInitblockFailsOnDivergentChains(t *testing.T) {
	g := NewGraph()
	initA := g.AddBlock()
	initB := g.AddBlock()
	prea := g.AddBlock()
	preb := g.AddBlock()

	AddEdge(initA, prea)
	AddEdge(initB, preb)

	if _, ok := CommonInitblock([]*BlockBasic{prea, preb}); ok {
		t.Fatalf("expected CommonInitblock to fail when chains reach different blocks")
	}
}

func TestDetachRemovesAllEdges(t *testing.T) {
	g := NewGraph()
	prea := g.AddBlock()
	iblock := g.AddBlock()
	posta := g.AddBlock()

	AddEdge(prea, iblock)
	AddEdge(iblock, posta)

	g.Detach(iblock)

	if len(iblock.In) != 0 || len(iblock.Out) != 0 {
		t.Fatalf("expected iblock to have no edges after Detach")
	}
	if len(prea.Out) != 0 {
		t.Fatalf("expected prea's out-edge to iblock to be removed")
	}
	if len(posta.In) != 0 {
		t.Fatalf("expected posta's in-edge from iblock to be removed")
	}
}

// Package block implements the basic-block graph: ordered op lists with
// in/out edges, plus the dominator query the conditional-execution
// simplifier needs to find a shared initblock.
package block

import "github.com/sentra-lang/pcodec/internal/pcode"

// BlockBasic is one straight-line sequence of ops with explicit control-
// flow edges to its predecessors and successors.
type BlockBasic struct {
	Index int

	Ops []*pcode.PcodeOp

	In  []*BlockBasic
	Out []*BlockBasic

	// idom is the immediate dominator, nil for the entry block. Computed
	// lazily by BlockGraph.Dominators.
	idom *BlockBasic
}

func NewBlock(index int) *BlockBasic {
	return &BlockBasic{Index: index}
}

// Append adds op to the end of the block's op list and stamps its
// BlockIndex/Parent bookkeeping.
func (b *BlockBasic) Append(op *pcode.PcodeOp) {
	op.Parent = b
	op.BlockIndex = len(b.Ops)
	b.Ops = append(b.Ops, op)
}

// Last returns the block's final op, or nil if the block is empty.
func (b *BlockBasic) Last() *pcode.PcodeOp {
	if len(b.Ops) == 0 {
		return nil
	}
	return b.Ops[len(b.Ops)-1]
}

// IsLinear reports whether b has exactly one predecessor and one
// successor — the "walk up through linear blocks" condition the
// conditional-execution simplifier relies on.
func (b *BlockBasic) IsLinear() bool {
	return len(b.In) == 1 && len(b.Out) == 1
}

// AddEdge links from->to as a control-flow edge in both directions.
func AddEdge(from, to *BlockBasic) {
	from.Out = append(from.Out, to)
	to.In = append(to.In, from)
}

// RemoveEdge undoes AddEdge, used when the simplifier detaches a block.
func RemoveEdge(from, to *BlockBasic) {
	from.Out = removeBlock(from.Out, to)
	to.In = removeBlock(to.In, from)
}

func removeBlock(list []*BlockBasic, target *BlockBasic) []*BlockBasic {
	for i, b := range list {
		if b == target {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// BlockGraph owns every BlockBasic in one function, indexed by position
// in Blocks (== BlockBasic.Index).
type BlockGraph struct {
	Blocks []*BlockBasic
	Entry  *BlockBasic

	domDirty bool
}

func NewGraph() *BlockGraph {
	return &BlockGraph{domDirty: true}
}

// AddBlock appends a freshly indexed block and returns it.
func (g *BlockGraph) AddBlock() *BlockBasic {
	b := NewBlock(len(g.Blocks))
	g.Blocks = append(g.Blocks, b)
	if g.Entry == nil {
		g.Entry = b
	}
	g.domDirty = true
	return b
}

// Detach removes b from the graph's edge set without reindexing
// Blocks — used by the conditional-execution simplifier, which relinks
// around an iblock and then discards it.
func (g *BlockGraph) Detach(b *BlockBasic) {
	for _, pred := range append([]*BlockBasic(nil), b.In...) {
		RemoveEdge(pred, b)
	}
	for _, succ := range append([]*BlockBasic(nil), b.Out...) {
		RemoveEdge(b, succ)
	}
	g.domDirty = true
}

// Dominators runs the standard iterative dominator algorithm (Cooper,
// Harvey & Kennedy) over the graph in reverse-postorder and caches each
// block's immediate dominator.
func (g *BlockGraph) Dominators() {
	if !g.domDirty || g.Entry == nil {
		return
	}
	order := g.reversePostorder()
	rpoIndex := make(map[*BlockBasic]int, len(order))
	for i, b := range order {
		rpoIndex[b] = i
	}

	g.Entry.idom = g.Entry
	changed := true
	for changed {
		changed = false
		for _, b := range order {
			if b == g.Entry {
				continue
			}
			var newIdom *BlockBasic
			for _, pred := range b.In {
				if pred.idom == nil {
					continue
				}
				if newIdom == nil {
					newIdom = pred
					continue
				}
				newIdom = intersect(newIdom, pred, rpoIndex)
			}
			if newIdom != nil && b.idom != newIdom {
				b.idom = newIdom
				changed = true
			}
		}
	}
	g.domDirty = false
}

func intersect(a, b *BlockBasic, rpoIndex map[*BlockBasic]int) *BlockBasic {
	for a != b {
		for rpoIndex[a] > rpoIndex[b] {
			a = a.idom
		}
		for rpoIndex[b] > rpoIndex[a] {
			b = b.idom
		}
	}
	return a
}

func (g *BlockGraph) reversePostorder() []*BlockBasic {
	visited := make(map[*BlockBasic]bool, len(g.Blocks))
	var post []*BlockBasic
	var visit func(b *BlockBasic)
	visit = func(b *BlockBasic) {
		if b == nil || visited[b] {
			return
		}
		visited[b] = true
		for _, succ := range b.Out {
			visit(succ)
		}
		post = append(post, b)
	}
	visit(g.Entry)
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

// ImmediateDominator returns b's immediate dominator, running Dominators
// first if the graph has been mutated since the last call.
func (g *BlockGraph) ImmediateDominator(b *BlockBasic) *BlockBasic {
	g.Dominators()
	if b == g.Entry {
		return nil
	}
	return b.idom
}

// Dominates reports whether a dominates b (reflexively: a dominates a).
func (g *BlockGraph) Dominates(a, b *BlockBasic) bool {
	g.Dominators()
	for cur := b; cur != nil; cur = cur.idom {
		if cur == a {
			return true
		}
		if cur == g.Entry {
			break
		}
	}
	return a == g.Entry && b != nil
}

// CommonInitblock walks up from each of preds through linear (1-in,
// 1-out) predecessor chains, looking for a single block all chains
// reach — the conditional-execution simplifier's "find initblock" step.
func CommonInitblock(preds []*BlockBasic) (*BlockBasic, bool) {
	if len(preds) == 0 {
		return nil, false
	}
	reach := func(start *BlockBasic) *BlockBasic {
		cur := start
		for cur.IsLinear() {
			cur = cur.In[0]
		}
		return cur
	}
	first := reach(preds[0])
	for _, p := range preds[1:] {
		if reach(p) != first {
			return nil, false
		}
	}
	return first, true
}

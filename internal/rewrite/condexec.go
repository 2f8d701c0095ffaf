package rewrite

import (
	"github.com/sentra-lang/pcodec/internal/block"
	"github.com/sentra-lang/pcodec/internal/funcdata"
	"github.com/sentra-lang/pcodec/internal/pcode"
)

// ConditionalExecRule collapses the "two branches on the same boolean
// sandwich a join block" pattern (spec.md §4.6): when iblock merely
// recomputes a boolean already known at initblock and does nothing else
// observable, iblock is removed and its predecessors are relinked
// straight to its successors.
type ConditionalExecRule struct {
	Graph *block.BlockGraph
}

func (r *ConditionalExecRule) Name() string            { return "conditional-exec" }
func (r *ConditionalExecRule) Opcodes() []pcode.Opcode { return nil } // whole-function

func (r *ConditionalExecRule) TryOp(fd *funcdata.Funcdata, _ *pcode.PcodeOp) (bool, error) {
	for _, iblock := range r.Graph.Blocks {
		if r.tryBlock(fd, iblock) {
			return true, nil
		}
	}
	return false, nil
}

func (r *ConditionalExecRule) tryBlock(fd *funcdata.Funcdata, iblock *block.BlockBasic) bool {
	if len(iblock.In) != 2 || len(iblock.Out) != 2 {
		return false
	}
	last := iblock.Last()
	if last == nil || last.Opcode != pcode.OpCbranch {
		return false
	}

	initblock, ok := block.CommonInitblock(iblock.In)
	if !ok || initblock == iblock {
		// initblock == iblock is explicitly rejected: recomputing a
		// boolean inside the very block that branches on it is not this
		// pattern (an unrelated self-loop would otherwise be mistaken
		// for it).
		return false
	}
	initLast := initblock.Last()
	if initLast == nil || initLast.Opcode != pcode.OpCbranch {
		return false
	}

	condEqual, flipped := compareBoolExpr(condDef(last), condDef(initLast))
	if !condEqual {
		return false
	}

	if !blockIsRemovable(iblock, last) {
		return false
	}

	prea, preb := iblock.In[0], iblock.In[1]
	posta, postb := iblock.Out[0], iblock.Out[1]
	if flipped {
		posta, postb = postb, posta
	}

	pull := newPullCtx(fd, iblock, prea, preb, posta, postb)
	for _, op := range iblock.Ops {
		if op == last {
			continue
		}
		pull.redirect(op)
	}

	// destroy every non-branch op in iblock, reverse order, then the
	// branch itself; nothing else in the function may read their outputs
	// once pull.redirect has rewired every external reader above.
	for i := len(iblock.Ops) - 1; i >= 0; i-- {
		op := iblock.Ops[i]
		for slot := range op.Input {
			fd.OpSetInput(op, slot, nil)
		}
		fd.Bank.MarkDead(op)
		_ = fd.DestroyOp(op)
	}

	r.Graph.Detach(iblock)
	block.AddEdge(prea, posta)
	block.AddEdge(preb, postb)
	return true
}

// condDef returns the defining op of branchOp's boolean input (slot 1,
// the condition), or branchOp itself if the condition is a bare
// varnode with no further defining op to compare structurally.
func condDef(branchOp *pcode.PcodeOp) *pcode.PcodeOp {
	if len(branchOp.Input) < 2 || branchOp.Input[1] == nil {
		return nil
	}
	if def := branchOp.Input[1].Def; def != nil {
		return def
	}
	return branchOp
}

// compareBoolExpr structurally compares two boolean expression trees,
// bottoming out at shared varnode identity or equal constant value.
// Reports whether the expressions are equal and, if so, whether their
// sense is flipped (EQUAL vs NOTEQUAL on otherwise-identical operands).
func compareBoolExpr(a, b *pcode.PcodeOp) (equal bool, flipped bool) {
	if a == nil || b == nil {
		return a == b, false
	}
	if a.Opcode == b.Opcode {
		return compareOperands(a, b), false
	}
	if complement, ok := complementOpcode(a.Opcode); ok && complement == b.Opcode {
		return compareOperands(a, b), true
	}
	return false, false
}

func complementOpcode(oc pcode.Opcode) (pcode.Opcode, bool) {
	switch oc {
	case pcode.OpIntEqual:
		return pcode.OpIntNotEqual, true
	case pcode.OpIntNotEqual:
		return pcode.OpIntEqual, true
	default:
		return 0, false
	}
}

func compareOperands(a, b *pcode.PcodeOp) bool {
	if len(a.Input) != len(b.Input) {
		return false
	}
	for i := range a.Input {
		if !compareVarnode(a.Input[i], b.Input[i]) {
			return false
		}
	}
	return true
}

func compareVarnode(a, b *pcode.Varnode) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.IsConstant() && b.IsConstant() {
		return a.Addr.Offset == b.Addr.Offset && a.Size == b.Size
	}
	if a.Def != nil && b.Def != nil {
		eq, _ := compareBoolExpr(a.Def, b.Def)
		return eq
	}
	return false
}

// blockIsRemovable applies §4.6's disqualification rules: LOAD/STORE,
// INDIRECT, and address-tied outputs rule the block out outright.
// branchOp itself is exempt — it is always destroyed as part of the
// collapse. Every other op whose output is read outside iblock must be
// pullable per canPullBack: a MULTIEQUAL's output is always pullable (its
// two inputs are exactly the values reaching iblock along prea/preb), and
// an ordinary op is pullable only if every input it traces back to inside
// iblock is itself pullable.
func blockIsRemovable(iblock *block.BlockBasic, branchOp *pcode.PcodeOp) bool {
	for _, op := range iblock.Ops {
		switch op.Opcode {
		case pcode.OpLoad, pcode.OpStore, pcode.OpIndirect:
			return false
		}
		if op.Output != nil && op.Output.Flags.Has(pcode.FlagAddrTied) {
			return false
		}
		if op == branchOp {
			continue
		}
		if op.Output == nil {
			continue
		}
		if !hasExternalDescendant(op, iblock) {
			continue
		}
		if !canPullBack(op, iblock, make(map[*pcode.PcodeOp]bool)) {
			return false
		}
	}
	return true
}

func hasExternalDescendant(op *pcode.PcodeOp, iblock *block.BlockBasic) bool {
	for _, d := range op.Output.Descendants {
		if blk, ok := d.Op.Parent.(*block.BlockBasic); !ok || blk != iblock {
			return true
		}
	}
	return false
}

// canPullBack reports whether op's value can be recomputed outside
// iblock: a MULTIEQUAL always can (§4.6: "multiequals' output uses must
// be rewritable to the predecessor source"), assuming its input order
// matches iblock.In (the bank's own MULTIEQUAL convention). An ordinary
// op can if every iblock-internal input it reads is itself pullable
// ("ordinary ops may be pulled back to a predecessor only if their own
// input chain is pullable"); visiting guards against a cyclic Def chain,
// which should never occur in an SSA block but would otherwise loop
// forever.
func canPullBack(op *pcode.PcodeOp, iblock *block.BlockBasic, visiting map[*pcode.PcodeOp]bool) bool {
	if op.Opcode == pcode.OpMultiequal {
		return len(op.Input) >= 2 && op.Input[0] != nil && op.Input[1] != nil
	}
	if visiting[op] {
		return false
	}
	visiting[op] = true
	defer delete(visiting, op)
	for _, in := range op.Input {
		if in == nil {
			continue
		}
		if in.Def != nil && in.Def.Parent == iblock {
			if !canPullBack(in.Def, iblock, visiting) {
				return false
			}
		}
	}
	return true
}

// pullCtx drives §4.6's edit step: "redirect [iblock's] reads by
// introducing pull-back copies into predecessor or dominator blocks, or
// by synthesizing a new MULTIEQUAL at the merge point." pulled is the
// per-op pull-back cache (the value an op evaluates to along the
// prea→posta path and along the preb→postb path); merged is the
// per-block replacement-read cache (one synthesized MULTIEQUAL per
// (mergeBlock, originalOp) pair, shared across every external reader in
// that block) — both are built fresh per iblock attempt and thrown away
// once tryBlock returns.
type pullCtx struct {
	fd           *funcdata.Funcdata
	iblock       *block.BlockBasic
	prea, preb   *block.BlockBasic
	posta, postb *block.BlockBasic
	uniqueSpace  *pcode.AddrSpace
	nextUnique   uint64
	pulled       map[*pcode.PcodeOp][2]*pcode.Varnode
	merged       map[*block.BlockBasic]map[*pcode.PcodeOp]*pcode.Varnode
}

func newPullCtx(fd *funcdata.Funcdata, iblock, prea, preb, posta, postb *block.BlockBasic) *pullCtx {
	uniqueSpace, _ := fd.Spaces.GetSpace("unique")
	return &pullCtx{
		fd:          fd,
		iblock:      iblock,
		prea:        prea,
		preb:        preb,
		posta:       posta,
		postb:       postb,
		uniqueSpace: uniqueSpace,
		pulled:      make(map[*pcode.PcodeOp][2]*pcode.Varnode),
		merged:      make(map[*block.BlockBasic]map[*pcode.PcodeOp]*pcode.Varnode),
	}
}

// redirect rewires every reader of op.Output that lives outside iblock to
// whichever pulled-back replacement applies to its own block — a direct
// pull-back value if that block is reachable from only one of
// posta/postb, or a freshly synthesized MULTIEQUAL if it is reachable
// from both (the merge-point case). Readers still inside iblock are left
// alone: they are destroyed along with the rest of the block right after
// this runs.
func (ctx *pullCtx) redirect(op *pcode.PcodeOp) {
	if op.Output == nil || !hasExternalDescendant(op, ctx.iblock) {
		return
	}
	valA, valB := ctx.pullValue(op)
	for _, d := range append([]pcode.Descendant(nil), op.Output.Descendants...) {
		blk, ok := d.Op.Parent.(*block.BlockBasic)
		if !ok || blk == ctx.iblock {
			continue
		}
		onA := ctx.reaches(ctx.posta, blk)
		onB := ctx.reaches(ctx.postb, blk)
		switch {
		case onA && !onB:
			ctx.fd.OpSetInput(d.Op, d.Slot, valA)
		case onB && !onA:
			ctx.fd.OpSetInput(d.Op, d.Slot, valB)
		default:
			ctx.fd.OpSetInput(d.Op, d.Slot, ctx.mergedValue(blk, op, valA, valB))
		}
	}
}

// pullValue returns (and caches) op's pulled-back replacement along each
// path: the value it evaluates to when control reached iblock's
// successor via prea, and via preb.
func (ctx *pullCtx) pullValue(op *pcode.PcodeOp) (valA, valB *pcode.Varnode) {
	if cached, ok := ctx.pulled[op]; ok {
		return cached[0], cached[1]
	}
	if op.Opcode == pcode.OpMultiequal {
		valA = ctx.copyInto(ctx.prea, op.Input[0], op.Output.Size, op.Seq.Addr)
		valB = ctx.copyInto(ctx.preb, op.Input[1], op.Output.Size, op.Seq.Addr)
	} else {
		inA := make([]*pcode.Varnode, len(op.Input))
		inB := make([]*pcode.Varnode, len(op.Input))
		for i, in := range op.Input {
			if in == nil {
				continue
			}
			if in.Def != nil && in.Def.Parent == ctx.iblock {
				inA[i], inB[i] = ctx.pullValue(in.Def)
			} else {
				inA[i], inB[i] = in, in
			}
		}
		valA = ctx.cloneInto(ctx.prea, op, inA)
		valB = ctx.cloneInto(ctx.preb, op, inB)
	}
	ctx.pulled[op] = [2]*pcode.Varnode{valA, valB}
	return valA, valB
}

// mergedValue synthesizes (once per mergeBlk/orig pair) a MULTIEQUAL in
// mergeBlk selecting valA along every in-edge reachable from posta and
// valB along every in-edge reachable from postb — the "synthesizing a new
// MULTIEQUAL at the merge point" alternative §4.6 names for a reader that
// sees both paths.
func (ctx *pullCtx) mergedValue(mergeBlk *block.BlockBasic, orig *pcode.PcodeOp, valA, valB *pcode.Varnode) *pcode.Varnode {
	byOp, ok := ctx.merged[mergeBlk]
	if !ok {
		byOp = make(map[*pcode.PcodeOp]*pcode.Varnode)
		ctx.merged[mergeBlk] = byOp
	} else if v, ok := byOp[orig]; ok {
		return v
	}

	inputs := make([]*pcode.Varnode, len(mergeBlk.In))
	for i, pred := range mergeBlk.In {
		if ctx.reaches(ctx.posta, pred) {
			inputs[i] = valA
		} else {
			inputs[i] = valB
		}
	}
	op := ctx.fd.CreateOp(mergeBlk, ctx.seqAddr(mergeBlk, orig.Seq.Addr), pcode.OpMultiequal, len(inputs))
	for i, in := range inputs {
		ctx.fd.OpSetInput(op, i, in)
	}
	out := ctx.newUnique(orig.Output.Size)
	ctx.fd.OpSetOutput(op, out)
	byOp[orig] = out
	return out
}

// reaches reports whether target is reachable from start by following
// Out edges without passing back through iblock (which is mid-collapse
// and about to be detached).
func (ctx *pullCtx) reaches(start, target *block.BlockBasic) bool {
	if start == target {
		return true
	}
	visited := map[*block.BlockBasic]bool{ctx.iblock: true, start: true}
	queue := []*block.BlockBasic{start}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		for _, s := range b.Out {
			if s == target {
				return true
			}
			if visited[s] {
				continue
			}
			visited[s] = true
			queue = append(queue, s)
		}
	}
	return false
}

func (ctx *pullCtx) seqAddr(blk *block.BlockBasic, fallback pcode.Address) pcode.Address {
	if last := blk.Last(); last != nil {
		return last.Seq.Addr
	}
	return fallback
}

func (ctx *pullCtx) newUnique(sizeBytes int) *pcode.Varnode {
	v := pcode.NewVarnode(-1, pcode.NewAddress(ctx.uniqueSpace, ctx.nextUnique), sizeBytes)
	ctx.nextUnique += uint64(sizeBytes)
	return v
}

func (ctx *pullCtx) copyInto(blk *block.BlockBasic, src *pcode.Varnode, sizeBytes int, fallbackAddr pcode.Address) *pcode.Varnode {
	op := ctx.fd.CreateOp(blk, ctx.seqAddr(blk, fallbackAddr), pcode.OpCopy, 1)
	ctx.fd.OpSetInput(op, 0, src)
	out := ctx.newUnique(sizeBytes)
	ctx.fd.OpSetOutput(op, out)
	return out
}

func (ctx *pullCtx) cloneInto(blk *block.BlockBasic, orig *pcode.PcodeOp, inputs []*pcode.Varnode) *pcode.Varnode {
	op := ctx.fd.CreateOp(blk, ctx.seqAddr(blk, orig.Seq.Addr), orig.Opcode, len(inputs))
	for i, in := range inputs {
		ctx.fd.OpSetInput(op, i, in)
	}
	out := ctx.newUnique(orig.Output.Size)
	ctx.fd.OpSetOutput(op, out)
	return out
}

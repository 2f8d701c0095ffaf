// Package transform implements the staged, atomic multi-op rewrite
// protocol: TransformManager stages TransformVar/TransformOp placeholders,
// traces a worklist to validate the whole edit is legal, and only then
// materializes real varnodes and ops — so a failed trace never touches
// the live graph.
package transform

import (
	"github.com/sentra-lang/pcodec/internal/block"
	"github.com/sentra-lang/pcodec/internal/funcdata"
	"github.com/sentra-lang/pcodec/internal/pcode"
	"github.com/sentra-lang/pcodec/internal/perrors"
)

// VarKind is the flavor of a staged replacement varnode.
type VarKind int

const (
	VarPreexisting VarKind = iota
	VarPiece
	VarLane
	VarUnique
	VarConstant
	VarInputOpidMarker
)

// TransformVar is a placeholder for a varnode that will exist once Apply
// runs: either a pointer to a varnode that already exists (Preexisting),
// or a description of one to be created (piece/lane/unique/constant).
type TransformVar struct {
	Kind VarKind

	SizeBits  int
	BitOffset int // within Orig, for Piece/Lane

	Orig     *pcode.Varnode // source varnode for Piece/Lane, or the varnode itself for Preexisting
	ConstVal uint64

	visited     bool
	replacement *pcode.Varnode // filled by Apply
}

// Replacement returns the real varnode this placeholder resolved to.
// Valid only after Apply has run.
func (tv *TransformVar) Replacement() *pcode.Varnode { return tv.replacement }

// TransformOp is a placeholder op: an opcode, staged input/output
// TransformVars, and a back-link to the original op it replaces (nil if
// this is a freshly inserted op).
type TransformOp struct {
	Opcode pcode.Opcode
	Output *TransformVar
	Input  []*TransformVar

	ReplacesOriginal *pcode.PcodeOp
	InsertBlock      *block.BlockBasic
	InsertAddr       pcode.Address

	PropagateIndirect bool

	built *pcode.PcodeOp // filled by Apply
}

func (top *TransformOp) Built() *pcode.PcodeOp { return top.built }

// PatchKind names the fixed set of ways Apply may rewrite a surviving
// original op once the shadow subgraph is in place.
type PatchKind int

const (
	PatchCopyToLogical PatchKind = iota
	PatchCompareRewrite
	PatchCallReturnParameter
	PatchZeroExtension
	PatchPushToLogical
	PatchIntToFloatPreExtend
)

// Patch describes one edit to an op that survives the transform: rewire
// input Slot (or the output, when Slot < 0) to Var's eventual replacement.
type Patch struct {
	Kind PatchKind
	Op   *pcode.PcodeOp
	Slot int
	Var  *TransformVar
}

// TraceFunc is supplied by the rule driving the manager: given the node
// just popped off the worklist, inspect its defining op (traceBackward)
// or its descendants (traceForward) and stage whatever further
// TransformVars/TransformOps are implied. Returning false aborts the
// whole transform.
type TraceFunc func(tm *TransformManager, node *TransformVar) bool

// TransformManager owns one staged transform's TransformVars/TransformOps
// until Apply (or Rollback) runs.
type TransformManager struct {
	fd *funcdata.Funcdata

	vars []*TransformVar
	ops  []*TransformOp

	visited  map[*pcode.Varnode]*TransformVar
	worklist []*TransformVar
	patches  []Patch

	TraceBackward TraceFunc
	TraceForward  TraceFunc
}

func NewManager(fd *funcdata.Funcdata) *TransformManager {
	return &TransformManager{
		fd:      fd,
		visited: make(map[*pcode.Varnode]*TransformVar),
	}
}

// SetReplacement stages one TransformVar per piece of origVn, marks
// origVn visited, and — if a piece still needs tracing (PieceSpec.Trace)
// — enqueues it on the worklist.
type PieceSpec struct {
	Kind      VarKind
	SizeBits  int
	BitOffset int
	Trace     bool
}

func (tm *TransformManager) SetReplacement(origVn *pcode.Varnode, pieces []PieceSpec) []*TransformVar {
	out := make([]*TransformVar, 0, len(pieces))
	for _, p := range pieces {
		tv := &TransformVar{Kind: p.Kind, SizeBits: p.SizeBits, BitOffset: p.BitOffset, Orig: origVn}
		tm.vars = append(tm.vars, tv)
		out = append(out, tv)
		if p.Trace {
			tm.worklist = append(tm.worklist, tv)
		}
	}
	if origVn != nil {
		if len(out) > 0 {
			tm.visited[origVn] = out[0]
		}
	}
	return out
}

// NewPreexistingOp wraps an already-live varnode as a TransformVar with
// no further tracing required.
func (tm *TransformManager) NewPreexistingOp(v *pcode.Varnode) *TransformVar {
	tv := &TransformVar{Kind: VarPreexisting, Orig: v, SizeBits: v.Size * 8, replacement: v, visited: true}
	tm.vars = append(tm.vars, tv)
	return tv
}

// NewConstant stages a constant replacement varnode.
func (tm *TransformManager) NewConstant(sizeBits int, value uint64) *TransformVar {
	tv := &TransformVar{Kind: VarConstant, SizeBits: sizeBits, ConstVal: value}
	tm.vars = append(tm.vars, tv)
	return tv
}

// NewOpReplace stages a TransformOp that will take over an existing op's
// slot in the graph (same block/address) once Apply commits.
func (tm *TransformManager) NewOpReplace(original *pcode.PcodeOp, opcode pcode.Opcode, numInputs int) *TransformOp {
	top := &TransformOp{Opcode: opcode, Input: make([]*TransformVar, numInputs), ReplacesOriginal: original}
	tm.ops = append(tm.ops, top)
	return top
}

// NewOp stages a brand-new TransformOp to be inserted at addr in blk.
func (tm *TransformManager) NewOp(blk *block.BlockBasic, addr pcode.Address, opcode pcode.Opcode, numInputs int) *TransformOp {
	top := &TransformOp{Opcode: opcode, Input: make([]*TransformVar, numInputs), InsertBlock: blk, InsertAddr: addr}
	tm.ops = append(tm.ops, top)
	return top
}

func (tm *TransformManager) OpSetInput(top *TransformOp, slot int, tv *TransformVar) {
	top.Input[slot] = tv
}

func (tm *TransformManager) OpSetOutput(top *TransformOp, tv *TransformVar) {
	top.Output = tv
}

func (tm *TransformManager) AddPatch(p Patch) {
	tm.patches = append(tm.patches, p)
}

// VisitedVar returns the TransformVar already staged for v, if any —
// traceBackward/traceForward use this to avoid re-tracing a varnode twice.
func (tm *TransformManager) VisitedVar(v *pcode.Varnode) (*TransformVar, bool) {
	tv, ok := tm.visited[v]
	return tv, ok
}

// MarkVisited records that v now maps to tv without staging a trace.
func (tm *TransformManager) MarkVisited(v *pcode.Varnode, tv *TransformVar) {
	tm.visited[v] = tv
}

// Trace drains the worklist, calling TraceBackward then TraceForward on
// each node. Either returning false aborts and rolls back the whole
// staged transform. Trace requires at least one terminator patch to have
// been staged by the time the worklist empties (callers append to
// tm.patches from within their trace functions); an empty-patch trace is
// treated as "pattern absent" and also rolled back.
func (tm *TransformManager) Trace() bool {
	for len(tm.worklist) > 0 {
		node := tm.worklist[0]
		tm.worklist = tm.worklist[1:]
		if node.visited {
			continue
		}
		node.visited = true
		if tm.TraceBackward != nil && !tm.TraceBackward(tm, node) {
			tm.Rollback()
			return false
		}
		if tm.TraceForward != nil && !tm.TraceForward(tm, node) {
			tm.Rollback()
			return false
		}
	}
	if len(tm.patches) == 0 {
		tm.Rollback()
		return false
	}
	return true
}

// Rollback discards every staged TransformVar/TransformOp/patch, leaving
// the live graph untouched.
func (tm *TransformManager) Rollback() {
	tm.vars = nil
	tm.ops = nil
	tm.patches = nil
	tm.worklist = nil
	tm.visited = make(map[*pcode.Varnode]*TransformVar)
}

// Apply materializes the staged transform: every TransformOp's output
// varnode first (so uses can reference freshly defined outputs), then
// every input wire-up, then the patch list against surviving original
// ops. Apply never destroys an original op — ops left with no
// descendants are picked up by a later dead-code pass, per the rewrite
// protocol's "leave dead ops to a subsequent pass" contract.
func (tm *TransformManager) Apply() error {
	uniqueSpace, ok := tm.fd.Spaces.GetSpace("unique")
	if !ok {
		return perrors.New(perrors.KindInvariant, "transform: Apply requires a \"unique\" address space")
	}
	constSpace, ok := tm.fd.Spaces.GetSpace("const")
	if !ok {
		return perrors.New(perrors.KindInvariant, "transform: Apply requires a \"const\" address space")
	}

	nextUnique := uint64(0)
	resolve := func(tv *TransformVar) *pcode.Varnode {
		if tv.replacement != nil {
			return tv.replacement
		}
		switch tv.Kind {
		case VarConstant:
			tv.replacement = pcode.NewVarnode(-1, pcode.NewAddress(constSpace, tv.ConstVal), tv.SizeBits/8)
			tv.replacement.Role = pcode.RoleConstant
		default: // VarPiece, VarLane, VarUnique
			tv.replacement = pcode.NewVarnode(-1, pcode.NewAddress(uniqueSpace, nextUnique), tv.SizeBits/8)
			nextUnique += uint64(tv.SizeBits / 8)
		}
		return tv.replacement
	}

	// 1. materialize outputs and the ops themselves.
	for _, top := range tm.ops {
		var op *pcode.PcodeOp
		if top.ReplacesOriginal != nil {
			op = top.ReplacesOriginal
			tm.fd.OpSetOpcode(op, top.Opcode)
		} else {
			op = tm.fd.CreateOp(top.InsertBlock, top.InsertAddr, top.Opcode, len(top.Input))
		}
		top.built = op
		if top.Output != nil {
			tm.fd.OpSetOutput(op, resolve(top.Output))
		}
	}

	// 2. wire inputs now that every output exists.
	for _, top := range tm.ops {
		for slot, tv := range top.Input {
			if tv == nil {
				continue
			}
			tm.fd.OpSetInput(top.built, slot, resolve(tv))
		}
	}

	// 3. patch surviving original ops.
	for _, p := range tm.patches {
		v := resolve(p.Var)
		if p.Slot < 0 {
			tm.fd.OpSetOutput(p.Op, v)
		} else {
			tm.fd.OpSetInput(p.Op, p.Slot, v)
		}
	}

	tm.vars, tm.ops, tm.patches, tm.worklist = nil, nil, nil, nil
	return nil
}

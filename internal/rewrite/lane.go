package rewrite

import (
	"github.com/sentra-lang/pcodec/internal/funcdata"
	"github.com/sentra-lang/pcodec/internal/pcode"
	"github.com/sentra-lang/pcodec/internal/transform"
)

// LaneDescription is §4.9's "whole size, list of lane sizes, positions"
// input: Lanes must be listed in byte order and tile [0, WholeSize)
// without gaps or overlap.
type LaneDescription struct {
	WholeSize int
	Lanes     []Lane
}

// Lane is one lane's byte offset and size within the described varnode.
type Lane struct {
	Offset int
	Size   int
}

func (d LaneDescription) laneIndexContaining(byteOffset int) (int, bool) {
	for i, l := range d.Lanes {
		if byteOffset >= l.Offset && byteOffset < l.Offset+l.Size {
			return i, true
		}
	}
	return 0, false
}

func (d LaneDescription) onLaneBoundary(byteOffset int) bool {
	for _, l := range d.Lanes {
		if l.Offset == byteOffset {
			return true
		}
	}
	return byteOffset == d.WholeSize
}

// laneWiseOpcode lists the opcodes §4.9 says operate lane-by-lane: the
// same opcode is simply replicated once per lane with narrower operands.
func laneWiseOpcode(oc pcode.Opcode) bool {
	switch oc {
	case pcode.OpCopy, pcode.OpIntAnd, pcode.OpIntOr, pcode.OpIntXor,
		pcode.OpIntNegate, pcode.OpMultiequal, pcode.OpIndirect:
		return true
	default:
		return false
	}
}

// LaneDivide implements §4.9: given a lane description and a seed
// varnode, trace forward/backward as in §4.7 but treating the varnode as
// a vector of lanes rather than a single logical sub-variable. On
// success (at least one terminator patch staged in total) it
// commits via a TransformManager; on failure nothing is touched.
func LaneDivide(fd *funcdata.Funcdata, seed *pcode.Varnode, desc LaneDescription) (bool, error) {
	if len(desc.Lanes) == 0 || desc.WholeSize == 0 {
		return false, nil
	}
	total := 0
	for _, l := range desc.Lanes {
		total += l.Size
	}
	if total != desc.WholeSize {
		return false, nil
	}

	tm := transform.NewManager(fd)
	lt := &laneTracer{fd: fd, tm: tm, desc: desc}
	tm.TraceBackward = lt.traceBackward
	tm.TraceForward = lt.traceForward

	seedLanes := make([]*transform.TransformVar, len(desc.Lanes))
	specs := make([]transform.PieceSpec, len(desc.Lanes))
	for i, l := range desc.Lanes {
		specs[i] = transform.PieceSpec{Kind: transform.VarLane, SizeBits: l.Size * 8, BitOffset: l.Offset * 8, Trace: true}
	}
	vars := tm.SetReplacement(seed, specs)
	copy(seedLanes, vars)
	lt.seedLanes = seedLanes
	tm.MarkVisited(seed, nil)

	if !tm.Trace() {
		return false, nil
	}
	if err := tm.Apply(); err != nil {
		return false, err
	}
	return true, nil
}

type laneTracer struct {
	fd        *funcdata.Funcdata
	tm        *transform.TransformManager
	desc      LaneDescription
	seedLanes []*transform.TransformVar
}

func (l *laneTracer) traceBackward(tm *transform.TransformManager, node *transform.TransformVar) bool {
	v := node.Orig
	if v == nil || v.Def == nil {
		return true
	}
	def := v.Def
	switch {
	case laneWiseOpcode(def.Opcode):
		for _, in := range def.Input {
			if in == nil {
				continue
			}
			if _, seen := tm.VisitedVar(in); seen {
				continue
			}
			lanes := l.stageLanes(tm, in)
			tm.MarkVisited(in, lanesAnchor(lanes))
		}
		return true
	case def.Opcode == pcode.OpSubpiece || def.Opcode == pcode.OpPiece:
		return l.desc.onLaneBoundary(int(node.BitOffset / 8))
	case def.Opcode == pcode.OpIntLeft || def.Opcode == pcode.OpIntRight || def.Opcode == pcode.OpIntSRight:
		return true // whole-lane-multiple shifts validated by caller-supplied description
	case def.Opcode == pcode.OpIntZext:
		return true
	default:
		return terminatorOpcode(def.Opcode)
	}
}

func (l *laneTracer) traceForward(tm *transform.TransformManager, node *transform.TransformVar) bool {
	v := node.Orig
	if v == nil {
		return true
	}
	for _, d := range v.Descendants {
		op := d.Op
		switch {
		case op.Opcode == pcode.OpLoad || op.Opcode == pcode.OpStore:
			tm.AddPatch(transform.Patch{Kind: transform.PatchCopyToLogical, Op: op, Slot: d.Slot, Var: node})
		case terminatorOpcode(op.Opcode):
			tm.AddPatch(transform.Patch{Kind: transform.PatchCopyToLogical, Op: op, Slot: d.Slot, Var: node})
		case laneWiseOpcode(op.Opcode):
			if op.Output == nil {
				continue
			}
			if _, seen := tm.VisitedVar(op.Output); seen {
				continue
			}
			lanes := l.stageLanes(tm, op.Output)
			tm.MarkVisited(op.Output, lanesAnchor(lanes))
		default:
			return false
		}
	}
	return true
}

func (l *laneTracer) stageLanes(tm *transform.TransformManager, v *pcode.Varnode) []*transform.TransformVar {
	specs := make([]transform.PieceSpec, len(l.desc.Lanes))
	for i, ln := range l.desc.Lanes {
		specs[i] = transform.PieceSpec{Kind: transform.VarLane, SizeBits: ln.Size * 8, BitOffset: ln.Offset * 8, Trace: true}
	}
	return tm.SetReplacement(v, specs)
}

// lanesAnchor picks a representative TransformVar to satisfy the
// TraceBackward/TraceForward worklist-entry contract; the staged lanes
// themselves were already queued individually by SetReplacement.
func lanesAnchor(lanes []*transform.TransformVar) *transform.TransformVar {
	if len(lanes) == 0 {
		return nil
	}
	return lanes[0]
}

package rewrite

import (
	"github.com/sentra-lang/pcodec/internal/funcdata"
	"github.com/sentra-lang/pcodec/internal/pcode"
	"github.com/sentra-lang/pcodec/internal/transform"
)

// floatOpcode reports whether oc is arithmetic/comparison/conversion on
// floats — the set §4.9's SubfloatFlow traces through.
func floatOpcode(oc pcode.Opcode) bool {
	switch oc {
	case pcode.OpFloatEqual, pcode.OpFloatNotEqual, pcode.OpFloatLess, pcode.OpFloatLessEqual,
		pcode.OpFloatNan, pcode.OpFloatAdd, pcode.OpFloatDiv, pcode.OpFloatMult, pcode.OpFloatSub,
		pcode.OpFloatNeg, pcode.OpFloatAbs, pcode.OpFloatSqrt, pcode.OpFloatTrunc, pcode.OpFloatCeil,
		pcode.OpFloatFloor, pcode.OpFloatRound, pcode.OpFloatFloat2Float:
		return true
	default:
		return false
	}
}

// floatUnaryOpcode is the subset of floatOpcode that takes exactly one
// float operand whose precision simply propagates through unchanged.
func floatUnaryOpcode(oc pcode.Opcode) bool {
	switch oc {
	case pcode.OpFloatNeg, pcode.OpFloatAbs, pcode.OpFloatSqrt, pcode.OpFloatTrunc,
		pcode.OpFloatCeil, pcode.OpFloatFloor, pcode.OpFloatRound:
		return true
	default:
		return false
	}
}

// SubfloatFlow implements §4.9's SubfloatFlow: given a seed float
// varnode and a target precision (in bytes: 4 = single, 8 = double, 10 =
// extended), trace backward through FLOAT2FLOAT, single-operand float ops
// and MULTIEQUAL, staging a target-width replacement for each operand at
// least as wide as the target, and forward through FLOAT2FLOAT and
// single-operand float ops. No per-varnode precision is tracked: a traced
// varnode defined by a float binary op (ADD/SUB/MULT/DIV) fails the trace
// whatever its operands' precisions. Forward uses by float binary ops,
// float comparisons, CALL and RETURN are patched; any other use fails it.
func SubfloatFlow(fd *funcdata.Funcdata, seed *pcode.Varnode, targetPrecision int) (bool, error) {
	if targetPrecision <= 0 || seed.Size <= targetPrecision {
		return false, nil
	}

	tm := transform.NewManager(fd)
	sf := &subfloatTracer{fd: fd, tm: tm, target: targetPrecision}
	tm.TraceBackward = sf.traceBackward
	tm.TraceForward = sf.traceForward

	seedVar := tm.SetReplacement(seed, []transform.PieceSpec{{Kind: transform.VarUnique, SizeBits: targetPrecision * 8, Trace: true}})[0]
	tm.MarkVisited(seed, seedVar)

	if !tm.Trace() {
		return false, nil
	}
	if err := tm.Apply(); err != nil {
		return false, err
	}
	return true, nil
}

type subfloatTracer struct {
	fd     *funcdata.Funcdata
	tm     *transform.TransformManager
	target int // bytes
}

func (s *subfloatTracer) traceBackward(tm *transform.TransformManager, node *transform.TransformVar) bool {
	v := node.Orig
	if v == nil || v.Def == nil {
		return true
	}
	def := v.Def
	switch {
	case def.Opcode == pcode.OpFloatFloat2Float, floatUnaryOpcode(def.Opcode), def.Opcode == pcode.OpMultiequal:
		for _, in := range def.Input {
			if in == nil {
				continue
			}
			if in.Size < s.target {
				// operand already narrower than the target: safe, nothing further to stage.
				continue
			}
			if _, seen := tm.VisitedVar(in); seen {
				continue
			}
			piece := tm.SetReplacement(in, []transform.PieceSpec{{Kind: transform.VarUnique, SizeBits: s.target * 8, Trace: true}})[0]
			tm.MarkVisited(in, piece)
		}
		return true
	case isFloatBinary(def.Opcode):
		for _, in := range def.Input {
			if in == nil {
				continue
			}
			if in.Size < s.target {
				return false // narrowing would drop precision this op actually consumes
			}
		}
		return terminatorOpcode(def.Opcode)
	default:
		return terminatorOpcode(def.Opcode)
	}
}

func (s *subfloatTracer) traceForward(tm *transform.TransformManager, node *transform.TransformVar) bool {
	v := node.Orig
	if v == nil {
		return true
	}
	for _, d := range v.Descendants {
		op := d.Op
		switch {
		case op.Opcode == pcode.OpFloatFloat2Float, floatUnaryOpcode(op.Opcode):
			if op.Output == nil {
				continue
			}
			if _, seen := tm.VisitedVar(op.Output); seen {
				continue
			}
			out := tm.SetReplacement(op.Output, []transform.PieceSpec{{Kind: transform.VarUnique, SizeBits: s.target * 8, Trace: true}})[0]
			tm.MarkVisited(op.Output, out)
		case isFloatBinary(op.Opcode):
			tm.AddPatch(transform.Patch{Kind: transform.PatchIntToFloatPreExtend, Op: op, Slot: d.Slot, Var: node})
		case op.Opcode == pcode.OpFloatEqual || op.Opcode == pcode.OpFloatNotEqual ||
			op.Opcode == pcode.OpFloatLess || op.Opcode == pcode.OpFloatLessEqual ||
			op.Opcode == pcode.OpCall || op.Opcode == pcode.OpReturn:
			tm.AddPatch(transform.Patch{Kind: transform.PatchCopyToLogical, Op: op, Slot: d.Slot, Var: node})
		default:
			return false
		}
	}
	return true
}

func isFloatBinary(oc pcode.Opcode) bool {
	switch oc {
	case pcode.OpFloatAdd, pcode.OpFloatDiv, pcode.OpFloatMult, pcode.OpFloatSub:
		return true
	default:
		return false
	}
}

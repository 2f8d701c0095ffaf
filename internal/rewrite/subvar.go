package rewrite

import (
	"github.com/sentra-lang/pcodec/internal/funcdata"
	"github.com/sentra-lang/pcodec/internal/pcode"
	"github.com/sentra-lang/pcodec/internal/transform"
)

// SubvarFlow implements §4.7: given a seed varnode and a non-zero bitmask
// marking a logical sub-variable's bit positions, trace forward through
// descendants and backward through the defining op, staging a shadow
// subgraph of narrower varnodes. On success (at least one terminator
// patch staged) it commits via the TransformManager; on failure nothing
// is touched.
func SubvarFlow(fd *funcdata.Funcdata, seed *pcode.Varnode, mask uint64) (bool, error) {
	if mask == 0 {
		return false, nil
	}
	bits := bitCount(mask)
	lowBit := lowestSetBit(mask)

	tm := transform.NewManager(fd)
	sub := &subvarTracer{fd: fd, tm: tm}
	tm.TraceBackward = sub.traceBackward
	tm.TraceForward = sub.traceForward

	seedVars := tm.SetReplacement(seed, []transform.PieceSpec{{Kind: transform.VarUnique, SizeBits: bits, BitOffset: lowBit, Trace: true}})
	sub.seedVar = seedVars[0]
	tm.MarkVisited(seed, sub.seedVar)

	if !tm.Trace() {
		return false, nil
	}
	if err := tm.Apply(); err != nil {
		return false, err
	}
	return true, nil
}

type subvarTracer struct {
	fd      *funcdata.Funcdata
	tm      *transform.TransformManager
	seedVar *transform.TransformVar
}

// terminatorOpcode reports whether oc is a boundary where the sub-
// variable's value must actually be observed — the rewrite emits a patch
// here instead of continuing to trace.
func terminatorOpcode(oc pcode.Opcode) bool {
	switch oc {
	case pcode.OpIntEqual, pcode.OpIntNotEqual, pcode.OpCall, pcode.OpReturn,
		pcode.OpBranchind, pcode.OpFloatInt2Float:
		return true
	default:
		return false
	}
}

// subfieldMask builds the literal mask occupied by a [lowBit, lowBit+bits)
// run, used to test a constant AND/OR operand against the tracked
// sub-field per §4.7.
func subfieldMask(bits, lowBit int) uint64 {
	if bits <= 0 || lowBit < 0 {
		return 0
	}
	if bits >= 64 {
		return ^uint64(0) << uint(lowBit)
	}
	return ((uint64(1) << uint(bits)) - 1) << uint(lowBit)
}

// maskCompatible picks out def's non-constant operand and reports whether
// its constant operand leaves the [lowBit, lowBit+bits) sub-field
// untouched: an AND must keep every bit of the region set in its mask
// constant, an OR must keep every bit of the region clear.
func maskCompatible(def *pcode.PcodeOp, oc pcode.Opcode, bits, lowBit int) (*pcode.Varnode, bool) {
	var constIn, varIn *pcode.Varnode
	for _, in := range def.Input {
		if in == nil {
			return nil, false
		}
		if in.IsConstant() {
			constIn = in
		} else {
			varIn = in
		}
	}
	if constIn == nil || varIn == nil {
		return nil, false
	}
	region := subfieldMask(bits, lowBit)
	switch oc {
	case pcode.OpIntAnd:
		if constIn.Addr.Offset&region != region {
			return nil, false
		}
	case pcode.OpIntOr:
		if constIn.Addr.Offset&region != 0 {
			return nil, false
		}
	}
	return varIn, true
}

// shiftAmount reads a constant shift/subpiece-shift operand, in bits
// (SUBPIECE's operand is a byte count; shift opcodes already count bits).
func shiftAmount(in *pcode.Varnode, byteUnits bool) (int, bool) {
	if in == nil || !in.IsConstant() {
		return 0, false
	}
	amt := in.Addr.Offset
	if byteUnits {
		amt *= 8
	}
	return int(amt), true
}

// stageInput enqueues in for tracing as a [bits, lowBit) piece of its own
// full width, unless it has already been visited.
func (s *subvarTracer) stageInput(tm *transform.TransformManager, in *pcode.Varnode, bits, lowBit int) {
	if in == nil {
		return
	}
	if _, seen := tm.VisitedVar(in); seen {
		return
	}
	piece := tm.SetReplacement(in, []transform.PieceSpec{{Kind: transform.VarPiece, SizeBits: bits, BitOffset: lowBit, Trace: true}})[0]
	tm.MarkVisited(in, piece)
}

// traceBackward walks node's defining op, per §4.7's transparent
// classification. Each opcode either passes (bits, lowBit) through
// unchanged to its operand(s), re-derives a shifted (bits, lowBit) for the
// operand SUBPIECE/PIECE/a shift actually reads, or rejects the op
// (returning whether it's at least a terminator) when the mask/low-bit
// condition for that opcode isn't met.
func (s *subvarTracer) traceBackward(tm *transform.TransformManager, node *transform.TransformVar) bool {
	v := node.Orig
	if v == nil || v.Def == nil {
		return true // input/constant varnode: nothing further upstream
	}
	def := v.Def
	bits, lowBit := node.SizeBits, node.BitOffset

	switch def.Opcode {
	case pcode.OpCopy, pcode.OpMultiequal, pcode.OpIntNegate, pcode.OpIntXor,
		pcode.OpIntZext, pcode.OpIntSext:
		for _, in := range def.Input {
			s.stageInput(tm, in, bits, lowBit)
		}
		return true

	case pcode.OpIntAnd, pcode.OpIntOr:
		varIn, ok := maskCompatible(def, def.Opcode, bits, lowBit)
		if !ok {
			return terminatorOpcode(def.Opcode)
		}
		s.stageInput(tm, varIn, bits, lowBit)
		return true

	case pcode.OpIntAdd, pcode.OpIntMult:
		// carries and partial products below the tracked region can leak
		// into it unless the region starts at bit 0.
		if lowBit != 0 {
			return terminatorOpcode(def.Opcode)
		}
		for _, in := range def.Input {
			s.stageInput(tm, in, bits, lowBit)
		}
		return true

	case pcode.OpSubpiece:
		// v = SUBPIECE(whole, shiftBytes, sizeBytes): v's bit i is whole's
		// bit i+shift. Continuing upstream just moves the tracked window
		// up by the shift.
		shift, ok := shiftAmount(def.Input[1], true)
		if !ok {
			return terminatorOpcode(def.Opcode)
		}
		s.stageInput(tm, def.Input[0], bits, lowBit+shift)
		return true

	case pcode.OpPiece:
		hi, lo := def.Input[0], def.Input[1]
		if hi == nil || lo == nil {
			return terminatorOpcode(def.Opcode)
		}
		loBits := lo.Size * 8
		switch {
		case lowBit+bits <= loBits:
			s.stageInput(tm, lo, bits, lowBit)
		case lowBit >= loBits:
			s.stageInput(tm, hi, bits, lowBit-loBits)
		default:
			// straddles the hi/lo join: no single operand carries the
			// whole tracked region.
			return terminatorOpcode(def.Opcode)
		}
		return true

	case pcode.OpIntLeft:
		amt, ok := shiftAmount(def.Input[1], false)
		if !ok {
			return terminatorOpcode(def.Opcode)
		}
		if lowBit < amt {
			// these low bits are the shift's zero fill, not data from the
			// shifted operand.
			return terminatorOpcode(def.Opcode)
		}
		s.stageInput(tm, def.Input[0], bits, lowBit-amt)
		return true

	case pcode.OpIntRight, pcode.OpIntSRight:
		amt, ok := shiftAmount(def.Input[1], false)
		if !ok {
			return terminatorOpcode(def.Opcode)
		}
		s.stageInput(tm, def.Input[0], bits, lowBit+amt)
		return true

	default:
		// not transparent: only acceptable if it's also a terminator the
		// forward trace will patch; otherwise the pattern doesn't apply.
		return terminatorOpcode(def.Opcode)
	}
}

// traceForward walks node's descendants, mirroring traceBackward's
// opcode table in the opposite direction: given the tracked operand's
// (bits, lowBit), it derives the consuming op's output (bits, lowBit), or
// rejects the op when the mask/low-bit condition fails.
func (s *subvarTracer) traceForward(tm *transform.TransformManager, node *transform.TransformVar) bool {
	v := node.Orig
	if v == nil {
		return true
	}
	bits, lowBit := node.SizeBits, node.BitOffset
	for _, d := range v.Descendants {
		op := d.Op
		if terminatorOpcode(op.Opcode) {
			tm.AddPatch(transform.Patch{Kind: transform.PatchCopyToLogical, Op: op, Slot: d.Slot, Var: node})
			continue
		}
		outBits, outLowBit, ok := forwardStep(op, d.Slot, bits, lowBit)
		if !ok {
			return false
		}
		if op.Output == nil {
			continue
		}
		if _, seen := tm.VisitedVar(op.Output); seen {
			continue
		}
		out := tm.SetReplacement(op.Output, []transform.PieceSpec{{Kind: transform.VarUnique, SizeBits: outBits, BitOffset: outLowBit, Trace: true}})[0]
		tm.MarkVisited(op.Output, out)
	}
	return true
}

// forwardStep computes the tracked (bits, lowBit) as seen in op's output,
// given that op reads the tracked sub-field at the given (bits, lowBit)
// through input slot slot.
func forwardStep(op *pcode.PcodeOp, slot, bits, lowBit int) (outBits, outLowBit int, ok bool) {
	switch op.Opcode {
	case pcode.OpCopy, pcode.OpMultiequal, pcode.OpIntNegate, pcode.OpIntXor,
		pcode.OpIntZext, pcode.OpIntSext:
		return bits, lowBit, true

	case pcode.OpIntAnd, pcode.OpIntOr:
		if _, ok := maskCompatible(op, op.Opcode, bits, lowBit); !ok {
			return 0, 0, false
		}
		return bits, lowBit, true

	case pcode.OpIntAdd, pcode.OpIntMult:
		if lowBit != 0 {
			return 0, 0, false
		}
		return bits, lowBit, true

	case pcode.OpSubpiece:
		// op.Output = SUBPIECE(v, shiftBytes, sizeBytes): only the bits in
		// [shift, shift+outSize) survive into the output.
		shift, ok := shiftAmount(op.Input[1], true)
		if !ok {
			return 0, 0, false
		}
		outSize := 64
		if op.Output != nil {
			outSize = op.Output.Size * 8
		}
		if lowBit < shift || lowBit+bits > shift+outSize {
			return 0, 0, false
		}
		return bits, lowBit - shift, true

	case pcode.OpPiece:
		lo := op.Input[1]
		if lo == nil {
			return 0, 0, false
		}
		if slot == 1 {
			return bits, lowBit, true
		}
		return bits, lowBit + lo.Size*8, true

	case pcode.OpIntLeft:
		amt, ok := shiftAmount(op.Input[1], false)
		if !ok {
			return 0, 0, false
		}
		outSize := 64
		if op.Output != nil {
			outSize = op.Output.Size * 8
		}
		if lowBit+bits+amt > outSize {
			return 0, 0, false
		}
		return bits, lowBit + amt, true

	case pcode.OpIntRight, pcode.OpIntSRight:
		amt, ok := shiftAmount(op.Input[1], false)
		if !ok {
			return 0, 0, false
		}
		if lowBit < amt {
			return 0, 0, false // these bits are shifted away entirely
		}
		return bits, lowBit - amt, true

	default:
		return 0, 0, false
	}
}

func bitCount(m uint64) int {
	n := 0
	for m != 0 {
		n += int(m & 1)
		m >>= 1
	}
	return n
}

func lowestSetBit(m uint64) int {
	if m == 0 {
		return 0
	}
	n := 0
	for m&1 == 0 {
		n++
		m >>= 1
	}
	return n
}

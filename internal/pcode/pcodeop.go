package pcode

// PrimaryFlags are the op-level primary flag word bits.
type PrimaryFlags uint32

const (
	PFBranch PrimaryFlags = 1 << iota
	PFCall
	PFMarker
	PFCommutative
	PFUnary
	PFBinary
	PFSpecial
	PFTernary
	PFBoolOutput
)

// SecondaryFlags are the op-level secondary flag word bits.
type SecondaryFlags uint32

const (
	SFWarning SecondaryFlags = 1 << iota
	SFIncidentalCopy
	SFStopTypePropagation
)

// ListMembership tells an op which of PcodeOpBank's two lists it is in.
type ListMembership int

const (
	ListNone ListMembership = iota
	ListAlive
	ListDead
)

// PcodeOp is the lowest-level operation: an opcode, ordered inputs, an
// optional output, a position in the function's total order, and its
// parent block.
type PcodeOp struct {
	Opcode Opcode
	Seq    SeqNum

	Input  []*Varnode
	Output *Varnode

	Parent      interface{} // *block.BlockBasic; interface{} avoids an import cycle
	BlockIndex  int         // position within Parent's op list

	Primary   PrimaryFlags
	Secondary SecondaryFlags

	membership ListMembership
	lpos       *listPos // bank-internal list-node handle (see bank.go)

	dead bool
}

// NewPcodeOp allocates a detached op with numInputs nulled input slots.
// The caller (PcodeOpBank) is responsible for stamping Seq and inserting
// it into the bank's indices.
func NewPcodeOp(opcode Opcode, seq SeqNum, numInputs int) *PcodeOp {
	op := &PcodeOp{
		Opcode: opcode,
		Seq:    seq,
		Input:  make([]*Varnode, numInputs),
		dead:   true,
	}
	op.applyOpcodeFlags()
	return op
}

// applyOpcodeFlags clears flags derived from Opcode, then sets them
// according to the (possibly new) opcode — the contract for
// PcodeOpBank.changeOpcode.
func (op *PcodeOp) applyOpcodeFlags() {
	op.Primary &^= PFBranch | PFCall | PFMarker | PFCommutative | PFUnary | PFBinary | PFSpecial | PFTernary
	oc := op.Opcode
	if oc.IsBranch() {
		op.Primary |= PFBranch
	}
	if oc.IsCall() {
		op.Primary |= PFCall
	}
	if oc.IsMarker() {
		op.Primary |= PFMarker
	}
	if oc.IsCommutative() {
		op.Primary |= PFCommutative
	}
	switch oc.Kind() {
	case BehaviorUnary:
		op.Primary |= PFUnary
	case BehaviorBinary:
		op.Primary |= PFBinary
	case BehaviorSpecial:
		op.Primary |= PFSpecial
	case BehaviorTernary:
		op.Primary |= PFTernary
	}
}

func (op *PcodeOp) IsDead() bool             { return op.dead }
func (op *PcodeOp) Membership() ListMembership { return op.membership }

func (op *PcodeOp) SetInput(slot int, v *Varnode) {
	if old := op.Input[slot]; old != nil {
		old.RemoveDescendant(op, slot)
	}
	op.Input[slot] = v
	if v != nil {
		v.AddDescendant(op, slot)
	}
}

func (op *PcodeOp) SetOutput(v *Varnode) {
	if op.Output != nil {
		op.Output.ClearDef()
	}
	op.Output = v
	if v != nil {
		v.SetDef(op)
	}
}

// NumInput returns the number of populated input slots.
func (op *PcodeOp) NumInput() int { return len(op.Input) }

// CollapseResult is the outcome of PcodeOp.Collapse.
type CollapseResult struct {
	Value  uint64
	Marked bool // true if any constant input carried a symbol-entry annotation
	OK     bool // false when not all inputs are constant, or eval failed
}

// Collapse evaluates op via OpBehavior when every input is constant and
// the result fits the output's declared size. Marked propagates whether
// any input varnode's Symbol annotation must carry over to the produced
// constant.
func (op *PcodeOp) Collapse(eval Evaluator) CollapseResult {
	if op.Output == nil {
		return CollapseResult{}
	}
	vals := make([]uint64, len(op.Input))
	sizes := make([]int, len(op.Input))
	marked := false
	for i, in := range op.Input {
		if in == nil || !in.IsConstant() {
			return CollapseResult{}
		}
		vals[i] = in.Addr.Offset
		sizes[i] = in.Size
		if in.Symbol != nil {
			marked = true
		}
	}
	behave, ok := LookupBehavior(op.Opcode)
	if !ok {
		return CollapseResult{}
	}
	out, err := behave.Evaluate(sizes, vals, op.Output.Size)
	if err != nil {
		return CollapseResult{}
	}
	return CollapseResult{Value: out, Marked: marked, OK: true}
}

// GetNZMaskLocal computes a superset of the bits that could be nonzero in
// op's output, given each input's own NZMask. loopClip, when true, skips
// MULTIEQUAL inputs that flow from a loop back-edge (the caller identifies
// those by index in loopBackInputs).
func (op *PcodeOp) GetNZMaskLocal(loopClip bool, loopBackInputs map[int]bool) uint64 {
	full := fullMask(op.Output)
	in := func(i int) uint64 {
		if i >= len(op.Input) || op.Input[i] == nil {
			return full
		}
		return op.Input[i].NZMask
	}
	outSize := 64
	if op.Output != nil {
		outSize = op.Output.Size * 8
	}
	switch op.Opcode {
	case OpIntSext:
		return sextMask(in(0), opInSizeBits(op, 0), outSize)
	case OpIntZext:
		return in(0)
	case OpIntLeft:
		if op.Input[1] != nil && op.Input[1].IsConstant() {
			sh := op.Input[1].Addr.Offset
			if sh >= uint64(outSize) {
				return 0
			}
			return (in(0) << sh) & full
		}
		return full
	case OpIntRight, OpIntSRight:
		if op.Opcode == OpIntSRight && in(0)&(uint64(1)<<uint(opInSizeBits(op, 0)-1)) != 0 {
			// sign bit may be set: the arithmetic shift may fill any high bit
			return full
		}
		if op.Input[1] != nil && op.Input[1].IsConstant() {
			sh := op.Input[1].Addr.Offset
			if sh >= uint64(outSize) {
				return 0
			}
			return in(0) >> sh
		}
		return full
	case OpIntAnd:
		return (in(0) & in(1)) & full
	case OpIntOr:
		return (in(0) | in(1)) & full
	case OpIntXor:
		return (in(0) | in(1)) & full
	case OpIntAdd:
		// carry can ripple through every bit up to and including the
		// highest set bit of either operand, plus one.
		bound := nextPow2Mask(in(0) | in(1))
		return bound & full
	case OpIntMult:
		w := bitLen(in(0)) + bitLen(in(1))
		if w >= 64 {
			return full
		}
		return ((uint64(1) << uint(w)) - 1) & full
	case OpPiece:
		if op.Input[0] == nil || op.Input[1] == nil {
			return full
		}
		loSize := op.Input[1].Size * 8
		return ((in(0) << uint(loSize)) | in(1)) & full
	case OpSubpiece:
		if op.Input[1] == nil || !op.Input[1].IsConstant() {
			return full
		}
		shift := op.Input[1].Addr.Offset * 8
		return (in(0) >> shift) & full
	case OpMultiequal:
		var acc uint64
		for i := range op.Input {
			if loopClip && loopBackInputs[i] {
				continue
			}
			acc |= in(i)
		}
		return acc & full
	default:
		return full
	}
}

func fullMask(v *Varnode) uint64 {
	if v == nil || v.Size >= 8 {
		return 0xFFFFFFFFFFFFFFFF
	}
	return (uint64(1) << uint(8*v.Size)) - 1
}

func opInSizeBits(op *PcodeOp, slot int) int {
	if slot < len(op.Input) && op.Input[slot] != nil {
		return op.Input[slot].Size * 8
	}
	return 64
}

func sextMask(m uint64, inBits, outBits int) uint64 {
	if inBits >= 64 {
		return m
	}
	signBit := uint64(1) << uint(inBits-1)
	if m&signBit != 0 {
		// sign could be set: every bit above inBits-1 is possibly set too
		var ext uint64
		if outBits >= 64 {
			ext = ^uint64(0) << uint(inBits-1)
		} else {
			ext = ((uint64(1) << uint(outBits)) - 1) &^ ((uint64(1) << uint(inBits-1)) - 1)
		}
		return m | ext
	}
	return m
}

func bitLen(m uint64) int {
	n := 0
	for m != 0 {
		n++
		m >>= 1
	}
	return n
}

func nextPow2Mask(m uint64) uint64 {
	if m == 0 {
		return 0
	}
	n := bitLen(m)
	if n >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(n+1)) - 1
}

// IsMoveable decides whether op can be reordered to just before point
// within the same basic block without violating data-flow or memory
// effects. liveBetween reports whether any op strictly between op and
// point (exclusive) reads op's output or writes an address-tied location
// op's inputs depend on; the bank/block-graph supplies it since it needs
// block-local iteration.
func (op *PcodeOp) IsMoveable(point *PcodeOp, liveBetween func(op, point *PcodeOp) bool) bool {
	if op == point {
		return true
	}
	if op.Output != nil && len(op.Output.Descendants) > 0 {
		if liveBetween != nil && liveBetween(op, point) {
			return false
		}
	}
	switch op.Opcode {
	case OpLoad:
		// a LOAD cannot cross a STORE or a call unless strictly independent;
		// delegated to liveBetween, which the caller wires to check for
		// intervening STORE/CALL ops.
		if liveBetween != nil && liveBetween(op, point) {
			return false
		}
		return true
	case OpStore, OpBranchind, OpCbranch, OpBranch, OpCallother, OpSegmentOp, OpCpoolRef, OpNew:
		// non-CALL specials other than LOAD cannot be moved
		if op.Opcode != OpLoad {
			return false
		}
	}
	if op.Opcode.IsCall() && op.Opcode != OpCallother {
		// a CALL can be crossed only by ops whose varnodes are neither
		// address-tied nor persistent; liveBetween is expected to encode
		// that check for this pair.
		if liveBetween != nil && liveBetween(op, point) {
			return false
		}
	}
	for _, in := range op.Input {
		if in != nil && in.Flags.Has(FlagAddrTied) {
			if liveBetween != nil && liveBetween(op, point) {
				return false
			}
		}
	}
	return true
}

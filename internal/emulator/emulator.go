package emulator

import (
	"github.com/pkg/errors"

	"github.com/sentra-lang/pcodec/internal/block"
	"github.com/sentra-lang/pcodec/internal/funcdata"
	"github.com/sentra-lang/pcodec/internal/pcode"
	"github.com/sentra-lang/pcodec/internal/perrors"
)

// Translator produces the p-code translation of one machine instruction
// starting at addr, plus the address of the instruction that follows it
// (the fall-through target once the cache is exhausted). Grounded on
// §4.4's "translate the next instruction at the current address and
// reset the cache" — in this decompiler the instructions already live in
// the bank as p-code, so the default Translator (BankTranslator) simply
// slices the next contiguous run of ops sharing one machine address.
type Translator interface {
	Translate(fd *funcdata.Funcdata, addr pcode.Address) ([]*pcode.PcodeOp, pcode.Address, error)
}

// BankTranslator walks a Funcdata's own PcodeOpBank: ops already carry a
// SeqNum, so "translating" an instruction means collecting every live op
// whose Seq.Addr equals addr, in the bank's (address, time) order, and
// reporting the address of the op that follows the run's last op in the
// bank as the fall-through (addr itself when that op is the bank's last).
type BankTranslator struct{}

func (BankTranslator) Translate(fd *funcdata.Funcdata, addr pcode.Address) ([]*pcode.PcodeOp, pcode.Address, error) {
	all := fd.Bank.All()
	var run []*pcode.PcodeOp
	next := addr
	for i, op := range all {
		if op.IsDead() || op.Seq.Addr.Compare(addr) != 0 {
			continue
		}
		run = append(run, op)
		if i+1 < len(all) {
			next = all[i+1].Seq.Addr
		}
	}
	if len(run) == 0 {
		return nil, addr, perrors.Newf(perrors.KindEmulation, "emulator: no p-code translation available at %+v", addr)
	}
	return run, next, nil
}

// OpBreakFunc is a per-op (CALLOTHER user-op, or overridden opcode)
// breakpoint callback. Its return value decides whether the op's normal
// action still executes afterward.
type OpBreakFunc func(e *Emulator, op *pcode.PcodeOp) bool

// AddrBreakFunc is an instruction-boundary breakpoint callback.
type AddrBreakFunc func(e *Emulator, addr pcode.Address) bool

// Emulator is the step-level verifier of §4.4: it executes one p-code op
// at a time against a MemoryState, using a translator-produced
// instruction cache and a two-level breakpoint table.
type Emulator struct {
	fd         *funcdata.Funcdata
	Mem        *MemoryState
	translator Translator

	pc       pcode.Address
	cache    []*pcode.PcodeOp
	cacheIdx int
	fallThru pcode.Address

	lastBlock *block.BlockBasic
	callStack []pcode.Address

	userOpHooks map[uint64]OpBreakFunc
	opcodeHooks map[pcode.Opcode]OpBreakFunc
	addrHooks   map[pcode.Address]AddrBreakFunc

	Halted bool
}

func New(fd *funcdata.Funcdata, start pcode.Address, translator Translator) *Emulator {
	if translator == nil {
		translator = BankTranslator{}
	}
	return &Emulator{
		fd:          fd,
		Mem:         NewMemoryState(),
		translator:  translator,
		pc:          start,
		userOpHooks: make(map[uint64]OpBreakFunc),
		opcodeHooks: make(map[pcode.Opcode]OpBreakFunc),
		addrHooks:   make(map[pcode.Address]AddrBreakFunc),
	}
}

// SetUserOpHook installs a CALLOTHER breakpoint keyed by the user-op
// index (CALLOTHER's first, constant, input).
func (e *Emulator) SetUserOpHook(userOp uint64, fn OpBreakFunc) { e.userOpHooks[userOp] = fn }

// SetOpcodeHook installs an override for an otherwise-fatal opcode
// (SEGMENTOP, CPOOLREF, NEW).
func (e *Emulator) SetOpcodeHook(oc pcode.Opcode, fn OpBreakFunc) { e.opcodeHooks[oc] = fn }

// SetAddrHook installs an instruction-boundary breakpoint.
func (e *Emulator) SetAddrHook(addr pcode.Address, fn AddrBreakFunc) { e.addrHooks[addr] = fn }

func (e *Emulator) PC() pcode.Address { return e.pc }

// Step executes exactly one p-code op, refilling the instruction cache
// and firing an address breakpoint first if the cache was exhausted.
func (e *Emulator) Step() error {
	if e.Halted {
		return perrors.New(perrors.KindEmulation, "emulator: Step called after halt")
	}
	if e.cacheIdx >= len(e.cache) {
		ops, next, err := e.translator.Translate(e.fd, e.pc)
		if err != nil {
			return err
		}
		e.cache, e.cacheIdx, e.fallThru = ops, 0, next
		if hook, ok := e.addrHooks[e.pc]; ok {
			if !hook(e, e.pc) {
				e.pc = e.fallThru
				return nil
			}
		}
	}

	op := e.cache[e.cacheIdx]
	runDefault := true
	if op.Opcode == pcode.OpCallother {
		userOp := e.Mem.Read(op.Input[0].Addr, op.Input[0].Size)
		hook, ok := e.userOpHooks[userOp]
		if !ok {
			return perrors.Newf(perrors.KindEmulation, "emulator: CALLOTHER user-op %d has no breakpoint hook at %+v", userOp, op.Seq)
		}
		runDefault = hook(e, op)
	}
	if runDefault {
		if err := e.executeOp(op); err != nil {
			return err
		}
	}

	if blk, ok := op.Parent.(*block.BlockBasic); ok {
		e.lastBlock = blk
	}

	e.cacheIdx++
	if e.cacheIdx >= len(e.cache) {
		// only advance pc to the natural fall-through if the op itself
		// didn't already redirect control flow (branch handling sets
		// e.pc and empties the cache directly).
		if e.cacheIdx == len(e.cache) {
			e.pc = e.fallThru
		}
	}
	return nil
}

// jump redirects control flow to addr and invalidates the instruction
// cache so the next Step re-translates from there.
func (e *Emulator) jump(addr pcode.Address) {
	e.pc = addr
	e.cache = nil
	e.cacheIdx = 0
}

func (e *Emulator) branchDest(v *pcode.Varnode) pcode.Address {
	if v.Addr.Space.IsConstant {
		rel := int64(v.Addr.Offset)
		idx := e.cacheIdx + int(rel)
		if idx >= 0 && idx < len(e.cache) {
			return e.cache[idx].Seq.Addr
		}
		return e.fallThru
	}
	return v.Addr
}

func (e *Emulator) executeOp(op *pcode.PcodeOp) error {
	switch op.Opcode {
	case pcode.OpLoad:
		space := e.fd.Spaces.GetSpaceByIndex(int(e.Mem.Read(op.Input[0].Addr, op.Input[0].Size)))
		if space == nil {
			return perrors.Newf(perrors.KindEmulation, "emulator: LOAD references unknown space at %+v", op.Seq)
		}
		off := e.Mem.ReadVarnode(op.Input[1])
		e.Mem.WriteVarnode(op.Output, e.Mem.Read(pcode.NewAddress(space, off), op.Output.Size))
		return nil
	case pcode.OpStore:
		space := e.fd.Spaces.GetSpaceByIndex(int(e.Mem.Read(op.Input[0].Addr, op.Input[0].Size)))
		if space == nil {
			return perrors.Newf(perrors.KindEmulation, "emulator: STORE references unknown space at %+v", op.Seq)
		}
		off := e.Mem.ReadVarnode(op.Input[1])
		e.Mem.Write(pcode.NewAddress(space, off), op.Input[2].Size, e.Mem.ReadVarnode(op.Input[2]))
		return nil
	case pcode.OpBranch:
		e.jump(e.branchDest(op.Input[0]))
		return nil
	case pcode.OpCbranch:
		cond := e.Mem.ReadVarnode(op.Input[1])
		if cond != 0 {
			e.jump(e.branchDest(op.Input[0]))
		}
		return nil
	case pcode.OpBranchind:
		e.jump(pcode.NewAddress(op.Input[0].Addr.Space, e.Mem.ReadVarnode(op.Input[0])))
		return nil
	case pcode.OpCall:
		if e.cacheIdx+1 < len(e.cache) {
			e.callStack = append(e.callStack, e.cache[e.cacheIdx+1].Seq.Addr)
		} else {
			e.callStack = append(e.callStack, e.fallThru)
		}
		e.jump(op.Input[0].Addr)
		return nil
	case pcode.OpCallind:
		if e.cacheIdx+1 < len(e.cache) {
			e.callStack = append(e.callStack, e.cache[e.cacheIdx+1].Seq.Addr)
		} else {
			e.callStack = append(e.callStack, e.fallThru)
		}
		e.jump(pcode.NewAddress(op.Input[0].Addr.Space, e.Mem.ReadVarnode(op.Input[0])))
		return nil
	case pcode.OpReturn:
		if len(e.callStack) == 0 {
			e.Halted = true
			return nil
		}
		ret := e.callStack[len(e.callStack)-1]
		e.callStack = e.callStack[:len(e.callStack)-1]
		e.jump(ret)
		return nil
	case pcode.OpMultiequal:
		blk, ok := op.Parent.(*block.BlockBasic)
		if !ok || e.lastBlock == nil {
			return perrors.Newf(perrors.KindEmulation, "emulator: MULTIEQUAL at %+v needs a known predecessor block", op.Seq)
		}
		idx := -1
		for i, in := range blk.In {
			if in == e.lastBlock {
				idx = i
				break
			}
		}
		if idx < 0 || idx >= len(op.Input) {
			return perrors.Newf(perrors.KindEmulation, "emulator: MULTIEQUAL at %+v has no input for the taken predecessor", op.Seq)
		}
		e.Mem.WriteVarnode(op.Output, e.Mem.ReadVarnode(op.Input[idx]))
		return nil
	case pcode.OpIndirect:
		e.Mem.WriteVarnode(op.Output, e.Mem.ReadVarnode(op.Input[0]))
		return nil
	case pcode.OpSegmentOp, pcode.OpCpoolRef, pcode.OpNew:
		if hook, ok := e.opcodeHooks[op.Opcode]; ok {
			hook(e, op)
			return nil
		}
		return perrors.Newf(perrors.KindEmulation, "emulator: %s has no semantics and no override hook at %+v", op.Opcode, op.Seq)
	case pcode.OpCallother:
		return nil // handled by the user-op hook dispatch in Step
	default:
		return e.executeBehavior(op)
	}
}

func (e *Emulator) executeBehavior(op *pcode.PcodeOp) error {
	behavior, ok := pcode.LookupBehavior(op.Opcode)
	if !ok {
		return perrors.Newf(perrors.KindEmulation, "emulator: unimplemented op %s at %+v", op.Opcode, op.Seq)
	}
	inSizes := make([]int, len(op.Input))
	inValues := make([]uint64, len(op.Input))
	for i, in := range op.Input {
		inSizes[i] = in.Size
		inValues[i] = e.Mem.ReadVarnode(in)
	}
	outSize := 0
	if op.Output != nil {
		outSize = op.Output.Size
	}
	result, err := behavior.Evaluate(inSizes, inValues, outSize)
	if err != nil {
		return perrors.Wrap(perrors.KindEmulation, errors.Wrapf(err, "op %s at %+v", op.Opcode, op.Seq), "emulator: behavior evaluation failed")
	}
	if op.Output != nil {
		e.Mem.WriteVarnode(op.Output, result)
	}
	return nil
}

package emulator

import (
	"testing"

	"github.com/sentra-lang/pcodec/internal/funcdata"
	"github.com/sentra-lang/pcodec/internal/pcode"
)

// TestStepExecutesAddAndAdvancesFallthrough is spec.md §8 scenario 4:
// memory[0x10]=5, memory[0x18]=7 in a 64-bit little-endian space,
// execute an ADD op reading these and writing memory[0x20]; assert
// memory[0x20]=12 and the next op is the sequential fall-through.
func TestStepExecutesAddAndAdvancesFallthrough(t *testing.T) {
	sm := pcode.NewSpaceManager()
	ram := sm.AddSpace(&pcode.AddrSpace{Name: "ram", ByteSize: 8, WordSize: 1})
	code := sm.AddSpace(&pcode.AddrSpace{Name: "code", ByteSize: 8})

	fd := funcdata.New("f", sm, 16)
	blk := fd.Graph.AddBlock()

	addOp := fd.CreateOp(blk, pcode.NewAddress(code, 0x100), pcode.OpIntAdd, 2)
	in0 := pcode.NewVarnode(0, pcode.NewAddress(ram, 0x10), 8)
	in1 := pcode.NewVarnode(1, pcode.NewAddress(ram, 0x18), 8)
	out := pcode.NewVarnode(2, pcode.NewAddress(ram, 0x20), 8)
	fd.OpSetInput(addOp, 0, in0)
	fd.OpSetInput(addOp, 1, in1)
	fd.OpSetOutput(addOp, out)

	nextOp := fd.CreateOp(blk, pcode.NewAddress(code, 0x108), pcode.OpCopy, 1)
	fd.OpSetInput(nextOp, 0, in0)
	fd.OpSetOutput(nextOp, pcode.NewVarnode(3, pcode.NewAddress(ram, 0x28), 8))

	e := New(fd, pcode.NewAddress(code, 0x100), nil)
	e.Mem.Write(pcode.NewAddress(ram, 0x10), 8, 5)
	e.Mem.Write(pcode.NewAddress(ram, 0x18), 8, 7)

	if err := e.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := e.Mem.Read(pcode.NewAddress(ram, 0x20), 8); got != 12 {
		t.Fatalf("memory[0x20] = %d, want 12", got)
	}
	if got := e.PC(); got.Compare(pcode.NewAddress(code, 0x108)) != 0 {
		t.Fatalf("PC after fall-through = %+v, want code:0x108", got)
	}
}

// TestStepFiresAddrBreakpointBeforeInstruction exercises the
// instruction-boundary hook: installing a hook that refuses the normal
// action should leave memory untouched.
func TestStepFiresAddrBreakpointBeforeInstruction(t *testing.T) {
	sm := pcode.NewSpaceManager()
	ram := sm.AddSpace(&pcode.AddrSpace{Name: "ram", ByteSize: 8, WordSize: 1})
	code := sm.AddSpace(&pcode.AddrSpace{Name: "code", ByteSize: 8})
	fd := funcdata.New("f", sm, 16)
	blk := fd.Graph.AddBlock()

	addOp := fd.CreateOp(blk, pcode.NewAddress(code, 0x100), pcode.OpIntAdd, 2)
	in0 := pcode.NewVarnode(0, pcode.NewAddress(ram, 0x10), 8)
	in1 := pcode.NewVarnode(1, pcode.NewAddress(ram, 0x18), 8)
	out := pcode.NewVarnode(2, pcode.NewAddress(ram, 0x20), 8)
	fd.OpSetInput(addOp, 0, in0)
	fd.OpSetInput(addOp, 1, in1)
	fd.OpSetOutput(addOp, out)

	e := New(fd, pcode.NewAddress(code, 0x100), nil)
	e.Mem.Write(pcode.NewAddress(ram, 0x10), 8, 5)
	e.Mem.Write(pcode.NewAddress(ram, 0x18), 8, 7)

	var fired bool
	e.SetAddrHook(pcode.NewAddress(code, 0x100), func(ev *Emulator, addr pcode.Address) bool {
		fired = true
		return false
	})

	if err := e.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !fired {
		t.Fatalf("expected the address breakpoint to fire")
	}
	if got := e.Mem.Read(pcode.NewAddress(ram, 0x20), 8); got != 0 {
		t.Fatalf("memory[0x20] = %d, want 0 (breakpoint suppressed the op)", got)
	}
}

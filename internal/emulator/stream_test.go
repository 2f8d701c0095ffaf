package emulator

import (
	"testing"

	"github.com/sentra-lang/pcodec/internal/funcdata"
	"github.com/sentra-lang/pcodec/internal/pcode"
)

// TestStepStreamBroadcastsWithNoSubscribers confirms StepStream.Step
// still drives the underlying Emulator forward when no client is
// connected (broadcast is a no-op, not an error).
func TestStepStreamBroadcastsWithNoSubscribers(t *testing.T) {
	sm := pcode.NewSpaceManager()
	ram := sm.AddSpace(&pcode.AddrSpace{Name: "ram", ByteSize: 8, WordSize: 1})
	code := sm.AddSpace(&pcode.AddrSpace{Name: "code", ByteSize: 8})
	fd := funcdata.New("f", sm, 16)
	blk := fd.Graph.AddBlock()

	addOp := fd.CreateOp(blk, pcode.NewAddress(code, 0x100), pcode.OpIntAdd, 2)
	fd.OpSetInput(addOp, 0, pcode.NewVarnode(0, pcode.NewAddress(ram, 0x10), 8))
	fd.OpSetInput(addOp, 1, pcode.NewVarnode(1, pcode.NewAddress(ram, 0x18), 8))
	fd.OpSetOutput(addOp, pcode.NewVarnode(2, pcode.NewAddress(ram, 0x20), 8))

	e := New(fd, pcode.NewAddress(code, 0x100), nil)
	e.Mem.Write(pcode.NewAddress(ram, 0x10), 8, 5)
	e.Mem.Write(pcode.NewAddress(ram, 0x18), 8, 7)

	stream := NewStepStream(e)
	if err := stream.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := e.Mem.Read(pcode.NewAddress(ram, 0x20), 8); got != 12 {
		t.Fatalf("memory[0x20] = %d, want 12", got)
	}
}

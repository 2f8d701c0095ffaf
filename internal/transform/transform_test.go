package transform

import (
	"testing"

	"github.com/sentra-lang/pcodec/internal/funcdata"
	"github.com/sentra-lang/pcodec/internal/pcode"
)

func testFuncdata(t *testing.T) (*funcdata.Funcdata, *pcode.AddrSpace) {
	t.Helper()
	sm := pcode.NewSpaceManager()
	code := sm.AddSpace(&pcode.AddrSpace{Name: "code", ByteSize: 8})
	sm.AddSpace(&pcode.AddrSpace{Name: "unique", ByteSize: 8, IsUnique: true})
	sm.AddSpace(&pcode.AddrSpace{Name: "const", ByteSize: 8, IsConstant: true})
	return funcdata.New("f", sm, 16), code
}

// TestTraceFailureRollsBackWithNoSideEffects exercises the "empty patch
// list means pattern absent" rollback path: a manager with nothing
// staged must fail Trace and leave no ops behind.
func TestTraceFailureRollsBackWithNoSideEffects(t *testing.T) {
	fd, _ := testFuncdata(t)
	tm := NewManager(fd)

	if tm.Trace() {
		t.Fatalf("expected Trace to fail when no patches were staged")
	}
	if fd.Bank.AliveCount() != 0 || fd.Bank.DeadCount() != 0 {
		t.Fatalf("expected no ops to exist after a rolled-back trace")
	}
}

// TestApplyWiresOutputsBeforeInputs stages a two-op replacement (a new
// COPY feeding a patched original) and checks Apply produces a coherent
// graph: the patched op's input resolves to the newly created op's
// output varnode.
func TestApplyWiresOutputsBeforeInputs(t *testing.T) {
	fd, code := testFuncdata(t)
	blk := fd.Graph.AddBlock()

	srcVn := pcode.NewVarnode(0, pcode.NewAddress(code, 0x1000), 4)
	original := fd.CreateOp(blk, pcode.NewAddress(code, 0x10), pcode.OpCopy, 1)
	fd.OpSetInput(original, 0, srcVn)

	tm := NewManager(fd)
	src := tm.NewPreexistingOp(srcVn)
	replaced := tm.NewOp(blk, pcode.NewAddress(code, 0x10), pcode.OpIntZext, 1)
	out := &TransformVar{Kind: VarUnique, SizeBits: 32}
	tm.vars = append(tm.vars, out)
	tm.OpSetInput(replaced, 0, src)
	tm.OpSetOutput(replaced, out)
	tm.AddPatch(Patch{Kind: PatchZeroExtension, Op: original, Slot: 0, Var: out})

	if err := tm.Apply(); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if original.Input[0] != out.Replacement() {
		t.Fatalf("expected the patched op's input to be rewired to the new op's output")
	}
	if replaced.Built().Output != out.Replacement() {
		t.Fatalf("expected the new op's output varnode to be out's replacement")
	}
}

package rewrite

import (
	"testing"

	"github.com/sentra-lang/pcodec/internal/block"
	"github.com/sentra-lang/pcodec/internal/funcdata"
	"github.com/sentra-lang/pcodec/internal/pcode"
)

// TestConditionalExecCollapsesRedundantBranch is spec.md §8 scenario 5:
// initblock computes cond = x < 10; prea/preb branch on cond; iblock
// recomputes the same x < 10 and branches to posta/postb. Running the
// pass once must remove iblock, relink prea->posta and preb->postb, and
// destroy the recomputed comparison op.
func TestConditionalExecCollapsesRedundantBranch(t *testing.T) {
	sm := pcode.NewSpaceManager()
	code := sm.AddSpace(&pcode.AddrSpace{Name: "code", ByteSize: 8})
	sm.AddSpace(&pcode.AddrSpace{Name: "unique", ByteSize: 8, IsUnique: true})
	sm.AddSpace(&pcode.AddrSpace{Name: "const", ByteSize: 8, IsConstant: true})

	fd := funcdata.New("f", sm, 16)
	g := fd.Graph
	uniqueSpace, _ := sm.GetSpace("unique")
	constSpace, _ := sm.GetSpace("const")

	initblock := g.AddBlock()
	prea := g.AddBlock()
	preb := g.AddBlock()
	iblock := g.AddBlock()
	posta := g.AddBlock()
	postb := g.AddBlock()

	block.AddEdge(initblock, prea)
	block.AddEdge(initblock, preb)
	block.AddEdge(prea, iblock)
	block.AddEdge(preb, iblock)
	block.AddEdge(iblock, posta)
	block.AddEdge(iblock, postb)

	x := pcode.NewVarnode(0, pcode.NewAddress(code, 0x2000), 4)
	ten := pcode.NewVarnode(0, pcode.NewAddress(constSpace, 10), 4)
	ten.Role = pcode.RoleConstant

	initCond := fd.CreateOp(initblock, pcode.NewAddress(code, 0x100), pcode.OpIntLess, 2)
	fd.OpSetInput(initCond, 0, x)
	fd.OpSetInput(initCond, 1, ten)
	condOut1 := pcode.NewVarnode(1, pcode.NewAddress(uniqueSpace, 0), 1)
	fd.OpSetOutput(initCond, condOut1)
	initBranch := fd.CreateOp(initblock, pcode.NewAddress(code, 0x108), pcode.OpCbranch, 2)
	fd.OpSetInput(initBranch, 1, condOut1)

	iCond := fd.CreateOp(iblock, pcode.NewAddress(code, 0x200), pcode.OpIntLess, 2)
	fd.OpSetInput(iCond, 0, x)
	fd.OpSetInput(iCond, 1, ten)
	condOut2 := pcode.NewVarnode(2, pcode.NewAddress(uniqueSpace, 4), 1)
	fd.OpSetOutput(iCond, condOut2)
	iBranch := fd.CreateOp(iblock, pcode.NewAddress(code, 0x208), pcode.OpCbranch, 2)
	fd.OpSetInput(iBranch, 1, condOut2)

	pass := NewPass("conditional-exec", &ConditionalExecRule{Graph: g})
	if err := pass.Apply(fd); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if pass.Changed == 0 {
		t.Fatalf("expected the conditional-exec rule to fire")
	}

	if len(iblock.In) != 0 || len(iblock.Out) != 0 {
		t.Fatalf("expected iblock to be detached from the graph")
	}
	if !containsBlock(prea.Out, posta) {
		t.Fatalf("expected prea -> posta edge")
	}
	if !containsBlock(preb.Out, postb) {
		t.Fatalf("expected preb -> postb edge")
	}
	if !iCond.IsDead() {
		t.Fatalf("expected the recomputed comparison op to be destroyed (dead)")
	}
}

// TestConditionalExecPullsBackExternallyReadOp exercises §4.6's edit
// machinery directly: iblock also computes y = x + 1, whose result is
// read by a COPY op in posta (outside iblock). The rule must not refuse
// the whole block over that external read; instead it pulls the
// computation back into prea (the only predecessor posta remains
// reachable from once iblock is gone) and redirects posta's COPY to read
// the pulled-back value.
func TestConditionalExecPullsBackExternallyReadOp(t *testing.T) {
	sm := pcode.NewSpaceManager()
	code := sm.AddSpace(&pcode.AddrSpace{Name: "code", ByteSize: 8})
	sm.AddSpace(&pcode.AddrSpace{Name: "unique", ByteSize: 8, IsUnique: true})
	sm.AddSpace(&pcode.AddrSpace{Name: "const", ByteSize: 8, IsConstant: true})

	fd := funcdata.New("f", sm, 16)
	g := fd.Graph
	uniqueSpace, _ := sm.GetSpace("unique")
	constSpace, _ := sm.GetSpace("const")

	initblock := g.AddBlock()
	prea := g.AddBlock()
	preb := g.AddBlock()
	iblock := g.AddBlock()
	posta := g.AddBlock()
	postb := g.AddBlock()

	block.AddEdge(initblock, prea)
	block.AddEdge(initblock, preb)
	block.AddEdge(prea, iblock)
	block.AddEdge(preb, iblock)
	block.AddEdge(iblock, posta)
	block.AddEdge(iblock, postb)

	x := pcode.NewVarnode(0, pcode.NewAddress(code, 0x2000), 4)
	ten := pcode.NewVarnode(0, pcode.NewAddress(constSpace, 10), 4)
	ten.Role = pcode.RoleConstant
	one := pcode.NewVarnode(0, pcode.NewAddress(constSpace, 1), 4)
	one.Role = pcode.RoleConstant

	initCond := fd.CreateOp(initblock, pcode.NewAddress(code, 0x100), pcode.OpIntLess, 2)
	fd.OpSetInput(initCond, 0, x)
	fd.OpSetInput(initCond, 1, ten)
	condOut1 := pcode.NewVarnode(1, pcode.NewAddress(uniqueSpace, 0), 1)
	fd.OpSetOutput(initCond, condOut1)
	initBranch := fd.CreateOp(initblock, pcode.NewAddress(code, 0x108), pcode.OpCbranch, 2)
	fd.OpSetInput(initBranch, 1, condOut1)

	iCond := fd.CreateOp(iblock, pcode.NewAddress(code, 0x200), pcode.OpIntLess, 2)
	fd.OpSetInput(iCond, 0, x)
	fd.OpSetInput(iCond, 1, ten)
	condOut2 := pcode.NewVarnode(2, pcode.NewAddress(uniqueSpace, 4), 1)
	fd.OpSetOutput(iCond, condOut2)

	extra := fd.CreateOp(iblock, pcode.NewAddress(code, 0x204), pcode.OpIntAdd, 2)
	fd.OpSetInput(extra, 0, x)
	fd.OpSetInput(extra, 1, one)
	extraOut := pcode.NewVarnode(3, pcode.NewAddress(uniqueSpace, 8), 4)
	fd.OpSetOutput(extra, extraOut)

	iBranch := fd.CreateOp(iblock, pcode.NewAddress(code, 0x208), pcode.OpCbranch, 2)
	fd.OpSetInput(iBranch, 1, condOut2)

	reader := fd.CreateOp(posta, pcode.NewAddress(code, 0x300), pcode.OpCopy, 1)
	fd.OpSetInput(reader, 0, extraOut)

	pass := NewPass("conditional-exec", &ConditionalExecRule{Graph: g})
	if err := pass.Apply(fd); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if pass.Changed == 0 {
		t.Fatalf("expected the conditional-exec rule to fire despite the externally read op")
	}

	if !extra.IsDead() {
		t.Fatalf("expected the pulled-back op to be destroyed once its reads were redirected")
	}
	if reader.Input[0] == extraOut {
		t.Fatalf("expected reader's input to be redirected off the destroyed op's output")
	}
	if reader.Input[0] == nil {
		t.Fatalf("reader's input should not be left nil")
	}

	found := false
	for _, op := range prea.Ops {
		if op.Opcode == pcode.OpIntAdd && op.Output == reader.Input[0] {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a pulled-back INT_ADD in prea feeding reader's new input; prea.Ops=%v", prea.Ops)
	}
}

func containsBlock(list []*block.BlockBasic, target *block.BlockBasic) bool {
	for _, b := range list {
		if b == target {
			return true
		}
	}
	return false
}

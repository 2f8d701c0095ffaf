package rewrite

import (
	"testing"

	"github.com/sentra-lang/pcodec/internal/funcdata"
	"github.com/sentra-lang/pcodec/internal/pcode"
)

// TestSubvarFlowFindsTerminatorThroughCopy exercises the simplest §4.7
// shape: seed -> COPY -> INT_EQUAL (a terminator). The low byte mask
// should trace through the transparent COPY and stage a patch at the
// INT_EQUAL without error.
func TestSubvarFlowFindsTerminatorThroughCopy(t *testing.T) {
	sm := pcode.NewSpaceManager()
	code := sm.AddSpace(&pcode.AddrSpace{Name: "code", ByteSize: 8})
	uniqueSpace := sm.AddSpace(&pcode.AddrSpace{Name: "unique", ByteSize: 8, IsUnique: true})
	constSpace := sm.AddSpace(&pcode.AddrSpace{Name: "const", ByteSize: 8, IsConstant: true})

	fd := funcdata.New("f", sm, 16)
	blk := fd.Graph.AddBlock()

	seed := pcode.NewVarnode(0, pcode.NewAddress(code, 0x10), 4)
	cp := fd.CreateOp(blk, pcode.NewAddress(code, 0x10), pcode.OpCopy, 1)
	fd.OpSetInput(cp, 0, seed)
	copyOut := pcode.NewVarnode(1, pcode.NewAddress(uniqueSpace, 0), 4)
	fd.OpSetOutput(cp, copyOut)

	cmp := fd.CreateOp(blk, pcode.NewAddress(code, 0x14), pcode.OpIntEqual, 2)
	fd.OpSetInput(cmp, 0, copyOut)
	cst := pcode.NewVarnode(2, pcode.NewAddress(constSpace, 0xff), 4)
	cst.Role = pcode.RoleConstant
	fd.OpSetInput(cmp, 1, cst)

	changed, err := SubvarFlow(fd, seed, 0xff)
	if err != nil {
		t.Fatalf("SubvarFlow: %v", err)
	}
	if !changed {
		t.Fatalf("expected SubvarFlow to find the terminator through the transparent COPY")
	}
}

// TestSubvarFlowAcceptsMaskPreservingAnd exercises §4.7's AND condition:
// seed -> AND 0xff00ff (a mask that keeps every bit of the low byte set)
// -> INT_EQUAL. The low-byte sub-field survives the AND untouched, so the
// trace must accept it as transparent and reach the terminator.
func TestSubvarFlowAcceptsMaskPreservingAnd(t *testing.T) {
	sm := pcode.NewSpaceManager()
	code := sm.AddSpace(&pcode.AddrSpace{Name: "code", ByteSize: 8})
	uniqueSpace := sm.AddSpace(&pcode.AddrSpace{Name: "unique", ByteSize: 8, IsUnique: true})
	constSpace := sm.AddSpace(&pcode.AddrSpace{Name: "const", ByteSize: 8, IsConstant: true})

	fd := funcdata.New("f", sm, 16)
	blk := fd.Graph.AddBlock()

	seed := pcode.NewVarnode(0, pcode.NewAddress(code, 0x10), 4)
	andOp := fd.CreateOp(blk, pcode.NewAddress(code, 0x10), pcode.OpIntAnd, 2)
	fd.OpSetInput(andOp, 0, seed)
	mask := pcode.NewVarnode(1, pcode.NewAddress(constSpace, 0xff00ff), 4)
	mask.Role = pcode.RoleConstant
	fd.OpSetInput(andOp, 1, mask)
	andOut := pcode.NewVarnode(2, pcode.NewAddress(uniqueSpace, 0), 4)
	fd.OpSetOutput(andOp, andOut)

	cmp := fd.CreateOp(blk, pcode.NewAddress(code, 0x14), pcode.OpIntEqual, 2)
	fd.OpSetInput(cmp, 0, andOut)
	cst := pcode.NewVarnode(3, pcode.NewAddress(constSpace, 0xff), 4)
	cst.Role = pcode.RoleConstant
	fd.OpSetInput(cmp, 1, cst)

	changed, err := SubvarFlow(fd, seed, 0xff)
	if err != nil {
		t.Fatalf("SubvarFlow: %v", err)
	}
	if !changed {
		t.Fatalf("expected SubvarFlow to trace through an AND that preserves the low byte")
	}
}

// TestSubvarFlowRejectsMaskClearingAnd is the same shape but the AND's
// constant clears bits inside the tracked low byte (0x0f, which keeps
// only the byte's low nibble), so the sub-field no longer survives unchanged and the trace
// must fail.
func TestSubvarFlowRejectsMaskClearingAnd(t *testing.T) {
	sm := pcode.NewSpaceManager()
	code := sm.AddSpace(&pcode.AddrSpace{Name: "code", ByteSize: 8})
	uniqueSpace := sm.AddSpace(&pcode.AddrSpace{Name: "unique", ByteSize: 8, IsUnique: true})
	constSpace := sm.AddSpace(&pcode.AddrSpace{Name: "const", ByteSize: 8, IsConstant: true})

	fd := funcdata.New("f", sm, 16)
	blk := fd.Graph.AddBlock()

	seed := pcode.NewVarnode(0, pcode.NewAddress(code, 0x10), 4)
	andOp := fd.CreateOp(blk, pcode.NewAddress(code, 0x10), pcode.OpIntAnd, 2)
	fd.OpSetInput(andOp, 0, seed)
	mask := pcode.NewVarnode(1, pcode.NewAddress(constSpace, 0x0f), 4)
	mask.Role = pcode.RoleConstant
	fd.OpSetInput(andOp, 1, mask)
	andOut := pcode.NewVarnode(2, pcode.NewAddress(uniqueSpace, 0), 4)
	fd.OpSetOutput(andOp, andOut)

	cmp := fd.CreateOp(blk, pcode.NewAddress(code, 0x14), pcode.OpIntEqual, 2)
	fd.OpSetInput(cmp, 0, andOut)
	cst := pcode.NewVarnode(3, pcode.NewAddress(constSpace, 0xff), 4)
	cst.Role = pcode.RoleConstant
	fd.OpSetInput(cmp, 1, cst)

	changed, err := SubvarFlow(fd, seed, 0xff)
	if err != nil {
		t.Fatalf("SubvarFlow: %v", err)
	}
	if changed {
		t.Fatalf("expected SubvarFlow to reject an AND that clears bits inside the tracked low byte")
	}
}

// TestSubvarFlowTracesThroughSubpieceShift exercises §4.7's "arithmetic on
// the mask" requirement: the tracked byte is extracted via SUBPIECE(whole,
// 1) — i.e. byte 1 of whole — so the tracked window must shift up by 8
// bits when continuing upstream into whole itself. The terminator sits on
// the SUBPIECE's output, which holds exactly the tracked byte at
// lowBit 0, so this also proves the forward window shifts back down by
// the same 8 bits when crossing SUBPIECE.
func TestSubvarFlowTracesThroughSubpieceShift(t *testing.T) {
	sm := pcode.NewSpaceManager()
	code := sm.AddSpace(&pcode.AddrSpace{Name: "code", ByteSize: 8})
	uniqueSpace := sm.AddSpace(&pcode.AddrSpace{Name: "unique", ByteSize: 8, IsUnique: true})
	constSpace := sm.AddSpace(&pcode.AddrSpace{Name: "const", ByteSize: 8, IsConstant: true})

	fd := funcdata.New("f", sm, 16)
	blk := fd.Graph.AddBlock()

	whole := pcode.NewVarnode(0, pcode.NewAddress(code, 0x10), 4)
	sub := fd.CreateOp(blk, pcode.NewAddress(code, 0x10), pcode.OpSubpiece, 2)
	fd.OpSetInput(sub, 0, whole)
	shiftBytes := pcode.NewVarnode(1, pcode.NewAddress(constSpace, 1), 4)
	shiftBytes.Role = pcode.RoleConstant
	fd.OpSetInput(sub, 1, shiftBytes)
	subOut := pcode.NewVarnode(2, pcode.NewAddress(uniqueSpace, 0), 1)
	fd.OpSetOutput(sub, subOut)

	cmp := fd.CreateOp(blk, pcode.NewAddress(code, 0x14), pcode.OpIntEqual, 2)
	fd.OpSetInput(cmp, 0, subOut)
	cst := pcode.NewVarnode(3, pcode.NewAddress(constSpace, 0xff), 1)
	cst.Role = pcode.RoleConstant
	fd.OpSetInput(cmp, 1, cst)

	// seed the trace on subOut itself (byte-1's own frame, lowBit 0) so
	// traceBackward is the path that exercises the SUBPIECE shift.
	changed, err := SubvarFlow(fd, subOut, 0xff)
	if err != nil {
		t.Fatalf("SubvarFlow: %v", err)
	}
	if !changed {
		t.Fatalf("expected SubvarFlow to find the terminator on the SUBPIECE output")
	}
}

// TestSubvarFlowRejectsAddAboveBitZero is §4.7's ADD/MULT condition: the
// tracked sub-field (bits [8,16)) does not start at bit 0, so a carry from
// the low byte could leak into it and the trace must reject the ADD.
func TestSubvarFlowRejectsAddAboveBitZero(t *testing.T) {
	sm := pcode.NewSpaceManager()
	code := sm.AddSpace(&pcode.AddrSpace{Name: "code", ByteSize: 8})
	uniqueSpace := sm.AddSpace(&pcode.AddrSpace{Name: "unique", ByteSize: 8, IsUnique: true})
	constSpace := sm.AddSpace(&pcode.AddrSpace{Name: "const", ByteSize: 8, IsConstant: true})

	fd := funcdata.New("f", sm, 16)
	blk := fd.Graph.AddBlock()

	seed := pcode.NewVarnode(0, pcode.NewAddress(code, 0x10), 4)
	one := pcode.NewVarnode(1, pcode.NewAddress(constSpace, 1), 4)
	one.Role = pcode.RoleConstant
	addOp := fd.CreateOp(blk, pcode.NewAddress(code, 0x10), pcode.OpIntAdd, 2)
	fd.OpSetInput(addOp, 0, seed)
	fd.OpSetInput(addOp, 1, one)
	addOut := pcode.NewVarnode(2, pcode.NewAddress(uniqueSpace, 0), 4)
	fd.OpSetOutput(addOp, addOut)

	cmp := fd.CreateOp(blk, pcode.NewAddress(code, 0x14), pcode.OpIntEqual, 2)
	fd.OpSetInput(cmp, 0, addOut)
	cst := pcode.NewVarnode(3, pcode.NewAddress(constSpace, 0xff), 4)
	cst.Role = pcode.RoleConstant
	fd.OpSetInput(cmp, 1, cst)

	changed, err := SubvarFlow(fd, addOut, 0xff00)
	if err != nil {
		t.Fatalf("SubvarFlow: %v", err)
	}
	if changed {
		t.Fatalf("expected SubvarFlow to reject an ADD feeding a sub-field that doesn't start at bit 0")
	}
}

func TestSubvarFlowFailsWithZeroMask(t *testing.T) {
	sm := pcode.NewSpaceManager()
	code := sm.AddSpace(&pcode.AddrSpace{Name: "code", ByteSize: 8})
	fd := funcdata.New("f", sm, 16)
	seed := pcode.NewVarnode(0, pcode.NewAddress(code, 0x10), 4)

	changed, err := SubvarFlow(fd, seed, 0)
	if err != nil || changed {
		t.Fatalf("expected a zero mask to be rejected without staging anything")
	}
}

package rewrite

import (
	"testing"

	"github.com/sentra-lang/pcodec/internal/funcdata"
	"github.com/sentra-lang/pcodec/internal/pcode"
	"github.com/sentra-lang/pcodec/internal/types"
)

func TestSplitCopyBreaksStructIntoFieldCopies(t *testing.T) {
	sm := pcode.NewSpaceManager()
	code := sm.AddSpace(&pcode.AddrSpace{Name: "code", ByteSize: 8})
	fd := funcdata.New("f", sm, 16)
	blk := fd.Graph.AddBlock()

	i4 := fd.Types.GetBase(4, types.TypeInt)
	pairType, err := fd.Types.GetTypeStruct("Pair", []types.FieldSpec{
		{Offset: 0, Name: "a", Type: i4},
		{Offset: 4, Name: "b", Type: i4},
	}, 8, 4)
	if err != nil {
		t.Fatalf("GetTypeStruct: %v", err)
	}

	src := pcode.NewVarnode(0, pcode.NewAddress(code, 0x1000), 8)
	dst := pcode.NewVarnode(1, pcode.NewAddress(code, 0x2000), 8)
	cp := fd.CreateOp(blk, pcode.NewAddress(code, 0x10), pcode.OpCopy, 1)
	fd.OpSetInput(cp, 0, src)
	fd.OpSetOutput(cp, dst)

	changed, err := SplitCopy(fd, cp, pairType, pairType)
	if err != nil {
		t.Fatalf("SplitCopy: %v", err)
	}
	if !changed {
		t.Fatalf("expected SplitCopy to split an identical-shape struct copy")
	}
	if !cp.IsDead() {
		t.Fatalf("expected the original COPY to be destroyed")
	}

	var copies int
	for _, o := range blk.Ops {
		if o.Opcode == pcode.OpCopy && !o.IsDead() {
			copies++
		}
	}
	if copies != 2 {
		t.Fatalf("expected 2 live field COPYs, got %d", copies)
	}
}

func TestSplitCopyRejectsIncompatibleClasses(t *testing.T) {
	sm := pcode.NewSpaceManager()
	code := sm.AddSpace(&pcode.AddrSpace{Name: "code", ByteSize: 8})
	fd := funcdata.New("f", sm, 16)
	blk := fd.Graph.AddBlock()

	i4 := fd.Types.GetBase(4, types.TypeInt)
	arr := fd.Types.GetTypeArray(i4, 2)

	src := pcode.NewVarnode(0, pcode.NewAddress(code, 0x1000), 8)
	dst := pcode.NewVarnode(1, pcode.NewAddress(code, 0x2000), 8)
	cp := fd.CreateOp(blk, pcode.NewAddress(code, 0x10), pcode.OpCopy, 1)
	fd.OpSetInput(cp, 0, src)
	fd.OpSetOutput(cp, dst)

	changed, err := SplitCopy(fd, cp, i4, arr)
	if err != nil {
		t.Fatalf("SplitCopy: %v", err)
	}
	if changed {
		t.Fatalf("expected primitive -> array-of-primitives to be rejected as incompatible")
	}
}

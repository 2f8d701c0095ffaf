package funcdata

import (
	"errors"
	"testing"

	"github.com/sentra-lang/pcodec/internal/pcode"
)

func testSpaces() *pcode.SpaceManager {
	sm := pcode.NewSpaceManager()
	sm.AddSpace(&pcode.AddrSpace{Name: "code", ByteSize: 8})
	return sm
}

func TestCreateDestroyOpRoundTrip(t *testing.T) {
	fd := New("f", testSpaces(), 16)
	code, _ := fd.Spaces.GetSpace("code")
	op := fd.CreateOp(nil, pcode.NewAddress(code, 0x10), pcode.OpCopy, 1)

	if op.IsDead() {
		t.Fatalf("CreateOp should mark the op alive")
	}
	fd.OpSetOpcode(op, pcode.OpIntAdd)
	if op.Opcode != pcode.OpIntAdd {
		t.Fatalf("OpSetOpcode did not change the opcode")
	}
	fd.Bank.MarkDead(op)
	if err := fd.DestroyOp(op); err != nil {
		t.Fatalf("DestroyOp: %v", err)
	}
	if _, ok := fd.Bank.FindOp(op.Seq); ok {
		t.Fatalf("destroyed op must not be findable")
	}
}

func TestDestroyOpRejectsLiveDescendants(t *testing.T) {
	fd := New("f", testSpaces(), 16)
	code, _ := fd.Spaces.GetSpace("code")
	def := fd.CreateOp(nil, pcode.NewAddress(code, 0x10), pcode.OpCopy, 1)
	v := pcode.NewVarnode(0, pcode.NewAddress(code, 0x10), 4)
	fd.OpSetOutput(def, v)

	use := fd.CreateOp(nil, pcode.NewAddress(code, 0x14), pcode.OpCopy, 1)
	fd.OpSetInput(use, 0, v)

	if err := fd.DestroyOp(def); err == nil {
		t.Fatalf("expected DestroyOp to reject an op whose output still has descendants")
	}
}

func TestIOPRegistryRoundTrip(t *testing.T) {
	fd := New("f", testSpaces(), 16)
	code, _ := fd.Spaces.GetSpace("code")
	op := fd.CreateOp(nil, pcode.NewAddress(code, 0x10), pcode.OpCallother, 1)

	off := fd.RegisterIOP(op)
	got, ok := fd.ResolveIOP(off)
	if !ok || got != op {
		t.Fatalf("expected ResolveIOP to recover the registered op")
	}
}

type recordingAction struct {
	name string
	ran  *[]string
	fail bool
}

func (a recordingAction) Name() string { return a.name }
func (a recordingAction) Apply(fd *Funcdata) error {
	*a.ran = append(*a.ran, a.name)
	if a.fail {
		return errTestAction
	}
	return nil
}

var errTestAction = errors.New("boom")

func TestRunActionsStopsOnFirstError(t *testing.T) {
	fd := New("f", testSpaces(), 16)
	var ran []string
	fd.Schedule(
		recordingAction{name: "first", ran: &ran},
		recordingAction{name: "second", ran: &ran, fail: true},
		recordingAction{name: "third", ran: &ran},
	)

	err := fd.RunActions()
	if err == nil {
		t.Fatalf("expected RunActions to surface the failing action's error")
	}
	if len(ran) != 2 {
		t.Fatalf("expected exactly 2 actions to run before stopping, got %v", ran)
	}
}

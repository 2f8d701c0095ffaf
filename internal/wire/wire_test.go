package wire

import (
	"testing"

	"github.com/sentra-lang/pcodec/internal/types"
)

// TestRoundTripStructWithPointerField exercises §8's round-trip
// property ("encode(t).decode() is structurally equal to t") across a
// struct whose own field points back at itself, decoded into a fresh
// TypeFactory so the dedup cache can't trivially short-circuit the test.
func TestRoundTripStructWithPointerField(t *testing.T) {
	src := types.NewFactory(8)
	i4 := src.GetBase(4, types.TypeInt)
	shell := src.NewIncompleteStruct("Node")
	selfPtr := src.GetTypePointer(shell, 8)
	if err := src.SetFields(shell, []types.FieldSpec{
		{Offset: 0, Name: "value", Type: i4},
		{Offset: 8, Name: "next", Type: selfPtr},
	}, 16, 8); err != nil {
		t.Fatalf("SetFields: %v", err)
	}
	node := shell

	payload, err := Encode(src, node)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	dst := types.NewFactory(8)
	decoded, err := Decode(dst, payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.Meta != types.TypeStruct || decoded.Name != "Node" {
		t.Fatalf("decoded = %+v, want a struct named Node", decoded)
	}
	if decoded.Size != node.Size || len(decoded.Fields) != len(node.Fields) {
		t.Fatalf("decoded shape mismatch: got size=%d fields=%d, want size=%d fields=%d",
			decoded.Size, len(decoded.Fields), node.Size, len(node.Fields))
	}
	if decoded.Fields[1].Type.Meta != types.TypePtr {
		t.Fatalf("decoded second field should be a pointer, got %s", decoded.Fields[1].Type.Meta)
	}
}

func TestDecodeRejectsIncompatibleMajorVersion(t *testing.T) {
	tf := types.NewFactory(8)
	payload := []byte(`{"version":"v2.0.0","types":[{"meta":0,"size":0}]}`)
	if _, err := Decode(tf, payload); err == nil {
		t.Fatalf("expected a major-version mismatch to be rejected")
	}
}

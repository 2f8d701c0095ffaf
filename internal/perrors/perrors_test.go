package perrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfFindsWrappedPcodecError(t *testing.T) {
	base := New(KindInvariant, "duplicate type id")
	wrapped := fmt.Errorf("decode: %w", base)

	kind, ok := KindOf(wrapped)
	if !ok {
		t.Fatalf("KindOf did not find the wrapped PcodecError")
	}
	if kind != KindInvariant {
		t.Fatalf("kind = %v, want %v", kind, KindInvariant)
	}
}

func TestKindOfFalseForPlainError(t *testing.T) {
	if _, ok := KindOf(errors.New("plain")); ok {
		t.Fatalf("KindOf should not find a Kind in a plain error")
	}
}

func TestInAttachesContextWithoutMutatingOriginal(t *testing.T) {
	base := Newf(KindEmulation, "unimplemented op %s", "NEW")
	located := base.In("decompile_main", "0x1000")

	if base.Func != "" || base.Context != "" {
		t.Fatalf("New/Newf result was mutated by In: %+v", base)
	}
	if located.Func != "decompile_main" || located.Context != "0x1000" {
		t.Fatalf("In did not attach context: %+v", located)
	}
	if located.Error() == base.Error() {
		t.Fatalf("located error string should include context")
	}
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("underlying failure")
	pe := Wrap(KindAnalysisFailure, cause, "rule aborted")
	if !errors.Is(pe, cause) {
		t.Fatalf("errors.Is should see through Wrap to its cause")
	}
}

package types

import "testing"

// TestStructDedupAndSubPtrStruct is spec.md §8 scenario 2: calling
// GetTypeStruct("S") twice with identical field lists must return the
// same object, report NumDepend() = 2, and give the self-pointer field a
// SUB_PTR_STRUCT sub-meta-type.
func TestStructDedupAndSubPtrStruct(t *testing.T) {
	f := NewFactory(16)
	i4 := f.GetBase(4, TypeInt)

	build := func() (*Datatype, error) {
		shell := f.NewIncompleteStruct("S")
		selfPtr := f.GetTypePointer(shell, 4)
		return shell, f.SetFields(shell, []FieldSpec{
			{Offset: 0, Name: "n", Type: i4},
			{Offset: 4, Name: "next", Type: selfPtr},
		}, 8, 4)
	}

	s1, err := build()
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	s1 = f.insert(s1)

	s2Shell, err := build()
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	s2 := f.insert(s2Shell)

	if s1 != s2 {
		t.Fatalf("expected identical Datatype object on repeated GetTypeStruct, got distinct objects")
	}
	if got := s1.NumDepend(); got != 2 {
		t.Fatalf("expected NumDepend() = 2, got %d", got)
	}
	if s1.Fields[1].Type.Sub != SubPtrStruct {
		t.Fatalf("expected self-pointer field to carry SUB_PTR_STRUCT, got %v", s1.Fields[1].Type.Sub)
	}
}

// TestVariableLengthIDDistinctEntries is spec.md §8 scenario 3: two
// variable-length instances of type "blob" at sizes 16 and 32 must have
// distinct factory entries but an equal unsized id.
func TestVariableLengthIDDistinctEntries(t *testing.T) {
	f := NewFactory(16)
	small := f.GetVariableLength("blob", TypeUnknown, 16)
	large := f.GetVariableLength("blob", TypeUnknown, 32)

	if small == large {
		t.Fatalf("expected distinct factory entries for different sizes")
	}
	if small.ID == large.ID {
		t.Fatalf("expected distinct sized ids, got equal: %d", small.ID)
	}
	if GetUnsizedID(small.Name) != GetUnsizedID(large.Name) {
		t.Fatalf("expected an equal unsized id for both instances")
	}

	// re-requesting the same size must return the same object (dedup),
	// not a fresh clone.
	again := f.GetVariableLength("blob", TypeUnknown, 16)
	if again != small {
		t.Fatalf("expected GetVariableLength to dedup on repeated identical size")
	}
}

func TestGetBasePrimitiveCacheReused(t *testing.T) {
	f := NewFactory(16)
	a := f.GetBase(4, TypeInt)
	b := f.GetBase(4, TypeInt)
	if a != b {
		t.Fatalf("expected primitive cache to return the same object for repeated (size,meta)")
	}
	if !a.IsCore() {
		t.Fatalf("expected primitive atom to be flagged core")
	}
}

func TestSetFieldsRejectsOverlapAsWarning(t *testing.T) {
	f := NewFactory(16)
	i4 := f.GetBase(4, TypeInt)
	shell := f.NewIncompleteStruct("Overlap")
	err := f.SetFields(shell, []FieldSpec{
		{Offset: 0, Name: "a", Type: i4},
		{Offset: 2, Name: "b", Type: i4}, // overlaps a
	}, 8, 4)
	if err != nil {
		t.Fatalf("overlapping field should be recovered with a warning, not an error: %v", err)
	}
	if len(shell.Fields) != 1 {
		t.Fatalf("expected the overlapping field to be dropped, got %d fields", len(shell.Fields))
	}
	if len(shell.Warnings) == 0 {
		t.Fatalf("expected a warning to be recorded for the dropped field")
	}
}

func TestGetExactPieceCrossesStructField(t *testing.T) {
	f := NewFactory(16)
	i4 := f.GetBase(4, TypeInt)
	i8 := f.GetBase(8, TypeInt)
	s, err := f.GetTypeStruct("Pair", []FieldSpec{
		{Offset: 0, Name: "a", Type: i4},
		{Offset: 4, Name: "b", Type: i8},
	}, 12, 4)
	if err != nil {
		t.Fatalf("GetTypeStruct: %v", err)
	}

	piece, ok := f.GetExactPiece(s, 4, 8)
	if !ok || piece != i8 {
		t.Fatalf("expected piece at offset 4 size 8 to resolve to field b's type")
	}

	if _, ok := f.GetExactPiece(s, 2, 4); ok {
		t.Fatalf("expected a piece crossing the a/b boundary to fail")
	}
}

func TestDependentOrderPutsDependenciesFirst(t *testing.T) {
	f := NewFactory(16)
	i4 := f.GetBase(4, TypeInt)
	s, err := f.GetTypeStruct("Node", []FieldSpec{
		{Offset: 0, Name: "v", Type: i4},
	}, 4, 4)
	if err != nil {
		t.Fatalf("GetTypeStruct: %v", err)
	}
	p := f.GetTypePointer(s, 8)

	order := f.DependentOrder([]*Datatype{p})
	idxS, idxP := -1, -1
	for i, d := range order {
		if d == s {
			idxS = i
		}
		if d == p {
			idxP = i
		}
	}
	if idxS == -1 || idxP == -1 || idxS >= idxP {
		t.Fatalf("expected Node to precede its pointer in dependent order, got %v", order)
	}
}

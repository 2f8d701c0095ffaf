// Package types implements the content-deduplicated data-type lattice:
// TypeFactory canonically stores Datatypes so that structurally equal
// types always share one object, supporting pointer relativity, union
// field resolution, and partial (sub-byte/sub-field) types.
package types

import "fmt"

// Metatype is the coarse kind of a Datatype.
type Metatype int

const (
	TypeVoid Metatype = iota
	TypeBool
	TypeInt
	TypeUint
	TypeFloat
	TypeChar
	TypeCode
	TypePtr
	TypePtrRel
	TypeArray
	TypeStruct
	TypeUnion
	TypeEnum
	TypeSpacebase
	TypeUnknown
	TypePartialStruct
	TypePartialUnion
	TypePartialEnum
)

func (m Metatype) String() string {
	names := [...]string{"void", "bool", "int", "uint", "float", "char", "code", "ptr",
		"ptr-rel", "array", "struct", "union", "enum", "spacebase", "unknown",
		"partial-struct", "partial-union", "partial-enum"}
	if int(m) < len(names) {
		return names[m]
	}
	return "?"
}

// SubMetatype refines Metatype into a propagation order: lower values
// sort earlier (more specific first), per spec.md §3.
type SubMetatype int

const (
	SubBool SubMetatype = iota
	SubEnum
	SubChar
	SubCode
	SubInt
	SubUint
	SubPtrStruct // pointer to a multi-field struct: most specific pointer form
	SubPtr
	SubPtrRel
	SubArray
	SubStruct
	SubUnion
	SubFloat
	SubSpacebase
	SubPartial
	SubUnknown
	SubVoid
)

// Flags is the Datatype-level boolean-property bitset.
type Flags uint32

const (
	FlagCore Flags = 1 << iota
	FlagVariableLength
	FlagOpaqueString
	FlagPtrToArray
	FlagIsPtrRel
	FlagHasStripped
	FlagNeedsResolution
	FlagIncomplete
	FlagCoreType
	FlagForceDisplayFormat
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Field is one named member of a composite (struct/union).
type Field struct {
	Offset int
	ID     uint64
	Name   string
	Type   *Datatype
}

// Warning is a recorded corrective decision the factory made about a
// Datatype (overlapping fields dropped, duplicate enum values, ...).
type Warning struct {
	Message string
}

// Datatype is a member of the type lattice.
type Datatype struct {
	Meta Metatype
	Sub  SubMetatype

	Size      int
	Align     int
	AlignSize int // Size rounded up to Align

	ID   uint64
	Name string

	Typedef *Datatype // alias target, nil if not a typedef

	Flags Flags

	// composite (struct/union/partial-struct/partial-union)
	Fields []Field

	// pointer / array
	Element *Datatype

	// ptr-rel
	PtrRelContainer *Datatype
	PtrRelOffset    int
	Stripped        *Datatype // formal representable fallback for an ephemeral ptr-rel

	// partial-*
	PartialContainer *Datatype
	PartialOffset    int

	// enum
	EnumNames  map[int64]string
	EnumValues map[string]int64

	Warnings []Warning
}

func (d *Datatype) String() string {
	if d.Name != "" {
		return d.Name
	}
	return fmt.Sprintf("<%s size=%d>", d.Meta, d.Size)
}

// IsCore reports whether d is one of the factory's immutable primitive
// atoms — these can never be destroyed via TypeFactory.DestroyType.
func (d *Datatype) IsCore() bool { return d.Flags.Has(FlagCore) }

func (d *Datatype) addWarning(msg string, args ...interface{}) {
	d.Warnings = append(d.Warnings, Warning{Message: fmt.Sprintf(msg, args...)})
}

// NumDepend returns the number of Datatypes d structurally depends on,
// directly: the typedef target (if any) plus each component type
// (element, field types, container). Used by testable property scenario
// 2 (struct ↔ self-pointer field dependency count).
func (d *Datatype) NumDepend() int {
	n := 0
	if d.Typedef != nil {
		n++
	}
	if d.Element != nil {
		n++
	}
	if d.PartialContainer != nil {
		n++
	}
	if d.PtrRelContainer != nil {
		n++
	}
	n += len(d.Fields)
	return n
}

// dependsOn reports whether d transitively depends on other — used by
// dependentOrder's testable invariant (u never depends on t appearing
// before it).
func (d *Datatype) dependsOn(other *Datatype, seen map[*Datatype]bool) bool {
	if d == other {
		return true
	}
	if seen[d] {
		return false
	}
	seen[d] = true
	if d.Typedef != nil && d.Typedef.dependsOn(other, seen) {
		return true
	}
	if d.Element != nil && d.Element.dependsOn(other, seen) {
		return true
	}
	if d.PartialContainer != nil && d.PartialContainer.dependsOn(other, seen) {
		return true
	}
	if d.PtrRelContainer != nil && d.PtrRelContainer.dependsOn(other, seen) {
		return true
	}
	for _, f := range d.Fields {
		if f.Type != nil && f.Type.dependsOn(other, seen) {
			return true
		}
	}
	return false
}

func (d *Datatype) DependsOn(other *Datatype) bool {
	return d.dependsOn(other, make(map[*Datatype]bool))
}

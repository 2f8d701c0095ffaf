package types

import (
	"fmt"
	"hash/fnv"
	"sort"

	"golang.org/x/exp/slices"
)

// FieldSpec is the caller-facing description of one composite field
// before it is installed (offset, name, type); Field adds the stable ID
// once the factory has assigned one.
type FieldSpec struct {
	Offset int
	Name   string
	Type   *Datatype
}

// TypeFactory keeps a "by structure" index (byStructure): types are bucketed
// by a cheap structural hash, and compareDependency is only run to break
// ties within a bucket — the design note's "precomputed hash plus a
// structural comparator used only on collisions, not a persistent
// red-black key."
type TypeFactory struct {
	byStructure map[uint64][]*Datatype
	byNameID    map[string]*Datatype

	primitiveCache [9][int(TypeFloat) + 1]*Datatype // [size 0..8][meta 0..TypeFloat]
	size10Float    *Datatype
	size16Float    *Datatype
	notCharByte    *Datatype // size-1 "not-char" integer

	maxBaseTypeSize int
	nextAutoID      uint64
}

func NewFactory(maxBaseTypeSize int) *TypeFactory {
	f := &TypeFactory{
		byStructure:     make(map[uint64][]*Datatype),
		byNameID:        make(map[string]*Datatype),
		maxBaseTypeSize: maxBaseTypeSize,
		nextAutoID:      1,
	}
	return f
}

// --- hashing / comparison ----------------------------------------------------

func fnvHash(parts ...interface{}) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		fmt.Fprintf(h, "%v|", p)
	}
	return h.Sum64()
}

// structuralHash is the cheap bucket key; two structurally-equal types
// always land in the same bucket, but the converse need not hold — that's
// resolved by compareDependency within the bucket.
func structuralHash(d *Datatype) uint64 {
	switch d.Meta {
	case TypePtr, TypePtrRel, TypeArray:
		elemID := uint64(0)
		if d.Element != nil {
			elemID = structuralHash(d.Element)
		}
		return fnvHash(d.Meta, d.Size, elemID, d.PtrRelOffset)
	case TypeStruct, TypeUnion, TypePartialStruct, TypePartialUnion:
		parts := []interface{}{d.Meta, d.Size, d.Name, len(d.Fields)}
		for _, fl := range d.Fields {
			parts = append(parts, fl.Offset, fl.Name)
		}
		return fnvHash(parts...)
	case TypeEnum, TypePartialEnum:
		return fnvHash(d.Meta, d.Size, d.Name, len(d.EnumNames))
	default:
		return fnvHash(d.Meta, d.Size, d.Name)
	}
}

// pairKey identifies an (a, b) comparison in flight, so self-referential
// composites (a struct with a pointer-to-itself field) don't recurse
// forever: once a pair is already being compared higher up the call
// stack, it is coinductively assumed equal.
type pairKey struct{ a, b *Datatype }

// compareDependency is the deep structural comparator: 0 means
// structurally equal (candidates for dedup).
func compareDependency(a, b *Datatype) int {
	return compareDependencyRec(a, b, make(map[pairKey]bool))
}

func compareDependencyRec(a, b *Datatype, inFlight map[pairKey]bool) int {
	if a == b {
		return 0
	}
	if a.Meta != b.Meta {
		return int(a.Meta) - int(b.Meta)
	}
	if a.Size != b.Size {
		return a.Size - b.Size
	}
	key := pairKey{a, b}
	if inFlight[key] {
		return 0
	}
	inFlight[key] = true
	defer delete(inFlight, key)

	switch a.Meta {
	case TypePtr, TypePtrRel, TypeArray:
		if a.PtrRelOffset != b.PtrRelOffset {
			return a.PtrRelOffset - b.PtrRelOffset
		}
		if a.Element == nil || b.Element == nil {
			if a.Element == b.Element {
				return 0
			}
			if a.Element == nil {
				return -1
			}
			return 1
		}
		return compareDependencyRec(a.Element, b.Element, inFlight)
	case TypeStruct, TypeUnion, TypePartialStruct, TypePartialUnion:
		if a.Name != b.Name {
			if a.Name < b.Name {
				return -1
			}
			return 1
		}
		if len(a.Fields) != len(b.Fields) {
			return len(a.Fields) - len(b.Fields)
		}
		for i := range a.Fields {
			fa, fb := a.Fields[i], b.Fields[i]
			if fa.Offset != fb.Offset {
				return fa.Offset - fb.Offset
			}
			if fa.Name != fb.Name {
				if fa.Name < fb.Name {
					return -1
				}
				return 1
			}
			if c := compareDependencyRec(fa.Type, fb.Type, inFlight); c != 0 {
				return c
			}
		}
		return 0
	case TypeEnum, TypePartialEnum:
		if a.Name != b.Name {
			if a.Name < b.Name {
				return -1
			}
			return 1
		}
		return 0
	default:
		if a.Name != b.Name {
			if a.Name < b.Name {
				return -1
			}
			return 1
		}
		return 0
	}
}

// findExisting looks for a structurally-equal Datatype already in the
// factory, returning nil if none is found.
func (f *TypeFactory) findExisting(candidate *Datatype) *Datatype {
	bucket := f.byStructure[structuralHash(candidate)]
	for _, d := range bucket {
		if compareDependency(d, candidate) == 0 {
			return d
		}
	}
	return nil
}

// insert enforces dedup at insertion: if an existing structurally-equal
// type is found, it is returned instead of d; otherwise d is installed
// into both indices and returned.
func (f *TypeFactory) insert(d *Datatype) *Datatype {
	if existing := f.findExisting(d); existing != nil {
		return existing
	}
	h := structuralHash(d)
	f.byStructure[h] = append(f.byStructure[h], d)
	f.byNameID[nameIDKey(d.Name, d.ID)] = d
	return d
}

func nameIDKey(name string, id uint64) string {
	return fmt.Sprintf("%s\x00%d", name, id)
}

func baseID(name string) uint64 {
	if name == "" {
		return 0
	}
	return fnvHash("typeid", name)
}

// hashSize mixes a base id with a size, the uniquification rule for
// variable-length types (spec.md §3, §8 testable property).
func hashSize(base uint64, size int) uint64 {
	return fnvHash("sizeid", base, size)
}

// --- primitive atoms ----------------------------------------------------

// GetBase returns the cached primitive atom for (size, meta), creating it
// on first request. Sizes beyond maxBaseTypeSize fall back to a byte
// array of TypeUnknown elements.
func (f *TypeFactory) GetBase(size int, meta Metatype) *Datatype {
	if size > 0 && size <= 8 && meta <= TypeFloat {
		if cached := f.primitiveCache[size][meta]; cached != nil {
			return cached
		}
	}
	if size == 10 && meta == TypeFloat && f.size10Float != nil {
		return f.size10Float
	}
	if size == 16 && meta == TypeFloat && f.size16Float != nil {
		return f.size16Float
	}
	if size == 1 && meta == TypeUint && f.notCharByte != nil {
		return f.notCharByte
	}

	if size > f.maxBaseTypeSize {
		elem := f.GetBase(1, TypeUnknown)
		return f.GetTypeArray(elem, size)
	}

	d := &Datatype{Meta: meta, Size: size, Align: size, AlignSize: size, Flags: FlagCore}
	d.AlignSize = alignUp(size, d.Align)
	d = f.insert(d)

	if size > 0 && size <= 8 && meta <= TypeFloat {
		f.primitiveCache[size][meta] = d
	}
	if size == 10 && meta == TypeFloat {
		f.size10Float = d
	}
	if size == 16 && meta == TypeFloat {
		f.size16Float = d
	}
	if size == 1 && meta == TypeUint {
		f.notCharByte = d
	}
	return d
}

func alignUp(size, align int) int {
	if align <= 1 {
		return size
	}
	rem := size % align
	if rem == 0 {
		return size
	}
	return size + (align - rem)
}

// --- variable-length types -----------------------------------------------

// GetVariableLength returns (creating if needed) an instance of a
// variable-length type identified by name, at the given size. Each
// distinct size gets its own factory entry (id = hashSize(base, size));
// GetUnsizedID recovers the shared base id for callers that need to
// recognize "two instances of the same variable-length type" regardless
// of which size each happens to be.
func (f *TypeFactory) GetVariableLength(name string, meta Metatype, size int) *Datatype {
	base := baseID(name)
	d := &Datatype{
		Meta: meta, Size: size, Align: 1, AlignSize: size,
		Name: name, ID: hashSize(base, size), Flags: FlagVariableLength,
	}
	return f.insert(d)
}

// GetUnsizedID returns the size-independent base id shared by every
// instance of the variable-length type named name.
func GetUnsizedID(name string) uint64 {
	return baseID(name)
}

// --- pointers / arrays -------------------------------------------------

func subMetaForPointee(elem *Datatype) SubMetatype {
	if elem != nil && (elem.Meta == TypeStruct || elem.Meta == TypeUnion) && len(elem.Fields) > 1 {
		return SubPtrStruct
	}
	return SubPtr
}

// GetTypePointer returns (creating if needed) a pointer of the given
// byte width to element.
func (f *TypeFactory) GetTypePointer(element *Datatype, wordSize int) *Datatype {
	d := &Datatype{Meta: TypePtr, Sub: subMetaForPointee(element), Size: wordSize, Align: wordSize, Element: element}
	d.AlignSize = alignUp(d.Size, d.Align)
	return f.insert(d)
}

// GetTypeArray returns an array of numElements copies of element.
func (f *TypeFactory) GetTypeArray(element *Datatype, numElements int) *Datatype {
	size := 0
	if element != nil {
		size = element.Size * numElements
	}
	d := &Datatype{Meta: TypeArray, Sub: SubArray, Size: size, Align: elemAlign(element), Element: element}
	d.AlignSize = alignUp(d.Size, d.Align)
	return f.insert(d)
}

func elemAlign(element *Datatype) int {
	if element == nil || element.Align == 0 {
		return 1
	}
	return element.Align
}

// GetTypePointerRel returns a pointer with a fixed byte offset into a
// named containing type. If name == "", the type is ephemeral and must
// carry a Stripped equivalent.
func (f *TypeFactory) GetTypePointerRel(element *Datatype, wordSize int, container *Datatype, offset int, name string) *Datatype {
	d := &Datatype{
		Meta: TypePtrRel, Sub: SubPtrRel, Size: wordSize, Align: wordSize,
		Element: element, PtrRelContainer: container, PtrRelOffset: offset, Name: name,
		Flags: FlagIsPtrRel,
	}
	d.AlignSize = alignUp(d.Size, d.Align)
	if name == "" {
		d.Stripped = f.GetTypePointer(element, wordSize)
		d.Flags |= FlagHasStripped
	}
	return f.insert(d)
}

// GetTypePointerStripArray returns a pointer to element's array base type
// rather than to the array itself, flagged FlagPtrToArray — used when a
// pointer into the middle of an array must still read as "pointer to the
// array's element type" for display purposes.
func (f *TypeFactory) GetTypePointerStripArray(element *Datatype, wordSize int) *Datatype {
	base := element
	if element != nil && element.Meta == TypeArray {
		base = element.Element
	}
	d := f.GetTypePointer(base, wordSize)
	out := *d
	out.Flags |= FlagPtrToArray
	// insert's dedup ignores Flags and would hand back the unflagged d,
	// so the flagged pointer gets its own entry in the structure bucket.
	h := structuralHash(&out)
	for _, cand := range f.byStructure[h] {
		if cand.Flags.Has(FlagPtrToArray) && compareDependency(cand, &out) == 0 {
			return cand
		}
	}
	f.byStructure[h] = append(f.byStructure[h], &out)
	return &out
}

// ResizePointer returns a pointer identical to p but with a new byte
// width — used when a pointer's addressing mode changes under
// lane-divide or segment handling.
func (f *TypeFactory) ResizePointer(p *Datatype, newSize int) *Datatype {
	if p.Meta != TypePtr && p.Meta != TypePtrRel {
		return p
	}
	out := *p
	out.Size = newSize
	out.Align = newSize
	out.AlignSize = alignUp(newSize, newSize)
	return f.insert(&out)
}

// --- composites ----------------------------------------------------------

// NewIncompleteStruct/Union creates a named composite shell with no
// fields yet; SetFields must be called before it is usable.
func (f *TypeFactory) NewIncompleteStruct(name string) *Datatype {
	return &Datatype{Meta: TypeStruct, Sub: SubStruct, Name: name, ID: baseID(name), Flags: FlagIncomplete}
}

func (f *TypeFactory) NewIncompleteUnion(name string) *Datatype {
	return &Datatype{Meta: TypeUnion, Sub: SubUnion, Name: name, ID: baseID(name), Flags: FlagIncomplete}
}

// SetFields is legal only while composite is incomplete. It atomically
// assigns fields (sorted by offset), clears FlagIncomplete, re-indexes any
// pointer that cached a stale sub-metatype against this composite, and
// re-inserts composite under its new structural key. Overlapping fields
// are recovered from by dropping the later one and recording a warning;
// duplicate/out-of-range fields are reported as errors.
func (f *TypeFactory) SetFields(composite *Datatype, fields []FieldSpec, size, alignment int) error {
	if !composite.Flags.Has(FlagIncomplete) {
		return fmt.Errorf("types: SetFields called on a complete type %q", composite.Name)
	}
	sorted := append([]FieldSpec(nil), fields...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	var accepted []Field
	nextFree := 0
	seenOffsets := make(map[int]bool)
	for _, spec := range sorted {
		if spec.Type == nil || spec.Type.Meta == TypeVoid {
			return fmt.Errorf("types: field %q of %q has a void type", spec.Name, composite.Name)
		}
		if spec.Offset < 0 || spec.Offset+spec.Type.Size > size {
			return fmt.Errorf("types: field %q of %q is out of range", spec.Name, composite.Name)
		}
		if seenOffsets[spec.Offset] {
			return fmt.Errorf("types: duplicate field offset %d in %q", spec.Offset, composite.Name)
		}
		if composite.Meta == TypeStruct && spec.Offset < nextFree {
			composite.addWarning("dropped overlapping field %q at offset %d in %q", spec.Name, spec.Offset, composite.Name)
			continue
		}
		seenOffsets[spec.Offset] = true
		accepted = append(accepted, Field{Offset: spec.Offset, ID: baseID(spec.Name), Name: spec.Name, Type: spec.Type})
		if composite.Meta == TypeStruct {
			nextFree = spec.Offset + spec.Type.Size
		}
	}

	composite.Fields = accepted
	composite.Size = size
	composite.Align = alignment
	composite.AlignSize = alignUp(size, alignment)
	composite.Flags &^= FlagIncomplete

	f.reindexPointersTo(composite)
	f.reinsertUnderNewKey(composite)
	f.resolveIncompleteTypedefsFor(composite)
	return nil
}

// reindexPointersTo updates the sub-metatype of any previously-created
// pointer to composite now that its field count is known (a pointer
// created while composite was still incomplete may have cached SubPtr
// instead of SubPtrStruct, or vice versa).
func (f *TypeFactory) reindexPointersTo(composite *Datatype) {
	want := subMetaForPointee(composite)
	for _, bucket := range f.byStructure {
		for _, d := range bucket {
			if d.Meta == TypePtr && d.Element == composite && d.Sub != want {
				d.Sub = want
			}
		}
	}
}

// reinsertUnderNewKey re-buckets composite now that its structural hash
// has changed (fields were just assigned).
func (f *TypeFactory) reinsertUnderNewKey(d *Datatype) {
	for h, bucket := range f.byStructure {
		idx := slices.Index(bucket, d)
		if idx >= 0 {
			f.byStructure[h] = append(bucket[:idx], bucket[idx+1:]...)
			break
		}
	}
	h := structuralHash(d)
	f.byStructure[h] = append(f.byStructure[h], d)
}

// GetTypeStruct/GetTypeUnion are convenience constructors: build the
// composite, dedup it against an existing structurally-equal one if
// present, else install it.
func (f *TypeFactory) GetTypeStruct(name string, fields []FieldSpec, size, alignment int) (*Datatype, error) {
	shell := f.NewIncompleteStruct(name)
	if err := f.SetFields(shell, fields, size, alignment); err != nil {
		return nil, err
	}
	return f.insert(shell), nil
}

func (f *TypeFactory) GetTypeUnion(name string, fields []FieldSpec, size, alignment int) (*Datatype, error) {
	shell := f.NewIncompleteUnion(name)
	if err := f.SetFields(shell, fields, size, alignment); err != nil {
		return nil, err
	}
	return f.insert(shell), nil
}

// --- enums -----------------------------------------------------------------

// AssignEnumValues runs the factory's two-pass enum assignment: first
// honors explicit assignments (rejecting duplicate values), then gives
// auto-values to unassigned names by incrementing a maxval counter,
// skipping collisions.
func (f *TypeFactory) AssignEnumValues(enum *Datatype, names []string, values []int64, assigned []bool) error {
	if len(names) != len(values) || len(names) != len(assigned) {
		return fmt.Errorf("types: AssignEnumValues input slices must be equal length")
	}
	enum.EnumNames = make(map[int64]string)
	enum.EnumValues = make(map[string]int64)

	used := make(map[int64]bool)
	for i, name := range names {
		if !assigned[i] {
			continue
		}
		if used[values[i]] {
			return fmt.Errorf("types: duplicate explicit enum value %d for %q", values[i], name)
		}
		used[values[i]] = true
		enum.EnumNames[values[i]] = name
		enum.EnumValues[name] = values[i]
	}

	var maxval int64 = -1
	for v := range used {
		if v > maxval {
			maxval = v
		}
	}
	for i, name := range names {
		if assigned[i] {
			continue
		}
		maxval++
		for used[maxval] {
			enum.addWarning("skipped colliding auto-value %d while assigning %q", maxval, name)
			maxval++
		}
		used[maxval] = true
		enum.EnumNames[maxval] = name
		enum.EnumValues[name] = maxval
	}
	return nil
}

// --- typedefs ----------------------------------------------------------

// GetTypedef creates a named alias for target. Fails if the (name, id)
// pair already denotes a different underlying type.
func (f *TypeFactory) GetTypedef(target *Datatype, name string, id uint64, formatFlag Flags) (*Datatype, error) {
	if id == 0 {
		id = baseID(name)
	}
	if existing, ok := f.byNameID[nameIDKey(name, id)]; ok {
		if existing.Typedef != target {
			return nil, fmt.Errorf("types: typedef %q already denotes a different type", name)
		}
		return existing, nil
	}
	d := &Datatype{
		Meta: target.Meta, Sub: target.Sub, Size: target.Size, Align: target.Align,
		AlignSize: target.AlignSize, Name: name, ID: id, Typedef: target, Flags: formatFlag,
	}
	if target.Flags.Has(FlagIncomplete) {
		d.Flags |= FlagIncomplete
	}
	return f.insert(d), nil
}

// resolveIncompleteTypedefsFor updates, in place, the incomplete aliases
// of underlying once it has become complete: it clears FlagIncomplete and
// copies underlying's size and alignment — invoked after SetFields.
func (f *TypeFactory) resolveIncompleteTypedefsFor(underlying *Datatype) {
	for _, d := range f.byNameID {
		if d.Typedef == underlying && d.Flags.Has(FlagIncomplete) {
			d.Flags &^= FlagIncomplete
			d.Size = underlying.Size
			d.Align = underlying.Align
			d.AlignSize = underlying.AlignSize
		}
	}
}

func (f *TypeFactory) ResolveIncompleteTypedefs() {
	for _, d := range f.byNameID {
		if d.Typedef != nil && !d.Typedef.Flags.Has(FlagIncomplete) && d.Flags.Has(FlagIncomplete) {
			d.Flags &^= FlagIncomplete
			d.Size = d.Typedef.Size
			d.Align = d.Typedef.Align
			d.AlignSize = d.Typedef.AlignSize
		}
	}
}

// --- partial types -------------------------------------------------------

// GetExactPiece drills into nested composites to return a type of
// exactly size bytes starting at offset. If the range lands in a union,
// it returns a synthesized partial-union; in an enum, a synthesized
// partial-enum. A range inside a struct or array resolves to the piece of
// the one field or element that covers it. It returns (nil, false) when
// the range crosses a field or element boundary, or lands strictly inside
// a type of any other kind (a primitive, for instance); no partial-struct
// is synthesized.
func (f *TypeFactory) GetExactPiece(container *Datatype, offset, size int) (*Datatype, bool) {
	if offset < 0 || offset+size > container.Size {
		return nil, false
	}
	if offset == 0 && size == container.Size {
		return container, true
	}
	switch container.Meta {
	case TypeUnion:
		return f.synthesizePartial(TypePartialUnion, container, offset, size), true
	case TypeStruct:
		for _, fl := range container.Fields {
			if offset >= fl.Offset && offset+size <= fl.Offset+fl.Type.Size {
				return f.GetExactPiece(fl.Type, offset-fl.Offset, size)
			}
		}
		// no single field covers the range cleanly: boundary crossed
		return nil, false
	case TypeArray:
		if container.Element == nil || container.Element.Size == 0 {
			return nil, false
		}
		elemSize := container.Element.Size
		startElem := offset / elemSize
		endElem := (offset + size - 1) / elemSize
		if startElem != endElem {
			return nil, false
		}
		return f.GetExactPiece(container.Element, offset-startElem*elemSize, size)
	case TypeEnum:
		return f.synthesizePartial(TypePartialEnum, container, offset, size), true
	default:
		if size == container.Size {
			return container, true
		}
		return nil, false
	}
}

func (f *TypeFactory) synthesizePartial(meta Metatype, container *Datatype, offset, size int) *Datatype {
	d := &Datatype{
		Meta: meta, Sub: SubPartial, Size: size, Align: 1, AlignSize: size,
		PartialContainer: container, PartialOffset: offset,
		Flags: FlagNeedsResolution,
	}
	return f.insert(d)
}

// --- misc ------------------------------------------------------------------

// Concretize substitutes non-representable forms (e.g. size-1 code) with
// representable equivalents.
func (f *TypeFactory) Concretize(d *Datatype) *Datatype {
	if d.Meta == TypeCode && d.Size == 1 {
		return f.GetBase(1, TypeUnknown)
	}
	return d
}

// DependentOrder performs the topological sort required before encoding:
// for each type, recurse into its typedef target and each component
// before emitting the type itself.
func (f *TypeFactory) DependentOrder(roots []*Datatype) []*Datatype {
	var out []*Datatype
	visited := make(map[*Datatype]bool)
	var visit func(d *Datatype)
	visit = func(d *Datatype) {
		if d == nil || visited[d] {
			return
		}
		visited[d] = true
		if d.Typedef != nil {
			visit(d.Typedef)
		}
		if d.Element != nil {
			visit(d.Element)
		}
		if d.PartialContainer != nil {
			visit(d.PartialContainer)
		}
		if d.PtrRelContainer != nil {
			visit(d.PtrRelContainer)
		}
		for _, fl := range d.Fields {
			visit(fl.Type)
		}
		out = append(out, d)
	}
	for _, r := range roots {
		visit(r)
	}
	return out
}

// DestroyType removes d from both indices. Forbidden on core types.
func (f *TypeFactory) DestroyType(d *Datatype) error {
	if d.IsCore() {
		return fmt.Errorf("types: cannot destroy core type %q", d)
	}
	h := structuralHash(d)
	bucket := f.byStructure[h]
	if idx := slices.Index(bucket, d); idx >= 0 {
		f.byStructure[h] = append(bucket[:idx], bucket[idx+1:]...)
	}
	delete(f.byNameID, nameIDKey(d.Name, d.ID))
	d.Warnings = nil
	return nil
}

// LookupByName returns the type registered under (name, id).
func (f *TypeFactory) LookupByName(name string, id uint64) (*Datatype, bool) {
	d, ok := f.byNameID[nameIDKey(name, id)]
	return d, ok
}

// AllWarnings collects every Datatype currently carrying a warning, for
// the pretty-printer to surface (spec.md §7).
func (f *TypeFactory) AllWarnings() map[*Datatype][]Warning {
	out := make(map[*Datatype][]Warning)
	for _, d := range f.byNameID {
		if len(d.Warnings) > 0 {
			out[d] = d.Warnings
		}
	}
	return out
}

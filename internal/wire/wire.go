// Package wire supplements §6's "encode(encoder)/decode(decoder)"
// marshaller contract — left as an interface-only, out-of-scope
// collaborator in spec.md — with one concrete JSON codec, so the
// round-trip property in §8 ("encode(t).decode() is structurally equal
// to t") has something runnable to exercise. It is not the XML
// marshaller the original system ships; it is a reference adapter.
package wire

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/mod/semver"

	"github.com/sentra-lang/pcodec/internal/perrors"
	"github.com/sentra-lang/pcodec/internal/types"
)

// FormatVersion is the wire format's own version tag, compared with
// golang.org/x/mod/semver the way a real marshaller gates format
// changes: a decoder refuses to read a payload from an incompatible
// major version.
const FormatVersion = "v1.0.0"

// wireField mirrors types.Field but references a dependency by its
// position in the document's Types list. A field ref is always < the
// referencing type's own position, since DependentOrder emits every field
// type before its composite. Forward refs occur only as an element_ref
// that closes a cycle back to a struct/union (e.g. a struct with a field
// pointing to itself); Decode resolves those against the incomplete
// shells it pre-creates for every struct/union before replaying any entry.
type wireField struct {
	Offset  int    `json:"offset"`
	Name    string `json:"name"`
	TypeRef int    `json:"type_ref"`
}

// wireType is the JSON projection of one types.Datatype.
type wireType struct {
	Meta      int    `json:"meta"`
	Sub       int    `json:"sub"`
	Size      int    `json:"size"`
	Align     int    `json:"align"`
	AlignSize int    `json:"align_size"`
	Name      string `json:"name"`
	Flags     uint32 `json:"flags"`

	ElementRef *int        `json:"element_ref,omitempty"`
	Fields     []wireField `json:"fields,omitempty"`

	EnumNames  map[string]string `json:"enum_names,omitempty"`
	EnumValues map[string]int64  `json:"enum_values,omitempty"`
}

// document is the top-level envelope: a version tag plus the type list
// in dependency order (each type's own dependencies appear earlier,
// except an element_ref closing a cycle back to a struct/union).
type document struct {
	Version string     `json:"version"`
	Types   []wireType `json:"types"`
}

// Encode projects t (and everything t depends on) into the wire format,
// per types.TypeFactory.DependentOrder's "recurse into dependencies
// before emitting the type itself" ordering. In that order no field refers
// forward; the only forward refs are element_refs closing a cycle, which
// Decode resolves against the shells it pre-creates.
func Encode(tf *types.TypeFactory, t *types.Datatype) ([]byte, error) {
	order := tf.DependentOrder([]*types.Datatype{t})
	index := make(map[*types.Datatype]int, len(order))
	for i, d := range order {
		index[d] = i
	}

	doc := document{Version: FormatVersion, Types: make([]wireType, len(order))}
	for i, d := range order {
		wt := wireType{
			Meta: int(d.Meta), Sub: int(d.Sub),
			Size: d.Size, Align: d.Align, AlignSize: d.AlignSize,
			Name: d.Name, Flags: uint32(d.Flags),
		}
		if d.Element != nil {
			ref := index[d.Element]
			wt.ElementRef = &ref
		}
		for _, f := range d.Fields {
			wt.Fields = append(wt.Fields, wireField{Offset: f.Offset, Name: f.Name, TypeRef: index[f.Type]})
		}
		if len(d.EnumNames) > 0 {
			wt.EnumNames = make(map[string]string, len(d.EnumNames))
			for v, name := range d.EnumNames {
				wt.EnumNames[formatEnumKey(v)] = name
			}
			wt.EnumValues = d.EnumValues
		}
		doc.Types[i] = wt
	}
	return json.Marshal(doc)
}

// Decode replays doc's type list, in order, against tf (normally a
// fresh TypeFactory — decoding into the same factory that produced the
// payload trivially round-trips via the dedup cache, which doesn't
// exercise anything), returning the root (last) type.
func Decode(tf *types.TypeFactory, payload []byte) (*types.Datatype, error) {
	var doc document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, perrors.Wrap(perrors.KindInvariant, errors.WithStack(err), "wire: malformed document")
	}
	if !semver.IsValid(doc.Version) {
		return nil, perrors.Newf(perrors.KindInvariant, "wire: invalid format version %q", doc.Version)
	}
	if semver.Major(doc.Version) != semver.Major(FormatVersion) {
		return nil, perrors.Newf(perrors.KindInvariant, "wire: incompatible format version %q (reader is %q)", doc.Version, FormatVersion)
	}
	if len(doc.Types) == 0 {
		return nil, perrors.New(perrors.KindInvariant, "wire: empty document")
	}

	// A struct field that points back at an ancestor (the ordinary
	// linked-list/tree shape) is emitted by Encode as a pointer whose
	// element_ref is *forward* of the pointer's own position: DependentOrder only
	// appends a composite once all of its fields have been visited, so
	// a self-referential pointer field is recorded before the struct it
	// points into. Pre-creating every struct/union as an incomplete
	// shell, indexed by its final document position, gives those
	// forward pointer references something to resolve against before
	// SetFields (pass 2) fills in the fields — the same incomplete-type
	// order funcdata and the rest of this package already use to build
	// self-referential types.
	built := make([]*types.Datatype, len(doc.Types))
	for i, wt := range doc.Types {
		switch types.Metatype(wt.Meta) {
		case types.TypeStruct:
			built[i] = tf.NewIncompleteStruct(wt.Name)
		case types.TypeUnion:
			built[i] = tf.NewIncompleteUnion(wt.Name)
		}
	}

	for i, wt := range doc.Types {
		d, err := decodeOne(tf, wt, built, built[i])
		if err != nil {
			if pe, ok := err.(*perrors.PcodecError); ok {
				return nil, pe.In("wire.Decode", fmt.Sprintf("type %d (%q)", i, wt.Name))
			}
			return nil, perrors.Wrap(perrors.KindInvariant, errors.WithStack(err), fmt.Sprintf("wire: decoding type %d (%q)", i, wt.Name))
		}
		built[i] = d
	}
	return built[len(built)-1], nil
}

// decodeOne materializes doc entry wt. shell is the incomplete struct/union
// pre-created for this position in pass 1 (nil for every other meta-type);
// built is the full, same-length slice of in-progress results, since an
// element_ref may reference a forward position that pass 1 already
// populated with a shell.
func decodeOne(tf *types.TypeFactory, wt wireType, built []*types.Datatype, shell *types.Datatype) (*types.Datatype, error) {
	meta := types.Metatype(wt.Meta)
	switch meta {
	case types.TypeVoid, types.TypeBool, types.TypeInt, types.TypeUint,
		types.TypeFloat, types.TypeChar, types.TypeCode, types.TypeUnknown:
		return tf.GetBase(wt.Size, meta), nil

	case types.TypePtr:
		if wt.ElementRef == nil || *wt.ElementRef >= len(built) || built[*wt.ElementRef] == nil {
			return nil, perrors.New(perrors.KindInvariant, "wire: pointer references an unresolved type")
		}
		return tf.GetTypePointer(built[*wt.ElementRef], wt.Size), nil

	case types.TypeArray:
		if wt.ElementRef == nil || *wt.ElementRef >= len(built) || built[*wt.ElementRef] == nil {
			return nil, perrors.New(perrors.KindInvariant, "wire: array references an unresolved type")
		}
		elem := built[*wt.ElementRef]
		n := 1
		if elem.Size > 0 {
			n = wt.Size / elem.Size
		}
		return tf.GetTypeArray(elem, n), nil

	case types.TypeStruct, types.TypeUnion:
		fields, err := resolveFields(wt.Fields, built)
		if err != nil {
			return nil, err
		}
		if err := tf.SetFields(shell, fields, wt.Size, wt.Align); err != nil {
			return nil, err
		}
		return shell, nil

	default:
		return nil, perrors.Newf(perrors.KindInvariant, "wire: %s is not supported by the reference codec", meta)
	}
}

func resolveFields(wfs []wireField, built []*types.Datatype) ([]types.FieldSpec, error) {
	out := make([]types.FieldSpec, len(wfs))
	for i, wf := range wfs {
		if wf.TypeRef >= len(built) || built[wf.TypeRef] == nil {
			return nil, perrors.Newf(perrors.KindInvariant, "wire: field %q references an unresolved type", wf.Name)
		}
		out[i] = types.FieldSpec{Offset: wf.Offset, Name: wf.Name, Type: built[wf.TypeRef]}
	}
	return out, nil
}

func formatEnumKey(v int64) string {
	return strconv.FormatInt(v, 10)
}

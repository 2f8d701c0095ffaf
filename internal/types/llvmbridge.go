package types

import (
	"fmt"

	"github.com/llir/llvm/ir/types"
)

// ToLLVMType projects a Datatype onto the nearest LLVM IR type, for
// callers that want to hand the lattice off to github.com/llir/llvm-based
// tooling (e.g. emitting a synthetic module for a pass that already
// speaks LLVM IR). The projection is lossy: ptr-rel, partial-*, and
// typedef wrapping all collapse onto their underlying representable
// forms, since LLVM IR has no equivalent concept.
func ToLLVMType(d *Datatype) (types.Type, error) {
	if d == nil {
		return nil, fmt.Errorf("types: ToLLVMType called on nil Datatype")
	}
	if d.Typedef != nil {
		return ToLLVMType(d.Typedef)
	}
	switch d.Meta {
	case TypeVoid:
		return types.Void, nil
	case TypeBool:
		return types.I1, nil
	case TypeInt, TypeUint, TypeChar, TypeCode, TypeEnum, TypePartialEnum:
		return types.NewInt(uint64(d.Size * 8)), nil
	case TypeFloat:
		switch d.Size {
		case 4:
			return types.Float, nil
		case 8:
			return types.Double, nil
		case 10, 16:
			return types.X86FP80, nil
		default:
			return types.NewInt(uint64(d.Size * 8)), nil
		}
	case TypePtr, TypePtrRel:
		elem := d.Element
		if elem == nil {
			return types.NewPointer(types.I8), nil
		}
		inner, err := ToLLVMType(elem)
		if err != nil {
			return nil, err
		}
		return types.NewPointer(inner), nil
	case TypeArray:
		if d.Element == nil || d.Element.Size == 0 {
			return types.NewArray(0, types.I8), nil
		}
		inner, err := ToLLVMType(d.Element)
		if err != nil {
			return nil, err
		}
		return types.NewArray(uint64(d.Size/d.Element.Size), inner), nil
	case TypeStruct, TypePartialStruct:
		fields := make([]types.Type, 0, len(d.Fields))
		for _, fl := range d.Fields {
			ft, err := ToLLVMType(fl.Type)
			if err != nil {
				return nil, err
			}
			fields = append(fields, ft)
		}
		return types.NewStruct(fields...), nil
	case TypeUnion, TypePartialUnion:
		// LLVM IR has no union; project onto a byte array of the union's
		// size, the same fallback clang uses for opaque unions.
		return types.NewArray(uint64(d.Size), types.I8), nil
	case TypeSpacebase:
		return types.NewPointer(types.I8), nil
	case TypeUnknown:
		return types.NewArray(uint64(d.Size), types.I8), nil
	default:
		return nil, fmt.Errorf("types: no LLVM projection for metatype %s", d.Meta)
	}
}

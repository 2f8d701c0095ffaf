package rewrite

import (
	"github.com/sentra-lang/pcodec/internal/block"
	"github.com/sentra-lang/pcodec/internal/funcdata"
	"github.com/sentra-lang/pcodec/internal/pcode"
	"github.com/sentra-lang/pcodec/internal/types"
)

// typeClass is §4.8's three-way classification of a COPY/LOAD/STORE
// operand's effective type.
type typeClass int

const (
	classSplittableComposite typeClass = iota
	classArrayOfPrimitives
	classPrimitive
)

func classify(d *types.Datatype) typeClass {
	switch d.Meta {
	case types.TypeStruct, types.TypePartialStruct:
		return classSplittableComposite
	case types.TypeArray:
		if d.Element != nil && (d.Element.Meta == types.TypeInt || d.Element.Meta == types.TypeUint ||
			d.Element.Meta == types.TypeFloat || d.Element.Meta == types.TypeChar || d.Element.Meta == types.TypeBool) {
			return classArrayOfPrimitives
		}
		return classSplittableComposite
	default:
		return classPrimitive
	}
}

// splitCompatible applies §4.8's compatibility table: a primitive never
// splits against an array of primitives through memory (that would
// reinterpret scalar bytes as an indexable sequence for no benefit).
func splitCompatible(in, out typeClass) bool {
	if in == classPrimitive && out == classArrayOfPrimitives {
		return false
	}
	if in == classArrayOfPrimitives && out == classPrimitive {
		return false
	}
	return true
}

// SplitField describes one piece produced by walking a composite type:
// its byte offset, size, and (if known) the sub-type at that offset.
type SplitField struct {
	Offset int
	Size   int
	Type   *types.Datatype
}

// WalkFields walks d's direct fields (or array elements) in byte order,
// producing one SplitField per field and an unknown-sized primitive
// SplitField for any gap between them — §4.8's "hole" rule. Returns
// ok=false if d cannot be decomposed into contiguous, boundary-aligned
// pieces (e.g. an empty composite).
func WalkFields(tf *types.TypeFactory, d *types.Datatype) ([]SplitField, bool) {
	switch d.Meta {
	case types.TypeStruct, types.TypePartialStruct:
		if len(d.Fields) == 0 {
			return nil, false
		}
		var out []SplitField
		cursor := 0
		for _, f := range d.Fields {
			if f.Offset > cursor {
				out = append(out, SplitField{Offset: cursor, Size: f.Offset - cursor})
			}
			out = append(out, SplitField{Offset: f.Offset, Size: f.Type.Size, Type: f.Type})
			cursor = f.Offset + f.Type.Size
		}
		if cursor < d.Size {
			out = append(out, SplitField{Offset: cursor, Size: d.Size - cursor})
		}
		return out, true
	case types.TypeArray:
		if d.Element == nil || d.Element.Size == 0 {
			return nil, false
		}
		n := d.Size / d.Element.Size
		out := make([]SplitField, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, SplitField{Offset: i * d.Element.Size, Size: d.Element.Size, Type: d.Element})
		}
		return out, true
	default:
		return nil, false
	}
}

// SplitCopy rewrites a COPY whose operands are both splittable composites
// of identical shape into N smaller COPYs, one per field, per §4.8.
// Returns false (no error) if the operand types aren't split-compatible
// or don't decompose into the same field layout.
func SplitCopy(fd *funcdata.Funcdata, op *pcode.PcodeOp, inType, outType *types.Datatype) (bool, error) {
	if op.Opcode != pcode.OpCopy || len(op.Input) != 1 || op.Output == nil {
		return false, nil
	}
	if !splitCompatible(classify(inType), classify(outType)) {
		return false, nil
	}
	inFields, ok1 := WalkFields(fd.Types, inType)
	outFields, ok2 := WalkFields(fd.Types, outType)
	if !ok1 || !ok2 || len(inFields) != len(outFields) {
		return false, nil
	}
	for i := range inFields {
		if inFields[i].Offset != outFields[i].Offset || inFields[i].Size != outFields[i].Size {
			return false, nil
		}
	}

	blk, ok := op.Parent.(*block.BlockBasic)
	if !ok {
		return false, nil
	}

	src, dst := op.Input[0], op.Output
	for _, f := range inFields {
		piece, ok := fd.Types.GetExactPiece(inType, f.Offset, f.Size)
		if !ok {
			piece = f.Type
		}
		srcPiece := pcode.NewVarnode(-1, src.Addr, f.Size)
		srcPiece.Addr.Offset += uint64(f.Offset)
		dstPiece := pcode.NewVarnode(-1, dst.Addr, f.Size)
		dstPiece.Addr.Offset += uint64(f.Offset)
		if piece != nil {
			srcPiece.DataType = piece
			dstPiece.DataType = piece
		}
		sub := fd.CreateOp(blk, op.Seq.Addr, pcode.OpCopy, 1)
		fd.OpSetInput(sub, 0, srcPiece)
		fd.OpSetOutput(sub, dstPiece)
	}

	for slot := range op.Input {
		fd.OpSetInput(op, slot, nil)
	}
	fd.Bank.MarkDead(op)
	if err := fd.DestroyOp(op); err != nil {
		return false, err
	}
	return true, nil
}

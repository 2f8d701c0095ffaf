package pcode

import (
	"math"

	mewfloat "github.com/mewmew/float"
)

// roundToSignificand rounds val to sigBits bits of significand using
// mewmew/float's software float implementation; FLOAT_FLOAT2FLOAT below
// is its only caller.
func roundToSignificand(val float64, sigBits int) float64 {
	f := mewfloat.NewFloat(uint(sigBits))
	f.SetFloat64(val)
	out, _ := f.Float64()
	return out
}

func bitsToFloat64(v uint64, size int) float64 {
	switch size {
	case 4:
		return float64(math.Float32frombits(uint32(v)))
	default:
		return math.Float64frombits(v)
	}
}

func float64ToBits(f float64, size int) uint64 {
	switch size {
	case 4:
		return uint64(math.Float32bits(float32(f)))
	default:
		return math.Float64bits(f)
	}
}

var floatBehaviorTable = map[Opcode]Evaluator{
	OpFloatAdd: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 2 {
			return 0, errBadArity
		}
		r := bitsToFloat64(v[0], s[0]) + bitsToFloat64(v[1], s[1])
		return float64ToBits(r, outSize), nil
	}),
	OpFloatSub: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 2 {
			return 0, errBadArity
		}
		r := bitsToFloat64(v[0], s[0]) - bitsToFloat64(v[1], s[1])
		return float64ToBits(r, outSize), nil
	}),
	OpFloatMult: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 2 {
			return 0, errBadArity
		}
		r := bitsToFloat64(v[0], s[0]) * bitsToFloat64(v[1], s[1])
		return float64ToBits(r, outSize), nil
	}),
	OpFloatDiv: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 2 {
			return 0, errBadArity
		}
		b := bitsToFloat64(v[1], s[1])
		if b == 0 {
			return 0, evalErr("opbehavior: FLOAT_DIV by zero")
		}
		r := bitsToFloat64(v[0], s[0]) / b
		return float64ToBits(r, outSize), nil
	}),
	OpFloatNeg: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 1 {
			return 0, errBadArity
		}
		return float64ToBits(-bitsToFloat64(v[0], s[0]), outSize), nil
	}),
	OpFloatAbs: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 1 {
			return 0, errBadArity
		}
		return float64ToBits(math.Abs(bitsToFloat64(v[0], s[0])), outSize), nil
	}),
	OpFloatSqrt: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 1 {
			return 0, errBadArity
		}
		return float64ToBits(math.Sqrt(bitsToFloat64(v[0], s[0])), outSize), nil
	}),
	OpFloatEqual: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 2 {
			return 0, errBadArity
		}
		if bitsToFloat64(v[0], s[0]) == bitsToFloat64(v[1], s[1]) {
			return 1, nil
		}
		return 0, nil
	}),
	OpFloatLess: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 2 {
			return 0, errBadArity
		}
		if bitsToFloat64(v[0], s[0]) < bitsToFloat64(v[1], s[1]) {
			return 1, nil
		}
		return 0, nil
	}),
	OpFloatNan: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 1 {
			return 0, errBadArity
		}
		if math.IsNaN(bitsToFloat64(v[0], s[0])) {
			return 1, nil
		}
		return 0, nil
	}),
	OpFloatInt2Float: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 1 {
			return 0, errBadArity
		}
		signed := signExtendTo64(v[0], s[0])
		return float64ToBits(float64(signed), outSize), nil
	}),
	OpFloatFloat2Float: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 1 {
			return 0, errBadArity
		}
		f := bitsToFloat64(v[0], s[0])
		f = roundToSignificand(f, outSize*8-(outSize*8/8)) // widen/narrow via significand rounding
		return float64ToBits(f, outSize), nil
	}),
}

func signExtendTo64(v uint64, size int) int64 {
	if size >= 8 {
		return int64(v)
	}
	m := maskFor(size)
	val := v & m
	signBit := uint64(1) << uint(8*size-1)
	if val&signBit != 0 {
		val |= ^m
	}
	return int64(val)
}

func lookupFloatBehavior(op Opcode) (Evaluator, bool) {
	b, ok := floatBehaviorTable[op]
	return b, ok
}

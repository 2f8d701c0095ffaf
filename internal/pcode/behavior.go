package pcode

import (
	"math/big"

	"github.com/remyoudompheng/bigfft"
	"modernc.org/mathutil"
)

// Evaluator is the pure numeric contract an OpBehavior exposes: given
// each input's byte size and raw value plus the output's declared byte
// size, it returns the evaluated output value or an error. It carries no
// per-op state, matching spec.md §3's OpBehavior contract.
type Evaluator interface {
	Evaluate(inSizes []int, inValues []uint64, outSize int) (uint64, error)
}

type evalErr string

func (e evalErr) Error() string { return string(e) }

const errBadArity evalErr = "opbehavior: wrong input arity for collapse"

// behaviorFunc adapts a plain function to the Evaluator interface.
type behaviorFunc func(inSizes []int, inValues []uint64, outSize int) (uint64, error)

func (f behaviorFunc) Evaluate(inSizes []int, inValues []uint64, outSize int) (uint64, error) {
	return f(inSizes, inValues, outSize)
}

func maskFor(size int) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(8*size)) - 1
}

var behaviorTable = map[Opcode]Evaluator{
	OpIntAdd: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 2 {
			return 0, errBadArity
		}
		return (v[0] + v[1]) & maskFor(outSize), nil
	}),
	OpIntSub: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 2 {
			return 0, errBadArity
		}
		return (v[0] - v[1]) & maskFor(outSize), nil
	}),
	OpIntMult: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 2 {
			return 0, errBadArity
		}
		// For wide operands (anything that might not fit a plain uint64
		// product cleanly, i.e. outSize beyond 8 bytes of precision) fold
		// through big.Int using bigfft's faster multiply; for ordinary
		// widths a native multiply already matches declared-size masking.
		if outSize > 8 || s[0] > 8 || s[1] > 8 {
			a, b := new(big.Int).SetUint64(v[0]), new(big.Int).SetUint64(v[1])
			prod := bigfft.Mul(a, b)
			return truncateBig(prod, outSize), nil
		}
		return (v[0] * v[1]) & maskFor(outSize), nil
	}),
	OpIntDiv: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 2 {
			return 0, errBadArity
		}
		if v[1] == 0 {
			return 0, evalErr("opbehavior: INT_DIV by zero")
		}
		return (v[0] / v[1]) & maskFor(outSize), nil
	}),
	OpIntRem: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 2 {
			return 0, errBadArity
		}
		if v[1] == 0 {
			return 0, evalErr("opbehavior: INT_REM by zero")
		}
		return (v[0] % v[1]) & maskFor(outSize), nil
	}),
	OpIntAnd: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 2 {
			return 0, errBadArity
		}
		return (v[0] & v[1]) & maskFor(outSize), nil
	}),
	OpIntOr: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 2 {
			return 0, errBadArity
		}
		return (v[0] | v[1]) & maskFor(outSize), nil
	}),
	OpIntXor: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 2 {
			return 0, errBadArity
		}
		return (v[0] ^ v[1]) & maskFor(outSize), nil
	}),
	OpIntNegate: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 1 {
			return 0, errBadArity
		}
		return (^v[0]) & maskFor(outSize), nil
	}),
	OpIntNot: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 1 {
			return 0, errBadArity
		}
		return (^v[0]) & maskFor(outSize), nil
	}),
	OpIntLeft: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 2 {
			return 0, errBadArity
		}
		if v[1] >= uint64(8*mathutil.Max(outSize, 1)) {
			return 0, nil
		}
		return (v[0] << v[1]) & maskFor(outSize), nil
	}),
	OpIntRight: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 2 {
			return 0, errBadArity
		}
		if v[1] >= uint64(8*mathutil.Max(s[0], 1)) {
			return 0, nil
		}
		return (v[0] & maskFor(s[0])) >> v[1], nil
	}),
	OpIntEqual: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 2 {
			return 0, errBadArity
		}
		if v[0] == v[1] {
			return 1, nil
		}
		return 0, nil
	}),
	OpIntNotEqual: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 2 {
			return 0, errBadArity
		}
		if v[0] != v[1] {
			return 1, nil
		}
		return 0, nil
	}),
	OpIntLess: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 2 {
			return 0, errBadArity
		}
		if v[0] < v[1] {
			return 1, nil
		}
		return 0, nil
	}),
	OpCopy: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 1 {
			return 0, errBadArity
		}
		return v[0] & maskFor(outSize), nil
	}),
	OpIntZext: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 1 {
			return 0, errBadArity
		}
		return v[0] & maskFor(outSize), nil
	}),
	OpIntSext: behaviorFunc(func(s []int, v []uint64, outSize int) (uint64, error) {
		if len(v) != 1 {
			return 0, errBadArity
		}
		inBits := uint(8 * s[0])
		val := v[0] & maskFor(s[0])
		signBit := uint64(1) << (inBits - 1)
		if val&signBit != 0 {
			val |= ^maskFor(s[0])
		}
		return val & maskFor(outSize), nil
	}),
}

// truncateBig reduces a big.Int product to outSize bytes of unsigned
// value, the declared-size truncation every OpBehavior result undergoes.
func truncateBig(x *big.Int, outSize int) uint64 {
	mod := new(big.Int).Lsh(big.NewInt(1), uint(8*mathutil.Max(outSize, 1)))
	r := new(big.Int).Mod(x, mod)
	return r.Uint64()
}

// LookupBehavior returns the registered OpBehavior for opcode, if any.
// Float opcodes are registered separately in behavior_float.go.
func LookupBehavior(op Opcode) (Evaluator, bool) {
	if b, ok := behaviorTable[op]; ok {
		return b, true
	}
	return lookupFloatBehavior(op)
}

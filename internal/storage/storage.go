// Package storage supplements the out-of-scope symbol/prototype
// database collaborators (spec.md §6) with one concrete, swappable SQL
// reference adapter, so call-spec and queryContainer lookups have a
// runnable implementation to test the spacebase/call-spec consumers
// against. It is not itself part of the decompiler core.
package storage

import (
	"github.com/sentra-lang/pcodec/internal/pcode"
)

// SymbolEntry is the smallest mapped symbol entry covering an address,
// per §6's "Symbol/scope database: queryContainer(addr, size, point)."
type SymbolEntry struct {
	Name   string
	Space  string
	Offset uint64
	Size   int
	TypeID uint64 // the owning TypeFactory's Datatype.ID, resolved by the caller
}

// SymbolDatabase is the §6 collaborator interface this package provides
// one concrete adapter for.
type SymbolDatabase interface {
	// QueryContainer returns the smallest symbol entry whose [Offset,
	// Offset+Size) range covers addr in the given space, valid at
	// point (the address doing the query — used for scope-sensitive
	// lookups); ok is false if nothing covers it.
	QueryContainer(space string, addr uint64, size int, point pcode.Address) (*SymbolEntry, bool, error)
}

// CallSpec is §6's "call specs (input/output locked?, dot-dot-dot?,
// model name)."
type CallSpec struct {
	Model         string
	InputLocked   bool
	OutputLocked  bool
	HasDotDotDot  bool
}

// PrototypeParam is one parameter slot of a Prototype.
type PrototypeParam struct {
	Name   string
	TypeID uint64
}

// Prototype is §6's "function prototypes (parameter types, output type,
// comparable flags)."
type Prototype struct {
	Params     []PrototypeParam
	OutputType uint64
	Comparable bool
}

// PrototypeDatabase is the §6 collaborator interface this package
// provides one concrete adapter for.
type PrototypeDatabase interface {
	CallSpec(name string) (*CallSpec, bool, error)
	Prototype(name string) (*Prototype, bool, error)
}

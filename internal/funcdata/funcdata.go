// Package funcdata implements the per-function facade: it owns one
// function's PcodeOpBank, type view, and block graph, and is the only
// thing Actions are allowed to mutate through.
package funcdata

import (
	"log"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/sentra-lang/pcodec/internal/block"
	"github.com/sentra-lang/pcodec/internal/pcode"
	"github.com/sentra-lang/pcodec/internal/perrors"
	"github.com/sentra-lang/pcodec/internal/types"
)

// Funcdata owns everything one function's decompilation touches: the
// op bank, a dedicated type factory, and the block graph. Two Funcdatas
// never share mutable state, so a caller decompiling many functions at
// once hands each worker its own — see internal/batch.
type Funcdata struct {
	Name string
	RunID uuid.UUID

	Bank   *pcode.PcodeOpBank
	Types  *types.TypeFactory
	Graph  *block.BlockGraph
	Spaces *pcode.SpaceManager

	// opRegistry maps an iop-space offset to the PcodeOp it refers to.
	// Kept per-Funcdata rather than as a package-level singleton so
	// concurrent functions never share (or race on) this table.
	opRegistry map[uint64]*pcode.PcodeOp
	nextIOP    uint64

	actions []Action
}

func New(name string, spaces *pcode.SpaceManager, maxBaseTypeSize int) *Funcdata {
	return &Funcdata{
		Name:       name,
		RunID:      uuid.New(),
		Bank:       pcode.NewBank(),
		Types:      types.NewFactory(maxBaseTypeSize),
		Graph:      block.NewGraph(),
		Spaces:     spaces,
		opRegistry: make(map[uint64]*pcode.PcodeOp),
	}
}

// --- narrow edit primitives (spec's "emulate C++ friendship" surface) ----

// CreateOp allocates a new op at addr and marks it alive in blk.
func (fd *Funcdata) CreateOp(blk *block.BlockBasic, addr pcode.Address, opcode pcode.Opcode, numInputs int) *pcode.PcodeOp {
	op := fd.Bank.CreateAt(addr, opcode, numInputs)
	fd.Bank.MarkAlive(op)
	if blk != nil {
		blk.Append(op)
	}
	return op
}

// DestroyOp marks op dead and retires it from the bank. It must already
// be disconnected from every reader (callers run the rewrite library's
// redirection step first).
func (fd *Funcdata) DestroyOp(op *pcode.PcodeOp) error {
	if op.Output != nil && len(op.Output.Descendants) > 0 {
		return perrors.Newf(perrors.KindInvariant, "funcdata: cannot destroy op %s with live descendants", op.Seq)
	}
	if !op.IsDead() {
		fd.Bank.MarkDead(op)
	}
	if !fd.Bank.Destroy(op) {
		return perrors.Newf(perrors.KindInvariant, "funcdata: destroy failed for op %s", op.Seq)
	}
	return nil
}

// OpSetInput rewires op's input slot through the bank's descendant
// bookkeeping.
func (fd *Funcdata) OpSetInput(op *pcode.PcodeOp, slot int, v *pcode.Varnode) {
	op.SetInput(slot, v)
}

// OpSetOutput assigns op's output varnode.
func (fd *Funcdata) OpSetOutput(op *pcode.PcodeOp, v *pcode.Varnode) {
	op.SetOutput(v)
}

// OpSetOpcode changes op's opcode, re-deriving its flags and per-opcode
// bank index.
func (fd *Funcdata) OpSetOpcode(op *pcode.PcodeOp, opcode pcode.Opcode) {
	fd.Bank.ChangeOpcode(op, opcode)
}

// --- iop-space registry ---------------------------------------------------

// RegisterIOP assigns op a fresh iop-space offset and returns it, used
// when an op needs to be addressed indirectly (e.g. as a CALLOTHER
// breakpoint target).
func (fd *Funcdata) RegisterIOP(op *pcode.PcodeOp) uint64 {
	off := fd.nextIOP
	fd.nextIOP++
	fd.opRegistry[off] = op
	return off
}

// ResolveIOP looks up a previously registered iop-space offset.
func (fd *Funcdata) ResolveIOP(off uint64) (*pcode.PcodeOp, bool) {
	op, ok := fd.opRegistry[off]
	return op, ok
}

// --- action scheduling -----------------------------------------------------

// Action reads the current graph, proposes edits, and commits them
// through Funcdata's editing primitives.
type Action interface {
	Name() string
	Apply(fd *Funcdata) error
}

// Schedule appends actions to run, in order, on a later RunActions call.
func (fd *Funcdata) Schedule(actions ...Action) {
	fd.actions = append(fd.actions, actions...)
}

// RunActions runs every scheduled Action to completion, in fixed order.
// The core is strictly single-threaded cooperative: one action fails,
// the whole run aborts with that action's error wrapped with its name.
func (fd *Funcdata) RunActions() error {
	for _, a := range fd.actions {
		log.Printf("funcdata[%s/%s]: running action %s", fd.Name, fd.RunID, a.Name())
		if err := a.Apply(fd); err != nil {
			if pe, ok := err.(*perrors.PcodecError); ok {
				return pe.In(fd.Name, a.Name())
			}
			return errors.Wrapf(err, "action %q", a.Name())
		}
	}
	return nil
}

// PcodeOpBank: the indexed container that owns every PcodeOp for one
// function and answers three kinds of query over them — by SeqNum, by
// liveness (alive/dead), and by opcode.
//
// The sequence index is kept as a slice sorted by SeqNum with binary
// search, per the design note that the structural/sequence key doesn't
// need a persistent red-black tree — a precomputed order plus a
// structural comparator used only at insertion is enough. The alive/dead
// and per-opcode indices are stdlib container/list doubly linked lists so
// that removal stays O(1), with each op's list position cached on the op
// itself (PcodeOp.lpos) — PcodeOpBank is PcodeOp's one close collaborator
// per the "emulation of C++ friendship" design note, so they share a
// package instead of reaching across an exported-setter boundary.
package pcode

import (
	"container/list"
	"sort"

	"github.com/kr/pretty"
)

// indexedOpcodes are the only opcodes that get a per-opcode index.
var indexedOpcodes = map[Opcode]bool{
	OpStore:     true,
	OpLoad:      true,
	OpReturn:    true,
	OpCallother: true,
}

// listPos is what PcodeOp.lpos holds for an op tracked by a bank: its
// element in the alive/dead list, and (if indexed) its element in the
// per-opcode list.
type listPos struct {
	lifeElem *list.Element // in aliveList or deadList
	opElem   *list.Element // in perOpcode[op.Opcode], if indexed
}

// PcodeOpBank owns every PcodeOp for one function.
type PcodeOpBank struct {
	seqTree []*PcodeOp // sorted by SeqNum

	aliveList *list.List
	deadList  *list.List

	perOpcode map[Opcode]*list.List

	retired []*PcodeOp // destroyed ops, never reused

	counter     TimeCounter
	maxSeenTime uint64
}

func NewBank() *PcodeOpBank {
	b := &PcodeOpBank{
		aliveList: list.New(),
		deadList:  list.New(),
		perOpcode: make(map[Opcode]*list.List),
	}
	for oc := range indexedOpcodes {
		b.perOpcode[oc] = list.New()
	}
	return b
}

// --- creation ------------------------------------------------------------

// CreateAt allocates an op at addr with numInputs nulled input slots,
// stamps a fresh Time, inserts it into the sequence tree and the dead
// list, and marks it dead.
func (b *PcodeOpBank) CreateAt(addr Address, opcode Opcode, numInputs int) *PcodeOp {
	return b.CreateWithSeq(NewSeqNum(addr, 0, b.counter.Next()), opcode, numInputs)
}

// CreateWithSeq is as CreateAt but the caller supplies the full SeqNum
// (used when replaying a decode): if seq.Time exceeds what this bank's
// counter has handed out, the counter is raised so future Time values
// stay strictly above it.
func (b *PcodeOpBank) CreateWithSeq(seq SeqNum, opcode Opcode, numInputs int) *PcodeOp {
	b.counter.Observe(seq.Time)
	if seq.Time > b.maxSeenTime {
		b.maxSeenTime = seq.Time
	}
	op := NewPcodeOp(opcode, seq, numInputs)
	b.insertSeq(op)
	elem := b.deadList.PushBack(op)
	op.lpos = &listPos{lifeElem: elem}
	op.dead = true
	op.membership = ListDead
	b.indexOpcode(op)
	return op
}

func (b *PcodeOpBank) insertSeq(op *PcodeOp) {
	i := sort.Search(len(b.seqTree), func(i int) bool {
		return b.seqTree[i].Seq.Compare(op.Seq) >= 0
	})
	b.seqTree = append(b.seqTree, nil)
	copy(b.seqTree[i+1:], b.seqTree[i:])
	b.seqTree[i] = op
}

// --- opcode change ---------------------------------------------------------

// ChangeOpcode removes op from the per-opcode index if indexed, updates
// its opcode, and re-indexes, re-deriving the branch/call/marker/
// commutative/arity flags for the new opcode.
func (b *PcodeOpBank) ChangeOpcode(op *PcodeOp, newOpcode Opcode) {
	b.unindexOpcode(op)
	op.Opcode = newOpcode
	op.applyOpcodeFlags()
	b.indexOpcode(op)
}

func (b *PcodeOpBank) indexOpcode(op *PcodeOp) {
	if !indexedOpcodes[op.Opcode] {
		return
	}
	l := b.perOpcode[op.Opcode]
	elem := l.PushBack(op)
	if op.lpos == nil {
		op.lpos = &listPos{}
	}
	op.lpos.opElem = elem
}

func (b *PcodeOpBank) unindexOpcode(op *PcodeOp) {
	if op.lpos == nil || op.lpos.opElem == nil {
		return
	}
	if l, ok := b.perOpcode[op.Opcode]; ok {
		l.Remove(op.lpos.opElem)
	}
	op.lpos.opElem = nil
}

// --- liveness --------------------------------------------------------------

// MarkAlive moves op from the dead list to the alive list. Fails (no-op,
// returns false) if op is already alive.
func (b *PcodeOpBank) MarkAlive(op *PcodeOp) bool {
	if !op.IsDead() {
		return false
	}
	b.deadList.Remove(op.lpos.lifeElem)
	op.lpos.lifeElem = b.aliveList.PushBack(op)
	op.dead = false
	op.membership = ListAlive
	return true
}

// MarkDead moves op from the alive list to the dead list. Fails (no-op,
// returns false) if op is already dead.
func (b *PcodeOpBank) MarkDead(op *PcodeOp) bool {
	if op.IsDead() {
		return false
	}
	b.aliveList.Remove(op.lpos.lifeElem)
	op.lpos.lifeElem = b.deadList.PushBack(op)
	op.dead = true
	op.membership = ListDead
	return true
}

// Destroy removes op from all indices and appends it to the retirement
// list, never to be reused. op must be dead.
func (b *PcodeOpBank) Destroy(op *PcodeOp) bool {
	if !op.IsDead() {
		return false
	}
	b.deadList.Remove(op.lpos.lifeElem)
	b.unindexOpcode(op)
	b.removeSeq(op)
	b.retired = append(b.retired, op)
	op.lpos = nil
	op.membership = ListNone
	return true
}

func (b *PcodeOpBank) removeSeq(op *PcodeOp) {
	i := sort.Search(len(b.seqTree), func(i int) bool {
		return b.seqTree[i].Seq.Compare(op.Seq) >= 0
	})
	for i < len(b.seqTree) && b.seqTree[i] != op {
		i++
	}
	if i < len(b.seqTree) {
		b.seqTree = append(b.seqTree[:i], b.seqTree[i+1:]...)
	}
}

// DestroyDead destroys every op currently in the dead list.
func (b *PcodeOpBank) DestroyDead() {
	var victims []*PcodeOp
	for e := b.deadList.Front(); e != nil; e = e.Next() {
		victims = append(victims, e.Value.(*PcodeOp))
	}
	for _, op := range victims {
		b.Destroy(op)
	}
}

// --- dead-list splicing -----------------------------------------------------

// InsertAfterDead splices op into the dead list immediately after prev
// (prev == nil means push to front).
func (b *PcodeOpBank) InsertAfterDead(op, prev *PcodeOp) {
	if op.lpos != nil && op.lpos.lifeElem != nil {
		b.deadList.Remove(op.lpos.lifeElem)
	}
	var elem *list.Element
	if prev == nil {
		elem = b.deadList.PushFront(op)
	} else {
		elem = b.deadList.InsertAfter(op, prev.lpos.lifeElem)
	}
	if op.lpos == nil {
		op.lpos = &listPos{}
	}
	op.lpos.lifeElem = elem
}

// MoveSequenceDead splices the dead-list run [first, last] (inclusive, in
// current dead-list order) to just after prev.
func (b *PcodeOpBank) MoveSequenceDead(first, last, prev *PcodeOp) {
	var run []*PcodeOp
	collecting := false
	for e := b.deadList.Front(); e != nil; e = e.Next() {
		op := e.Value.(*PcodeOp)
		if op == first {
			collecting = true
		}
		if collecting {
			run = append(run, op)
		}
		if op == last {
			break
		}
	}
	cursor := prev
	for _, op := range run {
		b.InsertAfterDead(op, cursor)
		cursor = op
	}
}

// MarkIncidentalCopy sets SFIncidentalCopy on every COPY in the dead-list
// range [first, last].
func (b *PcodeOpBank) MarkIncidentalCopy(first, last *PcodeOp) {
	collecting := false
	for e := b.deadList.Front(); e != nil; e = e.Next() {
		op := e.Value.(*PcodeOp)
		if op == first {
			collecting = true
		}
		if collecting && op.Opcode == OpCopy {
			op.Secondary |= SFIncidentalCopy
		}
		if op == last {
			break
		}
	}
}

// --- queries -----------------------------------------------------------------

// FindOp returns the op with exactly this SeqNum, if present.
func (b *PcodeOpBank) FindOp(seq SeqNum) (*PcodeOp, bool) {
	i := sort.Search(len(b.seqTree), func(i int) bool {
		return b.seqTree[i].Seq.Compare(seq) >= 0
	})
	if i < len(b.seqTree) && b.seqTree[i].Seq.Compare(seq) == 0 {
		return b.seqTree[i], true
	}
	return nil, false
}

// LowerBound returns the index of the first op whose SeqNum >= seq.
func (b *PcodeOpBank) LowerBound(seq SeqNum) int {
	return sort.Search(len(b.seqTree), func(i int) bool {
		return b.seqTree[i].Seq.Compare(seq) >= 0
	})
}

// UpperBound returns the index of the first op whose SeqNum > seq.
func (b *PcodeOpBank) UpperBound(seq SeqNum) int {
	return sort.Search(len(b.seqTree), func(i int) bool {
		return b.seqTree[i].Seq.Compare(seq) > 0
	})
}

// All returns every op in address/time order. Callers must not mutate the
// bank while iterating the returned slice — it is a live view, not a
// defensive copy, matching the lazy-cursor design note.
func (b *PcodeOpBank) All() []*PcodeOp { return b.seqTree }

// Target finds the op flagged as the starting op of the instruction at or
// after addr. Fails if there is no op at or after addr.
func (b *PcodeOpBank) Target(addr Address) (*PcodeOp, bool) {
	space := addr.Space
	seq := NewSeqNum(addr, 0, 0)
	i := b.LowerBound(seq)
	if i >= len(b.seqTree) {
		return nil, false
	}
	first := b.seqTree[i]
	for i > 0 && b.seqTree[i-1].Seq.Addr.Space == space && b.seqTree[i-1].Seq.Addr.Offset == first.Seq.Addr.Offset {
		i--
		first = b.seqTree[i]
	}
	return first, true
}

// Fallthru returns the sequentially next op after op within the same
// instruction, or — if op is the last op of its instruction — the first
// op of the next instruction, but only when that next block is reachable
// by a single, unambiguous edge (see SPEC_FULL.md's resolution of the
// fallthru open question). The caller (internal/block) supplies
// singlePred since PcodeOpBank has no block knowledge of its own.
func (b *PcodeOpBank) Fallthru(op *PcodeOp, singlePred func(next *PcodeOp) bool) (*PcodeOp, bool) {
	i := b.LowerBound(op.Seq)
	if i >= len(b.seqTree) || b.seqTree[i] != op {
		return nil, false
	}
	if i+1 >= len(b.seqTree) {
		return nil, false
	}
	next := b.seqTree[i+1]
	if singlePred != nil && !singlePred(next) {
		return nil, false
	}
	return next, true
}

// GetCodeList returns a view into the per-opcode index for STORE, LOAD,
// RETURN, or CALLOTHER, in insertion order.
func (b *PcodeOpBank) GetCodeList(opcode Opcode) []*PcodeOp {
	l, ok := b.perOpcode[opcode]
	if !ok {
		return nil
	}
	out := make([]*PcodeOp, 0, l.Len())
	for e := l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*PcodeOp))
	}
	return out
}

// AliveCount / DeadCount report the lengths of the alive and dead lists.
func (b *PcodeOpBank) AliveCount() int { return b.aliveList.Len() }
func (b *PcodeOpBank) DeadCount() int  { return b.deadList.Len() }

// SaveCounter / RestoreCounter persist the bank's Time counter across
// decoding, per spec.md's policy that counters survive round-trips.
func (b *PcodeOpBank) SaveCounter() uint64     { return b.counter.Save() }
func (b *PcodeOpBank) RestoreCounter(v uint64) { b.counter.Restore(v) }
func (b *PcodeOpBank) MaxSeenTime() uint64     { return b.maxSeenTime }

// DebugDump renders the bank's alive/dead contents for -debug tooling.
func (b *PcodeOpBank) DebugDump() string {
	return pretty.Sprint(struct {
		Alive, Dead int
		Ops         []*PcodeOp
	}{b.AliveCount(), b.DeadCount(), b.seqTree})
}

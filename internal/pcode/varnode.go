package pcode

// FlowRole classifies how a Varnode's value came to exist.
type FlowRole int

const (
	RoleInput FlowRole = iota
	RoleConstant
	RoleFree
	RoleWritten
	RolePersistent
)

// VarnodeFlags is a bitset of the boolean properties a Varnode may carry.
type VarnodeFlags uint32

const (
	FlagAddrTied VarnodeFlags = 1 << iota
	FlagAutoLive
	FlagAddrForce
	FlagMapped
	FlagTypeLocked
	FlagPersist
	FlagImplied
	FlagExplicit
	FlagBooleanOutput
	FlagProtoPartial
	FlagPartialRoot
	FlagMarked
	FlagCreatedIndex
)

func (f VarnodeFlags) Has(bit VarnodeFlags) bool { return f&bit != 0 }

// Descendant is a (op, slot) pair recording one read of a Varnode.
type Descendant struct {
	Op   *PcodeOp
	Slot int
}

// Varnode is a typed byte-range at an address, with def/use links.
type Varnode struct {
	id int // stable arena index, doubles as "create index"

	Addr Address
	Size int // bytes

	Role FlowRole
	Def  *PcodeOp // defining op when Role == RoleWritten, else nil

	Descendants []Descendant

	High interface{} // *block.HighVariable; kept as interface{} to avoid an import cycle

	NZMask       uint64      // bits that might be nonzero
	ConsumedMask uint64      // bits downstream uses care about
	DataType     interface{} // *types.Datatype
	Symbol       interface{} // opaque symbol-entry reference

	Flags VarnodeFlags
}

func NewVarnode(id int, addr Address, size int) *Varnode {
	mask := uint64(0xFFFFFFFFFFFFFFFF)
	if size < 8 {
		mask = (uint64(1) << uint(8*size)) - 1
	}
	return &Varnode{id: id, Addr: addr, Size: size, Role: RoleFree, NZMask: mask, ConsumedMask: mask}
}

func (v *Varnode) ID() int { return v.id }

func (v *Varnode) IsConstant() bool { return v.Role == RoleConstant }
func (v *Varnode) IsWritten() bool  { return v.Role == RoleWritten }
func (v *Varnode) IsInput() bool    { return v.Role == RoleInput }

// AddDescendant records that op reads v at the given input slot.
func (v *Varnode) AddDescendant(op *PcodeOp, slot int) {
	v.Descendants = append(v.Descendants, Descendant{Op: op, Slot: slot})
}

// RemoveDescendant removes exactly one (op, slot) entry, used when an op
// is rewired away from reading v.
func (v *Varnode) RemoveDescendant(op *PcodeOp, slot int) {
	for i, d := range v.Descendants {
		if d.Op == op && d.Slot == slot {
			v.Descendants = append(v.Descendants[:i], v.Descendants[i+1:]...)
			return
		}
	}
}

// SetDef installs op as v's unique defining op and flips v to Written.
// Maintains the invariant output.Def == v.
func (v *Varnode) SetDef(op *PcodeOp) {
	v.Def = op
	v.Role = RoleWritten
}

// ClearDef detaches v from its defining op (used when the op is
// destroyed or rewritten to have no output).
func (v *Varnode) ClearDef() {
	v.Def = nil
	v.Role = RoleFree
}

// Package pcode implements the p-code intermediate representation: typed
// addresses within named address spaces, SSA varnodes, and the
// three-address PcodeOp itself, plus the pure numeric OpBehavior
// evaluators keyed by opcode.
package pcode

import "fmt"

// AddrSpace is a named region of the address universe. Indices are dense
// and globally unique within one run (one Funcdata/TypeFactory pair).
type AddrSpace struct {
	Name      string
	Index     int
	WordSize  int // bytes per addressable unit, >= 1
	ByteSize  int // pointer width in bytes for this space
	BigEndian bool

	Heritaged   bool // SSA construction has run on this space
	IsConstant  bool // hosts immediates
	IsUnique    bool // hosts compiler temporaries
	IsIop       bool // encodes op pointers as offsets
	HostsDead   bool // hosts dead-code placeholders
}

// addressableRange returns the number of distinct offsets this space can
// represent, given ByteSize (used to truncate offsets on renormalization).
func (s *AddrSpace) addressableRange() uint64 {
	if s.ByteSize <= 0 || s.ByteSize >= 8 {
		return 0 // 0 means "no wraparound", i.e. full 64-bit range
	}
	return uint64(1) << uint(8*s.ByteSize)
}

// SpaceManager owns the dense, globally-unique index assignment for one
// run's AddrSpace table.
type SpaceManager struct {
	spaces []*AddrSpace
	byName map[string]*AddrSpace
}

func NewSpaceManager() *SpaceManager {
	return &SpaceManager{byName: make(map[string]*AddrSpace)}
}

// AddSpace installs sp at the next dense index, overwriting whatever
// index sp.Index previously held.
func (m *SpaceManager) AddSpace(sp *AddrSpace) *AddrSpace {
	sp.Index = len(m.spaces)
	m.spaces = append(m.spaces, sp)
	m.byName[sp.Name] = sp
	return sp
}

func (m *SpaceManager) GetSpace(name string) (*AddrSpace, bool) {
	sp, ok := m.byName[name]
	return sp, ok
}

func (m *SpaceManager) GetSpaceByIndex(i int) *AddrSpace {
	if i < 0 || i >= len(m.spaces) {
		return nil
	}
	return m.spaces[i]
}

func (m *SpaceManager) NumSpaces() int { return len(m.spaces) }

// Address is a (space, offset) pair. Addresses compare lexicographically
// by (space.Index, offset).
type Address struct {
	Space  *AddrSpace
	Offset uint64
}

func NewAddress(space *AddrSpace, offset uint64) Address {
	return Address{Space: space, Offset: offset}
}

// Compare implements the total order: space index first, then offset.
func (a Address) Compare(b Address) int {
	ai, bi := spaceIndex(a.Space), spaceIndex(b.Space)
	if ai != bi {
		if ai < bi {
			return -1
		}
		return 1
	}
	switch {
	case a.Offset < b.Offset:
		return -1
	case a.Offset > b.Offset:
		return 1
	default:
		return 0
	}
}

func spaceIndex(s *AddrSpace) int {
	if s == nil {
		return -1
	}
	return s.Index
}

func (a Address) IsInvalid() bool { return a.Space == nil }

// Renormalize truncates the offset modulo the space's addressable range,
// as required when an address is recomputed at a different effective
// size than the space's native ByteSize.
func (a Address) Renormalize() Address {
	if a.Space == nil {
		return a
	}
	rng := a.Space.addressableRange()
	if rng == 0 {
		return a
	}
	return Address{Space: a.Space, Offset: a.Offset % rng}
}

func (a Address) String() string {
	if a.Space == nil {
		return "<invalid>"
	}
	return fmt.Sprintf("%s:0x%x", a.Space.Name, a.Offset)
}

// Overlaps reports whether the byte ranges [a, a+size) and [b, b+bsize)
// lie in the same space and share at least one byte — used by
// address-tied alias checks.
func (a Address) Overlaps(size int, b Address, bsize int) bool {
	if a.Space != b.Space || a.Space == nil {
		return false
	}
	aEnd := a.Offset + uint64(size)
	bEnd := b.Offset + uint64(bsize)
	return a.Offset < bEnd && b.Offset < aEnd
}

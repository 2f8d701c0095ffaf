package block

import "github.com/sentra-lang/pcodec/internal/pcode"

// HighVariable groups the varnodes that merge into one source-level
// variable. The core's scope stops at this merge-group bookkeeping — name
// assignment and scoping belong to a higher layer this package does not
// implement.
type HighVariable struct {
	Name    string
	Members []*pcode.Varnode
	Type    interface{}
}

func NewHighVariable(name string) *HighVariable {
	return &HighVariable{Name: name}
}

// Merge absorbs other's members into h and repoints their High field.
func (h *HighVariable) Merge(other *HighVariable) {
	if other == h {
		return
	}
	for _, v := range other.Members {
		v.High = h
	}
	h.Members = append(h.Members, other.Members...)
}

// Add attaches v to h.
func (h *HighVariable) Add(v *pcode.Varnode) {
	v.High = h
	h.Members = append(h.Members, v)
}

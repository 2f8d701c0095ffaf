// Package rewrite implements the pass/rule scheduler: an opcode-dispatch
// table of Rules, each trying a pattern against one op (or, for
// whole-function rules like the conditional-execution simplifier,
// against the function as a whole) and reporting whether it changed
// anything. A rule finding its pattern absent is a recoverable analysis
// failure — it returns no change and the driver moves to the next rule.
package rewrite

import (
	"github.com/pkg/errors"

	"github.com/sentra-lang/pcodec/internal/funcdata"
	"github.com/sentra-lang/pcodec/internal/pcode"
)

// Rule is one rewrite pattern. Opcodes returning nil marks a
// whole-function rule: TryOp is called once with op == nil.
type Rule interface {
	Name() string
	Opcodes() []pcode.Opcode
	TryOp(fd *funcdata.Funcdata, op *pcode.PcodeOp) (changed bool, err error)
}

// Pass is a funcdata.Action built from a fixed rule list: every alive op
// is offered to each rule dispatched on its opcode, then whole-function
// rules run once. A pattern not matching is silent — only an error
// (invariant violation) aborts the pass.
type Pass struct {
	PassName string
	Rules    []Rule

	Changed int
}

func NewPass(name string, rules ...Rule) *Pass {
	return &Pass{PassName: name, Rules: rules}
}

func (p *Pass) Name() string { return p.PassName }

func (p *Pass) Apply(fd *funcdata.Funcdata) error {
	dispatch := make(map[pcode.Opcode][]Rule)
	var wholeFunction []Rule
	for _, r := range p.Rules {
		ocs := r.Opcodes()
		if len(ocs) == 0 {
			wholeFunction = append(wholeFunction, r)
			continue
		}
		for _, oc := range ocs {
			dispatch[oc] = append(dispatch[oc], r)
		}
	}

	for _, op := range fd.Bank.All() {
		if op.IsDead() {
			continue
		}
		for _, r := range dispatch[op.Opcode] {
			changed, err := r.TryOp(fd, op)
			if err != nil {
				return errors.Wrapf(err, "rule %q on op %s", r.Name(), op.Seq)
			}
			if changed {
				p.Changed++
			}
		}
	}

	for _, r := range wholeFunction {
		changed, err := r.TryOp(fd, nil)
		if err != nil {
			return errors.Wrapf(err, "rule %q", r.Name())
		}
		if changed {
			p.Changed++
		}
	}
	return nil
}

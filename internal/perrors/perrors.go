// Package perrors supplies the typed error value spec.md §7's error
// taxonomy calls for: a PcodecError carrying a Kind so a caller at the
// outermost Action boundary can tell a fatal invariant violation apart
// from an emulation-only failure without parsing a message string.
// Recoverable analysis failures stay the plain (bool, error)-free
// zero-changed return spec.md §7 describes — they never go through this
// type.
package perrors

import "fmt"

// Kind classifies a PcodecError per spec.md §7's taxonomy.
type Kind int

const (
	// KindInvariant is a fatal invariant violation (duplicate type id,
	// out-of-order fields, unresolved type reference, ...): it aborts
	// the current function/Action.
	KindInvariant Kind = iota
	// KindAnalysisFailure marks an error escaping a rewrite rule that
	// should have returned a silent zero-changed result instead — a
	// bug in the rule, not a recoverable "pattern absent" outcome.
	KindAnalysisFailure
	// KindWarning is a non-fatal corrective decision (overlapping
	// fields dropped, truncation synthesized, alignment adjusted)
	// reported alongside the Datatype it was attached to.
	KindWarning
	// KindEmulation is fatal to the Emulator only (unimplemented op,
	// invalid constant collapse) — it does not abort the decompiler
	// run that invoked the emulator.
	KindEmulation
)

func (k Kind) String() string {
	switch k {
	case KindInvariant:
		return "invariant"
	case KindAnalysisFailure:
		return "analysis-failure"
	case KindWarning:
		return "warning"
	case KindEmulation:
		return "emulation"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// PcodecError is the typed error spec.md §7 requires: a Kind plus enough
// structured context (function/type name, op SeqNum as a string) to
// identify where it happened, and the underlying cause to preserve
// whatever stack trace github.com/pkg/errors attached before it reached
// here.
type PcodecError struct {
	Kind    Kind
	Func    string // owning Funcdata.Name, if known
	Context string // type name, op SeqNum.String(), or similar locator
	Msg     string
	Cause   error
}

func (e *PcodecError) Error() string {
	switch {
	case e.Func != "" && e.Context != "":
		return fmt.Sprintf("%s: %s (%s, %s)", e.Kind, e.Msg, e.Func, e.Context)
	case e.Func != "":
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Msg, e.Func)
	case e.Context != "":
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Msg, e.Context)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

func (e *PcodecError) Unwrap() error { return e.Cause }

// New builds a PcodecError with no wrapped cause.
func New(kind Kind, msg string) *PcodecError {
	return &PcodecError{Kind: kind, Msg: msg}
}

// Newf builds a PcodecError with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *PcodecError {
	return &PcodecError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind to cause, keeping cause reachable via errors.Unwrap
// (and therefore via github.com/pkg/errors' stack trace on cause, if it
// has one).
func Wrap(kind Kind, cause error, msg string) *PcodecError {
	return &PcodecError{Kind: kind, Msg: msg, Cause: cause}
}

// In returns a copy of e with Func/Context set, for the call site closest
// to the Action boundary to attach identifying context per spec.md §7's
// propagation policy, without the originating error needing to know its
// caller's name up front.
func (e *PcodecError) In(funcName, context string) *PcodecError {
	cp := *e
	cp.Func = funcName
	cp.Context = context
	return &cp
}

// KindOf reports the Kind of err if it is (or wraps) a *PcodecError, and
// whether one was found.
func KindOf(err error) (Kind, bool) {
	var pe *PcodecError
	for err != nil {
		if p, ok := err.(*PcodecError); ok {
			pe = p
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if pe == nil {
		return 0, false
	}
	return pe.Kind, true
}

// Package diag holds ambient CLI/debug reporting: colored warning/fatal
// lines and struct dumps, used by cmd/pcodec's -debug flag.
package diag

import (
	"fmt"
	"io"
	"os"

	"github.com/kr/pretty"
	"github.com/kr/text"
	"github.com/mattn/go-isatty"
)

var colorEnabled = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

const (
	colorYellow = "\x1b[33m"
	colorRed    = "\x1b[31m"
	colorReset  = "\x1b[0m"
)

// Warn logs a non-fatal warning (spec.md §7's "User warning" category).
func Warn(format string, args ...interface{}) {
	writeColored(os.Stderr, colorYellow, "warning", format, args...)
}

// Fatal logs an invariant violation before the caller aborts the function.
func Fatal(format string, args ...interface{}) {
	writeColored(os.Stderr, colorRed, "fatal", format, args...)
}

func writeColored(w io.Writer, color, label, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if colorEnabled {
		fmt.Fprintf(w, "%s%s: %s%s\n", color, label, msg, colorReset)
		return
	}
	fmt.Fprintf(w, "%s: %s\n", label, msg)
}

// Dump pretty-prints v (a PcodeOp, Datatype, or any struct) indented for
// nested composite readability.
func Dump(v interface{}) string {
	return text.Indent(fmt.Sprintf("%# v", pretty.Formatter(v)), "  ")
}

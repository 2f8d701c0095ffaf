// cmd/pcodec/commands/version.go
package commands

import "fmt"

// Version is the CLI's own release tag, set at build time the same way
// the teacher's cmd/sentra stamps a VERSION constant (ldflags are not
// wired here since this module has no release pipeline of its own yet).
const Version = "0.1.0"

// VersionCommand prints version and component information.
func VersionCommand() {
	fmt.Printf("pcodec v%s\n", Version)
	fmt.Println("a p-code decompiler back end: types, rewrite rules, emulator, wire codec")
}

// cmd/pcodec/main.go
package main

import (
	"fmt"
	"os"

	"github.com/sentra-lang/pcodec/cmd/pcodec/commands"
)

// commandAliases mirrors cmd/sentra's single-letter shortcut table.
var commandAliases = map[string]string{
	"d": "decode",
	"e": "emulate",
	"v": "version",
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run implements the CLI and returns a process exit code rather than
// calling os.Exit directly, so cmd/pcodec's own tests can drive it
// in-process via testscript.RunMain.
func run(args []string) int {
	if len(args) == 0 {
		showUsage()
		return 0
	}

	cmd := args[0]
	if alias, ok := commandAliases[cmd]; ok {
		cmd = alias
	}

	switch cmd {
	case "--help", "-h", "help":
		showUsage()
		return 0
	case "--version", "version":
		commands.VersionCommand()
		return 0
	case "decode":
		if err := commands.DecodeCommand(args[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "pcodec decode: %v\n", err)
			return 1
		}
		return 0
	case "emulate":
		if err := commands.EmulateCommand(args[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "pcodec emulate: %v\n", err)
			return 1
		}
		return 0
	default:
		fmt.Fprintf(os.Stderr, "pcodec: unknown command %q\n\n", cmd)
		showUsage()
		return 1
	}
}

func showUsage() {
	fmt.Println("pcodec - a p-code decompiler back end")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  pcodec decode [-debug] <file.json>    Decode a wire-format type document     (alias: d)")
	fmt.Println("  pcodec emulate <program.json>         Step-run a declarative p-code program  (alias: e)")
	fmt.Println("  pcodec version                         Show version information               (alias: v)")
	fmt.Println("  pcodec help                            Show this message")
}

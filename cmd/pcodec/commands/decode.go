// cmd/pcodec/commands/decode.go
package commands

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/sentra-lang/pcodec/internal/diag"
	"github.com/sentra-lang/pcodec/internal/types"
	"github.com/sentra-lang/pcodec/internal/wire"
)

// DecodeCommand reads a wire-format JSON document (produced by
// internal/wire.Encode) and prints a human-readable summary of the
// decoded type: its metatype, size, and (for composites) field layout.
func DecodeCommand(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: pcodec decode <file.json>")
	}
	debug := false
	var path string
	for _, a := range args {
		if a == "-debug" {
			debug = true
			continue
		}
		path = a
	}
	if path == "" {
		return fmt.Errorf("usage: pcodec decode [-debug] <file.json>")
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	tf := types.NewFactory(8)
	d, err := wire.Decode(tf, payload)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}

	fmt.Printf("%s: %s, size %s\n", d.Name, d.Meta, humanize.Bytes(uint64(d.Size)))
	for _, f := range d.Fields {
		fmt.Printf("  +%-4d %-20s %s\n", f.Offset, f.Name, f.Type.Meta)
	}
	if debug {
		fmt.Println(diag.Dump(d))
	}
	return nil
}

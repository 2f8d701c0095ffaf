// cmd/pcodec/commands/emulate.go
package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/sentra-lang/pcodec/internal/config"
	"github.com/sentra-lang/pcodec/internal/emulator"
	"github.com/sentra-lang/pcodec/internal/funcdata"
	"github.com/sentra-lang/pcodec/internal/pcode"
)

// program is the declarative JSON shape EmulateCommand reads: just
// enough to stand up a SpaceManager, a seeded MemoryState, and a single
// block of PcodeOps, so the step emulator (§4.4) has something to run
// against without needing a real translator front end.
type program struct {
	Spaces []struct {
		Name      string `json:"name"`
		ByteSize  int    `json:"byte_size"`
		WordSize  int    `json:"word_size"`
		BigEndian bool   `json:"big_endian"`
	} `json:"spaces"`

	Memory []struct {
		Space  string `json:"space"`
		Offset uint64 `json:"offset"`
		Size   int    `json:"size"`
		Value  uint64 `json:"value"`
	} `json:"memory"`

	Ops []struct {
		Space   string       `json:"space"`
		Offset  uint64       `json:"offset"`
		Opcode  string       `json:"opcode"`
		Inputs  []ref        `json:"inputs"`
		Output  *ref         `json:"output,omitempty"`
	} `json:"ops"`

	Entry struct {
		Space  string `json:"space"`
		Offset uint64 `json:"offset"`
	} `json:"entry"`

	MaxSteps int `json:"max_steps"`
}

type ref struct {
	Space  string `json:"space"`
	Offset uint64 `json:"offset"`
	Size   int    `json:"size"`
}

// EmulateCommand loads a program JSON file, builds its address spaces,
// p-code ops, and seed memory, then single-steps the emulator (§4.4)
// until MaxSteps is reached or the program halts, printing one line per
// step.
func EmulateCommand(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: pcodec emulate <program.json>")
	}
	path := args[0]
	payload, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var p program
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	archCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading arch config: %w", err)
	}

	sm := pcode.NewSpaceManager()
	for _, s := range p.Spaces {
		sm.AddSpace(&pcode.AddrSpace{Name: s.Name, ByteSize: s.ByteSize, WordSize: maxInt(s.WordSize, 1), BigEndian: s.BigEndian})
	}
	space := func(name string) (*pcode.AddrSpace, error) {
		sp, ok := sm.GetSpace(name)
		if !ok {
			return nil, fmt.Errorf("undeclared address space %q", name)
		}
		return sp, nil
	}

	fd := funcdata.New("emulate", sm, archCfg.MaxBaseTypeSize)
	blk := fd.Graph.AddBlock()

	for _, o := range p.Ops {
		sp, err := space(o.Space)
		if err != nil {
			return err
		}
		opcode, ok := pcode.ParseOpcode(o.Opcode)
		if !ok {
			return fmt.Errorf("unknown opcode %q", o.Opcode)
		}
		op := fd.CreateOp(blk, pcode.NewAddress(sp, o.Offset), opcode, len(o.Inputs))
		for i, in := range o.Inputs {
			inSp, err := space(in.Space)
			if err != nil {
				return err
			}
			fd.OpSetInput(op, i, pcode.NewVarnode(i, pcode.NewAddress(inSp, in.Offset), in.Size))
		}
		if o.Output != nil {
			outSp, err := space(o.Output.Space)
			if err != nil {
				return err
			}
			fd.OpSetOutput(op, pcode.NewVarnode(len(o.Inputs), pcode.NewAddress(outSp, o.Output.Offset), o.Output.Size))
		}
	}

	entrySpace, err := space(p.Entry.Space)
	if err != nil {
		return err
	}
	e := emulator.New(fd, pcode.NewAddress(entrySpace, p.Entry.Offset), nil)

	for _, m := range p.Memory {
		msp, err := space(m.Space)
		if err != nil {
			return err
		}
		e.Mem.Write(pcode.NewAddress(msp, m.Offset), m.Size, m.Value)
	}

	maxSteps := p.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 1000
	}
	bankSize := len(fd.Bank.All())
	seedBytes := 0
	for _, m := range p.Memory {
		seedBytes += m.Size
	}
	fmt.Printf("loaded %d op(s) across %d space(s), %s of seed memory\n",
		bankSize, len(p.Spaces), humanize.Bytes(uint64(seedBytes)))

	for step := 0; step < maxSteps && !e.Halted; step++ {
		pc := e.PC()
		if err := e.Step(); err != nil {
			return fmt.Errorf("step %d at %s: %w", step, pc, err)
		}
		fmt.Printf("step %d: %s -> %s\n", step, pc, e.PC())
	}
	if !e.Halted {
		fmt.Printf("stopped after %d steps without halting\n", maxSteps)
	} else {
		fmt.Println("halted")
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Package config holds architecture configuration equivalent to the
// teacher's build-variable pattern (package-level vars baked into
// cmd/sentra/main.go), generalized here into an ArchConfig struct since
// this repo's "build variables" are decompiler knobs rather than
// version strings: the address space table a target exposes, the
// maximum size the TypeFactory will build a base type at, and default
// endianness/word size for spaces a config entry leaves unspecified.
package config

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/sentra-lang/pcodec/internal/pcode"
)

// SpaceConfig describes one address space to register with a
// pcode.SpaceManager. Zero WordSize defaults to 1 byte (see
// ArchConfig.NewSpaceManager).
type SpaceConfig struct {
	Name      string `json:"name"`
	ByteSize  int    `json:"byte_size"`
	WordSize  int    `json:"word_size,omitempty"`
	BigEndian bool   `json:"big_endian,omitempty"`
	IsUnique  bool   `json:"is_unique,omitempty"`
	IsConstant bool  `json:"is_constant,omitempty"`
}

// ArchConfig is the set of architecture knobs every package in this repo
// that builds a Funcdata/TypeFactory/SpaceManager should read from,
// instead of hardcoding them — mirrors spec.md §2's "these are fixed by
// the target architecture, not by this module" note.
type ArchConfig struct {
	Spaces          []SpaceConfig `json:"spaces"`
	MaxBaseTypeSize int           `json:"max_basetype_size"`
	BigEndian       bool          `json:"big_endian"`
	WordSize        int           `json:"word_size"`
}

// Default is the fallback ArchConfig used when PCODEC_ARCH is unset: a
// generic little-endian, byte-addressed target with 8-byte pointers and the four address
// spaces every component in this repo's tests already assumes exist
// (code, ram/register-equivalent "ram", "unique", "const").
var Default = ArchConfig{
	Spaces: []SpaceConfig{
		{Name: "ram", ByteSize: 8, WordSize: 1},
		{Name: "code", ByteSize: 8},
		{Name: "unique", ByteSize: 8, IsUnique: true},
		{Name: "const", ByteSize: 8, IsConstant: true},
	},
	MaxBaseTypeSize: 16,
	WordSize:        1,
}

// EnvOverride is the environment variable naming a JSON file to load an
// ArchConfig from in place of Default, following the module loader's
// layered search-path idiom (an explicit override short-circuits the
// built-in fallback rather than merging with it).
const EnvOverride = "PCODEC_ARCH"

// Load returns the ArchConfig to use: the file named by PCODEC_ARCH if
// set, otherwise Default.
func Load() (ArchConfig, error) {
	path := os.Getenv(EnvOverride)
	if path == "" {
		return Default, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ArchConfig{}, errors.Wrapf(err, "config: reading %s=%q", EnvOverride, path)
	}
	var cfg ArchConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ArchConfig{}, errors.Wrapf(err, "config: parsing %s=%q", EnvOverride, path)
	}
	return cfg, nil
}

// NewSpaceManager builds a pcode.SpaceManager from c's space table.
func (c ArchConfig) NewSpaceManager() *pcode.SpaceManager {
	sm := pcode.NewSpaceManager()
	for _, s := range c.Spaces {
		wordSize := s.WordSize
		if wordSize <= 0 {
			wordSize = 1
		}
		sm.AddSpace(&pcode.AddrSpace{
			Name:       s.Name,
			ByteSize:   s.ByteSize,
			WordSize:   wordSize,
			BigEndian:  s.BigEndian || c.BigEndian,
			IsUnique:   s.IsUnique,
			IsConstant: s.IsConstant,
		})
	}
	return sm
}

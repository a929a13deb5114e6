// Package manifest handles tubular.toml project configuration.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/chazu/tubular/compiler"
	"github.com/chazu/tubular/vm"
)

// FileName is the configuration file looked up next to the source.
const FileName = "tubular.toml"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Manifest represents a tubular.toml configuration.
type Manifest struct {
	Module ModuleConfig `toml:"module"`
	Emit   EmitConfig   `toml:"emit"`
	Run    RunConfig    `toml:"run"`

	// Path is the file the manifest was read from, empty for defaults.
	Path string `toml:"-"`
}

// ModuleConfig configures the emitted module.
type ModuleConfig struct {
	MemoryPages   int  `toml:"memory-pages"`
	ExportRuntime bool `toml:"export-runtime"`
}

// EmitConfig configures text layout.
type EmitConfig struct {
	IndentWidth int  `toml:"indent-width"`
	Comments    bool `toml:"comments"`
}

// RunConfig configures execution on the machine.
type RunConfig struct {
	MaxSteps int `toml:"max-steps"`
}

// Default returns the configuration used when no file is found.
func Default() *Manifest {
	opts := compiler.DefaultOptions()
	return &Manifest{
		Module: ModuleConfig{MemoryPages: opts.MemoryPages, ExportRuntime: opts.ExportRuntime},
		Emit:   EmitConfig{IndentWidth: opts.IndentWidth, Comments: opts.Comments},
		Run:    RunConfig{MaxSteps: vm.DefaultMaxSteps},
	}
}

// Load parses the tubular.toml file in dir.
func Load(dir string) (*Manifest, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses a configuration file. Keys the file leaves out keep their
// default values; unknown keys are rejected.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: %w: unknown key(s) %s", path, ErrInvalid, strings.Join(keys, ", "))
	}

	m.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a tubular.toml file, then
// loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Validate reports the first out-of-range value.
func (m *Manifest) Validate() error {
	switch {
	case m.Module.MemoryPages < 1:
		return fmt.Errorf("%w: module.memory-pages must be at least 1, got %d", ErrInvalid, m.Module.MemoryPages)
	case m.Module.MemoryPages > 65536:
		return fmt.Errorf("%w: module.memory-pages must be at most 65536, got %d", ErrInvalid, m.Module.MemoryPages)
	case m.Emit.IndentWidth < 0:
		return fmt.Errorf("%w: emit.indent-width must not be negative, got %d", ErrInvalid, m.Emit.IndentWidth)
	case m.Run.MaxSteps < 1:
		return fmt.Errorf("%w: run.max-steps must be at least 1, got %d", ErrInvalid, m.Run.MaxSteps)
	}
	return nil
}

// CompilerOptions converts the configuration into emission options.
func (m *Manifest) CompilerOptions() compiler.Options {
	return compiler.Options{
		MemoryPages:   m.Module.MemoryPages,
		ExportRuntime: m.Module.ExportRuntime,
		IndentWidth:   m.Emit.IndentWidth,
		Comments:      m.Emit.Comments,
	}
}

// WriteFile writes the configuration as TOML.
func (m *Manifest) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", path, err)
	}

	if err := toml.NewEncoder(f).Encode(m); err != nil {
		f.Close()
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return nil
}

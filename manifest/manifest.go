// Package manifest handles clox.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/cthuloops/clox/pkg/bytecode"
	"github.com/cthuloops/clox/pkg/value"
)

// FileName is the name of the project configuration file.
const FileName = "clox.toml"

// Manifest represents a clox.toml project configuration.
type Manifest struct {
	Values ValuesConfig `toml:"values"`
	VM     VMConfig     `toml:"vm"`
	Log    LogConfig    `toml:"log"`
	Cache  CacheConfig  `toml:"cache"`

	// Dir is the directory containing the clox.toml file (set at load time).
	Dir string `toml:"-"`
}

// ValuesConfig configures value arrays such as constant pools.
type ValuesConfig struct {
	MinCapacity int `toml:"min-capacity"`
}

// VMConfig configures the interpreter.
type VMConfig struct {
	StackSize int  `toml:"stack-size"`
	Trace     bool `toml:"trace"`
}

// LogConfig configures logging. Verbosity 0 logs notices and above,
// 1 adds info, 2 adds debug; negative values are quieter.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// CacheConfig configures the chunk cache. An empty Path disables it.
type CacheConfig struct {
	Path string `toml:"path"`
}

// Default returns the configuration used when no clox.toml exists.
func Default() *Manifest {
	return &Manifest{
		Values: ValuesConfig{MinCapacity: value.MinCapacity},
		VM:     VMConfig{StackSize: bytecode.DefaultStackSize},
	}
}

// Load parses a clox.toml file from the given directory. Settings missing
// from the file keep their defaults.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a clox.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks that every setting is usable.
func (m *Manifest) Validate() error {
	if m.Values.MinCapacity < 1 {
		return fmt.Errorf("values.min-capacity must be at least 1, got %d", m.Values.MinCapacity)
	}
	// A constant pool never addresses more than MaxConstants values.
	if m.Values.MinCapacity > bytecode.MaxConstants {
		return fmt.Errorf("values.min-capacity must be at most %d, got %d", bytecode.MaxConstants, m.Values.MinCapacity)
	}
	if m.VM.StackSize < 1 {
		return fmt.Errorf("vm.stack-size must be at least 1, got %d", m.VM.StackSize)
	}
	if m.VM.StackSize > bytecode.MaxStackSize {
		return fmt.Errorf("vm.stack-size must be at most %d, got %d", bytecode.MaxStackSize, m.VM.StackSize)
	}
	return nil
}

// CachePath returns the absolute chunk cache path, or "" when caching is
// disabled. Relative paths are resolved against the manifest directory.
func (m *Manifest) CachePath() string {
	p := m.Cache.Path
	if p == "" || p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// Package manifest loads batch deployment manifests from YAML files.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/anchorwave/deployer/internal/core/domain"
)

// =============================================================================
// File Schema
// =============================================================================

// File is the on-disk manifest shape.
type File struct {
	// Network and Source apply to every contract that does not set its own.
	Network string `yaml:"network"`
	Source  string `yaml:"source"`

	// Mode is "sequential" or "parallel". Concurrency only applies to
	// parallel mode.
	Mode        string `yaml:"mode"`
	Concurrency int    `yaml:"concurrency"`

	Contracts []Contract `yaml:"contracts"`
}

// Contract is one deployment entry in the manifest.
type Contract struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Wasm      string   `yaml:"wasm"`
	SourceDir string   `yaml:"source_dir"`
	DependsOn []string `yaml:"depends_on"`
	Network   string   `yaml:"network"`
	Source    string   `yaml:"source"`
}

// =============================================================================
// Loading
// =============================================================================

// Load reads and validates a manifest. Relative wasm and source_dir paths are
// resolved against the manifest's own directory.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve manifest dir: %w", err)
	}
	f.resolvePaths(base)

	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) resolvePaths(base string) {
	for i := range f.Contracts {
		c := &f.Contracts[i]
		if c.Wasm != "" && !filepath.IsAbs(c.Wasm) {
			c.Wasm = filepath.Join(base, c.Wasm)
		}
		if c.SourceDir != "" && !filepath.IsAbs(c.SourceDir) {
			c.SourceDir = filepath.Join(base, c.SourceDir)
		}
	}
}

func (f *File) validate() error {
	if len(f.Contracts) == 0 {
		return fmt.Errorf("manifest has no contracts")
	}
	switch f.Mode {
	case "", "sequential", "parallel":
	default:
		return fmt.Errorf("unknown mode %q (want sequential or parallel)", f.Mode)
	}

	seen := make(map[string]bool, len(f.Contracts))
	for i, c := range f.Contracts {
		id := c.effectiveID()
		if id == "" {
			return fmt.Errorf("contract %d: id or name is required", i)
		}
		if seen[id] {
			return fmt.Errorf("contract %d: duplicate id %q", i, id)
		}
		seen[id] = true
		if c.Wasm == "" && c.SourceDir == "" {
			return fmt.Errorf("contract %q: wasm or source_dir is required", id)
		}
		if c.Wasm != "" && c.SourceDir != "" {
			return fmt.Errorf("contract %q: wasm and source_dir are mutually exclusive", id)
		}
	}

	// Dependencies must name contracts in this manifest.
	for _, c := range f.Contracts {
		for _, dep := range c.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("contract %q: unknown dependency %q", c.effectiveID(), dep)
			}
		}
	}
	return nil
}

// effectiveID falls back to the name when no explicit id is given.
func (c Contract) effectiveID() string {
	if c.ID != "" {
		return c.ID
	}
	return c.Name
}

// =============================================================================
// Conversion
// =============================================================================

// BatchItems converts the manifest contracts to batch items. Batch-level
// network and source defaults are left to the scheduler options; items carry
// only their own overrides.
func (f *File) BatchItems() []domain.BatchItem {
	items := make([]domain.BatchItem, 0, len(f.Contracts))
	for _, c := range f.Contracts {
		name := c.Name
		if name == "" {
			name = c.ID
		}
		items = append(items, domain.BatchItem{
			ID:        c.effectiveID(),
			Name:      name,
			WasmPath:  c.Wasm,
			SourceDir: c.SourceDir,
			DependsOn: c.DependsOn,
			Network:   c.Network,
			Source:    c.Source,
		})
	}
	return items
}

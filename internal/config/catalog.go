// Package config provides loading for the simulated-transfer catalog.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SizeBand assigns an average payload size to a contiguous file-id range.
type SizeBand struct {
	MinID    int64 `yaml:"min_id"`
	MaxID    int64 `yaml:"max_id"`
	AvgBytes int64 `yaml:"avg_bytes"`
}

// Catalog drives the simulated per-file byte sizes written into artifact
// descriptors. File ids outside every band fall back to DefaultBytes.
type Catalog struct {
	DefaultBytes int64      `yaml:"default_bytes"`
	Bands        []SizeBand `yaml:"bands"`
}

// DefaultCatalog is used when no catalog file is configured.
func DefaultCatalog() Catalog {
	return Catalog{
		DefaultBytes: 1 << 20,
		Bands: []SizeBand{
			{MinID: 10_000, MaxID: 999_999, AvgBytes: 256 << 10},
			{MinID: 1_000_000, MaxID: 9_999_999, AvgBytes: 4 << 20},
			{MinID: 10_000_000, MaxID: 100_000_000, AvgBytes: 32 << 20},
		},
	}
}

// LoadCatalog reads and validates a catalog YAML file.
func LoadCatalog(path string) (Catalog, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("op=config.LoadCatalog: resolve path: %w", err)
	}
	data, err := os.ReadFile(absPath) //nolint:gosec // path comes from operator config
	if err != nil {
		return Catalog{}, fmt.Errorf("op=config.LoadCatalog: read %s: %w", path, err)
	}

	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return Catalog{}, fmt.Errorf("op=config.LoadCatalog: parse %s: %w", path, err)
	}
	if cat.DefaultBytes <= 0 {
		cat.DefaultBytes = DefaultCatalog().DefaultBytes
	}
	for i, b := range cat.Bands {
		if b.MinID > b.MaxID {
			return Catalog{}, fmt.Errorf("op=config.LoadCatalog: band %d has min_id %d > max_id %d", i, b.MinID, b.MaxID)
		}
		if b.AvgBytes <= 0 {
			return Catalog{}, fmt.Errorf("op=config.LoadCatalog: band %d has non-positive avg_bytes", i)
		}
	}
	return cat, nil
}

// BytesFor returns the simulated byte size for one file id.
func (c Catalog) BytesFor(fileID int64) int64 {
	for _, b := range c.Bands {
		if fileID >= b.MinID && fileID <= b.MaxID {
			return b.AvgBytes
		}
	}
	return c.DefaultBytes
}

package terrains

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the fixed terrain catalogue. Each terrain gets its own spatial index sized from its bounds.
type Config struct {
	DefaultTerrainID string        `yaml:"default_terrain_id"`
	Terrains         []TerrainSpec `yaml:"terrains"`
}

type TerrainSpec struct {
	ID   string  `yaml:"id"`
	MinX float64 `yaml:"min_x"`
	MinZ float64 `yaml:"min_z"`
	MaxX float64 `yaml:"max_x"`
	MaxZ float64 `yaml:"max_z"`
	// HalfExtent is shorthand for symmetric bounds when min/max are all zero.
	HalfExtent  float64          `yaml:"half_extent,omitempty"`
	SpawnPoints []SpawnPointSpec `yaml:"spawn_points,omitempty"`
}

type SpawnPointSpec struct {
	ID     string  `yaml:"id"`
	X      float64 `yaml:"x"`
	Z      float64 `yaml:"z"`
	Radius float64 `yaml:"radius"`
}

func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	cfg = Config{}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("terrains.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("terrains.yaml: %w", err)
	}
	return cfg, nil
}

func Defaults() Config {
	ids := []string{"tatooine", "naboo", "corellia", "talus", "rori", "dantooine", "lok", "yavin4", "endor", "dathomir"}
	out := Config{DefaultTerrainID: "tatooine"}
	for _, id := range ids {
		out.Terrains = append(out.Terrains, TerrainSpec{ID: id, HalfExtent: 8192})
	}
	return out
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.DefaultTerrainID = strings.ToLower(strings.TrimSpace(c.DefaultTerrainID))
	for i := range c.Terrains {
		t := &c.Terrains[i]
		t.ID = strings.ToLower(strings.TrimSpace(t.ID))
		if t.MinX == 0 && t.MinZ == 0 && t.MaxX == 0 && t.MaxZ == 0 && t.HalfExtent > 0 {
			t.MinX, t.MinZ = -t.HalfExtent, -t.HalfExtent
			t.MaxX, t.MaxZ = t.HalfExtent, t.HalfExtent
		}
		if len(t.SpawnPoints) == 0 {
			t.SpawnPoints = []SpawnPointSpec{{ID: t.ID + "_spawn", X: (t.MinX + t.MaxX) / 2, Z: (t.MinZ + t.MaxZ) / 2, Radius: 8}}
		}
		for j := range t.SpawnPoints {
			if t.SpawnPoints[j].Radius <= 0 {
				t.SpawnPoints[j].Radius = 1
			}
		}
	}
	if c.DefaultTerrainID == "" && len(c.Terrains) > 0 {
		c.DefaultTerrainID = c.Terrains[0].ID
	}
}

func (c Config) Validate() error {
	c.Normalize()
	if len(c.Terrains) == 0 {
		return fmt.Errorf("terrains must not be empty")
	}
	seen := map[string]bool{}
	for _, t := range c.Terrains {
		if t.ID == "" {
			return fmt.Errorf("terrain id must not be empty")
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate terrain id: %s", t.ID)
		}
		seen[t.ID] = true
		if t.MaxX <= t.MinX || t.MaxZ <= t.MinZ {
			return fmt.Errorf("terrain %s bounds must be non-empty", t.ID)
		}
		for _, sp := range t.SpawnPoints {
			if sp.X < t.MinX || sp.X > t.MaxX || sp.Z < t.MinZ || sp.Z > t.MaxZ {
				return fmt.Errorf("terrain %s spawn point %s outside bounds", t.ID, sp.ID)
			}
		}
	}
	if !seen[c.DefaultTerrainID] {
		return fmt.Errorf("default_terrain_id %q not found in terrains", c.DefaultTerrainID)
	}
	return nil
}

// Lookup resolves a terrain id case-insensitively.
func (c Config) Lookup(id string) (TerrainSpec, bool) {
	key := strings.ToLower(strings.TrimSpace(id))
	if key == "" {
		return TerrainSpec{}, false
	}
	for _, t := range c.Terrains {
		if t.ID == key {
			return t, true
		}
	}
	return TerrainSpec{}, false
}

func (c Config) IDs() []string {
	out := make([]string, 0, len(c.Terrains))
	for _, t := range c.Terrains {
		out = append(out, t.ID)
	}
	sort.Strings(out)
	return out
}

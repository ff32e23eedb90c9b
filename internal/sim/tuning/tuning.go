package tuning

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	// DiscoveryRadius is the minimum radius at which top-level objects perceive each other.
	DiscoveryRadius float64 `yaml:"discovery_radius"`
	// NodeCapacity is the number of entries a quadtree node holds before it splits.
	NodeCapacity int `yaml:"node_capacity"`
	MaxTreeDepth int `yaml:"max_tree_depth"`
	// ArrangementFallback picks among occupied-but-valid arrangements: "first" or "last".
	ArrangementFallback string `yaml:"arrangement_fallback"`

	SnapshotEverySeconds int `yaml:"snapshot_every_seconds"`

	RateLimits RateLimits `yaml:"rate_limits"`
}

type RateLimits struct {
	MovesPerSecond     float64 `yaml:"moves_per_second"`
	MoveBurst          int     `yaml:"move_burst"`
	TransfersPerSecond float64 `yaml:"transfers_per_second"`
	TransferBurst      int     `yaml:"transfer_burst"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:      "1.0",
		DiscoveryRadius:      1024,
		NodeCapacity:         16,
		MaxTreeDepth:         12,
		ArrangementFallback:  "first",
		SnapshotEverySeconds: 300,
		RateLimits: RateLimits{
			MovesPerSecond:     10,
			MoveBurst:          20,
			TransfersPerSecond: 4,
			TransferBurst:      8,
		},
	}
}

// Load reads a tuning file over the defaults. Fields absent from the file keep their default.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	t.ArrangementFallback = strings.ToLower(strings.TrimSpace(t.ArrangementFallback))
	if t.ArrangementFallback == "" {
		t.ArrangementFallback = "first"
	}
	if t.MaxTreeDepth <= 0 {
		t.MaxTreeDepth = 12
	}
}

func (t Tuning) Validate() error {
	if t.DiscoveryRadius <= 0 {
		return fmt.Errorf("discovery_radius must be > 0")
	}
	if t.NodeCapacity <= 0 {
		return fmt.Errorf("node_capacity must be > 0")
	}
	switch t.ArrangementFallback {
	case "first", "last":
	default:
		return fmt.Errorf("arrangement_fallback must be first or last, got %q", t.ArrangementFallback)
	}
	if t.SnapshotEverySeconds < 0 {
		return fmt.Errorf("snapshot_every_seconds must be >= 0")
	}
	if t.RateLimits.MovesPerSecond < 0 || t.RateLimits.TransfersPerSecond < 0 {
		return fmt.Errorf("rate_limits must be >= 0")
	}
	return nil
}

package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Catalogs struct {
	Templates TemplateCatalog
}

type TemplateCatalog struct {
	Palette []string
	Defs    map[string]TemplateDef
	Digest  string
}

// TemplateDef is everything the world needs to know about an object before it is first placed.
type TemplateDef struct {
	ID   string `json:"id"`
	Kind string `json:"kind"` // "creature","player","tangible","weapon","building","cell","waypoint","intangible"
	Name string `json:"name,omitempty"`

	Volume    int     `json:"volume"`
	Capacity  int     `json:"capacity,omitempty"`
	LoadRange float64 `json:"load_range,omitempty"`

	MaxCounter int `json:"max_counter,omitempty"`
	Counter    int `json:"counter,omitempty"`

	Permissions  string            `json:"permissions,omitempty"` // "default","inventory","world"
	Slots        []string          `json:"slots,omitempty"`
	Arrangements [][]string        `json:"arrangements,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`

	// Cells is the number of interior cells a building creates for itself.
	Cells int `json:"cells,omitempty"`
	// Equipment lists templates created alongside this one and attached to it.
	Equipment []string `json:"equipment,omitempty"`
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadTemplates(filepath.Join(configDir, "templates.json"), &c.Templates); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadTemplates(path string, out *TemplateCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []TemplateDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("templates.json: %w", err)
	}
	return out.add(defs)
}

func (out *TemplateCatalog) add(defs []TemplateDef) error {
	if out.Defs == nil {
		out.Defs = map[string]TemplateDef{}
	}
	for _, d := range defs {
		d.ID = strings.TrimSpace(d.ID)
		if d.ID == "" {
			return fmt.Errorf("templates.json: empty id")
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("templates.json: duplicate id %s", d.ID)
		}
		if d.Volume < 0 {
			return fmt.Errorf("templates.json: %s volume must be >= 0", d.ID)
		}
		if d.MaxCounter > 0 && d.Counter <= 0 {
			d.Counter = 1
		}
		slots := map[string]bool{}
		for _, s := range d.Slots {
			if slots[s] {
				return fmt.Errorf("templates.json: %s duplicate slot %s", d.ID, s)
			}
			slots[s] = true
		}
		for i, arr := range d.Arrangements {
			if len(arr) == 0 {
				return fmt.Errorf("templates.json: %s arrangement %d is empty", d.ID, i)
			}
		}
		out.Defs[d.ID] = d
	}
	for id, d := range out.Defs {
		for _, eq := range d.Equipment {
			if _, ok := out.Defs[eq]; !ok {
				return fmt.Errorf("templates.json: %s equipment %s not defined", id, eq)
			}
		}
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.Palette = ids
	return nil
}

// FromDefs builds a catalogue in memory. Used by tests and tools that do not read configs/.
func FromDefs(defs ...TemplateDef) (*Catalogs, error) {
	var c Catalogs
	if err := c.Templates.add(defs); err != nil {
		return nil, err
	}
	raw, _ := json.Marshal(defs)
	c.Templates.Digest = sha256Hex(raw)
	return &c, nil
}

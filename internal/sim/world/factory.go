package world

import (
	"fmt"
	"maps"
	"slices"

	"zoneserver.ai/internal/sim/catalogs"
)

// Factory builds unregistered objects from catalogue templates. Equipment and building
// cells are queued on the new object and attached when it is placed.
type Factory struct {
	cats *catalogs.Catalogs
	ids  func() ObjectID
}

func NewFactory(cats *catalogs.Catalogs, ids func() ObjectID) *Factory {
	return &Factory{cats: cats, ids: ids}
}

const cellTemplate = "object/cell/cell"

func (f *Factory) Create(template string) (*Object, error) {
	return f.create(template, 0)
}

func (f *Factory) create(template string, depth int) (*Object, error) {
	if depth > 8 {
		return nil, fmt.Errorf("template %s: equipment nested too deep", template)
	}
	def, ok := f.cats.Templates.Defs[template]
	if !ok {
		return nil, fmt.Errorf("unknown template %q", template)
	}
	o := NewObject(f.ids(), def.ID, ParseKind(def.Kind), def.Slots...)
	o.Name = def.Name
	o.Attributes = maps.Clone(def.Attributes)
	o.Volume = def.Volume
	o.Capacity = def.Capacity
	o.LoadRange = def.LoadRange
	o.Counter = def.Counter
	o.MaxCounter = def.MaxCounter
	o.Permissions = ParsePermissionType(def.Permissions)
	for _, arr := range def.Arrangements {
		o.Arrangements = append(o.Arrangements, slices.Clone(arr))
	}
	for _, eq := range def.Equipment {
		child, err := f.create(eq, depth+1)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", template, err)
		}
		o.AddSpawn(child)
	}
	if o.HostsCells() {
		for i := 0; i < def.Cells; i++ {
			cell := NewObject(f.ids(), cellTemplate, KindCell)
			cell.Name = fmt.Sprintf("cell%d", i+1)
			if cd, ok := f.cats.Templates.Defs[cellTemplate]; ok {
				cell.Volume = cd.Volume
				cell.Capacity = cd.Capacity
			}
			o.AddSpawn(cell)
		}
	}
	return o, nil
}

// CreateStack builds a stackable object with the given counter.
func (f *Factory) CreateStack(template string, counter int) (*Object, error) {
	o, err := f.Create(template)
	if err != nil {
		return nil, err
	}
	if !o.Stackable() {
		return nil, fmt.Errorf("template %s is not stackable", template)
	}
	if counter < 1 || counter > o.MaxCounter {
		return nil, fmt.Errorf("template %s: counter %d outside [1,%d]", template, counter, o.MaxCounter)
	}
	o.Counter = counter
	return o, nil
}

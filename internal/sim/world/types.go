package world

import (
	"maps"
	"math"
	"strings"

	"github.com/ErikKalkoken/go-set"
)

type ObjectID uint64

// SessionID identifies a connected client. The empty id means "no session".
type SessionID string

// Location is a world position. For contained objects X/Y/Z are relative to the container
// and Terrain mirrors the root container's terrain.
type Location struct {
	Terrain string  `json:"terrain"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Z       float64 `json:"z"`
	Heading float64 `json:"heading"`
}

func (l Location) finite() bool {
	for _, v := range [...]float64{l.X, l.Y, l.Z, l.Heading} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func planarDistance(ax, az, bx, bz float64) float64 {
	return math.Hypot(ax-bx, az-bz)
}

type Kind string

const (
	KindTangible   Kind = "tangible"
	KindCreature   Kind = "creature"
	KindPlayer     Kind = "player"
	KindWeapon     Kind = "weapon"
	KindBuilding   Kind = "building"
	KindCell       Kind = "cell"
	KindWaypoint   Kind = "waypoint"
	KindIntangible Kind = "intangible"
)

func ParseKind(s string) Kind {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindCreature, KindPlayer, KindWeapon, KindBuilding, KindCell, KindWaypoint, KindIntangible:
		return k
	default:
		return KindTangible
	}
}

// PermissionType selects the container permission rules applied by ContainerGate.
type PermissionType string

const (
	PermDefault   PermissionType = "default"
	PermInventory PermissionType = "inventory"
	PermWorld     PermissionType = "world"
)

func ParsePermissionType(s string) PermissionType {
	switch p := PermissionType(strings.ToLower(strings.TrimSpace(s))); p {
	case PermInventory, PermWorld:
		return p
	default:
		return PermDefault
	}
}

// contentsArrangement marks a child that lives in its parent's general contents.
const contentsArrangement = -1

// Object is a registry entry. Edges (parent, slots, contents, awareness, owner) are id
// references and are only touched by World while holding the graph lock.
type Object struct {
	ID         ObjectID
	Template   string
	Kind       Kind
	Name       string
	Attributes map[string]string
	Loc        Location

	Volume    int
	Capacity  int // general contents capacity; <= 0 is unbounded
	LoadRange float64

	Counter    int
	MaxCounter int

	Permissions  PermissionType
	Arrangements [][]string

	parent      ObjectID
	arrangement int
	slots       map[string]ObjectID // key set is the slot schema; 0 is an empty slot
	contents    set.Set[ObjectID]
	aware       set.Set[ObjectID]
	custom      set.Set[ObjectID]
	owner       SessionID

	// spawn holds factory-built children attached on first placement.
	spawn []*Object
}

// NewObject returns an unregistered object with the given slot schema.
func NewObject(id ObjectID, template string, kind Kind, slots ...string) *Object {
	o := &Object{
		ID:          id,
		Template:    template,
		Kind:        kind,
		Permissions: PermDefault,
		arrangement: contentsArrangement,
		slots:       make(map[string]ObjectID, len(slots)),
	}
	for _, s := range slots {
		o.slots[s] = 0
	}
	return o
}

func (o *Object) Stackable() bool  { return o.MaxCounter > 0 }
func (o *Object) HostsCells() bool { return o.Kind == KindBuilding }
func (o *Object) HoldsSession() bool {
	return o.Kind == KindPlayer || o.Kind == KindCreature
}

func (o *Object) hasSlot(name string) bool {
	_, ok := o.slots[name]
	return ok
}

func (o *Object) slotNames() []string {
	out := make([]string, 0, len(o.slots))
	for s := range o.slots {
		out = append(out, s)
	}
	return out
}

// AddSpawn queues a child to be attached when o is first placed.
func (o *Object) AddSpawn(child *Object) {
	o.spawn = append(o.spawn, child)
}

// absorbs reports whether o, a partial stack, has room for all of in's counter.
func (o *Object) absorbs(in *Object) bool { return in.Counter <= o.MaxCounter-o.Counter }

func (o *Object) stackCompatible(other *Object) bool {
	return other != nil && other.ID != o.ID &&
		o.Stackable() && other.Stackable() &&
		o.Template == other.Template &&
		other.Counter < other.MaxCounter &&
		maps.Equal(o.Attributes, other.Attributes)
}

// ObjectView is an immutable copy of an object handed to collaborators.
type ObjectView struct {
	ID          ObjectID            `json:"id"`
	Template    string              `json:"template"`
	Kind        Kind                `json:"kind"`
	Name        string              `json:"name,omitempty"`
	Attributes  map[string]string   `json:"attributes,omitempty"`
	Loc         Location            `json:"loc"`
	Parent      ObjectID            `json:"parent,omitempty"`
	Arrangement int                 `json:"arrangement"`
	Slots       map[string]ObjectID `json:"slots,omitempty"`
	Volume      int                 `json:"volume"`
	Capacity    int                 `json:"capacity,omitempty"`
	Counter     int                 `json:"counter,omitempty"`
	MaxCounter  int                 `json:"max_counter,omitempty"`
	Permissions PermissionType      `json:"permissions"`
	Owner       SessionID           `json:"owner,omitempty"`
}

// Requester identifies who asks for a move. The zero value is the server itself.
type Requester struct {
	Session SessionID
	Avatar  ObjectID
}

func (r Requester) IsSystem() bool { return r.Session == "" }

// SystemRequester bypasses session-based permission rules.
var SystemRequester = Requester{}

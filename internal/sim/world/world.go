package world

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ErikKalkoken/go-set"

	"zoneserver.ai/internal/sim/terrains"
	"zoneserver.ai/internal/sim/tuning"
)

// ArrangementPolicy picks among arrangements whose slots all exist on the container but
// are partly occupied.
type ArrangementPolicy int

const (
	FallbackFirst ArrangementPolicy = iota
	FallbackLast
)

func ParseArrangementPolicy(s string) (ArrangementPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first":
		return FallbackFirst, nil
	case "last":
		return FallbackLast, nil
	default:
		return FallbackFirst, fmt.Errorf("unknown arrangement policy %q", s)
	}
}

func (p ArrangementPolicy) String() string {
	if p == FallbackLast {
		return "last"
	}
	return "first"
}

type Config struct {
	Terrains        terrains.Config
	DiscoveryRadius float64
	NodeCapacity    int
	MaxTreeDepth    int
	Fallback        ArrangementPolicy
}

func ConfigFromTuning(t tuning.Tuning, terr terrains.Config) (Config, error) {
	p, err := ParseArrangementPolicy(t.ArrangementFallback)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Terrains:        terr,
		DiscoveryRadius: t.DiscoveryRadius,
		NodeCapacity:    t.NodeCapacity,
		MaxTreeDepth:    t.MaxTreeDepth,
		Fallback:        p,
	}, nil
}

func (c *Config) applyDefaults() {
	if c.DiscoveryRadius <= 0 {
		c.DiscoveryRadius = 1024
	}
	if c.NodeCapacity <= 0 {
		c.NodeCapacity = defaultNodeCapacity
	}
	if c.MaxTreeDepth <= 0 {
		c.MaxTreeDepth = defaultMaxTreeDepth
	}
	if len(c.Terrains.Terrains) == 0 {
		c.Terrains = terrains.Defaults()
	}
	c.Terrains.Normalize()
}

// AuditEntry records one completed world operation.
type AuditEntry struct {
	Time      time.Time `json:"time"`
	Op        string    `json:"op"`
	Requester SessionID `json:"requester,omitempty"`
	ObjectID  ObjectID  `json:"object_id"`
	Template  string    `json:"template,omitempty"`
	From      ObjectID  `json:"from,omitempty"`
	To        ObjectID  `json:"to,omitempty"`
	Terrain   string    `json:"terrain,omitempty"`
	X         float64   `json:"x,omitempty"`
	Z         float64   `json:"z,omitempty"`
	Result    string    `json:"result"`
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

// World owns the object registry, the containment and awareness relations, and the
// spatial index. Operations are safe for concurrent use.
//
// Lock order: per-object locks (ascending id), then mu, then a terrain tree lock.
// Notifications and audit entries are emitted after every lock is released.
type World struct {
	cfg      Config
	log      *slog.Logger
	notifier Notifier
	gate     PermissionGate
	audit    AuditLogger

	index *SpatialIndex
	locks *lockTable

	mu        sync.RWMutex
	objects   map[ObjectID]*Object
	sessions  map[SessionID]set.Set[ObjectID] // directly owned objects
	maxBubble map[string]float64              // per terrain high-water mark

	nextID atomic.Uint64
	stats  worldStats
}

type Option func(*World)

func WithLogger(l *slog.Logger) Option {
	return func(w *World) {
		if l != nil {
			w.log = l
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(w *World) {
		if n != nil {
			w.notifier = n
		}
	}
}

func WithGate(g PermissionGate) Option {
	return func(w *World) {
		if g != nil {
			w.gate = g
		}
	}
}

func WithAuditLogger(a AuditLogger) Option {
	return func(w *World) { w.audit = a }
}

func New(cfg Config, opts ...Option) (*World, error) {
	cfg.applyDefaults()
	if err := cfg.Terrains.Validate(); err != nil {
		return nil, fmt.Errorf("world: %w", err)
	}
	w := &World{
		cfg:       cfg,
		log:       slog.Default(),
		notifier:  noopNotifier{},
		gate:      ContainerGate{},
		locks:     newLockTable(),
		objects:   map[ObjectID]*Object{},
		sessions:  map[SessionID]set.Set[ObjectID]{},
		maxBubble: map[string]float64{},
	}
	for _, o := range opts {
		o(w)
	}
	// Index failures are queued on the operation's outbox and logged after unlock.
	w.index = NewSpatialIndex(cfg.Terrains, cfg.NodeCapacity, cfg.MaxTreeDepth, nil)
	return w, nil
}

func (w *World) Config() Config { return w.cfg }

func (w *World) Index() *SpatialIndex { return w.index }

// NextID reserves a fresh object id.
func (w *World) NextID() ObjectID {
	return ObjectID(w.nextID.Add(1))
}

func (w *World) bumpNextID(id ObjectID) {
	for {
		cur := w.nextID.Load()
		if uint64(id) <= cur || w.nextID.CompareAndSwap(cur, uint64(id)) {
			return
		}
	}
}

// SetNotifier replaces the notification sink. It is meant for wiring at startup.
func (w *World) SetNotifier(n Notifier) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n == nil {
		n = noopNotifier{}
	}
	w.notifier = n
}

func (w *World) emit(ob *outbox, entries ...AuditEntry) {
	w.mu.RLock()
	n := w.notifier
	w.mu.RUnlock()
	ob.dispatch(n)
	ob.flushLogs(w.log)
	if w.audit == nil {
		return
	}
	for _, e := range entries {
		if e.Time.IsZero() {
			e.Time = time.Now().UTC()
		}
		if err := w.audit.WriteAudit(e); err != nil {
			w.log.Warn("audit write failed", "op", e.Op, "err", err)
		}
	}
}

// Registry helpers below expect the caller to hold mu.

func (w *World) obj(id ObjectID) *Object {
	if id == 0 {
		return nil
	}
	return w.objects[id]
}

func (w *World) root(o *Object) *Object {
	for o != nil && o.parent != 0 {
		p := w.objects[o.parent]
		if p == nil {
			break
		}
		o = p
	}
	return o
}

// chain returns o followed by its ancestors, innermost first.
func (w *World) chain(o *Object) []*Object {
	var out []*Object
	for o != nil {
		out = append(out, o)
		o = w.obj(o.parent)
	}
	return out
}

// within reports whether o is anc or lies below it.
func (w *World) within(o, anc *Object) bool {
	for cur := o; cur != nil; cur = w.obj(cur.parent) {
		if cur == anc {
			return true
		}
	}
	return false
}

func (w *World) depth(o *Object) int {
	d := 0
	for cur := w.obj(o.parent); cur != nil; cur = w.obj(cur.parent) {
		d++
	}
	return d
}

// children lists slot occupants then general contents, each ascending.
func (w *World) children(o *Object) []ObjectID {
	var slotted []ObjectID
	for _, id := range o.slots {
		if id != 0 {
			slotted = append(slotted, id)
		}
	}
	slotted = normalizeIDs(slotted)
	contents := o.contents.Slice()
	slices.Sort(contents)
	return append(slotted, contents...)
}

// subtree lists o and its descendants parents-first.
func (w *World) subtree(o *Object) []*Object {
	out := []*Object{o}
	for i := 0; i < len(out); i++ {
		for _, id := range w.children(out[i]) {
			if c := w.objects[id]; c != nil {
				out = append(out, c)
			}
		}
	}
	return out
}

func (w *World) effectiveOwner(o *Object) SessionID {
	for cur := o; cur != nil; cur = w.obj(cur.parent) {
		if cur.owner != "" {
			return cur.owner
		}
	}
	return ""
}

func (w *World) view(o *Object) ObjectView {
	v := ObjectView{
		ID:          o.ID,
		Template:    o.Template,
		Kind:        o.Kind,
		Name:        o.Name,
		Attributes:  maps.Clone(o.Attributes),
		Loc:         o.Loc,
		Parent:      o.parent,
		Arrangement: o.arrangement,
		Volume:      o.Volume,
		Capacity:    o.Capacity,
		Counter:     o.Counter,
		MaxCounter:  o.MaxCounter,
		Permissions: o.Permissions,
		Owner:       w.effectiveOwner(o),
	}
	if len(o.slots) > 0 {
		v.Slots = maps.Clone(o.slots)
	}
	return v
}

func (w *World) setOwner(o *Object, s SessionID) {
	if o.owner == s {
		return
	}
	if o.owner != "" {
		owned := w.sessions[o.owner]
		owned.Delete(o.ID)
		if owned.Size() == 0 {
			delete(w.sessions, o.owner)
		} else {
			w.sessions[o.owner] = owned
		}
	}
	o.owner = s
	if s != "" {
		owned := w.sessions[s]
		owned.Add(o.ID)
		w.sessions[s] = owned
	}
}

// sessionsIn returns the sessions owning any object in o's subtree.
func (w *World) sessionsIn(o *Object) set.Set[SessionID] {
	var out set.Set[SessionID]
	for _, n := range w.subtree(o) {
		if n.owner != "" {
			out.Add(n.owner)
		}
	}
	return out
}

// Get returns a copy of the object.
func (w *World) Get(id ObjectID) (ObjectView, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	o := w.obj(id)
	if o == nil {
		return ObjectView{}, false
	}
	return w.view(o), true
}

// Children returns the direct children of id, slot occupants first.
func (w *World) Children(id ObjectID) []ObjectID {
	w.mu.RLock()
	defer w.mu.RUnlock()
	o := w.obj(id)
	if o == nil {
		return nil
	}
	return w.children(o)
}

// Contents returns the general contents of id in ascending order.
func (w *World) Contents(id ObjectID) []ObjectID {
	w.mu.RLock()
	defer w.mu.RUnlock()
	o := w.obj(id)
	if o == nil {
		return nil
	}
	out := o.contents.Slice()
	slices.Sort(out)
	return out
}

// SessionObjects returns the objects a session directly owns.
func (w *World) SessionObjects(s SessionID) []ObjectID {
	w.mu.RLock()
	defer w.mu.RUnlock()
	owned := w.sessions[s]
	out := owned.Slice()
	slices.Sort(out)
	return out
}

func (w *World) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.objects)
}

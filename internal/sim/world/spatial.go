package world

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"zoneserver.ai/internal/sim/terrains"
)

const (
	defaultNodeCapacity = 16
	defaultMaxTreeDepth = 12
)

var (
	errNonFinite      = fmt.Errorf("%w: non-finite coordinates", ErrInvalidLocation)
	errUnknownTerrain = fmt.Errorf("%w: unknown terrain", ErrInvalidLocation)
)

// SpatialIndex holds one quadtree per terrain. Only top-level objects are indexed.
// The set of terrains is fixed at construction; each tree has its own lock, held only
// for the duration of a single index operation.
type SpatialIndex struct {
	log   *slog.Logger
	trees map[string]*quadTree
}

// NewSpatialIndex builds the trees for cfg. Skipped operations are logged as warnings
// when logger is set; with a nil logger they are only reported through returned errors.
func NewSpatialIndex(cfg terrains.Config, nodeCapacity, maxDepth int, logger *slog.Logger) *SpatialIndex {
	if nodeCapacity <= 0 {
		nodeCapacity = defaultNodeCapacity
	}
	if maxDepth <= 0 {
		maxDepth = defaultMaxTreeDepth
	}
	cfg.Normalize()
	idx := &SpatialIndex{log: logger, trees: make(map[string]*quadTree, len(cfg.Terrains))}
	for _, t := range cfg.Terrains {
		idx.trees[t.ID] = newQuadTree(t.MinX, t.MinZ, t.MaxX, t.MaxZ, nodeCapacity, maxDepth)
	}
	return idx
}

func (s *SpatialIndex) tree(terrain string, x, z float64, op string) (*quadTree, error) {
	var err error
	t := s.trees[strings.ToLower(terrain)]
	switch {
	case math.IsNaN(x) || math.IsNaN(z) || math.IsInf(x, 0) || math.IsInf(z, 0):
		err = errNonFinite
	case t == nil:
		err = errUnknownTerrain
	}
	if err != nil {
		if s.log != nil {
			s.log.Warn("spatial index: operation skipped", "op", op, "terrain", terrain, "x", x, "z", z, "err", err)
		}
		return nil, err
	}
	return t, nil
}

// Known reports whether terrain has an index.
func (s *SpatialIndex) Known(terrain string) bool {
	_, ok := s.trees[strings.ToLower(terrain)]
	return ok
}

// Insert adds id at (x, z). Inserting an id that is already indexed moves it.
func (s *SpatialIndex) Insert(id ObjectID, x, z float64, terrain string) error {
	t, err := s.tree(terrain, x, z, "insert")
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.insert(id, x, z)
	return nil
}

// Remove drops id from the terrain. Removing an id that is not indexed is a no-op.
func (s *SpatialIndex) Remove(id ObjectID, x, z float64, terrain string) error {
	t, err := s.tree(terrain, x, z, "remove")
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remove(id)
	return nil
}

// RangeQuery returns the ids within radius of (x, z), sorted ascending.
func (s *SpatialIndex) RangeQuery(x, z float64, terrain string, radius float64) []ObjectID {
	t, err := s.tree(terrain, x, z, "query")
	if err != nil || radius < 0 || math.IsNaN(radius) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []ObjectID
	t.query(t.root, x, z, radius, &out)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *SpatialIndex) Len(terrain string) int {
	t := s.trees[strings.ToLower(terrain)]
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.where)
}

// Has reports whether id is indexed in terrain.
func (s *SpatialIndex) Has(terrain string, id ObjectID) bool {
	t := s.trees[strings.ToLower(terrain)]
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.where[id]
	return ok
}

type qentry struct {
	id   ObjectID
	x, z float64 // as inserted
}

type qnode struct {
	minX, minZ, maxX, maxZ float64
	depth                  int
	count                  int
	entries                []qentry
	kids                   *[4]*qnode
}

type quadTree struct {
	mu       sync.Mutex
	root     *qnode
	capacity int
	maxDepth int
	where    map[ObjectID]qentry
}

func newQuadTree(minX, minZ, maxX, maxZ float64, capacity, maxDepth int) *quadTree {
	return &quadTree{
		root:     &qnode{minX: minX, minZ: minZ, maxX: maxX, maxZ: maxZ},
		capacity: capacity,
		maxDepth: maxDepth,
		where:    map[ObjectID]qentry{},
	}
}

// clamp pulls a point onto the tree bounds. Clamping onto a box never increases
// distances, so pruning with clamped points cannot skip a true match.
func (t *quadTree) clamp(x, z float64) (float64, float64) {
	r := t.root
	return math.Min(math.Max(x, r.minX), r.maxX), math.Min(math.Max(z, r.minZ), r.maxZ)
}

func (n *qnode) quadrant(x, z float64) int {
	midX := (n.minX + n.maxX) / 2
	midZ := (n.minZ + n.maxZ) / 2
	q := 0
	if x >= midX {
		q |= 1
	}
	if z >= midZ {
		q |= 2
	}
	return q
}

func (n *qnode) split() {
	midX := (n.minX + n.maxX) / 2
	midZ := (n.minZ + n.maxZ) / 2
	n.kids = &[4]*qnode{
		{minX: n.minX, minZ: n.minZ, maxX: midX, maxZ: midZ, depth: n.depth + 1},
		{minX: midX, minZ: n.minZ, maxX: n.maxX, maxZ: midZ, depth: n.depth + 1},
		{minX: n.minX, minZ: midZ, maxX: midX, maxZ: n.maxZ, depth: n.depth + 1},
		{minX: midX, minZ: midZ, maxX: n.maxX, maxZ: n.maxZ, depth: n.depth + 1},
	}
}

func (t *quadTree) insert(id ObjectID, x, z float64) {
	if _, ok := t.where[id]; ok {
		t.remove(id)
	}
	e := qentry{id: id, x: x, z: z}
	t.where[id] = e
	cx, cz := t.clamp(x, z)
	n := t.root
	for {
		n.count++
		if n.kids == nil {
			break
		}
		n = n.kids[n.quadrant(cx, cz)]
	}
	n.entries = append(n.entries, e)
	if len(n.entries) > t.capacity && n.depth < t.maxDepth {
		n.split()
		for _, moved := range n.entries {
			mx, mz := t.clamp(moved.x, moved.z)
			k := n.kids[n.quadrant(mx, mz)]
			k.entries = append(k.entries, moved)
			k.count++
		}
		n.entries = nil
	}
}

func (t *quadTree) remove(id ObjectID) {
	e, ok := t.where[id]
	if !ok {
		return
	}
	delete(t.where, id)
	cx, cz := t.clamp(e.x, e.z)
	var path []*qnode
	n := t.root
	for {
		path = append(path, n)
		if n.kids == nil {
			break
		}
		n = n.kids[n.quadrant(cx, cz)]
	}
	for i, cur := range n.entries {
		if cur.id == id {
			n.entries = append(n.entries[:i], n.entries[i+1:]...)
			break
		}
	}
	for _, p := range path {
		p.count--
	}
	// Collapse the highest ancestor that now fits in one node.
	for _, p := range path {
		if p.kids != nil && p.count <= t.capacity {
			p.entries = p.collect(p.entries[:0])
			p.kids = nil
			break
		}
	}
}

func (n *qnode) collect(dst []qentry) []qentry {
	if n.kids == nil {
		return append(dst, n.entries...)
	}
	for _, k := range n.kids {
		dst = k.collect(dst)
	}
	return dst
}

func (t *quadTree) query(n *qnode, x, z, radius float64, out *[]ObjectID) {
	if n.count == 0 {
		return
	}
	cx, cz := t.clamp(x, z)
	dx := math.Max(math.Max(n.minX-cx, 0), cx-n.maxX)
	dz := math.Max(math.Max(n.minZ-cz, 0), cz-n.maxZ)
	if dx*dx+dz*dz > radius*radius {
		return
	}
	if n.kids != nil {
		for _, k := range n.kids {
			t.query(k, x, z, radius, out)
		}
		return
	}
	r2 := radius * radius
	for _, e := range n.entries {
		ex, ez := e.x-x, e.z-z
		if ex*ex+ez*ez <= r2 {
			*out = append(*out, e.id)
		}
	}
}

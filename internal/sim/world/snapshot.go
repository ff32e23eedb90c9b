package world

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"zoneserver.ai/internal/persistence/snapshot"
)

// ExportSnapshot captures the registry, parents before children. Sessions and derived
// awareness are not persisted; forced awareness pairs are.
func (w *World) ExportSnapshot(zoneID string, seq uint64) snapshot.SnapshotV1 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap := snapshot.SnapshotV1{
		Header:              snapshot.Header{ZoneID: zoneID, Seq: seq, CreatedUnix: time.Now().Unix()},
		DiscoveryRadius:     w.cfg.DiscoveryRadius,
		ArrangementFallback: w.cfg.Fallback.String(),
		NextID:              w.nextID.Load(),
	}
	var roots []ObjectID
	for id, o := range w.objects {
		if o.parent == 0 {
			roots = append(roots, id)
		}
	}
	slices.Sort(roots)
	for _, id := range roots {
		for _, n := range w.subtree(w.objects[id]) {
			snap.Objects = append(snap.Objects, w.exportObject(n))
		}
	}
	snap.Header.Objects = len(snap.Objects)
	return snap
}

func (w *World) exportObject(o *Object) snapshot.ObjectV1 {
	slots := o.slotNames()
	slices.Sort(slots)
	out := snapshot.ObjectV1{
		ID:          uint64(o.ID),
		Template:    o.Template,
		Kind:        string(o.Kind),
		Name:        o.Name,
		Attributes:  maps.Clone(o.Attributes),
		Terrain:     o.Loc.Terrain,
		X:           o.Loc.X,
		Y:           o.Loc.Y,
		Z:           o.Loc.Z,
		Heading:     o.Loc.Heading,
		Parent:      uint64(o.parent),
		Arrangement: o.arrangement,
		Volume:      o.Volume,
		Capacity:    o.Capacity,
		LoadRange:   o.LoadRange,
		Counter:     o.Counter,
		MaxCounter:  o.MaxCounter,
		Permissions: string(o.Permissions),
	}
	if len(slots) > 0 {
		out.Slots = slots
	}
	for _, arr := range o.Arrangements {
		out.Arrangements = append(out.Arrangements, slices.Clone(arr))
	}
	for _, id := range sortedIDs(o.custom) {
		out.Custom = append(out.Custom, uint64(id))
	}
	return out
}

// ImportStats summarizes a snapshot load.
type ImportStats struct {
	Loaded   int
	Orphaned int
	Rejected int
}

// ImportSnapshot loads a snapshot into an empty world. An object whose parent cannot be
// resolved is an orphaned reference: it is logged and excluded together with everything
// under it, and the load continues. Objects that no longer fit where they were recorded
// are excluded the same way.
func (w *World) ImportSnapshot(snap snapshot.SnapshotV1) (ImportStats, error) {
	ob := &outbox{}
	w.mu.Lock()
	st, err := w.importLocked(ob, snap)
	w.mu.Unlock()
	ob.flushLogs(w.log)
	return st, err
}

func (w *World) importLocked(ob *outbox, snap snapshot.SnapshotV1) (ImportStats, error) {
	var st ImportStats
	if len(w.objects) > 0 {
		return st, fmt.Errorf("import snapshot: world already holds %d objects", len(w.objects))
	}

	byID := make(map[ObjectID]snapshot.ObjectV1, len(snap.Objects))
	for _, rec := range snap.Objects {
		id := ObjectID(rec.ID)
		if id == 0 {
			ob.error("snapshot object without id", "template", rec.Template)
			st.Rejected++
			continue
		}
		if _, dup := byID[id]; dup {
			ob.error("snapshot object id duplicated", "id", id)
			st.Rejected++
			continue
		}
		byID[id] = rec
	}

	// Resolve each record's ancestry once; anything hanging off a missing parent or a
	// cycle is excluded.
	status := map[ObjectID]Result{}
	var resolve func(id ObjectID, seen map[ObjectID]bool) Result
	resolve = func(id ObjectID, seen map[ObjectID]bool) Result {
		if r, ok := status[id]; ok {
			return r
		}
		rec := byID[id]
		parent := ObjectID(rec.Parent)
		r := ResultOK
		switch {
		case parent == 0:
		case seen[parent]:
			r = ResultOrphanedReference
		default:
			if _, ok := byID[parent]; !ok {
				r = ResultOrphanedReference
			} else {
				seen[id] = true
				r = resolve(parent, seen)
			}
		}
		status[id] = r
		return r
	}

	var accepted []snapshot.ObjectV1
	taken := map[ObjectID]bool{}
	for _, rec := range snap.Objects {
		id := ObjectID(rec.ID)
		if id == 0 || taken[id] {
			continue
		}
		taken[id] = true
		if resolve(id, map[ObjectID]bool{id: true}) != ResultOK {
			ob.error("orphaned reference in snapshot", "id", id, "parent", rec.Parent, "template", rec.Template, "err", ErrOrphanedReference)
			st.Orphaned++
			continue
		}
		accepted = append(accepted, rec)
	}

	depth := func(rec snapshot.ObjectV1) int {
		d := 0
		for p := rec.Parent; p != 0; p = byID[ObjectID(p)].Parent {
			d++
		}
		return d
	}
	slices.SortStableFunc(accepted, func(a, b snapshot.ObjectV1) int { return depth(a) - depth(b) })

	for _, rec := range accepted {
		o := objectFromRecord(rec)
		if rec.Parent == 0 {
			loc, ok := w.worldLocation(o.Loc)
			if !ok {
				ob.warn("snapshot object has invalid location", "id", o.ID, "terrain", o.Loc.Terrain)
				st.Rejected++
				continue
			}
			w.register(o)
			o.Loc = loc
			w.indexInsert(ob, o)
			st.Loaded++
			continue
		}
		parent := w.obj(ObjectID(rec.Parent))
		if parent == nil {
			// The parent itself was rejected.
			ob.error("orphaned reference in snapshot", "id", o.ID, "parent", rec.Parent, "err", ErrOrphanedReference)
			st.Orphaned++
			continue
		}
		pl, ok := w.recordedPlacement(parent, o, rec.Arrangement)
		if !ok {
			var res Result
			pl, res = w.resolvePlacement(parent, o, 0, false)
			if res != ResultOK || len(pl.displaced) > 0 {
				ob.error("snapshot object no longer fits its container", "id", o.ID, "parent", parent.ID, "result", res.String())
				st.Rejected++
				continue
			}
		}
		w.register(o)
		w.attach(parent, o, pl, o.Loc)
		st.Loaded++
	}

	if snap.NextID > 0 {
		w.bumpNextID(ObjectID(snap.NextID))
	}
	for _, rec := range accepted {
		a := w.obj(ObjectID(rec.ID))
		if a == nil || a.parent != 0 {
			continue
		}
		for _, cid := range rec.Custom {
			if b := w.obj(ObjectID(cid)); b != nil && b.parent == 0 && b != a {
				a.custom.Add(b.ID)
				b.custom.Add(a.ID)
			}
		}
	}
	ids := make([]ObjectID, 0, len(w.objects))
	for id, o := range w.objects {
		if o.parent == 0 {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	for _, id := range ids {
		w.recompute(w.objects[id])
	}
	return st, nil
}

// recordedPlacement reuses a stored arrangement when it still fits exactly.
func (w *World) recordedPlacement(parent, o *Object, arrangement int) (placement, bool) {
	if arrangement == contentsArrangement {
		if parent.Capacity > 0 && w.usage(parent, o.ID)+o.Volume+1 > parent.Capacity {
			return placement{}, false
		}
		return placement{arrangement: contentsArrangement}, true
	}
	if arrangement < 0 || arrangement >= len(o.Arrangements) {
		return placement{}, false
	}
	arr := o.Arrangements[arrangement]
	for _, s := range arr {
		occ, ok := parent.slots[s]
		if !ok || occ != 0 {
			return placement{}, false
		}
	}
	return placement{arrangement: arrangement, slots: arr}, true
}

func objectFromRecord(rec snapshot.ObjectV1) *Object {
	o := NewObject(ObjectID(rec.ID), rec.Template, ParseKind(rec.Kind), rec.Slots...)
	o.Name = rec.Name
	o.Attributes = maps.Clone(rec.Attributes)
	o.Loc = Location{Terrain: rec.Terrain, X: rec.X, Y: rec.Y, Z: rec.Z, Heading: rec.Heading}
	o.Volume = rec.Volume
	o.Capacity = rec.Capacity
	o.LoadRange = rec.LoadRange
	o.Counter = rec.Counter
	o.MaxCounter = rec.MaxCounter
	o.Permissions = ParsePermissionType(rec.Permissions)
	for _, arr := range rec.Arrangements {
		o.Arrangements = append(o.Arrangements, slices.Clone(arr))
	}
	return o
}

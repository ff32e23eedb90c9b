package world

import (
	"errors"
	"fmt"
	"slices"
)

// CheckInvariants walks the whole registry and reports every broken containment,
// awareness or index invariant. It takes the graph lock for reading.
func (w *World) CheckInvariants() error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	ids := make([]ObjectID, 0, len(w.objects))
	for id := range w.objects {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		o := w.objects[id]
		if o.aware.Contains(id) {
			fail("object %d is aware of itself", id)
		}
		for t := range o.aware.All() {
			other := w.obj(t)
			switch {
			case other == nil:
				fail("object %d aware of missing %d", id, t)
			case !other.aware.Contains(id):
				fail("awareness %d -> %d is not mirrored", id, t)
			case other.parent != 0:
				fail("object %d aware of contained %d", id, t)
			}
		}

		if o.parent == 0 {
			if !w.index.Has(o.Loc.Terrain, id) {
				fail("top-level object %d missing from index %q", id, o.Loc.Terrain)
			}
		} else {
			w.checkContained(o, fail)
		}

		if o.Capacity > 0 {
			if used := w.usage(o, 0); used > o.Capacity {
				fail("container %d over capacity: %d > %d", id, used, o.Capacity)
			}
		}
		for s, occ := range o.slots {
			if occ == 0 {
				continue
			}
			c := w.obj(occ)
			if c == nil || c.parent != id || c.arrangement == contentsArrangement {
				fail("slot %s of %d holds %d which does not point back", s, id, occ)
				continue
			}
			if c.arrangement >= len(c.Arrangements) || !slices.Contains(c.Arrangements[c.arrangement], s) {
				fail("slot %s of %d not part of arrangement %d of %d", s, id, c.arrangement, occ)
			}
		}
		for c := range o.contents.All() {
			child := w.obj(c)
			if child == nil || child.parent != id || child.arrangement != contentsArrangement {
				fail("contents of %d list %d which does not point back", id, c)
			}
		}
	}
	for s, owned := range w.sessions {
		for id := range owned.All() {
			if o := w.obj(id); o == nil || o.owner != s {
				fail("session %s indexes %d it does not own", s, id)
			}
		}
	}
	return errors.Join(errs...)
}

func (w *World) checkContained(o *Object, fail func(string, ...any)) {
	id := o.ID
	if w.index.Has(o.Loc.Terrain, id) {
		fail("contained object %d is indexed", id)
	}
	if o.aware.Size() > 0 {
		fail("contained object %d has its own awareness", id)
	}
	p := w.obj(o.parent)
	if p == nil {
		fail("object %d has missing parent %d", id, o.parent)
		return
	}
	seen := map[ObjectID]bool{id: true}
	for cur := p; cur != nil; cur = w.obj(cur.parent) {
		if seen[cur.ID] {
			fail("containment cycle through %d", id)
			return
		}
		seen[cur.ID] = true
	}
	inContents := p.contents.Contains(id)
	var inSlots []string
	for s, occ := range p.slots {
		if occ == id {
			inSlots = append(inSlots, s)
		}
	}
	switch {
	case inContents && len(inSlots) > 0:
		fail("object %d is both slotted and in contents of %d", id, p.ID)
	case !inContents && len(inSlots) == 0:
		fail("object %d is not linked from parent %d", id, p.ID)
	case o.arrangement == contentsArrangement && !inContents:
		fail("object %d marked as contents but slotted in %d", id, p.ID)
	case o.arrangement != contentsArrangement && o.arrangement >= len(o.Arrangements):
		fail("object %d uses unknown arrangement %d", id, o.arrangement)
	case o.arrangement != contentsArrangement && len(inSlots) != len(o.Arrangements[o.arrangement]):
		fail("object %d holds %d of %d arrangement slots", id, len(inSlots), len(o.Arrangements[o.arrangement]))
	}
	if r := w.root(o); o.Loc.Terrain != r.Loc.Terrain {
		fail("object %d terrain %q differs from root %q", id, o.Loc.Terrain, r.Loc.Terrain)
	}
}

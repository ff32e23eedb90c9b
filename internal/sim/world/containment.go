package world

import "slices"

// placement is where a child lands inside a container.
type placement struct {
	arrangement int // index into child.Arrangements, or contentsArrangement
	slots       []string
	displaced   []ObjectID
	dest        ObjectID // container receiving displaced occupants
}

// resolvePlacement picks a slot arrangement or the general contents for child inside
// parent. prev is the container child is leaving (0 when top-level or new). Nothing is
// mutated; a non-OK result means the attach must not happen.
func (w *World) resolvePlacement(parent, child *Object, prev ObjectID, forceContents bool) (placement, Result) {
	if !forceContents {
		fallback := -1
		for i, arr := range child.Arrangements {
			exists, free := len(arr) > 0, true
			for _, s := range arr {
				occ, ok := parent.slots[s]
				if !ok {
					exists = false
					break
				}
				if occ != 0 && occ != child.ID {
					free = false
				}
			}
			if !exists {
				continue
			}
			if free {
				return placement{arrangement: i, slots: arr}, ResultOK
			}
			if fallback < 0 || w.cfg.Fallback == FallbackLast {
				fallback = i
			}
		}
		if fallback >= 0 {
			return w.displacingPlacement(parent, child, prev, fallback)
		}
	}
	if parent.Capacity > 0 && w.usage(parent, child.ID)+child.Volume+1 > parent.Capacity {
		return placement{}, ResultContainerFull
	}
	return placement{arrangement: contentsArrangement}, ResultOK
}

func (w *World) displacingPlacement(parent, child *Object, prev ObjectID, idx int) (placement, Result) {
	arr := child.Arrangements[idx]
	var displaced []ObjectID
	for _, s := range arr {
		if occ := parent.slots[s]; occ != 0 && occ != child.ID {
			displaced = append(displaced, occ)
		}
	}
	displaced = normalizeIDs(displaced)

	dest := w.obj(prev)
	if dest == nil {
		dest = parent
	}
	for _, id := range displaced {
		if occ := w.obj(id); occ != nil && w.within(dest, occ) {
			dest = parent
			break
		}
	}
	if dest.Capacity > 0 {
		need := w.usage(dest, child.ID)
		for _, id := range displaced {
			if occ := w.obj(id); occ != nil {
				need += occ.Volume + 1
			}
		}
		if need > dest.Capacity {
			return placement{}, ResultContainerFull
		}
	}
	return placement{arrangement: idx, slots: arr, displaced: displaced, dest: dest.ID}, ResultOK
}

// usage is the general-contents volume of o, ignoring exclude.
func (w *World) usage(o *Object, exclude ObjectID) int {
	total := 0
	for id := range o.contents.All() {
		if id == exclude {
			continue
		}
		if c := w.obj(id); c != nil {
			total += c.Volume + 1
		}
	}
	return total
}

// createsCycle reports whether putting child into parent would make child its own ancestor.
func (w *World) createsCycle(parent, child *Object) bool {
	return w.within(parent, child)
}

// detach removes child from its container, or from the spatial index and the awareness
// relation when it is top-level. No notifications are produced here.
func (w *World) detach(child *Object) {
	if child.parent == 0 {
		_ = w.index.Remove(child.ID, child.Loc.X, child.Loc.Z, child.Loc.Terrain)
		w.dropAwareness(child)
		return
	}
	if p := w.obj(child.parent); p != nil {
		if child.arrangement == contentsArrangement {
			p.contents.Delete(child.ID)
		} else {
			for s, occ := range p.slots {
				if occ == child.ID {
					p.slots[s] = 0
				}
			}
		}
	}
	child.parent = 0
	child.arrangement = contentsArrangement
}

// attach links child under parent at pl. Displaced occupants must already be moved.
func (w *World) attach(parent, child *Object, pl placement, rel Location) {
	child.parent = parent.ID
	child.arrangement = pl.arrangement
	if pl.arrangement == contentsArrangement {
		parent.contents.Add(child.ID)
	} else {
		for _, s := range pl.slots {
			parent.slots[s] = child.ID
		}
	}
	child.Loc = rel
	w.setTerrain(child, w.root(parent).Loc.Terrain)
}

func (w *World) setTerrain(o *Object, terrain string) {
	for _, n := range w.subtree(o) {
		n.Loc.Terrain = terrain
	}
}

// stackTarget finds the first partial stack in parent's contents child can merge into.
func (w *World) stackTarget(parent, child *Object) *Object {
	if !child.Stackable() {
		return nil
	}
	ids := parent.contents.Slice()
	slices.Sort(ids)
	for _, id := range ids {
		if c := w.obj(id); child.stackCompatible(c) {
			return c
		}
	}
	return nil
}

// slotted returns the slot names held by child inside its parent.
func (w *World) slotted(child *Object) []string {
	p := w.obj(child.parent)
	if p == nil || child.arrangement == contentsArrangement {
		return nil
	}
	var out []string
	for s, occ := range p.slots {
		if occ == child.ID {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out
}

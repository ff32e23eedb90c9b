package world

import (
	"math"
	"slices"

	"github.com/ErikKalkoken/go-set"
)

// bubble is o's effective visibility radius: its load range, extended by every child's
// offset plus that child's own bubble.
func (w *World) bubble(o *Object) float64 {
	b := math.Max(o.LoadRange, 0)
	for _, id := range w.children(o) {
		c := w.obj(id)
		if c == nil {
			continue
		}
		b = math.Max(b, math.Hypot(c.Loc.X, c.Loc.Z)+w.bubble(c))
	}
	return b
}

func (w *World) addPair(a, b *Object) {
	a.aware.Add(b.ID)
	b.aware.Add(a.ID)
}

func (w *World) removePair(a, b *Object) {
	a.aware.Delete(b.ID)
	b.aware.Delete(a.ID)
	a.custom.Delete(b.ID)
	b.custom.Delete(a.ID)
}

// dropAwareness clears every pair of o, custom pairs included.
func (w *World) dropAwareness(o *Object) []ObjectID {
	lost := o.aware.Slice()
	slices.Sort(lost)
	for _, id := range lost {
		if t := w.obj(id); t != nil {
			w.removePair(o, t)
		}
	}
	o.aware.Clear()
	o.custom.Clear()
	return lost
}

// recompute re-derives the awareness of a top-level object from the spatial index and
// applies the difference as mirrored pairs. Custom pairs are kept regardless of distance.
func (w *World) recompute(e *Object) (gained, lost []ObjectID) {
	if e.parent != 0 {
		return nil, nil
	}
	terrain := e.Loc.Terrain
	var next set.Set[ObjectID]
	if w.index.Has(terrain, e.ID) {
		be := w.bubble(e)
		if be > w.maxBubble[terrain] {
			w.maxBubble[terrain] = be
		}
		radius := math.Max(w.cfg.DiscoveryRadius, math.Max(be, w.maxBubble[terrain]))
		for _, id := range w.index.RangeQuery(e.Loc.X, e.Loc.Z, terrain, radius) {
			t := w.obj(id)
			if id == e.ID || t == nil || t.parent != 0 {
				continue
			}
			d := planarDistance(e.Loc.X, e.Loc.Z, t.Loc.X, t.Loc.Z)
			if d <= math.Max(w.cfg.DiscoveryRadius, math.Max(be, w.bubble(t))) {
				next.Add(id)
			}
		}
	}
	for id := range e.custom.All() {
		next.Add(id)
	}
	for _, id := range sortedIDs(set.Difference(next, e.aware)) {
		if t := w.obj(id); t != nil {
			w.addPair(e, t)
			gained = append(gained, id)
		}
	}
	for _, id := range sortedIDs(set.Difference(e.aware, next)) {
		if t := w.obj(id); t != nil {
			w.removePair(e, t)
		} else {
			e.aware.Delete(id)
		}
		lost = append(lost, id)
	}
	return gained, lost
}

// observersOf derives the sessions that see o: owners of anything under o's root or under
// a root aware of it, filtered by CanView over o and every container above it.
func (w *World) observersOf(o *Object) set.Set[SessionID] {
	r := w.root(o)
	cand := w.sessionsIn(r)
	for id := range r.aware.All() {
		if t := w.obj(id); t != nil {
			cand = set.Union(cand, w.sessionsIn(t))
		}
	}
	if cand.Size() == 0 {
		return cand
	}
	chain := w.chain(o)
	views := make([]ObjectView, len(chain))
	for i, c := range chain {
		views[i] = w.view(c)
	}
	var out set.Set[SessionID]
	for s := range cand.All() {
		if w.viewAllowed(s, views) {
			out.Add(s)
		}
	}
	return out
}

func (w *World) viewAllowed(s SessionID, chain []ObjectView) bool {
	for _, v := range chain {
		if !w.gate.CanView(s, v) {
			return false
		}
	}
	return true
}

func (w *World) canSee(s SessionID, o *Object) bool {
	for _, c := range w.chain(o) {
		if !w.gate.CanView(s, w.view(c)) {
			return false
		}
	}
	return true
}

// roots returns the top-level ancestors of every object s owns.
func (w *World) roots(s SessionID) set.Set[ObjectID] {
	var out set.Set[ObjectID]
	owned := w.sessions[s]
	for id := range owned.All() {
		if o := w.obj(id); o != nil {
			out.Add(w.root(o).ID)
		}
	}
	return out
}

// visibleTo is the full set of objects s currently sees.
func (w *World) visibleTo(s SessionID) set.Set[ObjectID] {
	var out set.Set[ObjectID]
	if s == "" {
		return out
	}
	var scope set.Set[ObjectID]
	roots := w.roots(s)
	for id := range roots.All() {
		scope.Add(id)
		if r := w.obj(id); r != nil {
			for a := range r.aware.All() {
				scope.Add(a)
			}
		}
	}
	for _, id := range sortedIDs(scope) {
		r := w.obj(id)
		if r == nil {
			continue
		}
		for _, n := range w.subtree(r) {
			if w.canSee(s, n) {
				out.Add(n.ID)
			}
		}
	}
	return out
}

// seenElsewhere reports whether s sees target through a root other than via.
func (w *World) seenElsewhere(s SessionID, target, via ObjectID) bool {
	roots := w.roots(s)
	for id := range roots.All() {
		if id == via {
			continue
		}
		if id == target {
			return true
		}
		if r := w.obj(id); r != nil && r.aware.Contains(target) {
			return true
		}
	}
	return false
}

// cascade turns gained and lost pairs of e into creates and destroys: sessions under
// either side learn or forget the other side's visible subtree.
func (w *World) cascade(ob *outbox, e *Object, gained, lost []ObjectID) {
	for _, id := range gained {
		t := w.obj(id)
		if t == nil {
			continue
		}
		w.pairCreates(ob, e, t)
		w.pairCreates(ob, t, e)
	}
	for _, id := range lost {
		t := w.obj(id)
		if t == nil {
			continue
		}
		w.pairDestroys(ob, e, t)
		w.pairDestroys(ob, t, e)
	}
}

func (w *World) pairCreates(ob *outbox, from, to *Object) {
	sessions := sortedSessions(w.sessionsIn(from))
	if len(sessions) == 0 {
		return
	}
	nodes := w.subtree(to)
	for _, s := range sessions {
		if w.seenElsewhere(s, to.ID, from.ID) {
			continue
		}
		for _, n := range nodes {
			if w.canSee(s, n) {
				ob.create(s, w.view(n))
			}
		}
	}
}

func (w *World) pairDestroys(ob *outbox, from, to *Object) {
	sessions := sortedSessions(w.sessionsIn(from))
	if len(sessions) == 0 {
		return
	}
	nodes := w.subtree(to)
	for _, s := range sessions {
		if w.seenElsewhere(s, to.ID, from.ID) {
			continue
		}
		for i := len(nodes) - 1; i >= 0; i-- {
			if w.canSee(s, nodes[i]) {
				ob.destroy(s, nodes[i].ID)
			}
		}
	}
}

// refreshRoot recomputes a top-level object after its contents changed and notifies the
// resulting pair changes.
func (w *World) refreshRoot(ob *outbox, r *Object) {
	if r == nil || r.parent != 0 {
		return
	}
	g, l := w.recompute(r)
	w.cascade(ob, r, g, l)
}

func sortedIDs(s set.Set[ObjectID]) []ObjectID {
	out := s.Slice()
	slices.Sort(out)
	return out
}

func sortedSessions(s set.Set[SessionID]) []SessionID {
	out := s.Slice()
	slices.Sort(out)
	return out
}

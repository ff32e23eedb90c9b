package world

import (
	"slices"

	"github.com/ErikKalkoken/go-set"
)

// lockFor takes the per-object locks named by ids, re-reading the set once the locks are
// held and retrying if it grew in between.
func (w *World) lockFor(ids func() []ObjectID) *lockedSet {
	for {
		w.mu.RLock()
		want := ids()
		w.mu.RUnlock()
		ls := w.locks.acquire(want...)
		w.mu.RLock()
		again := ids()
		w.mu.RUnlock()
		if ls.covers(again...) {
			return ls
		}
		ls.release()
	}
}

// worldLocation validates a top-level location and canonicalizes its terrain id.
func (w *World) worldLocation(loc Location) (Location, bool) {
	if !loc.finite() {
		return loc, false
	}
	t, ok := w.cfg.Terrains.Lookup(loc.Terrain)
	if !ok {
		return loc, false
	}
	loc.Terrain = t.ID
	return loc, true
}

// occupantsFor lists everything an attach of o into c may touch besides o and c.
func (w *World) occupantsFor(o, c *Object) []ObjectID {
	if o == nil || c == nil {
		return nil
	}
	var out []ObjectID
	for _, arr := range o.Arrangements {
		for _, s := range arr {
			if occ := c.slots[s]; occ != 0 {
				out = append(out, occ)
			}
		}
	}
	if t := w.stackTarget(c, o); t != nil {
		out = append(out, t.ID)
	}
	return out
}

// Place registers a new object, together with the children queued on it by the factory,
// and puts it at loc (top-level) or inside parentID. Observers receive creates; the owning
// session additionally receives everything it can now see. A stackable object placed into
// a container holding a compatible partial stack tops that stack up first; when it is used
// up entirely it is never registered.
func (w *World) Place(o *Object, parentID ObjectID, loc Location, owner SessionID) Result {
	if o == nil || o.ID == 0 {
		return w.stats.record(opPlace, ResultInvalidTarget)
	}
	ls := w.lockFor(func() []ObjectID {
		return append([]ObjectID{o.ID, parentID}, w.occupantsFor(o, w.obj(parentID))...)
	})
	ob := &outbox{}
	res := w.placeLocked(ob, o, parentID, loc, owner)
	ls.release()
	w.emit(ob, AuditEntry{Op: "place", Requester: owner, ObjectID: o.ID, Template: o.Template, To: parentID, Terrain: loc.Terrain, X: loc.X, Z: loc.Z, Result: res.String()})
	return w.stats.record(opPlace, res)
}

func (w *World) placeLocked(ob *outbox, o *Object, parentID ObjectID, loc Location, owner SessionID) Result {
	w.mu.Lock()
	defer w.mu.Unlock()

	fresh := flattenSpawn(o)
	for _, n := range fresh {
		if n.ID == 0 || w.objects[n.ID] != nil {
			ob.warn("place: object id already registered", "id", n.ID)
			return ResultInvalidTarget
		}
	}
	if !spawnFits(o) {
		return ResultContainerFull
	}
	var parent, stack *Object
	var pl placement
	if parentID == 0 {
		canon, ok := w.worldLocation(loc)
		if !ok {
			ob.warn("place: invalid location", "id", o.ID, "terrain", loc.Terrain, "x", loc.X, "z", loc.Z)
			return ResultInvalidLocation
		}
		loc = canon
	} else {
		parent = w.obj(parentID)
		if parent == nil {
			return ResultNotFound
		}
		if !loc.finite() {
			ob.warn("place: non-finite relative location", "id", o.ID)
			return ResultInvalidLocation
		}
		if len(o.spawn) == 0 {
			stack = w.stackTarget(parent, o)
		}
		if stack == nil || !stack.absorbs(o) {
			var res Result
			pl, res = w.resolvePlacement(parent, o, 0, false)
			if res != ResultOK {
				return res
			}
		}
	}
	if stack != nil && w.topUp(ob, stack, o) {
		return ResultOK
	}

	var ownerVis set.Set[ObjectID]
	if owner != "" {
		ownerVis = w.visibleTo(owner)
	}
	w.register(o)
	w.setOwner(o, owner)
	if parent == nil {
		o.Loc = loc
		w.setTerrain(o, loc.Terrain)
		w.indexInsert(ob, o)
		w.recompute(o)
	} else {
		for _, id := range pl.displaced {
			w.move(ob, w.obj(id), w.obj(pl.dest), placement{arrangement: contentsArrangement}, Location{})
		}
		w.attach(parent, o, pl, loc)
	}

	nodes := w.subtree(o)
	inSubtree := idSet(nodes)
	for _, n := range nodes {
		for _, s := range sortedSessions(w.observersOf(n)) {
			ob.create(s, w.view(n))
		}
	}
	if owner != "" {
		w.createAll(ob, owner, set.Difference(set.Difference(w.visibleTo(owner), inSubtree), ownerVis))
	}
	if parent != nil {
		w.refreshRoot(ob, w.root(parent))
	}
	return ResultOK
}

// register adds o and its queued children to the registry, attaching the children. A
// queued child takes the first arrangement whose slots are all present and free, or the
// general contents otherwise; spawnFits must have accepted o beforehand.
func (w *World) register(o *Object) {
	if o.slots == nil {
		o.slots = map[string]ObjectID{}
	}
	o.parent = 0
	o.arrangement = contentsArrangement
	w.objects[o.ID] = o
	w.bumpNextID(o.ID)
	spawn := o.spawn
	o.spawn = nil
	for _, c := range spawn {
		w.register(c)
		pl := placement{arrangement: contentsArrangement}
		if i := freeArrangement(c, func(s string) (bool, bool) {
			occ, ok := o.slots[s]
			return ok, occ == 0
		}); i >= 0 {
			pl = placement{arrangement: i, slots: c.Arrangements[i]}
		}
		w.attach(o, c, pl, c.Loc)
	}
}

// spawnFits replays register's placement of every queued child without touching o,
// reporting false when some child would overflow its container's capacity.
func spawnFits(o *Object) bool {
	for _, n := range flattenSpawn(o) {
		taken := map[string]bool{}
		used := 0
		for _, c := range n.spawn {
			i := freeArrangement(c, func(s string) (bool, bool) {
				occ, ok := n.slots[s]
				return ok, occ == 0 && !taken[s]
			})
			if i >= 0 {
				for _, s := range c.Arrangements[i] {
					taken[s] = true
				}
				continue
			}
			used += c.Volume + 1
			if n.Capacity > 0 && used > n.Capacity {
				return false
			}
		}
	}
	return true
}

// freeArrangement returns the index of child's first arrangement whose slots all exist
// and are free according to slot, or -1.
func freeArrangement(child *Object, slot func(name string) (exists, free bool)) int {
	for i, arr := range child.Arrangements {
		ok := len(arr) > 0
		for _, s := range arr {
			if exists, free := slot(s); !exists || !free {
				ok = false
				break
			}
		}
		if ok {
			return i
		}
	}
	return -1
}

func flattenSpawn(o *Object) []*Object {
	out := []*Object{o}
	for i := 0; i < len(out); i++ {
		out = append(out, out[i].spawn...)
	}
	return out
}

func (w *World) indexInsert(ob *outbox, o *Object) {
	if err := w.index.Insert(o.ID, o.Loc.X, o.Loc.Z, o.Loc.Terrain); err != nil {
		ob.warn("spatial index insert skipped", "id", o.ID, "terrain", o.Loc.Terrain, "err", err)
	}
}

func (w *World) indexRemove(ob *outbox, o *Object) {
	if err := w.index.Remove(o.ID, o.Loc.X, o.Loc.Z, o.Loc.Terrain); err != nil {
		ob.warn("spatial index remove skipped", "id", o.ID, "terrain", o.Loc.Terrain, "err", err)
	}
}

func idSet(nodes []*Object) set.Set[ObjectID] {
	var out set.Set[ObjectID]
	for _, n := range nodes {
		out.Add(n.ID)
	}
	return out
}

// Reposition moves a top-level object within the world and updates awareness. For a
// contained object only its position relative to the container changes.
func (w *World) Reposition(req Requester, id ObjectID, loc Location) Result {
	ls := w.locks.acquire(id)

	w.mu.RLock()
	o := w.obj(id)
	var ov ObjectView
	if o != nil {
		ov = w.view(o)
	}
	w.mu.RUnlock()

	res := ResultOK
	ob := &outbox{}
	switch {
	case o == nil:
		res = ResultNotFound
	case !w.gate.CanMove(req, ov):
		w.log.Debug("reposition denied", "id", id, "session", req.Session)
		res = ResultPermissionDenied
	default:
		w.mu.Lock()
		res = w.repositionLocked(ob, id, loc)
		w.mu.Unlock()
	}
	ls.release()
	w.emit(ob)
	return w.stats.record(opReposition, res)
}

func (w *World) repositionLocked(ob *outbox, id ObjectID, loc Location) Result {
	o := w.obj(id)
	if o == nil {
		return ResultNotFound
	}
	if o.parent != 0 {
		if !loc.finite() {
			ob.warn("reposition: non-finite location", "id", id)
			return ResultInvalidLocation
		}
		loc.Terrain = o.Loc.Terrain
		o.Loc = loc
		w.refreshRoot(ob, w.root(o))
		return ResultOK
	}
	canon, ok := w.worldLocation(loc)
	if !ok {
		ob.warn("reposition: invalid location", "id", id, "terrain", loc.Terrain, "x", loc.X, "z", loc.Z)
		return ResultInvalidLocation
	}
	w.indexRemove(ob, o)
	o.Loc = canon
	w.setTerrain(o, canon.Terrain)
	w.indexInsert(ob, o)
	g, l := w.recompute(o)
	w.cascade(ob, o, g, l)
	return ResultOK
}

// Transfer moves id into containerID, or into the world when containerID is 0. A nil loc
// means the origin of the container, or the current world position of id's root when
// moving into the world.
func (w *World) Transfer(req Requester, id, containerID ObjectID, loc *Location) Result {
	ls := w.lockFor(func() []ObjectID {
		o := w.obj(id)
		ids := []ObjectID{id, containerID}
		if o != nil {
			ids = append(ids, o.parent)
			ids = append(ids, w.occupantsFor(o, w.obj(containerID))...)
		}
		return ids
	})

	w.mu.RLock()
	o, c := w.obj(id), w.obj(containerID)
	var ov, cv ObjectView
	var from ObjectID
	if o != nil {
		ov = w.view(o)
		from = o.parent
	}
	if c != nil {
		cv = w.view(c)
	}
	w.mu.RUnlock()

	audit := AuditEntry{Op: "transfer", Requester: req.Session, ObjectID: id, Template: ov.Template, From: from, To: containerID}
	res := ResultOK
	ob := &outbox{}
	switch {
	case o == nil || (containerID != 0 && c == nil):
		res = ResultNotFound
	case !w.gate.CanMove(req, ov) || (c != nil && !w.gate.CanMove(req, cv)):
		w.log.Debug("transfer denied", "id", id, "container", containerID, "session", req.Session)
		res = ResultPermissionDenied
	default:
		w.mu.Lock()
		res = w.transferLocked(ob, id, containerID, loc)
		if t := w.obj(id); t != nil {
			audit.Terrain, audit.X, audit.Z = t.Loc.Terrain, t.Loc.X, t.Loc.Z
		}
		w.mu.Unlock()
	}
	ls.release()
	audit.Result = res.String()
	w.emit(ob, audit)
	return w.stats.record(opTransfer, res)
}

func (w *World) transferLocked(ob *outbox, id, containerID ObjectID, loc *Location) Result {
	o := w.obj(id)
	if o == nil {
		return ResultNotFound
	}
	if containerID == 0 {
		target := w.root(o).Loc
		if loc != nil {
			target = *loc
		}
		if o.parent == 0 {
			return w.repositionLocked(ob, id, target)
		}
		canon, ok := w.worldLocation(target)
		if !ok {
			ob.warn("transfer: invalid location", "id", id, "terrain", target.Terrain, "x", target.X, "z", target.Z)
			return ResultInvalidLocation
		}
		w.move(ob, o, nil, placement{arrangement: contentsArrangement}, canon)
		return ResultOK
	}

	c := w.obj(containerID)
	if c == nil {
		return ResultNotFound
	}
	if w.createsCycle(c, o) {
		return ResultInvalidTarget
	}
	rel := Location{}
	if loc != nil {
		rel = *loc
	}
	if !rel.finite() {
		ob.warn("transfer: non-finite relative location", "id", id)
		return ResultInvalidLocation
	}

	t := w.stackTarget(c, o)
	var pl placement
	if t == nil || !t.absorbs(o) {
		var res Result
		pl, res = w.resolvePlacement(c, o, o.parent, false)
		if res != ResultOK {
			return res
		}
	}
	if t != nil {
		if w.topUp(ob, t, o) {
			w.destroyLocked(ob, o)
			return ResultOK
		}
		w.notifyStack(ob, o)
	}
	w.move(ob, o, c, pl, rel)
	return ResultOK
}

// topUp moves as much of o's counter into the partial stack t as it has room for and
// reports whether o was used up. Any remainder must already have a placement.
func (w *World) topUp(ob *outbox, t, o *Object) bool {
	n := min(t.MaxCounter-t.Counter, o.Counter)
	t.Counter += n
	o.Counter -= n
	w.notifyStack(ob, t)
	return o.Counter == 0
}

func (w *World) notifyStack(ob *outbox, o *Object) {
	for _, s := range sortedSessions(w.observersOf(o)) {
		ob.stack(s, o.ID, o.Counter)
	}
}

// move changes o's container under the graph lock and queues the observer diff. A nil
// dest places o in the world at loc; otherwise loc is relative to dest.
func (w *World) move(ob *outbox, o, dest *Object, pl placement, loc Location) {
	nodes := w.subtree(o)
	inSubtree := idSet(nodes)
	before := make([]set.Set[SessionID], len(nodes))
	for i, n := range nodes {
		before[i] = w.observersOf(n)
	}
	inside := sortedSessions(w.sessionsIn(o))
	beforeVis := make(map[SessionID]set.Set[ObjectID], len(inside))
	for _, s := range inside {
		beforeVis[s] = w.visibleTo(s)
	}
	var oldRoot *Object
	if o.parent != 0 {
		oldRoot = w.root(o)
	}

	w.detach(o)
	for _, id := range pl.displaced {
		if occ := w.obj(id); occ != nil {
			w.move(ob, occ, w.obj(pl.dest), placement{arrangement: contentsArrangement}, Location{})
		}
	}
	var destID ObjectID
	if dest == nil {
		o.Loc = loc
		w.setTerrain(o, loc.Terrain)
		w.indexInsert(ob, o)
		w.recompute(o)
	} else {
		destID = dest.ID
		w.attach(dest, o, pl, loc)
	}

	after := make([]set.Set[SessionID], len(nodes))
	for i, n := range nodes {
		after[i] = w.observersOf(n)
	}
	for i := len(nodes) - 1; i >= 0; i-- {
		for _, s := range sortedSessions(set.Difference(before[i], after[i])) {
			ob.destroy(s, nodes[i].ID)
		}
	}
	// Sessions riding inside the subtree learn their new surroundings before they are
	// told which container they are in.
	for _, s := range inside {
		afterVis := w.visibleTo(s)
		w.destroyAll(ob, s, set.Difference(set.Difference(beforeVis[s], afterVis), inSubtree))
		w.createAll(ob, s, set.Difference(set.Difference(afterVis, beforeVis[s]), inSubtree))
	}
	for _, s := range sortedSessions(both(before[0], after[0])) {
		ob.containment(s, o.ID, destID, o.arrangement)
	}
	for i, n := range nodes {
		for _, s := range sortedSessions(set.Difference(after[i], before[i])) {
			ob.create(s, w.view(n))
		}
	}

	newRoot := w.root(o)
	if oldRoot != nil && oldRoot != newRoot {
		w.refreshRoot(ob, oldRoot)
	}
	if newRoot != o {
		w.refreshRoot(ob, newRoot)
	}
}

// createAll queues creates for ids, parents first.
func (w *World) createAll(ob *outbox, s SessionID, ids set.Set[ObjectID]) {
	for _, n := range w.byDepth(ids, false) {
		ob.create(s, w.view(n))
	}
}

// destroyAll queues destroys for ids, children first.
func (w *World) destroyAll(ob *outbox, s SessionID, ids set.Set[ObjectID]) {
	for _, n := range w.byDepth(ids, true) {
		ob.destroy(s, n.ID)
	}
}

func (w *World) byDepth(ids set.Set[ObjectID], deepestFirst bool) []*Object {
	type item struct {
		o *Object
		d int
	}
	items := make([]item, 0, ids.Size())
	for id := range ids.All() {
		if o := w.obj(id); o != nil {
			items = append(items, item{o, w.depth(o)})
		}
	}
	slices.SortFunc(items, func(a, b item) int {
		if a.d != b.d {
			if deepestFirst {
				return b.d - a.d
			}
			return a.d - b.d
		}
		return cmpID(a.o.ID, b.o.ID)
	})
	out := make([]*Object, len(items))
	for i, it := range items {
		out[i] = it.o
	}
	return out
}

func both(a, b set.Set[SessionID]) set.Set[SessionID] {
	var out set.Set[SessionID]
	for s := range a.All() {
		if b.Contains(s) {
			out.Add(s)
		}
	}
	return out
}

func cmpID(a, b ObjectID) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Destroy removes id and everything inside it from the world. Observers receive destroys
// for the whole subtree, children first.
func (w *World) Destroy(id ObjectID) Result {
	ls := w.lockFor(func() []ObjectID {
		if o := w.obj(id); o != nil {
			return []ObjectID{id, o.parent}
		}
		return []ObjectID{id}
	})
	ob := &outbox{}
	var audit AuditEntry
	w.mu.Lock()
	res := ResultNotFound
	if o := w.obj(id); o != nil {
		audit = AuditEntry{Op: "destroy", ObjectID: id, Template: o.Template, From: o.parent, Terrain: o.Loc.Terrain}
		w.destroyLocked(ob, o)
		res = ResultOK
	}
	w.mu.Unlock()
	ls.release()
	audit.Result = res.String()
	if res == ResultOK {
		w.emit(ob, audit)
	}
	return w.stats.record(opDestroy, res)
}

func (w *World) destroyLocked(ob *outbox, o *Object) {
	nodes := w.subtree(o)
	inSubtree := idSet(nodes)
	before := make([]set.Set[SessionID], len(nodes))
	for i, n := range nodes {
		before[i] = w.observersOf(n)
	}
	inside := sortedSessions(w.sessionsIn(o))
	for _, s := range inside {
		w.destroyAll(ob, s, set.Difference(w.visibleTo(s), inSubtree))
	}
	for i := len(nodes) - 1; i >= 0; i-- {
		for _, s := range sortedSessions(before[i]) {
			ob.destroy(s, nodes[i].ID)
		}
	}

	var oldRoot *Object
	if o.parent != 0 {
		oldRoot = w.root(o)
	}
	w.detach(o)
	for _, n := range nodes {
		w.dropAwareness(n)
		w.setOwner(n, "")
		delete(w.objects, n.ID)
	}
	w.refreshRoot(ob, oldRoot)
}

// SetOwner attaches a session to id, or detaches it when s is empty. The new owner
// receives its full view and the previous owner forgets what it no longer sees.
func (w *World) SetOwner(id ObjectID, s SessionID) Result {
	ls := w.locks.acquire(id)
	ob := &outbox{}
	w.mu.Lock()
	res := w.setOwnerLocked(ob, id, s)
	w.mu.Unlock()
	ls.release()
	w.emit(ob)
	return w.stats.record(opSetOwner, res)
}

func (w *World) setOwnerLocked(ob *outbox, id ObjectID, s SessionID) Result {
	o := w.obj(id)
	if o == nil {
		return ResultNotFound
	}
	prev := o.owner
	if prev == s {
		return ResultOK
	}
	affected := make([]SessionID, 0, 2)
	for _, x := range []SessionID{prev, s} {
		if x != "" {
			affected = append(affected, x)
		}
	}
	before := make([]set.Set[ObjectID], len(affected))
	for i, x := range affected {
		before[i] = w.visibleTo(x)
	}
	w.setOwner(o, s)
	for i, x := range affected {
		after := w.visibleTo(x)
		w.destroyAll(ob, x, set.Difference(before[i], after))
		w.createAll(ob, x, set.Difference(after, before[i]))
	}
	return ResultOK
}

// AddCustomAware forces a mirrored awareness pair between two top-level objects that
// survives any distance, e.g. for group members.
func (w *World) AddCustomAware(a, b ObjectID) Result {
	ls := w.locks.acquire(a, b)
	ob := &outbox{}
	w.mu.Lock()
	res := ResultOK
	oa, oc := w.obj(a), w.obj(b)
	switch {
	case oa == nil || oc == nil:
		res = ResultNotFound
	case a == b || oa.parent != 0 || oc.parent != 0:
		res = ResultInvalidTarget
	default:
		already := oa.aware.Contains(b)
		oa.custom.Add(b)
		oc.custom.Add(a)
		if !already {
			w.addPair(oa, oc)
			w.cascade(ob, oa, []ObjectID{b}, nil)
		}
	}
	w.mu.Unlock()
	ls.release()
	w.emit(ob)
	return w.stats.record(opCustomAware, res)
}

// RemoveCustomAware drops a forced pair; plain proximity may still keep it.
func (w *World) RemoveCustomAware(a, b ObjectID) Result {
	ls := w.locks.acquire(a, b)
	ob := &outbox{}
	w.mu.Lock()
	res := ResultOK
	oa, oc := w.obj(a), w.obj(b)
	if oa == nil || oc == nil {
		res = ResultNotFound
	} else {
		oa.custom.Delete(b)
		oc.custom.Delete(a)
		g, l := w.recompute(oa)
		w.cascade(ob, oa, g, l)
	}
	w.mu.Unlock()
	ls.release()
	w.emit(ob)
	return w.stats.record(opCustomAware, res)
}

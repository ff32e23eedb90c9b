package world

import "slices"

// ObserversOf returns the sessions that currently see id. The answer is derived from the
// containment tree and awareness relation on every call.
func (w *World) ObserversOf(id ObjectID) []SessionID {
	w.mu.RLock()
	defer w.mu.RUnlock()
	o := w.obj(id)
	if o == nil {
		return nil
	}
	return sortedSessions(w.observersOf(o))
}

// AwareOf returns the effective awareness of id: its own set when top-level, its root's
// set otherwise.
func (w *World) AwareOf(id ObjectID) []ObjectID {
	w.mu.RLock()
	defer w.mu.RUnlock()
	o := w.obj(id)
	if o == nil {
		return nil
	}
	r := w.root(o)
	return sortedIDs(r.aware)
}

// VisibleTo returns every object the session sees.
func (w *World) VisibleTo(s SessionID) []ObjectID {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return sortedIDs(w.visibleTo(s))
}

// Bubble returns the effective visibility radius of id.
func (w *World) Bubble(id ObjectID) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	o := w.obj(id)
	if o == nil {
		return 0
	}
	return w.bubble(o)
}

// Slots returns the slot names id occupies inside its parent.
func (w *World) Slots(id ObjectID) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	o := w.obj(id)
	if o == nil {
		return nil
	}
	return w.slotted(o)
}

// Root returns the outermost container of id, or id itself when top-level.
func (w *World) Root(id ObjectID) ObjectID {
	w.mu.RLock()
	defer w.mu.RUnlock()
	o := w.obj(id)
	if o == nil {
		return 0
	}
	return w.root(o).ID
}

// IDs lists every registered object.
func (w *World) IDs() []ObjectID {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]ObjectID, 0, len(w.objects))
	for id := range w.objects {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

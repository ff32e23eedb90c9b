package world

import (
	"slices"
	"sync"
)

// lockTable hands out per-object mutexes. Callers always lock a batch in ascending id
// order so overlapping transfers cannot deadlock.
type lockTable struct {
	mu    sync.Mutex
	locks map[ObjectID]*objectLock
}

type objectLock struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: map[ObjectID]*objectLock{}}
}

// lockedSet is a batch of held object locks.
type lockedSet struct {
	t   *lockTable
	ids []ObjectID
}

func (t *lockTable) acquire(ids ...ObjectID) *lockedSet {
	sorted := normalizeIDs(ids)
	held := make([]*objectLock, len(sorted))
	t.mu.Lock()
	for i, id := range sorted {
		l := t.locks[id]
		if l == nil {
			l = &objectLock{}
			t.locks[id] = l
		}
		l.refs++
		held[i] = l
	}
	t.mu.Unlock()
	for _, l := range held {
		l.mu.Lock()
	}
	return &lockedSet{t: t, ids: sorted}
}

func (s *lockedSet) covers(ids ...ObjectID) bool {
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := slices.BinarySearch(s.ids, id); !ok {
			return false
		}
	}
	return true
}

func (s *lockedSet) release() {
	if s == nil || s.t == nil {
		return
	}
	t := s.t
	s.t = nil
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(s.ids) - 1; i >= 0; i-- {
		id := s.ids[i]
		l := t.locks[id]
		l.mu.Unlock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, id)
		}
	}
}

// normalizeIDs sorts ascending, drops zero and duplicates.
func normalizeIDs(ids []ObjectID) []ObjectID {
	out := make([]ObjectID, 0, len(ids))
	for _, id := range ids {
		if id != 0 {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

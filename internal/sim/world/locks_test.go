package world

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zoneserver.ai/internal/persistence/snapshot"
)

func TestNormalizeIDs(t *testing.T) {
	assert.Equal(t, []ObjectID{1, 3, 9}, normalizeIDs([]ObjectID{9, 0, 3, 1, 3, 0}))
	assert.Empty(t, normalizeIDs(nil))
}

func TestLockTable_OppositeOrderDoesNotDeadlock(t *testing.T) {
	lt := newLockTable()
	var wg sync.WaitGroup
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				var ls *lockedSet
				if i%2 == 0 {
					ls = lt.acquire(1, 2, 3)
				} else {
					ls = lt.acquire(3, 2, 1)
				}
				ls.release()
			}
		}(i)
	}
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("lock table deadlocked")
	}
	lt.mu.Lock()
	assert.Empty(t, lt.locks, "released locks must be dropped from the table")
	lt.mu.Unlock()
}

func TestLockedSet_CoversAndRelease(t *testing.T) {
	lt := newLockTable()
	ls := lt.acquire(5, 2, 0)
	assert.True(t, ls.covers(2, 5, 0))
	assert.False(t, ls.covers(3))

	acquired := make(chan struct{})
	go func() {
		other := lt.acquire(5)
		close(acquired)
		other.release()
	}()
	select {
	case <-acquired:
		t.Fatal("lock on 5 should still be held")
	case <-time.After(50 * time.Millisecond):
	}
	ls.release()
	ls.release()
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("lock on 5 was not released")
	}
}

// graphLockHandler records each log message and whether the graph lock was free while
// it was written.
type graphLockHandler struct {
	w *World

	mu   sync.Mutex
	msgs []string
	held int
}

func (h *graphLockHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *graphLockHandler) WithAttrs([]slog.Attr) slog.Handler       { return h }
func (h *graphLockHandler) WithGroup(string) slog.Handler            { return h }

func (h *graphLockHandler) Handle(_ context.Context, r slog.Record) error {
	free := h.w.mu.TryLock()
	if free {
		h.w.mu.Unlock()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, r.Message)
	if !free {
		h.held++
	}
	return nil
}

func TestWorld_LogsAfterReleasingGraphLock(t *testing.T) {
	h := &graphLockHandler{}
	w, _ := newTestWorld(t, WithLogger(slog.New(h)))
	h.w = w

	place(t, w, newBag(1, 0), 0, at(0, 0), "")
	place(t, w, newItem(2, 0), 1, at(0, 0), "")
	assert.Equal(t, ResultInvalidLocation, w.Place(newItem(3, 0), 0, Location{Terrain: "hoth"}, ""))
	assert.Equal(t, ResultInvalidTarget, w.Place(newItem(1, 0), 0, at(0, 0), ""))
	assert.Equal(t, ResultInvalidLocation, w.Reposition(SystemRequester, 1, Location{Terrain: "tatooine", X: math.NaN()}))
	assert.Equal(t, ResultInvalidLocation, w.Transfer(SystemRequester, 2, 0, &Location{Terrain: "hoth"}))

	h2 := &graphLockHandler{}
	w2, _ := newTestWorld(t, WithLogger(slog.New(h2)))
	h2.w = w2
	_, err := w2.ImportSnapshot(snapshot.SnapshotV1{Objects: []snapshot.ObjectV1{
		{ID: 50, Template: "object/tangible/item", Kind: "tangible", Parent: 999, Arrangement: -1},
	}})
	require.NoError(t, err)

	assert.Len(t, h.msgs, 4)
	assert.Zero(t, h.held)
	assert.Len(t, h2.msgs, 1)
	assert.Zero(t, h2.held)
}

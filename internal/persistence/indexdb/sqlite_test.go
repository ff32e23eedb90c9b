package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zoneserver.ai/internal/persistence/snapshot"
	"zoneserver.ai/internal/sim/catalogs"
	"zoneserver.ai/internal/sim/tuning"
	"zoneserver.ai/internal/sim/world"
)

func openTest(t *testing.T) *SQLiteIndex {
	t.Helper()
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index", "zone.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestSQLiteIndex_IndexesWorldAudit(t *testing.T) {
	ctx := context.Background()
	idx := openTest(t)

	w, err := world.New(world.Config{}, world.WithAuditLogger(idx))
	require.NoError(t, err)
	bag := world.NewObject(w.NextID(), "bag", world.KindTangible)
	item := world.NewObject(w.NextID(), "item", world.KindTangible)
	require.Equal(t, world.ResultOK, w.Place(bag, 0, world.Location{Terrain: "naboo"}, "s1"))
	require.Equal(t, world.ResultOK, w.Place(item, 0, world.Location{Terrain: "naboo", X: 3}, ""))
	require.Equal(t, world.ResultOK, w.Transfer(world.SystemRequester, item.ID, bag.ID, nil))
	require.Equal(t, world.ResultOK, w.Transfer(world.SystemRequester, item.ID, 0, &world.Location{Terrain: "naboo", X: 9}))

	require.NoError(t, idx.Flush(ctx))
	rows, err := idx.TransfersOf(ctx, item.ID, 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "transfer", rows[0].Op)
	assert.Equal(t, bag.ID, rows[0].From)
	assert.Equal(t, world.ObjectID(0), rows[0].To)
	assert.Equal(t, bag.ID, rows[1].To)
	assert.Equal(t, "place", rows[2].Op)
	assert.Equal(t, "ok", rows[2].Result)
	assert.WithinDuration(t, time.Now(), rows[0].Time, time.Minute)

	rows, err = idx.TransfersOf(ctx, bag.ID, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "s1", rows[0].Requester)
}

func TestSQLiteIndex_RecordSnapshot(t *testing.T) {
	ctx := context.Background()
	idx := openTest(t)

	_, ok, err := idx.LatestSnapshot(ctx, "z1")
	require.NoError(t, err)
	assert.False(t, ok)

	for seq := uint64(1); seq <= 3; seq++ {
		idx.RecordSnapshot("/tmp/snap", snapshot.SnapshotV1{
			Header: snapshot.Header{ZoneID: "z1", Seq: seq},
			Objects: []snapshot.ObjectV1{
				{ID: 1},
				{ID: 2, Parent: 1},
			},
		})
	}
	idx.RecordSnapshot("/tmp/other", snapshot.SnapshotV1{Header: snapshot.Header{ZoneID: "z2", Seq: 9}})
	require.NoError(t, idx.Flush(ctx))

	r, ok, err := idx.LatestSnapshot(ctx, "z1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(3), r.Seq)
	assert.Equal(t, 2, r.Objects)
	assert.Equal(t, 1, r.TopLevel)
	assert.Equal(t, 1, r.Contained)

	list, err := idx.Snapshots(ctx, "z1", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, uint64(3), list[0].Seq)
	assert.Equal(t, uint64(2), list[1].Seq)
}

func TestSQLiteIndex_UpsertCatalogs(t *testing.T) {
	ctx := context.Background()
	idx := openTest(t)
	cats, err := catalogs.FromDefs(catalogs.TemplateDef{ID: "object/tangible/a", Kind: "tangible", Volume: 1})
	require.NoError(t, err)

	require.NoError(t, idx.UpsertCatalogs(ctx, cats, tuning.Defaults()))
	d, err := idx.CatalogDigest(ctx, "templates")
	require.NoError(t, err)
	assert.Equal(t, cats.Templates.Digest, d)

	first, err := idx.CatalogDigest(ctx, "tuning")
	require.NoError(t, err)
	assert.Len(t, first, 64)

	tune := tuning.Defaults()
	tune.DiscoveryRadius = 2048
	require.NoError(t, idx.UpsertCatalogs(ctx, nil, tune))
	second, err := idx.CatalogDigest(ctx, "tuning")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	missing, err := idx.CatalogDigest(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqAudit}

	_ = s.WriteAudit(world.AuditEntry{Op: "place"})
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.SnapshotV1{})

	st := s.Stats()
	assert.Equal(t, uint64(1), st.DropAuditTotal)
	assert.Equal(t, uint64(1), st.DropSnapshotTotal)
	assert.Equal(t, 1, st.QueueDepth)
	assert.Equal(t, 1, st.QueueCapacity)

	var nilIdx *SQLiteIndex
	assert.NoError(t, nilIdx.WriteAudit(world.AuditEntry{}))
	assert.Equal(t, Stats{}, nilIdx.Stats())
}

func TestSQLiteIndex_EmptyPath(t *testing.T) {
	_, err := OpenSQLite("")
	assert.Error(t, err)
}

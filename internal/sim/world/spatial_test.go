package world

import (
	"log/slog"
	"math"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zoneserver.ai/internal/sim/terrains"
)

func testIndex(t *testing.T) *SpatialIndex {
	t.Helper()
	cfg := terrains.Config{
		DefaultTerrainID: "tatooine",
		Terrains: []terrains.TerrainSpec{
			{ID: "tatooine", HalfExtent: 8192},
			{ID: "dungeon1", MinX: -1024, MinZ: -1024, MaxX: 1024, MaxZ: 1024},
		},
	}
	return NewSpatialIndex(cfg, 4, 10, slog.Default())
}

func TestSpatialIndex_RangeQueryMatchesBruteForce(t *testing.T) {
	idx := testIndex(t)
	rng := rand.New(rand.NewSource(7))
	type pt struct{ x, z float64 }
	pts := map[ObjectID]pt{}
	for i := 1; i <= 600; i++ {
		p := pt{rng.Float64()*16384 - 8192, rng.Float64()*16384 - 8192}
		// A few clusters force deep splits.
		if i%5 == 0 {
			p = pt{100 + rng.Float64()*4, -50 + rng.Float64()*4}
		}
		pts[ObjectID(i)] = p
		require.NoError(t, idx.Insert(ObjectID(i), p.x, p.z, "tatooine"))
	}
	// Move and remove a share of them.
	for i := 1; i <= 600; i += 7 {
		p := pt{rng.Float64()*2000 - 1000, rng.Float64()*2000 - 1000}
		pts[ObjectID(i)] = p
		require.NoError(t, idx.Insert(ObjectID(i), p.x, p.z, "tatooine"))
	}
	for i := 3; i <= 600; i += 11 {
		p := pts[ObjectID(i)]
		require.NoError(t, idx.Remove(ObjectID(i), p.x, p.z, "tatooine"))
		delete(pts, ObjectID(i))
	}
	require.Equal(t, len(pts), idx.Len("tatooine"))

	for q := 0; q < 200; q++ {
		x, z := rng.Float64()*16384-8192, rng.Float64()*16384-8192
		if q%4 == 0 {
			x, z = 102, -48
		}
		r := rng.Float64() * 3000
		var want []ObjectID
		for id, p := range pts {
			if math.Hypot(p.x-x, p.z-z) <= r {
				want = append(want, id)
			}
		}
		slices.Sort(want)
		got := idx.RangeQuery(x, z, "tatooine", r)
		if len(want) == 0 {
			assert.Empty(t, got)
			continue
		}
		assert.Equal(t, want, got, "query (%.1f,%.1f) r=%.1f", x, z, r)
	}
}

func TestSpatialIndex_OutOfBoundsClamped(t *testing.T) {
	idx := testIndex(t)
	require.NoError(t, idx.Insert(1, 5000, 5000, "dungeon1"))
	require.NoError(t, idx.Insert(2, 1000, 1000, "dungeon1"))
	for i := ObjectID(10); i < 30; i++ {
		require.NoError(t, idx.Insert(i, -900+float64(i), -900, "dungeon1"))
	}

	assert.Equal(t, []ObjectID{1}, idx.RangeQuery(5000, 5000, "dungeon1", 1))
	assert.Equal(t, []ObjectID{1, 2}, idx.RangeQuery(3000, 3000, "dungeon1", 2900))
	assert.Empty(t, idx.RangeQuery(1500, 1500, "dungeon1", 100))
}

func TestSpatialIndex_Idempotence(t *testing.T) {
	idx := testIndex(t)
	require.NoError(t, idx.Insert(1, 10, 10, "Tatooine"))
	require.NoError(t, idx.Insert(1, 10, 10, "tatooine"))
	assert.Equal(t, 1, idx.Len("tatooine"))
	assert.True(t, idx.Has("TATOOINE", 1))

	require.NoError(t, idx.Insert(1, 400, 400, "tatooine"))
	assert.Empty(t, idx.RangeQuery(10, 10, "tatooine", 5))
	assert.Equal(t, []ObjectID{1}, idx.RangeQuery(400, 400, "tatooine", 5))

	require.NoError(t, idx.Remove(1, 400, 400, "tatooine"))
	require.NoError(t, idx.Remove(1, 400, 400, "tatooine"))
	require.NoError(t, idx.Remove(99, 0, 0, "tatooine"))
	assert.Equal(t, 0, idx.Len("tatooine"))
}

func TestSpatialIndex_InvalidInput(t *testing.T) {
	idx := testIndex(t)
	t.Run("unknown terrain", func(t *testing.T) {
		assert.ErrorIs(t, idx.Insert(1, 0, 0, "hoth"), ErrInvalidLocation)
		assert.ErrorIs(t, idx.Remove(1, 0, 0, "hoth"), ErrInvalidLocation)
		assert.Nil(t, idx.RangeQuery(0, 0, "hoth", 10))
		assert.False(t, idx.Known("hoth"))
	})
	t.Run("non-finite", func(t *testing.T) {
		assert.ErrorIs(t, idx.Insert(1, math.NaN(), 0, "tatooine"), ErrInvalidLocation)
		assert.ErrorIs(t, idx.Insert(1, 0, math.Inf(1), "tatooine"), ErrInvalidLocation)
		assert.Equal(t, 0, idx.Len("tatooine"))
	})
	t.Run("negative radius", func(t *testing.T) {
		require.NoError(t, idx.Insert(5, 0, 0, "tatooine"))
		assert.Nil(t, idx.RangeQuery(0, 0, "tatooine", -1))
		assert.Equal(t, []ObjectID{5}, idx.RangeQuery(0, 0, "tatooine", 0))
	})
}

func TestSpatialIndex_CollapseKeepsEntries(t *testing.T) {
	idx := testIndex(t)
	for i := ObjectID(1); i <= 50; i++ {
		require.NoError(t, idx.Insert(i, float64(i), float64(i), "tatooine"))
	}
	for i := ObjectID(1); i <= 48; i++ {
		require.NoError(t, idx.Remove(i, float64(i), float64(i), "tatooine"))
	}
	assert.Equal(t, []ObjectID{49, 50}, idx.RangeQuery(0, 0, "tatooine", 100))
	require.NoError(t, idx.Insert(51, 51, 51, "tatooine"))
	assert.Equal(t, []ObjectID{49, 50, 51}, idx.RangeQuery(50, 50, "tatooine", 2))
}

package terrains

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RepositoryTerrains(t *testing.T) {
	cfg, err := Load("../../../configs/terrains.yaml")
	require.NoError(t, err)
	assert.Equal(t, "tatooine", cfg.DefaultTerrainID)
	tat, ok := cfg.Lookup("Tatooine")
	require.True(t, ok)
	assert.Equal(t, -8192.0, tat.MinX)
	assert.Equal(t, 8192.0, tat.MaxZ)
	assert.NotEmpty(t, tat.SpawnPoints)
}

func TestConfigNormalize_HalfExtentAndSpawn(t *testing.T) {
	cfg := Config{Terrains: []TerrainSpec{{ID: " Naboo ", HalfExtent: 100}}}
	require.NoError(t, cfg.Validate())
	cfg.Normalize()
	assert.Equal(t, "naboo", cfg.DefaultTerrainID)
	n := cfg.Terrains[0]
	assert.Equal(t, -100.0, n.MinX)
	assert.Equal(t, 100.0, n.MaxX)
	require.Len(t, n.SpawnPoints, 1)
	assert.Equal(t, "naboo_spawn", n.SpawnPoints[0].ID)
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"empty", Config{}, "must not be empty"},
		{"duplicate", Config{Terrains: []TerrainSpec{{ID: "a", HalfExtent: 1}, {ID: "A", HalfExtent: 1}}}, "duplicate"},
		{"no bounds", Config{Terrains: []TerrainSpec{{ID: "a"}}}, "bounds"},
		{"unknown default", Config{DefaultTerrainID: "x", Terrains: []TerrainSpec{{ID: "a", HalfExtent: 1}}}, "default_terrain_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorContains(t, tc.cfg.Validate(), tc.want)
		})
	}
}

func TestLookup_Unknown(t *testing.T) {
	cfg := Defaults()
	cfg.Normalize()
	_, ok := cfg.Lookup("")
	assert.False(t, ok)
	_, ok = cfg.Lookup("hoth")
	assert.False(t, ok)
	assert.Contains(t, cfg.IDs(), "corellia")
}

package tuning

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("empty path yields defaults", func(t *testing.T) {
		got, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Defaults(), got)
	})
	t.Run("file overrides only listed fields", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "tuning.yaml")
		require.NoError(t, os.WriteFile(p, []byte("discovery_radius: 512\narrangement_fallback: LAST\n"), 0o644))
		got, err := Load(p)
		require.NoError(t, err)
		assert.Equal(t, 512.0, got.DiscoveryRadius)
		assert.Equal(t, "last", got.ArrangementFallback)
		assert.Equal(t, 16, got.NodeCapacity)
	})
	t.Run("bad fallback is rejected", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "tuning.yaml")
		require.NoError(t, os.WriteFile(p, []byte("arrangement_fallback: random\n"), 0o644))
		_, err := Load(p)
		assert.ErrorContains(t, err, "arrangement_fallback")
	})
	t.Run("repository config loads", func(t *testing.T) {
		got, err := Load("../../../configs/tuning.yaml")
		require.NoError(t, err)
		assert.Equal(t, 1024.0, got.DiscoveryRadius)
	})
}

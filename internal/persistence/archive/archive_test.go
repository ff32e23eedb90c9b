package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zoneserver.ai/internal/persistence/snapshot"
)

func writeDummy(t *testing.T, zoneDir string, seq int) string {
	t.Helper()
	dir := filepath.Join(zoneDir, "snapshots")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	p := filepath.Join(dir, fmt.Sprintf("%d.snap.zst", seq))
	require.NoError(t, os.WriteFile(p, []byte(fmt.Sprintf("snap-%d", seq)), 0o644))
	return p
}

func TestArchiveDailySnapshot_FirstOfDayOnly(t *testing.T) {
	zoneDir := filepath.Join(t.TempDir(), "zones", "z1")
	day1 := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

	first := writeDummy(t, zoneDir, 1)
	snap := snapshot.SnapshotV1{Header: snapshot.Header{ZoneID: "z1", Seq: 1, CreatedUnix: day1.Unix()}}
	day, archivedPath, ok, err := ArchiveDailySnapshot(zoneDir, first, snap)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2026-05-04", day)
	got, err := os.ReadFile(archivedPath)
	require.NoError(t, err)
	assert.Equal(t, "snap-1", string(got))
	_, err = os.Stat(filepath.Join(filepath.Dir(archivedPath), "meta.json"))
	require.NoError(t, err)

	second := writeDummy(t, zoneDir, 2)
	snap.Header.Seq = 2
	snap.Header.CreatedUnix = day1.Add(30 * time.Minute).Unix()
	day, _, ok, err = ArchiveDailySnapshot(zoneDir, second, snap)
	require.NoError(t, err)
	assert.False(t, ok, "already archived today")
	assert.Equal(t, "2026-05-04", day)

	third := writeDummy(t, zoneDir, 3)
	snap.Header.Seq = 3
	snap.Header.CreatedUnix = day1.Add(14 * time.Hour).Unix()
	day, archivedPath, ok, err = ArchiveDailySnapshot(zoneDir, third, snap)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2026-05-05", day)
	assert.Equal(t, "3.snap.zst", filepath.Base(archivedPath))
}

func TestPruneSnapshots(t *testing.T) {
	zoneDir := t.TempDir()
	for _, seq := range []int{1, 2, 3, 10, 11} {
		writeDummy(t, zoneDir, seq)
	}

	removed, err := PruneSnapshots(zoneDir, 0)
	require.NoError(t, err)
	assert.Empty(t, removed)

	removed, err = PruneSnapshots(zoneDir, 2)
	require.NoError(t, err)
	assert.Len(t, removed, 3)

	ents, err := os.ReadDir(filepath.Join(zoneDir, "snapshots"))
	require.NoError(t, err)
	var names []string
	for _, e := range ents {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"10.snap.zst", "11.snap.zst"}, names)

	removed, err = PruneSnapshots(filepath.Join(zoneDir, "missing"), 1)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

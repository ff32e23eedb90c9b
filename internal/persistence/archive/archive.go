package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"zoneserver.ai/internal/persistence/snapshot"
)

type DailyArchiveMeta struct {
	Day       string `json:"day"`
	ZoneID    string `json:"zone_id"`
	Seq       uint64 `json:"seq"`
	Objects   int    `json:"objects"`
	NextID    uint64 `json:"next_id"`
	Snapshot  string `json:"snapshot"`
	CreatedAt string `json:"created_at"`
}

// ArchiveDailySnapshot copies the first snapshot written on each UTC day into
// `zoneDir/archives/day_<yyyy-mm-dd>/`. It returns (day, archivedPath, archived=true) when
// the snapshot was copied.
func ArchiveDailySnapshot(zoneDir, snapshotPath string, snap snapshot.SnapshotV1) (day, archivedPath string, archived bool, err error) {
	created := time.Unix(snap.Header.CreatedUnix, 0).UTC()
	if snap.Header.CreatedUnix <= 0 {
		created = time.Now().UTC()
	}
	day = created.Format("2006-01-02")

	archiveDir := filepath.Join(zoneDir, "archives", "day_"+day)
	metaPath := filepath.Join(archiveDir, "meta.json")
	if _, err := os.Stat(metaPath); err == nil {
		return day, "", false, nil
	}
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return day, "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return day, "", false, err
	}

	meta := DailyArchiveMeta{
		Day:       day,
		ZoneID:    snap.Header.ZoneID,
		Seq:       snap.Header.Seq,
		Objects:   len(snap.Objects),
		NextID:    snap.NextID,
		Snapshot:  filepath.Base(dst),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return day, "", false, err
	}
	if err := os.WriteFile(metaPath, b, 0o644); err != nil {
		return day, "", false, err
	}
	return day, dst, true, nil
}

// PruneSnapshots removes all but the newest keep snapshots from `zoneDir/snapshots/`.
// keep <= 0 disables pruning. Archived copies are never touched.
func PruneSnapshots(zoneDir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	dir := filepath.Join(zoneDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	type entry struct {
		seq  uint64
		path string
	}
	var snaps []entry
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		seq, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		snaps = append(snaps, entry{seq: seq, path: filepath.Join(dir, name)})
	}
	if len(snaps) <= keep {
		return nil, nil
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].seq > snaps[j].seq })

	var removed []string
	for _, s := range snaps[keep:] {
		if err := os.Remove(s.path); err != nil {
			return removed, fmt.Errorf("prune %s: %w", s.path, err)
		}
		removed = append(removed, s.path)
	}
	return removed, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

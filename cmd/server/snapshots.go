package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"zoneserver.ai/internal/persistence/archive"
	"zoneserver.ai/internal/persistence/r2s3"
	"zoneserver.ai/internal/persistence/snapshot"
	"zoneserver.ai/internal/sim/world"
)

// snapshotter writes numbered zone snapshots to <zoneDir>/snapshots/<seq>.snap.zst.
type snapshotter struct {
	w               *world.World
	zoneID          string
	dir             string
	templatesDigest string
	idx             runtimeIndex
	log             *slog.Logger

	// Optional: nil mirror and keep == 0 disable uploading and pruning.
	mirror       *r2s3.Mirror
	archiveDaily bool
	keep         int

	mu  sync.Mutex
	seq uint64
}

func newSnapshotter(w *world.World, zoneID, zoneDir, templatesDigest string, idx runtimeIndex, logger *slog.Logger) *snapshotter {
	s := &snapshotter{
		w:               w,
		zoneID:          zoneID,
		dir:             filepath.Join(zoneDir, "snapshots"),
		templatesDigest: templatesDigest,
		idx:             idx,
		log:             logger,
	}
	if _, seq := latestSnapshot(zoneDir); seq > 0 {
		s.seq = seq
	}
	return s
}

func (s *snapshotter) Write() (string, snapshot.SnapshotV1, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	snap := s.w.ExportSnapshot(s.zoneID, s.seq)
	snap.TemplatesDigest = s.templatesDigest
	path := filepath.Join(s.dir, fmt.Sprintf("%d.snap.zst", s.seq))
	start := time.Now()
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return "", snap, fmt.Errorf("write snapshot %s: %w", path, err)
	}
	if s.idx != nil {
		s.idx.RecordSnapshot(path, snap)
	}
	s.mirror.Enqueue(path)
	if s.archiveDaily {
		if day, archived, ok, err := archive.ArchiveDailySnapshot(filepath.Dir(s.dir), path, snap); err != nil {
			s.log.Error("archive snapshot", "err", err)
		} else if ok {
			s.log.Info("snapshot archived", "day", day, "path", archived)
			s.mirror.Enqueue(archived)
			s.mirror.Enqueue(filepath.Join(filepath.Dir(archived), "meta.json"))
		}
	}
	if removed, err := archive.PruneSnapshots(filepath.Dir(s.dir), s.keep); err != nil {
		s.log.Warn("prune snapshots", "err", err)
	} else if len(removed) > 0 {
		s.log.Debug("pruned snapshots", "count", len(removed))
	}
	var size uint64
	if fi, err := os.Stat(path); err == nil {
		size = uint64(fi.Size())
	}
	s.log.Info("snapshot written",
		"seq", s.seq,
		"objects", humanize.Comma(int64(len(snap.Objects))),
		"size", humanize.Bytes(size),
		"took", time.Since(start).Round(time.Millisecond),
	)
	return path, snap, nil
}

// Run writes a snapshot every interval until ctx ends, then writes a final one.
func (s *snapshotter) Run(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		<-ctx.Done()
		_, _, err := s.Write()
		return err
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			_, _, err := s.Write()
			return err
		case <-t.C:
			if _, _, err := s.Write(); err != nil {
				s.log.Error("periodic snapshot", "err", err)
			}
		}
	}
}

// latestSnapshot returns the highest numbered snapshot under zoneDir.
func latestSnapshot(zoneDir string) (string, uint64) {
	dir := filepath.Join(zoneDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return "", 0
	}
	var (
		best    string
		bestSeq uint64
	)
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		seq, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || seq > bestSeq {
			bestSeq = seq
			best = filepath.Join(dir, name)
		}
	}
	return best, bestSeq
}

// resume imports snap into w and removes player avatars left over from sessions that
// ended with the previous process.
func resume(w *world.World, snap snapshot.SnapshotV1, templatesDigest string, logger *slog.Logger) error {
	if snap.TemplatesDigest != "" && templatesDigest != "" && snap.TemplatesDigest != templatesDigest {
		logger.Warn("snapshot was written with a different template catalogue",
			"snapshot_digest", snap.TemplatesDigest, "current_digest", templatesDigest)
	}
	st, err := w.ImportSnapshot(snap)
	if err != nil {
		return err
	}
	pruned := 0
	for _, id := range w.IDs() {
		v, ok := w.Get(id)
		if !ok || v.Kind != world.KindPlayer {
			continue
		}
		if w.Destroy(id) == world.ResultOK {
			pruned++
		}
	}
	logger.Info("resumed from snapshot",
		"zone", snap.Header.ZoneID,
		"seq", snap.Header.Seq,
		"loaded", humanize.Comma(int64(st.Loaded)),
		"orphaned", st.Orphaned,
		"rejected", st.Rejected,
		"stale_avatars", pruned,
	)
	return nil
}

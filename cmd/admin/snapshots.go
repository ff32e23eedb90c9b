package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

func latestSnapshot(zoneDir string) string {
	ents, err := os.ReadDir(filepath.Join(zoneDir, "snapshots"))
	if err != nil {
		return ""
	}
	var (
		best    string
		bestSeq uint64
	)
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		seq, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || seq > bestSeq {
			best, bestSeq = filepath.Join(zoneDir, "snapshots", name), seq
		}
	}
	return best
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

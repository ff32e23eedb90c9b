package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	persistlog "zoneserver.ai/internal/persistence/log"
	"zoneserver.ai/internal/sim/world"
)

type auditSummary struct {
	Files   int
	Entries int
	// Counts is keyed by "<op>/<result>".
	Counts  map[string]int
	History []world.AuditEntry
}

func (s auditSummary) keys() []string {
	out := make([]string, 0, len(s.Counts))
	for k := range s.Counts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// summarizeAudit reads every hourly audit file in dir in name order. Entries before
// since are skipped; entries naming object are collected into History.
func summarizeAudit(dir string, since time.Time, object world.ObjectID) (auditSummary, error) {
	sum := auditSummary{Counts: map[string]int{}}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return sum, err
	}
	var files []string
	for _, e := range ents {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, "audit-") && strings.HasSuffix(name, ".jsonl.zst") {
			files = append(files, filepath.Join(dir, name))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		sum.Files++
		err := persistlog.ReadJSONL(f, func(line json.RawMessage) error {
			var e world.AuditEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return err
			}
			if !since.IsZero() && e.Time.Before(since) {
				return nil
			}
			sum.Entries++
			sum.Counts[e.Op+"/"+e.Result]++
			if object != 0 && (e.ObjectID == object || e.To == object || e.From == object) {
				sum.History = append(sum.History, e)
			}
			return nil
		})
		if err != nil {
			return sum, err
		}
	}
	return sum, nil
}

package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"zoneserver.ai/internal/persistence/snapshot"
	"zoneserver.ai/internal/sim/terrains"
	"zoneserver.ai/internal/sim/world"
)

// inspect loads a zone snapshot offline, verifies the rebuilt registry and summarizes
// the zone's audit log.
func main() {
	var (
		snapPath  = flag.String("snapshot", "", "path to .snap.zst")
		auditDir  = flag.String("audit", "", "audit dir containing audit-*.jsonl.zst (optional)")
		configDir = flag.String("configs", "./configs", "config directory")
		objectID  = flag.Uint64("object", 0, "print the audit history of one object (optional)")
		since     = flag.String("since", "", "only audit entries at or after this RFC3339 time (optional)")
	)
	flag.Parse()

	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("snapshot v%d zone=%s seq=%d objects=%s next_id=%d written %s\n",
		snap.Header.Version, snap.Header.ZoneID, snap.Header.Seq,
		humanize.Comma(int64(len(snap.Objects))), snap.NextID,
		humanize.Time(time.Unix(snap.Header.CreatedUnix, 0)))

	terr, err := terrains.Load(filepath.Join(*configDir, "terrains.yaml"))
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "load terrains:", err)
			os.Exit(1)
		}
		terr = terrains.Defaults()
	}
	policy, err := world.ParseArrangementPolicy(snap.ArrangementFallback)
	if err != nil {
		fmt.Fprintln(os.Stderr, "snapshot:", err)
		os.Exit(1)
	}
	w, err := world.New(world.Config{
		Terrains:        terr,
		DiscoveryRadius: snap.DiscoveryRadius,
		Fallback:        policy,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "world:", err)
		os.Exit(1)
	}
	st, err := w.ImportSnapshot(snap)
	if err != nil {
		fmt.Fprintln(os.Stderr, "import snapshot:", err)
		os.Exit(1)
	}
	m := w.Metrics()
	fmt.Printf("loaded=%d orphaned=%d rejected=%d top_level=%d contained=%d aware_pairs=%d\n",
		st.Loaded, st.Orphaned, st.Rejected, m.TopLevel, m.Contained, m.AwarePairs)
	for _, t := range terr.IDs() {
		if n := m.Indexed[t]; n > 0 {
			fmt.Printf("  %s: %s indexed, max bubble %.0f\n", t, humanize.Comma(int64(n)), m.MaxBubble[t])
		}
	}
	if err := w.CheckInvariants(); err != nil {
		fmt.Fprintln(os.Stderr, "invariants:", err)
		os.Exit(1)
	}
	fmt.Println("invariants ok")

	if *auditDir == "" {
		return
	}
	var from time.Time
	if *since != "" {
		if from, err = time.Parse(time.RFC3339, *since); err != nil {
			fmt.Fprintln(os.Stderr, "bad -since:", err)
			os.Exit(2)
		}
	}
	sum, err := summarizeAudit(*auditDir, from, world.ObjectID(*objectID))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read audit:", err)
		os.Exit(1)
	}
	fmt.Printf("audit files=%d entries=%s\n", sum.Files, humanize.Comma(int64(sum.Entries)))
	for _, k := range sum.keys() {
		fmt.Printf("  %-14s %s\n", k, humanize.Comma(int64(sum.Counts[k])))
	}
	for _, e := range sum.History {
		fmt.Printf("  %s %-10s from=%d to=%d %s %s\n",
			e.Time.Format(time.RFC3339), e.Op, e.From, e.To, e.Result, e.Requester)
	}
}

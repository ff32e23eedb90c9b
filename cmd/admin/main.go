package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"

	"zoneserver.ai/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints every zone under the data directory with its latest snapshot.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "zones")
	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		path := latestSnapshot(filepath.Join(base, name))
		if path == "" {
			fmt.Printf("%s\t(no snapshots)\n", name)
			continue
		}
		h, err := snapshot.ReadHeader(path)
		if err != nil {
			fmt.Printf("%s\t%s\t(unreadable: %v)\n", name, filepath.Base(path), err)
			continue
		}
		fmt.Printf("%s\tseq=%d\tobjects=%s\twritten %s\n",
			name, h.Seq, humanize.Comma(int64(h.Objects)), humanize.Time(unixTime(h.CreatedUnix)))
	}
}

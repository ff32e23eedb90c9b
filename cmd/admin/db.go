package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"zoneserver.ai/internal/persistence/indexdb"
	"zoneserver.ai/internal/sim/world"
)

// dbCmd queries a zone's sqlite index: snapshots | latest | transfers <object id>.
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	zoneID := fs.String("zone", "", "zone id (required)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	if strings.TrimSpace(*zoneID) == "" {
		fmt.Fprintln(os.Stderr, "missing -zone")
		os.Exit(2)
	}
	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "zones", *zoneID, "index", "zone.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "index:", err)
		os.Exit(1)
	}
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer idx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch q {
	case "snapshots":
		rows, err := idx.Snapshots(ctx, *zoneID, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, r := range rows {
			printJSON(r)
		}

	case "latest":
		r, ok, err := idx.LatestSnapshot(ctx, *zoneID)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "no snapshots found")
			os.Exit(2)
		}
		printJSON(r)

	case "transfers":
		if fs.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "usage: admin db -zone Z transfers <object id>")
			os.Exit(2)
		}
		id, err := strconv.ParseUint(fs.Arg(1), 10, 64)
		if err != nil || id == 0 {
			fmt.Fprintln(os.Stderr, "bad object id:", fs.Arg(1))
			os.Exit(2)
		}
		rows, err := idx.TransfersOf(ctx, world.ObjectID(id), *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, r := range rows {
			printJSON(r)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		os.Exit(2)
	}
}

func printJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintln(os.Stderr, "json:", err)
		return
	}
	fmt.Println(string(b))
}

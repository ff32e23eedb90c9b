package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	persistlog "zoneserver.ai/internal/persistence/log"
	"zoneserver.ai/internal/persistence/snapshot"
	"zoneserver.ai/internal/sim/catalogs"
	"zoneserver.ai/internal/sim/terrains"
	"zoneserver.ai/internal/sim/tuning"
	"zoneserver.ai/internal/sim/world"
	"zoneserver.ai/internal/transport/ws"
)

func main() {
	var (
		addr         = flag.String("addr", ":8080", "http listen address")
		zoneID       = flag.String("zone", "zone_1", "zone id")
		configDir    = flag.String("configs", "./configs", "config directory")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		tuningPath   = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		terrainsPath = flag.String("terrains", "", "path to terrains.yaml (default: <configs>/terrains.yaml)")
		disableDB    = flag.Bool("disable_db", false, "disable the sqlite index of audits and snapshots")
		snapPath     = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest   = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
		statsEvery   = flag.Duration("stats_every", time.Minute, "interval between registry samples in <data>/zones/<zone>/stats (0 disables)")
		logLevel     = flag.String("loglevel", "info", "log level: debug, info, warn, error")
		logFile      = flag.String("logfile", "", "also write logs to this size-rotated file")
	)
	flag.Parse()

	logger, logCloser, err := newLogger(*logLevel, *logFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	if err := run(serverConfig{
		Addr:         *addr,
		ZoneID:       *zoneID,
		ConfigDir:    *configDir,
		DataDir:      *dataDir,
		TuningPath:   *tuningPath,
		TerrainsPath: *terrainsPath,
		DisableDB:    *disableDB,
		SnapshotPath: *snapPath,
		LoadLatest:   *loadLatest,
		StatsEvery:   *statsEvery,
	}, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

type serverConfig struct {
	Addr         string
	ZoneID       string
	ConfigDir    string
	DataDir      string
	TuningPath   string
	TerrainsPath string
	DisableDB    bool
	SnapshotPath string
	LoadLatest   bool
	StatsEvery   time.Duration
}

func orDefault(p, dir, name string) string {
	if p = strings.TrimSpace(p); p != "" {
		return p
	}
	return filepath.Join(dir, name)
}

func run(cfg serverConfig, logger *slog.Logger) error {
	cats, err := catalogs.Load(cfg.ConfigDir)
	if err != nil {
		return fmt.Errorf("load catalogs: %w", err)
	}
	tune, err := tuning.Load(orDefault(cfg.TuningPath, cfg.ConfigDir, "tuning.yaml"))
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("load tuning: %w", err)
		}
		logger.Warn("tuning not found; using defaults")
		tune = tuning.Defaults()
	}
	terr, err := terrains.Load(orDefault(cfg.TerrainsPath, cfg.ConfigDir, "terrains.yaml"))
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("load terrains: %w", err)
		}
		logger.Warn("terrains not found; using defaults")
		terr = terrains.Defaults()
	}
	wcfg, err := world.ConfigFromTuning(tune, terr)
	if err != nil {
		return fmt.Errorf("tuning: %w", err)
	}

	zoneDir := filepath.Join(cfg.DataDir, "zones", cfg.ZoneID)
	if err := os.MkdirAll(zoneDir, 0o755); err != nil {
		return err
	}

	idx, err := openRuntimeIndex(zoneDir, cfg.DisableDB, logger)
	if err != nil {
		return fmt.Errorf("open index backend: %w", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(context.Background(), cats, tune); err != nil {
			logger.Warn("index backend: upsert catalogs", "err", err)
		}
	}

	mirror, rotateLayout, err := buildMirror(cfg.DataDir, logger)
	if err != nil {
		return err
	}
	defer mirror.Close()
	logOpts := persistlog.LoggerOptions{}
	if mirror != nil {
		logOpts.RotateLayout = rotateLayout
		logOpts.OnClose = mirror.Enqueue
	}

	auditLog := persistlog.NewAuditLoggerWithOptions(zoneDir, logOpts)
	defer auditLog.Close()
	var audit world.AuditLogger = auditLog
	if idx != nil {
		audit = multiAuditLogger{auditLog, idx}
	}

	hub := ws.NewHub(logger.With("component", "ws"))
	w, err := world.New(wcfg,
		world.WithLogger(logger.With("component", "world")),
		world.WithNotifier(hub),
		world.WithAuditLogger(audit),
	)
	if err != nil {
		return err
	}

	snapshotToLoad := strings.TrimSpace(cfg.SnapshotPath)
	if snapshotToLoad == "" && cfg.LoadLatest {
		snapshotToLoad, _ = latestSnapshot(zoneDir)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		if snap.Header.ZoneID != "" && snap.Header.ZoneID != cfg.ZoneID {
			return fmt.Errorf("snapshot zone id mismatch: flag=%s snap=%s", cfg.ZoneID, snap.Header.ZoneID)
		}
		if err := resume(w, snap, cats.Templates.Digest, logger); err != nil {
			return fmt.Errorf("import snapshot: %w", err)
		}
	}

	snaps := newSnapshotter(w, cfg.ZoneID, zoneDir, cats.Templates.Digest, idx, logger)
	snaps.mirror = mirror
	snaps.archiveDaily = envBool("ZS_ARCHIVE_DAILY", true)
	snaps.keep = envInt("ZS_SNAPSHOT_KEEP", 0)
	a := &app{
		zoneID: cfg.ZoneID,
		w:      w,
		hub:    hub,
		idx:    idx,
		mirror: mirror,
		snaps:  snaps,
		wsh: ws.NewServer(w, hub, cats, ws.Config{
			ZoneID:       cfg.ZoneID,
			Tuning:       tune,
			TuningDigest: tuningDigest(tune),
		}, logger.With("component", "ws")),
		log:         logger,
		enableAdmin: envBool("ZS_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Addr, "zone", cfg.ZoneID, "objects", w.Len())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx2)
	})
	g.Go(func() error {
		return snaps.Run(ctx, time.Duration(tune.SnapshotEverySeconds)*time.Second)
	})
	if cfg.StatsEvery > 0 {
		g.Go(func() error {
			return runStats(ctx, w, cfg.ZoneID, zoneDir, cfg.StatsEvery, logOpts)
		})
	}

	return g.Wait()
}

// runStats samples registry metrics into the zone's stats log.
func runStats(ctx context.Context, w *world.World, zoneID, zoneDir string, every time.Duration, opts persistlog.LoggerOptions) error {
	l := persistlog.NewStatsLoggerWithOptions(zoneDir, opts)
	defer l.Close()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			if err := l.WriteStats(persistlog.StatsEntry{Time: now.UTC(), ZoneID: zoneID, Metrics: w.Metrics()}); err != nil {
				return fmt.Errorf("write stats: %w", err)
			}
		}
	}
}

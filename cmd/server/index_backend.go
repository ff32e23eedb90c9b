package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"zoneserver.ai/internal/persistence/indexdb"
	"zoneserver.ai/internal/persistence/snapshot"
	"zoneserver.ai/internal/sim/catalogs"
	"zoneserver.ai/internal/sim/tuning"
	"zoneserver.ai/internal/sim/world"
)

type runtimeIndex interface {
	world.AuditLogger
	Close() error
	UpsertCatalogs(ctx context.Context, cats *catalogs.Catalogs, tune tuning.Tuning) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	Stats() indexdb.Stats
}

func openRuntimeIndex(zoneDir string, disableDB bool, logger *slog.Logger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("ZS_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		logger.Info("index backend disabled")
		return nil, nil
	case "sqlite":
		dbPath := filepath.Join(zoneDir, "index", "zone.sqlite")
		idx, err := indexdb.OpenSQLite(dbPath)
		if err != nil {
			return nil, err
		}
		logger.Info("index backend", "backend", backend, "path", dbPath)
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported ZS_INDEX_BACKEND: %s", backend)
	}
}

type multiAuditLogger []world.AuditLogger

func (m multiAuditLogger) WriteAudit(entry world.AuditEntry) error {
	var first error
	for _, l := range m {
		if l == nil {
			continue
		}
		if err := l.WriteAudit(entry); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func tuningDigest(t tuning.Tuning) string {
	b, err := json.Marshal(t)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

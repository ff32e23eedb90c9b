package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"zoneserver.ai/internal/persistence/snapshot"
	"zoneserver.ai/internal/sim/catalogs"
	"zoneserver.ai/internal/sim/tuning"
	"zoneserver.ai/internal/sim/world"
)

// SQLiteIndex is a queryable read model of the audit log and snapshot history. Writes are
// queued and applied by a single goroutine; the zstd logs stay the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropAudit    atomic.Uint64
	dropSnapshot atomic.Uint64
	writeErrors  atomic.Uint64
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropAuditTotal    uint64 `json:"drop_audit_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
	WriteErrorTotal   uint64 `json:"write_error_total"`
}

type reqKind int

const (
	reqAudit reqKind = iota + 1
	reqSnapshot
	reqFlush
)

type req struct {
	kind reqKind

	audit    world.AuditEntry
	snapshot snapshotRow
	done     chan struct{}
}

type snapshotRow struct {
	Seq       uint64
	ZoneID    string
	Path      string
	CreatedAt int64
	Objects   int
	TopLevel  int
	Contained int
	NextID    uint64
}

// TransferRow is one indexed audit entry.
type TransferRow struct {
	Seq       int64          `json:"seq"`
	Time      time.Time      `json:"time"`
	Op        string         `json:"op"`
	Requester string         `json:"requester,omitempty"`
	ObjectID  world.ObjectID `json:"object_id"`
	Template  string         `json:"template,omitempty"`
	From      world.ObjectID `json:"from"`
	To        world.ObjectID `json:"to"`
	Terrain   string         `json:"terrain,omitempty"`
	Result    string         `json:"result"`
}

type SnapshotRow struct {
	Seq         uint64 `json:"seq"`
	ZoneID      string `json:"zone_id"`
	Path        string `json:"path"`
	CreatedUnix int64  `json:"created_unix"`
	Objects     int    `json:"objects"`
	TopLevel    int    `json:"top_level"`
	Contained   int    `json:"contained"`
	NextID      uint64 `json:"next_id"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS transfers (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			time TEXT NOT NULL,
			op TEXT NOT NULL,
			requester TEXT NOT NULL,
			object_id INTEGER NOT NULL,
			template TEXT NOT NULL,
			from_id INTEGER NOT NULL,
			to_id INTEGER NOT NULL,
			terrain TEXT NOT NULL,
			x REAL NOT NULL,
			z REAL NOT NULL,
			result TEXT NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_object ON transfers(object_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_requester ON transfers(requester, seq);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			seq INTEGER PRIMARY KEY,
			zone_id TEXT NOT NULL,
			path TEXT NOT NULL,
			created_unix INTEGER NOT NULL,
			objects INTEGER NOT NULL,
			top_level INTEGER NOT NULL,
			contained INTEGER NOT NULL,
			next_id INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the queue and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropAuditTotal:    s.dropAudit.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		WriteErrorTotal:   s.writeErrors.Load(),
	}
}

// WriteAudit implements world.AuditLogger. It never blocks: entries are dropped when the
// writer falls behind.
func (s *SQLiteIndex) WriteAudit(entry world.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqAudit, audit: entry}:
	default:
		s.dropAudit.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Seq:       snap.Header.Seq,
		ZoneID:    snap.Header.ZoneID,
		Path:      path,
		CreatedAt: snap.Header.CreatedUnix,
		Objects:   len(snap.Objects),
		NextID:    snap.NextID,
	}
	for _, o := range snap.Objects {
		if o.Parent == 0 {
			r.TopLevel++
		} else {
			r.Contained++
		}
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// Flush blocks until every queued write is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpsertCatalogs stores the template catalogue and tuning actually applied, keyed by digest.
func (s *SQLiteIndex) UpsertCatalogs(ctx context.Context, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if cats != nil {
		defs := make([]catalogs.TemplateDef, 0, len(cats.Templates.Palette))
		for _, id := range cats.Templates.Palette {
			defs = append(defs, cats.Templates.Defs[id])
		}
		b, err := json.Marshal(defs)
		if err != nil {
			return err
		}
		rows = append(rows, kv{name: "templates", digest: cats.Templates.Digest, json: b})
	}
	{
		b, err := json.Marshal(tune)
		if err != nil {
			return err
		}
		rows = append(rows, kv{name: "tuning", digest: sha256Hex(b), json: b})
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.ExecContext(ctx, r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CatalogDigest returns the stored digest for name, or "" when absent.
func (s *SQLiteIndex) CatalogDigest(ctx context.Context, name string) (string, error) {
	var d string
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM catalogs WHERE name=?`, name).Scan(&d)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return d, err
}

// TransfersOf returns the most recent indexed operations on id, newest first.
func (s *SQLiteIndex) TransfersOf(ctx context.Context, id world.ObjectID, limit int) ([]TransferRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT seq,time,op,requester,object_id,template,from_id,to_id,terrain,result
		FROM transfers WHERE object_id=? ORDER BY seq DESC LIMIT ?`, int64(id), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TransferRow
	for rows.Next() {
		var (
			r        TransferRow
			ts       string
			obj      int64
			from, to int64
		)
		if err := rows.Scan(&r.Seq, &ts, &r.Op, &r.Requester, &obj, &r.Template, &from, &to, &r.Terrain, &r.Result); err != nil {
			return nil, err
		}
		r.Time, _ = time.Parse(time.RFC3339Nano, ts)
		r.ObjectID, r.From, r.To = world.ObjectID(obj), world.ObjectID(from), world.ObjectID(to)
		out = append(out, r)
	}
	return out, rows.Err()
}

const snapshotCols = `seq,zone_id,path,created_unix,objects,top_level,contained,next_id`

func scanSnapshot(sc interface{ Scan(...any) error }) (SnapshotRow, error) {
	var r SnapshotRow
	err := sc.Scan(&r.Seq, &r.ZoneID, &r.Path, &r.CreatedUnix, &r.Objects, &r.TopLevel, &r.Contained, &r.NextID)
	return r, err
}

// LatestSnapshot returns the highest-sequence snapshot recorded for zone.
func (s *SQLiteIndex) LatestSnapshot(ctx context.Context, zone string) (SnapshotRow, bool, error) {
	r, err := scanSnapshot(s.db.QueryRowContext(ctx, `SELECT `+snapshotCols+` FROM snapshots WHERE zone_id=? ORDER BY seq DESC LIMIT 1`, zone))
	if err == sql.ErrNoRows {
		return SnapshotRow{}, false, nil
	}
	if err != nil {
		return SnapshotRow{}, false, err
	}
	return r, true, nil
}

// Snapshots lists recorded snapshots of zone, newest first.
func (s *SQLiteIndex) Snapshots(ctx context.Context, zone string, limit int) ([]SnapshotRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+snapshotCols+` FROM snapshots WHERE zone_id=? ORDER BY seq DESC LIMIT ?`, zone, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SnapshotRow
	for rows.Next() {
		r, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTransfer, _ := s.db.Prepare(`INSERT INTO transfers(time,op,requester,object_id,template,from_id,to_id,terrain,x,z,result,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(seq,zone_id,path,created_unix,objects,top_level,contained,next_id) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertTransfer != nil {
			_ = insertTransfer.Close()
		}
		if insertSnapshot != nil {
			_ = insertSnapshot.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeErrors.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		s.writeErrors.Add(1)
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	// Queries share the single connection, so an idle open tx must not linger.
	tick := time.NewTicker(commitMaxWait)
	defer tick.Stop()

	for {
		var (
			r  req
			ok bool
		)
		select {
		case r, ok = <-s.ch:
		case <-tick.C:
			commit()
			continue
		}
		if !ok {
			break
		}
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqAudit:
			a := r.audit
			raw, _ := json.Marshal(a)
			if insertTransfer != nil {
				if _, err := tx.Stmt(insertTransfer).Exec(
					a.Time.UTC().Format(time.RFC3339Nano),
					a.Op,
					string(a.Requester),
					int64(a.ObjectID),
					a.Template,
					int64(a.From),
					int64(a.To),
					a.Terrain,
					a.X, a.Z,
					a.Result,
					string(raw),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(
					int64(sn.Seq),
					sn.ZoneID,
					sn.Path,
					sn.CreatedAt,
					sn.Objects,
					sn.TopLevel,
					sn.Contained,
					int64(sn.NextID),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	commit()
}

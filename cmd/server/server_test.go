package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zoneserver.ai/internal/persistence/snapshot"
	"zoneserver.ai/internal/sim/catalogs"
	"zoneserver.ai/internal/sim/world"
	"zoneserver.ai/internal/transport/ws"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestApp(t *testing.T, admin bool) (*app, string) {
	t.Helper()
	zoneDir := filepath.Join(t.TempDir(), "zones", "z1")
	hub := ws.NewHub(quietLogger())
	w, err := world.New(world.Config{}, world.WithNotifier(hub))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		o := world.NewObject(w.NextID(), "object/tangible/crate", world.KindTangible)
		require.Equal(t, world.ResultOK, w.Place(o, 0, world.Location{Terrain: "tatooine", X: float64(i)}, ""))
	}
	return &app{
		zoneID:      "z1",
		w:           w,
		hub:         hub,
		snaps:       newSnapshotter(w, "z1", zoneDir, "digest", nil, quietLogger()),
		log:         quietLogger(),
		enableAdmin: admin,
	}, zoneDir
}

func do(h http.Handler, method, path, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if remote != "" {
		req.RemoteAddr = remote
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes_HealthAndMetrics(t *testing.T) {
	a, _ := newTestApp(t, false)
	mux := a.routes()

	rec := do(mux, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = do(mux, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `zoneserver_objects{zone="z1",placement="top_level"} 3`)
	assert.Contains(t, body, `zoneserver_aware_pairs{zone="z1"} 3`)
	assert.Contains(t, body, `zoneserver_indexed{zone="z1",terrain="tatooine"} 3`)
	assert.Contains(t, body, `zoneserver_ops_total{zone="z1",op="place",result="ok"} 3`)
	assert.Contains(t, body, `zoneserver_ws_sessions{zone="z1"} 0`)

	rec = do(mux, http.MethodGet, "/admin/v1/state", "127.0.0.1:5000")
	assert.Equal(t, http.StatusNotFound, rec.Code, "admin routes are not mounted when disabled")
}

func TestRoutes_AdminIsLoopbackOnly(t *testing.T) {
	a, zoneDir := newTestApp(t, true)
	mux := a.routes()

	rec := do(mux, http.MethodGet, "/admin/v1/state", "203.0.113.9:4000")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(mux, http.MethodGet, "/admin/v1/state?check=1", "127.0.0.1:4000")
	require.Equal(t, http.StatusOK, rec.Code)
	var st struct {
		ZoneID  string             `json:"zone_id"`
		Metrics world.WorldMetrics `json:"metrics"`
		Invalid string             `json:"invariant_error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "z1", st.ZoneID)
	assert.Equal(t, 3, st.Metrics.Objects)
	assert.Empty(t, st.Invalid)

	rec = do(mux, http.MethodGet, "/admin/v1/snapshot", "127.0.0.1:4000")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(mux, http.MethodPost, "/admin/v1/snapshot", "[::1]:4000")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		OK      bool   `json:"ok"`
		Seq     uint64 `json:"seq"`
		Objects int    `json:"objects"`
		Path    string `json:"path"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, uint64(1), resp.Seq)
	assert.Equal(t, 3, resp.Objects)

	path, seq := latestSnapshot(zoneDir)
	assert.Equal(t, resp.Path, path)
	assert.Equal(t, uint64(1), seq)
	snap, err := snapshot.ReadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, "digest", snap.TemplatesDigest)
}

func TestSnapshotter_SequenceContinuesAfterRestart(t *testing.T) {
	a, zoneDir := newTestApp(t, true)
	for i := 0; i < 2; i++ {
		_, _, err := a.snaps.Write()
		require.NoError(t, err)
	}
	again := newSnapshotter(a.w, "z1", zoneDir, "digest", nil, quietLogger())
	_, snap, err := again.Write()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), snap.Header.Seq)

	path, seq := latestSnapshot(zoneDir)
	assert.Equal(t, uint64(3), seq)
	assert.True(t, strings.HasSuffix(path, "3.snap.zst"))
}

func TestSnapshotter_ArchivesAndPrunes(t *testing.T) {
	a, zoneDir := newTestApp(t, false)
	a.snaps.archiveDaily = true
	a.snaps.keep = 1
	for i := 0; i < 3; i++ {
		_, _, err := a.snaps.Write()
		require.NoError(t, err)
	}

	left, err := filepath.Glob(filepath.Join(zoneDir, "snapshots", "*.snap.zst"))
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "3.snap.zst", filepath.Base(left[0]))

	archived, err := filepath.Glob(filepath.Join(zoneDir, "archives", "day_*", "*.snap.zst"))
	require.NoError(t, err)
	require.Len(t, archived, 1, "first snapshot of the day only")
	assert.Equal(t, "1.snap.zst", filepath.Base(archived[0]))
}

func TestSnapshotter_RunWritesFinalSnapshot(t *testing.T) {
	a, zoneDir := newTestApp(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.snaps.Run(ctx, 0))
	_, seq := latestSnapshot(zoneDir)
	assert.Equal(t, uint64(1), seq)
}

func TestResume_PrunesStaleAvatars(t *testing.T) {
	cats, err := catalogs.Load("../../configs")
	require.NoError(t, err)
	src, err := world.New(world.Config{})
	require.NoError(t, err)
	f := world.NewFactory(cats, src.NextID)
	avatar, err := f.Create("object/creature/player/human_male")
	require.NoError(t, err)
	require.Equal(t, world.ResultOK, src.Place(avatar, 0, world.Location{Terrain: "tatooine"}, "s1"))
	hat, err := f.Create("object/tangible/wearables/hat/hat_s01")
	require.NoError(t, err)
	require.Equal(t, world.ResultOK, src.Place(hat, 0, world.Location{Terrain: "tatooine", X: 4}, ""))
	snap := src.ExportSnapshot("z1", 1)

	dst, err := world.New(world.Config{})
	require.NoError(t, err)
	require.NoError(t, resume(dst, snap, cats.Templates.Digest, quietLogger()))
	assert.Equal(t, []world.ObjectID{hat.ID}, dst.IDs())
	assert.NoError(t, dst.CheckInvariants())
}

func TestMultiAuditLogger_FansOut(t *testing.T) {
	var a, b []world.AuditEntry
	m := multiAuditLogger{auditFunc(func(e world.AuditEntry) { a = append(a, e) }), nil, auditFunc(func(e world.AuditEntry) { b = append(b, e) })}
	require.NoError(t, m.WriteAudit(world.AuditEntry{Op: "place"}))
	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
}

type auditFunc func(world.AuditEntry)

func (f auditFunc) WriteAudit(e world.AuditEntry) error {
	f(e)
	return nil
}

func TestIsLoopbackRemote(t *testing.T) {
	assert.True(t, isLoopbackRemote("127.0.0.1:80"))
	assert.True(t, isLoopbackRemote("[::1]:80"))
	assert.False(t, isLoopbackRemote("10.0.0.1:80"))
	assert.False(t, isLoopbackRemote("garbage"))
}

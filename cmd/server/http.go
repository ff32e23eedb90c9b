package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"slices"
	"strings"

	"zoneserver.ai/internal/persistence/r2s3"
	"zoneserver.ai/internal/sim/world"
	"zoneserver.ai/internal/transport/ws"
)

type app struct {
	zoneID string
	w      *world.World
	hub    *ws.Hub
	idx    runtimeIndex
	mirror *r2s3.Mirror
	snaps  *snapshotter
	wsh    http.Handler
	log    *slog.Logger

	enableAdmin bool
}

func (a *app) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", a.handleMetrics)
	if a.enableAdmin {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", a.handleState)
		mux.HandleFunc("/admin/v1/snapshot", a.handleSnapshot)
	} else {
		a.log.Info("admin endpoints disabled (ZS_ENABLE_ADMIN_HTTP=false)")
	}
	if a.wsh != nil {
		mux.Handle("/v1/ws", a.wsh)
	}
	return mux
}

func (a *app) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	writeMetrics(rw, a.zoneID, a.w.Metrics(), a.hub, a.idx, a.mirror)
}

// writeMetrics renders the minimal Prometheus exposition format.
func writeMetrics(out io.Writer, zone string, m world.WorldMetrics, hub *ws.Hub, idx runtimeIndex, mirror *r2s3.Mirror) {
	fmt.Fprintf(out, "# HELP zoneserver_objects Registered objects.\n")
	fmt.Fprintf(out, "# TYPE zoneserver_objects gauge\n")
	fmt.Fprintf(out, "zoneserver_objects{zone=%q,placement=%q} %d\n", zone, "top_level", m.TopLevel)
	fmt.Fprintf(out, "zoneserver_objects{zone=%q,placement=%q} %d\n", zone, "contained", m.Contained)

	fmt.Fprintf(out, "# HELP zoneserver_sessions Sessions owning at least one object.\n")
	fmt.Fprintf(out, "# TYPE zoneserver_sessions gauge\n")
	fmt.Fprintf(out, "zoneserver_sessions{zone=%q} %d\n", zone, m.Sessions)

	fmt.Fprintf(out, "# HELP zoneserver_aware_pairs Mutual awareness pairs between top-level objects.\n")
	fmt.Fprintf(out, "# TYPE zoneserver_aware_pairs gauge\n")
	fmt.Fprintf(out, "zoneserver_aware_pairs{zone=%q} %d\n", zone, m.AwarePairs)

	fmt.Fprintf(out, "# HELP zoneserver_indexed Objects in each terrain's spatial index.\n")
	fmt.Fprintf(out, "# TYPE zoneserver_indexed gauge\n")
	for _, t := range sortedKeys(m.Indexed) {
		fmt.Fprintf(out, "zoneserver_indexed{zone=%q,terrain=%q} %d\n", zone, t, m.Indexed[t])
	}

	fmt.Fprintf(out, "# HELP zoneserver_ops_total Completed world operations by result.\n")
	fmt.Fprintf(out, "# TYPE zoneserver_ops_total counter\n")
	for _, op := range sortedKeys(m.Ops) {
		byResult := m.Ops[op]
		for _, res := range sortedKeys(byResult) {
			fmt.Fprintf(out, "zoneserver_ops_total{zone=%q,op=%q,result=%q} %d\n", zone, op, res, byResult[res])
		}
	}

	if hub != nil {
		st := hub.Stats()
		fmt.Fprintf(out, "# HELP zoneserver_ws_sessions Connected websocket sessions.\n")
		fmt.Fprintf(out, "# TYPE zoneserver_ws_sessions gauge\n")
		fmt.Fprintf(out, "zoneserver_ws_sessions{zone=%q} %d\n", zone, st.Sessions)
		fmt.Fprintf(out, "# HELP zoneserver_ws_messages_total Outbound notification frames.\n")
		fmt.Fprintf(out, "# TYPE zoneserver_ws_messages_total counter\n")
		fmt.Fprintf(out, "zoneserver_ws_messages_total{zone=%q,outcome=%q} %d\n", zone, "sent", st.MessagesSent)
		fmt.Fprintf(out, "zoneserver_ws_messages_total{zone=%q,outcome=%q} %d\n", zone, "dropped", st.MessagesDropped)
		fmt.Fprintf(out, "zoneserver_ws_overflow_total{zone=%q} %d\n", zone, st.SessionsOverflow)
	}

	if idx != nil {
		st := idx.Stats()
		fmt.Fprintf(out, "# HELP zoneserver_index_queue_depth Pending index writes.\n")
		fmt.Fprintf(out, "# TYPE zoneserver_index_queue_depth gauge\n")
		fmt.Fprintf(out, "zoneserver_index_queue_depth{zone=%q} %d\n", zone, st.QueueDepth)
		fmt.Fprintf(out, "zoneserver_index_dropped_total{zone=%q,kind=%q} %d\n", zone, "audit", st.DropAuditTotal)
		fmt.Fprintf(out, "zoneserver_index_dropped_total{zone=%q,kind=%q} %d\n", zone, "snapshot", st.DropSnapshotTotal)
		fmt.Fprintf(out, "zoneserver_index_write_errors_total{zone=%q} %d\n", zone, st.WriteErrorTotal)
	}

	if mirror != nil {
		st := mirror.Stats()
		fmt.Fprintf(out, "# HELP zoneserver_mirror_queue_depth Files waiting for upload.\n")
		fmt.Fprintf(out, "# TYPE zoneserver_mirror_queue_depth gauge\n")
		fmt.Fprintf(out, "zoneserver_mirror_queue_depth{zone=%q} %d\n", zone, st.QueueDepth)
		fmt.Fprintf(out, "zoneserver_mirror_uploads_total{zone=%q,outcome=%q} %d\n", zone, "ok", st.UploadSuccessTotal)
		fmt.Fprintf(out, "zoneserver_mirror_uploads_total{zone=%q,outcome=%q} %d\n", zone, "failed", st.UploadFailTotal)
		fmt.Fprintf(out, "zoneserver_mirror_dropped_total{zone=%q} %d\n", zone, st.DroppedTotal)
		fmt.Fprintf(out, "zoneserver_mirror_last_success_unix{zone=%q} %d\n", zone, st.LastSuccessUnix)
	}
}

func (a *app) handleState(rw http.ResponseWriter, r *http.Request) {
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	resp := struct {
		ZoneID  string             `json:"zone_id"`
		Metrics world.WorldMetrics `json:"metrics"`
		Hub     *ws.HubStats       `json:"hub,omitempty"`
		Invalid string             `json:"invariant_error,omitempty"`
	}{
		ZoneID:  a.zoneID,
		Metrics: a.w.Metrics(),
	}
	if a.hub != nil {
		st := a.hub.Stats()
		resp.Hub = &st
	}
	if r.URL.Query().Get("check") == "1" {
		if err := a.w.CheckInvariants(); err != nil {
			resp.Invalid = err.Error()
		}
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(resp)
}

func (a *app) handleSnapshot(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	path, snap, err := a.snaps.Write()
	rw.Header().Set("Content-Type", "application/json")
	if err != nil {
		a.log.Error("admin snapshot", "err", err)
		rw.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
		return
	}
	_ = json.NewEncoder(rw).Encode(map[string]any{
		"ok":      true,
		"seq":     snap.Header.Seq,
		"objects": len(snap.Objects),
		"path":    path,
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

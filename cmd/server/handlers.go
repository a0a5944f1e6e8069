package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"voxelscene.dev/internal/sim/world"
	"voxelscene.dev/internal/transport/ws"
)

type muxOptions struct {
	EnableAdmin bool
	EnablePprof bool
}

func newMux(w *world.World, idx runtimeIndex, logger *zap.Logger, opts muxOptions) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, w, idx)
	})

	if opts.EnableAdmin {
		// Local-only admin endpoints (read-only, do not affect the simulation).
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				SceneID string        `json:"scene_id"`
				Tick    uint64        `json:"tick"`
				Metrics world.Metrics `json:"metrics"`
			}{
				SceneID: w.Config().SceneID,
				Tick:    w.CurrentTick(),
				Metrics: w.Metrics(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/batches", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			if idx == nil {
				http.Error(rw, "index disabled", http.StatusServiceUnavailable)
				return
			}
			q := r.URL.Query()
			rw.Header().Set("Content-Type", "application/json")
			if s := q.Get("node"); s != "" {
				nodeID, err := strconv.ParseUint(s, 10, 64)
				if err != nil {
					http.Error(rw, "bad node", http.StatusBadRequest)
					return
				}
				rows, err := idx.ResultsForNode(r.Context(), nodeID)
				if err != nil {
					http.Error(rw, err.Error(), http.StatusInternalServerError)
					return
				}
				_ = json.NewEncoder(rw).Encode(map[string]any{"node_id": nodeID, "results": rows})
				return
			}
			clientID, err := strconv.ParseUint(q.Get("client"), 10, 32)
			if err != nil {
				http.Error(rw, "bad client", http.StatusBadRequest)
				return
			}
			limit, _ := strconv.Atoi(q.Get("limit"))
			rows, err := idx.BatchesByClient(r.Context(), uint32(clientID), limit)
			if err != nil {
				http.Error(rw, err.Error(), http.StatusInternalServerError)
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"client_id": clientID, "batches": rows})
		})
	}
	if opts.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(w, logger.Named("ws")).Handler())
	return mux
}

func writeMetrics(rw http.ResponseWriter, w *world.World, idx runtimeIndex) {
	m := w.Metrics()
	tick := w.CurrentTick()
	if m.Tick != 0 {
		tick = m.Tick
	}
	scene := w.Config().SceneID

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP voxelscene_world_tick Current world tick.\n")
	fmt.Fprintf(rw, "# TYPE voxelscene_world_tick gauge\n")
	fmt.Fprintf(rw, "voxelscene_world_tick{scene=%q} %d\n", scene, tick)

	fmt.Fprintf(rw, "# HELP voxelscene_world_clients Current number of connected clients.\n")
	fmt.Fprintf(rw, "# TYPE voxelscene_world_clients gauge\n")
	fmt.Fprintf(rw, "voxelscene_world_clients{scene=%q} %d\n", scene, m.Clients)

	fmt.Fprintf(rw, "# HELP voxelscene_world_avatars Simulated character bodies.\n")
	fmt.Fprintf(rw, "# TYPE voxelscene_world_avatars gauge\n")
	fmt.Fprintf(rw, "voxelscene_world_avatars{scene=%q} %d\n", scene, m.Avatars)

	fmt.Fprintf(rw, "# HELP voxelscene_scene_nodes Live scene nodes.\n")
	fmt.Fprintf(rw, "# TYPE voxelscene_scene_nodes gauge\n")
	fmt.Fprintf(rw, "voxelscene_scene_nodes{scene=%q} %d\n", scene, m.SceneNodes)
	fmt.Fprintf(rw, "voxelscene_scene_blocks{scene=%q} %d\n", scene, m.Blocks)

	fmt.Fprintf(rw, "# HELP voxelscene_scene_revision Scene and CSG revision counters.\n")
	fmt.Fprintf(rw, "# TYPE voxelscene_scene_revision gauge\n")
	fmt.Fprintf(rw, "voxelscene_scene_revision{scene=%q,kind=%q} %d\n", scene, "scene", m.SceneRevision)
	fmt.Fprintf(rw, "voxelscene_scene_revision{scene=%q,kind=%q} %d\n", scene, "csg", m.CSGRevision)

	fmt.Fprintf(rw, "# HELP voxelscene_world_queue_depth Channel backlog depth.\n")
	fmt.Fprintf(rw, "# TYPE voxelscene_world_queue_depth gauge\n")
	fmt.Fprintf(rw, "voxelscene_world_queue_depth{scene=%q,queue=%q} %d\n", scene, "inbox", m.QueueDepths.Inbox)
	fmt.Fprintf(rw, "voxelscene_world_queue_depth{scene=%q,queue=%q} %d\n", scene, "join", m.QueueDepths.Join)
	fmt.Fprintf(rw, "voxelscene_world_queue_depth{scene=%q,queue=%q} %d\n", scene, "leave", m.QueueDepths.Leave)

	fmt.Fprintf(rw, "# HELP voxelscene_world_step_ms Last tick step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE voxelscene_world_step_ms gauge\n")
	fmt.Fprintf(rw, "voxelscene_world_step_ms{scene=%q} %.3f\n", scene, m.StepMS)

	fmt.Fprintf(rw, "# HELP voxelscene_batches_total Client scene batches by outcome.\n")
	fmt.Fprintf(rw, "# TYPE voxelscene_batches_total counter\n")
	fmt.Fprintf(rw, "voxelscene_batches_total{scene=%q,outcome=%q} %d\n", scene, "applied", m.BatchesApplied)
	fmt.Fprintf(rw, "voxelscene_batches_total{scene=%q,outcome=%q} %d\n", scene, "aborted", m.BatchesAborted)

	fmt.Fprintf(rw, "# HELP voxelscene_ops_total Scene ops by result.\n")
	fmt.Fprintf(rw, "# TYPE voxelscene_ops_total counter\n")
	fmt.Fprintf(rw, "voxelscene_ops_total{scene=%q,result=%q} %d\n", scene, "ok", m.OpsOK)
	fmt.Fprintf(rw, "voxelscene_ops_total{scene=%q,result=%q} %d\n", scene, "failed", m.OpsFailed)

	fmt.Fprintf(rw, "# HELP voxelscene_clients_kicked_total Clients disconnected for a full reliable lane.\n")
	fmt.Fprintf(rw, "# TYPE voxelscene_clients_kicked_total counter\n")
	fmt.Fprintf(rw, "voxelscene_clients_kicked_total{scene=%q} %d\n", scene, m.Kicked)

	if idx == nil {
		return
	}
	s := idx.Stats()
	fmt.Fprintf(rw, "# HELP voxelscene_index_queue_depth SQLite index writer backlog.\n")
	fmt.Fprintf(rw, "# TYPE voxelscene_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "voxelscene_index_queue_depth{scene=%q} %d\n", scene, s.QueueDepth)
	fmt.Fprintf(rw, "# HELP voxelscene_index_dropped_total Index writes dropped because the queue was full.\n")
	fmt.Fprintf(rw, "# TYPE voxelscene_index_dropped_total counter\n")
	fmt.Fprintf(rw, "voxelscene_index_dropped_total{scene=%q,kind=%q} %d\n", scene, "tick", s.DropTickTotal)
	fmt.Fprintf(rw, "voxelscene_index_dropped_total{scene=%q,kind=%q} %d\n", scene, "batch", s.DropBatchTotal)
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

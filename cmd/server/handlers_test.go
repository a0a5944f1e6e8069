package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"voxelscene.dev/internal/persistence/indexdb"
	"voxelscene.dev/internal/protocol"
	"voxelscene.dev/internal/scene"
	"voxelscene.dev/internal/sim/world"
)

func newTestWorld(t *testing.T) *world.World {
	t.Helper()
	w, err := world.New(world.WorldConfig{SceneID: "arena", TickRateHz: 20}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	return w
}

func joinOne(t *testing.T, w *world.World) uint32 {
	t.Helper()
	resp := make(chan world.JoinResponse, 1)
	w.StepOnce([]world.JoinRequest{{Name: "a", Lanes: world.NewLanes(64, 4), Resp: resp}}, nil, nil)
	return (<-resp).Welcome.ClientID
}

func get(t *testing.T, h http.Handler, path, remote string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remote
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestMetricsExposition(t *testing.T) {
	w := newTestWorld(t)
	c := joinOne(t, w)
	w.StepOnce(nil, nil, []world.Envelope{world.BatchEnvelope{ClientID: c, Batch: protocol.SceneOpBatch{
		BatchID: protocol.ComposeBatchID(c, 1),
		Ops:     []protocol.SceneOp{protocol.CreateNode(w.Scene().RootID(), "Box", scene.TypeCSGBlock)},
	}}})

	mux := newMux(w, nil, zaptest.NewLogger(t), muxOptions{})
	rr := get(t, mux, "/metrics", "127.0.0.1:4000")
	if rr.Code != 200 {
		t.Fatalf("status %d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	for _, want := range []string{
		`voxelscene_world_tick{scene="arena"} 2`,
		`voxelscene_world_clients{scene="arena"} 1`,
		`voxelscene_batches_total{scene="arena",outcome="applied"} 1`,
		`voxelscene_scene_blocks{scene="arena"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
	if strings.Contains(string(body), "voxelscene_index_") {
		t.Fatalf("index metrics without an index")
	}
}

func TestHealthz(t *testing.T) {
	rr := get(t, newMux(newTestWorld(t), nil, zaptest.NewLogger(t), muxOptions{}), "/healthz", "10.0.0.1:1")
	if rr.Code != 200 || rr.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rr.Code, rr.Body.String())
	}
}

func TestAdminStateLoopbackOnly(t *testing.T) {
	w := newTestWorld(t)
	joinOne(t, w)
	mux := newMux(w, nil, zaptest.NewLogger(t), muxOptions{EnableAdmin: true})

	if rr := get(t, mux, "/admin/v1/state", "10.0.0.1:1234"); rr.Code != http.StatusForbidden {
		t.Fatalf("remote status %d", rr.Code)
	}
	rr := get(t, mux, "/admin/v1/state", "[::1]:1234")
	if rr.Code != 200 {
		t.Fatalf("status %d", rr.Code)
	}
	var resp struct {
		SceneID string        `json:"scene_id"`
		Tick    uint64        `json:"tick"`
		Metrics world.Metrics `json:"metrics"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SceneID != "arena" || resp.Tick != 1 || resp.Metrics.Clients != 1 || resp.Metrics.Avatars != 1 {
		t.Fatalf("unexpected state: %+v", resp)
	}
}

func TestAdminDisabled(t *testing.T) {
	mux := newMux(newTestWorld(t), nil, zaptest.NewLogger(t), muxOptions{})
	if rr := get(t, mux, "/admin/v1/state", "127.0.0.1:1"); rr.Code != http.StatusNotFound {
		t.Fatalf("status %d", rr.Code)
	}
}

func TestAdminBatchesFromIndex(t *testing.T) {
	dir := t.TempDir()
	idx, err := indexdb.OpenSQLite(filepath.Join(dir, "index.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = idx.RecordBatch(world.BatchRecord{
		Tick:     2,
		ClientID: 4,
		BatchID:  protocol.ComposeBatchID(4, 1),
		Ops:      []protocol.SceneOp{protocol.Rename(9, "x")},
		Results:  []protocol.SceneOpResult{protocol.FailResult(9, protocol.ErrNotFound, "node 9 not found")},
	})
	// Close drains the writer so the rows are visible after reopening.
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	idx, err = indexdb.OpenSQLite(filepath.Join(dir, "index.sqlite"))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()

	mux := newMux(newTestWorld(t), idx, zaptest.NewLogger(t), muxOptions{EnableAdmin: true})
	rr := get(t, mux, "/admin/v1/batches?client=4", "127.0.0.1:1")
	if rr.Code != 200 {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Batches []indexdb.BatchRow `json:"batches"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Batches) != 1 || resp.Batches[0].Failed != 1 {
		t.Fatalf("unexpected batches: %+v", resp.Batches)
	}

	rr = get(t, mux, "/admin/v1/batches?node=9", "127.0.0.1:1")
	var nodeResp struct {
		Results []indexdb.ResultRow `json:"results"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&nodeResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(nodeResp.Results) != 1 || nodeResp.Results[0].Code != protocol.ErrNotFound {
		t.Fatalf("unexpected results: %+v", nodeResp.Results)
	}

	if rr := get(t, mux, "/admin/v1/batches?client=x", "127.0.0.1:1"); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad client status %d", rr.Code)
	}

	metrics := get(t, mux, "/metrics", "127.0.0.1:1").Body.String()
	if !strings.Contains(metrics, `voxelscene_index_dropped_total{scene="arena",kind="tick"} 0`) {
		t.Fatalf("index metrics missing:\n%s", metrics)
	}
}

func TestOpenRuntimeIndexBackends(t *testing.T) {
	t.Setenv("VS_INDEX_BACKEND", "none")
	idx, err := openRuntimeIndex(t.TempDir(), false)
	if err != nil || idx != nil {
		t.Fatalf("none backend: %v %v", idx, err)
	}
	t.Setenv("VS_INDEX_BACKEND", "postgres")
	if _, err := openRuntimeIndex(t.TempDir(), false); err == nil {
		t.Fatalf("expected unsupported backend error")
	}
	t.Setenv("VS_INDEX_BACKEND", "")
	idx, err = openRuntimeIndex(t.TempDir(), false)
	if err != nil || idx == nil {
		t.Fatalf("sqlite backend: %v", err)
	}
	_ = idx.Close()
	if idx, _ := openRuntimeIndex(t.TempDir(), true); idx != nil {
		t.Fatalf("disable_db should return nil")
	}
}

package log

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"voxelscene.dev/internal/protocol"
	"voxelscene.dev/internal/sim/world"
)

func TestTickLogRoundTripAcrossHours(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir)
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	in := protocol.PlayerInput{ClientTick: 3, MoveZ: 1, Yaw: 45}
	entries := []world.TickLogEntry{
		{Tick: 0, Joins: []world.RecordedJoin{{ClientID: 1, Name: "a"}}, Digest: "d0"},
		{Tick: 1, Inputs: []world.RecordedInput{{ClientID: 1, Input: in}}, Digest: "d1"},
	}
	if err := l.WriteTick(entries[0]); err != nil {
		t.Fatalf("write: %v", err)
	}
	clock = clock.Add(2 * time.Minute)
	if err := l.WriteTick(entries[1]); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := ListFiles(filepath.Join(dir, "events"), "events")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "events-2026-03-01-10.jsonl.zst" {
		t.Fatalf("unexpected files: %v", files)
	}

	var got []world.TickLogEntry
	for _, f := range files {
		if err := ReadTickLog(f, func(e world.TickLogEntry) error {
			got = append(got, e)
			return nil
		}); err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
	}
	if len(got) != 2 || got[0].Joins[0].Name != "a" || got[1].Inputs[0].Input != in || got[1].Digest != "d1" {
		t.Fatalf("unexpected entries: %+v", got)
	}
}

func TestReopenSameHourAppends(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		l := NewTickLogger(dir)
		l.w.now = func() time.Time { return clock }
		if err := l.WriteTick(world.TickLogEntry{Tick: uint64(i)}); err != nil {
			t.Fatalf("write: %v", err)
		}
		l.Close()
	}
	files, _ := ListFiles(filepath.Join(dir, "events"), "events")
	if len(files) != 1 {
		t.Fatalf("expected one file, got %v", files)
	}
	n := 0
	if err := ReadTickLog(files[0], func(world.TickLogEntry) error { n++; return nil }); err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 2 {
		t.Fatalf("entries=%d want 2", n)
	}
}

func TestBatchLoggerAndStop(t *testing.T) {
	dir := t.TempDir()
	l := NewBatchLogger(dir)
	for i := 0; i < 3; i++ {
		rec := world.BatchRecord{
			Tick:     uint64(i),
			ClientID: 1,
			BatchID:  protocol.ComposeBatchID(1, uint32(i+1)),
			Ops:      []protocol.SceneOp{protocol.Rename(5, "n")},
			Results:  []protocol.SceneOpResult{protocol.OKResult(5)},
		}
		if err := l.RecordBatch(rec); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	l.Close()

	files, _ := ListFiles(filepath.Join(dir, "batches"), "batches")
	if len(files) != 1 {
		t.Fatalf("files=%v", files)
	}
	stop := errors.New("stop")
	seen := 0
	err := ReadJSONL(files[0], func(r world.BatchRecord) error {
		seen++
		if r.Ops[0].Kind != protocol.OpRename || !r.Results[0].OK {
			t.Fatalf("unexpected record: %+v", r)
		}
		if seen == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || seen != 2 {
		t.Fatalf("err=%v seen=%d", err, seen)
	}
}

package movement

import (
	"testing"

	"go.uber.org/zap/zaptest"

	"voxelscene.dev/internal/physics"
	"voxelscene.dev/internal/protocol"
	"voxelscene.dev/internal/scene"
)

type recordedStep struct {
	c  physics.Controls
	dt float32
}

func recordingStep(calls *[]recordedStep) physics.Func {
	return func(s physics.State, c physics.Controls, dt float32) physics.State {
		*calls = append(*calls, recordedStep{c: c, dt: dt})
		s.X += c.MoveX
		s.Z += c.MoveZ
		return s
	}
}

func spawn(t *testing.T, sc *scene.Scene, name string) uint64 {
	t.Helper()
	id, err := sc.AddNode(sc.RootID(), name, scene.TypeCharacterBody3D)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	return id
}

func TestStepHoldsLatestInput(t *testing.T) {
	var calls []recordedStep
	sc := scene.New("main", nil, nil)
	sim := New(Config{TickRateHz: 20, Step: recordingStep(&calls)}, zaptest.NewLogger(t))
	node := spawn(t, sc, "P1")
	sim.Join(1, node)

	sim.OnInput(1, protocol.PlayerInput{ClientTick: 5, MoveX: 1})
	sim.Step(1, sc)
	out := sim.Step(2, sc)
	if len(calls) != 2 || calls[1].c.MoveX != 1 {
		t.Fatalf("expected held input to be reused: %+v", calls)
	}
	if calls[0].dt != 0.05 {
		t.Fatalf("dt=%v want 0.05", calls[0].dt)
	}
	if out[0].Snapshot.LastClientTick != 5 || out[0].Snapshot.ServerTick != 2 {
		t.Fatalf("unexpected snapshot ticks: %+v", out[0].Snapshot)
	}
	if out[0].Snapshot.State.X != 2 {
		t.Fatalf("x=%v want 2", out[0].Snapshot.State.X)
	}
}

func TestStepWithoutInputUsesZeroInput(t *testing.T) {
	var calls []recordedStep
	sc := scene.New("main", nil, nil)
	sim := New(Config{Step: recordingStep(&calls)}, nil)
	sim.Join(1, spawn(t, sc, "P1"))
	out := sim.Step(1, sc)
	if len(out) != 1 || calls[0].c.MoveX != 0 || calls[0].c.MoveZ != 0 || out[0].Snapshot.LastClientTick != 0 {
		t.Fatalf("unexpected output: %+v %+v", out, calls)
	}
}

func TestOnInputDropsStaleAndUnknown(t *testing.T) {
	sc := scene.New("main", nil, nil)
	sim := New(Config{}, nil)
	sim.Join(1, spawn(t, sc, "P1"))
	if !sim.OnInput(1, protocol.PlayerInput{ClientTick: 10, MoveZ: 1}) {
		t.Fatalf("first input should latch")
	}
	if sim.OnInput(1, protocol.PlayerInput{ClientTick: 9, MoveZ: -1}) {
		t.Fatalf("older input should be dropped")
	}
	if sim.OnInput(2, protocol.PlayerInput{ClientTick: 1}) {
		t.Fatalf("unknown avatar should be ignored")
	}
	out := sim.Step(1, sc)
	if out[0].Snapshot.LastClientTick != 10 {
		t.Fatalf("latched tick=%d", out[0].Snapshot.LastClientTick)
	}
}

func TestStepClampsOutOfRangeInput(t *testing.T) {
	var calls []recordedStep
	sc := scene.New("main", nil, nil)
	sim := New(Config{Step: recordingStep(&calls)}, nil)
	sim.Join(1, spawn(t, sc, "P1"))
	sim.OnInput(1, protocol.PlayerInput{ClientTick: 1, MoveX: 5, MoveZ: 5, Yaw: 270, Pitch: -300})
	out := sim.Step(1, sc)
	c := calls[0].c
	if c.MoveX > 0.7072 || c.MoveZ > 0.7072 {
		t.Fatalf("move not normalized: %+v", c)
	}
	if c.YawDeg != -90 || out[0].Snapshot.Yaw != -90 {
		t.Fatalf("yaw not normalized: %v", c.YawDeg)
	}
	if out[0].Snapshot.Pitch != -89 {
		t.Fatalf("pitch not clamped: %v", out[0].Snapshot.Pitch)
	}
}

func TestStepSeedsFromNodeAndEmitsBatch(t *testing.T) {
	sc := scene.New("main", nil, nil)
	node := spawn(t, sc, "P1")
	sc.Apply(protocol.SceneOpBatch{Ops: []protocol.SceneOp{
		protocol.SetFloat(node, "x", 3),
		protocol.SetFloat(node, "z", -2),
		protocol.SetFloat(node, "speed", 10),
	}})
	var calls []recordedStep
	sim := New(Config{TickRateHz: 10, Step: recordingStep(&calls)}, nil)
	sim.Join(7, node)
	out := sim.Step(4, sc)
	o := out[0]
	if o.Snapshot.State.X != 3 || o.Snapshot.State.Z != -2 || o.Snapshot.State.Y != physics.FloorY {
		t.Fatalf("unexpected seed: %+v", o.Snapshot.State)
	}
	if calls[0].c.Speed != 10 {
		t.Fatalf("speed not read from node: %v", calls[0].c.Speed)
	}
	if o.Batch.Atomic || o.Batch.BatchID != protocol.ServerBatchID(4, node) || len(o.Batch.Ops) != 4 {
		t.Fatalf("unexpected batch: %+v", o.Batch)
	}
	keys := []string{"x", "y", "z", "ry"}
	for i, op := range o.Batch.Ops {
		if op.Kind != protocol.OpSetProperty || op.NodeID != node || op.Key != keys[i] {
			t.Fatalf("op %d: %+v", i, op)
		}
	}
	ack := sc.Apply(o.Batch).Ack
	for _, r := range ack.Results {
		if !r.OK {
			t.Fatalf("movement batch rejected: %+v", r)
		}
	}
	if o.Snapshot.SceneID != "main" || o.Snapshot.Env.FogColor == "" {
		t.Fatalf("snapshot missing scene fields: %+v", o.Snapshot)
	}
}

func TestResetStatesReseeds(t *testing.T) {
	sc := scene.New("main", nil, nil)
	node := spawn(t, sc, "P1")
	var calls []recordedStep
	sim := New(Config{Step: recordingStep(&calls)}, nil)
	sim.Join(1, node)
	sim.OnInput(1, protocol.PlayerInput{ClientTick: 1, MoveX: 1})
	sim.Step(1, sc)
	if st, _ := sim.State(1); st.X != 1 {
		t.Fatalf("x=%v", st.X)
	}
	sim.ResetStates()
	if _, ok := sim.State(1); ok {
		t.Fatalf("state should be dropped")
	}
	sim.Step(2, sc)
	if st, _ := sim.State(1); st.X != 1 {
		t.Fatalf("reseeded x=%v want 1 (node x 0 + one step)", st.X)
	}
}

func TestStepOrderAndLeave(t *testing.T) {
	sc := scene.New("main", nil, nil)
	sim := New(Config{}, nil)
	sim.Join(9, spawn(t, sc, "P9"))
	sim.Join(2, spawn(t, sc, "P2"))
	out := sim.Step(1, sc)
	if len(out) != 2 || out[0].ClientID != 2 || out[1].ClientID != 9 {
		t.Fatalf("expected client id order, got %+v", out)
	}
	sim.Leave(2)
	if sim.Len() != 1 || len(sim.Step(2, sc)) != 1 {
		t.Fatalf("leave did not remove avatar")
	}
}

func TestStepIsDeterministicAcrossSimulators(t *testing.T) {
	run := func() physics.State {
		sc := scene.New("main", nil, nil)
		sim := New(Config{TickRateHz: 30}, nil)
		sim.Join(1, spawn(t, sc, "P1"))
		for tick := uint64(1); tick <= 90; tick++ {
			sim.OnInput(1, protocol.PlayerInput{ClientTick: tick, MoveZ: 1, MoveX: 0.25, Yaw: float32(tick), Jump: tick%30 == 0, Sprint: tick > 45})
			sim.Step(tick, sc)
		}
		st, _ := sim.State(1)
		return st
	}
	if a, b := run(), run(); a != b {
		t.Fatalf("divergent runs: %+v vs %+v", a, b)
	}
}

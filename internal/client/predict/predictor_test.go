package predict

import (
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"voxelscene.dev/internal/physics"
	"voxelscene.dev/internal/protocol"
)

type fakeInput struct{ held Held }

func (f *fakeInput) Poll() Held { return f.held }

type fakeSender struct {
	sent []protocol.PlayerInput
	err  error
}

func (f *fakeSender) SendInput(in protocol.PlayerInput) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, in)
	return nil
}

// stepXZ moves one unit in x and 0.2 in z per unit of forward input,
// independent of dt.
func stepXZ(s physics.State, c physics.Controls, _ float32) physics.State {
	s.X += c.MoveZ
	s.Z += 0.2 * c.MoveZ
	return s
}

func newTestPredictor(t *testing.T, cfg Config) (*Predictor, *fakeInput, *fakeSender) {
	t.Helper()
	in := &fakeInput{}
	out := &fakeSender{}
	return New(cfg, in, out, zaptest.NewLogger(t)), in, out
}

func snapAt(x, y, z float32) protocol.RuntimeSnapshot {
	return protocol.RuntimeSnapshot{State: physics.State{X: x, Y: y, Z: z, OnFloor: true}}
}

func TestActivateSeedsFromLastSnapshot(t *testing.T) {
	p, _, _ := newTestPredictor(t, Config{})
	p.OnRuntimeState(protocol.RuntimeSnapshot{State: physics.State{X: 3, Y: 41, Z: -2}, Yaw: 30})
	if p.Active() || p.State() != (physics.State{}) {
		t.Fatalf("inactive predictor must not take state")
	}
	p.SetActive(true)
	if p.State().X != 3 || p.State().Y != 41 || p.Correction() != (Vec3{}) {
		t.Fatalf("expected seed from snapshot, got %+v", p.State())
	}
}

func TestActivateWithoutSnapshotRests(t *testing.T) {
	p, _, _ := newTestPredictor(t, Config{})
	p.SetActive(true)
	if p.State() != physics.Resting(0, 0) {
		t.Fatalf("expected resting default, got %+v", p.State())
	}
}

func TestFirstFrameOnlyStartsClock(t *testing.T) {
	p, in, _ := newTestPredictor(t, Config{Step: stepXZ})
	in.held.Forward = true
	p.SetActive(true)
	t0 := time.Unix(100, 0)
	p.UpdatePrediction(t0)
	if p.State().X != 0 {
		t.Fatalf("first frame advanced state: %+v", p.State())
	}
	p.UpdatePrediction(t0.Add(16 * time.Millisecond))
	if p.State().X != 1 {
		t.Fatalf("second frame should step: %+v", p.State())
	}
}

func TestFrameDtCapped(t *testing.T) {
	var got []float32
	step := func(s physics.State, _ physics.Controls, dt float32) physics.State {
		got = append(got, dt)
		return s
	}
	p, _, _ := newTestPredictor(t, Config{Step: step})
	p.SetActive(true)
	t0 := time.Unix(100, 0)
	p.UpdatePrediction(t0)
	p.UpdatePrediction(t0.Add(3 * time.Second))
	p.UpdatePrediction(t0.Add(3*time.Second + 20*time.Millisecond))
	p.UpdatePrediction(t0) // clock went backwards
	if len(got) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(got))
	}
	if got[0] != 0.1 {
		t.Fatalf("dt not capped: %v", got[0])
	}
	if math.Abs(float64(got[1]-0.02)) > 1e-6 {
		t.Fatalf("dt=%v want 0.02", got[1])
	}
	if got[2] != 0 {
		t.Fatalf("negative dt should clamp to 0, got %v", got[2])
	}
}

func TestSmallErrorHiddenByCorrection(t *testing.T) {
	p, _, _ := newTestPredictor(t, Config{})
	p.SetActive(true)
	before, _, _ := p.Camera()
	snap := snapAt(0.5, physics.FloorY, -0.25)
	p.OnRuntimeState(snap)
	if p.State() != snap.State {
		t.Fatalf("state must equal the snapshot exactly: %+v", p.State())
	}
	if c := p.Correction(); c.X != -0.5 || c.Z != 0.25 || c.Y != 0 {
		t.Fatalf("unexpected correction: %+v", c)
	}
	after, _, _ := p.Camera()
	if after != before {
		t.Fatalf("rendered position jumped: %+v -> %+v", before, after)
	}
}

func TestCorrectionAccumulatesAcrossSnapshots(t *testing.T) {
	p, _, _ := newTestPredictor(t, Config{})
	p.SetActive(true)
	p.OnRuntimeState(snapAt(0.5, physics.FloorY, 0))
	p.OnRuntimeState(snapAt(1.0, physics.FloorY, 0))
	if c := p.Correction(); c.X != -1 {
		t.Fatalf("expected accumulated -1, got %+v", c)
	}
}

func TestLargeErrorHardSnaps(t *testing.T) {
	p, _, _ := newTestPredictor(t, Config{})
	p.SetActive(true)
	p.OnRuntimeState(snapAt(1, physics.FloorY, 0))
	snap := snapAt(10, physics.FloorY, 0)
	p.OnRuntimeState(snap)
	if p.Correction() != (Vec3{}) {
		t.Fatalf("hard snap must zero the correction, got %+v", p.Correction())
	}
	if p.State() != snap.State {
		t.Fatalf("hard snap must adopt the snapshot")
	}
}

func TestCorrectionConverges(t *testing.T) {
	p, _, _ := newTestPredictor(t, Config{})
	p.SetActive(true)
	p.OnRuntimeState(snapAt(1.9, physics.FloorY, 0))
	t0 := time.Unix(100, 0)
	p.UpdatePrediction(t0)
	now := t0
	for i := 0; i < 12; i++ {
		now = now.Add(16 * time.Millisecond)
		p.UpdatePrediction(now)
	}
	// 12 frames of 16ms is about 0.19s: more than 94% of the offset is gone
	if c := p.Correction().Len(); c > 1.9*0.06 {
		t.Fatalf("correction %v did not decay fast enough", c)
	}
	for i := 0; i < 60; i++ {
		now = now.Add(16 * time.Millisecond)
		p.UpdatePrediction(now)
	}
	if c := p.Correction().Len(); c > 1e-5 {
		t.Fatalf("correction did not converge: %v", c)
	}
}

func TestSendInputRateLimited(t *testing.T) {
	p, in, out := newTestPredictor(t, Config{MaxInputHz: 60})
	in.held = Held{Forward: true, Right: true, Yaw: 200, Pitch: 95, Sprint: true}
	t0 := time.Unix(100, 0)
	if ok, _ := p.SendInput(t0); ok {
		t.Fatalf("inactive predictor must not send")
	}
	p.SetActive(true)
	if ok, err := p.SendInput(t0); !ok || err != nil {
		t.Fatalf("first send should pass: %v %v", ok, err)
	}
	if ok, _ := p.SendInput(t0.Add(5 * time.Millisecond)); ok {
		t.Fatalf("send within interval should be suppressed")
	}
	if ok, _ := p.SendInput(t0.Add(17 * time.Millisecond)); !ok {
		t.Fatalf("send after interval should pass")
	}
	if len(out.sent) != 2 || out.sent[0].ClientTick != 1 || out.sent[1].ClientTick != 2 {
		t.Fatalf("unexpected sends: %+v", out.sent)
	}
	s := out.sent[0]
	if s.Yaw != -160 || s.Pitch != 89 || !s.Sprint {
		t.Fatalf("input not sanitized: %+v", s)
	}
	if math.Abs(float64(s.MoveX-s.MoveZ)) > 1e-6 || s.MoveX > 0.7072 {
		t.Fatalf("diagonal not normalized: %+v", s)
	}
}

func TestSendInputError(t *testing.T) {
	p, _, out := newTestPredictor(t, Config{})
	out.err = errors.New("closed")
	p.SetActive(true)
	if ok, err := p.SendInput(time.Unix(1, 0)); ok || err == nil {
		t.Fatalf("expected error, got %v %v", ok, err)
	}
}

func TestDeactivateAndDisconnectDropState(t *testing.T) {
	p, in, _ := newTestPredictor(t, Config{Step: stepXZ})
	in.held.Forward = true
	p.OnRuntimeState(snapAt(4, physics.FloorY, 4))
	p.SetActive(true)
	p.SetActive(false)
	t0 := time.Unix(100, 0)
	p.UpdatePrediction(t0)
	p.UpdatePrediction(t0.Add(time.Second))
	if p.State() != (physics.State{}) || p.Correction() != (Vec3{}) {
		t.Fatalf("disabled predictor kept state: %+v", p.State())
	}
	if _, ok := p.LastSnapshot(); !ok {
		t.Fatalf("deactivation keeps the last snapshot for re-seeding")
	}
	p.OnDisconnect()
	if _, ok := p.LastSnapshot(); ok {
		t.Fatalf("disconnect must drop the last snapshot")
	}
	p.SetActive(true)
	if p.State() != physics.Resting(0, 0) {
		t.Fatalf("expected resting after disconnect, got %+v", p.State())
	}
}

func TestCameraAddsEyeHeight(t *testing.T) {
	p, in, _ := newTestPredictor(t, Config{})
	in.held = Held{Yaw: 10, Pitch: -20}
	p.SetActive(true)
	p.UpdatePrediction(time.Unix(1, 0))
	p.UpdatePrediction(time.Unix(1, 0))
	pos, yaw, pitch := p.Camera()
	if math.Abs(float64(pos.Y-(physics.FloorY+1.6))) > 1e-5 || yaw != 10 || pitch != -20 {
		t.Fatalf("unexpected camera: %+v %v %v", pos, yaw, pitch)
	}
}

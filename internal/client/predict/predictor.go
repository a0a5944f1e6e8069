package predict

import (
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"voxelscene.dev/internal/physics"
	"voxelscene.dev/internal/protocol"
)

// Held is the polled input state for one frame.
type Held struct {
	Forward, Back, Left, Right bool
	Jump, Sprint               bool
	Yaw, Pitch                 float32
}

// Move returns the normalized (moveX, moveZ) vector for the held keys.
func (h Held) Move() (float32, float32) {
	var x, z float32
	if h.Right {
		x++
	}
	if h.Left {
		x--
	}
	if h.Forward {
		z++
	}
	if h.Back {
		z--
	}
	return physics.NormalizeMove(x, z)
}

type InputSource interface {
	Poll() Held
}

type InputSender interface {
	SendInput(protocol.PlayerInput) error
}

type Config struct {
	EyeHeight       float32
	CorrectionDecay float32
	HardSnapDist    float32
	MaxFrameDt      time.Duration
	MaxInputHz      int
	Speed           float32
	// Step must be the same function the server runs.
	Step physics.Func
}

func DefaultConfig() Config {
	return Config{
		EyeHeight:       1.6,
		CorrectionDecay: 15,
		HardSnapDist:    2,
		MaxFrameDt:      100 * time.Millisecond,
		MaxInputHz:      60,
		Speed:           physics.DefaultSpeed,
		Step:            physics.Simulate,
	}
}

type Vec3 struct {
	X, Y, Z float32
}

func (v Vec3) Len() float32 {
	return float32(math.Sqrt(float64(v.X*v.X + v.Y*v.Y + v.Z*v.Z)))
}

// Predictor runs the local avatar ahead of the server and hides the gap to
// each authoritative snapshot behind a decaying visual offset. It never
// replays inputs: every snapshot replaces the simulated state outright.
//
// All methods must be called from the client frame loop.
type Predictor struct {
	cfg     Config
	input   InputSource
	out     InputSender
	log     *zap.Logger
	limiter *rate.Limiter

	active     bool
	state      physics.State
	correction Vec3
	lastFrame  time.Time
	held       Held

	last       *protocol.RuntimeSnapshot
	clientTick uint64
}

func New(cfg Config, input InputSource, out InputSender, log *zap.Logger) *Predictor {
	d := DefaultConfig()
	if cfg.EyeHeight == 0 {
		cfg.EyeHeight = d.EyeHeight
	}
	if cfg.CorrectionDecay <= 0 {
		cfg.CorrectionDecay = d.CorrectionDecay
	}
	if cfg.HardSnapDist <= 0 {
		cfg.HardSnapDist = d.HardSnapDist
	}
	if cfg.MaxFrameDt <= 0 {
		cfg.MaxFrameDt = d.MaxFrameDt
	}
	if cfg.MaxInputHz == 0 {
		cfg.MaxInputHz = d.MaxInputHz
	}
	cfg.MaxInputHz = min(max(cfg.MaxInputHz, 1), 240)
	if cfg.Speed <= 0 {
		cfg.Speed = d.Speed
	}
	if cfg.Step == nil {
		cfg.Step = d.Step
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Predictor{cfg: cfg, input: input, out: out, log: log}
}

func (p *Predictor) Active() bool         { return p.active }
func (p *Predictor) State() physics.State { return p.state }
func (p *Predictor) Correction() Vec3     { return p.correction }
func (p *Predictor) ClientTick() uint64   { return p.clientTick }
func (p *Predictor) Config() Config       { return p.cfg }

func (p *Predictor) LastSnapshot() (protocol.RuntimeSnapshot, bool) {
	if p.last == nil {
		return protocol.RuntimeSnapshot{}, false
	}
	return *p.last, true
}

// SetActive turns local control on or off. Turning it on seeds the state from
// the last snapshot seen (or a resting default); turning it off drops the
// predicted state and correction.
func (p *Predictor) SetActive(on bool) {
	if on == p.active {
		return
	}
	if !on {
		p.reset()
		return
	}
	p.active = true
	p.state = physics.Resting(0, 0)
	if p.last != nil {
		p.state = p.last.State
		p.held.Yaw, p.held.Pitch = p.last.Yaw, p.last.Pitch
	}
	p.correction = Vec3{}
	p.lastFrame = time.Time{}
	p.limiter = rate.NewLimiter(rate.Limit(p.cfg.MaxInputHz), 1)
	p.log.Debug("movement prediction enabled", zap.Float32("x", p.state.X), zap.Float32("y", p.state.Y), zap.Float32("z", p.state.Z))
}

// OnDisconnect forgets everything including the last snapshot.
func (p *Predictor) OnDisconnect() {
	p.reset()
	p.last = nil
	p.clientTick = 0
}

func (p *Predictor) reset() {
	p.active = false
	p.state = physics.State{}
	p.correction = Vec3{}
	p.lastFrame = time.Time{}
	p.held = Held{}
	p.limiter = nil
}

// UpdatePrediction advances the local state by the real time since the last
// frame, capped at MaxFrameDt, and decays the correction offset. The first
// call after activation only starts the clock.
func (p *Predictor) UpdatePrediction(now time.Time) {
	if !p.active {
		return
	}
	if p.lastFrame.IsZero() {
		p.lastFrame = now
		return
	}
	elapsed := now.Sub(p.lastFrame)
	p.lastFrame = now
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > p.cfg.MaxFrameDt {
		elapsed = p.cfg.MaxFrameDt
	}
	dt := float32(elapsed.Seconds())

	p.poll()
	mx, mz := p.held.Move()
	p.state = p.cfg.Step(p.state, physics.Controls{
		MoveX:  mx,
		MoveZ:  mz,
		YawDeg: physics.NormalizeYaw(p.held.Yaw),
		Speed:  p.cfg.Speed,
		Jump:   p.held.Jump,
		Sprint: p.held.Sprint,
	}, dt)

	decay := float32(math.Exp(-float64(p.cfg.CorrectionDecay) * float64(dt)))
	p.correction = Vec3{X: p.correction.X * decay, Y: p.correction.Y * decay, Z: p.correction.Z * decay}
}

// OnRuntimeState reconciles against an authoritative snapshot. The simulated
// state always becomes the snapshot state. Small errors are folded into the
// correction offset so the rendered position does not move; errors above
// HardSnapDist snap with no offset.
func (p *Predictor) OnRuntimeState(snap protocol.RuntimeSnapshot) {
	s := snap
	p.last = &s
	if !p.active {
		return
	}
	e := Vec3{
		X: snap.State.X - p.state.X,
		Y: snap.State.Y - p.state.Y,
		Z: snap.State.Z - p.state.Z,
	}
	if d := e.Len(); d > p.cfg.HardSnapDist || math.IsNaN(float64(d)) {
		p.correction = Vec3{}
		p.log.Info("prediction hard snap", zap.Float32("error", d), zap.Uint64("server_tick", snap.ServerTick))
	} else {
		p.correction = Vec3{X: p.correction.X - e.X, Y: p.correction.Y - e.Y, Z: p.correction.Z - e.Z}
	}
	p.state = snap.State
}

// SendInput transmits the current input if the rate limit allows it.
func (p *Predictor) SendInput(now time.Time) (bool, error) {
	if !p.active || p.out == nil || p.limiter == nil {
		return false, nil
	}
	if !p.limiter.AllowN(now, 1) {
		return false, nil
	}
	p.poll()
	mx, mz := p.held.Move()
	p.clientTick++
	in := protocol.PlayerInput{
		ClientTick: p.clientTick,
		MoveX:      mx,
		MoveZ:      mz,
		Yaw:        physics.NormalizeYaw(p.held.Yaw),
		Pitch:      physics.ClampPitch(p.held.Pitch),
		Jump:       p.held.Jump,
		Sprint:     p.held.Sprint,
	}
	if err := p.out.SendInput(in); err != nil {
		return false, err
	}
	return true, nil
}

// Camera is the rendered eye position: predicted position plus eye height
// plus the correction offset.
func (p *Predictor) Camera() (Vec3, float32, float32) {
	pos := Vec3{
		X: p.state.X + p.correction.X,
		Y: p.state.Y + p.cfg.EyeHeight + p.correction.Y,
		Z: p.state.Z + p.correction.Z,
	}
	return pos, physics.NormalizeYaw(p.held.Yaw), physics.ClampPitch(p.held.Pitch)
}

func (p *Predictor) poll() {
	if p.input != nil {
		p.held = p.input.Poll()
	}
}

package ghost

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"voxelscene.dev/internal/csg"
	"voxelscene.dev/internal/protocol"
)

type Phase int

const (
	Idle Phase = iota
	Dragging
	AwaitingAck
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "IDLE"
	case Dragging:
		return "DRAGGING"
	case AwaitingAck:
		return "AWAITING_ACK"
	}
	return "UNKNOWN"
}

var ErrNotDragging = errors.New("ghost: no drag in progress")

// World answers what the client currently shows at a position.
type World interface {
	MaterialAt(csg.Vec3i) csg.Material
}

type BatchSender interface {
	SendBatch(ops []protocol.SceneOp, atomic bool) (uint64, error)
}

// RegionInvalidator is told which block region must be redrawn when the
// occlusion mask appears or goes away.
type RegionInvalidator interface {
	InvalidateRegion(csg.Bounds)
}

type Voxelizer func(csg.Box, func(csg.Vec3i))

type Config struct {
	AckTimeout     time.Duration
	GraceHold      time.Duration
	SampleAllBelow int
	SampleCap      int
	StableSamples  int
	Voxelize       Voxelizer
}

func DefaultConfig() Config {
	return Config{
		AckTimeout:     2 * time.Second,
		GraceHold:      2500 * time.Millisecond,
		SampleAllBelow: 4096,
		SampleCap:      1024,
		StableSamples:  2,
		Voxelize:       csg.ForEachVoxel,
	}
}

// Predictor previews one CSG block edit before the server confirms it.
//
// Start snapshots which voxels of the selection currently show the
// placeholder material; that occlusion mask is never recomputed. Commit sends
// the transform and waits for an ack addressed to the node. A failed ack
// clears at once, even during the grace hold; a successful one (re)starts a
// grace period that ends early once the world shows the placeholder at every
// sampled preview voxel on StableSamples consecutive polls. With no ack at
// all the preview clears at the deadline.
type Predictor struct {
	cfg    Config
	world  World
	sender BatchSender
	inval  RegionInvalidator
	log    *zap.Logger

	phase       Phase
	nodeID      uint64
	placeholder csg.Material
	startBox    csg.Box
	box         csg.Box

	preview    []csg.Vec3i
	mask       map[csg.Vec3i]struct{}
	maskBounds csg.Bounds

	batchID     uint64
	ackDeadline time.Time
	holdUntil   time.Time
	streak      int
}

func New(cfg Config, world World, sender BatchSender, inval RegionInvalidator, log *zap.Logger) *Predictor {
	d := DefaultConfig()
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = d.AckTimeout
	}
	if cfg.GraceHold <= 0 {
		cfg.GraceHold = d.GraceHold
	}
	if cfg.SampleAllBelow <= 0 {
		cfg.SampleAllBelow = d.SampleAllBelow
	}
	if cfg.SampleCap <= 0 {
		cfg.SampleCap = d.SampleCap
	}
	if cfg.StableSamples <= 0 {
		cfg.StableSamples = d.StableSamples
	}
	if cfg.Voxelize == nil {
		cfg.Voxelize = d.Voxelize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Predictor{cfg: cfg, world: world, sender: sender, inval: inval, log: log}
}

func (p *Predictor) Phase() Phase           { return p.phase }
func (p *Predictor) Active() bool           { return p.phase != Idle }
func (p *Predictor) NodeID() uint64         { return p.nodeID }
func (p *Predictor) Box() csg.Box           { return p.box }
func (p *Predictor) StartBox() csg.Box      { return p.startBox }
func (p *Predictor) MaskBounds() csg.Bounds { return p.maskBounds }
func (p *Predictor) MaskLen() int           { return len(p.mask) }
func (p *Predictor) BatchID() uint64        { return p.batchID }

// Holding reports whether a success ack arrived and the preview is being
// kept until the world catches up.
func (p *Predictor) Holding() bool {
	return p.phase == AwaitingAck && !p.holdUntil.IsZero()
}

func (p *Predictor) Preview() []csg.Vec3i {
	return append([]csg.Vec3i(nil), p.preview...)
}

func (p *Predictor) InMask(pos csg.Vec3i) bool {
	_, ok := p.mask[pos]
	return ok
}

// ShouldHide reports whether a real block must be suppressed because the
// ghost preview stands in for it.
func (p *Predictor) ShouldHide(pos csg.Vec3i, m csg.Material) bool {
	if p.phase == Idle || len(p.mask) == 0 || m.IsAir() || m != p.placeholder {
		return false
	}
	return p.InMask(pos)
}

// Start begins a drag for nodeID over box. It returns false, leaving the
// predictor idle, when the box covers no voxels.
func (p *Predictor) Start(nodeID uint64, box csg.Box, placeholder csg.Material) bool {
	p.Cancel()
	if p.world == nil {
		return false
	}
	if placeholder.IsAir() {
		placeholder = csg.Stone
	}
	preview := p.voxelize(box)
	if len(preview) == 0 {
		return false
	}

	mask := make(map[csg.Vec3i]struct{})
	var bounds csg.Bounds
	for _, pos := range preview {
		m := p.world.MaterialAt(pos)
		if m.IsAir() || m != placeholder {
			continue
		}
		mask[pos] = struct{}{}
		bounds.Include(pos)
	}

	p.phase = Dragging
	p.nodeID = nodeID
	p.placeholder = placeholder
	p.startBox = box
	p.box = box
	p.preview = preview
	p.mask = mask
	p.maskBounds = bounds
	p.invalidateMask()
	p.log.Debug("ghost drag started", zap.Uint64("node", nodeID), zap.Int("preview", len(preview)), zap.Int("mask", len(mask)))
	return true
}

// UpdateTransform recomputes the preview for a new transform. The mask stays
// as captured by Start.
func (p *Predictor) UpdateTransform(box csg.Box) {
	if p.phase != Dragging {
		return
	}
	p.box = box
	p.preview = p.voxelize(box)
}

// Commit freezes the current preview, sends the node's transform as one
// non-atomic batch and arms the ack deadline.
func (p *Predictor) Commit(now time.Time) error {
	if p.phase != Dragging {
		return ErrNotDragging
	}
	p.phase = AwaitingAck
	p.ackDeadline = now.Add(p.cfg.AckTimeout)
	p.holdUntil = time.Time{}
	p.streak = 0

	b := p.box.Normalized()
	ops := []protocol.SceneOp{
		protocol.SetInt(p.nodeID, "x", b.X),
		protocol.SetInt(p.nodeID, "y", b.Y),
		protocol.SetInt(p.nodeID, "z", b.Z),
		protocol.SetInt(p.nodeID, "sx", b.W),
		protocol.SetInt(p.nodeID, "sy", b.H),
		protocol.SetInt(p.nodeID, "sz", b.D),
		protocol.SetFloat(p.nodeID, "rx", b.RotX),
		protocol.SetFloat(p.nodeID, "ry", b.RotY),
		protocol.SetFloat(p.nodeID, "rz", b.RotZ),
	}
	if p.sender == nil {
		p.clear()
		return errors.New("ghost: no batch sender")
	}
	id, err := p.sender.SendBatch(ops, false)
	if err != nil {
		p.clear()
		return err
	}
	if p.phase == AwaitingAck {
		p.batchID = id
	}
	return nil
}

// OnAck consumes any ack. Only results whose target is the tracked node are
// considered; acks without such results are ignored.
func (p *Predictor) OnAck(now time.Time, ack protocol.SceneOpAck) {
	if p.phase != AwaitingAck {
		return
	}
	relevant := false
	allOK := true
	for _, r := range ack.Results {
		if r.TargetID != p.nodeID {
			continue
		}
		relevant = true
		if !r.OK {
			allOK = false
		}
	}
	if !relevant {
		return
	}
	if !allOK {
		p.log.Debug("ghost edit rejected", zap.Uint64("node", p.nodeID), zap.Uint64("batch", ack.BatchID))
		p.clear()
		return
	}
	p.ackDeadline = time.Time{}
	p.holdUntil = now.Add(p.cfg.GraceHold)
	p.streak = 0
}

// Poll runs the timers and the world check. Call it once per client tick.
func (p *Predictor) Poll(now time.Time) {
	if p.phase != AwaitingAck {
		return
	}
	if p.Holding() {
		if p.realized() {
			p.log.Debug("ghost edit realized", zap.Uint64("node", p.nodeID))
			p.clear()
			return
		}
		if !now.Before(p.holdUntil) {
			p.clear()
		}
		return
	}
	if !p.ackDeadline.IsZero() && !now.Before(p.ackDeadline) {
		p.log.Warn("ghost edit ack timed out", zap.Uint64("node", p.nodeID), zap.Uint64("batch", p.batchID))
		p.clear()
	}
}

// Cancel drops everything immediately, from any phase.
func (p *Predictor) Cancel() {
	if p.phase == Idle && len(p.mask) == 0 {
		return
	}
	p.clear()
}

// realized reports whether every sampled preview voxel has shown the
// placeholder material for StableSamples consecutive calls.
func (p *Predictor) realized() bool {
	want := p.placeholder.Canonical()
	for _, pos := range p.samples() {
		if p.world.MaterialAt(pos).Canonical() != want {
			p.streak = 0
			return false
		}
	}
	p.streak++
	return p.streak >= p.cfg.StableSamples
}

func (p *Predictor) samples() []csg.Vec3i {
	if len(p.preview) <= p.cfg.SampleAllBelow {
		return p.preview
	}
	return p.preview[:min(p.cfg.SampleCap, len(p.preview))]
}

func (p *Predictor) voxelize(box csg.Box) []csg.Vec3i {
	var out []csg.Vec3i
	p.cfg.Voxelize(box, func(v csg.Vec3i) { out = append(out, v) })
	return out
}

func (p *Predictor) invalidateMask() {
	if p.inval == nil || !p.maskBounds.Valid {
		return
	}
	p.inval.InvalidateRegion(p.maskBounds)
}

func (p *Predictor) clear() {
	p.invalidateMask()
	*p = Predictor{cfg: p.cfg, world: p.world, sender: p.sender, inval: p.inval, log: p.log}
}

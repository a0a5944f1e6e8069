package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"voxelscene.dev/internal/client/ghost"
	"voxelscene.dev/internal/client/predict"
	"voxelscene.dev/internal/client/session"
	"voxelscene.dev/internal/csg"
	"voxelscene.dev/internal/protocol"
	"voxelscene.dev/internal/scene"
)

type stage int

const (
	stageWaitWelcome stage = iota
	stageWalking
	stageCreating
	stageEditing
)

// walker is a scripted InputSource: hold forward or stand still, facing yaw.
type walker struct {
	forward bool
	yaw     float32
}

func (w *walker) Poll() predict.Held {
	return predict.Held{Forward: w.forward, Yaw: w.yaw}
}

// bot walks for a while, creates a CSG block, then drags it next to its
// avatar through the edit predictor. It repeats until edits are done.
type bot struct {
	sess   *session.Session
	input  *walker
	log    *zap.Logger
	cfg    botConfig
	stage  stage
	edits  int
	target csg.Box

	walkUntil   time.Time
	createBatch uint64
	nodeID      uint64
	committedAt time.Time
	maxCorr     float32
}

type botConfig struct {
	WalkFor     time.Duration
	Edits       int
	BlockSize   int
	Placeholder csg.Material
}

func newBot(sess *session.Session, input *walker, cfg botConfig, log *zap.Logger) *bot {
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = 2
	}
	if cfg.Edits <= 0 {
		cfg.Edits = 1
	}
	b := &bot{sess: sess, input: input, cfg: cfg, log: log}
	sess.AddAckListener(session.AckListenerFunc(b.onAck))
	return b
}

func (b *bot) onAck(now time.Time, ack protocol.SceneOpAck) {
	if b.stage != stageCreating || ack.BatchID != b.createBatch {
		return
	}
	w, _ := b.sess.Welcome()
	for _, r := range ack.ResultsFor(w.RootID) {
		if !r.OK {
			b.log.Warn("create rejected", zap.String("code", r.Code), zap.String("message", r.Message))
			b.startWalking(now)
			return
		}
		b.nodeID = r.CreatedID
	}
}

// run drives session frames at fps until the scripted edits finish, the
// connection closes or ctx ends.
func (b *bot) run(ctx context.Context, fps int) error {
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := b.sess.Frame(now); err != nil {
				return err
			}
			done, err := b.step(now)
			if err != nil || done {
				return err
			}
		}
	}
}

func (b *bot) step(now time.Time) (bool, error) {
	if c := b.sess.Movement.Correction().Len(); c > b.maxCorr {
		b.maxCorr = c
	}
	switch b.stage {
	case stageWaitWelcome:
		if _, ok := b.sess.Welcome(); !ok {
			return false, nil
		}
		if _, ok := b.sess.Movement.LastSnapshot(); !ok {
			return false, nil
		}
		b.sess.Movement.SetActive(true)
		b.startWalking(now)

	case stageWalking:
		if now.Before(b.walkUntil) {
			return false, nil
		}
		b.input.forward = false
		pos, _, _ := b.sess.Movement.Camera()
		b.log.Info("walk finished",
			zap.Float32("x", pos.X),
			zap.Float32("z", pos.Z),
			zap.Float32("max_correction", b.maxCorr),
		)
		w, _ := b.sess.Welcome()
		id, err := b.sess.SendBatch([]protocol.SceneOp{
			protocol.CreateNode(w.RootID, "BotBlock", scene.TypeCSGBlock),
		}, false)
		if err != nil {
			return false, err
		}
		b.createBatch = id
		b.nodeID = 0
		b.stage = stageCreating

	case stageCreating:
		if b.nodeID == 0 {
			return false, nil
		}
		start := csg.Box{W: 1, H: 1, D: 1}
		if !b.sess.Edit.Start(b.nodeID, start, b.cfg.Placeholder) {
			b.startWalking(now)
			return false, nil
		}
		st := b.sess.Movement.State()
		b.target = csg.Box{
			X: int(st.X) + 2,
			Y: 0,
			Z: int(st.Z) + 2,
			W: b.cfg.BlockSize,
			H: b.cfg.BlockSize,
			D: b.cfg.BlockSize,
		}
		b.sess.Edit.UpdateTransform(b.target)
		if err := b.sess.Edit.Commit(now); err != nil {
			return false, err
		}
		b.committedAt = now
		b.stage = stageEditing
		b.log.Info("edit committed",
			zap.Uint64("node", b.nodeID),
			zap.Uint64("batch", b.sess.Edit.BatchID()),
			zap.Int("mask", b.sess.Edit.MaskLen()),
			zap.Int("preview", len(b.sess.Edit.Preview())),
		)

	case stageEditing:
		if b.sess.Edit.Phase() != ghost.Idle {
			return false, nil
		}
		b.edits++
		b.log.Info("edit settled",
			zap.Uint64("node", b.nodeID),
			zap.Duration("took", now.Sub(b.committedAt)),
			zap.Int("edits", b.edits),
		)
		if b.edits >= b.cfg.Edits {
			return true, nil
		}
		b.startWalking(now)
	}
	return false, nil
}

func (b *bot) startWalking(now time.Time) {
	b.input.forward = true
	b.input.yaw += 90
	b.walkUntil = now.Add(b.cfg.WalkFor)
	b.stage = stageWalking
}

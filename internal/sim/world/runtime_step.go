package world

import (
	"context"
	"time"

	"go.uber.org/zap"

	"voxelscene.dev/internal/protocol"
	"voxelscene.dev/internal/scene"
)

func (w *World) step(joins []JoinRequest, leaves []uint32, envs []Envelope) string {
	stepStart := time.Now()
	nowTick := w.tick.Load()

	// Apply leaves and joins deterministically at tick boundary. Clients
	// kicked during the previous tick leave first.
	allLeaves := make([]uint32, 0, len(w.kicked)+len(leaves))
	allLeaves = append(allLeaves, w.kicked...)
	allLeaves = append(allLeaves, leaves...)
	w.kicked = nil
	recordedLeaves := make([]uint32, 0, len(allLeaves))
	for _, id := range allLeaves {
		if _, ok := w.clients[id]; ok {
			w.handleLeave(id)
			recordedLeaves = append(recordedLeaves, id)
		}
	}
	recordedJoins := make([]RecordedJoin, 0, len(joins))
	for _, req := range joins {
		welcome := w.handleJoin(req)
		if req.Resp != nil {
			req.Resp <- JoinResponse{Welcome: welcome}
		}
		recordedJoins = append(recordedJoins, RecordedJoin{ClientID: welcome.ClientID, Name: req.Name})
	}

	// Client messages in server receive order (the inbox order). Batches are
	// applied immediately; inputs are latched for the movement step.
	var inputs []RecordedInput
	var batches []RecordedBatch
	for _, env := range envs {
		cl := w.clients[env.Sender()]
		if cl == nil {
			continue
		}
		switch e := env.(type) {
		case InputEnvelope:
			inputs = append(inputs, RecordedInput{ClientID: e.ClientID, Input: e.Input})
			w.movement.OnInput(e.ClientID, e.Input)
		case BatchEnvelope:
			batches = append(batches, RecordedBatch{ClientID: e.ClientID, Batch: e.Batch})
			w.applyClientBatch(nowTick, cl, e.Batch)
		}
	}

	// Movement: snapshot to the owner, transform batch into the scene.
	for _, out := range w.movement.Step(nowTick, w.scene) {
		res := w.scene.Apply(out.Batch)
		for _, r := range res.Ack.Results {
			if !r.OK {
				w.log.Debug("movement batch op failed", zap.Uint32("client", out.ClientID), zap.Uint64("node", out.NodeID), zap.String("code", r.Code), zap.String("message", r.Message))
				break
			}
		}
		if len(res.Blocks) > 0 {
			w.broadcastBlocks(res.Blocks)
		}
		cl := w.clients[out.ClientID]
		if cl == nil || cl.lanes == nil || cl.kicked {
			continue
		}
		if b, ok := w.encode(protocol.NewRuntimeState(out.Snapshot)); ok {
			sendLatest(cl.lanes.State, b)
		}
	}

	digest := w.scene.Digest()
	if w.tickLogger != nil {
		if err := w.tickLogger.WriteTick(TickLogEntry{Tick: nowTick, Joins: recordedJoins, Leaves: recordedLeaves, Inputs: inputs, Batches: batches, Digest: digest}); err != nil {
			w.log.Warn("tick log write failed", zap.Uint64("tick", nowTick), zap.Error(err))
		}
	}

	stepMS := float64(time.Since(stepStart).Microseconds()) / 1000.0
	nextTick := w.tick.Add(1)
	w.ticksCtr.Add(context.Background(), 1)

	w.metrics.Store(Metrics{
		Tick:          nextTick,
		Clients:       len(w.clients),
		Avatars:       w.movement.Len(),
		SceneNodes:    w.scene.NodeCount(),
		Blocks:        w.scene.Blocks().Len(),
		SceneRevision: w.scene.Revision(),
		CSGRevision:   w.scene.CSGRevision(),
		QueueDepths: QueueDepths{
			Inbox: len(w.inbox),
			Join:  len(w.join),
			Leave: len(w.leave),
		},
		StepMS:         stepMS,
		BatchesApplied: w.totals.batchesApplied,
		BatchesAborted: w.totals.batchesAborted,
		OpsOK:          w.totals.opsOK,
		OpsFailed:      w.totals.opsFailed,
		Kicked:         w.totals.kicked,
	})
	return digest
}

// applyClientBatch applies a client batch, answers it on the sender's
// reliable lane, then broadcasts the resulting block changes. The ack and
// the block delta are separate messages and clients must not assume an
// order between them.
func (w *World) applyClientBatch(tick uint64, cl *client, batch protocol.SceneOpBatch) {
	out := w.scene.Apply(batch)
	w.countBatch(batch, out)

	if w.batchSink != nil {
		rec := BatchRecord{
			Tick:     tick,
			ClientID: cl.id,
			BatchID:  batch.BatchID,
			Atomic:   batch.Atomic,
			Ops:      batch.Ops,
			Results:  out.Ack.Results,
			Revision: out.Ack.Revision,
		}
		if err := w.batchSink.RecordBatch(rec); err != nil {
			w.log.Warn("batch record failed", zap.Uint64("batch_id", batch.BatchID), zap.Error(err))
		}
	}

	if b, ok := w.encode(protocol.NewSceneOpAck(out.Ack)); ok {
		w.sendReliable(cl, b)
	}
	if len(out.Blocks) > 0 {
		w.broadcastBlocks(out.Blocks)
	}
}

func (w *World) countBatch(batch protocol.SceneOpBatch, out scene.Outcome) {
	var ok, failed int64
	for _, r := range out.Ack.Results {
		if r.OK {
			ok++
		} else {
			failed++
		}
	}
	w.totals.batchesApplied++
	outcome := "ok"
	if batch.Atomic && failed > 0 {
		w.totals.batchesAborted++
		outcome = "aborted"
	} else if failed > 0 {
		outcome = "partial"
	}
	w.totals.opsOK += uint64(ok)
	w.totals.opsFailed += uint64(failed)
	w.recordBatchMetric(batch.Atomic, outcome, failed)
}

func (w *World) broadcastBlocks(changes []protocol.BlockChange) {
	b, ok := w.encode(protocol.NewBlockDelta(w.scene.CSGRevision(), false, changes))
	if !ok {
		return
	}
	for _, id := range w.clientIDs() {
		w.sendReliable(w.clients[id], b)
	}
}

func (w *World) sendReliable(cl *client, b []byte) {
	if cl == nil || cl.lanes == nil || cl.kicked {
		return
	}
	if cl.lanes.sendReliable(b) {
		return
	}
	cl.kicked = true
	w.kicked = append(w.kicked, cl.id)
	w.totals.kicked++
	w.log.Warn("reliable lane full, disconnecting client", zap.Uint32("client", cl.id), zap.String("name", cl.name))
}

func (w *World) encode(m protocol.Message) ([]byte, bool) {
	b, err := protocol.Encode(m)
	if err != nil {
		w.log.Error("encode failed", zap.String("type", m.MessageType()), zap.Error(err))
		return nil, false
	}
	return b, true
}

package world

import (
	"context"
	"time"
)

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingEnvelopes []Envelope
	var pendingJoins []JoinRequest
	var pendingLeaves []uint32

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-w.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-w.inbox:
			pendingEnvelopes = append(pendingEnvelopes, env)
		case <-ticker.C:
			w.step(pendingJoins, pendingLeaves, pendingEnvelopes)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingEnvelopes = pendingEnvelopes[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// StepOnce advances the world by a single tick using the same ordering semantics as the server.
// It is primarily intended for deterministic replays/tests.
func (w *World) StepOnce(joins []JoinRequest, leaves []uint32, envs []Envelope) (tick uint64, digest string) {
	tick = w.tick.Load()
	digest = w.step(joins, leaves, envs)
	return tick, digest
}

package world

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "voxelscene.dev/internal/sim/world"

// Metrics is a thread-safe read-only view of key world runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type Metrics struct {
	Tick uint64 `json:"tick"`

	Clients       int    `json:"clients"`
	Avatars       int    `json:"avatars"`
	SceneNodes    int    `json:"scene_nodes"`
	Blocks        int    `json:"blocks"`
	SceneRevision uint64 `json:"scene_revision"`
	CSGRevision   uint64 `json:"csg_revision"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`

	BatchesApplied uint64 `json:"batches_applied"`
	BatchesAborted uint64 `json:"batches_aborted"`
	OpsOK          uint64 `json:"ops_ok"`
	OpsFailed      uint64 `json:"ops_failed"`
	Kicked         uint64 `json:"kicked"`
}

type QueueDepths struct {
	Inbox int `json:"inbox"`
	Join  int `json:"join"`
	Leave int `json:"leave"`
}

type totals struct {
	batchesApplied uint64
	batchesAborted uint64
	opsOK          uint64
	opsFailed      uint64
	kicked         uint64
}

func (w *World) Metrics() Metrics {
	if w == nil {
		return Metrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return Metrics{}
	}
	m, ok := v.(Metrics)
	if !ok {
		return Metrics{}
	}
	return m
}

// initInstruments registers the OpenTelemetry counters on the global meter.
// They are no-ops unless the binary installs a meter provider.
func (w *World) initInstruments() error {
	m := otel.Meter(instrumentationName)
	var err error
	w.batchesCtr, err = m.Int64Counter(
		"scene.batches",
		metric.WithDescription("Client scene op batches applied"),
	)
	if err != nil {
		return err
	}
	w.opsFailCtr, err = m.Int64Counter(
		"scene.ops_failed",
		metric.WithDescription("Client scene ops that produced a failure result"),
	)
	if err != nil {
		return err
	}
	w.ticksCtr, err = m.Int64Counter(
		"world.ticks",
		metric.WithDescription("World ticks stepped"),
	)
	return err
}

func (w *World) recordBatchMetric(atomic bool, outcome string, failed int64) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.Bool("atomic", atomic),
		attribute.String("outcome", outcome),
	)
	w.batchesCtr.Add(ctx, 1, attrs)
	if failed > 0 {
		w.opsFailCtr.Add(ctx, failed, attrs)
	}
}

package world

import (
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"voxelscene.dev/internal/physics"
	"voxelscene.dev/internal/protocol"
	"voxelscene.dev/internal/scene"
	"voxelscene.dev/internal/sim/movement"
	"voxelscene.dev/internal/sim/tuning"
)

type WorldConfig struct {
	SceneID      string
	TickRateHz   int
	MaxInputHz   int
	DefaultSpeed float32
	SpawnSpacing float32

	MaxBlockExtent int
	MaxBlockVolume int

	ReliableQueue int
	StateQueue    int
	InboxQueue    int

	// Step defaults to physics.Simulate. Clients must run the same function.
	Step physics.Func
}

func ConfigFromTuning(t tuning.Tuning) WorldConfig {
	return WorldConfig{
		SceneID:        t.SceneID,
		TickRateHz:     t.TickRateHz,
		MaxInputHz:     t.Prediction.MaxInputHz,
		DefaultSpeed:   t.Movement.DefaultSpeed,
		SpawnSpacing:   t.Movement.SpawnSpacing,
		MaxBlockExtent: t.Blocks.MaxExtent,
		MaxBlockVolume: t.Blocks.MaxVolume,
		ReliableQueue:  t.Lanes.ReliableQueue,
		StateQueue:     t.Lanes.StateQueue,
		InboxQueue:     t.Lanes.InboxQueue,
	}
}

type JoinRequest struct {
	Name      string
	SessionID string
	// Lanes may be nil (replay).
	Lanes *Lanes
	Resp  chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
}

// Envelope is one inbound client message, queued in receipt order and
// processed at the next tick boundary.
type Envelope interface {
	Sender() uint32
	envelope()
}

type InputEnvelope struct {
	ClientID uint32
	Input    protocol.PlayerInput
}

type BatchEnvelope struct {
	ClientID uint32
	Batch    protocol.SceneOpBatch
}

func (e InputEnvelope) Sender() uint32 { return e.ClientID }
func (e BatchEnvelope) Sender() uint32 { return e.ClientID }

func (InputEnvelope) envelope() {}
func (BatchEnvelope) envelope() {}

type RecordedJoin struct {
	ClientID uint32 `json:"client_id"`
	Name     string `json:"name"`
}

type RecordedInput struct {
	ClientID uint32               `json:"client_id"`
	Input    protocol.PlayerInput `json:"input"`
}

type RecordedBatch struct {
	ClientID uint32                `json:"client_id"`
	Batch    protocol.SceneOpBatch `json:"batch"`
}

type TickLogEntry struct {
	Tick    uint64          `json:"tick"`
	Joins   []RecordedJoin  `json:"joins,omitempty"`
	Leaves  []uint32        `json:"leaves,omitempty"`
	Inputs  []RecordedInput `json:"inputs,omitempty"`
	Batches []RecordedBatch `json:"batches,omitempty"`
	Digest  string          `json:"digest"`
}

// BatchRecord is the outcome of one applied client batch.
type BatchRecord struct {
	Tick     uint64                   `json:"tick"`
	ClientID uint32                   `json:"client_id"`
	BatchID  uint64                   `json:"batch_id"`
	Atomic   bool                     `json:"atomic,omitempty"`
	Ops      []protocol.SceneOp       `json:"ops"`
	Results  []protocol.SceneOpResult `json:"results"`
	Revision uint64                   `json:"revision"`
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type BatchSink interface {
	RecordBatch(rec BatchRecord) error
}

type client struct {
	id     uint32
	name   string
	lanes  *Lanes
	kicked bool
}

// World is the single-threaded authoritative loop around one scene.
// All state must be accessed only from the world loop goroutine.
type World struct {
	cfg WorldConfig
	log *zap.Logger

	tick atomic.Uint64

	scene    *scene.Scene
	movement *movement.Simulator

	clients      map[uint32]*client
	nextClientID uint32
	// kicked clients are removed as leaves at the start of the next tick
	kicked []uint32

	inbox chan Envelope
	join  chan JoinRequest
	leave chan uint32
	stop  chan struct{}

	tickLogger TickLogger
	batchSink  BatchSink

	totals     totals
	metrics    atomic.Value
	batchesCtr metric.Int64Counter
	opsFailCtr metric.Int64Counter
	ticksCtr   metric.Int64Counter
}

func New(cfg WorldConfig, log *zap.Logger) (*World, error) {
	d := ConfigFromTuning(tuning.Defaults())
	if cfg.SceneID == "" {
		cfg.SceneID = d.SceneID
	}
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = d.TickRateHz
	}
	if cfg.MaxInputHz <= 0 {
		cfg.MaxInputHz = d.MaxInputHz
	}
	if cfg.DefaultSpeed <= 0 {
		cfg.DefaultSpeed = d.DefaultSpeed
	}
	if cfg.ReliableQueue <= 0 {
		cfg.ReliableQueue = d.ReliableQueue
	}
	if cfg.StateQueue <= 0 {
		cfg.StateQueue = d.StateQueue
	}
	if cfg.InboxQueue <= 0 {
		cfg.InboxQueue = d.InboxQueue
	}
	if log == nil {
		log = zap.NewNop()
	}
	reg := scene.DefaultRegistry()
	reg.SetBlockLimits(cfg.MaxBlockExtent, cfg.MaxBlockVolume)

	w := &World{
		cfg:      cfg,
		log:      log,
		scene:    scene.New(cfg.SceneID, reg, log.Named("scene")),
		movement: movement.New(movement.Config{TickRateHz: cfg.TickRateHz, Step: cfg.Step}, log.Named("movement")),
		clients:  map[uint32]*client{},
		inbox:    make(chan Envelope, cfg.InboxQueue),
		join:     make(chan JoinRequest, 64),
		leave:    make(chan uint32, 64),
		stop:     make(chan struct{}),
	}
	if err := w.initInstruments(); err != nil {
		return nil, fmt.Errorf("world metrics: %w", err)
	}
	return w, nil
}

func (w *World) SetTickLogger(l TickLogger) { w.tickLogger = l }
func (w *World) SetBatchSink(s BatchSink)   { w.batchSink = s }

func (w *World) Inbox() chan<- Envelope   { return w.inbox }
func (w *World) Join() chan<- JoinRequest { return w.join }
func (w *World) Leave() chan<- uint32     { return w.leave }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

func (w *World) Config() WorldConfig { return w.cfg }

// Scene exposes the scene for tests and replay. Only use it while the loop
// is not running.
func (w *World) Scene() *scene.Scene { return w.scene }

// Movement exposes the simulator under the same restriction as Scene.
func (w *World) Movement() *movement.Simulator { return w.movement }

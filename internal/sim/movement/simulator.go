package movement

import (
	"slices"

	"go.uber.org/zap"

	"voxelscene.dev/internal/physics"
	"voxelscene.dev/internal/protocol"
	"voxelscene.dev/internal/scene"
)

// SceneEnv is the read side of the scene the simulator needs.
type SceneEnv interface {
	ID() string
	Node(id uint64) (scene.Node, bool)
	FloatProp(id uint64, key string, def float32) float32
	Environment() protocol.Environment
}

type Config struct {
	TickRateHz int
	// Step defaults to physics.Simulate.
	Step physics.Func
}

type avatar struct {
	clientID uint32
	nodeID   uint64
	// nil until the first tick after join or scene reset
	state *physics.State
	input protocol.PlayerInput
	yaw   float32
	pitch float32
}

// Output is one avatar's tick result: the snapshot for its owner and the
// transform batch that mirrors it into the scene for everyone else.
type Output struct {
	ClientID uint32
	NodeID   uint64
	Snapshot protocol.RuntimeSnapshot
	Batch    protocol.SceneOpBatch
}

// Simulator owns the authoritative movement state of every avatar. It is
// driven from the world tick loop and is not safe for concurrent use.
type Simulator struct {
	step physics.Func
	dt   float32
	log  *zap.Logger

	avatars map[uint32]*avatar
}

func New(cfg Config, log *zap.Logger) *Simulator {
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 20
	}
	if cfg.Step == nil {
		cfg.Step = physics.Simulate
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Simulator{
		step:    cfg.Step,
		dt:      float32(1) / float32(cfg.TickRateHz),
		log:     log,
		avatars: map[uint32]*avatar{},
	}
}

func (s *Simulator) Join(clientID uint32, nodeID uint64) {
	s.avatars[clientID] = &avatar{clientID: clientID, nodeID: nodeID}
}

func (s *Simulator) Leave(clientID uint32) {
	delete(s.avatars, clientID)
}

func (s *Simulator) Len() int { return len(s.avatars) }

func (s *Simulator) NodeID(clientID uint32) (uint64, bool) {
	a, ok := s.avatars[clientID]
	if !ok {
		return 0, false
	}
	return a.nodeID, true
}

// State returns a copy of the avatar's current state.
func (s *Simulator) State(clientID uint32) (physics.State, bool) {
	a, ok := s.avatars[clientID]
	if !ok || a.state == nil {
		return physics.State{}, false
	}
	return *a.state, true
}

// OnInput latches the newest input for the avatar. It is held and reused on
// every tick until a newer one arrives. Inputs older than the latched one are
// dropped.
func (s *Simulator) OnInput(clientID uint32, in protocol.PlayerInput) bool {
	a, ok := s.avatars[clientID]
	if !ok {
		return false
	}
	if in.ClientTick < a.input.ClientTick {
		s.log.Debug("stale input dropped", zap.Uint32("client", clientID), zap.Uint64("tick", in.ClientTick), zap.Uint64("latched", a.input.ClientTick))
		return false
	}
	a.input = in
	return true
}

// ResetStates forgets every avatar's state so the next tick re-seeds it from
// the scene. Used after the scene is replaced.
func (s *Simulator) ResetStates() {
	for _, a := range s.avatars {
		a.state = nil
	}
}

// Step advances every avatar by one fixed tick, in client id order.
func (s *Simulator) Step(tick uint64, env SceneEnv) []Output {
	if len(s.avatars) == 0 {
		return nil
	}
	ids := make([]uint32, 0, len(s.avatars))
	for id := range s.avatars {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	ambient := env.Environment()
	out := make([]Output, 0, len(ids))
	for _, id := range ids {
		a := s.avatars[id]
		in := a.input
		a.yaw = physics.NormalizeYaw(in.Yaw)
		a.pitch = physics.ClampPitch(in.Pitch)
		mx, mz := physics.NormalizeMove(in.MoveX, in.MoveZ)

		if a.state == nil {
			st := s.seed(a, env)
			a.state = &st
		}
		next := s.step(*a.state, physics.Controls{
			MoveX:  mx,
			MoveZ:  mz,
			YawDeg: a.yaw,
			Speed:  env.FloatProp(a.nodeID, "speed", physics.DefaultSpeed),
			Jump:   in.Jump,
			Sprint: in.Sprint,
		}, s.dt)
		*a.state = next

		out = append(out, Output{
			ClientID: id,
			NodeID:   a.nodeID,
			Snapshot: protocol.RuntimeSnapshot{
				ServerTick:     tick,
				LastClientTick: in.ClientTick,
				SceneID:        env.ID(),
				NodeID:         a.nodeID,
				State:          next,
				Yaw:            a.yaw,
				Pitch:          a.pitch,
				Env:            ambient,
			},
			Batch: protocol.SceneOpBatch{
				BatchID: protocol.ServerBatchID(tick, a.nodeID),
				Ops: []protocol.SceneOp{
					protocol.SetFloat(a.nodeID, "x", next.X),
					protocol.SetFloat(a.nodeID, "y", next.Y),
					protocol.SetFloat(a.nodeID, "z", next.Z),
					protocol.SetFloat(a.nodeID, "ry", a.yaw),
				},
			},
		})
	}
	return out
}

// seed builds the starting state from the avatar's node, standing on the
// floor unless the node is placed above it.
func (s *Simulator) seed(a *avatar, env SceneEnv) physics.State {
	if _, ok := env.Node(a.nodeID); !ok {
		return physics.Resting(0, 0)
	}
	st := physics.Resting(env.FloatProp(a.nodeID, "x", 0), env.FloatProp(a.nodeID, "z", 0))
	if y := env.FloatProp(a.nodeID, "y", physics.FloorY); y > physics.FloorY {
		st.Y = y
		st.OnFloor = false
	}
	return st
}

package protocol

import (
	"voxelscene.dev/internal/csg"
	"voxelscene.dev/internal/physics"
)

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
}

func NewHello(name string) *HelloMsg {
	return &HelloMsg{Type: TypeHello, ProtocolVersion: Version, ClientName: name}
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	ClientID        uint32 `json:"client_id"`
	SceneID         string `json:"scene_id"`
	RootID          uint64 `json:"root_id"`
	AvatarNodeID    uint64 `json:"avatar_node_id"`
	TickRateHz      int    `json:"tick_rate_hz"`
	MaxInputHz      int    `json:"max_input_hz"`
}

// PlayerInput is one client input sample. ClientTick increases by one per
// transmitted sample.
type PlayerInput struct {
	ClientTick uint64  `json:"client_tick"`
	MoveX      float32 `json:"move_x"`
	MoveZ      float32 `json:"move_z"`
	Yaw        float32 `json:"yaw"`
	Pitch      float32 `json:"pitch"`
	Jump       bool    `json:"jump,omitempty"`
	Sprint     bool    `json:"sprint,omitempty"`
}

// INPUT (client -> server)
type InputMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlayerInput
}

func NewInput(in PlayerInput) *InputMsg {
	return &InputMsg{Type: TypeInput, ProtocolVersion: Version, PlayerInput: in}
}

type Environment struct {
	FogEnabled bool    `json:"fog_enabled"`
	FogColor   string  `json:"fog_color,omitempty"`
	FogDensity float32 `json:"fog_density"`
}

// RuntimeSnapshot is the authoritative movement state for one avatar. It is
// only ever sent to the avatar's owner.
type RuntimeSnapshot struct {
	ServerTick     uint64        `json:"server_tick"`
	LastClientTick uint64        `json:"last_client_tick"`
	SceneID        string        `json:"scene_id"`
	NodeID         uint64        `json:"node_id"`
	State          physics.State `json:"state"`
	Yaw            float32       `json:"yaw"`
	Pitch          float32       `json:"pitch"`
	Env            Environment   `json:"env"`
}

// RUNTIME_STATE (server -> owning client)
type RuntimeStateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RuntimeSnapshot
}

func NewRuntimeState(s RuntimeSnapshot) *RuntimeStateMsg {
	return &RuntimeStateMsg{Type: TypeRuntimeState, ProtocolVersion: Version, RuntimeSnapshot: s}
}

type BlockChange struct {
	Pos      csg.Vec3i    `json:"pos"`
	Material csg.Material `json:"material"`
}

// BLOCK_DELTA (server -> all clients). Full deltas replace the client's
// cache; incremental ones patch it.
type BlockDeltaMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	Revision        uint64        `json:"revision"`
	Full            bool          `json:"full,omitempty"`
	Changes         []BlockChange `json:"changes"`
}

func NewBlockDelta(rev uint64, full bool, changes []BlockChange) *BlockDeltaMsg {
	if changes == nil {
		changes = []BlockChange{}
	}
	return &BlockDeltaMsg{Type: TypeBlockDelta, ProtocolVersion: Version, Revision: rev, Full: full, Changes: changes}
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewError(code, msg string) *ErrorMsg {
	return &ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: msg}
}

package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"voxelscene.dev/internal/csg"
	"voxelscene.dev/internal/physics"
	"voxelscene.dev/internal/protocol"
)

func TestSchemas_ValidateEncodedMessages(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, m protocol.Message) {
		t.Helper()
		b, err := protocol.Encode(m)
		if err != nil {
			t.Fatalf("encode %s: %v", m.MessageType(), err)
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			t.Fatalf("unmarshal %s: %v", m.MessageType(), err)
		}
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate %s: %v\n%s", m.MessageType(), err, b)
		}
	}

	validate(compile("hello.schema.json"), protocol.NewHello("bot1"))
	validate(compile("welcome.schema.json"), &protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       "s-1",
		ClientID:        3,
		SceneID:         "main",
		RootID:          1,
		AvatarNodeID:    7,
		TickRateHz:      20,
		MaxInputHz:      60,
	})
	validate(compile("input.schema.json"), protocol.NewInput(protocol.PlayerInput{
		ClientTick: 42, MoveX: 0.5, MoveZ: -1, Yaw: 12.5, Pitch: -4, Jump: true,
	}))
	validate(compile("runtime_state.schema.json"), protocol.NewRuntimeState(protocol.RuntimeSnapshot{
		ServerTick:     9,
		LastClientTick: 42,
		SceneID:        "main",
		NodeID:         7,
		State:          physics.Resting(1, 2),
		Yaw:            180,
		Pitch:          89,
		Env:            protocol.Environment{FogEnabled: true, FogColor: "#a0b0c0", FogDensity: 0.02},
	}))
	idx := 0
	validate(compile("scene_op_batch.schema.json"), protocol.NewSceneOpBatch(protocol.SceneOpBatch{
		BatchID: protocol.ComposeBatchID(3, 1),
		Atomic:  true,
		Ops: []protocol.SceneOp{
			protocol.CreateNode(1, "Block", "CSGBlock"),
			protocol.SetInt(7, "sx", 2),
			protocol.SetFloat(7, "ry", 45),
			protocol.RemoveProperty(7, "block"),
			protocol.Rename(7, "Wall"),
			protocol.Reparent(7, 1, &idx),
			protocol.QueueFree(7),
		},
	}))
	validate(compile("scene_op_ack.schema.json"), protocol.NewSceneOpAck(protocol.SceneOpAck{
		BatchID:  1,
		Revision: 4,
		Results: []protocol.SceneOpResult{
			{TargetID: 1, CreatedID: 8, OK: true},
			protocol.FailResult(7, protocol.ErrNotFound, "node not found"),
		},
	}))
	validate(compile("scene_op_ack.schema.json"), protocol.NewSceneOpAck(protocol.SceneOpAck{BatchID: 2}))
	validate(compile("block_delta.schema.json"), protocol.NewBlockDelta(5, true, []protocol.BlockChange{
		{Pos: csg.Vec3i{X: 1, Y: 40, Z: -3}, Material: csg.Stone},
	}))
}

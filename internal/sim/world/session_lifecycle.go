package world

import (
	"fmt"
	"slices"

	"go.uber.org/zap"

	"voxelscene.dev/internal/physics"
	"voxelscene.dev/internal/protocol"
	"voxelscene.dev/internal/scene"
)

// handleJoin assigns the next client id, spawns the avatar (a
// CharacterBody3D with a Camera3D child) and greets the client with WELCOME
// followed by the full block content.
func (w *World) handleJoin(req JoinRequest) protocol.WelcomeMsg {
	w.nextClientID++
	id := w.nextClientID

	nodeID, err := w.spawnAvatar(id)
	if err != nil {
		w.log.Error("avatar spawn failed", zap.Uint32("client", id), zap.Error(err))
	}
	if nodeID != 0 {
		w.movement.Join(id, nodeID)
	}
	cl := &client{id: id, name: req.Name, lanes: req.Lanes}
	w.clients[id] = cl

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       req.SessionID,
		ClientID:        id,
		SceneID:         w.scene.ID(),
		RootID:          w.scene.RootID(),
		AvatarNodeID:    nodeID,
		TickRateHz:      w.cfg.TickRateHz,
		MaxInputHz:      w.cfg.MaxInputHz,
	}
	if b, ok := w.encode(&welcome); ok {
		w.sendReliable(cl, b)
	}
	if b, ok := w.encode(protocol.NewBlockDelta(w.scene.CSGRevision(), true, w.scene.Blocks().All())); ok {
		w.sendReliable(cl, b)
	}
	w.log.Info("client joined", zap.Uint32("client", id), zap.String("name", req.Name), zap.Uint64("avatar", nodeID))
	return welcome
}

func (w *World) spawnAvatar(id uint32) (uint64, error) {
	base := fmt.Sprintf("Player%d", id)
	name := base
	var nodeID uint64
	for n := 2; ; n++ {
		var err error
		nodeID, err = w.scene.AddNode(w.scene.RootID(), name, scene.TypeCharacterBody3D)
		if err == nil {
			break
		}
		if n > 64 {
			return 0, err
		}
		name = fmt.Sprintf("%s_%d", base, n)
	}
	setup := protocol.SceneOpBatch{
		Ops: []protocol.SceneOp{
			protocol.SetFloat(nodeID, "x", w.cfg.SpawnSpacing*float32(id-1)),
			protocol.SetFloat(nodeID, "y", physics.FloorY),
			protocol.SetFloat(nodeID, "z", 0),
			protocol.SetFloat(nodeID, "speed", w.cfg.DefaultSpeed),
			protocol.CreateNode(nodeID, "Camera", scene.TypeCamera3D),
		},
	}
	for _, r := range w.scene.Apply(setup).Ack.Results {
		if !r.OK {
			return nodeID, fmt.Errorf("avatar setup: %s", r.Message)
		}
	}
	return nodeID, nil
}

// handleLeave drops the client and frees its avatar. The avatar may already
// be gone if some client freed it.
func (w *World) handleLeave(id uint32) {
	cl := w.clients[id]
	delete(w.clients, id)
	if cl != nil && cl.lanes != nil {
		cl.lanes.kick()
	}
	nodeID, ok := w.movement.NodeID(id)
	w.movement.Leave(id)
	if !ok {
		return
	}
	changes, err := w.scene.RemoveNode(nodeID)
	if err != nil {
		w.log.Debug("avatar already removed", zap.Uint32("client", id), zap.Uint64("avatar", nodeID))
	}
	if len(changes) > 0 {
		w.broadcastBlocks(changes)
	}
	w.log.Info("client left", zap.Uint32("client", id))
}

func (w *World) clientIDs() []uint32 {
	ids := make([]uint32, 0, len(w.clients))
	for id := range w.clients {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

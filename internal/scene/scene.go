package scene

import (
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"voxelscene.dev/internal/csg"
	"voxelscene.dev/internal/protocol"
)

const (
	RootName        = "root"
	EnvironmentName = "Environment"
)

var ErrNotFound = errors.New("scene: node not found")

// Scene is the server-owned node tree plus the block content rasterized from
// its CSG nodes. It is not safe for concurrent use; the world loop owns it.
type Scene struct {
	id  string
	reg *Registry
	log *zap.Logger

	tree        *tree
	envID       uint64
	revision    uint64
	csgRevision uint64

	blocks *BlockStore
	// footprints caches the last rasterization per CSG node.
	footprints map[uint64]footprint
}

// Outcome is everything a batch produced: the ack for the sender and the
// block changes to broadcast.
type Outcome struct {
	Ack     protocol.SceneOpAck
	Changed bool
	Blocks  []protocol.BlockChange
}

func New(id string, reg *Registry, log *zap.Logger) *Scene {
	if reg == nil {
		reg = DefaultRegistry()
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Scene{
		id:         id,
		reg:        reg,
		log:        log,
		tree:       newTree(RootName, TypeNode3D, reg.Defaults(TypeNode3D)),
		blocks:     NewBlockStore(),
		footprints: map[uint64]footprint{},
	}
	env := s.tree.add(s.tree.get(s.tree.rootID), EnvironmentName, TypeWorldEnvironment, reg.Defaults(TypeWorldEnvironment))
	s.envID = env.ID
	return s
}

func (s *Scene) ID() string            { return s.id }
func (s *Scene) RootID() uint64        { return s.tree.rootID }
func (s *Scene) Revision() uint64      { return s.revision }
func (s *Scene) CSGRevision() uint64   { return s.csgRevision }
func (s *Scene) Blocks() *BlockStore   { return s.blocks }
func (s *Scene) Registry() *Registry   { return s.reg }
func (s *Scene) NodeCount() int        { return len(s.tree.nodes) }
func (s *Scene) EnvironmentID() uint64 { return s.envID }

// Node returns a copy of the node, so callers can never mutate the tree.
func (s *Scene) Node(id uint64) (Node, bool) {
	n := s.tree.get(id)
	if n == nil {
		return Node{}, false
	}
	return *n.clone(), true
}

func (s *Scene) Prop(id uint64, key string) (string, bool) {
	n := s.tree.get(id)
	if n == nil {
		return "", false
	}
	v, ok := n.Props[key]
	return v, ok
}

// FloatProp parses a numeric property, returning def when missing or bad.
func (s *Scene) FloatProp(id uint64, key string, def float32) float32 {
	v, ok := s.Prop(id, key)
	if !ok {
		return def
	}
	f, ok := parseFinite(v)
	if !ok {
		return def
	}
	return float32(f)
}

// Environment reads the ambient fields published with every runtime snapshot.
func (s *Scene) Environment() protocol.Environment {
	env := protocol.Environment{}
	n := s.tree.get(s.envID)
	if n == nil {
		return env
	}
	env.FogEnabled, _ = strconv.ParseBool(n.Props["fog_enabled"])
	env.FogColor = n.Props["fog_color"]
	env.FogDensity = s.FloatProp(s.envID, "fog_density", 0)
	return env
}

// AddNode creates a node outside the batch channel. The server uses it to
// spawn avatars.
func (s *Scene) AddNode(parentID uint64, name, typeID string) (uint64, error) {
	out := s.Apply(protocol.SceneOpBatch{Ops: []protocol.SceneOp{protocol.CreateNode(parentID, name, typeID)}})
	r := out.Ack.Results[0]
	if !r.OK {
		return 0, fmt.Errorf("add %s: %s", name, r.Message)
	}
	return r.CreatedID, nil
}

// RemoveNode frees a node and its subtree.
func (s *Scene) RemoveNode(id uint64) ([]protocol.BlockChange, error) {
	out := s.Apply(protocol.SceneOpBatch{Ops: []protocol.SceneOp{protocol.QueueFree(id)}})
	if r := out.Ack.Results[0]; !r.OK {
		if r.Code == protocol.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, errors.New(r.Message)
	}
	return out.Blocks, nil
}

// Apply executes one batch and answers it with exactly one result per op in
// op order. Non-atomic batches evaluate each op against the state left by
// the ones before it. Atomic batches run against a copy that is only kept
// when every op succeeds; otherwise every result fails with the first
// failure's reason and the scene is untouched.
func (s *Scene) Apply(batch protocol.SceneOpBatch) Outcome {
	out := Outcome{Ack: protocol.SceneOpAck{BatchID: batch.BatchID, Results: make([]protocol.SceneOpResult, 0, len(batch.Ops))}}

	work := s.tree
	if batch.Atomic {
		work = s.tree.clone()
	}
	changed := false
	failed := -1
	var reason string
	for i, op := range batch.Ops {
		r, ok := s.applyOne(work, op)
		out.Ack.Results = append(out.Ack.Results, r)
		if ok {
			changed = true
			continue
		}
		if batch.Atomic && failed < 0 {
			failed = i
			reason = r.Message
		}
	}

	if batch.Atomic && failed >= 0 {
		shared := fmt.Sprintf("op %d: %s", failed, reason)
		for i, op := range batch.Ops {
			out.Ack.Results[i] = protocol.FailResult(op.TargetID(), protocol.ErrAtomicAborted, shared)
		}
		out.Ack.Revision = s.revision
		s.log.Debug("atomic batch aborted", zap.Uint64("batch_id", batch.BatchID), zap.String("reason", shared))
		return out
	}

	s.tree = work
	if changed {
		s.revision++
		out.Changed = true
		out.Blocks = s.rasterize()
		if len(out.Blocks) > 0 {
			s.csgRevision++
		}
	}
	out.Ack.Revision = s.revision
	return out
}

func (s *Scene) applyOne(t *tree, op protocol.SceneOp) (protocol.SceneOpResult, bool) {
	fail := func(target uint64, code, msg string) (protocol.SceneOpResult, bool) {
		return protocol.FailResult(target, code, msg), false
	}
	switch op.Kind {
	case protocol.OpCreateNode:
		parent := t.get(op.ParentID)
		if parent == nil {
			return fail(op.ParentID, protocol.ErrNotFound, "parent not found")
		}
		name := strings.TrimSpace(op.Name)
		if name == "" {
			return fail(parent.ID, protocol.ErrInvalid, "name empty")
		}
		if _, ok := s.reg.Lookup(op.TypeID); !ok {
			return fail(parent.ID, protocol.ErrInvalid, fmt.Sprintf("unknown type %q", op.TypeID))
		}
		if t.childNamed(parent, name) != nil {
			return fail(parent.ID, protocol.ErrAlreadyExists, "child already exists")
		}
		child := t.add(parent, name, op.TypeID, s.reg.Defaults(op.TypeID))
		return protocol.SceneOpResult{TargetID: parent.ID, CreatedID: child.ID, OK: true}, true

	case protocol.OpQueueFree:
		n := t.get(op.NodeID)
		if n == nil {
			return fail(op.NodeID, protocol.ErrNotFound, "node not found")
		}
		if n.ID == t.rootID || n.ID == s.envID {
			return fail(n.ID, protocol.ErrInvalid, "cannot free builtin node")
		}
		t.remove(n)
		return protocol.OKResult(n.ID), true

	case protocol.OpRename:
		n := t.get(op.NodeID)
		if n == nil {
			return fail(op.NodeID, protocol.ErrNotFound, "node not found")
		}
		name := strings.TrimSpace(op.Name)
		if name == "" {
			return fail(n.ID, protocol.ErrInvalid, "name empty")
		}
		if p := t.get(n.Parent); p != nil && n.ID != t.rootID {
			if sib := t.childNamed(p, name); sib != nil && sib.ID != n.ID {
				return fail(n.ID, protocol.ErrAlreadyExists, "sibling already exists")
			}
		}
		n.Name = name
		return protocol.OKResult(n.ID), true

	case protocol.OpSetProperty:
		n := t.get(op.NodeID)
		if n == nil {
			return fail(op.NodeID, protocol.ErrNotFound, "node not found")
		}
		if err := s.reg.ValidateSet(n.TypeID, op.Key, op.Value); err != nil {
			return fail(n.ID, protocol.ErrInvalid, err.Error())
		}
		if err := s.validateBlockVolume(n, op.Key, op.Value); err != nil {
			return fail(n.ID, protocol.ErrInvalid, err.Error())
		}
		if n.Props == nil {
			n.Props = map[string]string{}
		}
		n.Props[strings.TrimSpace(op.Key)] = strings.TrimSpace(op.Value)
		return protocol.OKResult(n.ID), true

	case protocol.OpRemoveProperty:
		n := t.get(op.NodeID)
		if n == nil {
			return fail(op.NodeID, protocol.ErrNotFound, "node not found")
		}
		if err := s.reg.ValidateRemove(n.TypeID, op.Key); err != nil {
			return fail(n.ID, protocol.ErrInvalid, err.Error())
		}
		key := strings.TrimSpace(op.Key)
		// declared properties fall back to their default
		if def, ok := s.reg.Defaults(n.TypeID)[key]; ok {
			n.Props[key] = def
		} else {
			delete(n.Props, key)
		}
		return protocol.OKResult(n.ID), true

	case protocol.OpReparent:
		n := t.get(op.NodeID)
		if n == nil {
			return fail(op.NodeID, protocol.ErrNotFound, "node not found")
		}
		if n.ID == t.rootID || n.ID == s.envID {
			return fail(n.ID, protocol.ErrInvalid, "cannot reparent builtin node")
		}
		np := t.get(op.ParentID)
		if np == nil {
			return fail(op.ParentID, protocol.ErrNotFound, "new parent not found")
		}
		if t.isAncestor(n.ID, np.ID) {
			return fail(n.ID, protocol.ErrInvalid, "cycle")
		}
		if sib := t.childNamed(np, n.Name); sib != nil && sib.ID != n.ID {
			return fail(n.ID, protocol.ErrAlreadyExists, "sibling already exists")
		}
		t.move(n, np, op.Index)
		return protocol.OKResult(n.ID), true
	}
	return fail(op.TargetID(), protocol.ErrInvalid, fmt.Sprintf("unknown op %q", op.Kind))
}

// Snapshot returns copies of every node, keyed by id.
func (s *Scene) Snapshot() map[uint64]Node {
	out := make(map[uint64]Node, len(s.tree.nodes))
	for id, n := range s.tree.nodes {
		c := *n
		c.Props = maps.Clone(n.Props)
		out[id] = c
	}
	return out
}

// validateBlockVolume checks the box a CSGBlock would have after setting
// key to value.
func (s *Scene) validateBlockVolume(n *Node, key, value string) error {
	key = strings.TrimSpace(key)
	if n.TypeID != TypeCSGBlock || (key != "sx" && key != "sy" && key != "sz") {
		return nil
	}
	dims := map[string]int{"sx": 1, "sy": 1, "sz": 1}
	for k := range dims {
		if v, err := strconv.Atoi(strings.TrimSpace(n.Props[k])); err == nil && v > 0 {
			dims[k] = v
		}
	}
	dims[key], _ = strconv.Atoi(strings.TrimSpace(value))
	return s.reg.ValidateVolume(dims["sx"], dims["sy"], dims["sz"])
}

func (s *Scene) csgBox(n *Node) (csg.Box, csg.Material) {
	round := func(key string) int {
		f, _ := parseFinite(n.Props[key])
		return int(roundHalfAway(f))
	}
	size := func(key string) int {
		v, err := strconv.Atoi(n.Props[key])
		if err != nil || v < 1 {
			return 1
		}
		return v
	}
	rot := func(key string) float32 {
		f, _ := parseFinite(n.Props[key])
		return float32(f)
	}
	b := csg.Box{
		X: round("x"), Y: round("y"), Z: round("z"),
		W: size("sx"), H: size("sy"), D: size("sz"),
		RotX: rot("rx"), RotY: rot("ry"), RotZ: rot("rz"),
	}
	m := csg.Material(strings.TrimSpace(n.Props["block"]))
	if m.IsAir() {
		m = csg.Stone
	}
	return b, m
}

func roundHalfAway(f float64) float64 {
	if f < 0 {
		return -roundHalfAway(-f)
	}
	return float64(int64(f + 0.5))
}

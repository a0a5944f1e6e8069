package protocol

import (
	"strconv"
)

type OpKind string

const (
	OpCreateNode     OpKind = "CREATE_NODE"
	OpQueueFree      OpKind = "QUEUE_FREE"
	OpRename         OpKind = "RENAME"
	OpSetProperty    OpKind = "SET_PROPERTY"
	OpRemoveProperty OpKind = "REMOVE_PROPERTY"
	OpReparent       OpKind = "REPARENT"
)

// SceneOp is one typed scene mutation. Which fields are meaningful depends on
// Kind; use the constructors below.
type SceneOp struct {
	Kind     OpKind `json:"op"`
	NodeID   uint64 `json:"node_id,omitempty"`
	ParentID uint64 `json:"parent_id,omitempty"`
	Name     string `json:"name,omitempty"`
	TypeID   string `json:"type_id,omitempty"`
	Key      string `json:"key,omitempty"`
	Value    string `json:"value,omitempty"`
	// Index is the insertion position for REPARENT; nil appends.
	Index *int `json:"index,omitempty"`
}

func CreateNode(parentID uint64, name, typeID string) SceneOp {
	return SceneOp{Kind: OpCreateNode, ParentID: parentID, Name: name, TypeID: typeID}
}

func QueueFree(nodeID uint64) SceneOp {
	return SceneOp{Kind: OpQueueFree, NodeID: nodeID}
}

func Rename(nodeID uint64, name string) SceneOp {
	return SceneOp{Kind: OpRename, NodeID: nodeID, Name: name}
}

func SetProperty(nodeID uint64, key, value string) SceneOp {
	return SceneOp{Kind: OpSetProperty, NodeID: nodeID, Key: key, Value: value}
}

func SetFloat(nodeID uint64, key string, v float32) SceneOp {
	return SetProperty(nodeID, key, FormatFloat(v))
}

func SetInt(nodeID uint64, key string, v int) SceneOp {
	return SetProperty(nodeID, key, strconv.Itoa(v))
}

func RemoveProperty(nodeID uint64, key string) SceneOp {
	return SceneOp{Kind: OpRemoveProperty, NodeID: nodeID, Key: key}
}

func Reparent(nodeID, newParentID uint64, index *int) SceneOp {
	return SceneOp{Kind: OpReparent, NodeID: nodeID, ParentID: newParentID, Index: index}
}

// TargetID is the node a result for this op is reported against: the parent
// for CREATE_NODE, the node itself otherwise.
func (op SceneOp) TargetID() uint64 {
	if op.Kind == OpCreateNode {
		return op.ParentID
	}
	return op.NodeID
}

// FormatFloat renders a float32 property value so it parses back to the
// same float32.
func FormatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}

type SceneOpBatch struct {
	BatchID uint64    `json:"batch_id"`
	Atomic  bool      `json:"atomic"`
	Ops     []SceneOp `json:"ops"`
}

// SCENE_OP_BATCH (client -> server)
type SceneOpBatchMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SceneOpBatch
}

func NewSceneOpBatch(b SceneOpBatch) *SceneOpBatchMsg {
	if b.Ops == nil {
		b.Ops = []SceneOp{}
	}
	return &SceneOpBatchMsg{Type: TypeSceneOpBatch, ProtocolVersion: Version, SceneOpBatch: b}
}

type SceneOpResult struct {
	TargetID  uint64 `json:"target_id"`
	CreatedID uint64 `json:"created_id,omitempty"`
	OK        bool   `json:"ok"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

func OKResult(target uint64) SceneOpResult {
	return SceneOpResult{TargetID: target, OK: true}
}

func FailResult(target uint64, code, msg string) SceneOpResult {
	return SceneOpResult{TargetID: target, Code: code, Message: msg}
}

// SceneOpAck answers exactly one batch with one result per op, in op order.
type SceneOpAck struct {
	BatchID  uint64          `json:"batch_id"`
	Revision uint64          `json:"revision"`
	Results  []SceneOpResult `json:"results"`
}

// ResultsFor returns the results addressed to nodeID.
func (a SceneOpAck) ResultsFor(nodeID uint64) []SceneOpResult {
	var out []SceneOpResult
	for _, r := range a.Results {
		if r.TargetID == nodeID {
			out = append(out, r)
		}
	}
	return out
}

// SCENE_OP_ACK (server -> batch sender)
type SceneOpAckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SceneOpAck
}

func NewSceneOpAck(a SceneOpAck) *SceneOpAckMsg {
	if a.Results == nil {
		a.Results = []SceneOpResult{}
	}
	return &SceneOpAckMsg{Type: TypeSceneOpAck, ProtocolVersion: Version, SceneOpAck: a}
}

// ComposeBatchID packs an owner in the high 32 bits and a sequence in the low 32.
func ComposeBatchID(owner, seq uint32) uint64 {
	return uint64(owner)<<32 | uint64(seq)
}

func SplitBatchID(id uint64) (owner, seq uint32) {
	return uint32(id >> 32), uint32(id)
}

// ServerBatchID identifies batches the server issues on its own behalf.
func ServerBatchID(tick, nodeID uint64) uint64 {
	return tick<<32 ^ nodeID
}

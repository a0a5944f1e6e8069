package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

const Version = "1.0"

// Message types.
const (
	TypeHello        = "HELLO"
	TypeWelcome      = "WELCOME"
	TypeInput        = "INPUT"
	TypeRuntimeState = "RUNTIME_STATE"
	TypeSceneOpBatch = "SCENE_OP_BATCH"
	TypeSceneOpAck   = "SCENE_OP_ACK"
	TypeBlockDelta   = "BLOCK_DELTA"
	TypeError        = "ERROR"
)

var (
	ErrEmptyMessage = errors.New("protocol: empty message")
	ErrUnknownType  = errors.New("protocol: unknown message type")
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// Message is the closed set of wire messages. Handlers switch over the
// concrete pointer types:
//
//	switch m := msg.(type) {
//	case *protocol.RuntimeStateMsg:
//	case *protocol.SceneOpAckMsg:
//	...
//	}
type Message interface {
	MessageType() string
	message()
}

func (*HelloMsg) MessageType() string        { return TypeHello }
func (*WelcomeMsg) MessageType() string      { return TypeWelcome }
func (*InputMsg) MessageType() string        { return TypeInput }
func (*RuntimeStateMsg) MessageType() string { return TypeRuntimeState }
func (*SceneOpBatchMsg) MessageType() string { return TypeSceneOpBatch }
func (*SceneOpAckMsg) MessageType() string   { return TypeSceneOpAck }
func (*BlockDeltaMsg) MessageType() string   { return TypeBlockDelta }
func (*ErrorMsg) MessageType() string        { return TypeError }

func (*HelloMsg) message()        {}
func (*WelcomeMsg) message()      {}
func (*InputMsg) message()        {}
func (*RuntimeStateMsg) message() {}
func (*SceneOpBatchMsg) message() {}
func (*SceneOpAckMsg) message()   {}
func (*BlockDeltaMsg) message()   {}
func (*ErrorMsg) message()        {}

// Decode parses one JSON frame into its concrete message type.
func Decode(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, ErrEmptyMessage
	}
	base, err := DecodeBase(b)
	if err != nil {
		return nil, fmt.Errorf("decode base: %w", err)
	}
	var m Message
	switch base.Type {
	case TypeHello:
		m = &HelloMsg{}
	case TypeWelcome:
		m = &WelcomeMsg{}
	case TypeInput:
		m = &InputMsg{}
	case TypeRuntimeState:
		m = &RuntimeStateMsg{}
	case TypeSceneOpBatch:
		m = &SceneOpBatchMsg{}
	case TypeSceneOpAck:
		m = &SceneOpAckMsg{}
	case TypeBlockDelta:
		m = &BlockDeltaMsg{}
	case TypeError:
		m = &ErrorMsg{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, base.Type)
	}
	if err := json.Unmarshal(b, m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", base.Type, err)
	}
	return m, nil
}

func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, ErrEmptyMessage
	}
	return json.Marshal(m)
}

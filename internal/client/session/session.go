package session

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"voxelscene.dev/internal/client/ghost"
	"voxelscene.dev/internal/client/predict"
	"voxelscene.dev/internal/csg"
	"voxelscene.dev/internal/protocol"
)

var ErrClosed = errors.New("session: closed")

// Transport is the send side of the connection.
type Transport interface {
	Send(protocol.Message) error
}

// AckListener receives every SCENE_OP_ACK. Listeners filter results by the
// target ids they track; batch ids are not used for matching.
type AckListener interface {
	OnAck(now time.Time, ack protocol.SceneOpAck)
}

type AckListenerFunc func(now time.Time, ack protocol.SceneOpAck)

func (f AckListenerFunc) OnAck(now time.Time, ack protocol.SceneOpAck) { f(now, ack) }

// Renderer is notified about block regions that need a redraw.
type Renderer interface {
	InvalidateRegion(csg.Bounds)
}

type Config struct {
	Movement predict.Config
	Edit     ghost.Config
}

// Session ties one connection to its predictors. Everything except Close runs
// on the client frame goroutine.
type Session struct {
	out      Transport
	inbox    <-chan protocol.Message
	renderer Renderer
	log      *zap.Logger

	welcome *protocol.WelcomeMsg
	seq     uint32

	Blocks   *BlockCache
	Movement *predict.Predictor
	Edit     *ghost.Predictor

	listeners []AckListener
	lastError *protocol.ErrorMsg

	closeOnce sync.Once
	closed    chan struct{}
}

func New(cfg Config, out Transport, inbox <-chan protocol.Message, input predict.InputSource, renderer Renderer, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Session{
		out:      out,
		inbox:    inbox,
		renderer: renderer,
		log:      log,
		Blocks:   NewBlockCache(),
		closed:   make(chan struct{}),
	}
	s.Movement = predict.New(cfg.Movement, input, s, log.Named("predict"))
	var inval ghost.RegionInvalidator
	if renderer != nil {
		inval = renderer
	}
	s.Edit = ghost.New(cfg.Edit, s.Blocks, s, inval, log.Named("ghost"))
	s.listeners = []AckListener{s.Edit}
	return s
}

func (s *Session) ClientID() uint32 {
	if s.welcome == nil {
		return 0
	}
	return s.welcome.ClientID
}

func (s *Session) Welcome() (protocol.WelcomeMsg, bool) {
	if s.welcome == nil {
		return protocol.WelcomeMsg{}, false
	}
	return *s.welcome, true
}

func (s *Session) LastError() (protocol.ErrorMsg, bool) {
	if s.lastError == nil {
		return protocol.ErrorMsg{}, false
	}
	return *s.lastError, true
}

// AddAckListener registers another consumer of acks, e.g. an editor panel
// waiting on a rename it sent.
func (s *Session) AddAckListener(l AckListener) {
	s.listeners = append(s.listeners, l)
}

// SendInput implements predict.InputSender.
func (s *Session) SendInput(in protocol.PlayerInput) error {
	if s.isClosed() {
		return ErrClosed
	}
	return s.out.Send(protocol.NewInput(in))
}

// SendBatch implements ghost.BatchSender. Batch ids combine the client id and
// a per-session sequence so they are unique and increasing per client.
func (s *Session) SendBatch(ops []protocol.SceneOp, atomic bool) (uint64, error) {
	if s.isClosed() {
		return 0, ErrClosed
	}
	s.seq++
	id := protocol.ComposeBatchID(s.ClientID(), s.seq)
	if err := s.out.Send(protocol.NewSceneOpBatch(protocol.SceneOpBatch{BatchID: id, Atomic: atomic, Ops: ops})); err != nil {
		return 0, err
	}
	return id, nil
}

// Handle dispatches one inbound message.
func (s *Session) Handle(now time.Time, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.WelcomeMsg:
		w := *m
		s.welcome = &w
		s.log.Info("welcome", zap.Uint32("client_id", m.ClientID), zap.String("scene", m.SceneID), zap.Uint64("avatar", m.AvatarNodeID))
	case *protocol.RuntimeStateMsg:
		s.Movement.OnRuntimeState(m.RuntimeSnapshot)
	case *protocol.SceneOpAckMsg:
		for _, l := range s.listeners {
			l.OnAck(now, m.SceneOpAck)
		}
	case *protocol.BlockDeltaMsg:
		touched := s.Blocks.Apply(m)
		if s.renderer != nil && touched.Valid {
			s.renderer.InvalidateRegion(touched)
		}
	case *protocol.ErrorMsg:
		e := *m
		s.lastError = &e
		s.log.Warn("server error", zap.String("code", m.Code), zap.String("message", m.Message))
	case *protocol.HelloMsg, *protocol.InputMsg, *protocol.SceneOpBatchMsg:
		// client-to-server kinds; a server never sends them
	case nil:
	default:
		s.log.Debug("unhandled message", zap.String("type", msg.MessageType()))
	}
}

// Frame runs one client frame: drain the inbox, advance prediction, send
// input if due, and poll the edit predictor.
func (s *Session) Frame(now time.Time) error {
	for drained := false; !drained; {
		select {
		case m, ok := <-s.inbox:
			if !ok {
				s.OnDisconnect()
				return ErrClosed
			}
			s.Handle(now, m)
		default:
			drained = true
		}
	}
	s.Movement.UpdatePrediction(now)
	if _, err := s.Movement.SendInput(now); err != nil {
		return err
	}
	s.Edit.Poll(now)
	return nil
}

// OnDisconnect drops every piece of speculative state.
func (s *Session) OnDisconnect() {
	s.Movement.OnDisconnect()
	s.Edit.Cancel()
	s.Blocks.Reset()
	s.welcome = nil
	s.close()
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

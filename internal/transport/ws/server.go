package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voxelscene.dev/internal/protocol"
	"voxelscene.dev/internal/sim/world"
)

const (
	handshakeTimeout = 5 * time.Second
	writeTimeout     = 5 * time.Second
	readTimeout      = 60 * time.Second
	queueTimeout     = 5 * time.Second
)

type Server struct {
	world *world.World
	log   *zap.Logger

	reliableQueue int
	stateQueue    int

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := w.Config()
	s := &Server{
		world:         w,
		log:           logger,
		reliableQueue: cfg.ReliableQueue,
		stateQueue:    cfg.StateQueue,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		clientID, lanes := s.handshake(conn)
		if clientID == 0 {
			return
		}
		log := s.log.With(zap.Uint32("client", clientID))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine. The reliable lane always goes first.
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			for {
				select {
				case b := <-lanes.Reliable:
					if err := writeFrame(conn, b); err != nil {
						cancel()
						return
					}
					continue
				default:
				}
				var b []byte
				select {
				case <-ctx.Done():
					return
				case <-lanes.Done():
					log.Info("client dropped by world")
					_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "send queue full"), time.Now().Add(time.Second))
					return
				case b = <-lanes.Reliable:
				case b = <-lanes.State:
				}
				if err := writeFrame(conn, b); err != nil {
					cancel()
					return
				}
			}
		}()

		// Reader loop. Only INPUT and SCENE_OP_BATCH are accepted after the
		// handshake; anything else, including malformed frames, is ignored.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, raw, err := conn.ReadMessage()
			if err != nil {
				break
			}
			msg, err := protocol.Decode(raw)
			if err != nil {
				log.Debug("ignoring frame", zap.Error(err))
				continue
			}
			var env world.Envelope
			switch m := msg.(type) {
			case *protocol.InputMsg:
				if m.ProtocolVersion != protocol.Version {
					continue
				}
				env = world.InputEnvelope{ClientID: clientID, Input: m.PlayerInput}
			case *protocol.SceneOpBatchMsg:
				if m.ProtocolVersion != protocol.Version {
					continue
				}
				env = world.BatchEnvelope{ClientID: clientID, Batch: m.SceneOpBatch}
			default:
				continue
			}
			select {
			case s.world.Inbox() <- env:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}

		// Cleanup.
		cancel()
		wg.Wait()
		select {
		case s.world.Leave() <- clientID:
		case <-time.After(queueTimeout):
			log.Warn("leave not delivered")
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) (uint32, *world.Lanes) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return 0, nil
	}

	msg, err := protocol.Decode(raw)
	hello, ok := msg.(*protocol.HelloMsg)
	if err != nil || !ok {
		_ = writeMessage(conn, protocol.NewError(protocol.ErrProtoBadRequest, "expected HELLO"))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return 0, nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = writeMessage(conn, protocol.NewError(protocol.ErrProtoVersion, "unsupported protocol_version "+hello.ProtocolVersion))
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return 0, nil
	}
	name := hello.ClientName
	if name == "" {
		name = "client"
	}

	lanes := world.NewLanes(s.reliableQueue, s.stateQueue)
	respCh := make(chan world.JoinResponse, 1)
	req := world.JoinRequest{
		Name:      name,
		SessionID: uuid.NewString(),
		Lanes:     lanes,
		Resp:      respCh,
	}
	select {
	case s.world.Join() <- req:
	case <-time.After(queueTimeout):
		return 0, nil
	}
	select {
	case resp := <-respCh:
		s.log.Info("session started", zap.String("session", req.SessionID), zap.String("name", name), zap.Uint32("client", resp.Welcome.ClientID))
		return resp.Welcome.ClientID, lanes
	case <-time.After(queueTimeout):
		return 0, nil
	}
}

func writeMessage(conn *websocket.Conn, m protocol.Message) error {
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return writeFrame(conn, b)
}

func writeFrame(conn *websocket.Conn, b []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}

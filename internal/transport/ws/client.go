package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voxelscene.dev/internal/protocol"
)

var ErrConnClosed = errors.New("ws: connection closed")

// Conn is the client side of a session. Inbound messages are decoded on a
// reader goroutine and delivered through Inbox, which is closed when the
// connection ends.
type Conn struct {
	conn *websocket.Conn
	log  *zap.Logger

	inbox chan protocol.Message

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects and sends HELLO. The WELCOME arrives through Inbox like any
// other message.
func Dial(ctx context.Context, url, name string, log *zap.Logger) (*Conn, error) {
	if log == nil {
		log = zap.NewNop()
	}
	wsConn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		conn:   wsConn,
		log:    log,
		inbox:  make(chan protocol.Message, 256),
		closed: make(chan struct{}),
	}
	if err := c.Send(protocol.NewHello(name)); err != nil {
		wsConn.Close()
		return nil, err
	}
	go c.readLoop()
	return c, nil
}

func (c *Conn) Inbox() <-chan protocol.Message { return c.inbox }

// Send implements session.Transport.
func (c *Conn) Send(m protocol.Message) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeFrame(c.conn, b)
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.inbox)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.log.Debug("read loop ended", zap.Error(err))
			return
		}
		m, err := protocol.Decode(raw)
		if err != nil {
			c.log.Debug("ignoring frame", zap.Error(err))
			continue
		}
		select {
		case c.inbox <- m:
		case <-c.closed:
			return
		}
	}
}

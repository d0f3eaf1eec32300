package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"chatpresence/internal/transport"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be < pongWait
	maxMessageSize = 8192
)

var ErrClosed = errors.New("connection closed")

// outFrame is the envelope of every server to client frame.
type outFrame struct {
	Event string `json:"event"`
	Body  any    `json:"body,omitempty"`
}

// clientConn is the transport.Conn handed to the dispatcher. Send only
// queues; writePump owns the socket for writing.
type clientConn struct {
	id      string
	userID  string
	rawConn *websocket.Conn
	send    chan []byte

	closeOnce sync.Once
	done      chan struct{}
	mu        sync.Mutex
	reason    string
}

var _ transport.Conn = (*clientConn)(nil)

func newClientConn(rawConn *websocket.Conn, userID string, buffer int) *clientConn {
	return &clientConn{
		id:      uuid.NewString(),
		userID:  userID,
		rawConn: rawConn,
		send:    make(chan []byte, buffer),
		done:    make(chan struct{}),
	}
}

func (c *clientConn) ID() string { return c.id }

func (c *clientConn) Send(event string, body any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	data, err := json.Marshal(outFrame{Event: event, Body: body})
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	default:
		return transport.ErrBackpressure
	}
}

// Close asks writePump to flush what is queued, send a close frame and drop
// the socket. Safe to call more than once.
func (c *clientConn) Close(reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *clientConn) closeReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *clientConn) write(mt int, data []byte) error {
	_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.rawConn.WriteMessage(mt, data)
}

func (c *clientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.rawConn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				zap.L().Debug("ws.write", zap.String("conn_id", c.id), zap.Error(err))
				c.Close("write failed")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close("ping timeout")
				return
			}
		case <-c.done:
			c.flush()
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, c.closeReason())
			_ = c.write(websocket.CloseMessage, msg)
			return
		}
	}
}

func (c *clientConn) flush() {
	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

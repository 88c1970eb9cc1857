package session

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ClientConn is the slice of the client WebSocket the supervisor
// needs. Tests substitute a scripted fake.
type ClientConn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteJSON(v any) error
	Close() error
}

const clientWriteTimeout = 10 * time.Second

// wsConn wraps a gorilla connection with a write mutex so both pumps
// can push frames.
type wsConn struct {
	conn *websocket.Conn

	mu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// WrapConn adapts a gorilla connection to ClientConn.
func WrapConn(conn *websocket.Conn) ClientConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) ReadMessage() (int, []byte, error) {
	return c.conn.ReadMessage()
}

func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(clientWriteTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.mu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

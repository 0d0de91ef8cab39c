package hub

import (
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the minimal transport surface a session needs, so the state
// machine can be exercised against in-memory connections in tests.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Ping() error
	Close() error
}

// wsConn adapts a gorilla connection, owning its deadlines and limits.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	pongTimeout  time.Duration
}

func newWSConn(conn *websocket.Conn, writeTimeout, pongTimeout time.Duration, maxMessageSize int64) *wsConn {
	c := &wsConn{conn: conn, writeTimeout: writeTimeout, pongTimeout: pongTimeout}
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	return c
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Ping() error {
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

func (c *wsConn) Close() error {
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
	return c.conn.Close()
}

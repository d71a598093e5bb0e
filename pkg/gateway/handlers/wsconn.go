package handlers

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeWriteTimeout = 2 * time.Second

// wsConn adapts a gorilla websocket connection to the relay's transport
// interface. Writes are serialized because the egress task and the close
// path can race on the same connection.
type wsConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

// ReadBinary returns the next binary frame, skipping text and control
// frames. Clients sometimes send keepalive text frames between audio chunks.
func (c *wsConn) ReadBinary() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteBinary(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Close sends a close frame with the given code and reason, then tears down
// the underlying connection.
func (c *wsConn) Close(code int, reason string) error {
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(code, reason)
	err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
	c.writeMu.Unlock()

	if closeErr := c.conn.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("close websocket: %w", err)
	}
	return nil
}

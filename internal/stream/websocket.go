package stream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsCloseGrace = 2 * time.Second
	wsReadLimit  = 4096
)

// Upgrader accepts viewer WebSocket connections from any origin, matching
// the CORS policy of the HTTP API.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WSTransport writes each frame as one WebSocket text message.
type WSTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// NewWSTransport wraps an upgraded connection.
func NewWSTransport(conn *websocket.Conn, writeTimeout time.Duration) *WSTransport {
	return &WSTransport{conn: conn, writeTimeout: writeTimeout}
}

// WriteFrame sends frame with a per-message write deadline.
func (t *WSTransport) WriteFrame(frame []byte) error {
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Flush is a no-op; every message is sent on write.
func (t *WSTransport) Flush() error {
	return nil
}

// Name returns "ws".
func (t *WSTransport) Name() string {
	return "ws"
}

// ReadPump discards inbound messages until the viewer goes away, then calls
// cancel. Viewers never send data; the pump exists to process control frames
// and notice the close.
func (t *WSTransport) ReadPump(cancel context.CancelFunc) {
	defer cancel()

	t.conn.SetReadLimit(wsReadLimit)
	for {
		if _, _, err := t.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Close sends a normal close frame and closes the connection.
func (t *WSTransport) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsCloseGrace))
	return t.conn.Close()
}

package realtime

import (
	"net"
	"sync"
	"time"

	"github.com/aeolun/chorus/pkg/protocol"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// SafeConn wraps a websocket connection with write synchronization.
//
// gorilla/websocket supports one concurrent reader and one concurrent writer.
// Fan-out, request replies and keepalive pings all write, so every write goes
// through the mutex held here.
type SafeConn struct {
	conn *websocket.Conn
	mu   sync.Mutex // Protects writes to conn
}

// NewSafeConn wraps a websocket connection with write synchronization
func NewSafeConn(conn *websocket.Conn) *SafeConn {
	return &SafeConn{conn: conn}
}

// WriteEnvelope encodes and sends one envelope as a text frame
func (sc *SafeConn) WriteEnvelope(env protocol.Envelope) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return sc.conn.WriteJSON(env)
}

// WritePing sends a keepalive ping
func (sc *SafeConn) WritePing() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// WriteClose sends a close frame with a normal closure code
func (sc *SafeConn) WriteClose() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	return sc.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// ReadEnvelope reads the next envelope. Reads don't need write synchronization.
func (sc *SafeConn) ReadEnvelope() (protocol.Envelope, error) {
	var env protocol.Envelope
	err := sc.conn.ReadJSON(&env)
	return env, err
}

// Close closes the underlying connection
func (sc *SafeConn) Close() error {
	return sc.conn.Close()
}

// RemoteAddr returns the remote network address
func (sc *SafeConn) RemoteAddr() net.Addr {
	return sc.conn.RemoteAddr()
}

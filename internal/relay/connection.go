package relay

import (
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection is a single WebSocket client connection. The write mutex
// serializes outbound frames; the state mutex guards the session fields that
// the read loop, the heartbeat, and fan-out goroutines all touch.
type Connection struct {
	ID        string   // connection ID (UUID), assigned at upgrade
	Conn      net.Conn // underlying TCP connection
	CreatedAt time.Time

	writeMu      sync.Mutex
	writeTimeout time.Duration

	mu       sync.Mutex
	handle   string    // bound account handle; empty until the join succeeds
	lastPing time.Time // last frame of any kind received from the client
}

// Send writes a WebSocket text frame to this connection. It implements the
// presence directory's Conn interface, so fan-out writes land here directly.
func (c *Connection) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a protocol-level ping frame (opcode 0x9). Browsers answer
// with a pong automatically; the read loop counts it as activity.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close closes the underlying network connection, which also unblocks the
// read loop.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// SessionID returns the connection ID.
func (c *Connection) SessionID() string {
	return c.ID
}

// Handle returns the bound account handle, or "" before a successful join.
func (c *Connection) Handle() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

func (c *Connection) bind(handle string) {
	c.mu.Lock()
	c.handle = handle
	c.mu.Unlock()
}

// touch records client activity for the heartbeat monitor.
func (c *Connection) touch() {
	c.mu.Lock()
	c.lastPing = time.Now()
	c.mu.Unlock()
}

// LastActivity returns the time of the last frame received from the client.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPing
}

// connManager is a thread-safe registry of live connections keyed by
// connection ID.
type connManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection
}

func newConnManager() *connManager {
	return &connManager{byID: make(map[string]*Connection)}
}

func (cm *connManager) add(c *Connection) {
	cm.mu.Lock()
	cm.byID[c.ID] = c
	cm.mu.Unlock()
}

// remove deletes and closes the connection. Returns false if it was already
// gone, so racing removers (read error vs heartbeat timeout) clean up once.
func (cm *connManager) remove(id string) bool {
	cm.mu.Lock()
	c, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
	}
	cm.mu.Unlock()

	if ok {
		c.Close()
	}
	return ok
}

func (cm *connManager) count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

func (cm *connManager) all() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, c := range cm.byID {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()
	return conns
}

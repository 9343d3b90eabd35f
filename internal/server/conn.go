package server

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/caspian-yx/socket-chat-app/internal/protocol"
)

const (
	// Time allowed to write a frame to the peer
	writeWait = 10 * time.Second
)

// Conn wraps a control-channel TCP connection. Reads happen on the
// connection's own goroutine; writes are serialized by mu so event fan-out
// from other goroutines never interleaves frames.
type Conn struct {
	ID     string
	netc   net.Conn
	reader *bufio.Reader

	mu        sync.Mutex
	closeOnce sync.Once

	// lastSeen is unix seconds of the most recent inbound frame.
	lastSeen atomic.Int64

	identity struct {
		sync.RWMutex
		userID string
		token  string
	}
}

func NewConn(netc net.Conn) *Conn {
	c := &Conn{
		ID:     uuid.NewString(),
		netc:   netc,
		reader: bufio.NewReaderSize(netc, 32*1024),
	}
	c.Touch()
	return c
}

func (c *Conn) RemoteAddr() string {
	return c.netc.RemoteAddr().String()
}

// ReadFrame blocks until a full delimited frame arrives.
func (c *Conn) ReadFrame() ([]byte, error) {
	return protocol.ReadFrame(c.reader)
}

// WriteEnvelope encodes and writes one frame under the write lock.
func (c *Conn) WriteEnvelope(env *protocol.Envelope) error {
	frame, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	return c.WriteFrame(frame)
}

// WriteFrame writes already-encoded frame bytes under the write lock. Used
// for replaying queued frames without a decode round trip.
func (c *Conn) WriteFrame(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.netc.SetWriteDeadline(time.Now().Add(writeWait))
	_, err := c.netc.Write(frame)
	return err
}

// Touch records inbound activity for idle eviction.
func (c *Conn) Touch() {
	c.lastSeen.Store(time.Now().Unix())
}

func (c *Conn) LastSeen() time.Time {
	return time.Unix(c.lastSeen.Load(), 0)
}

// Bind attaches an authenticated identity to the connection.
func (c *Conn) Bind(userID, token string) {
	c.identity.Lock()
	c.identity.userID = userID
	c.identity.token = token
	c.identity.Unlock()
}

// Unbind clears the identity, returning the previous user id.
func (c *Conn) Unbind() string {
	c.identity.Lock()
	defer c.identity.Unlock()
	prev := c.identity.userID
	c.identity.userID = ""
	c.identity.token = ""
	return prev
}

func (c *Conn) UserID() string {
	c.identity.RLock()
	defer c.identity.RUnlock()
	return c.identity.userID
}

func (c *Conn) Token() string {
	c.identity.RLock()
	defer c.identity.RUnlock()
	return c.identity.token
}

// Authenticated reports whether a login has bound a user to this connection.
func (c *Conn) Authenticated() bool {
	return c.UserID() != ""
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.netc.Close()
	})
	return err
}

// Package filebridge implements the data channel: a second TCP listener
// that splices file bytes from a transfer's sender to its receiver. The
// server never interprets the bytes; chunk framing is end-to-end between
// the clients.
package filebridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/caspian-yx/socket-chat-app/internal/metrics"
)

const (
	// handshakeWait bounds how long a connection may take to identify
	// itself before it is dropped.
	handshakeWait = 30 * time.Second

	// maxHandshakeSize bounds the identification line.
	maxHandshakeSize = 4 * 1024

	// spliceBufferSize is the copy buffer for sender to receiver.
	spliceBufferSize = 64 * 1024
)

// Roles a data-channel connection may claim.
const (
	RoleSender   = "sender"
	RoleReceiver = "receiver"
)

// handshake is the identification line each side writes after connecting.
type handshake struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	UserID    string `json:"user_id"`
}

type session struct {
	senderID   string
	receiverID string
	sender     net.Conn
	receiver   net.Conn
	// senderExtra holds stream bytes the sender's handshake read buffered
	// past the identification line.
	senderExtra []byte
	started     bool
}

// Bridge pairs the two sides of an accepted transfer and pipes bytes
// between them. Sessions must be prepared by the signaling layer before
// either side connects.
type Bridge struct {
	addr           string
	advertisedHost string
	port           int

	onComplete func(sessionID string)
	onError    func(sessionID string, err error)

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	sessions map[string]*session
	wg       sync.WaitGroup
}

func New(addr, advertisedHost string, port int) *Bridge {
	return &Bridge{
		addr:           addr,
		advertisedHost: advertisedHost,
		port:           port,
		sessions:       make(map[string]*session),
	}
}

// SetCallbacks must be called before ListenAndServe. Each session fires at
// most one callback.
func (b *Bridge) SetCallbacks(onComplete func(sessionID string), onError func(sessionID string, err error)) {
	b.onComplete = onComplete
	b.onError = onError
}

func (b *Bridge) AdvertisedHost() string {
	return b.advertisedHost
}

func (b *Bridge) Port() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.port
}

// PrepareSession registers an accepted transfer so its participants may
// connect. Repeated prepares for the same id reset the pairing.
func (b *Bridge) PrepareSession(sessionID, senderID, receiverID string) {
	b.mu.Lock()
	b.sessions[sessionID] = &session{senderID: senderID, receiverID: receiverID}
	b.mu.Unlock()
	metrics.FileBridgeSessions.Set(float64(b.sessionCount()))
	slog.Debug("bridge session prepared", "component", "filebridge",
		"session_id", sessionID, "sender", senderID, "receiver", receiverID)
}

// DropSession forgets a session that will no longer transfer, closing any
// half-connected sockets.
func (b *Bridge) DropSession(sessionID string) {
	b.mu.Lock()
	sess, ok := b.sessions[sessionID]
	if ok && !sess.started {
		delete(b.sessions, sessionID)
	}
	b.mu.Unlock()
	if ok && !sess.started {
		if sess.sender != nil {
			sess.sender.Close()
		}
		if sess.receiver != nil {
			sess.receiver.Close()
		}
		metrics.FileBridgeSessions.Set(float64(b.sessionCount()))
	}
}

// ListenAndServe binds the data port and accepts connections until ctx is
// cancelled or Shutdown is called.
func (b *Bridge) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", b.addr)
	if err != nil {
		return err
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ln.Close()
		return net.ErrClosed
	}
	b.listener = ln
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		b.port = tcpAddr.Port
	}
	b.mu.Unlock()

	slog.Info("data channel listening", "component", "filebridge", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		b.Shutdown()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			b.mu.Lock()
			closed := b.closed
			b.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("accept failed", "component", "filebridge", "error", err)
			continue
		}
		b.wg.Add(1)
		go b.handleConn(conn)
	}
}

func (b *Bridge) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.wg.Wait()
		return
	}
	b.closed = true
	ln := b.listener
	var conns []net.Conn
	for _, sess := range b.sessions {
		if sess.sender != nil {
			conns = append(conns, sess.sender)
		}
		if sess.receiver != nil {
			conns = append(conns, sess.receiver)
		}
	}
	b.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, conn := range conns {
		conn.Close()
	}
	b.wg.Wait()
	slog.Info("data channel stopped", "component", "filebridge")
}

// handleConn reads the identification line, validates it against a
// prepared session and attaches the socket. The second valid side starts
// the splice.
func (b *Bridge) handleConn(conn net.Conn) {
	defer b.wg.Done()

	conn.SetReadDeadline(time.Now().Add(handshakeWait))
	reader := bufio.NewReaderSize(conn, maxHandshakeSize)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		slog.Debug("handshake read failed", "component", "filebridge",
			"remote", conn.RemoteAddr().String(), "error", err)
		conn.Close()
		return
	}

	var hs handshake
	if err := json.Unmarshal(line, &hs); err != nil {
		slog.Warn("malformed handshake", "component", "filebridge",
			"remote", conn.RemoteAddr().String(), "error", err)
		conn.Close()
		return
	}

	b.mu.Lock()
	sess, ok := b.sessions[hs.SessionID]
	if !ok {
		b.mu.Unlock()
		slog.Warn("handshake for unknown session", "component", "filebridge",
			"session_id", hs.SessionID, "remote", conn.RemoteAddr().String())
		conn.Close()
		return
	}

	switch {
	case hs.Role == RoleSender && hs.UserID == sess.senderID && sess.sender == nil:
		sess.sender = conn
		if n := reader.Buffered(); n > 0 {
			extra, _ := reader.Peek(n)
			sess.senderExtra = append([]byte(nil), extra...)
		}
	case hs.Role == RoleReceiver && hs.UserID == sess.receiverID && sess.receiver == nil:
		sess.receiver = conn
	default:
		b.mu.Unlock()
		slog.Warn("handshake identity rejected", "component", "filebridge",
			"session_id", hs.SessionID, "role", hs.Role, "user_id", hs.UserID)
		conn.Close()
		return
	}

	ready := sess.sender != nil && sess.receiver != nil && !sess.started
	if ready {
		sess.started = true
	}
	b.mu.Unlock()

	conn.SetReadDeadline(time.Time{})
	slog.Debug("bridge side connected", "component", "filebridge",
		"session_id", hs.SessionID, "role", hs.Role, "user_id", hs.UserID)

	if ready {
		src := io.MultiReader(bytes.NewReader(sess.senderExtra), sess.sender)
		b.wg.Add(1)
		go b.splice(hs.SessionID, sess, src)
	}
}

// splice pipes sender bytes to the receiver until EOF, then reports the
// outcome exactly once and retires the session.
func (b *Bridge) splice(sessionID string, sess *session, src io.Reader) {
	defer b.wg.Done()
	defer func() {
		sess.sender.Close()
		sess.receiver.Close()
		b.mu.Lock()
		delete(b.sessions, sessionID)
		b.mu.Unlock()
		metrics.FileBridgeSessions.Set(float64(b.sessionCount()))
	}()

	buf := make([]byte, spliceBufferSize)
	written, err := io.CopyBuffer(sess.receiver, src, buf)
	metrics.FileBridgeBytes.Add(float64(written))

	if err != nil {
		slog.Warn("splice failed", "component", "filebridge",
			"session_id", sessionID, "bytes", written, "error", err)
		if b.onError != nil {
			b.onError(sessionID, fmt.Errorf("splice after %d bytes: %w", written, err))
		}
		return
	}

	slog.Info("splice complete", "component", "filebridge",
		"session_id", sessionID, "bytes", written)
	if b.onComplete != nil {
		b.onComplete(sessionID)
	}
}

func (b *Bridge) sessionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

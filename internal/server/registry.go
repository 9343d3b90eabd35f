package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/caspian-yx/socket-chat-app/internal/protocol"
)

// Registry is the authoritative in-memory view of live connections. It keeps
// two indexes: every open connection by id, and the single connection bound
// to each authenticated user.
type Registry struct {
	mu        sync.RWMutex
	conns     map[string]*Conn
	userConns map[string]*Conn
}

func NewRegistry() *Registry {
	return &Registry{
		conns:     make(map[string]*Conn),
		userConns: make(map[string]*Conn),
	}
}

func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	r.conns[c.ID] = c
	r.mu.Unlock()
}

// Remove drops the connection from both indexes. The user index entry is
// removed only if it still points at this connection, so a displaced
// connection cannot evict its successor.
func (r *Registry) Remove(c *Conn) {
	r.mu.Lock()
	delete(r.conns, c.ID)
	if userID := c.UserID(); userID != "" {
		if bound, ok := r.userConns[userID]; ok && bound == c {
			delete(r.userConns, userID)
		}
	}
	r.mu.Unlock()
}

// BindUser makes c the user's connection, returning the displaced one when a
// previous login is still attached. Last login wins.
func (r *Registry) BindUser(userID string, c *Conn) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	var displaced *Conn
	if old, ok := r.userConns[userID]; ok && old != c {
		displaced = old
	}
	r.userConns[userID] = c
	return displaced
}

// UnbindUser detaches the user if c still holds the binding.
func (r *Registry) UnbindUser(userID string, c *Conn) {
	r.mu.Lock()
	if bound, ok := r.userConns[userID]; ok && bound == c {
		delete(r.userConns, userID)
	}
	r.mu.Unlock()
}

func (r *Registry) ConnForUser(userID string) (*Conn, bool) {
	r.mu.RLock()
	c, ok := r.userConns[userID]
	r.mu.RUnlock()
	return c, ok
}

func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.ConnForUser(userID)
	return ok
}

// SendToUser delivers one envelope to the user's live connection. Returns
// false when the user is offline or the write fails; callers fall back to
// the offline queue.
func (r *Registry) SendToUser(userID string, env *protocol.Envelope) bool {
	c, ok := r.ConnForUser(userID)
	if !ok {
		return false
	}
	if err := c.WriteEnvelope(env); err != nil {
		slog.Warn("delivery failed", "component", "registry", "user_id", userID, "error", err)
		return false
	}
	return true
}

// SendFrameToUser delivers pre-encoded frame bytes to the user's live
// connection.
func (r *Registry) SendFrameToUser(userID string, frame []byte) bool {
	c, ok := r.ConnForUser(userID)
	if !ok {
		return false
	}
	if err := c.WriteFrame(frame); err != nil {
		slog.Warn("delivery failed", "component", "registry", "user_id", userID, "error", err)
		return false
	}
	return true
}

// OnlineUsers snapshots the currently bound user ids.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]string, 0, len(r.userConns))
	for userID := range r.userConns {
		users = append(users, userID)
	}
	return users
}

func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userConns)
}

// Broadcast sends env to every bound user except those in exclude.
func (r *Registry) Broadcast(env *protocol.Envelope, exclude ...string) {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	r.mu.RLock()
	targets := make([]*Conn, 0, len(r.userConns))
	for userID, c := range r.userConns {
		if _, ok := skip[userID]; ok {
			continue
		}
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if err := c.WriteEnvelope(env); err != nil {
			slog.Warn("broadcast delivery failed", "component", "registry",
				"user_id", c.UserID(), "error", err)
		}
	}
}

// IdleConns returns authenticated connections whose last inbound frame is at
// or before cutoff.
func (r *Registry) IdleConns(cutoff time.Time) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var idle []*Conn
	for _, c := range r.userConns {
		if !c.LastSeen().After(cutoff) {
			idle = append(idle, c)
		}
	}
	return idle
}

package service

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"github.com/caspian-yx/socket-chat-app/internal/db"
	"github.com/caspian-yx/socket-chat-app/internal/metrics"
	"github.com/caspian-yx/socket-chat-app/internal/models"
	"github.com/caspian-yx/socket-chat-app/internal/protocol"
	"github.com/caspian-yx/socket-chat-app/internal/server"
	"github.com/caspian-yx/socket-chat-app/internal/worker"
)

// AuthService handles account registration and the session lifecycle:
// login, logout, refresh, idle eviction and disconnect fallout.
type AuthService struct {
	users      *db.UserRepository
	sessions   *db.SessionRepository
	presence   *db.PresenceRepository
	registry   *server.Registry
	dispatcher *worker.OfflineDispatcher
	sessionTTL time.Duration

	// onDisconnect runs extra teardown (voice hangup) for users that drop
	// without logging out.
	onDisconnect func(userID string)
}

func NewAuthService(
	users *db.UserRepository,
	sessions *db.SessionRepository,
	presence *db.PresenceRepository,
	registry *server.Registry,
	dispatcher *worker.OfflineDispatcher,
	sessionTTL time.Duration,
) *AuthService {
	return &AuthService{
		users:      users,
		sessions:   sessions,
		presence:   presence,
		registry:   registry,
		dispatcher: dispatcher,
		sessionTTL: sessionTTL,
	}
}

func (s *AuthService) SetDisconnectTeardown(fn func(userID string)) {
	s.onDisconnect = fn
}

func (s *AuthService) RegisterHandlers(router *server.Router) {
	router.Register(protocol.CmdAuthRegister, s.handleRegister)
	router.Register(protocol.CmdAuthLogin, s.handleLogin)
	router.Register(protocol.CmdAuthLogout, s.handleLogout)
	router.Register(protocol.CmdAuthRefresh, s.handleRefresh)
}

// handleRegister creates the account only. No token is issued and presence
// is untouched; the client logs in afterwards.
func (s *AuthService) handleRegister(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	var creds protocol.CredentialsPayload
	if err := req.DecodePayload(&creds); err != nil {
		return nil, err
	}

	user, err := s.users.Create(creds.Username, creds.Password)
	if errors.Is(err, db.ErrDuplicate) {
		return nil, protocol.NewError(protocol.StatusConflict, protocol.ErrCodeUserExists, "user already exists")
	}
	if err != nil {
		return nil, err
	}

	slog.Info("user registered", "component", "auth", "user_id", user.ID)
	return protocol.NewResponse(req, protocol.CmdAuthRegisterAck, protocol.AuthAckPayload{
		Status: int(protocol.StatusOK),
		UserID: user.ID,
	}), nil
}

func (s *AuthService) handleLogin(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	var creds protocol.CredentialsPayload
	if err := req.DecodePayload(&creds); err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(creds.Username)
	if errors.Is(err, db.ErrNotFound) {
		return nil, protocol.Unauthorized("invalid credentials")
	}
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(user.PasswordHash), []byte(creds.Password)) != 1 {
		return nil, protocol.Unauthorized("invalid credentials")
	}

	session, err := s.sessions.Create(user.ID, s.sessionTTL)
	if err != nil {
		return nil, err
	}

	s.bindSession(c, user.ID, session.Token)

	slog.Info("user logged in", "component", "auth",
		"user_id", user.ID, "conn_id", c.ID, "remote", c.RemoteAddr())

	return protocol.NewResponse(req, protocol.CmdAuthLoginAck, protocol.AuthAckPayload{
		Status:    int(protocol.StatusOK),
		Token:     session.Token,
		UserID:    user.ID,
		ExpiresIn: int(s.sessionTTL / time.Second),
	}), nil
}

// bindSession attaches the session to the connection, displacing any
// previous login, flips presence and schedules the offline queue drain.
func (s *AuthService) bindSession(c *server.Conn, userID, token string) {
	// A login under a new identity implicitly logs the old one out: the
	// reverse index must never hold two users for one connection.
	if prior := c.UserID(); prior != "" && prior != userID {
		if old := c.Token(); old != "" {
			if err := s.sessions.Delete(old); err != nil && !errors.Is(err, db.ErrNotFound) {
				slog.Error("stale session delete failed", "component", "auth", "user_id", prior, "error", err)
			}
		}
		s.registry.UnbindUser(prior, c)
		s.markOffline(prior)
		slog.Info("identity switched", "component", "auth",
			"old_user", prior, "user_id", userID, "conn_id", c.ID)
	}

	c.Bind(userID, token)
	if displaced := s.registry.BindUser(userID, c); displaced != nil {
		slog.Info("displacing previous login", "component", "auth",
			"user_id", userID, "old_conn", displaced.ID)
		displaced.Close()
	}

	if err := s.presence.Set(userID, models.PresenceOnline); err != nil {
		slog.Error("presence update failed", "component", "auth", "user_id", userID, "error", err)
	}
	metrics.UsersOnline.Set(float64(s.registry.OnlineCount()))

	s.dispatcher.NotifyOnline(userID)
	s.broadcastPresence(userID, models.PresenceOnline)
}

func (s *AuthService) handleLogout(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	userID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}

	if token := c.Token(); token != "" {
		if err := s.sessions.Delete(token); err != nil && !errors.Is(err, db.ErrNotFound) {
			slog.Error("session delete failed", "component", "auth", "user_id", userID, "error", err)
		}
	}

	s.registry.UnbindUser(userID, c)
	c.Unbind()
	s.markOffline(userID)

	// Logout ends the user's calls the same way a dropped connection does;
	// the disconnect hook cannot, since the identity is already unbound.
	if s.onDisconnect != nil {
		s.onDisconnect(userID)
	}

	slog.Info("user logged out", "component", "auth", "user_id", userID)
	return protocol.NewResponse(req, protocol.CmdAuthLogout, protocol.StatusAckPayload{
		Status: int(protocol.StatusOK),
	}), nil
}

// handleRefresh rotates the session token. The old token is invalidated and
// the connection is re-bound, so the ack always reflects the new session.
func (s *AuthService) handleRefresh(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	userID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.Create(userID, s.sessionTTL)
	if err != nil {
		return nil, err
	}
	if old := c.Token(); old != "" && old != session.Token {
		if err := s.sessions.Delete(old); err != nil && !errors.Is(err, db.ErrNotFound) {
			slog.Error("stale session delete failed", "component", "auth", "user_id", userID, "error", err)
		}
	}

	s.bindSession(c, userID, session.Token)

	slog.Info("session refreshed", "component", "auth", "user_id", userID)
	return protocol.NewResponse(req, protocol.CmdAuthRefreshAck, protocol.AuthAckPayload{
		Status:    int(protocol.StatusOK),
		Token:     session.Token,
		UserID:    userID,
		ExpiresIn: int(s.sessionTTL / time.Second),
	}), nil
}

// HandleDisconnect runs from the server's disconnect hook. A connection
// displaced by a newer login leaves the user online, so only the final
// connection flips presence.
func (s *AuthService) HandleDisconnect(c *server.Conn) {
	userID := c.UserID()
	if userID == "" || s.registry.IsOnline(userID) {
		return
	}

	slog.Info("user disconnected", "component", "auth", "user_id", userID)
	s.markOffline(userID)
	if s.onDisconnect != nil {
		s.onDisconnect(userID)
	}
}

// EvictIdle closes an idle connection; the disconnect hook completes the
// presence and call teardown.
func (s *AuthService) EvictIdle(c *server.Conn) {
	c.Close()
}

func (s *AuthService) markOffline(userID string) {
	if err := s.presence.Set(userID, models.PresenceOffline); err != nil {
		slog.Error("presence update failed", "component", "auth", "user_id", userID, "error", err)
	}
	metrics.UsersOnline.Set(float64(s.registry.OnlineCount()))
	s.broadcastPresence(userID, models.PresenceOffline)
}

func (s *AuthService) broadcastPresence(userID, state string) {
	event := protocol.NewEvent(protocol.CmdPresenceEvent, protocol.PresenceEventPayload{
		UserID:   userID,
		State:    state,
		LastSeen: time.Now().Unix(),
	})
	s.registry.Broadcast(event, userID)
}

package service

import (
	"log/slog"

	"github.com/caspian-yx/socket-chat-app/internal/db"
	"github.com/caspian-yx/socket-chat-app/internal/models"
	"github.com/caspian-yx/socket-chat-app/internal/protocol"
	"github.com/caspian-yx/socket-chat-app/internal/server"
)

// PresenceService answers heartbeat, explicit state updates and the online
// roster. Liveness tracking itself happens in the read loop; heartbeat only
// needs to reach it.
type PresenceService struct {
	presence *db.PresenceRepository
	registry *server.Registry
}

func NewPresenceService(presence *db.PresenceRepository, registry *server.Registry) *PresenceService {
	return &PresenceService{presence: presence, registry: registry}
}

func (s *PresenceService) RegisterHandlers(router *server.Router) {
	router.Register(protocol.CmdPresenceHeartbeat, s.handleHeartbeat)
	router.Register(protocol.CmdPresenceUpdate, s.handleUpdate)
	router.Register(protocol.CmdPresenceList, s.handleList)
}

func (s *PresenceService) handleHeartbeat(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	if _, err := requireAuth(c); err != nil {
		return nil, err
	}
	return protocol.NewResponse(req, protocol.CmdPresenceHeartbeat, protocol.StatusAckPayload{
		Status: int(protocol.StatusOK),
	}), nil
}

func (s *PresenceService) handleUpdate(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	userID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}

	var payload protocol.PresenceUpdatePayload
	if err := req.DecodePayload(&payload); err != nil {
		return nil, err
	}

	if err := s.presence.Set(userID, payload.State); err != nil {
		return nil, err
	}
	slog.Debug("presence updated", "component", "presence", "user_id", userID, "state", payload.State)

	event := protocol.NewEvent(protocol.CmdPresenceEvent, protocol.PresenceEventPayload{
		UserID: userID,
		State:  payload.State,
	})
	s.registry.Broadcast(event, userID)

	return protocol.NewResponse(req, protocol.CmdPresenceUpdate, protocol.StatusAckPayload{
		Status: int(protocol.StatusOK),
	}), nil
}

func (s *PresenceService) handleList(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	if _, err := requireAuth(c); err != nil {
		return nil, err
	}

	users, err := s.presence.ListByState(models.PresenceOnline)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []string{}
	}
	return protocol.NewResponse(req, protocol.CmdPresenceList, protocol.PresenceListAckPayload{
		Status: int(protocol.StatusOK),
		Users:  users,
	}), nil
}

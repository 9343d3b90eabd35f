package service

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/caspian-yx/socket-chat-app/internal/db"
	"github.com/caspian-yx/socket-chat-app/internal/models"
	"github.com/caspian-yx/socket-chat-app/internal/protocol"
	"github.com/caspian-yx/socket-chat-app/internal/server"
)

// ChannelBridge is the data-channel side of a file transfer: the signaling
// handlers announce sessions to it and tell clients where to connect.
type ChannelBridge interface {
	PrepareSession(sessionID, senderID, receiverID string)
	DropSession(sessionID string)
	AdvertisedHost() string
	Port() int
}

// FileService handles file transfer signaling. Bytes never cross the
// control channel; accepted sessions are handed to the bridge.
type FileService struct {
	files    *db.FileRepository
	rooms    *db.RoomRepository
	registry *server.Registry
	bridge   ChannelBridge
}

func NewFileService(files *db.FileRepository, rooms *db.RoomRepository, registry *server.Registry, bridge ChannelBridge) *FileService {
	return &FileService{files: files, rooms: rooms, registry: registry, bridge: bridge}
}

func (s *FileService) RegisterHandlers(router *server.Router) {
	router.Register(protocol.CmdFileRequest, s.handleRequest)
	router.Register(protocol.CmdFileAccept, s.handleAccept)
	router.Register(protocol.CmdFileReject, s.handleReject)
	router.Register(protocol.CmdFileComplete, s.handleComplete)
	router.Register(protocol.CmdFileError, s.handleError)
}

// handleRequest creates one transfer session per recipient and pushes the
// offer to each live connection. Transfers are live-only: a session whose
// recipient cannot be reached is marked unreachable, never queued.
func (s *FileService) handleRequest(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	senderID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}

	var payload protocol.FileRequestPayload
	if err := req.DecodePayload(&payload); err != nil {
		return nil, err
	}

	var recipients []string
	var roomTarget *protocol.Target
	switch payload.Target.Type {
	case "user":
		recipients = []string{payload.Target.ID}
	case "room":
		if _, err := s.rooms.Find(payload.Target.ID); errors.Is(err, db.ErrNotFound) {
			return nil, protocol.NewError(protocol.StatusNotFound, protocol.ErrCodeNone, "room not found")
		} else if err != nil {
			return nil, err
		}
		isMember, err := s.rooms.IsMember(payload.Target.ID, senderID)
		if err != nil {
			return nil, err
		}
		if !isMember {
			return nil, protocol.NewError(protocol.StatusForbidden, protocol.ErrCodeNone, "not a room member")
		}
		members, err := s.rooms.Members(payload.Target.ID)
		if err != nil {
			return nil, err
		}
		for _, member := range members {
			if member != senderID {
				recipients = append(recipients, member)
			}
		}
		roomTarget = &protocol.Target{Type: "room", ID: payload.Target.ID}
	}

	var lastSessionID string
	sessions := make([]protocol.FileSessionRef, 0, len(recipients))
	for _, recipient := range recipients {
		session := &models.FileSession{
			SessionID:  uuid.NewString(),
			FileName:   payload.FileName,
			FileSize:   payload.FileSize,
			Checksum:   payload.Checksum,
			SenderID:   senderID,
			TargetType: "user",
			TargetID:   recipient,
			Status:     models.FileStatusPending,
		}
		if err := s.files.Create(session); err != nil {
			return nil, err
		}
		lastSessionID = session.SessionID

		delivered := s.registry.SendToUser(recipient, protocol.NewEvent(protocol.CmdFileRequest, protocol.FileEventPayload{
			SessionID: session.SessionID,
			FromUser:  senderID,
			Target:    roomTarget,
			FileName:  payload.FileName,
			FileSize:  payload.FileSize,
			Checksum:  payload.Checksum,
		}))
		if !delivered {
			if err := s.files.UpdateStatus(session.SessionID, models.FileStatusUnreachable); err != nil {
				return nil, err
			}
			continue
		}
		sessions = append(sessions, protocol.FileSessionRef{
			SessionID: session.SessionID,
			TargetID:  recipient,
		})
	}

	slog.Info("file transfer requested", "component", "file",
		"sender", senderID, "target_type", payload.Target.Type,
		"target_id", payload.Target.ID, "sessions", len(sessions))

	if len(sessions) == 0 {
		ack := protocol.FileRequestAckPayload{
			Status:       int(protocol.StatusNotFound),
			ErrorMessage: "no recipients available",
		}
		if payload.Target.Type == "user" {
			ack.SessionID = lastSessionID
			ack.ErrorMessage = "target user offline"
		}
		return protocol.NewResponse(req, protocol.CmdFileRequestAck, ack), nil
	}

	ack := protocol.FileRequestAckPayload{
		Status:   int(protocol.StatusOK),
		Sessions: sessions,
		FileName: payload.FileName,
		FileSize: payload.FileSize,
	}
	if payload.Target.Type == "room" {
		ack.RoomID = payload.Target.ID
	}
	if len(sessions) == 1 {
		ack.SessionID = sessions[0].SessionID
	}
	return protocol.NewResponse(req, protocol.CmdFileRequestAck, ack), nil
}

// handleAccept opens the data channel. Both ends learn where to connect.
func (s *FileService) handleAccept(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	userID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}

	session, _, err := s.resolveSession(req)
	if err != nil {
		return nil, err
	}
	if session.TargetID != userID {
		return nil, protocol.NewError(protocol.StatusForbidden, protocol.ErrCodeNone, "only the recipient can accept")
	}
	if session.Status != models.FileStatusPending {
		return nil, protocol.NewError(protocol.StatusConflict, protocol.ErrCodeNone, "session is not pending")
	}

	if err := s.files.UpdateStatus(session.SessionID, models.FileStatusAccepted); err != nil {
		return nil, err
	}
	s.bridge.PrepareSession(session.SessionID, session.SenderID, session.TargetID)

	slog.Info("file transfer accepted", "component", "file",
		"session_id", session.SessionID, "sender", session.SenderID, "receiver", userID)

	channel := protocol.FileEventPayload{
		SessionID:   session.SessionID,
		FileName:    session.FileName,
		FileSize:    session.FileSize,
		TargetID:    session.TargetID,
		ChannelHost: s.bridge.AdvertisedHost(),
		ChannelPort: s.bridge.Port(),
	}
	s.registry.SendToUser(session.SenderID, protocol.NewEvent(protocol.CmdFileAccept, channel))
	s.registry.SendToUser(session.TargetID, protocol.NewEvent(protocol.CmdFileAccept, channel))

	return protocol.NewResponse(req, protocol.CmdFileAcceptAck, protocol.FileAckPayload{
		Status:    int(protocol.StatusOK),
		SessionID: session.SessionID,
	}), nil
}

func (s *FileService) handleReject(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	userID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}

	session, _, err := s.resolveSession(req)
	if err != nil {
		return nil, err
	}
	if session.TargetID != userID {
		return nil, protocol.NewError(protocol.StatusForbidden, protocol.ErrCodeNone, "only the recipient can reject")
	}

	if err := s.files.UpdateStatus(session.SessionID, models.FileStatusRejected); err != nil {
		return nil, err
	}

	slog.Info("file transfer rejected", "component", "file",
		"session_id", session.SessionID, "receiver", userID)

	s.registry.SendToUser(session.SenderID, protocol.NewEvent(protocol.CmdFileReject, protocol.FileEventPayload{
		SessionID: session.SessionID,
		FromUser:  userID,
	}))

	return protocol.NewResponse(req, protocol.CmdFileRejectAck, protocol.FileAckPayload{
		Status:    int(protocol.StatusOK),
		SessionID: session.SessionID,
	}), nil
}

func (s *FileService) handleComplete(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	return s.finishSession(c, req, models.FileStatusComplete, protocol.CmdFileComplete, "")
}

func (s *FileService) handleError(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	var payload protocol.FileSessionPayload
	if err := req.DecodePayload(&payload); err != nil {
		return nil, err
	}
	return s.finishSession(c, req, models.FileStatusError, protocol.CmdFileError, payload.ErrorMessage)
}

// finishSession closes out a session from either participant and notifies
// both ends of the terminal status.
func (s *FileService) finishSession(c *server.Conn, req *protocol.Envelope, status, eventCmd, errorMessage string) (*protocol.Envelope, error) {
	userID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}

	session, _, err := s.resolveSession(req)
	if err != nil {
		return nil, err
	}
	if session.SenderID != userID && session.TargetID != userID {
		return nil, protocol.NewError(protocol.StatusForbidden, protocol.ErrCodeNone, "not a transfer participant")
	}

	if err := s.files.UpdateStatus(session.SessionID, status); err != nil {
		return nil, err
	}
	s.bridge.DropSession(session.SessionID)

	slog.Info("file transfer finished", "component", "file",
		"session_id", session.SessionID, "status", status, "by", userID)

	event := protocol.NewEvent(eventCmd, protocol.FileEventPayload{
		SessionID:    session.SessionID,
		Status:       status,
		ErrorMessage: errorMessage,
	})
	s.registry.SendToUser(session.SenderID, event)
	s.registry.SendToUser(session.TargetID, event)

	return protocol.NewResponse(req, eventCmd, protocol.FileAckPayload{
		Status:    int(protocol.StatusOK),
		SessionID: session.SessionID,
	}), nil
}

// NotifyChannelComplete runs from the bridge callback when the splice
// finishes cleanly.
func (s *FileService) NotifyChannelComplete(sessionID string) {
	s.notifyChannelResult(sessionID, models.FileStatusComplete, protocol.CmdFileComplete, "")
}

// NotifyChannelError runs from the bridge callback when the splice fails.
func (s *FileService) NotifyChannelError(sessionID string, cause error) {
	s.notifyChannelResult(sessionID, models.FileStatusError, protocol.CmdFileError, cause.Error())
}

func (s *FileService) notifyChannelResult(sessionID, status, eventCmd, errorMessage string) {
	session, err := s.files.Find(sessionID)
	if err != nil {
		slog.Error("channel result for unknown session", "component", "file",
			"session_id", sessionID, "error", err)
		return
	}
	if err := s.files.UpdateStatus(sessionID, status); err != nil {
		slog.Error("status update failed", "component", "file",
			"session_id", sessionID, "error", err)
	}

	slog.Info("data channel finished", "component", "file",
		"session_id", sessionID, "status", status)

	event := protocol.NewEvent(eventCmd, protocol.FileEventPayload{
		SessionID:    sessionID,
		Status:       status,
		ErrorMessage: errorMessage,
	})
	s.registry.SendToUser(session.SenderID, event)
	s.registry.SendToUser(session.TargetID, event)
}

func (s *FileService) resolveSession(req *protocol.Envelope) (*models.FileSession, *protocol.FileSessionPayload, error) {
	var payload protocol.FileSessionPayload
	if err := req.DecodePayload(&payload); err != nil {
		return nil, nil, err
	}
	session, err := s.files.Find(payload.SessionID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil, protocol.NewError(protocol.StatusNotFound, protocol.ErrCodeNone, "transfer session not found")
	}
	if err != nil {
		return nil, nil, err
	}
	return session, &payload, nil
}

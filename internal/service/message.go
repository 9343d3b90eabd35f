package service

import (
	"errors"
	"log/slog"

	"github.com/caspian-yx/socket-chat-app/internal/db"
	"github.com/caspian-yx/socket-chat-app/internal/protocol"
	"github.com/caspian-yx/socket-chat-app/internal/server"
	"github.com/caspian-yx/socket-chat-app/internal/worker"
)

// MessageService persists chat messages and fans them out to direct targets
// or room members, parking copies for anyone offline.
type MessageService struct {
	messages   *db.MessageRepository
	rooms      *db.RoomRepository
	dispatcher *worker.OfflineDispatcher
}

func NewMessageService(messages *db.MessageRepository, rooms *db.RoomRepository, dispatcher *worker.OfflineDispatcher) *MessageService {
	return &MessageService{messages: messages, rooms: rooms, dispatcher: dispatcher}
}

func (s *MessageService) RegisterHandlers(router *server.Router) {
	router.Register(protocol.CmdMessageSend, s.handleSend)
}

func (s *MessageService) handleSend(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	senderID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}

	var payload protocol.MessageSendPayload
	if err := req.DecodePayload(&payload); err != nil {
		return nil, err
	}

	// Room constraints are checked before the message is stored so a
	// rejected send leaves no trace.
	var members []string
	if payload.Target.Type == "room" {
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
		if members, err = s.rooms.Members(payload.Target.ID); err != nil {
			return nil, err
		}
	}

	msg, err := s.messages.Create(payload.ConversationID, senderID, payload.Content)
	if err != nil {
		return nil, err
	}

	event := protocol.NewEvent(protocol.CmdMessageEvent, protocol.MessageEventPayload{
		ConversationID: msg.ConversationID,
		SenderID:       senderID,
		Content:        msg.Content,
		MessageID:      msg.ID,
	})

	switch payload.Target.Type {
	case "user":
		s.dispatcher.Deliver(payload.Target.ID, event)
	case "room":
		for _, member := range members {
			if member == senderID {
				continue
			}
			s.dispatcher.Deliver(member, event)
		}
	}

	slog.Debug("message routed", "component", "message",
		"message_id", msg.ID, "sender", senderID,
		"target_type", payload.Target.Type, "target_id", payload.Target.ID)

	return protocol.NewResponse(req, protocol.CmdMessageAck, protocol.MessageAckPayload{
		Status:    int(protocol.StatusOK),
		MessageID: msg.ID,
	}), nil
}

package service

import (
	"errors"
	"log/slog"

	"github.com/caspian-yx/socket-chat-app/internal/db"
	"github.com/caspian-yx/socket-chat-app/internal/models"
	"github.com/caspian-yx/socket-chat-app/internal/protocol"
	"github.com/caspian-yx/socket-chat-app/internal/server"
	"github.com/caspian-yx/socket-chat-app/internal/worker"
)

// Friend event type names carried in friend/event payloads.
const (
	friendEventNewRequest      = "new_request"
	friendEventRequestAccepted = "request_accepted"
	friendEventRequestRejected = "request_rejected"
	friendEventFriendDeleted   = "friend_deleted"
)

// FriendService runs the friend request workflow and the friendship graph.
type FriendService struct {
	friends    *db.FriendRepository
	users      *db.UserRepository
	dispatcher *worker.OfflineDispatcher
}

func NewFriendService(friends *db.FriendRepository, users *db.UserRepository, dispatcher *worker.OfflineDispatcher) *FriendService {
	return &FriendService{friends: friends, users: users, dispatcher: dispatcher}
}

func (s *FriendService) RegisterHandlers(router *server.Router) {
	router.Register(protocol.CmdFriendRequest, s.handleRequest)
	router.Register(protocol.CmdFriendAccept, s.handleAccept)
	router.Register(protocol.CmdFriendReject, s.handleReject)
	router.Register(protocol.CmdFriendDelete, s.handleDelete)
	router.Register(protocol.CmdFriendList, s.handleList)
}

// handleRequest creates or re-opens a pending request. Re-requesting after
// a rejection reuses the same row.
func (s *FriendService) handleRequest(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	userID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}

	var payload protocol.FriendRequestPayload
	if err := req.DecodePayload(&payload); err != nil {
		return nil, err
	}
	if payload.TargetID == userID {
		return nil, protocol.NewError(protocol.StatusBadRequest, protocol.ErrCodeNone, "cannot send a friend request to yourself")
	}

	exists, err := s.users.Exists(payload.TargetID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, protocol.NewError(protocol.StatusNotFound, protocol.ErrCodeNone, "user not found")
	}

	areFriends, err := s.friends.AreFriends(userID, payload.TargetID)
	if err != nil {
		return nil, err
	}
	if areFriends {
		return nil, protocol.NewError(protocol.StatusConflict, protocol.ErrCodeNone, "already friends")
	}

	request, err := s.friends.UpsertRequest(userID, payload.TargetID, payload.Message)
	if err != nil {
		return nil, err
	}

	slog.Info("friend request sent", "component", "friend",
		"request_id", request.ID, "from", userID, "to", payload.TargetID)

	s.dispatcher.Deliver(payload.TargetID, protocol.NewEvent(protocol.CmdFriendEvent, protocol.FriendEventPayload{
		EventType: friendEventNewRequest,
		FromUser:  userID,
		RequestID: request.ID,
		Message:   request.Message,
	}))

	return protocol.NewResponse(req, protocol.CmdFriendRequestAck, protocol.FriendAckPayload{
		Status:    int(protocol.StatusOK),
		RequestID: request.ID,
	}), nil
}

func (s *FriendService) handleAccept(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	userID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}

	var payload protocol.FriendRequestIDPayload
	if err := req.DecodePayload(&payload); err != nil {
		return nil, err
	}

	request, err := s.findPendingFor(payload.RequestID, userID)
	if err != nil {
		return nil, err
	}

	if err := s.friends.Accept(request); err != nil {
		return nil, err
	}

	slog.Info("friend request accepted", "component", "friend",
		"request_id", request.ID, "from", request.FromUser, "to", userID)

	s.dispatcher.Deliver(request.FromUser, protocol.NewEvent(protocol.CmdFriendEvent, protocol.FriendEventPayload{
		EventType: friendEventRequestAccepted,
		UserID:    userID,
		RequestID: request.ID,
	}))

	return protocol.NewResponse(req, protocol.CmdFriendAcceptAck, protocol.FriendAckPayload{
		Status:    int(protocol.StatusOK),
		RequestID: request.ID,
		FriendID:  request.FromUser,
	}), nil
}

func (s *FriendService) handleReject(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	userID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}

	var payload protocol.FriendRequestIDPayload
	if err := req.DecodePayload(&payload); err != nil {
		return nil, err
	}

	request, err := s.findPendingFor(payload.RequestID, userID)
	if err != nil {
		return nil, err
	}

	if err := s.friends.UpdateRequestStatus(request.ID, models.FriendRequestRejected); err != nil {
		return nil, err
	}

	slog.Info("friend request rejected", "component", "friend",
		"request_id", request.ID, "from", request.FromUser, "to", userID)

	s.dispatcher.Deliver(request.FromUser, protocol.NewEvent(protocol.CmdFriendEvent, protocol.FriendEventPayload{
		EventType: friendEventRequestRejected,
		UserID:    userID,
		RequestID: request.ID,
	}))

	return protocol.NewResponse(req, protocol.CmdFriendRejectAck, protocol.FriendAckPayload{
		Status:    int(protocol.StatusOK),
		RequestID: request.ID,
	}), nil
}

func (s *FriendService) handleDelete(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	userID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}

	var payload protocol.FriendDeletePayload
	if err := req.DecodePayload(&payload); err != nil {
		return nil, err
	}

	err = s.friends.DeleteFriendship(userID, payload.FriendID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, protocol.NewError(protocol.StatusNotFound, protocol.ErrCodeNone, "not friends")
	}
	if err != nil {
		return nil, err
	}

	slog.Info("friendship deleted", "component", "friend",
		"user_id", userID, "friend_id", payload.FriendID)

	s.dispatcher.Deliver(payload.FriendID, protocol.NewEvent(protocol.CmdFriendEvent, protocol.FriendEventPayload{
		EventType: friendEventFriendDeleted,
		UserID:    userID,
	}))

	return protocol.NewResponse(req, protocol.CmdFriendDeleteAck, protocol.FriendAckPayload{
		Status:   int(protocol.StatusOK),
		FriendID: payload.FriendID,
	}), nil
}

func (s *FriendService) handleList(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	userID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}

	friends, err := s.friends.ListFriends(userID)
	if err != nil {
		return nil, err
	}
	pending, err := s.friends.ListPendingRequests(userID)
	if err != nil {
		return nil, err
	}
	sent, err := s.friends.ListSentRequests(userID)
	if err != nil {
		return nil, err
	}

	return protocol.NewResponse(req, protocol.CmdFriendListAck, protocol.FriendListAckPayload{
		Status:          int(protocol.StatusOK),
		Friends:         friends,
		PendingRequests: requestInfos(pending),
		SentRequests:    requestInfos(sent),
	}), nil
}

// findPendingFor resolves a request id that must be pending and addressed
// to userID.
func (s *FriendService) findPendingFor(requestID int64, userID string) (*models.FriendRequest, error) {
	request, err := s.friends.FindRequest(requestID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, protocol.NewError(protocol.StatusNotFound, protocol.ErrCodeNone, "friend request not found")
	}
	if err != nil {
		return nil, err
	}
	if request.ToUser != userID {
		return nil, protocol.NewError(protocol.StatusForbidden, protocol.ErrCodeNone, "request is not addressed to you")
	}
	if request.Status != models.FriendRequestPending {
		return nil, protocol.NewError(protocol.StatusConflict, protocol.ErrCodeNone, "request is no longer pending")
	}
	return request, nil
}

func requestInfos(requests []*models.FriendRequest) []protocol.FriendRequestInfo {
	infos := make([]protocol.FriendRequestInfo, 0, len(requests))
	for _, r := range requests {
		infos = append(infos, protocol.FriendRequestInfo{
			ID:        r.ID,
			FromUser:  r.FromUser,
			ToUser:    r.ToUser,
			Message:   r.Message,
			Status:    r.Status,
			CreatedAt: r.CreatedAt.Unix(),
			UpdatedAt: r.UpdatedAt.Unix(),
		})
	}
	return infos
}

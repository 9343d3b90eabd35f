package service

import (
	"errors"
	"log/slog"

	"github.com/caspian-yx/socket-chat-app/internal/db"
	"github.com/caspian-yx/socket-chat-app/internal/models"
	"github.com/caspian-yx/socket-chat-app/internal/protocol"
	"github.com/caspian-yx/socket-chat-app/internal/server"
)

// RoomService manages room lifecycle and membership. Room passwords are
// stored as sha256 hex; plaintext never reaches the database.
type RoomService struct {
	rooms *db.RoomRepository
}

func NewRoomService(rooms *db.RoomRepository) *RoomService {
	return &RoomService{rooms: rooms}
}

func (s *RoomService) RegisterHandlers(router *server.Router) {
	router.Register(protocol.CmdRoomCreate, s.handleCreate)
	router.Register(protocol.CmdRoomJoin, s.handleJoin)
	router.Register(protocol.CmdRoomLeave, s.handleLeave)
	router.Register(protocol.CmdRoomList, s.handleList)
	router.Register(protocol.CmdRoomMembers, s.handleMembers)
	router.Register(protocol.CmdRoomInfo, s.handleInfo)
	router.Register(protocol.CmdRoomKick, s.handleKick)
	router.Register(protocol.CmdRoomDelete, s.handleDelete)
}

func (s *RoomService) handleCreate(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	userID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}

	var payload protocol.RoomCreatePayload
	if err := req.DecodePayload(&payload); err != nil {
		return nil, err
	}
	if payload.Encrypted && payload.Password == "" {
		return nil, protocol.NewError(protocol.StatusBadRequest, protocol.ErrCodeParamMissing, "encrypted room requires a password")
	}

	passwordHash := ""
	if payload.Encrypted {
		passwordHash = hashSecret(payload.Password)
	}

	room, err := s.rooms.Create(payload.RoomID, userID, payload.Encrypted, passwordHash)
	if errors.Is(err, db.ErrDuplicate) {
		return nil, protocol.NewError(protocol.StatusConflict, protocol.ErrCodeNone, "room already exists")
	}
	if err != nil {
		return nil, err
	}

	slog.Info("room created", "component", "room",
		"room_id", room.ID, "owner", userID, "encrypted", room.Encrypted)

	return protocol.NewResponse(req, protocol.CmdRoomCreate, protocol.RoomAckPayload{
		Status:    int(protocol.StatusOK),
		RoomID:    room.ID,
		Encrypted: room.Encrypted,
		Owner:     room.Owner,
		CreatedAt: room.CreatedAt.Unix(),
	}), nil
}

// handleJoin is idempotent for existing members.
func (s *RoomService) handleJoin(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	userID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}

	var payload protocol.RoomJoinPayload
	if err := req.DecodePayload(&payload); err != nil {
		return nil, err
	}

	room, err := s.findRoom(payload.RoomID)
	if err != nil {
		return nil, err
	}
	if room.Encrypted && hashSecret(payload.Password) != room.PasswordHash {
		return nil, protocol.NewError(protocol.StatusForbidden, protocol.ErrCodeNone, "invalid room password")
	}

	if err := s.rooms.AddMember(room.ID, userID); err != nil {
		return nil, err
	}

	slog.Info("room joined", "component", "room", "room_id", room.ID, "user_id", userID)
	return protocol.NewResponse(req, protocol.CmdRoomJoin, protocol.RoomAckPayload{
		Status: int(protocol.StatusOK),
		RoomID: room.ID,
	}), nil
}

func (s *RoomService) handleLeave(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	userID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}

	var payload protocol.RoomIDPayload
	if err := req.DecodePayload(&payload); err != nil {
		return nil, err
	}

	err = s.rooms.RemoveMember(payload.RoomID, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, protocol.NewError(protocol.StatusNotFound, protocol.ErrCodeNone, "not a room member")
	}
	if err != nil {
		return nil, err
	}

	return protocol.NewResponse(req, protocol.CmdRoomLeave, protocol.RoomAckPayload{
		Status: int(protocol.StatusOK),
		RoomID: payload.RoomID,
	}), nil
}

func (s *RoomService) handleList(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	userID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}

	rooms, err := s.rooms.RoomsForUser(userID)
	if err != nil {
		return nil, err
	}
	return protocol.NewResponse(req, protocol.CmdRoomList, protocol.RoomAckPayload{
		Status: int(protocol.StatusOK),
		Rooms:  rooms,
	}), nil
}

func (s *RoomService) handleMembers(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	if _, err := requireAuth(c); err != nil {
		return nil, err
	}

	var payload protocol.RoomIDPayload
	if err := req.DecodePayload(&payload); err != nil {
		return nil, err
	}

	room, err := s.findRoom(payload.RoomID)
	if err != nil {
		return nil, err
	}
	members, err := s.rooms.Members(room.ID)
	if err != nil {
		return nil, err
	}
	return protocol.NewResponse(req, protocol.CmdRoomMembers, protocol.RoomAckPayload{
		Status:  int(protocol.StatusOK),
		RoomID:  room.ID,
		Members: members,
	}), nil
}

func (s *RoomService) handleInfo(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	if _, err := requireAuth(c); err != nil {
		return nil, err
	}

	var payload protocol.RoomIDPayload
	if err := req.DecodePayload(&payload); err != nil {
		return nil, err
	}

	room, err := s.findRoom(payload.RoomID)
	if err != nil {
		return nil, err
	}
	members, err := s.rooms.Members(room.ID)
	if err != nil {
		return nil, err
	}
	return protocol.NewResponse(req, protocol.CmdRoomInfo, protocol.RoomAckPayload{
		Status:    int(protocol.StatusOK),
		RoomID:    room.ID,
		Owner:     room.Owner,
		Encrypted: room.Encrypted,
		CreatedAt: room.CreatedAt.Unix(),
		Members:   members,
	}), nil
}

func (s *RoomService) handleKick(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	userID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}

	var payload protocol.RoomKickPayload
	if err := req.DecodePayload(&payload); err != nil {
		return nil, err
	}

	room, err := s.findRoom(payload.RoomID)
	if err != nil {
		return nil, err
	}
	if room.Owner != userID {
		return nil, protocol.NewError(protocol.StatusForbidden, protocol.ErrCodeNone, "only the owner can kick members")
	}
	if payload.UserID == userID {
		return nil, protocol.NewError(protocol.StatusBadRequest, protocol.ErrCodeNone, "owner cannot kick themselves")
	}

	err = s.rooms.RemoveMember(room.ID, payload.UserID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, protocol.NewError(protocol.StatusNotFound, protocol.ErrCodeNone, "not a room member")
	}
	if err != nil {
		return nil, err
	}

	slog.Info("member kicked", "component", "room",
		"room_id", room.ID, "user_id", payload.UserID, "by", userID)

	return protocol.NewResponse(req, protocol.CmdRoomKick, protocol.RoomAckPayload{
		Status: int(protocol.StatusOK),
		RoomID: room.ID,
		UserID: payload.UserID,
	}), nil
}

func (s *RoomService) handleDelete(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	userID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}

	var payload protocol.RoomIDPayload
	if err := req.DecodePayload(&payload); err != nil {
		return nil, err
	}

	room, err := s.findRoom(payload.RoomID)
	if err != nil {
		return nil, err
	}
	if room.Owner != userID {
		return nil, protocol.NewError(protocol.StatusForbidden, protocol.ErrCodeNone, "only the owner can delete the room")
	}

	if err := s.rooms.Delete(room.ID); err != nil {
		return nil, err
	}

	slog.Info("room deleted", "component", "room", "room_id", room.ID, "owner", userID)
	return protocol.NewResponse(req, protocol.CmdRoomDelete, protocol.RoomAckPayload{
		Status: int(protocol.StatusOK),
		RoomID: room.ID,
	}), nil
}

func (s *RoomService) findRoom(roomID string) (*models.Room, error) {
	room, err := s.rooms.Find(roomID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, protocol.NewError(protocol.StatusNotFound, protocol.ErrCodeNone, "room not found")
	}
	if err != nil {
		return nil, err
	}
	return room, nil
}

package service

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/caspian-yx/socket-chat-app/internal/db"
	"github.com/caspian-yx/socket-chat-app/internal/metrics"
	"github.com/caspian-yx/socket-chat-app/internal/protocol"
	"github.com/caspian-yx/socket-chat-app/internal/server"
	"github.com/caspian-yx/socket-chat-app/internal/worker"
)

// Call states.
const (
	callStateRinging   = "ringing"
	callStateConnected = "connected"
)

// Voice event type names carried in voice/event payloads.
const (
	voiceEventIncoming     = "incoming"
	voiceEventConnected    = "connected"
	voiceEventMemberJoined = "member_joined"
	voiceEventMemberLeft   = "member_left"
	voiceEventRejected     = "rejected"
	voiceEventEnded        = "ended"
)

// Call types.
const (
	callTypeDirect = "direct"
	callTypeGroup  = "group"
)

type call struct {
	id          string
	callType    string
	initiator   string
	targetType  string
	targetID    string
	state       string
	connectedAt time.Time

	// invited holds everyone allowed to answer; participants holds
	// everyone currently in the call, in join order.
	invited      map[string]struct{}
	participants []string
}

func (c *call) isParticipant(userID string) bool {
	for _, p := range c.participants {
		if p == userID {
			return true
		}
	}
	return false
}

func (c *call) removeParticipant(userID string) {
	for i, p := range c.participants {
		if p == userID {
			c.participants = append(c.participants[:i], c.participants[i+1:]...)
			return
		}
	}
}

// VoiceService runs call signaling and the opaque audio relay. Call state
// is in-memory only; calls do not survive a server restart.
type VoiceService struct {
	rooms      *db.RoomRepository
	registry   *server.Registry
	dispatcher *worker.OfflineDispatcher

	mu    sync.Mutex
	calls map[string]*call
}

func NewVoiceService(rooms *db.RoomRepository, registry *server.Registry, dispatcher *worker.OfflineDispatcher) *VoiceService {
	return &VoiceService{
		rooms:      rooms,
		registry:   registry,
		dispatcher: dispatcher,
		calls:      make(map[string]*call),
	}
}

func (s *VoiceService) RegisterHandlers(router *server.Router) {
	router.Register(protocol.CmdVoiceCall, s.handleCall)
	router.Register(protocol.CmdVoiceAnswer, s.handleAnswer)
	router.Register(protocol.CmdVoiceReject, s.handleReject)
	router.Register(protocol.CmdVoiceEnd, s.handleEnd)
	router.Register(protocol.CmdVoiceData, s.handleData)
}

// handleCall starts a ringing call. The request envelope id becomes the
// call id so the initiator can correlate every later event.
func (s *VoiceService) handleCall(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	userID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}

	var payload protocol.VoiceCallPayload
	if err := req.DecodePayload(&payload); err != nil {
		return nil, err
	}

	callType := payload.CallType
	if callType == "" {
		if payload.Target.Type == "room" {
			callType = callTypeGroup
		} else {
			callType = callTypeDirect
		}
	}

	var invitees []string
	switch payload.Target.Type {
	case "user":
		if payload.Target.ID == userID {
			return nil, protocol.NewError(protocol.StatusBadRequest, protocol.ErrCodeNone, "cannot call yourself")
		}
		invitees = []string{payload.Target.ID}
	case "room":
		members, err := s.roomInvitees(payload.Target.ID, userID)
		if err != nil {
			return nil, err
		}
		invitees = members
	}

	s.mu.Lock()
	if s.userInCallLocked(userID, "") {
		s.mu.Unlock()
		return nil, protocol.NewError(protocol.StatusConflict, protocol.ErrCodeNone, "already in a call")
	}

	newCall := &call{
		id:           req.ID,
		callType:     callType,
		initiator:    userID,
		targetType:   payload.Target.Type,
		targetID:     payload.Target.ID,
		state:        callStateRinging,
		invited:      make(map[string]struct{}, len(invitees)),
		participants: []string{userID},
	}
	for _, invitee := range invitees {
		newCall.invited[invitee] = struct{}{}
	}
	s.calls[newCall.id] = newCall
	s.mu.Unlock()
	metrics.CallsActive.Set(float64(s.callCount()))

	slog.Info("call started", "component", "voice",
		"call_id", newCall.id, "initiator", userID,
		"call_type", callType, "target_id", payload.Target.ID)

	incoming := protocol.NewEvent(protocol.CmdVoiceEvent, protocol.VoiceEventPayload{
		EventType: voiceEventIncoming,
		CallID:    newCall.id,
		FromUser:  userID,
		CallType:  callType,
		Target:    &protocol.Target{Type: payload.Target.Type, ID: payload.Target.ID},
	})
	for _, invitee := range invitees {
		s.dispatcher.Deliver(invitee, incoming)
	}

	return protocol.NewResponse(req, protocol.CmdVoiceCallAck, protocol.VoiceAckPayload{
		Status: int(protocol.StatusOK),
		CallID: newCall.id,
	}), nil
}

func (s *VoiceService) handleAnswer(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	userID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}

	var payload protocol.VoiceCallIDPayload
	if err := req.DecodePayload(&payload); err != nil {
		return nil, err
	}

	s.mu.Lock()
	target, ok := s.calls[payload.CallID]
	if !ok {
		s.mu.Unlock()
		return nil, protocol.NewError(protocol.StatusNotFound, protocol.ErrCodeNone, "call not found")
	}
	if _, invited := target.invited[userID]; !invited {
		s.mu.Unlock()
		return nil, protocol.NewError(protocol.StatusForbidden, protocol.ErrCodeNone, "not invited to this call")
	}
	if target.isParticipant(userID) {
		s.mu.Unlock()
		return nil, protocol.NewError(protocol.StatusConflict, protocol.ErrCodeNone, "already in this call")
	}
	if s.userInCallLocked(userID, target.id) {
		s.mu.Unlock()
		return nil, protocol.NewError(protocol.StatusConflict, protocol.ErrCodeNone, "already in another call")
	}
	if target.callType == callTypeDirect && target.state != callStateRinging {
		s.mu.Unlock()
		return nil, protocol.NewError(protocol.StatusConflict, protocol.ErrCodeNone, "call already answered")
	}

	wasRinging := target.state == callStateRinging
	target.participants = append(target.participants, userID)
	if wasRinging {
		target.state = callStateConnected
		target.connectedAt = time.Now()
	}
	participants := append([]string(nil), target.participants...)
	s.mu.Unlock()

	slog.Info("call answered", "component", "voice",
		"call_id", target.id, "user_id", userID, "was_ringing", wasRinging)

	// The first answer connects the call; later answers join it. Every
	// current participant, the answerer included, hears the transition.
	eventType := voiceEventMemberJoined
	if wasRinging {
		eventType = voiceEventConnected
	}
	event := protocol.NewEvent(protocol.CmdVoiceEvent, protocol.VoiceEventPayload{
		EventType: eventType,
		CallID:    target.id,
		UserID:    userID,
		Members:   participants,
	})
	for _, p := range participants {
		s.registry.SendToUser(p, event)
	}

	return protocol.NewResponse(req, protocol.CmdVoiceAnswerAck, protocol.VoiceAckPayload{
		Status: int(protocol.StatusOK),
		CallID: target.id,
	}), nil
}

func (s *VoiceService) handleReject(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	userID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}

	var payload protocol.VoiceCallIDPayload
	if err := req.DecodePayload(&payload); err != nil {
		return nil, err
	}

	s.mu.Lock()
	target, ok := s.calls[payload.CallID]
	if !ok {
		s.mu.Unlock()
		return nil, protocol.NewError(protocol.StatusNotFound, protocol.ErrCodeNone, "call not found")
	}
	if _, invited := target.invited[userID]; !invited {
		s.mu.Unlock()
		return nil, protocol.NewError(protocol.StatusForbidden, protocol.ErrCodeNone, "not invited to this call")
	}
	// A rejected direct call is over; group calls keep ringing for the rest.
	if target.callType == callTypeDirect {
		delete(s.calls, target.id)
	}
	s.mu.Unlock()
	metrics.CallsActive.Set(float64(s.callCount()))

	slog.Info("call rejected", "component", "voice", "call_id", target.id, "user_id", userID)

	s.registry.SendToUser(target.initiator, protocol.NewEvent(protocol.CmdVoiceEvent, protocol.VoiceEventPayload{
		EventType: voiceEventRejected,
		CallID:    target.id,
		ByUser:    userID,
	}))

	return protocol.NewResponse(req, protocol.CmdVoiceRejectAck, protocol.VoiceAckPayload{
		Status: int(protocol.StatusOK),
		CallID: target.id,
	}), nil
}

func (s *VoiceService) handleEnd(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	userID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}

	var payload protocol.VoiceCallIDPayload
	if err := req.DecodePayload(&payload); err != nil {
		return nil, err
	}

	if err := s.leaveCall(payload.CallID, userID, true); err != nil {
		return nil, err
	}

	return protocol.NewResponse(req, protocol.CmdVoiceEndAck, protocol.VoiceAckPayload{
		Status: int(protocol.StatusOK),
		CallID: payload.CallID,
	}), nil
}

// leaveCall removes userID from the call. A group call with members left
// announces the departure; otherwise the call ends for everyone with the
// connected-time duration.
func (s *VoiceService) leaveCall(callID, userID string, strict bool) error {
	s.mu.Lock()
	target, ok := s.calls[callID]
	if !ok {
		s.mu.Unlock()
		if !strict {
			return nil
		}
		return protocol.NewError(protocol.StatusNotFound, protocol.ErrCodeNone, "call not found")
	}
	if !target.isParticipant(userID) {
		s.mu.Unlock()
		if !strict {
			return nil
		}
		return protocol.NewError(protocol.StatusForbidden, protocol.ErrCodeNone, "not a call participant")
	}

	before := append([]string(nil), target.participants...)
	target.removeParticipant(userID)
	remaining := append([]string(nil), target.participants...)

	groupContinues := target.callType == callTypeGroup && len(remaining) > 0
	var duration int64
	if !groupContinues {
		if target.state == callStateConnected && !target.connectedAt.IsZero() {
			duration = int64(time.Since(target.connectedAt) / time.Second)
		}
		delete(s.calls, callID)
	}
	s.mu.Unlock()
	metrics.CallsActive.Set(float64(s.callCount()))

	if groupContinues {
		slog.Info("call member left", "component", "voice", "call_id", callID, "user_id", userID)
		left := protocol.NewEvent(protocol.CmdVoiceEvent, protocol.VoiceEventPayload{
			EventType: voiceEventMemberLeft,
			CallID:    callID,
			UserID:    userID,
			Members:   remaining,
		})
		for _, p := range remaining {
			s.registry.SendToUser(p, left)
		}
		return nil
	}

	slog.Info("call ended", "component", "voice",
		"call_id", callID, "by", userID, "duration_s", duration)

	// The pre-removal snapshot goes to everyone, the leaver included.
	ended := protocol.NewEvent(protocol.CmdVoiceEvent, protocol.VoiceEventPayload{
		EventType:    voiceEventEnded,
		CallID:       callID,
		CallType:     target.callType,
		TargetType:   target.targetType,
		TargetID:     target.targetID,
		Participants: before,
		Duration:     duration,
		Initiator:    target.initiator,
	})
	for _, p := range before {
		s.registry.SendToUser(p, ended)
	}
	return nil
}

// handleData relays audio chunks verbatim to the other participants. No
// response frame; a frame from a non-participant is dropped silently.
func (s *VoiceService) handleData(c *server.Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	userID, err := requireAuth(c)
	if err != nil {
		return nil, err
	}

	var payload protocol.VoiceDataPayload
	if err := req.DecodePayload(&payload); err != nil {
		return nil, err
	}

	s.mu.Lock()
	target, ok := s.calls[payload.CallID]
	if !ok || !target.isParticipant(userID) || target.state != callStateConnected {
		s.mu.Unlock()
		return nil, nil
	}
	participants := append([]string(nil), target.participants...)
	s.mu.Unlock()

	event := protocol.NewEvent(protocol.CmdVoiceData, req.Payload)
	for _, p := range participants {
		if p == userID {
			continue
		}
		s.registry.SendToUser(p, event)
	}
	return nil, nil
}

// HandleUserDisconnected synthesizes hangups for a user that dropped.
func (s *VoiceService) HandleUserDisconnected(userID string) {
	s.mu.Lock()
	var affected []string
	for id, target := range s.calls {
		if target.isParticipant(userID) {
			affected = append(affected, id)
		}
	}
	s.mu.Unlock()

	for _, id := range affected {
		if err := s.leaveCall(id, userID, false); err != nil {
			slog.Error("disconnect hangup failed", "component", "voice",
				"call_id", id, "user_id", userID, "error", err)
		}
	}
}

func (s *VoiceService) roomInvitees(roomID, initiator string) ([]string, error) {
	if _, err := s.rooms.Find(roomID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, protocol.NewError(protocol.StatusNotFound, protocol.ErrCodeNone, "room not found")
		}
		return nil, err
	}
	isMember, err := s.rooms.IsMember(roomID, initiator)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, protocol.NewError(protocol.StatusForbidden, protocol.ErrCodeNone, "not a room member")
	}
	members, err := s.rooms.Members(roomID)
	if err != nil {
		return nil, err
	}
	invitees := make([]string, 0, len(members))
	for _, member := range members {
		if member != initiator {
			invitees = append(invitees, member)
		}
	}
	return invitees, nil
}

// userInCallLocked reports whether userID participates in any call other
// than exclude. Callers hold s.mu.
func (s *VoiceService) userInCallLocked(userID, exclude string) bool {
	for id, target := range s.calls {
		if id == exclude {
			continue
		}
		if target.isParticipant(userID) {
			return true
		}
	}
	return false
}

func (s *VoiceService) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

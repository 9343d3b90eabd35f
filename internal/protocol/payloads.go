package protocol

import "encoding/json"

// Target addresses a direct user or a room.
type Target struct {
	Type string `json:"type" validate:"required,oneof=user room"`
	ID   string `json:"id" validate:"required"`
}

// --- Auth -----------------------------------------------------------------

type CredentialsPayload struct {
	Username   string         `json:"username" validate:"required"`
	Password   string         `json:"password" validate:"required"`
	ClientInfo map[string]any `json:"client_info,omitempty"`
}

// AuthAckPayload is shared by login, register and refresh acks.
type AuthAckPayload struct {
	Status       int    `json:"status"`
	Token        string `json:"token"`
	UserID       string `json:"user_id"`
	ExpiresIn    int    `json:"expires_in"`
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorCode    int    `json:"error_code,omitempty"`
}

// StatusAckPayload is the minimal ack carrying only a status code, used by
// logout and heartbeat responses.
type StatusAckPayload struct {
	Status int `json:"status"`
}

// --- Presence -------------------------------------------------------------

type PresenceUpdatePayload struct {
	State string `json:"state" validate:"required,oneof=online offline"`
}

type PresenceListAckPayload struct {
	Status int      `json:"status"`
	Users  []string `json:"users"`
}

type PresenceEventPayload struct {
	UserID   string `json:"user_id"`
	State    string `json:"state"`
	LastSeen int64  `json:"last_seen,omitempty"`
}

// --- Messaging ------------------------------------------------------------

type MessageSendPayload struct {
	ConversationID string           `json:"conversation_id" validate:"required"`
	Target         Target           `json:"target" validate:"required"`
	Content        json.RawMessage  `json:"content" validate:"required"`
	Attachments    []map[string]any `json:"attachments,omitempty"`
}

type MessageAckPayload struct {
	Status    int    `json:"status"`
	MessageID string `json:"message_id"`
}

type MessageEventPayload struct {
	ConversationID string          `json:"conversation_id"`
	SenderID       string          `json:"sender_id"`
	Content        json.RawMessage `json:"content"`
	MessageID      string          `json:"message_id"`
}

// --- Rooms ----------------------------------------------------------------

type RoomCreatePayload struct {
	RoomID    string `json:"room_id" validate:"required"`
	Encrypted bool   `json:"encrypted"`
	Password  string `json:"password,omitempty"`
}

type RoomJoinPayload struct {
	RoomID   string `json:"room_id" validate:"required"`
	Password string `json:"password,omitempty"`
}

// RoomIDPayload covers leave/members/info/delete requests.
type RoomIDPayload struct {
	RoomID string `json:"room_id" validate:"required"`
}

type RoomKickPayload struct {
	RoomID string `json:"room_id" validate:"required"`
	UserID string `json:"user_id" validate:"required"`
}

// RoomAckPayload covers every room response; unused fields are omitted, as
// the shape varies per operation.
type RoomAckPayload struct {
	Status       int      `json:"status"`
	RoomID       string   `json:"room_id,omitempty"`
	Encrypted    bool     `json:"encrypted,omitempty"`
	Owner        string   `json:"owner,omitempty"`
	CreatedAt    int64    `json:"created_at,omitempty"`
	Members      []string `json:"members,omitempty"`
	Rooms        []string `json:"rooms,omitempty"`
	UserID       string   `json:"user_id,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
}

// --- Friends --------------------------------------------------------------

type FriendRequestPayload struct {
	TargetID string `json:"target_id" validate:"required"`
	Message  string `json:"message,omitempty"`
}

type FriendRequestIDPayload struct {
	RequestID int64 `json:"request_id" validate:"required"`
}

type FriendDeletePayload struct {
	FriendID string `json:"friend_id" validate:"required"`
}

type FriendAckPayload struct {
	Status    int    `json:"status"`
	RequestID int64  `json:"request_id,omitempty"`
	FriendID  string `json:"friend_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

type FriendRequestInfo struct {
	ID        int64  `json:"id"`
	FromUser  string `json:"from_user"`
	ToUser    string `json:"to_user"`
	Message   string `json:"message,omitempty"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

type FriendListAckPayload struct {
	Status          int                 `json:"status"`
	Friends         []string            `json:"friends"`
	PendingRequests []FriendRequestInfo `json:"pending_requests"`
	SentRequests    []FriendRequestInfo `json:"sent_requests"`
}

type FriendEventPayload struct {
	EventType string `json:"event_type"`
	FromUser  string `json:"from_user,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	RequestID int64  `json:"request_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// --- Files ----------------------------------------------------------------

type FileRequestPayload struct {
	Target   Target `json:"target" validate:"required"`
	FileName string `json:"file_name" validate:"required"`
	FileSize int64  `json:"file_size" validate:"required,gt=0"`
	Checksum string `json:"checksum,omitempty"`
}

type FileSessionPayload struct {
	SessionID    string `json:"session_id" validate:"required"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type FileSessionRef struct {
	SessionID string `json:"session_id"`
	TargetID  string `json:"target_id"`
}

type FileRequestAckPayload struct {
	Status       int              `json:"status"`
	Sessions     []FileSessionRef `json:"sessions,omitempty"`
	SessionID    string           `json:"session_id,omitempty"`
	FileName     string           `json:"file_name,omitempty"`
	FileSize     int64            `json:"file_size,omitempty"`
	RoomID       string           `json:"room_id,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

type FileAckPayload struct {
	Status       int    `json:"status"`
	SessionID    string `json:"session_id"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type FileEventPayload struct {
	SessionID    string  `json:"session_id"`
	FromUser     string  `json:"from_user,omitempty"`
	Target       *Target `json:"target,omitempty"`
	TargetID     string  `json:"target_id,omitempty"`
	FileName     string  `json:"file_name,omitempty"`
	FileSize     int64   `json:"file_size,omitempty"`
	Checksum     string  `json:"checksum,omitempty"`
	ChannelHost  string  `json:"channel_host,omitempty"`
	ChannelPort  int     `json:"channel_port,omitempty"`
	Status       string  `json:"status,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

// --- Voice ----------------------------------------------------------------

type VoiceCallPayload struct {
	CallType string `json:"call_type" validate:"omitempty,oneof=direct group"`
	Target   Target `json:"target" validate:"required"`
}

type VoiceCallIDPayload struct {
	CallID string `json:"call_id" validate:"required"`
}

type VoiceDataPayload struct {
	CallID string `json:"call_id" validate:"required"`
	Data   string `json:"data"`
	Codec  string `json:"codec,omitempty"`
	Seq    int64  `json:"seq,omitempty"`
}

type VoiceAckPayload struct {
	Status  int    `json:"status"`
	CallID  string `json:"call_id"`
	Message string `json:"message,omitempty"`
}

type VoiceEventPayload struct {
	EventType    string   `json:"event_type"`
	CallID       string   `json:"call_id"`
	FromUser     string   `json:"from_user,omitempty"`
	ByUser       string   `json:"by_user,omitempty"`
	UserID       string   `json:"user_id,omitempty"`
	CallType     string   `json:"call_type,omitempty"`
	Target       *Target  `json:"target,omitempty"`
	TargetType   string   `json:"target_type,omitempty"`
	TargetID     string   `json:"target_id,omitempty"`
	Members      []string `json:"members,omitempty"`
	Participants []string `json:"participants,omitempty"`
	Duration     int64    `json:"duration,omitempty"`
	Initiator    string   `json:"initiator,omitempty"`
}

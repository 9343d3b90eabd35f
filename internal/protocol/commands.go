package protocol

// Canonical command strings shared by client and server.
const (
	// Auth domain
	CmdAuthLogin       = "auth/login"
	CmdAuthLoginAck    = "auth/login_ack"
	CmdAuthRegister    = "auth/register"
	CmdAuthRegisterAck = "auth/register_ack"
	CmdAuthLogout      = "auth/logout"
	CmdAuthRefresh     = "auth/refresh"
	CmdAuthRefreshAck  = "auth/refresh_ack"

	// Presence domain
	CmdPresenceHeartbeat = "presence/heartbeat"
	CmdPresenceUpdate    = "presence/update"
	CmdPresenceList      = "presence/list"
	CmdPresenceEvent     = "presence/event"

	// Messaging domain
	CmdMessageSend  = "message/send"
	CmdMessageAck   = "message/ack"
	CmdMessageEvent = "message/event"

	// Room domain
	CmdRoomCreate  = "room/create"
	CmdRoomJoin    = "room/join"
	CmdRoomLeave   = "room/leave"
	CmdRoomList    = "room/list"
	CmdRoomMembers = "room/members"
	CmdRoomInfo    = "room/info"
	CmdRoomKick    = "room/kick"
	CmdRoomDelete  = "room/delete"

	// File domain
	CmdFileRequest    = "file/request"
	CmdFileRequestAck = "file/request_ack"
	CmdFileAccept     = "file/accept"
	CmdFileAcceptAck  = "file/accept_ack"
	CmdFileReject     = "file/reject"
	CmdFileRejectAck  = "file/reject_ack"
	CmdFileComplete   = "file/complete"
	CmdFileError      = "file/error"

	// Voice domain
	CmdVoiceCall      = "voice/call"
	CmdVoiceCallAck   = "voice/call_ack"
	CmdVoiceAnswer    = "voice/answer"
	CmdVoiceAnswerAck = "voice/answer_ack"
	CmdVoiceReject    = "voice/reject"
	CmdVoiceRejectAck = "voice/reject_ack"
	CmdVoiceEnd       = "voice/end"
	CmdVoiceEndAck    = "voice/end_ack"
	CmdVoiceData      = "voice/data"
	CmdVoiceEvent     = "voice/event"

	// Friend domain
	CmdFriendRequest    = "friend/request"
	CmdFriendRequestAck = "friend/request_ack"
	CmdFriendAccept     = "friend/accept"
	CmdFriendAcceptAck  = "friend/accept_ack"
	CmdFriendReject     = "friend/reject"
	CmdFriendRejectAck  = "friend/reject_ack"
	CmdFriendDelete     = "friend/delete"
	CmdFriendDeleteAck  = "friend/delete_ack"
	CmdFriendList       = "friend/list"
	CmdFriendListAck    = "friend/list_ack"
	CmdFriendEvent      = "friend/event"
)

// errorAckCommands maps a request command to the ack command carried by
// error responses when the handler fails. Commands without an entry echo
// the request command.
var errorAckCommands = map[string]string{
	CmdAuthLogin:   CmdAuthLoginAck,
	CmdAuthRefresh: CmdAuthRefreshAck,
	CmdMessageSend: CmdMessageAck,
}

// ErrorAckCommand returns the response command for an error reply to cmd.
func ErrorAckCommand(cmd string) string {
	if ack, ok := errorAckCommands[cmd]; ok {
		return ack
	}
	return cmd
}

package protocol

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var payloadValidator = validator.New()

// schemaRegistry maps a command to a factory for its payload schema struct.
// Commands without an entry are permissive so forward-compatible commands
// are not blocked; the version gate still applies to them.
var schemaRegistry = map[string]func() any{
	CmdAuthLogin:      func() any { return &CredentialsPayload{} },
	CmdAuthRegister:   func() any { return &CredentialsPayload{} },
	CmdPresenceUpdate: func() any { return &PresenceUpdatePayload{} },
	CmdMessageSend:    func() any { return &MessageSendPayload{} },
	CmdRoomCreate:     func() any { return &RoomCreatePayload{} },
	CmdRoomJoin:       func() any { return &RoomJoinPayload{} },
	CmdRoomLeave:      func() any { return &RoomIDPayload{} },
	CmdRoomMembers:    func() any { return &RoomIDPayload{} },
	CmdRoomInfo:       func() any { return &RoomIDPayload{} },
	CmdRoomKick:       func() any { return &RoomKickPayload{} },
	CmdRoomDelete:     func() any { return &RoomIDPayload{} },
	CmdFriendRequest:  func() any { return &FriendRequestPayload{} },
	CmdFriendAccept:   func() any { return &FriendRequestIDPayload{} },
	CmdFriendReject:   func() any { return &FriendRequestIDPayload{} },
	CmdFriendDelete:   func() any { return &FriendDeletePayload{} },
	CmdFileRequest:    func() any { return &FileRequestPayload{} },
	CmdFileAccept:     func() any { return &FileSessionPayload{} },
	CmdFileReject:     func() any { return &FileSessionPayload{} },
	CmdFileComplete:   func() any { return &FileSessionPayload{} },
	CmdFileError:      func() any { return &FileSessionPayload{} },
	CmdVoiceCall:      func() any { return &VoiceCallPayload{} },
	CmdVoiceAnswer:    func() any { return &VoiceCallIDPayload{} },
	CmdVoiceReject:    func() any { return &VoiceCallIDPayload{} },
	CmdVoiceEnd:       func() any { return &VoiceCallIDPayload{} },
	CmdVoiceData:      func() any { return &VoiceDataPayload{} },
}

// ValidateVersion enforces the protocol version gate on a frame.
func ValidateVersion(env *Envelope) error {
	if v := env.Version(); v != Version {
		return NewError(
			StatusUpgradeRequired,
			ErrCodeVersionMismatch,
			fmt.Sprintf("protocol version mismatch: expected %s, got %q", Version, v),
		)
	}
	return nil
}

// Validate runs the standard frame validations: version gate, then the
// command's payload schema when one is registered.
func Validate(env *Envelope) error {
	if err := ValidateVersion(env); err != nil {
		return err
	}
	return ValidatePayload(env)
}

// ValidatePayload checks the payload against the command's registered
// schema struct. Unregistered commands pass through.
func ValidatePayload(env *Envelope) error {
	factory, ok := schemaRegistry[env.Command]
	if !ok {
		return nil
	}
	dst := factory()
	if err := env.DecodePayload(dst); err != nil {
		return err
	}
	if err := payloadValidator.Struct(dst); err != nil {
		return NewError(StatusBadRequest, ErrCodeParamMissing, schemaFailureMessage(err))
	}
	return nil
}

func schemaFailureMessage(err error) string {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok || len(validationErrors) == 0 {
		return "schema validation failed"
	}
	first := validationErrors[0]
	field := strings.ToLower(first.Field())
	switch first.Tag() {
	case "required":
		return fmt.Sprintf("schema validation failed: %s is required", field)
	case "oneof":
		return fmt.Sprintf("schema validation failed: invalid %s value", field)
	case "gt":
		return fmt.Sprintf("schema validation failed: %s must be positive", field)
	default:
		return fmt.Sprintf("schema validation failed: invalid %s", field)
	}
}

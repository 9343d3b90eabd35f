package protocol

import (
	"encoding/json"
	"testing"
)

func requestFrame(t *testing.T, command string, payload any) *Envelope {
	t.Helper()
	env, err := NewRequest(command, payload)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return env
}

func TestValidateVersionGate(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]any
		wantErr bool
	}{
		{"current version", map[string]any{"version": "1.0"}, false},
		{"stale version", map[string]any{"version": "0.9"}, true},
		{"missing version", map[string]any{}, true},
		{"nil headers", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := &Envelope{Command: CmdPresenceHeartbeat, Headers: tt.headers}
			err := ValidateVersion(env)
			if tt.wantErr {
				perr, ok := err.(*ProtocolError)
				if !ok {
					t.Fatalf("expected ProtocolError, got %v", err)
				}
				if perr.Status != StatusUpgradeRequired || perr.Code != ErrCodeVersionMismatch {
					t.Fatalf("expected 426/1002, got %d/%d", perr.Status, perr.Code)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidatePayloadSchemas(t *testing.T) {
	tests := []struct {
		name    string
		command string
		payload any
		wantErr bool
	}{
		{"valid login", CmdAuthLogin, CredentialsPayload{Username: "a", Password: "b"}, false},
		{"login missing password", CmdAuthLogin, map[string]string{"username": "a"}, true},
		{"valid presence update", CmdPresenceUpdate, PresenceUpdatePayload{State: "online"}, false},
		{"presence bad state", CmdPresenceUpdate, map[string]string{"state": "away"}, true},
		{
			"valid message send",
			CmdMessageSend,
			MessageSendPayload{
				ConversationID: "c1",
				Target:         Target{Type: "user", ID: "bob"},
				Content:        json.RawMessage(`{"text":"hi"}`),
			},
			false,
		},
		{
			"message bad target type",
			CmdMessageSend,
			map[string]any{
				"conversation_id": "c1",
				"target":          map[string]string{"type": "channel", "id": "x"},
				"content":         map[string]string{"text": "hi"},
			},
			true,
		},
		{"room create missing id", CmdRoomCreate, map[string]any{"encrypted": true}, true},
		{
			"file request zero size",
			CmdFileRequest,
			map[string]any{
				"target":    map[string]string{"type": "user", "id": "bob"},
				"file_name": "a.txt",
				"file_size": 0,
			},
			true,
		},
		{"voice answer missing call id", CmdVoiceAnswer, map[string]any{}, true},
		{"unregistered command passes", CmdPresenceHeartbeat, map[string]any{"junk": 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := requestFrame(t, tt.command, tt.payload)
			err := Validate(env)
			if tt.wantErr {
				perr, ok := err.(*ProtocolError)
				if !ok {
					t.Fatalf("expected ProtocolError, got %v", err)
				}
				if perr.Status != StatusBadRequest || perr.Code != ErrCodeParamMissing {
					t.Fatalf("expected 400/1004, got %d/%d", perr.Status, perr.Code)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestErrorAckCommandMapping(t *testing.T) {
	tests := []struct {
		cmd  string
		want string
	}{
		{CmdAuthLogin, CmdAuthLoginAck},
		{CmdAuthRefresh, CmdAuthRefreshAck},
		{CmdMessageSend, CmdMessageAck},
		{CmdRoomCreate, CmdRoomCreate},
		{"unknown/op", "unknown/op"},
	}
	for _, tt := range tests {
		if got := ErrorAckCommand(tt.cmd); got != tt.want {
			t.Fatalf("ErrorAckCommand(%q) = %q, want %q", tt.cmd, got, tt.want)
		}
	}
}

func TestNewErrorResponse(t *testing.T) {
	req := requestFrame(t, CmdAuthLogin, CredentialsPayload{Username: "a", Password: "b"})
	req.Timestamp = 1234

	resp := NewErrorResponse(req, Unauthorized("invalid credentials"))
	if resp.ID != req.ID {
		t.Fatalf("response must echo request id")
	}
	if resp.Command != CmdAuthLoginAck {
		t.Fatalf("expected %s, got %s", CmdAuthLoginAck, resp.Command)
	}
	if resp.Timestamp != 1234 {
		t.Fatalf("error response must echo request timestamp, got %d", resp.Timestamp)
	}

	var payload ErrorPayload
	if err := resp.DecodePayload(&payload); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if payload.Status != int(StatusUnauthorized) || payload.ErrorMessage != "invalid credentials" {
		t.Fatalf("unexpected error payload: %+v", payload)
	}
}

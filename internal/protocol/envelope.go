package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Version is the exact wire protocol version. Bump only for breaking
// wire-contract changes.
const Version = "1.0"

// Frame types carried in the envelope "type" field.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeEvent    = "event"
)

// Envelope is the control-channel frame shared by every command. Payload is
// kept raw at this layer; handlers decode it into the command's schema
// struct.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Command   string          `json:"command"`
	Headers   map[string]any  `json:"headers"`
	Payload   json.RawMessage `json:"payload"`
}

// Version returns the protocol version declared in the headers, or "" when
// absent.
func (e *Envelope) Version() string {
	if e.Headers == nil {
		return ""
	}
	v, _ := e.Headers["version"].(string)
	return v
}

// DecodePayload unmarshals the raw payload into dst. An absent payload
// decodes as an empty object.
func (e *Envelope) DecodePayload(dst any) error {
	raw := e.Payload
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return NewError(StatusBadRequest, ErrCodeParamMissing, fmt.Sprintf("decode payload: %v", err))
	}
	return nil
}

func defaultHeaders() map[string]any {
	return map[string]any{"version": Version}
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage(`{}`), nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, BadRequest(fmt.Sprintf("encode payload: %v", err))
	}
	return raw, nil
}

// NewRequest builds a request envelope with a fresh id and current
// timestamp.
func NewRequest(command string, payload any) (*Envelope, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Type:      TypeRequest,
		Timestamp: time.Now().Unix(),
		Command:   command,
		Headers:   defaultHeaders(),
		Payload:   raw,
	}, nil
}

// NewEvent builds a server-originated event envelope. Events carry payloads
// built from typed structs, so marshal failures are programming errors and
// reported as an empty payload rather than propagated.
func NewEvent(command string, payload any) *Envelope {
	raw, err := marshalPayload(payload)
	if err != nil {
		raw = json.RawMessage(`{}`)
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Type:      TypeEvent,
		Timestamp: time.Now().Unix(),
		Command:   command,
		Headers:   defaultHeaders(),
		Payload:   raw,
	}
}

// NewResponse builds a response to req with the given command. The request
// id is echoed and its headers are copied, defaulting the version.
func NewResponse(req *Envelope, command string, payload any) *Envelope {
	raw, err := marshalPayload(payload)
	if err != nil {
		raw = json.RawMessage(`{}`)
	}
	headers := defaultHeaders()
	var id string
	if req != nil {
		id = req.ID
		for k, v := range req.Headers {
			headers[k] = v
		}
		if _, ok := headers["version"]; !ok {
			headers["version"] = Version
		}
	}
	return &Envelope{
		ID:        id,
		Type:      TypeResponse,
		Timestamp: time.Now().Unix(),
		Command:   command,
		Headers:   headers,
		Payload:   raw,
	}
}

// NewErrorResponse converts a ProtocolError raised while handling req into
// the error response frame, applying the error-ack command mapping.
func NewErrorResponse(req *Envelope, perr *ProtocolError) *Envelope {
	command := ""
	if req != nil {
		command = req.Command
	}
	resp := NewResponse(req, ErrorAckCommand(command), perr.Payload())
	if req != nil && req.Timestamp != 0 {
		resp.Timestamp = req.Timestamp
	}
	return resp
}

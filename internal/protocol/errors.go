package protocol

import "fmt"

// Status mirrors HTTP status semantics inside response payloads.
type Status int

const (
	StatusOK              Status = 200
	StatusAccepted        Status = 202
	StatusBadRequest      Status = 400
	StatusUnauthorized    Status = 401
	StatusForbidden       Status = 403
	StatusNotFound        Status = 404
	StatusConflict        Status = 409
	StatusUpgradeRequired Status = 426
	StatusTooManyRequests Status = 429
	StatusInternalError   Status = 500
)

// ErrorCode identifies a domain-specific failure inside an error payload.
type ErrorCode int

const (
	ErrCodeNone             ErrorCode = 0
	ErrCodeInvalidToken     ErrorCode = 1001
	ErrCodeVersionMismatch  ErrorCode = 1002
	ErrCodeSignatureInvalid ErrorCode = 1003
	ErrCodeParamMissing     ErrorCode = 1004
	ErrCodeRateLimited      ErrorCode = 1005
	ErrCodeUserExists       ErrorCode = 1006
)

// ProtocolError is the structured error handlers raise; the server loop
// converts it into an error response and keeps the connection open.
type ProtocolError struct {
	Status  Status
	Code    ErrorCode
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Code != ErrCodeNone {
		return fmt.Sprintf("protocol error %d (code %d): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("protocol error %d: %s", e.Status, e.Message)
}

func NewError(status Status, code ErrorCode, message string) *ProtocolError {
	return &ProtocolError{Status: status, Code: code, Message: message}
}

func BadRequest(message string) *ProtocolError {
	return &ProtocolError{Status: StatusBadRequest, Message: message}
}

func Unauthorized(message string) *ProtocolError {
	return &ProtocolError{Status: StatusUnauthorized, Message: message}
}

// ErrorPayload is the payload fragment carried by error responses.
type ErrorPayload struct {
	Status       int    `json:"status"`
	ErrorCode    int    `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message"`
}

// Payload maps the error into the fragment clients consume.
func (e *ProtocolError) Payload() ErrorPayload {
	return ErrorPayload{
		Status:       int(e.Status),
		ErrorCode:    int(e.Code),
		ErrorMessage: e.Message,
	}
}

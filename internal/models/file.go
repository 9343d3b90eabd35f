package models

import "time"

// File transfer session lifecycle states.
const (
	FileStatusPending     = "pending"
	FileStatusAccepted    = "accepted"
	FileStatusComplete    = "completed"
	FileStatusError       = "error"
	FileStatusRejected    = "rejected"
	FileStatusUnreachable = "unreachable"
)

type FileSession struct {
	SessionID  string    `json:"sessionId"`
	FileName   string    `json:"fileName"`
	FileSize   int64     `json:"fileSize"`
	Checksum   string    `json:"checksum,omitempty"`
	SenderID   string    `json:"senderId"`
	TargetType string    `json:"targetType"`
	TargetID   string    `json:"targetId"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

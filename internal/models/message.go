package models

import (
	"encoding/json"
	"time"
)

type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	SenderID       string          `json:"senderId"`
	Content        json.RawMessage `json:"content"`
	Timestamp      time.Time       `json:"timestamp"`
}

// QueuedEvent is a serialized event frame parked for an offline user.
type QueuedEvent struct {
	ID        int64
	UserID    string
	Frame     []byte
	CreatedAt time.Time
}

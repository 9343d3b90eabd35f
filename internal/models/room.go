package models

import "time"

type Room struct {
	ID           string    `json:"id"`
	Owner        string    `json:"owner"`
	Encrypted    bool      `json:"encrypted"`
	PasswordHash string    `json:"-"`
	Metadata     string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

type RoomMember struct {
	RoomID   string    `json:"roomId"`
	UserID   string    `json:"userId"`
	JoinedAt time.Time `json:"joinedAt"`
}

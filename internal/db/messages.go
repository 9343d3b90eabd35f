package db

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/caspian-yx/socket-chat-app/internal/models"
)

type MessageRepository struct {
	db *DB
}

func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(conversationID, senderID string, content json.RawMessage) (*models.Message, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	_, err := r.db.Exec(
		`INSERT INTO messages (id, conversation_id, sender_id, content, timestamp) VALUES (?, ?, ?, ?, ?)`,
		id, conversationID, senderID, string(content), now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}

	return &models.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Timestamp:      now,
	}, nil
}

func (r *MessageRepository) History(conversationID string, limit int) ([]*models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.db.Query(
		`SELECT id, conversation_id, sender_id, content, timestamp FROM messages
         WHERE conversation_id = ? ORDER BY timestamp DESC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)
	for rows.Next() {
		var m models.Message
		var content string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Content = json.RawMessage(content)
		messages = append(messages, &m)
	}

	return messages, rows.Err()
}

func (r *MessageRepository) Count() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return count, nil
}

type OfflineQueueRepository struct {
	db *DB
}

func NewOfflineQueueRepository(db *DB) *OfflineQueueRepository {
	return &OfflineQueueRepository{db: db}
}

func (r *OfflineQueueRepository) Enqueue(userID string, frame []byte) error {
	_, err := r.db.Exec(
		`INSERT INTO offline_queue (user_id, frame, created_at) VALUES (?, ?, ?)`,
		userID, frame, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("enqueueing offline frame: %w", err)
	}
	return nil
}

// Drain atomically removes and returns every queued frame for userID in
// insertion order.
func (r *OfflineQueueRepository) Drain(userID string) ([]*models.QueuedEvent, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning drain: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`SELECT id, user_id, frame, created_at FROM offline_queue WHERE user_id = ? ORDER BY id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying offline queue: %w", err)
	}

	var events []*models.QueuedEvent
	for rows.Next() {
		var e models.QueuedEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.Frame, &e.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning offline frame: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := tx.Exec(`DELETE FROM offline_queue WHERE user_id = ?`, userID); err != nil {
		return nil, fmt.Errorf("clearing offline queue: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing drain: %w", err)
	}
	return events, nil
}

func (r *OfflineQueueRepository) Len(userID string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM offline_queue WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting offline queue: %w", err)
	}
	return count, nil
}

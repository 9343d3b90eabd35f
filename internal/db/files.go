package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/caspian-yx/socket-chat-app/internal/models"
)

type FileRepository struct {
	db *DB
}

func NewFileRepository(db *DB) *FileRepository {
	return &FileRepository{db: db}
}

func (r *FileRepository) Create(session *models.FileSession) error {
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now

	_, err := r.db.Exec(
		`INSERT INTO files (session_id, file_name, file_size, checksum, sender_id, target_type, target_id, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.SessionID, session.FileName, session.FileSize, session.Checksum,
		session.SenderID, session.TargetType, session.TargetID, session.Status,
		session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("creating file session: %w", err)
	}
	return nil
}

func (r *FileRepository) Find(sessionID string) (*models.FileSession, error) {
	var s models.FileSession
	var checksum sql.NullString
	err := r.db.QueryRow(
		`SELECT session_id, file_name, file_size, checksum, sender_id, target_type, target_id, status, created_at, updated_at
         FROM files WHERE session_id = ?`,
		sessionID,
	).Scan(&s.SessionID, &s.FileName, &s.FileSize, &checksum, &s.SenderID,
		&s.TargetType, &s.TargetID, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying file session: %w", err)
	}
	s.Checksum = checksum.String
	return &s, nil
}

func (r *FileRepository) UpdateStatus(sessionID, status string) error {
	result, err := r.db.Exec(
		`UPDATE files SET status = ?, updated_at = ? WHERE session_id = ?`,
		status, time.Now().UTC(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("updating file session status: %w", err)
	}
	return checkRowsAffected(result)
}

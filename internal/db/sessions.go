package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/caspian-yx/socket-chat-app/internal/models"
)

type SessionRepository struct {
	db *DB
}

func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(userID string, ttl time.Duration) (*models.Session, error) {
	token, err := GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("generating session token: %w", err)
	}
	now := time.Now().UTC()
	session := &models.Session{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	_, err = r.db.Exec(
		`INSERT INTO sessions (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		session.Token, session.UserID, session.CreatedAt, session.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	return session, nil
}

func (r *SessionRepository) FindByToken(token string) (*models.Session, error) {
	var s models.Session
	err := r.db.QueryRow(
		`SELECT token, user_id, created_at, expires_at FROM sessions WHERE token = ?`, token,
	).Scan(&s.Token, &s.UserID, &s.CreatedAt, &s.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return &s, nil
}

func (r *SessionRepository) Delete(token string) error {
	result, err := r.db.Exec(`DELETE FROM sessions WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *SessionRepository) DeleteByUser(userID string) error {
	if _, err := r.db.Exec(`DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("deleting user sessions: %w", err)
	}
	return nil
}

func (r *SessionRepository) DeleteExpired(now time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM sessions WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	return result.RowsAffected()
}

type PresenceRepository struct {
	db *DB
}

func NewPresenceRepository(db *DB) *PresenceRepository {
	return &PresenceRepository{db: db}
}

func (r *PresenceRepository) Set(userID, state string) error {
	_, err := r.db.Exec(
		`INSERT INTO presence (user_id, state, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(user_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		userID, state, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("setting presence: %w", err)
	}
	return nil
}

func (r *PresenceRepository) Get(userID string) (*models.Presence, error) {
	var p models.Presence
	err := r.db.QueryRow(
		`SELECT user_id, state, updated_at FROM presence WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.State, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying presence: %w", err)
	}
	return &p, nil
}

func (r *PresenceRepository) ListByState(state string) ([]string, error) {
	rows, err := r.db.Query(`SELECT user_id FROM presence WHERE state = ? ORDER BY user_id`, state)
	if err != nil {
		return nil, fmt.Errorf("querying presence list: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning presence row: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/caspian-yx/socket-chat-app/internal/models"
)

type FriendRepository struct {
	db *DB
}

func NewFriendRepository(db *DB) *FriendRepository {
	return &FriendRepository{db: db}
}

// UpsertRequest creates a pending request from fromUser to toUser, or
// re-opens an existing one to pending.
func (r *FriendRepository) UpsertRequest(fromUser, toUser, message string) (*models.FriendRequest, error) {
	now := time.Now().UTC()

	_, err := r.db.Exec(
		`INSERT INTO friend_requests (from_user, to_user, message, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(from_user, to_user) DO UPDATE SET
             message = excluded.message,
             status = excluded.status,
             updated_at = excluded.updated_at`,
		fromUser, toUser, message, models.FriendRequestPending, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upserting friend request: %w", err)
	}

	return r.findRequestByPair(fromUser, toUser)
}

func (r *FriendRepository) FindRequest(id int64) (*models.FriendRequest, error) {
	return r.scanRequest(r.db.QueryRow(
		`SELECT id, from_user, to_user, message, status, created_at, updated_at
         FROM friend_requests WHERE id = ?`, id,
	))
}

func (r *FriendRepository) findRequestByPair(fromUser, toUser string) (*models.FriendRequest, error) {
	return r.scanRequest(r.db.QueryRow(
		`SELECT id, from_user, to_user, message, status, created_at, updated_at
         FROM friend_requests WHERE from_user = ? AND to_user = ?`, fromUser, toUser,
	))
}

func (r *FriendRepository) scanRequest(row *sql.Row) (*models.FriendRequest, error) {
	var req models.FriendRequest
	var message sql.NullString
	err := row.Scan(&req.ID, &req.FromUser, &req.ToUser, &message, &req.Status, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying friend request: %w", err)
	}
	req.Message = message.String
	return &req, nil
}

func (r *FriendRepository) UpdateRequestStatus(id int64, status string) error {
	result, err := r.db.Exec(
		`UPDATE friend_requests SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating friend request: %w", err)
	}
	return checkRowsAffected(result)
}

// Accept flips the request to accepted and records the friendship in one
// transaction. The friendship row is canonical with user1 < user2 and the
// insert is idempotent.
func (r *FriendRepository) Accept(req *models.FriendRequest) error {
	u1, u2 := canonicalPair(req.FromUser, req.ToUser)
	now := time.Now().UTC()

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning friend accept: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`UPDATE friend_requests SET status = ?, updated_at = ? WHERE id = ?`,
		models.FriendRequestAccepted, now, req.ID,
	)
	if err != nil {
		return fmt.Errorf("accepting friend request: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO friends (user1, user2, created_at) VALUES (?, ?, ?)
         ON CONFLICT(user1, user2) DO NOTHING`,
		u1, u2, now,
	)
	if err != nil {
		return fmt.Errorf("recording friendship: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing friend accept: %w", err)
	}
	return nil
}

func (r *FriendRepository) AreFriends(userA, userB string) (bool, error) {
	u1, u2 := canonicalPair(userA, userB)
	var count int
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM friends WHERE user1 = ? AND user2 = ?`, u1, u2,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking friendship: %w", err)
	}
	return count > 0, nil
}

func (r *FriendRepository) DeleteFriendship(userA, userB string) error {
	u1, u2 := canonicalPair(userA, userB)
	result, err := r.db.Exec(`DELETE FROM friends WHERE user1 = ? AND user2 = ?`, u1, u2)
	if err != nil {
		return fmt.Errorf("deleting friendship: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *FriendRepository) ListFriends(userID string) ([]string, error) {
	rows, err := r.db.Query(
		`SELECT CASE WHEN user1 = ? THEN user2 ELSE user1 END AS friend
         FROM friends WHERE user1 = ? OR user2 = ? ORDER BY friend`,
		userID, userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying friends: %w", err)
	}
	defer rows.Close()

	friends := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning friend: %w", err)
		}
		friends = append(friends, id)
	}
	return friends, rows.Err()
}

// ListPendingRequests returns open requests addressed to userID.
func (r *FriendRepository) ListPendingRequests(userID string) ([]*models.FriendRequest, error) {
	return r.listRequests(
		`SELECT id, from_user, to_user, message, status, created_at, updated_at
         FROM friend_requests WHERE to_user = ? AND status = ? ORDER BY id`,
		userID, models.FriendRequestPending,
	)
}

// ListSentRequests returns open requests userID has sent.
func (r *FriendRepository) ListSentRequests(userID string) ([]*models.FriendRequest, error) {
	return r.listRequests(
		`SELECT id, from_user, to_user, message, status, created_at, updated_at
         FROM friend_requests WHERE from_user = ? AND status = ? ORDER BY id`,
		userID, models.FriendRequestPending,
	)
}

func (r *FriendRepository) listRequests(query string, args ...any) ([]*models.FriendRequest, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying friend requests: %w", err)
	}
	defer rows.Close()

	requests := make([]*models.FriendRequest, 0)
	for rows.Next() {
		var req models.FriendRequest
		var message sql.NullString
		if err := rows.Scan(&req.ID, &req.FromUser, &req.ToUser, &message, &req.Status, &req.CreatedAt, &req.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning friend request: %w", err)
		}
		req.Message = message.String
		requests = append(requests, &req)
	}
	return requests, rows.Err()
}

func canonicalPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

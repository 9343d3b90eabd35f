package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/caspian-yx/socket-chat-app/internal/models"
)

type RoomRepository struct {
	db *DB
}

func NewRoomRepository(db *DB) *RoomRepository {
	return &RoomRepository{db: db}
}

// Create inserts the room and the owner's membership in one transaction.
func (r *RoomRepository) Create(roomID, owner string, encrypted bool, passwordHash string) (*models.Room, error) {
	now := time.Now().UTC()

	tx, err := r.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning room create: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO rooms (id, owner, encrypted, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		roomID, owner, encrypted, passwordHash, now,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("creating room: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO room_members (room_id, user_id, joined_at) VALUES (?, ?, ?)`,
		roomID, owner, now,
	)
	if err != nil {
		return nil, fmt.Errorf("adding room owner: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing room create: %w", err)
	}

	return &models.Room{
		ID:           roomID,
		Owner:        owner,
		Encrypted:    encrypted,
		PasswordHash: passwordHash,
		CreatedAt:    now,
	}, nil
}

func (r *RoomRepository) Find(roomID string) (*models.Room, error) {
	var room models.Room
	var passwordHash, metadata sql.NullString
	err := r.db.QueryRow(
		`SELECT id, owner, encrypted, password_hash, metadata, created_at FROM rooms WHERE id = ?`,
		roomID,
	).Scan(&room.ID, &room.Owner, &room.Encrypted, &passwordHash, &metadata, &room.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying room: %w", err)
	}
	room.PasswordHash = passwordHash.String
	room.Metadata = metadata.String
	return &room, nil
}

// Delete removes the room; memberships cascade.
func (r *RoomRepository) Delete(roomID string) error {
	result, err := r.db.Exec(`DELETE FROM rooms WHERE id = ?`, roomID)
	if err != nil {
		return fmt.Errorf("deleting room: %w", err)
	}
	return checkRowsAffected(result)
}

// AddMember is idempotent for existing memberships.
func (r *RoomRepository) AddMember(roomID, userID string) error {
	_, err := r.db.Exec(
		`INSERT INTO room_members (room_id, user_id, joined_at) VALUES (?, ?, ?)
         ON CONFLICT(room_id, user_id) DO NOTHING`,
		roomID, userID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("adding room member: %w", err)
	}
	return nil
}

func (r *RoomRepository) RemoveMember(roomID, userID string) error {
	result, err := r.db.Exec(
		`DELETE FROM room_members WHERE room_id = ? AND user_id = ?`,
		roomID, userID,
	)
	if err != nil {
		return fmt.Errorf("removing room member: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *RoomRepository) IsMember(roomID, userID string) (bool, error) {
	var count int
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM room_members WHERE room_id = ? AND user_id = ?`,
		roomID, userID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking room membership: %w", err)
	}
	return count > 0, nil
}

func (r *RoomRepository) Members(roomID string) ([]string, error) {
	rows, err := r.db.Query(
		`SELECT user_id FROM room_members WHERE room_id = ? ORDER BY joined_at, user_id`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying room members: %w", err)
	}
	defer rows.Close()

	members := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning room member: %w", err)
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

func (r *RoomRepository) RoomsForUser(userID string) ([]string, error) {
	rows, err := r.db.Query(
		`SELECT room_id FROM room_members WHERE user_id = ? ORDER BY room_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying user rooms: %w", err)
	}
	defer rows.Close()

	rooms := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning user room: %w", err)
		}
		rooms = append(rooms, id)
	}
	return rooms, rows.Err()
}

func (r *RoomRepository) Count() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM rooms`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting rooms: %w", err)
	}
	return count, nil
}

package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"ember-chat/internal/models"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomExists   = errors.New("room already exists")
)

// RoomRepository is the durable room registry: names, owners, slow-mode and
// bans survive restarts even though messages do not.
type RoomRepository interface {
	CreateRoom(ctx context.Context, name string, ownerAccountID string) (models.Room, error)
	GetRoom(ctx context.Context, name string) (models.Room, error)
	ListRooms(ctx context.Context) ([]models.Room, error)
	SetSlowMode(ctx context.Context, name string, seconds int) error
	InsertBan(ctx context.Context, room string, identityKey string, bannedBy string) error
	RemoveBan(ctx context.Context, room string, identityKey string) error
	ListBans(ctx context.Context, room string) ([]models.RoomBan, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// CreateRoom inserts a room. Names are unique and immutable once created.
func (r *RoomRepo) CreateRoom(ctx context.Context, name string, ownerAccountID string) (models.Room, error) {
	var room models.Room
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO rooms (name, owner_account_id) VALUES ($1, $2) RETURNING id, name, owner_account_id, slow_mode_seconds, created_at`,
		name, ownerAccountID).
		Scan(&room.ID, &room.Name, &room.OwnerAccountID, &room.SlowModeSeconds, &room.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return models.Room{}, ErrRoomExists
		}
		return models.Room{}, err
	}
	return room, nil
}

// GetRoom fetches a room by name.
func (r *RoomRepo) GetRoom(ctx context.Context, name string) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT id, name, owner_account_id, slow_mode_seconds, created_at FROM rooms WHERE name=$1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// ListRooms returns all rooms, newest first.
func (r *RoomRepo) ListRooms(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	err := r.db.SelectContext(ctx, &rooms, `SELECT id, name, owner_account_id, slow_mode_seconds, created_at FROM rooms ORDER BY created_at DESC`)
	return rooms, err
}

// SetSlowMode persists the slow-mode interval of a room.
func (r *RoomRepo) SetSlowMode(ctx context.Context, name string, seconds int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE rooms SET slow_mode_seconds=$2 WHERE name=$1`, name, seconds)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrRoomNotFound
	}
	return nil
}

// InsertBan records a room ban. Idempotent for repeated bans of one identity.
func (r *RoomRepo) InsertBan(ctx context.Context, room string, identityKey string, bannedBy string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO room_bans (room_name, identity_key, banned_by) VALUES ($1, $2, $3)
        ON CONFLICT (room_name, identity_key) DO NOTHING`, room, identityKey, bannedBy)
	return err
}

// RemoveBan lifts a room ban.
func (r *RoomRepo) RemoveBan(ctx context.Context, room string, identityKey string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM room_bans WHERE room_name=$1 AND identity_key=$2`, room, identityKey)
	return err
}

// ListBans returns the active bans of a room.
func (r *RoomRepo) ListBans(ctx context.Context, room string) ([]models.RoomBan, error) {
	var bans []models.RoomBan
	err := r.db.SelectContext(ctx, &bans, `SELECT room_name, identity_key, banned_by, created_at FROM room_bans WHERE room_name=$1`, room)
	return bans, err
}

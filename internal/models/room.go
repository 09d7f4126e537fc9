package models

import "time"

// Room is a named, owner-scoped channel. Rooms never expire; the messages
// inside them do.
type Room struct {
	ID              int       `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	OwnerAccountID  string    `db:"owner_account_id" json:"-"`
	SlowModeSeconds int       `db:"slow_mode_seconds" json:"slow_mode_seconds"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// RoomBan blocks an identity from a room until explicitly lifted.
type RoomBan struct {
	RoomName    string    `db:"room_name" json:"room_name"`
	IdentityKey string    `db:"identity_key" json:"-"`
	BannedBy    string    `db:"banned_by" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

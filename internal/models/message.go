package models

import "time"

// GlobalChannel is the implicit channel every connection subscribes to.
const GlobalChannel = "global"

// RoomChannel returns the channel name for a named room.
func RoomChannel(room string) string {
	return "room:" + room
}

// Message is a live chat message. IDs are monotonic per channel so clients
// can deduplicate. OriginKey identifies the sender for rate limiting and
// moderation and is never serialized to clients.
type Message struct {
	ID        int64     `json:"id"`
	Channel   string    `json:"channel"`
	Author    string    `json:"author"`
	OriginKey string    `json:"-"`
	Content   string    `json:"content"`
	ReplyToID int64     `json:"reply_to_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

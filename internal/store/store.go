package store

import (
	"sync"
	"time"

	"ember-chat/internal/models"
)

// Store keeps the live messages of every channel in memory. Each channel
// assigns monotonically increasing ids and retains at most cap not-yet-expired
// messages; the oldest over-cap entries are evicted silently.
type Store struct {
	mu       sync.RWMutex
	channels map[string]*channelLog

	ttl time.Duration
	cap int
}

type channelLog struct {
	mu     sync.Mutex
	nextID int64
	msgs   []models.Message
}

// New creates a Store. ttl is the message time-to-live, cap the per-channel
// retention limit.
func New(ttl time.Duration, cap int) *Store {
	return &Store{
		channels: make(map[string]*channelLog),
		ttl:      ttl,
		cap:      cap,
	}
}

func (s *Store) channel(name string) *channelLog {
	s.mu.RLock()
	ch, ok := s.channels[name]
	s.mu.RUnlock()
	if ok {
		return ch
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok = s.channels[name]; !ok {
		ch = &channelLog{nextID: 1}
		s.channels[name] = ch
	}
	return ch
}

// Append assigns an id and timestamps to msg and stores it. The returned
// message is the authoritative copy.
func (s *Store) Append(channel string, msg models.Message) models.Message {
	ch := s.channel(channel)
	ch.mu.Lock()
	defer ch.mu.Unlock()

	now := time.Now()
	msg.ID = ch.nextID
	ch.nextID++
	msg.Channel = channel
	msg.CreatedAt = now
	msg.ExpiresAt = now.Add(s.ttl)
	ch.msgs = append(ch.msgs, msg)

	if len(ch.msgs) > s.cap {
		over := len(ch.msgs) - s.cap
		ch.msgs = append(ch.msgs[:0:0], ch.msgs[over:]...)
	}
	return msg
}

// List returns the live messages of a channel oldest first, at most limit
// entries (the most recent ones). limit <= 0 means no limit.
func (s *Store) List(channel string, limit int) []models.Message {
	ch := s.channel(channel)
	ch.mu.Lock()
	defer ch.mu.Unlock()

	now := time.Now()
	live := make([]models.Message, 0, len(ch.msgs))
	for _, m := range ch.msgs {
		if now.Before(m.ExpiresAt) {
			live = append(live, m)
		}
	}
	if limit > 0 && len(live) > limit {
		live = live[len(live)-limit:]
	}
	return live
}

// Get fetches a live message by id.
func (s *Store) Get(channel string, messageID int64) (models.Message, bool) {
	ch := s.channel(channel)
	ch.mu.Lock()
	defer ch.mu.Unlock()

	for _, m := range ch.msgs {
		if m.ID == messageID {
			if !time.Now().Before(m.ExpiresAt) {
				return models.Message{}, false
			}
			return m, true
		}
	}
	return models.Message{}, false
}

// Remove deletes a live message by id. Reports false when absent or already
// expired; expired entries are the reaper's to collect.
func (s *Store) Remove(channel string, messageID int64) bool {
	ch := s.channel(channel)
	ch.mu.Lock()
	defer ch.mu.Unlock()

	for i, m := range ch.msgs {
		if m.ID == messageID {
			if !time.Now().Before(m.ExpiresAt) {
				return false
			}
			ch.msgs = append(ch.msgs[:i], ch.msgs[i+1:]...)
			return true
		}
	}
	return false
}

// SweepExpired removes and returns every message of the channel whose expiry
// has passed.
func (s *Store) SweepExpired(channel string, now time.Time) []models.Message {
	ch := s.channel(channel)
	ch.mu.Lock()
	defer ch.mu.Unlock()

	var expired []models.Message
	kept := ch.msgs[:0]
	for _, m := range ch.msgs {
		if now.Before(m.ExpiresAt) {
			kept = append(kept, m)
		} else {
			expired = append(expired, m)
		}
	}
	ch.msgs = kept
	return expired
}

// Channels lists the channels the store currently tracks.
func (s *Store) Channels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	return names
}

// Count returns the number of live messages in a channel.
func (s *Store) Count(channel string) int {
	return len(s.List(channel, 0))
}

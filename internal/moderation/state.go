package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ember-chat/internal/identity"
	"ember-chat/internal/models"
	"ember-chat/internal/repositories"
	"ember-chat/internal/telemetry"
)

var (
	ErrForbidden = errors.New("forbidden")
	ErrNotFound  = errors.New("not found")
)

// MessageSource is the slice of the message store moderation needs: target
// resolution always goes through the stored origin identity of a message,
// never a client-supplied identity string.
type MessageSource interface {
	Get(channel string, messageID int64) (models.Message, bool)
	Remove(channel string, messageID int64) bool
}

// State holds mutes, bans and slow-mode settings and gates every mutating
// call on actor privilege. Successful actions are written to the audit
// stream.
type State struct {
	rooms    repositories.RoomRepository
	messages MessageSource
	audit    *telemetry.AuditEmitter
	superOps map[string]struct{}

	mu        sync.RWMutex
	mutes     map[muteKey]time.Time
	slow      map[string]time.Duration
	bans      map[string]map[string]struct{}
	banLoaded map[string]struct{}
}

type muteKey struct {
	identity string
	channel  string
}

// New constructs a State. superOperators are account ids with override
// privilege on every channel.
func New(rooms repositories.RoomRepository, messages MessageSource, audit *telemetry.AuditEmitter, superOperators []string) *State {
	ops := make(map[string]struct{}, len(superOperators))
	for _, op := range superOperators {
		if op = strings.TrimSpace(op); op != "" {
			ops[op] = struct{}{}
		}
	}
	return &State{
		rooms:     rooms,
		messages:  messages,
		audit:     audit,
		superOps:  ops,
		mutes:     make(map[muteKey]time.Time),
		slow:      make(map[string]time.Duration),
		bans:      make(map[string]map[string]struct{}),
		banLoaded: make(map[string]struct{}),
	}
}

// RoomName extracts the room of a channel name; ok is false for the global
// channel.
func RoomName(channel string) (string, bool) {
	name := strings.TrimPrefix(channel, "room:")
	if name == channel {
		return "", false
	}
	return name, true
}

// CanModerate reports whether actor may perform privileged actions on the
// channel: super-operators anywhere, guardians on the global channel, owners
// on their room.
func (s *State) CanModerate(ctx context.Context, actor identity.Identity, channel string, now time.Time) (bool, error) {
	if _, ok := s.superOps[actor.AccountID]; ok && actor.AccountID != "" {
		return true, nil
	}

	room, isRoom := RoomName(channel)
	if !isRoom {
		return actor.IsGuardian(now), nil
	}

	if actor.AccountID == "" {
		return false, nil
	}
	record, err := s.rooms.GetRoom(ctx, room)
	if err != nil {
		if errors.Is(err, repositories.ErrRoomNotFound) {
			return false, nil
		}
		return false, err
	}
	return record.OwnerAccountID == actor.AccountID, nil
}

// Mute silences the author of the target message on the channel for the
// given duration. The target identity comes from the stored message origin.
func (s *State) Mute(ctx context.Context, actor identity.Identity, channel string, targetMessageID int64, duration time.Duration) (models.Message, error) {
	if err := s.requirePrivilege(ctx, actor, channel); err != nil {
		return models.Message{}, err
	}

	target, ok := s.messages.Get(channel, targetMessageID)
	if !ok {
		return models.Message{}, ErrNotFound
	}

	s.mu.Lock()
	s.mutes[muteKey{identity: target.OriginKey, channel: channel}] = time.Now().Add(duration)
	s.mu.Unlock()

	s.emit(ctx, telemetry.AuditPayload{
		Actor:           actor.Key,
		Action:          "mute",
		Channel:         channel,
		TargetMessageID: targetMessageID,
		TargetKey:       target.OriginKey,
		Detail:          fmt.Sprintf("duration=%s", duration),
	})
	return target, nil
}

// Unmute lifts a mute before its expiry.
func (s *State) Unmute(ctx context.Context, actor identity.Identity, channel string, identityKey string) error {
	if err := s.requirePrivilege(ctx, actor, channel); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.mutes, muteKey{identity: identityKey, channel: channel})
	s.mu.Unlock()

	s.emit(ctx, telemetry.AuditPayload{
		Actor:     actor.Key,
		Action:    "unmute",
		Channel:   channel,
		TargetKey: identityKey,
	})
	return nil
}

// IsMuted reports whether the identity is muted on the channel at now.
func (s *State) IsMuted(identityKey, channel string, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	expiry, ok := s.mutes[muteKey{identity: identityKey, channel: channel}]
	return ok && now.Before(expiry)
}

// Ban durably blocks the author of the target message from the room until
// explicitly lifted.
func (s *State) Ban(ctx context.Context, actor identity.Identity, room string, targetMessageID int64) (models.Message, error) {
	channel := models.RoomChannel(room)
	if err := s.requirePrivilege(ctx, actor, channel); err != nil {
		return models.Message{}, err
	}

	target, ok := s.messages.Get(channel, targetMessageID)
	if !ok {
		return models.Message{}, ErrNotFound
	}

	if err := s.rooms.InsertBan(ctx, room, target.OriginKey, actor.Key); err != nil {
		return models.Message{}, err
	}

	s.mu.Lock()
	if s.bans[room] == nil {
		s.bans[room] = make(map[string]struct{})
	}
	s.bans[room][target.OriginKey] = struct{}{}
	s.mu.Unlock()

	s.emit(ctx, telemetry.AuditPayload{
		Actor:           actor.Key,
		Action:          "ban",
		Channel:         channel,
		TargetMessageID: targetMessageID,
		TargetKey:       target.OriginKey,
	})
	return target, nil
}

// Unban lifts a room ban.
func (s *State) Unban(ctx context.Context, actor identity.Identity, room string, identityKey string) error {
	channel := models.RoomChannel(room)
	if err := s.requirePrivilege(ctx, actor, channel); err != nil {
		return err
	}

	if err := s.rooms.RemoveBan(ctx, room, identityKey); err != nil {
		return err
	}

	s.mu.Lock()
	if set, ok := s.bans[room]; ok {
		delete(set, identityKey)
	}
	s.mu.Unlock()

	s.emit(ctx, telemetry.AuditPayload{
		Actor:     actor.Key,
		Action:    "unban",
		Channel:   channel,
		TargetKey: identityKey,
	})
	return nil
}

// IsBanned reports whether the identity is banned from the room. Bans are
// loaded from the registry once per room and kept in memory afterwards.
func (s *State) IsBanned(ctx context.Context, identityKey, room string) (bool, error) {
	s.mu.RLock()
	_, loaded := s.banLoaded[room]
	if loaded {
		_, banned := s.bans[room][identityKey]
		s.mu.RUnlock()
		return banned, nil
	}
	s.mu.RUnlock()

	if err := s.loadBans(ctx, room); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, banned := s.bans[room][identityKey]
	return banned, nil
}

func (s *State) loadBans(ctx context.Context, room string) error {
	bans, err := s.rooms.ListBans(ctx, room)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.banLoaded[room]; ok {
		return nil
	}
	set := make(map[string]struct{}, len(bans))
	for _, b := range bans {
		set[b.IdentityKey] = struct{}{}
	}
	s.bans[room] = set
	s.banLoaded[room] = struct{}{}
	return nil
}

// SetSlowMode sets the minimum inter-message interval of a channel. Room
// intervals are persisted to the registry; the global channel is in-memory
// only.
func (s *State) SetSlowMode(ctx context.Context, actor identity.Identity, channel string, seconds int) error {
	if seconds < 0 {
		seconds = 0
	}
	if err := s.requirePrivilege(ctx, actor, channel); err != nil {
		return err
	}

	if room, isRoom := RoomName(channel); isRoom {
		if err := s.rooms.SetSlowMode(ctx, room, seconds); err != nil {
			if errors.Is(err, repositories.ErrRoomNotFound) {
				return ErrNotFound
			}
			return err
		}
	}

	s.mu.Lock()
	s.slow[channel] = time.Duration(seconds) * time.Second
	s.mu.Unlock()

	s.emit(ctx, telemetry.AuditPayload{
		Actor:   actor.Key,
		Action:  "slow_mode",
		Channel: channel,
		Detail:  fmt.Sprintf("seconds=%d", seconds),
	})
	return nil
}

// SlowModeFor returns the active slow-mode interval of a channel.
func (s *State) SlowModeFor(channel string) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slow[channel]
}

// PrimeRoom loads a room's persisted slow-mode and bans into memory. Called
// when a connection targets the room.
func (s *State) PrimeRoom(ctx context.Context, room models.Room) error {
	s.mu.Lock()
	channel := models.RoomChannel(room.Name)
	if _, ok := s.slow[channel]; !ok {
		s.slow[channel] = time.Duration(room.SlowModeSeconds) * time.Second
	}
	s.mu.Unlock()
	return s.loadBans(ctx, room.Name)
}

// DeleteMessage removes a message on behalf of a privileged actor.
func (s *State) DeleteMessage(ctx context.Context, actor identity.Identity, channel string, messageID int64) error {
	if err := s.requirePrivilege(ctx, actor, channel); err != nil {
		return err
	}

	if !s.messages.Remove(channel, messageID) {
		return ErrNotFound
	}

	s.emit(ctx, telemetry.AuditPayload{
		Actor:           actor.Key,
		Action:          "delete",
		Channel:         channel,
		TargetMessageID: messageID,
	})
	return nil
}

// PruneExpiredMutes drops mutes whose expiry has passed. Invoked by the
// reaper once per tick.
func (s *State) PruneExpiredMutes(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, expiry := range s.mutes {
		if !now.Before(expiry) {
			delete(s.mutes, key)
		}
	}
}

func (s *State) requirePrivilege(ctx context.Context, actor identity.Identity, channel string) error {
	ok, err := s.CanModerate(ctx, actor, channel, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

func (s *State) emit(ctx context.Context, payload telemetry.AuditPayload) {
	if s.audit != nil {
		s.audit.EmitAction(ctx, payload)
	}
}

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"ember-chat/internal/models"
	"ember-chat/internal/moderation"
	"ember-chat/internal/observability"
	"ember-chat/internal/ratelimit"
	"ember-chat/internal/store"
)

const defaultMuteDuration = 10 * time.Minute

// SessionConfig carries the per-connection limits a session enforces.
type SessionConfig struct {
	MaxContentLength int
	InitialMessages  int
	IdleTimeout      time.Duration
}

// Session processes the inbound command stream of one connection: it
// validates sends against moderation and rate limits, appends accepted
// messages to the store and publishes them, and dispatches guardian actions.
// Rejections go back to the originating connection only.
type Session struct {
	client  *Client
	hub     *Hub
	store   *store.Store
	limiter *ratelimit.Limiter
	mod     *moderation.State
	cfg     SessionConfig
}

// NewSession builds a Session for a registered client.
func NewSession(client *Client, hub *Hub, messageStore *store.Store, limiter *ratelimit.Limiter, mod *moderation.State, cfg SessionConfig) *Session {
	return &Session{
		client:  client,
		hub:     hub,
		store:   messageStore,
		limiter: limiter,
		mod:     mod,
		cfg:     cfg,
	}
}

// SendInitialState pushes guardian status and the live backlog of every
// subscribed channel to the client.
func (s *Session) SendInitialState() {
	now := time.Now()
	s.sendEvent(models.NewGuardianStatusEvent(s.client.Identity.IsGuardian(now)))

	s.sendEvent(models.NewInitialMessagesEvent(models.GlobalChannel, s.store.List(models.GlobalChannel, s.cfg.InitialMessages)))
	if room := s.client.Room(); room != "" {
		s.sendEvent(models.NewInitialMessagesEvent(room, s.store.List(room, s.cfg.InitialMessages)))
	}
}

// ReadLoop consumes inbound frames until the connection closes or the idle
// timeout fires. It returns the close reason, if any.
func (s *Session) ReadLoop(ctx context.Context) string {
	conn := s.client.conn
	conn.SetReadLimit(int64(s.cfg.MaxContentLength) + 512)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ""
			}
			return err.Error()
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))

		var cmd models.ClientCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			s.sendError(models.ReasonBadRequest, "malformed frame")
			continue
		}
		s.HandleCommand(ctx, cmd)
	}
}

// HandleCommand dispatches one inbound command.
func (s *Session) HandleCommand(ctx context.Context, cmd models.ClientCommand) {
	switch cmd.Type {
	case models.CommandSendMessage:
		s.handleSend(ctx, cmd)
	case models.CommandGuardianAction:
		s.handleGuardianAction(ctx, cmd)
	default:
		s.sendError(models.ReasonBadRequest, fmt.Sprintf("unknown command %q", cmd.Type))
	}
}

// targetChannel is where this connection's sends and actions land: the room
// it is subscribed to, or the global feed.
func (s *Session) targetChannel() string {
	if room := s.client.Room(); room != "" {
		return room
	}
	return models.GlobalChannel
}

func (s *Session) handleSend(ctx context.Context, cmd models.ClientCommand) {
	content := strings.TrimSpace(cmd.Content)
	if content == "" {
		s.sendError(models.ReasonEmpty, "message is empty")
		return
	}
	if len(content) > s.cfg.MaxContentLength {
		s.sendError(models.ReasonTooLong, fmt.Sprintf("message exceeds %d bytes", s.cfg.MaxContentLength))
		return
	}

	channel := s.targetChannel()
	id := s.client.Identity
	now := time.Now()

	if room, isRoom := moderation.RoomName(channel); isRoom {
		banned, err := s.mod.IsBanned(ctx, id.Key, room)
		if err != nil {
			log.Printf("ban check failed conn=%s: %v", s.client.ID, err)
			s.sendError(models.ReasonBadRequest, "try again later")
			return
		}
		if banned {
			s.sendError(models.ReasonBanned, "you cannot post in this room")
			return
		}
	}
	if s.mod.IsMuted(id.Key, channel, now) {
		s.sendError(models.ReasonMuted, "you are muted")
		return
	}

	verdict := s.limiter.Allow(id.Key, channel, s.mod.SlowModeFor(channel), now)
	switch verdict.Code {
	case ratelimit.SlowMode:
		s.sendError(models.ReasonSlowMode, fmt.Sprintf("slow mode: wait %ds", retrySeconds(verdict.RetryAfter)))
		return
	case ratelimit.Limited, ratelimit.Blocked:
		s.sendError(models.ReasonRateLimited, fmt.Sprintf("rate limited: wait %ds", retrySeconds(verdict.RetryAfter)))
		return
	}

	msg := s.store.Append(channel, models.Message{
		Author:    id.Handle,
		OriginKey: id.Key,
		Content:   content,
		ReplyToID: cmd.ReplyToID,
	})
	observability.IncMessageAccepted(channel)
	s.hub.Publish(channel, models.NewMessageEvent(msg))
}

func (s *Session) handleGuardianAction(ctx context.Context, cmd models.ClientCommand) {
	channel := s.targetChannel()
	actor := s.client.Identity

	var err error
	switch cmd.Action {
	case models.ActionDelete:
		if err = s.mod.DeleteMessage(ctx, actor, channel, cmd.MessageID); err == nil {
			s.hub.Publish(channel, models.NewMessageDeletedEvent(channel, cmd.MessageID))
		}
	case models.ActionMute:
		duration := defaultMuteDuration
		if cmd.Seconds > 0 {
			duration = time.Duration(cmd.Seconds) * time.Second
		}
		var target models.Message
		if target, err = s.mod.Mute(ctx, actor, channel, cmd.MessageID, duration); err == nil {
			s.hub.Publish(channel, models.NewSystemMessageEvent(fmt.Sprintf("%s has been muted", target.Author)))
		}
	case models.ActionBan:
		room, isRoom := moderation.RoomName(channel)
		if !isRoom {
			s.sendError(models.ReasonBadRequest, "bans apply to rooms")
			return
		}
		var target models.Message
		if target, err = s.mod.Ban(ctx, actor, room, cmd.MessageID); err == nil {
			s.hub.Publish(channel, models.NewSystemMessageEvent(fmt.Sprintf("%s has been banned", target.Author)))
		}
	case models.ActionSlowMode:
		if err = s.mod.SetSlowMode(ctx, actor, channel, cmd.Seconds); err == nil {
			s.hub.Publish(channel, models.NewSlowModeChangedEvent(channel, cmd.Seconds))
			s.hub.Publish(channel, models.NewSystemMessageEvent(fmt.Sprintf("slow mode set to %ds", cmd.Seconds)))
		}
	default:
		s.sendError(models.ReasonBadRequest, fmt.Sprintf("unknown action %q", cmd.Action))
		return
	}

	switch {
	case err == nil:
	case errors.Is(err, moderation.ErrForbidden):
		s.sendError(models.ReasonForbidden, "not allowed")
	case errors.Is(err, moderation.ErrNotFound):
		s.sendError(models.ReasonNotFound, "message not found")
	default:
		log.Printf("guardian action failed conn=%s action=%s: %v", s.client.ID, cmd.Action, err)
		s.sendError(models.ReasonBadRequest, "action failed")
	}
}

func (s *Session) sendEvent(event any) {
	payload := marshal(event)
	if payload == nil {
		return
	}
	if !s.client.enqueue(payload) {
		s.hub.dropAll([]*Client{s.client})
	}
}

func (s *Session) sendError(kind, message string) {
	observability.IncMessageRejected(kind)
	s.sendEvent(models.NewErrorEvent(kind, message))
}

func retrySeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

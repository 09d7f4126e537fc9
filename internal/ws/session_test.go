package ws

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	tmock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ember-chat/internal/identity"
	"ember-chat/internal/mocks"
	"ember-chat/internal/models"
	"ember-chat/internal/moderation"
	"ember-chat/internal/ratelimit"
	"ember-chat/internal/store"
)

type sessionFixture struct {
	hub     *Hub
	store   *store.Store
	limiter *ratelimit.Limiter
	mod     *moderation.State
	rooms   *mocks.RoomRepositoryMock
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	rooms := new(mocks.RoomRepositoryMock)
	messages := store.New(15*time.Minute, 500)
	return &sessionFixture{
		hub:   NewHub(),
		store: messages,
		limiter: ratelimit.New(ratelimit.Options{
			Window:        10 * time.Second,
			Threshold:     3,
			EscalateAfter: 3,
			BlockBase:     30 * time.Second,
			BlockCap:      15 * time.Minute,
		}),
		mod:   moderation.New(rooms, messages, nil, nil),
		rooms: rooms,
	}
}

func (f *sessionFixture) session(t *testing.T, id identity.Identity) (*Session, *Client) {
	t.Helper()
	client := NewClient(nil, id, "global", 32, time.Second, time.Minute)
	f.hub.Subscribe(client, models.GlobalChannel)
	drain(t, client)
	s := NewSession(client, f.hub, f.store, f.limiter, f.mod, SessionConfig{
		MaxContentLength: 64,
		InitialMessages:  50,
		IdleTimeout:      time.Minute,
	})
	return s, client
}

func anonIdentity(key string) identity.Identity {
	return identity.Identity{Key: "ip:" + key, Handle: "anon-" + key}
}

func guardianIdentity() identity.Identity {
	return identity.Identity{
		Key:           "acct:guard-1",
		Handle:        "guardian_one",
		AccountID:     "guard-1",
		GuardianUntil: time.Now().Add(time.Hour),
	}
}

func sendCmd(content string) models.ClientCommand {
	return models.ClientCommand{Type: models.CommandSendMessage, Content: content}
}

func TestHandleSendBroadcastsAcceptedMessage(t *testing.T) {
	f := newSessionFixture(t)
	s, sender := f.session(t, anonIdentity("1"))
	_, watcher := f.session(t, anonIdentity("2"))
	drain(t, sender)
	drain(t, watcher)

	s.HandleCommand(context.Background(), models.ClientCommand{
		Type:      models.CommandSendMessage,
		Content:   "  hello there  ",
		ReplyToID: 0,
	})

	for _, c := range []*Client{sender, watcher} {
		frames := drain(t, c)
		require.Len(t, frames, 1)
		assert.Equal(t, "message", frames[0].Type)
		msg := frames[0].decodeMessage(t)
		assert.Equal(t, "hello there", msg.Content, "content is trimmed")
		assert.Equal(t, "anon-1", msg.Author)
	}

	stored := f.store.List(models.GlobalChannel, 0)
	require.Len(t, stored, 1)
	assert.Equal(t, "ip:1", stored[0].OriginKey)
}

func TestHandleSendRejectsEmptyMessage(t *testing.T) {
	f := newSessionFixture(t)
	s, sender := f.session(t, anonIdentity("1"))
	_, watcher := f.session(t, anonIdentity("2"))
	drain(t, sender)
	drain(t, watcher)

	s.HandleCommand(context.Background(), sendCmd("   \t  "))

	frames := drain(t, sender)
	require.Len(t, frames, 1)
	assert.Equal(t, "error", frames[0].Type)
	assert.Equal(t, models.ReasonEmpty, frames[0].Kind)

	assert.Empty(t, drain(t, watcher), "rejections reach the sender only")
	assert.Empty(t, f.store.List(models.GlobalChannel, 0))
}

func TestHandleSendRejectsOversizedMessage(t *testing.T) {
	f := newSessionFixture(t)
	s, sender := f.session(t, anonIdentity("1"))

	s.HandleCommand(context.Background(), sendCmd(strings.Repeat("x", 65)))

	frames := drain(t, sender)
	require.Len(t, frames, 1)
	assert.Equal(t, models.ReasonTooLong, frames[0].Kind)
}

func TestHandleSendRejectsMutedSender(t *testing.T) {
	f := newSessionFixture(t)
	s, sender := f.session(t, anonIdentity("1"))

	msg := f.store.Append(models.GlobalChannel, models.Message{OriginKey: "ip:1", Content: "earlier"})
	_, err := f.mod.Mute(context.Background(), guardianIdentity(), models.GlobalChannel, msg.ID, 10*time.Minute)
	require.NoError(t, err)

	s.HandleCommand(context.Background(), sendCmd("still here?"))

	frames := drain(t, sender)
	require.Len(t, frames, 1)
	assert.Equal(t, models.ReasonMuted, frames[0].Kind)
	assert.Len(t, f.store.List(models.GlobalChannel, 0), 1, "only the earlier message remains")
}

func TestHandleSendRejectsBannedSenderInRoom(t *testing.T) {
	f := newSessionFixture(t)
	f.rooms.On("ListBans", tmock.Anything, "embers").
		Return([]models.RoomBan{{RoomName: "embers", IdentityKey: "ip:1"}}, nil)

	s, sender := f.session(t, anonIdentity("1"))
	f.hub.SubscribeRoom(sender, models.RoomChannel("embers"))
	drain(t, sender)

	s.HandleCommand(context.Background(), sendCmd("let me in"))

	frames := drain(t, sender)
	require.Len(t, frames, 1)
	assert.Equal(t, models.ReasonBanned, frames[0].Kind)
	assert.Empty(t, f.store.List(models.RoomChannel("embers"), 0))
}

func TestHandleSendSlowMode(t *testing.T) {
	f := newSessionFixture(t)
	require.NoError(t, f.mod.SetSlowMode(context.Background(), guardianIdentity(), models.GlobalChannel, 30))

	s, sender := f.session(t, anonIdentity("1"))
	drain(t, sender)

	s.HandleCommand(context.Background(), sendCmd("first"))
	drain(t, sender)

	s.HandleCommand(context.Background(), sendCmd("second"))

	frames := drain(t, sender)
	require.Len(t, frames, 1)
	assert.Equal(t, "error", frames[0].Type)
	assert.Equal(t, models.ReasonSlowMode, frames[0].Kind)
	assert.Len(t, f.store.List(models.GlobalChannel, 0), 1)
}

func TestHandleSendRateLimited(t *testing.T) {
	f := newSessionFixture(t)
	s, sender := f.session(t, anonIdentity("1"))

	for i := 0; i < 3; i++ {
		s.HandleCommand(context.Background(), sendCmd("burst"))
	}
	drain(t, sender)

	s.HandleCommand(context.Background(), sendCmd("one too many"))

	frames := drain(t, sender)
	require.Len(t, frames, 1)
	assert.Equal(t, models.ReasonRateLimited, frames[0].Kind)
	assert.Len(t, f.store.List(models.GlobalChannel, 0), 3)
}

func TestHandleUnknownCommand(t *testing.T) {
	f := newSessionFixture(t)
	s, sender := f.session(t, anonIdentity("1"))

	s.HandleCommand(context.Background(), models.ClientCommand{Type: "subscribe"})

	frames := drain(t, sender)
	require.Len(t, frames, 1)
	assert.Equal(t, models.ReasonBadRequest, frames[0].Kind)
}

func TestGuardianDeleteBroadcastsRemoval(t *testing.T) {
	f := newSessionFixture(t)
	s, actor := f.session(t, guardianIdentity())
	_, watcher := f.session(t, anonIdentity("2"))

	msg := f.store.Append(models.GlobalChannel, models.Message{OriginKey: "ip:9", Content: "offensive"})
	drain(t, actor)
	drain(t, watcher)

	s.HandleCommand(context.Background(), models.ClientCommand{
		Type:      models.CommandGuardianAction,
		Action:    models.ActionDelete,
		MessageID: msg.ID,
	})

	frames := drain(t, watcher)
	require.Len(t, frames, 1)
	assert.Equal(t, "message_deleted", frames[0].Type)
	assert.Equal(t, msg.ID, frames[0].MessageID)

	_, found := f.store.Get(models.GlobalChannel, msg.ID)
	assert.False(t, found)
}

func TestGuardianActionForbiddenForAnonymous(t *testing.T) {
	f := newSessionFixture(t)
	s, sender := f.session(t, anonIdentity("1"))

	msg := f.store.Append(models.GlobalChannel, models.Message{OriginKey: "ip:9", Content: "x"})
	drain(t, sender)

	s.HandleCommand(context.Background(), models.ClientCommand{
		Type:      models.CommandGuardianAction,
		Action:    models.ActionDelete,
		MessageID: msg.ID,
	})

	frames := drain(t, sender)
	require.Len(t, frames, 1)
	assert.Equal(t, models.ReasonForbidden, frames[0].Kind)
	_, found := f.store.Get(models.GlobalChannel, msg.ID)
	assert.True(t, found, "the message survives the rejected action")
}

func TestGuardianDeleteUnknownMessage(t *testing.T) {
	f := newSessionFixture(t)
	s, actor := f.session(t, guardianIdentity())

	s.HandleCommand(context.Background(), models.ClientCommand{
		Type:      models.CommandGuardianAction,
		Action:    models.ActionDelete,
		MessageID: 404,
	})

	frames := drain(t, actor)
	require.Len(t, frames, 1)
	assert.Equal(t, models.ReasonNotFound, frames[0].Kind)
}

func TestGuardianMuteAnnouncesSystemMessage(t *testing.T) {
	f := newSessionFixture(t)
	s, actor := f.session(t, guardianIdentity())

	msg := f.store.Append(models.GlobalChannel, models.Message{
		Author:    "anon-9",
		OriginKey: "ip:9",
		Content:   "spam",
	})
	drain(t, actor)

	s.HandleCommand(context.Background(), models.ClientCommand{
		Type:      models.CommandGuardianAction,
		Action:    models.ActionMute,
		MessageID: msg.ID,
		Seconds:   120,
	})

	frames := drain(t, actor)
	require.Len(t, frames, 1)
	assert.Equal(t, "system_message", frames[0].Type)
	assert.Equal(t, "anon-9 has been muted", frames[0].Text)
	assert.True(t, f.mod.IsMuted("ip:9", models.GlobalChannel, time.Now()))
}

func ownerIdentity() identity.Identity {
	return identity.Identity{Key: "acct:owner-1", Handle: "owner", AccountID: "owner-1"}
}

func TestOwnerBanInRoom(t *testing.T) {
	f := newSessionFixture(t)
	f.rooms.On("GetRoom", tmock.Anything, "embers").
		Return(models.Room{ID: 1, Name: "embers", OwnerAccountID: "owner-1"}, nil)
	f.rooms.On("InsertBan", tmock.Anything, "embers", "ip:9", "acct:owner-1").Return(nil)
	f.rooms.On("ListBans", tmock.Anything, "embers").
		Return([]models.RoomBan{{RoomName: "embers", IdentityKey: "ip:9"}}, nil)

	s, actor := f.session(t, ownerIdentity())
	f.hub.SubscribeRoom(actor, models.RoomChannel("embers"))
	msg := f.store.Append(models.RoomChannel("embers"), models.Message{
		Author:    "anon-9",
		OriginKey: "ip:9",
		Content:   "bad",
	})
	drain(t, actor)

	s.HandleCommand(context.Background(), models.ClientCommand{
		Type:      models.CommandGuardianAction,
		Action:    models.ActionBan,
		MessageID: msg.ID,
	})

	frames := drain(t, actor)
	require.Len(t, frames, 1)
	assert.Equal(t, "system_message", frames[0].Type)
	assert.Equal(t, "anon-9 has been banned", frames[0].Text)

	banned, err := f.mod.IsBanned(context.Background(), "ip:9", "embers")
	require.NoError(t, err)
	assert.True(t, banned)
	f.rooms.AssertExpectations(t)
}

func TestBanOnGlobalChannelRejected(t *testing.T) {
	f := newSessionFixture(t)
	s, actor := f.session(t, guardianIdentity())

	msg := f.store.Append(models.GlobalChannel, models.Message{OriginKey: "ip:9", Content: "x"})
	drain(t, actor)

	s.HandleCommand(context.Background(), models.ClientCommand{
		Type:      models.CommandGuardianAction,
		Action:    models.ActionBan,
		MessageID: msg.ID,
	})

	frames := drain(t, actor)
	require.Len(t, frames, 1)
	assert.Equal(t, models.ReasonBadRequest, frames[0].Kind)
	f.rooms.AssertNotCalled(t, "InsertBan", tmock.Anything, tmock.Anything, tmock.Anything, tmock.Anything)
}

func TestGuardianSlowModeAnnouncesChange(t *testing.T) {
	f := newSessionFixture(t)
	s, actor := f.session(t, guardianIdentity())
	drain(t, actor)

	s.HandleCommand(context.Background(), models.ClientCommand{
		Type:    models.CommandGuardianAction,
		Action:  models.ActionSlowMode,
		Seconds: 15,
	})

	frames := drain(t, actor)
	require.Len(t, frames, 2)
	assert.Equal(t, "slow_mode_changed", frames[0].Type)
	assert.Equal(t, 15, frames[0].Seconds)
	assert.Equal(t, "system_message", frames[1].Type)
	assert.Equal(t, 15*time.Second, f.mod.SlowModeFor(models.GlobalChannel))
}

func TestGuardianUnknownAction(t *testing.T) {
	f := newSessionFixture(t)
	s, actor := f.session(t, guardianIdentity())

	s.HandleCommand(context.Background(), models.ClientCommand{
		Type:   models.CommandGuardianAction,
		Action: "shadowban",
	})

	frames := drain(t, actor)
	require.Len(t, frames, 1)
	assert.Equal(t, models.ReasonBadRequest, frames[0].Kind)
}

func TestSendInitialState(t *testing.T) {
	f := newSessionFixture(t)
	f.store.Append(models.GlobalChannel, models.Message{Content: "one"})
	f.store.Append(models.GlobalChannel, models.Message{Content: "two"})

	s, client := f.session(t, guardianIdentity())
	drain(t, client)

	s.SendInitialState()

	frames := drain(t, client)
	require.Len(t, frames, 2)
	assert.Equal(t, "guardian_status", frames[0].Type)
	assert.True(t, frames[0].IsGuardian)
	assert.Equal(t, "initial_messages", frames[1].Type)
	assert.Equal(t, models.GlobalChannel, frames[1].Channel)
	require.Len(t, frames[1].Messages, 2)
	assert.Equal(t, "one", frames[1].Messages[0].Content, "backlog is oldest first")
}

func TestSendInitialStateIncludesRoomBacklog(t *testing.T) {
	f := newSessionFixture(t)
	f.rooms.On("ListBans", tmock.Anything, "embers").Return([]models.RoomBan(nil), nil)
	f.store.Append(models.RoomChannel("embers"), models.Message{Content: "room talk"})

	s, client := f.session(t, anonIdentity("1"))
	f.hub.SubscribeRoom(client, models.RoomChannel("embers"))
	drain(t, client)

	s.SendInitialState()

	frames := drain(t, client)
	require.Len(t, frames, 3)
	assert.Equal(t, "guardian_status", frames[0].Type)
	assert.False(t, frames[0].IsGuardian)
	assert.Equal(t, models.GlobalChannel, frames[1].Channel)
	assert.Equal(t, models.RoomChannel("embers"), frames[2].Channel)
	require.Len(t, frames[2].Messages, 1)
}

func TestRetrySeconds(t *testing.T) {
	assert.Equal(t, 1, retrySeconds(200*time.Millisecond))
	assert.Equal(t, 1, retrySeconds(time.Second))
	assert.Equal(t, 3, retrySeconds(2*time.Second+time.Millisecond))
	assert.Equal(t, 1, retrySeconds(0))
}

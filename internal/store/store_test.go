package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ember-chat/internal/models"
)

func TestAppendAssignsMonotonicIDs(t *testing.T) {
	s := New(time.Minute, 100)

	first := s.Append("global", models.Message{Author: "a", Content: "one"})
	second := s.Append("global", models.Message{Author: "a", Content: "two"})
	other := s.Append("room:test", models.Message{Author: "b", Content: "three"})

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	assert.Equal(t, int64(1), other.ID, "ids are channel-scoped")
	assert.True(t, first.ExpiresAt.After(first.CreatedAt))
}

func TestAppendThenListRoundTrip(t *testing.T) {
	s := New(time.Minute, 100)

	appended := s.Append("global", models.Message{Author: "alice", OriginKey: "ip:1.2.3.4", Content: "hello", ReplyToID: 7})

	msgs := s.List("global", 10)
	require.Len(t, msgs, 1)
	assert.Equal(t, appended.ID, msgs[0].ID)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "alice", msgs[0].Author)
	assert.Equal(t, "global", msgs[0].Channel)
	assert.Equal(t, int64(7), msgs[0].ReplyToID)
}

func TestListOrderedOldestFirstWithLimit(t *testing.T) {
	s := New(time.Minute, 100)
	for i := 0; i < 5; i++ {
		s.Append("global", models.Message{Content: "m"})
	}

	msgs := s.List("global", 3)
	require.Len(t, msgs, 3)
	assert.Equal(t, int64(3), msgs[0].ID, "limit keeps the most recent entries")
	assert.Equal(t, int64(5), msgs[2].ID)
}

func TestChannelCapEvictsOldestSilently(t *testing.T) {
	s := New(time.Minute, 3)
	for i := 0; i < 5; i++ {
		s.Append("global", models.Message{Content: "m"})
	}

	msgs := s.List("global", 0)
	require.Len(t, msgs, 3)
	assert.Equal(t, int64(3), msgs[0].ID)
	assert.Equal(t, int64(5), msgs[2].ID)

	_, found := s.Get("global", 1)
	assert.False(t, found)
}

func TestRemove(t *testing.T) {
	s := New(time.Minute, 100)
	msg := s.Append("global", models.Message{Content: "bye"})

	assert.True(t, s.Remove("global", msg.ID))
	assert.False(t, s.Remove("global", msg.ID), "second remove reports absence")
	assert.Empty(t, s.List("global", 0))
}

func TestRemoveSkipsExpiredMessage(t *testing.T) {
	s := New(10*time.Millisecond, 100)
	msg := s.Append("global", models.Message{Content: "stale"})

	time.Sleep(20 * time.Millisecond)
	assert.False(t, s.Remove("global", msg.ID), "an expired message reads as absent")

	// the entry is still there for the reaper to collect
	expired := s.SweepExpired("global", time.Now())
	require.Len(t, expired, 1)
	assert.Equal(t, msg.ID, expired[0].ID)
}

func TestListHidesExpiredMessages(t *testing.T) {
	s := New(10*time.Millisecond, 100)
	s.Append("global", models.Message{Content: "short-lived"})

	require.Len(t, s.List("global", 0), 1)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, s.List("global", 0), "expired messages are invisible even before a sweep")
}

func TestSweepExpired(t *testing.T) {
	s := New(time.Minute, 100)
	msg := s.Append("global", models.Message{Content: "old"})

	expired := s.SweepExpired("global", time.Now().Add(2*time.Minute))
	require.Len(t, expired, 1)
	assert.Equal(t, msg.ID, expired[0].ID)
	assert.Empty(t, s.List("global", 0))

	assert.Empty(t, s.SweepExpired("global", time.Now()), "nothing left to sweep")
}

func TestGetSkipsExpired(t *testing.T) {
	s := New(10*time.Millisecond, 100)
	msg := s.Append("global", models.Message{Content: "gone"})

	time.Sleep(20 * time.Millisecond)
	_, found := s.Get("global", msg.ID)
	assert.False(t, found)
}

func TestChannels(t *testing.T) {
	s := New(time.Minute, 100)
	s.Append("global", models.Message{Content: "a"})
	s.Append("room:test", models.Message{Content: "b"})

	assert.ElementsMatch(t, []string{"global", "room:test"}, s.Channels())
}

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ember-chat/internal/models"
)

func TestReaperTickEmitsExpiredMessages(t *testing.T) {
	s := New(time.Minute, 100)
	first := s.Append("global", models.Message{Content: "old"})
	s.Append("room:test", models.Message{Content: "also old"})

	var expired []models.Message
	r := NewReaper(s, time.Second, func(msg models.Message) {
		expired = append(expired, msg)
	})

	r.tick(time.Now().Add(2 * time.Minute))

	require.Len(t, expired, 2)
	channels := []string{expired[0].Channel, expired[1].Channel}
	assert.ElementsMatch(t, []string{"global", "room:test"}, channels)
	assert.Empty(t, s.List("global", 0))

	// nothing new expired, the callback stays quiet
	r.tick(time.Now().Add(2 * time.Minute))
	assert.Len(t, expired, 2)
	_, found := s.Get("global", first.ID)
	assert.False(t, found)
}

func TestReaperTickLeavesLiveMessages(t *testing.T) {
	s := New(time.Hour, 100)
	s.Append("global", models.Message{Content: "fresh"})

	called := false
	r := NewReaper(s, time.Second, func(models.Message) { called = true })
	r.tick(time.Now())

	assert.False(t, called)
	assert.Len(t, s.List("global", 0), 1)
}

func TestReaperRunsPruneHooksEveryTick(t *testing.T) {
	s := New(time.Minute, 100)
	r := NewReaper(s, time.Second, nil)

	var seen []time.Time
	r.AddPruneHook(func(now time.Time) { seen = append(seen, now) })
	r.AddPruneHook(func(now time.Time) { seen = append(seen, now) })

	at := time.Now()
	r.tick(at)

	require.Len(t, seen, 2)
	assert.Equal(t, at, seen[0])
	assert.Equal(t, at, seen[1])
}

func TestReaperSurvivesPanickingCallback(t *testing.T) {
	s := New(time.Minute, 100)
	s.Append("global", models.Message{Content: "a"})
	s.Append("room:test", models.Message{Content: "b"})

	var survived []string
	r := NewReaper(s, time.Second, func(msg models.Message) {
		if msg.Channel == "global" {
			panic("callback failure")
		}
		survived = append(survived, msg.Channel)
	})

	assert.NotPanics(t, func() { r.tick(time.Now().Add(2 * time.Minute)) })
	// the room sweep still ran even though the global callback blew up
	assert.Equal(t, []string{"room:test"}, survived)
}

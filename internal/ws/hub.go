package ws

import (
	"encoding/json"
	"log"
	"sync"

	"ember-chat/internal/models"
	"ember-chat/internal/observability"
)

// Hub fans events out to channel subscribers. Each channel owns its
// subscriber set and lock, so channels are independent units of concurrency;
// delivery to every subscriber of one channel follows publish order.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]*channel
}

type channel struct {
	name string
	mu   sync.Mutex
	subs map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{channels: make(map[string]*channel)}
}

func (h *Hub) channel(name string) *channel {
	h.mu.RLock()
	ch, ok := h.channels[name]
	h.mu.RUnlock()
	if ok {
		return ch
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok = h.channels[name]; !ok {
		ch = &channel{name: name, subs: make(map[*Client]struct{})}
		h.channels[name] = ch
	}
	return ch
}

// Subscribe adds the client to a channel and announces the new online count.
func (h *Hub) Subscribe(client *Client, name string) {
	ch := h.channel(name)

	ch.mu.Lock()
	ch.subs[client] = struct{}{}
	count := len(ch.subs)
	overflowed := ch.broadcast(marshal(models.NewOnlineCountEvent(name, count)))
	ch.mu.Unlock()

	h.dropAll(overflowed)
}

// SubscribeRoom subscribes the client to a room channel. A client holds at
// most one room subscription: subscribing to a different room implicitly
// leaves the previous one. Global membership is unaffected.
func (h *Hub) SubscribeRoom(client *Client, name string) {
	previous := client.swapRoom(name)
	if previous == name {
		return
	}
	if previous != "" {
		h.Unsubscribe(client, previous)
	}
	h.Subscribe(client, name)
}

// Unsubscribe removes the client from a channel and announces the new count.
func (h *Hub) Unsubscribe(client *Client, name string) {
	ch := h.channel(name)

	ch.mu.Lock()
	if _, ok := ch.subs[client]; !ok {
		ch.mu.Unlock()
		return
	}
	delete(ch.subs, client)
	count := len(ch.subs)
	overflowed := ch.broadcast(marshal(models.NewOnlineCountEvent(name, count)))
	ch.mu.Unlock()

	h.dropAll(overflowed)
}

// UnsubscribeAll releases every subscription held by the client.
func (h *Hub) UnsubscribeAll(client *Client) {
	h.mu.RLock()
	names := make([]string, 0, len(h.channels))
	for name := range h.channels {
		names = append(names, name)
	}
	h.mu.RUnlock()

	for _, name := range names {
		h.Unsubscribe(client, name)
	}
}

// Publish delivers an event to every subscriber of the channel, in FIFO
// order relative to other events on the same channel. A subscriber whose
// outbound queue overflows is disconnected rather than silently losing
// events.
func (h *Hub) Publish(name string, event any) {
	payload := marshal(event)
	if payload == nil {
		return
	}

	ch := h.channel(name)
	ch.mu.Lock()
	overflowed := ch.broadcast(payload)
	ch.mu.Unlock()

	h.dropAll(overflowed)
}

// OnlineCount returns the current subscriber count of a channel.
func (h *Hub) OnlineCount(name string) int {
	ch := h.channel(name)
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.subs)
}

// broadcast enqueues payload for every subscriber and reports the ones whose
// queue overflowed. Caller holds ch.mu.
func (ch *channel) broadcast(payload []byte) []*Client {
	var overflowed []*Client
	for sub := range ch.subs {
		if !sub.enqueue(payload) {
			overflowed = append(overflowed, sub)
		}
	}
	return overflowed
}

// dropAll disconnects subscribers that could not keep up. Runs outside any
// channel lock.
func (h *Hub) dropAll(clients []*Client) {
	for _, client := range clients {
		log.Printf("websocket subscriber %s overflowed, disconnecting", client.ID)
		observability.IncSubscriberOverflow()
		h.Drop(client)
	}
}

// Drop closes the client and releases its subscriptions.
func (h *Hub) Drop(client *Client) {
	client.Close()
	h.UnsubscribeAll(client)
}

func marshal(event any) []byte {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("websocket event marshal error: %v", err)
		return nil
	}
	return payload
}

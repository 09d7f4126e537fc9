package mocks

import (
	"context"
	"sync"
)

// PublisherRecorder captures audit events in memory for tests.
type PublisherRecorder struct {
	mu     sync.Mutex
	Events []RecordedEvent
}

type RecordedEvent struct {
	RoutingKey string
	Event      any
}

func (p *PublisherRecorder) Publish(ctx context.Context, routingKey string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, RecordedEvent{RoutingKey: routingKey, Event: event})
	return nil
}

func (p *PublisherRecorder) Close() error { return nil }

func (p *PublisherRecorder) Recorded() []RecordedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]RecordedEvent(nil), p.Events...)
}

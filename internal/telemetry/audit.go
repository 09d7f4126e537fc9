package telemetry

import (
	"context"
	"log"
	"time"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// AuditEmitter records moderation actions to an append-only audit stream.
// Senders are pseudonymous, so this trail is the only accountability record;
// message bodies are never included.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Actor           string `json:"actor"`
	Action          string `json:"action"`
	Channel         string `json:"channel"`
	TargetMessageID int64  `json:"target_message_id,omitempty"`
	TargetKey       string `json:"target_key,omitempty"`
	Detail          string `json:"detail,omitempty"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
	}
}

// EmitAction publishes one audit record for a successful moderation action.
func (e *AuditEmitter) EmitAction(ctx context.Context, payload AuditPayload) {
	if e == nil || e.publisher == nil {
		return
	}

	log.Printf("audit emit: actor=%s action=%s channel=%s target_id=%d", payload.Actor, payload.Action, payload.Channel, payload.TargetMessageID)
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "moderation_audit",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		Payload:       payload,
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		log.Printf("audit publish failed: %v", err)
	}
}

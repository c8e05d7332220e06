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

// AuditEmitter ships audit and reconciliation events to the message broker.
// Reconciliation items are how exhausted multi-row write retries surface for
// out-of-band repair instead of being silently dropped.
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
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level        string            `json:"level"`
	Text         string            `json:"text"`
	Reconcile    bool              `json:"reconcile,omitempty"`
	EntityKeys   map[string]string `json:"entity_keys,omitempty"`
	FailedWrites int               `json:"failed_writes,omitempty"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
	}
}

func (e *AuditEmitter) Emit(ctx context.Context, level, text, requestID string, userID *string) {
	e.emit(ctx, AuditPayload{Level: level, Text: text}, requestID, userID)
}

// EmitReconciliation records a partial write that survived its retry budget.
// EntityKeys names the rows a repair job must re-examine.
func (e *AuditEmitter) EmitReconciliation(ctx context.Context, text string, entityKeys map[string]string, failedWrites int) {
	e.emit(ctx, AuditPayload{
		Level:        "WARN",
		Text:         text,
		Reconcile:    true,
		EntityKeys:   entityKeys,
		FailedWrites: failedWrites,
	}, "", nil)
}

func (e *AuditEmitter) emit(ctx context.Context, payload AuditPayload, requestID string, userID *string) {
	if e == nil || e.publisher == nil {
		return
	}

	log.Printf("audit emit: level=%s reconcile=%v request_id=%s text=%q", payload.Level, payload.Reconcile, requestID, payload.Text)
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload:       payload,
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		log.Printf("audit publish failed: %v", err)
	}
}

package rabbitmq

import (
	"context"
	"encoding/json"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"

	"barlink-service/internal/observability"
	"barlink-service/internal/telemetry"
)

// Publisher publishes audit and reconciliation events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// NewPublisher connects to the audit broker. Any failure degrades to a
// logging publisher so the service keeps running without AMQP.
func NewPublisher(amqpURL, exchange string) Publisher {
	if amqpURL == "" {
		log.Printf("audit broker disabled: empty amqp url")
		return logPublisher{}
	}

	conn, ch, err := dial(amqpURL, exchange)
	if err != nil {
		log.Printf("audit broker disabled: %v", err)
		return logPublisher{}
	}

	log.Printf("audit broker connected exchange=%s", exchange)
	return &brokerPublisher{conn: conn, ch: ch, exchange: exchange}
}

func dial(amqpURL, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

type brokerPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func (p *brokerPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		observability.IncAMQPPublishError()
		log.Printf("audit publish failed routing_key=%s: %v", routingKey, err)
	}
	return err
}

func (p *brokerPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// logPublisher stands in when no broker is configured. Reconciliation items
// still reach the process log so torn writes stay visible.
type logPublisher struct{}

func (logPublisher) Publish(_ context.Context, routingKey string, event any) error {
	envelope, ok := event.(telemetry.AuditEnvelope)
	if !ok {
		if p, isPtr := event.(*telemetry.AuditEnvelope); isPtr {
			envelope, ok = *p, true
		}
	}
	if !ok {
		log.Printf("audit (no broker) routing_key=%s", routingKey)
		return nil
	}
	log.Printf("audit (no broker) routing_key=%s event_type=%s level=%s reconcile=%t text=%q",
		routingKey, envelope.EventType, envelope.Payload.Level, envelope.Payload.Reconcile, envelope.Payload.Text)
	return nil
}

func (logPublisher) Close() error {
	return nil
}

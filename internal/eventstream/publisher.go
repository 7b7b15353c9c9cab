// Package eventstream forwards routing domain events to a RabbitMQ topic
// exchange so that services outside this process can react to them.
package eventstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"inbox_routing_backend/internal/events"
	"inbox_routing_backend/platform/config"
	"inbox_routing_backend/platform/logger"
	"inbox_routing_backend/platform/metrics"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Envelope is the wire format of a forwarded event.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	TenantID   *uuid.UUID      `json:"tenantId,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher implements events.Handler by publishing each event with its
// name as routing key.
type Publisher struct {
	conn     *amqp.Connection
	ch       Channel
	exchange string
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// Dial connects to RabbitMQ and declares the durable topic exchange.
func Dial(cfg config.EventStreamConfig, log *logger.Logger, m *metrics.Metrics) (*Publisher, error) {
	conn, err := amqp.Dial(cfg.GetRabbitMQURL())
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.GetRabbitMQExchange(), "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.GetRabbitMQExchange(), err)
	}

	p := NewPublisher(ch, cfg.GetRabbitMQExchange(), log, m)
	p.conn = conn
	return p, nil
}

// NewPublisher wraps an already open channel.
func NewPublisher(ch Channel, exchange string, log *logger.Logger, m *metrics.Metrics) *Publisher {
	return &Publisher{ch: ch, exchange: exchange, log: log, metrics: m}
}

// Subscribe registers the publisher for every routing event.
func (p *Publisher) Subscribe(bus events.Bus) {
	for _, name := range events.RoutingEventNames {
		bus.Subscribe(name, p)
	}
}

// Handle publishes one event. Failures are returned to the bus, which logs them.
func (p *Publisher) Handle(ctx context.Context, event events.Event) error {
	env, err := NewEnvelope(event)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, env.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID,
		Timestamp:    env.OccurredAt,
		Type:         env.Type,
		Body:         body,
	})
	p.metrics.RecordEventPublished(env.Type, err == nil)
	if err != nil {
		return fmt.Errorf("publish %s: %w", env.Type, err)
	}
	if p.log != nil {
		p.log.Debug("event forwarded", slog.String("type", env.Type), slog.String("id", env.ID))
	}
	return nil
}

// Close closes the channel and, when owned, the connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// NewEnvelope wraps an event for the wire.
func NewEnvelope(event events.Event) (Envelope, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", event.EventName(), err)
	}
	env := Envelope{
		ID:         uuid.NewString(),
		Type:       event.EventName(),
		OccurredAt: event.OccurredAt(),
		Payload:    payload,
	}
	if identified, ok := event.(events.Identified); ok && identified.EventID() != uuid.Nil {
		env.ID = identified.EventID().String()
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now().UTC()
	}
	if scoped, ok := event.(events.TenantScoped); ok {
		tenantID := scoped.Tenant()
		env.TenantID = &tenantID
	}
	return env, nil
}

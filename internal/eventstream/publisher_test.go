package eventstream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"inbox_routing_backend/internal/events"
	"inbox_routing_backend/platform/metrics"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	sent   []published
	err    error
	closed bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestHandlePublishesEnvelope(t *testing.T) {
	ch := &fakeChannel{}
	p := NewPublisher(ch, "routing.events", nil, nil)

	tenantID, leadID := uuid.New(), uuid.New()
	event := events.LeadAssigned{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  tenantID,
		LeadID:    leadID,
		HandlerID: uuid.New(),
	}
	if err := p.Handle(context.Background(), event); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(ch.sent) != 1 {
		t.Fatalf("published %d messages, want 1", len(ch.sent))
	}
	got := ch.sent[0]
	if got.exchange != "routing.events" || got.key != "routing.lead.assigned" {
		t.Fatalf("unexpected route %s/%s", got.exchange, got.key)
	}
	if got.msg.DeliveryMode != amqp.Persistent || got.msg.ContentType != "application/json" {
		t.Fatalf("unexpected publishing %+v", got.msg)
	}

	var env Envelope
	if err := json.Unmarshal(got.msg.Body, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.TenantID == nil || *env.TenantID != tenantID || env.ID != got.msg.MessageId {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if env.ID != event.ID.String() {
		t.Fatalf("envelope id = %s, want the event id %s", env.ID, event.ID)
	}
	var payload events.LeadAssigned
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.LeadID != leadID {
		t.Fatalf("payload lead = %s, want %s", payload.LeadID, leadID)
	}
}

func TestHandleReturnsPublishError(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	p := NewPublisher(ch, "routing.events", nil, metrics.New())

	err := p.Handle(context.Background(), events.ConversationClosed{TenantID: uuid.New()})
	if err == nil {
		t.Fatal("expected publish error")
	}
}

func TestSubscribeCoversRoutingEvents(t *testing.T) {
	bus := &recordingBus{}
	NewPublisher(&fakeChannel{}, "x", nil, nil).Subscribe(bus)
	if len(bus.names) != len(events.RoutingEventNames) {
		t.Fatalf("subscribed to %d events, want %d", len(bus.names), len(events.RoutingEventNames))
	}
}

type recordingBus struct {
	names []string
}

func (b *recordingBus) Publish(context.Context, events.Event)           {}
func (b *recordingBus) PublishSync(context.Context, events.Event) error { return nil }
func (b *recordingBus) Subscribe(name string, _ events.Handler)         { b.names = append(b.names, name) }

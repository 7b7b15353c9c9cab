// Package notify delivers automated routing messages after the routing
// state that produced them has been committed.
package notify

import (
	"context"
	"time"

	"inbox_routing_backend/internal/routing/domain"
	"inbox_routing_backend/internal/routing/ports"
	"inbox_routing_backend/platform/logger"
	"inbox_routing_backend/platform/metrics"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Kinds of automated messages, stored in message metadata.
const (
	KindMenu        = "queue_menu"
	KindInvalidMenu = "queue_menu_retry"
	KindWelcome     = "queue_welcome"
	KindClose       = "conversation_close"
)

const sendTimeout = 15 * time.Second

// Outbound is one automated message ready for delivery.
type Outbound struct {
	Channel      domain.Channel
	Lead         domain.Lead
	Conversation domain.Conversation
	Message      domain.Message
}

// SystemMessage builds the transcript entry of an automated message.
func SystemMessage(conversation domain.Conversation, kind, body string, extra map[string]any, at time.Time) domain.Message {
	metadata := map[string]any{"kind": kind, "automated": true}
	for k, v := range extra {
		metadata[k] = v
	}
	return domain.Message{
		ID:             uuid.New(),
		TenantID:       conversation.TenantID,
		ConversationID: conversation.ID,
		Direction:      domain.DirectionOutbound,
		SenderType:     domain.SenderSystem,
		Body:           body,
		Metadata:       metadata,
		SentAt:         at,
	}
}

// Dispatcher sends and broadcasts automated messages. Every failure is
// logged and counted; none is returned.
type Dispatcher struct {
	sender      ports.Sender
	broadcaster ports.Broadcaster
	log         *logger.Logger
	metrics     *metrics.Metrics
}

// NewDispatcher creates a Dispatcher. sender or broadcaster may be nil.
func NewDispatcher(sender ports.Sender, broadcaster ports.Broadcaster, log *logger.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{sender: sender, broadcaster: broadcaster, log: log, metrics: m}
}

// Dispatch delivers every item, transport and broadcast concurrently.
func (d *Dispatcher) Dispatch(ctx context.Context, items ...Outbound) {
	if d == nil || len(items) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	for _, item := range items {
		kind, _ := item.Message.Metadata["kind"].(string)
		g, gctx := errgroup.WithContext(ctx)
		if d.sender != nil {
			g.Go(func() error {
				if err := d.sender.SendText(gctx, item.Channel, item.Lead, item.Message.Body); err != nil {
					d.fail(kind+".send", item.Conversation.ID, err)
				}
				return nil
			})
		}
		if d.broadcaster != nil {
			g.Go(func() error {
				if err := d.broadcaster.BroadcastMessage(gctx, item.Conversation, item.Message); err != nil {
					d.fail(kind+".broadcast", item.Conversation.ID, err)
				}
				return nil
			})
		}
		_ = g.Wait()
	}
}

func (d *Dispatcher) fail(kind string, conversationID uuid.UUID, err error) {
	d.metrics.RecordSideEffectFailure(kind)
	if d.log != nil {
		d.log.SideEffectFailed(kind, conversationID.String(), err)
	}
}

// Package transfer implements explicit ownership changes: handler and queue
// transfers and conversation close and reopen. Every operation commits as
// one unit; notifications follow the commit and never undo it.
package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"inbox_routing_backend/internal/events"
	"inbox_routing_backend/internal/routing/domain"
	"inbox_routing_backend/internal/routing/lock"
	"inbox_routing_backend/internal/routing/notify"
	"inbox_routing_backend/internal/routing/ownership"
	"inbox_routing_backend/internal/routing/ports"
	"inbox_routing_backend/internal/routing/router"
	"inbox_routing_backend/platform/apperr"
	"inbox_routing_backend/platform/logger"
	"inbox_routing_backend/platform/metrics"

	"github.com/google/uuid"
)

// Transfer targets, used in events and metrics.
const (
	TargetHandler = "handler"
	TargetQueue   = "queue"
)

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Store      ports.Store
	Handlers   ports.HandlerDirectory
	Placer     *router.Placer
	Ledger     *ownership.Ledger
	Locker     ports.Locker
	Dispatcher *notify.Dispatcher
	Bus        events.Bus
	Log        *logger.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Coordinator runs transfers.
type Coordinator struct {
	store      ports.Store
	handlers   ports.HandlerDirectory
	placer     *router.Placer
	ledger     *ownership.Ledger
	locker     ports.Locker
	dispatcher *notify.Dispatcher
	bus        events.Bus
	log        *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// New creates a Coordinator.
func New(deps Deps) *Coordinator {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		store:      deps.Store,
		handlers:   deps.Handlers,
		placer:     deps.Placer,
		ledger:     deps.Ledger,
		locker:     deps.Locker,
		dispatcher: deps.Dispatcher,
		bus:        deps.Bus,
		log:        deps.Log,
		metrics:    deps.Metrics,
		now:        now,
	}
}

// ToHandlerParams describes an explicit handler transfer.
type ToHandlerParams struct {
	TenantID  uuid.UUID
	LeadID    uuid.UUID
	HandlerID uuid.UUID
	ActorID   *uuid.UUID
}

// TransferToHandler makes handler the owner of the lead, of its binding in
// the current queue and of every open conversation. Eligibility is not
// checked; an authorized actor may override it.
func (c *Coordinator) TransferToHandler(ctx context.Context, p ToHandlerParams) (domain.Lead, error) {
	if err := c.requireHandler(ctx, p.TenantID, p.HandlerID); err != nil {
		return domain.Lead{}, err
	}

	unlock, err := c.lockLead(ctx, p.TenantID, p.LeadID)
	if err != nil {
		return domain.Lead{}, err
	}
	defer unlock()

	var before, after domain.Lead
	err = c.store.WithinTx(ctx, func(tx ports.Store) error {
		lead, err := tx.LockLead(ctx, p.TenantID, p.LeadID)
		if err != nil {
			return err
		}
		before = lead

		handlerID := p.HandlerID
		lead.OwnerID = &handlerID
		if err := tx.SaveLeadRouting(ctx, lead); err != nil {
			return fmt.Errorf("save lead owner: %w", err)
		}
		if lead.HasQueue() {
			if _, err := c.ledger.WithStore(tx).Set(ctx, ownership.SetParams{
				TenantID:  p.TenantID,
				LeadID:    p.LeadID,
				QueueID:   *lead.QueueID,
				HandlerID: handlerID,
			}); err != nil {
				return err
			}
		}
		if err := rebindOpenConversations(ctx, tx, lead, &handlerID); err != nil {
			return err
		}

		after, err = tx.GetLead(ctx, p.TenantID, p.LeadID)
		return err
	})
	if err != nil {
		return domain.Lead{}, err
	}

	c.transferred(ctx, TargetHandler, before, after, p.ActorID)
	return after, nil
}

// ToQueueParams describes an explicit queue transfer. HandlerID is optional.
type ToQueueParams struct {
	TenantID  uuid.UUID
	LeadID    uuid.UUID
	QueueID   uuid.UUID
	HandlerID *uuid.UUID
	ActorID   *uuid.UUID
}

// TransferToQueue moves the lead into queue and onto the first stage of its
// pipeline. Without an explicit handler the owner comes from the lead's
// binding in the queue, then from auto-distribution, and may end up empty.
func (c *Coordinator) TransferToQueue(ctx context.Context, p ToQueueParams) (domain.Lead, error) {
	if p.HandlerID != nil {
		if err := c.requireHandler(ctx, p.TenantID, *p.HandlerID); err != nil {
			return domain.Lead{}, err
		}
	}

	unlock, err := c.lockLead(ctx, p.TenantID, p.LeadID)
	if err != nil {
		return domain.Lead{}, err
	}
	defer unlock()

	var before, after domain.Lead
	var published []events.Event
	err = c.store.WithinTx(ctx, func(tx ports.Store) error {
		lead, err := tx.LockLead(ctx, p.TenantID, p.LeadID)
		if err != nil {
			return err
		}
		before = lead

		queue, err := tx.GetQueue(ctx, p.TenantID, p.QueueID)
		if err != nil {
			return err
		}
		if queue.PipelineID == nil {
			return domain.ErrQueueMisconfigured
		}

		if p.HandlerID != nil {
			if _, err := c.ledger.WithStore(tx).Set(ctx, ownership.SetParams{
				TenantID:  p.TenantID,
				LeadID:    p.LeadID,
				QueueID:   queue.ID,
				HandlerID: *p.HandlerID,
			}); err != nil {
				return err
			}
		}

		placed, err := c.placer.Move(ctx, tx, lead, queue, c.now())
		if err != nil {
			return err
		}
		if err := tx.SaveLeadRouting(ctx, placed.Lead); err != nil {
			return fmt.Errorf("save lead routing: %w", err)
		}
		published = placed.Events

		if err := rebindOpenConversations(ctx, tx, placed.Lead, placed.Lead.OwnerID); err != nil {
			return err
		}

		after, err = tx.GetLead(ctx, p.TenantID, p.LeadID)
		return err
	})
	if err != nil {
		return domain.Lead{}, err
	}

	c.publish(ctx, published...)
	c.transferred(ctx, TargetQueue, before, after, p.ActorID)
	return after, nil
}

// CloseParams describes a conversation close.
type CloseParams struct {
	TenantID       uuid.UUID
	ConversationID uuid.UUID
	Reason         string
	ActorID        *uuid.UUID
}

// CloseConversation sends the queue's close message, closes the
// conversation and clears the lead's queue so its next contact goes through
// the menu again. The lead's bindings are left as they are. Closing a closed
// conversation changes nothing.
func (c *Coordinator) CloseConversation(ctx context.Context, p CloseParams) (domain.Conversation, error) {
	current, err := c.store.GetConversation(ctx, p.TenantID, p.ConversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if !current.IsOpen() {
		return current, nil
	}

	unlock, err := c.lockLead(ctx, p.TenantID, current.LeadID)
	if err != nil {
		return domain.Conversation{}, err
	}
	defer unlock()

	var closed domain.Conversation
	var outbound []notify.Outbound
	var queueID *uuid.UUID
	changed := false
	err = c.store.WithinTx(ctx, func(tx ports.Store) error {
		conv, err := tx.GetConversation(ctx, p.TenantID, p.ConversationID)
		if err != nil {
			return err
		}
		closed = conv
		if !conv.IsOpen() {
			return nil
		}

		lead, err := tx.LockLead(ctx, p.TenantID, conv.LeadID)
		if err != nil {
			return err
		}
		channel, err := tx.GetChannel(ctx, p.TenantID, conv.ChannelID)
		if err != nil {
			return err
		}
		var queue *domain.Queue
		if lead.HasQueue() {
			q, err := tx.GetQueue(ctx, p.TenantID, *lead.QueueID)
			if err != nil {
				return err
			}
			queue = &q
			queueID = lead.QueueID
		}

		now := c.now()
		_, actions := domain.Transition(domain.StateRouted, domain.EventClosed)
		for _, action := range actions {
			switch action {
			case domain.ActionSendCloseMessage:
				if queue == nil || queue.CloseMessage == "" {
					continue
				}
				msg := notify.SystemMessage(conv, notify.KindClose, queue.CloseMessage,
					map[string]any{"queue_id": queue.ID.String()}, now)
				if err := tx.CreateMessage(ctx, msg); err != nil {
					return fmt.Errorf("persist close message: %w", err)
				}
				outbound = append(outbound, notify.Outbound{Channel: channel, Lead: lead, Conversation: conv, Message: msg})

			case domain.ActionResetQueue:
				lead.QueueID = nil
				if err := tx.SaveLeadRouting(ctx, lead); err != nil {
					return fmt.Errorf("reset lead queue: %w", err)
				}
			}
		}

		conv.Status = domain.ConversationClosed
		conv.ClosedAt = &now
		conv.CloseReason = p.Reason
		conv.MenuSentAt = nil
		if err := tx.SaveConversation(ctx, conv); err != nil {
			return fmt.Errorf("close conversation: %w", err)
		}
		closed = conv
		changed = true
		return nil
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	if !changed {
		return closed, nil
	}

	c.dispatcher.Dispatch(ctx, outbound...)
	c.publish(ctx, events.ConversationClosed{
		BaseEvent:      events.NewBaseEvent(),
		TenantID:       closed.TenantID,
		ConversationID: closed.ID,
		LeadID:         closed.LeadID,
		ChannelID:      closed.ChannelID,
		QueueID:        queueID,
		Reason:         p.Reason,
	})
	c.metrics.RecordConversation("closed")
	if c.log != nil {
		c.log.WithContext(ctx).Info("conversation closed",
			slog.String("conversation_id", closed.ID.String()),
			slog.String("lead_id", closed.LeadID.String()),
		)
	}
	return closed, nil
}

// ReopenConversation opens a closed conversation again without touching
// queue or owner. Reopening an open conversation changes nothing.
func (c *Coordinator) ReopenConversation(ctx context.Context, tenantID, conversationID uuid.UUID) (domain.Conversation, error) {
	current, err := c.store.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if current.IsOpen() {
		return current, nil
	}

	unlock, err := c.lockLead(ctx, tenantID, current.LeadID)
	if err != nil {
		return domain.Conversation{}, err
	}
	defer unlock()

	var reopened domain.Conversation
	changed := false
	err = c.store.WithinTx(ctx, func(tx ports.Store) error {
		conv, err := tx.GetConversation(ctx, tenantID, conversationID)
		if err != nil {
			return err
		}
		reopened = conv
		if conv.IsOpen() {
			return nil
		}

		_, actions := domain.Transition(domain.StateNoQueue, domain.EventReopened)
		if !domain.Has(actions, domain.ActionMarkOpen) {
			return nil
		}
		conv.Status = domain.ConversationOpen
		conv.ClosedAt = nil
		conv.CloseReason = ""
		if err := tx.SaveConversation(ctx, conv); err != nil {
			return err
		}
		reopened = conv
		changed = true
		return nil
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	if !changed {
		return reopened, nil
	}

	c.publish(ctx, events.ConversationReopened{
		BaseEvent:      events.NewBaseEvent(),
		TenantID:       reopened.TenantID,
		ConversationID: reopened.ID,
		LeadID:         reopened.LeadID,
		ChannelID:      reopened.ChannelID,
	})
	c.metrics.RecordConversation("reopened")
	return reopened, nil
}

// rebindOpenConversations points every open conversation of the lead at
// handlerID. A nil handlerID leaves them unassigned.
func rebindOpenConversations(ctx context.Context, tx ports.Store, lead domain.Lead, handlerID *uuid.UUID) error {
	open, err := tx.ListOpenConversations(ctx, lead.TenantID, lead.ID)
	if err != nil {
		return fmt.Errorf("list open conversations: %w", err)
	}
	for _, conv := range open {
		if handlerID != nil {
			id := *handlerID
			conv.HandlerID = &id
		} else {
			conv.HandlerID = nil
		}
		if err := tx.SaveConversation(ctx, conv); err != nil {
			return fmt.Errorf("rebind conversation: %w", err)
		}
	}
	return nil
}

func (c *Coordinator) requireHandler(ctx context.Context, tenantID, handlerID uuid.UUID) error {
	exists, err := c.handlers.HandlerExists(ctx, tenantID, handlerID)
	if err != nil {
		return fmt.Errorf("check handler: %w", err)
	}
	if !exists {
		return apperr.NotFound("handler not found")
	}
	return nil
}

func (c *Coordinator) lockLead(ctx context.Context, tenantID, leadID uuid.UUID) (func(), error) {
	if c.locker == nil {
		return func() {}, nil
	}
	start := time.Now()
	unlock, err := c.locker.Lock(ctx, lock.LeadKey(tenantID, leadID))
	if err != nil {
		return nil, fmt.Errorf("lock lead: %w", err)
	}
	c.metrics.ObserveLockWait(time.Since(start))
	return unlock, nil
}

func (c *Coordinator) transferred(ctx context.Context, target string, before, after domain.Lead, actorID *uuid.UUID) {
	c.metrics.RecordTransfer(target)
	c.publish(ctx, events.LeadTransferred{
		BaseEvent:   events.NewBaseEvent(),
		TenantID:    after.TenantID,
		LeadID:      after.ID,
		Target:      target,
		FromOwnerID: before.OwnerID,
		ToOwnerID:   after.OwnerID,
		FromQueueID: before.QueueID,
		ToQueueID:   after.QueueID,
		ActorID:     actorID,
	})
	if c.log != nil {
		attrs := []any{
			slog.String("lead_id", after.ID.String()),
			slog.String("target", target),
		}
		if after.OwnerID != nil {
			attrs = append(attrs, slog.String("handler_id", after.OwnerID.String()))
		}
		if after.QueueID != nil {
			attrs = append(attrs, slog.String("queue_id", after.QueueID.String()))
		}
		c.log.WithContext(ctx).Info("lead transferred", attrs...)
	}
}

func (c *Coordinator) publish(ctx context.Context, published ...events.Event) {
	if c.bus == nil {
		return
	}
	for _, e := range published {
		c.bus.Publish(ctx, e)
	}
}

// Package router decides, for each inbound item, whether the sender must pick
// a queue first, interprets menu replies and binds leads to queues and handlers.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"inbox_routing_backend/internal/events"
	"inbox_routing_backend/internal/routing/domain"
	"inbox_routing_backend/internal/routing/lock"
	"inbox_routing_backend/internal/routing/notify"
	"inbox_routing_backend/internal/routing/ports"
	"inbox_routing_backend/platform/logger"
	"inbox_routing_backend/platform/metrics"
	"inbox_routing_backend/platform/sanitize"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Config holds the time windows of the state machine.
type Config struct {
	// Grace is the age below which an open conversation is treated as
	// created for the item being processed.
	Grace                time.Duration
	// DefaultReturnTimeout applies to channels without their own value.
	DefaultReturnTimeout time.Duration
}

// Deps are the collaborators of a Router.
type Deps struct {
	Store      ports.Store
	Placer     *Placer
	Locker     ports.Locker
	Dispatcher *notify.Dispatcher
	Bus        events.Bus
	Log        *logger.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Router is the conversation-level routing state machine.
type Router struct {
	store      ports.Store
	placer     *Placer
	locker     ports.Locker
	dispatcher *notify.Dispatcher
	bus        events.Bus
	log        *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	cfg        Config
	menus      singleflight.Group
}

// New creates a Router.
func New(deps Deps, cfg Config) *Router {
	if cfg.Grace <= 0 {
		cfg.Grace = time.Minute
	}
	if cfg.DefaultReturnTimeout <= 0 {
		cfg.DefaultReturnTimeout = 24 * time.Hour
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Router{
		store:      deps.Store,
		placer:     deps.Placer,
		locker:     deps.Locker,
		dispatcher: deps.Dispatcher,
		bus:        deps.Bus,
		log:        deps.Log,
		metrics:    deps.Metrics,
		now:        now,
		cfg:        cfg,
	}
}

// InboundMessage is a normalized item received from a channel.
type InboundMessage struct {
	TenantID   uuid.UUID
	ChannelID  uuid.UUID
	LeadID     uuid.UUID
	Text       string
	ReceivedAt time.Time
	Metadata   map[string]any
}

// Decision is the committed outcome of HandleInbound. Deliver tells the
// ingestion path it may hand the item to downstream responders; it is false
// whenever a menu is pending.
type Decision struct {
	State          domain.State
	Actions        []domain.Action
	ConversationID uuid.UUID
	MenuSent       bool
	Deliver        bool
	Queue          *domain.Queue
	OwnerID        *uuid.UUID
	Sticky         bool
	Reopened       bool
}

// inboundRun carries the mutable state of one HandleInbound transaction.
type inboundRun struct {
	msg       InboundMessage
	now       time.Time
	lead      domain.Lead
	channel   domain.Channel
	queues    []domain.Queue
	conv      *domain.Conversation
	decision  Decision
	outbound  []notify.Outbound
	published []events.Event
}

// HandleInbound evaluates one inbound item for a lead. All routing writes of
// the item commit together; menu, retry and welcome texts are persisted in
// the same transaction and delivered afterwards on a best-effort basis.
// Items of the same lead are processed one at a time in arrival order.
func (r *Router) HandleInbound(ctx context.Context, msg InboundMessage) (*Decision, error) {
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = r.now()
	}

	unlock, err := r.lockLead(ctx, msg.TenantID, msg.LeadID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var run *inboundRun
	err = r.store.WithinTx(ctx, func(tx ports.Store) error {
		run = &inboundRun{msg: msg, now: r.now()}
		return r.evaluate(ctx, tx, run)
	})
	if err != nil {
		return nil, err
	}

	r.dispatcher.Dispatch(ctx, run.outbound...)
	r.publish(ctx, run.published...)

	menuKind := ""
	if run.decision.MenuSent {
		menuKind = notify.KindMenu
		if domain.Has(run.decision.Actions, domain.ActionSendInvalidMenu) {
			menuKind = notify.KindInvalidMenu
		}
	}
	r.metrics.RecordDecision(string(run.decision.State), menuKind)
	if r.log != nil {
		r.log.WithContext(ctx).RoutingDecision(msg.LeadID.String(), msg.ChannelID.String(), string(run.decision.State), run.decision.MenuSent)
	}

	decision := run.decision
	return &decision, nil
}

func (r *Router) evaluate(ctx context.Context, tx ports.Store, run *inboundRun) error {
	lead, err := tx.LockLead(ctx, run.msg.TenantID, run.msg.LeadID)
	if err != nil {
		return err
	}
	run.lead = lead

	channel, err := tx.GetChannel(ctx, run.msg.TenantID, run.msg.ChannelID)
	if err != nil {
		return err
	}
	run.channel = channel

	open, err := tx.FindOpenConversation(ctx, lead.TenantID, lead.ID, channel.ID)
	if err != nil {
		return err
	}
	run.conv = open

	if !channel.QueueMenuEnabled {
		return r.evaluateWithoutMenu(ctx, tx, run)
	}

	lastClosed, err := tx.LastClosedConversation(ctx, lead.TenantID, lead.ID, channel.ID)
	if err != nil {
		return err
	}

	facts := domain.Facts{
		QueueSet:         lead.HasQueue(),
		MenuPending:      open != nil && open.MenuPending(),
		OpenConversation: open != nil,
		Now:              run.now,
		Grace:            r.cfg.Grace,
		ReturnTimeout:    channel.ReturnTimeout(r.cfg.DefaultReturnTimeout),
	}
	if open != nil {
		facts.OpenSince = open.OpenedAt
	}
	if lastClosed != nil {
		facts.LastClosedAt = lastClosed.ClosedAt
	}
	state := domain.Classify(facts)

	if state == domain.StateExpiredReturn && r.log != nil {
		// Literal policy: a lead that keeps its queue past the return window
		// is routed without a menu.
		r.log.Warn("lead returned after return window with queue still set",
			slog.String("lead_id", lead.ID.String()),
			slog.String("channel_id", channel.ID.String()),
		)
	}

	event := domain.EventInbound
	var selected domain.Queue
	if state == domain.StateNoQueue || state == domain.StateAwaitingSelection {
		queues, err := tx.ListChannelQueues(ctx, lead.TenantID, channel.ID)
		if err != nil {
			return err
		}
		run.queues = domain.ActiveQueuesInMenuOrder(queues)
		if len(run.queues) == 0 {
			if r.log != nil {
				r.log.Warn("queue menu enabled but channel has no active queue",
					slog.String("channel_id", channel.ID.String()))
			}
			return r.deliverWithoutQueue(ctx, tx, run, state)
		}
	}
	if state == domain.StateAwaitingSelection {
		if q, ok := domain.MatchSelection(sanitize.InboundText(run.msg.Text), run.queues); ok {
			event = domain.EventValidSelection
			selected = q
		} else {
			event = domain.EventInvalidSelection
		}
	}

	next, actions := domain.Transition(state, event)
	run.decision.State = next
	run.decision.Actions = actions

	if err := r.resolveConversation(ctx, tx, run, actions, lastClosed); err != nil {
		return err
	}
	if err := r.recordInbound(ctx, tx, run); err != nil {
		return err
	}

	for _, action := range actions {
		if err := r.apply(ctx, tx, run, action, selected); err != nil {
			return err
		}
	}
	return nil
}

// resolveConversation picks the conversation the item belongs to: the open
// one, a reopened one inside the return window, or a new one.
func (r *Router) resolveConversation(ctx context.Context, tx ports.Store, run *inboundRun, actions []domain.Action, lastClosed *domain.Conversation) error {
	if run.conv != nil {
		return nil
	}

	if domain.Has(actions, domain.ActionReopenConversation) && lastClosed != nil {
		reopened := *lastClosed
		reopened.Status = domain.ConversationOpen
		reopened.ClosedAt = nil
		reopened.CloseReason = ""
		reopened.MenuSentAt = nil
		if reopened.HandlerID == nil {
			reopened.HandlerID = run.lead.OwnerID
		}
		if err := tx.SaveConversation(ctx, reopened); err != nil {
			return fmt.Errorf("reopen conversation: %w", err)
		}
		run.conv = &reopened
		run.decision.Reopened = true
		run.published = append(run.published, events.ConversationReopened{
			BaseEvent:      events.NewBaseEvent(),
			TenantID:       reopened.TenantID,
			ConversationID: reopened.ID,
			LeadID:         reopened.LeadID,
			ChannelID:      reopened.ChannelID,
			Automatic:      true,
		})
		return nil
	}

	conv := domain.Conversation{
		ID:        uuid.New(),
		TenantID:  run.lead.TenantID,
		LeadID:    run.lead.ID,
		ChannelID: run.channel.ID,
		Status:    domain.ConversationOpen,
		HandlerID: run.lead.OwnerID,
		OpenedAt:  run.now,
	}
	if err := tx.CreateConversation(ctx, conv); err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}
	run.conv = &conv
	return nil
}

func (r *Router) recordInbound(ctx context.Context, tx ports.Store, run *inboundRun) error {
	run.decision.ConversationID = run.conv.ID
	metadata := map[string]any{}
	for k, v := range run.msg.Metadata {
		metadata[k] = v
	}
	return tx.CreateMessage(ctx, domain.Message{
		ID:             uuid.New(),
		TenantID:       run.lead.TenantID,
		ConversationID: run.conv.ID,
		Direction:      domain.DirectionInbound,
		SenderType:     domain.SenderContact,
		Body:           run.msg.Text,
		Metadata:       metadata,
		SentAt:         run.msg.ReceivedAt,
	})
}

func (r *Router) apply(ctx context.Context, tx ports.Store, run *inboundRun, action domain.Action, selected domain.Queue) error {
	switch action {
	case domain.ActionSendMenu:
		return r.sendMenu(ctx, tx, run, notify.KindMenu, domain.BuildMenu(run.channel, run.queues).Text)

	case domain.ActionSendInvalidMenu:
		return r.sendMenu(ctx, tx, run, notify.KindInvalidMenu, domain.InvalidSelectionText(run.channel, run.queues))

	case domain.ActionBindQueue:
		placed, err := r.placer.Place(ctx, tx, run.lead, selected, run.now)
		if err != nil {
			return err
		}
		run.lead = placed.Lead
		if err := tx.SaveLeadRouting(ctx, run.lead); err != nil {
			return err
		}
		run.conv.MenuSentAt = nil
		run.conv.HandlerID = run.lead.OwnerID
		if err := tx.SaveConversation(ctx, *run.conv); err != nil {
			return err
		}
		q := selected
		run.decision.Queue = &q
		run.decision.OwnerID = run.lead.OwnerID
		run.decision.Sticky = placed.Sticky
		run.published = append(run.published, placed.Events...)
		run.published = append(run.published, events.LeadRouted{
			BaseEvent:      events.NewBaseEvent(),
			TenantID:       run.lead.TenantID,
			LeadID:         run.lead.ID,
			ChannelID:      run.channel.ID,
			QueueID:        selected.ID,
			QueueName:      selected.Name,
			OwnerID:        run.lead.OwnerID,
			ConversationID: run.conv.ID,
			Sticky:         placed.Sticky,
		})
		return nil

	case domain.ActionSendWelcome:
		msg := notify.SystemMessage(*run.conv, notify.KindWelcome, domain.WelcomeText(selected),
			map[string]any{"queue_id": selected.ID.String()}, run.now)
		return r.persistSystem(ctx, tx, run, msg)

	case domain.ActionDeliver:
		run.decision.Deliver = true
		if run.lead.HasQueue() && run.lead.OwnerID == nil {
			return r.redistribute(ctx, tx, run)
		}
		if run.conv.HandlerID == nil && run.lead.OwnerID != nil {
			run.conv.HandlerID = run.lead.OwnerID
			return tx.SaveConversation(ctx, *run.conv)
		}
		return nil

	case domain.ActionReopenConversation, domain.ActionOpenConversation:
		// Applied by resolveConversation.
		return nil
	}
	return nil
}

func (r *Router) sendMenu(ctx context.Context, tx ports.Store, run *inboundRun, kind, text string) error {
	at := run.now
	run.conv.MenuSentAt = &at
	if err := tx.SaveConversation(ctx, *run.conv); err != nil {
		return err
	}
	run.decision.MenuSent = true
	return r.persistSystem(ctx, tx, run, notify.SystemMessage(*run.conv, kind, text, nil, run.now))
}

func (r *Router) persistSystem(ctx context.Context, tx ports.Store, run *inboundRun, msg domain.Message) error {
	if err := tx.CreateMessage(ctx, msg); err != nil {
		return fmt.Errorf("persist system message: %w", err)
	}
	run.outbound = append(run.outbound, notify.Outbound{
		Channel:      run.channel,
		Lead:         run.lead,
		Conversation: *run.conv,
		Message:      msg,
	})
	return nil
}

// redistribute gives an unowned lead that already sits in a queue another
// chance at auto-distribution.
func (r *Router) redistribute(ctx context.Context, tx ports.Store, run *inboundRun) error {
	queue, err := tx.GetQueue(ctx, run.lead.TenantID, *run.lead.QueueID)
	if err != nil {
		return err
	}
	handlerID, err := r.placer.Redistribute(ctx, tx, run.lead, queue, run.now)
	if err != nil || handlerID == nil {
		return err
	}
	run.lead.OwnerID = handlerID
	if err := tx.SaveLeadRouting(ctx, run.lead); err != nil {
		return err
	}
	run.conv.HandlerID = handlerID
	if err := tx.SaveConversation(ctx, *run.conv); err != nil {
		return err
	}
	run.decision.OwnerID = handlerID
	run.published = append(run.published, assignedEvent(run.lead, queue, *handlerID))
	return nil
}

// evaluateWithoutMenu handles channels that do not use the queue menu: the
// item always goes through, landing in the default queue when the lead has none.
func (r *Router) evaluateWithoutMenu(ctx context.Context, tx ports.Store, run *inboundRun) error {
	run.decision.State = domain.StateRouted
	if !run.lead.HasQueue() {
		queues, err := tx.ListChannelQueues(ctx, run.lead.TenantID, run.channel.ID)
		if err != nil {
			return err
		}
		if q, ok := domain.DefaultQueue(queues); ok && q.PipelineID != nil {
			placed, err := r.placer.Place(ctx, tx, run.lead, q, run.now)
			if err != nil {
				return err
			}
			run.lead = placed.Lead
			if err := tx.SaveLeadRouting(ctx, run.lead); err != nil {
				return err
			}
			run.decision.Queue = &q
			run.decision.Sticky = placed.Sticky
			run.published = append(run.published, placed.Events...)
		} else {
			run.decision.State = domain.StateNoQueue
		}
	}

	if err := r.resolveConversation(ctx, tx, run, nil, nil); err != nil {
		return err
	}
	if err := r.recordInbound(ctx, tx, run); err != nil {
		return err
	}
	run.decision.Actions = []domain.Action{domain.ActionDeliver}
	run.decision.OwnerID = run.lead.OwnerID
	return r.apply(ctx, tx, run, domain.ActionDeliver, domain.Queue{})
}

// deliverWithoutQueue passes the item through when a menu is required but
// there is nothing to choose from.
func (r *Router) deliverWithoutQueue(ctx context.Context, tx ports.Store, run *inboundRun, state domain.State) error {
	run.decision.State = state
	if err := r.resolveConversation(ctx, tx, run, nil, nil); err != nil {
		return err
	}
	if err := r.recordInbound(ctx, tx, run); err != nil {
		return err
	}
	run.decision.Actions = []domain.Action{domain.ActionDeliver}
	run.decision.Deliver = true
	return nil
}

func (r *Router) lockLead(ctx context.Context, tenantID, leadID uuid.UUID) (func(), error) {
	if r.locker == nil {
		return func() {}, nil
	}
	start := r.now()
	unlock, err := r.locker.Lock(ctx, lock.LeadKey(tenantID, leadID))
	if err != nil {
		return nil, fmt.Errorf("lock lead: %w", err)
	}
	r.metrics.ObserveLockWait(r.now().Sub(start))
	return unlock, nil
}

func (r *Router) publish(ctx context.Context, published ...events.Event) {
	if r.bus == nil {
		return
	}
	for _, e := range published {
		r.bus.Publish(ctx, e)
	}
}

package transfer

import (
	"context"
	"testing"
	"time"

	"inbox_routing_backend/internal/routing/assignment"
	"inbox_routing_backend/internal/routing/domain"
	"inbox_routing_backend/internal/routing/lock"
	"inbox_routing_backend/internal/routing/notify"
	"inbox_routing_backend/internal/routing/ownership"
	"inbox_routing_backend/internal/routing/ports"
	"inbox_routing_backend/internal/routing/router"
	"inbox_routing_backend/internal/routing/routingtest"
	"inbox_routing_backend/platform/apperr"

	"github.com/google/uuid"
)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *routingtest.Memory
	sender *routingtest.Sender
	router *router.Router
	coord  *Coordinator
	ledger *ownership.Ledger
	clock  time.Time

	tenant       uuid.UUID
	channel      domain.Channel
	sales        domain.Queue
	support      domain.Queue
	supportStage uuid.UUID
	handlerA     uuid.UUID
	handlerB     uuid.UUID
	outsider     uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:            t,
		ctx:          context.Background(),
		store:        routingtest.NewMemory(),
		sender:       &routingtest.Sender{},
		clock:        time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC),
		tenant:       uuid.New(),
		supportStage: uuid.New(),
		handlerA:     uuid.New(),
		handlerB:     uuid.New(),
		outsider:     uuid.New(),
	}
	now := func() time.Time { return f.clock }
	f.store.Now = now

	salesPipeline, supportPipeline := uuid.New(), uuid.New()
	f.store.AddPipeline(salesPipeline, uuid.New())
	f.store.AddPipeline(supportPipeline, f.supportStage, uuid.New())

	f.channel = domain.Channel{ID: uuid.New(), TenantID: f.tenant, QueueMenuEnabled: true}
	f.store.AddChannel(f.channel)
	f.store.AddHandler(f.tenant, ports.HandlerInfo{ID: f.handlerA, Name: "Ana"})
	f.store.AddHandler(f.tenant, ports.HandlerInfo{ID: f.handlerB, Name: "Bruno"})
	f.store.AddHandler(f.tenant, ports.HandlerInfo{ID: f.outsider, Name: "Carla"})

	f.sales = domain.Queue{
		ID: uuid.New(), TenantID: f.tenant, ChannelID: f.channel.ID, PipelineID: &salesPipeline,
		Name: "Sales", MenuOption: 1, MenuLabel: "Sales", AutoDistribute: true, Active: true,
		CloseMessage: "Atendimento encerrado. Obrigado!",
	}
	f.support = domain.Queue{
		ID: uuid.New(), TenantID: f.tenant, ChannelID: f.channel.ID, PipelineID: &supportPipeline,
		Name: "Support", MenuOption: 2, MenuLabel: "Support", AutoDistribute: true, Active: true,
	}
	f.store.AddQueue(f.sales, f.handlerA, f.handlerB)
	f.store.AddQueue(f.support, f.handlerA, f.handlerB)

	f.ledger = ownership.New(f.store, f.store)
	assigner := assignment.New(assignment.NewMemoryStore(), nil, assignment.WithClock(now))
	placer := router.NewPlacer(f.store, assignment.NewDistributor(assigner, f.store, nil), f.ledger)
	locker := lock.NewMemory()
	dispatcher := notify.NewDispatcher(f.sender, &routingtest.Broadcaster{}, nil, nil)

	f.router = router.New(router.Deps{
		Store:      f.store,
		Placer:     placer,
		Locker:     locker,
		Dispatcher: dispatcher,
		Now:        now,
	}, router.Config{Grace: time.Minute, DefaultReturnTimeout: 24 * time.Hour})
	f.coord = New(Deps{
		Store:      f.store,
		Handlers:   f.store,
		Placer:     placer,
		Ledger:     f.ledger,
		Locker:     locker,
		Dispatcher: dispatcher,
		Now:        now,
	})
	return f
}

func (f *fixture) newLead() domain.Lead {
	lead := domain.Lead{ID: uuid.New(), TenantID: f.tenant, ChannelID: f.channel.ID, Status: domain.LeadStatusOpen}
	f.store.AddLead(lead)
	return lead
}

func (f *fixture) inbound(leadID uuid.UUID, text string) *router.Decision {
	f.t.Helper()
	f.clock = f.clock.Add(10 * time.Second)
	d, err := f.router.HandleInbound(f.ctx, router.InboundMessage{
		TenantID: f.tenant, ChannelID: f.channel.ID, LeadID: leadID, Text: text,
	})
	if err != nil {
		f.t.Fatalf("handle inbound %q: %v", text, err)
	}
	return d
}

// routeToSales walks a new lead through the menu into Sales.
func (f *fixture) routeToSales() (domain.Lead, *router.Decision) {
	lead := f.newLead()
	f.inbound(lead.ID, "oi")
	d := f.inbound(lead.ID, "1")
	return f.lead(lead.ID), d
}

func (f *fixture) lead(id uuid.UUID) domain.Lead {
	f.t.Helper()
	l, err := f.store.GetLead(f.ctx, f.tenant, id)
	if err != nil {
		f.t.Fatalf("get lead: %v", err)
	}
	return l
}

func (f *fixture) binding(leadID, queueID uuid.UUID) *uuid.UUID {
	f.t.Helper()
	handler, err := f.ledger.Get(f.ctx, f.tenant, leadID, queueID)
	if err != nil {
		f.t.Fatalf("get binding: %v", err)
	}
	return handler
}

func TestClosedLeadReturnsToBoundHandler(t *testing.T) {
	f := newFixture(t)

	l, first := f.routeToSales()
	if *l.OwnerID != f.handlerA {
		t.Fatal("L must be distributed to A")
	}
	if _, second := f.routeToSales(); *second.OwnerID != f.handlerB {
		t.Fatal("second lead must be distributed to B")
	}
	if _, third := f.routeToSales(); *third.OwnerID != f.handlerA {
		t.Fatal("third lead must wrap to A")
	}

	if _, err := f.coord.CloseConversation(f.ctx, CloseParams{TenantID: f.tenant, ConversationID: first.ConversationID}); err != nil {
		t.Fatalf("close: %v", err)
	}
	if f.lead(l.ID).QueueID != nil {
		t.Fatal("close must reset the queue")
	}

	if d := f.inbound(l.ID, "voltei"); !d.MenuSent {
		t.Fatal("menu must be shown again after close")
	}
	d := f.inbound(l.ID, "1")
	if d.OwnerID == nil || *d.OwnerID != f.handlerA || !d.Sticky {
		t.Fatalf("L must return to A through its binding, got %v", d.OwnerID)
	}
}

func TestCloseSendsMessageAndKeepsBinding(t *testing.T) {
	f := newFixture(t)
	l, routed := f.routeToSales()
	bound := f.binding(l.ID, f.sales.ID)

	f.clock = f.clock.Add(time.Hour)
	conv, err := f.coord.CloseConversation(f.ctx, CloseParams{
		TenantID: f.tenant, ConversationID: routed.ConversationID, Reason: "resolved",
	})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if conv.IsOpen() || conv.ClosedAt == nil || !conv.ClosedAt.Equal(f.clock) || conv.CloseReason != "resolved" {
		t.Fatalf("conversation not closed: %+v", conv)
	}

	after := f.binding(l.ID, f.sales.ID)
	if bound == nil || after == nil || *bound != *after {
		t.Fatalf("binding changed by close: %v -> %v", bound, after)
	}

	msgs := f.store.Messages(conv.ID)
	last := msgs[len(msgs)-1]
	if last.Body != f.sales.CloseMessage || last.Metadata["kind"] != notify.KindClose {
		t.Fatalf("close message not persisted: %+v", last)
	}
	sent := f.sender.Sent()
	if sent[len(sent)-1].Text != f.sales.CloseMessage {
		t.Fatal("close message not sent")
	}

	again, err := f.coord.CloseConversation(f.ctx, CloseParams{TenantID: f.tenant, ConversationID: conv.ID})
	if err != nil || !again.ClosedAt.Equal(*conv.ClosedAt) {
		t.Fatalf("second close must be a no-op: %+v, %v", again, err)
	}
	if n := len(f.store.Messages(conv.ID)); n != len(msgs) {
		t.Fatal("second close must not send another message")
	}
}

func TestReopenIsIdempotent(t *testing.T) {
	f := newFixture(t)
	l, routed := f.routeToSales()
	if _, err := f.coord.CloseConversation(f.ctx, CloseParams{TenantID: f.tenant, ConversationID: routed.ConversationID}); err != nil {
		t.Fatalf("close: %v", err)
	}

	first, err := f.coord.ReopenConversation(f.ctx, f.tenant, routed.ConversationID)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !first.IsOpen() || first.ClosedAt != nil {
		t.Fatalf("conversation not reopened: %+v", first)
	}

	f.clock = f.clock.Add(time.Minute)
	second, err := f.coord.ReopenConversation(f.ctx, f.tenant, routed.ConversationID)
	if err != nil {
		t.Fatalf("second reopen: %v", err)
	}
	if second != first {
		t.Fatalf("second reopen changed state: %+v vs %+v", second, first)
	}
	if f.lead(l.ID).QueueID != nil {
		t.Fatal("reopen must not touch the queue")
	}
}

func TestTransferToHandlerOverridesEverywhere(t *testing.T) {
	f := newFixture(t)
	l, routed := f.routeToSales()

	lead, err := f.coord.TransferToHandler(f.ctx, ToHandlerParams{TenantID: f.tenant, LeadID: l.ID, HandlerID: f.outsider})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if lead.OwnerID == nil || *lead.OwnerID != f.outsider {
		t.Fatal("owner not updated")
	}
	if got := f.binding(l.ID, f.sales.ID); got == nil || *got != f.outsider {
		t.Fatal("binding must follow the explicit transfer")
	}
	conv, _ := f.store.GetConversation(f.ctx, f.tenant, routed.ConversationID)
	if conv.HandlerID == nil || *conv.HandlerID != f.outsider {
		t.Fatal("open conversation must route to the new handler")
	}
}

func TestTransferToUnknownHandlerWritesNothing(t *testing.T) {
	f := newFixture(t)
	l, _ := f.routeToSales()

	_, err := f.coord.TransferToHandler(f.ctx, ToHandlerParams{TenantID: f.tenant, LeadID: l.ID, HandlerID: uuid.New()})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	if got := f.lead(l.ID).OwnerID; got == nil || *got != f.handlerA {
		t.Fatal("owner must be unchanged")
	}

	_, err = f.coord.TransferToHandler(f.ctx, ToHandlerParams{TenantID: f.tenant, LeadID: uuid.New(), HandlerID: f.handlerB})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err = %v, want not found for unknown lead", err)
	}
}

func TestTransferToQueueResolvesOwner(t *testing.T) {
	f := newFixture(t)
	l, _ := f.routeToSales()

	lead, err := f.coord.TransferToQueue(f.ctx, ToQueueParams{TenantID: f.tenant, LeadID: l.ID, QueueID: f.support.ID})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if lead.QueueID == nil || *lead.QueueID != f.support.ID {
		t.Fatal("queue not updated")
	}
	if lead.PipelineID == nil || *lead.PipelineID != *f.support.PipelineID {
		t.Fatal("pipeline not updated")
	}
	if lead.StageID == nil || *lead.StageID != f.supportStage {
		t.Fatal("lead must start at the first stage")
	}
	// Rotation continues after A.
	if lead.OwnerID == nil || *lead.OwnerID != f.handlerB {
		t.Fatalf("owner = %v, want B by distribution", lead.OwnerID)
	}

	back, err := f.coord.TransferToQueue(f.ctx, ToQueueParams{TenantID: f.tenant, LeadID: l.ID, QueueID: f.sales.ID})
	if err != nil {
		t.Fatalf("transfer back: %v", err)
	}
	if back.OwnerID == nil || *back.OwnerID != f.handlerA {
		t.Fatal("existing binding must win over distribution")
	}
}

func TestTransferToQueueWithExplicitHandler(t *testing.T) {
	f := newFixture(t)
	l, routed := f.routeToSales()

	lead, err := f.coord.TransferToQueue(f.ctx, ToQueueParams{
		TenantID: f.tenant, LeadID: l.ID, QueueID: f.support.ID, HandlerID: &f.outsider,
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if lead.OwnerID == nil || *lead.OwnerID != f.outsider {
		t.Fatal("explicit handler must own the lead")
	}
	if got := f.binding(l.ID, f.support.ID); got == nil || *got != f.outsider {
		t.Fatal("binding must be written for the explicit handler")
	}
	conv, _ := f.store.GetConversation(f.ctx, f.tenant, routed.ConversationID)
	if conv.HandlerID == nil || *conv.HandlerID != f.outsider {
		t.Fatal("open conversation must follow the transfer")
	}
}

func TestTransferToManualQueueUnassignsOpenConversation(t *testing.T) {
	f := newFixture(t)
	l, routed := f.routeToSales()

	manualPipeline := uuid.New()
	f.store.AddPipeline(manualPipeline, uuid.New())
	manual := domain.Queue{
		ID: uuid.New(), TenantID: f.tenant, ChannelID: f.channel.ID, PipelineID: &manualPipeline,
		Name: "Manual", MenuOption: 3, MenuLabel: "Manual", Active: true,
	}
	f.store.AddQueue(manual, f.handlerA, f.handlerB)

	lead, err := f.coord.TransferToQueue(f.ctx, ToQueueParams{TenantID: f.tenant, LeadID: l.ID, QueueID: manual.ID})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if lead.OwnerID != nil {
		t.Fatalf("owner = %v, want none without distribution", lead.OwnerID)
	}
	conv, _ := f.store.GetConversation(f.ctx, f.tenant, routed.ConversationID)
	if conv.HandlerID != nil {
		t.Fatalf("conversation handler = %v, want none", conv.HandlerID)
	}
}

func TestTransferToUnknownQueue(t *testing.T) {
	f := newFixture(t)
	l, _ := f.routeToSales()

	_, err := f.coord.TransferToQueue(f.ctx, ToQueueParams{TenantID: f.tenant, LeadID: l.ID, QueueID: uuid.New()})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	if got := f.lead(l.ID).QueueID; got == nil || *got != f.sales.ID {
		t.Fatal("queue must be unchanged")
	}
}

func TestCommitFailureLeavesNoPartialState(t *testing.T) {
	f := newFixture(t)
	l, routed := f.routeToSales()
	f.store.FailCommit = true

	if _, err := f.coord.TransferToHandler(f.ctx, ToHandlerParams{TenantID: f.tenant, LeadID: l.ID, HandlerID: f.handlerB}); !apperr.Is(err, apperr.KindTransactionFailed) {
		t.Fatalf("transfer err = %v", err)
	}
	if got := f.binding(l.ID, f.sales.ID); got == nil || *got != f.handlerA {
		t.Fatal("binding must be unchanged")
	}

	if _, err := f.coord.CloseConversation(f.ctx, CloseParams{TenantID: f.tenant, ConversationID: routed.ConversationID}); !apperr.Is(err, apperr.KindTransactionFailed) {
		t.Fatalf("close err = %v", err)
	}
	if f.lead(l.ID).QueueID == nil {
		t.Fatal("queue must survive a failed close")
	}
	conv, _ := f.store.GetConversation(f.ctx, f.tenant, routed.ConversationID)
	if !conv.IsOpen() {
		t.Fatal("conversation must stay open")
	}
}

func TestGetTransferOptions(t *testing.T) {
	f := newFixture(t)
	other := domain.Channel{ID: uuid.New(), TenantID: f.tenant}
	f.store.AddChannel(other)
	pipeline := uuid.New()
	f.store.AddQueue(domain.Queue{
		ID: uuid.New(), TenantID: f.tenant, ChannelID: other.ID, PipelineID: &pipeline,
		Name: "Partners", MenuOption: 1, Active: true,
	})
	l, _ := f.routeToSales()

	opts, err := f.coord.GetTransferOptions(f.ctx, f.tenant, l.ID, false)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.CurrentQueue == nil || opts.CurrentQueue.ID != f.sales.ID {
		t.Fatal("current queue missing")
	}
	if len(opts.Handlers) != 1 || opts.Handlers[0].ID != f.handlerB {
		t.Fatalf("handlers = %+v, want queue handlers without the owner", opts.Handlers)
	}
	if len(opts.Queues) != 1 || opts.Queues[0].ID != f.support.ID {
		t.Fatalf("queues = %+v, want the other queue of the channel", opts.Queues)
	}
	if len(opts.Ownerships) != 1 || opts.Ownerships[0].HandlerID != f.handlerA || opts.Ownerships[0].QueueName != "Sales" {
		t.Fatalf("ownerships = %+v", opts.Ownerships)
	}

	admin, err := f.coord.GetTransferOptions(f.ctx, f.tenant, l.ID, true)
	if err != nil {
		t.Fatalf("admin options: %v", err)
	}
	if len(admin.Queues) != 2 {
		t.Fatalf("admin must see every active tenant queue, got %d", len(admin.Queues))
	}

	owned, err := f.coord.ListOwnerships(f.ctx, f.tenant, l.ID)
	if err != nil || len(owned) != 1 {
		t.Fatalf("ownerships = %+v, %v", owned, err)
	}
}

func TestTransferOptionsFallBackToTenantHandlers(t *testing.T) {
	f := newFixture(t)
	lead := f.newLead()

	opts, err := f.coord.GetTransferOptions(f.ctx, f.tenant, lead.ID, false)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.CurrentQueue != nil {
		t.Fatal("lead without queue has no current queue")
	}
	if len(opts.Handlers) != 3 {
		t.Fatalf("handlers = %d, want every tenant handler", len(opts.Handlers))
	}
	if len(opts.Queues) != 2 {
		t.Fatalf("queues = %d, want both channel queues", len(opts.Queues))
	}
}

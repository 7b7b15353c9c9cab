package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"inbox_routing_backend/internal/routing/assignment"
	"inbox_routing_backend/internal/routing/domain"
	"inbox_routing_backend/internal/routing/lock"
	"inbox_routing_backend/internal/routing/notify"
	"inbox_routing_backend/internal/routing/ownership"
	"inbox_routing_backend/internal/routing/ports"
	"inbox_routing_backend/internal/routing/routingtest"
	"inbox_routing_backend/platform/apperr"

	"github.com/google/uuid"
)

type fixture struct {
	t           *testing.T
	store       *routingtest.Memory
	sender      *routingtest.Sender
	broadcaster *routingtest.Broadcaster
	router      *Router
	clock       time.Time

	tenant     uuid.UUID
	channel    domain.Channel
	sales      domain.Queue
	support    domain.Queue
	salesStage uuid.UUID
	handlerA   uuid.UUID
	handlerB   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:           t,
		store:       routingtest.NewMemory(),
		sender:      &routingtest.Sender{},
		broadcaster: &routingtest.Broadcaster{},
		clock:       time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		tenant:      uuid.New(),
		handlerA:    uuid.New(),
		handlerB:    uuid.New(),
		salesStage:  uuid.New(),
	}
	now := func() time.Time { return f.clock }
	f.store.Now = now

	salesPipeline, supportPipeline := uuid.New(), uuid.New()
	f.store.AddPipeline(salesPipeline, f.salesStage, uuid.New())
	f.store.AddPipeline(supportPipeline, uuid.New())

	f.channel = domain.Channel{ID: uuid.New(), TenantID: f.tenant, Name: "whatsapp", QueueMenuEnabled: true}
	f.store.AddChannel(f.channel)

	f.store.AddHandler(f.tenant, ports.HandlerInfo{ID: f.handlerA, Name: "Ana"})
	f.store.AddHandler(f.tenant, ports.HandlerInfo{ID: f.handlerB, Name: "Bruno"})

	f.sales = domain.Queue{
		ID: uuid.New(), TenantID: f.tenant, ChannelID: f.channel.ID, PipelineID: &salesPipeline,
		Name: "Sales", MenuOption: 1, MenuLabel: "Sales", AutoDistribute: true, Active: true,
	}
	f.support = domain.Queue{
		ID: uuid.New(), TenantID: f.tenant, ChannelID: f.channel.ID, PipelineID: &supportPipeline,
		Name: "Support", MenuOption: 2, MenuLabel: "Support", AutoDistribute: true, Active: true,
	}
	f.store.AddQueue(f.sales, f.handlerA, f.handlerB)
	f.store.AddQueue(f.support, f.handlerA, f.handlerB)

	ledger := ownership.New(f.store, f.store)
	assigner := assignment.New(assignment.NewMemoryStore(), nil, assignment.WithClock(now))
	distributor := assignment.NewDistributor(assigner, f.store, nil)

	f.router = New(Deps{
		Store:      f.store,
		Placer:     NewPlacer(f.store, distributor, ledger),
		Locker:     lock.NewMemory(),
		Dispatcher: notify.NewDispatcher(f.sender, f.broadcaster, nil, nil),
		Now:        now,
	}, Config{Grace: time.Minute, DefaultReturnTimeout: 24 * time.Hour})
	return f
}

func (f *fixture) newLead() domain.Lead {
	lead := domain.Lead{ID: uuid.New(), TenantID: f.tenant, ChannelID: f.channel.ID, Status: domain.LeadStatusOpen}
	f.store.AddLead(lead)
	return lead
}

func (f *fixture) inbound(leadID uuid.UUID, text string) *Decision {
	f.t.Helper()
	f.clock = f.clock.Add(10 * time.Second)
	d, err := f.router.HandleInbound(context.Background(), InboundMessage{
		TenantID:  f.tenant,
		ChannelID: f.channel.ID,
		LeadID:    leadID,
		Text:      text,
	})
	if err != nil {
		f.t.Fatalf("handle inbound %q: %v", text, err)
	}
	return d
}

func (f *fixture) lead(id uuid.UUID) domain.Lead {
	f.t.Helper()
	l, err := f.store.GetLead(context.Background(), f.tenant, id)
	if err != nil {
		f.t.Fatalf("get lead: %v", err)
	}
	return l
}

// closeConversation mimics a handler closing the ticket.
func (f *fixture) closeConversation(conversationID uuid.UUID) {
	f.t.Helper()
	conv, err := f.store.GetConversation(context.Background(), f.tenant, conversationID)
	if err != nil {
		f.t.Fatalf("get conversation: %v", err)
	}
	closedAt := f.clock
	conv.Status = domain.ConversationClosed
	conv.ClosedAt = &closedAt
	f.store.AddConversation(conv)

	lead := f.lead(conv.LeadID)
	lead.QueueID = nil
	f.store.AddLead(lead)
}

func TestNoQueueAlwaysGetsMenuFirst(t *testing.T) {
	f := newFixture(t)
	lead := f.newLead()

	d := f.inbound(lead.ID, "1")
	if d.State != domain.StateAwaitingSelection || !d.MenuSent || d.Deliver {
		t.Fatalf("unexpected decision %+v", d)
	}
	if f.lead(lead.ID).QueueID != nil {
		t.Fatal("queue must not be set before a reply to the menu")
	}

	sent := f.sender.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d texts, want 1", len(sent))
	}
	want := "Escolha uma opção:\n1 - Sales\n2 - Support"
	if sent[0].Text != want {
		t.Fatalf("menu = %q, want %q", sent[0].Text, want)
	}

	msgs := f.store.Messages(d.ConversationID)
	if len(msgs) != 2 {
		t.Fatalf("transcript has %d messages, want inbound + menu", len(msgs))
	}
	if msgs[1].SenderType != domain.SenderSystem || msgs[1].Metadata["kind"] != notify.KindMenu {
		t.Fatalf("menu not persisted as system message: %+v", msgs[1])
	}
	if len(f.broadcaster.Messages()) != 1 {
		t.Fatal("menu must be broadcast to observers")
	}
}

func TestValidSelectionRoutesAndWelcomes(t *testing.T) {
	f := newFixture(t)
	lead := f.newLead()

	f.inbound(lead.ID, "oi")
	d := f.inbound(lead.ID, "1")

	if d.State != domain.StateRouted || d.MenuSent {
		t.Fatalf("unexpected decision %+v", d)
	}
	if d.Queue == nil || d.Queue.ID != f.sales.ID {
		t.Fatalf("routed to %+v, want Sales", d.Queue)
	}
	if d.OwnerID == nil || *d.OwnerID != f.handlerA || d.Sticky {
		t.Fatalf("owner = %v sticky=%v, want first handler by distribution", d.OwnerID, d.Sticky)
	}

	stored := f.lead(lead.ID)
	if stored.QueueID == nil || *stored.QueueID != f.sales.ID {
		t.Fatal("lead queue not persisted")
	}
	if stored.StageID == nil || *stored.StageID != f.salesStage {
		t.Fatal("lead must enter the first stage of the queue pipeline")
	}

	conv, err := f.store.GetConversation(context.Background(), f.tenant, d.ConversationID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if conv.MenuSentAt != nil || conv.HandlerID == nil || *conv.HandlerID != f.handlerA {
		t.Fatalf("conversation not bound: %+v", conv)
	}

	sent := f.sender.Sent()
	if last := sent[len(sent)-1].Text; last != "Perfeito! Você selecionou *Sales*. Em que posso ajudá-lo?" {
		t.Fatalf("welcome = %q", last)
	}
}

func TestInvalidReplyRepeatsMenuWithNotice(t *testing.T) {
	f := newFixture(t)
	lead := f.newLead()

	f.inbound(lead.ID, "oi")
	d := f.inbound(lead.ID, "9")

	if d.State != domain.StateAwaitingSelection || !d.MenuSent || d.Deliver {
		t.Fatalf("unexpected decision %+v", d)
	}
	if !domain.Has(d.Actions, domain.ActionSendInvalidMenu) {
		t.Fatalf("actions = %v", d.Actions)
	}
	sent := f.sender.Sent()
	retry := sent[len(sent)-1].Text
	if !strings.HasPrefix(retry, domain.DefaultInvalidResponse) || !strings.HasSuffix(retry, domain.DefaultMenuPrompt) {
		t.Fatalf("retry text = %q", retry)
	}

	d = f.inbound(lead.ID, "Supp")
	if d.Queue == nil || d.Queue.ID != f.support.ID {
		t.Fatal("free text contained in a label must select that queue")
	}
}

func TestRotationAndStickyReturn(t *testing.T) {
	f := newFixture(t)
	l := f.newLead()
	m := f.newLead()
	n := f.newLead()

	f.inbound(l.ID, "oi")
	first := f.inbound(l.ID, "1")
	if *first.OwnerID != f.handlerA {
		t.Fatal("first lead must go to A")
	}

	f.inbound(m.ID, "oi")
	if d := f.inbound(m.ID, "1"); *d.OwnerID != f.handlerB {
		t.Fatal("second lead must go to B")
	}
	f.inbound(n.ID, "oi")
	if d := f.inbound(n.ID, "1"); *d.OwnerID != f.handlerA {
		t.Fatal("third lead must wrap to A")
	}

	f.closeConversation(first.ConversationID)
	if f.lead(l.ID).QueueID != nil {
		t.Fatal("close must reset the queue")
	}

	d := f.inbound(l.ID, "voltei")
	if !d.MenuSent {
		t.Fatal("lead without queue must see the menu again")
	}
	if d.ConversationID == first.ConversationID {
		t.Fatal("a new conversation must be opened")
	}

	d = f.inbound(l.ID, "1")
	if d.OwnerID == nil || *d.OwnerID != f.handlerA || !d.Sticky {
		t.Fatalf("returning lead must reach A through its binding, got %v sticky=%v", d.OwnerID, d.Sticky)
	}

	// The sticky return did not consume a rotation slot.
	o := f.newLead()
	f.inbound(o.ID, "oi")
	if d := f.inbound(o.ID, "1"); *d.OwnerID != f.handlerB {
		t.Fatal("rotation must continue at B")
	}
}

func TestOpenConversationIsDelivered(t *testing.T) {
	f := newFixture(t)
	lead := f.newLead()
	f.inbound(lead.ID, "oi")
	routed := f.inbound(lead.ID, "2")

	f.clock = f.clock.Add(5 * time.Minute)
	d := f.inbound(lead.ID, "preciso de ajuda")
	if d.State != domain.StateRouted || !d.Deliver || d.MenuSent {
		t.Fatalf("unexpected decision %+v", d)
	}
	if d.ConversationID != routed.ConversationID {
		t.Fatal("item must join the open conversation")
	}
}

func (f *fixture) seedClosed(closedAgo time.Duration, owner uuid.UUID) (domain.Lead, domain.Conversation) {
	lead := f.newLead()
	queueID := f.sales.ID
	lead.QueueID = &queueID
	lead.PipelineID = f.sales.PipelineID
	lead.OwnerID = &owner
	f.store.AddLead(lead)

	closedAt := f.clock.Add(-closedAgo)
	conv := domain.Conversation{
		ID:        uuid.New(),
		TenantID:  f.tenant,
		LeadID:    lead.ID,
		ChannelID: f.channel.ID,
		Status:    domain.ConversationClosed,
		HandlerID: &owner,
		OpenedAt:  closedAt.Add(-time.Hour),
		ClosedAt:  &closedAt,
	}
	f.store.AddConversation(conv)
	return lead, conv
}

func TestReturnInsideWindowReopens(t *testing.T) {
	f := newFixture(t)
	lead, closed := f.seedClosed(2*time.Hour, f.handlerB)

	d := f.inbound(lead.ID, "oi de novo")
	if !d.Reopened || d.ConversationID != closed.ID {
		t.Fatalf("expected reopen of %s, got %+v", closed.ID, d)
	}
	if !d.Deliver || d.MenuSent {
		t.Fatal("reopened conversation must be delivered without menu")
	}
	conv, _ := f.store.GetConversation(context.Background(), f.tenant, closed.ID)
	if !conv.IsOpen() || conv.ClosedAt != nil {
		t.Fatalf("conversation not reopened: %+v", conv)
	}
	if conv.HandlerID == nil || *conv.HandlerID != f.handlerB {
		t.Fatal("reopened conversation must keep its handler")
	}
}

func TestReturnAfterWindowOpensNewConversation(t *testing.T) {
	f := newFixture(t)
	lead, closed := f.seedClosed(48*time.Hour, f.handlerA)

	d := f.inbound(lead.ID, "oi")
	if d.Reopened || d.ConversationID == closed.ID {
		t.Fatal("expired return must open a new conversation")
	}
	if d.MenuSent || !d.Deliver {
		t.Fatalf("expired return with queue set routes without menu: %+v", d)
	}
	if len(f.store.Conversations(lead.ID)) != 2 {
		t.Fatal("expected the closed and the new conversation")
	}
}

func TestFollowUpInsideGraceJoinsFreshConversation(t *testing.T) {
	f := newFixture(t)
	lead, _ := f.seedClosed(48*time.Hour, f.handlerA)

	first := f.inbound(lead.ID, "oi")
	second := f.inbound(lead.ID, "tudo bem?")

	if second.State != domain.StateRouted || second.ConversationID != first.ConversationID {
		t.Fatalf("follow-up must join the open conversation: %+v", second)
	}
	if domain.Has(second.Actions, domain.ActionOpenConversation) {
		t.Fatalf("actions = %v, an open conversation is reused", second.Actions)
	}
	if len(f.store.Conversations(lead.ID)) != 2 {
		t.Fatal("no further conversation may be opened")
	}
}

func TestMenuDisabledUsesDefaultQueue(t *testing.T) {
	f := newFixture(t)
	f.channel.QueueMenuEnabled = false
	f.store.AddChannel(f.channel)
	lead := f.newLead()

	d := f.inbound(lead.ID, "olá")
	if d.MenuSent || !d.Deliver {
		t.Fatalf("unexpected decision %+v", d)
	}
	stored := f.lead(lead.ID)
	if stored.QueueID == nil || *stored.QueueID != f.sales.ID {
		t.Fatal("lead must land in the first queue by menu option")
	}
	if stored.OwnerID == nil || *stored.OwnerID != f.handlerA {
		t.Fatal("default queue must auto-distribute")
	}
	if len(f.sender.Sent()) != 0 {
		t.Fatal("no automated text expected")
	}
}

func TestNoEligibleHandlersLeavesLeadUnowned(t *testing.T) {
	f := newFixture(t)
	f.store.DeactivateQueueHandler(f.sales.ID, f.handlerA)
	f.store.DeactivateQueueHandler(f.sales.ID, f.handlerB)
	lead := f.newLead()

	f.inbound(lead.ID, "oi")
	d := f.inbound(lead.ID, "1")
	if d.State != domain.StateRouted || d.OwnerID != nil {
		t.Fatalf("unexpected decision %+v", d)
	}
	stored := f.lead(lead.ID)
	if stored.QueueID == nil || stored.OwnerID != nil {
		t.Fatal("queue must be set and owner left empty")
	}
}

func TestQueueWithoutPipelineFails(t *testing.T) {
	f := newFixture(t)
	broken := domain.Queue{
		ID: uuid.New(), TenantID: f.tenant, ChannelID: f.channel.ID,
		Name: "Broken", MenuOption: 3, MenuLabel: "Broken", Active: true,
	}
	f.store.AddQueue(broken)
	lead := f.newLead()
	f.inbound(lead.ID, "oi")

	_, err := f.router.HandleInbound(context.Background(), InboundMessage{
		TenantID: f.tenant, ChannelID: f.channel.ID, LeadID: lead.ID, Text: "3",
	})
	if !errors.Is(err, domain.ErrQueueMisconfigured) {
		t.Fatalf("err = %v, want ErrQueueMisconfigured", err)
	}
	if f.lead(lead.ID).QueueID != nil {
		t.Fatal("nothing may persist on failure")
	}
}

func TestSideEffectFailureDoesNotUndoDecision(t *testing.T) {
	f := newFixture(t)
	f.sender.Err = errors.New("gateway down")
	f.broadcaster.Err = errors.New("no observers")
	lead := f.newLead()

	d := f.inbound(lead.ID, "oi")
	if !d.MenuSent {
		t.Fatal("menu decision must stand")
	}
	if len(f.store.Messages(d.ConversationID)) != 2 {
		t.Fatal("menu must stay persisted")
	}
}

func TestCommitFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.store.FailCommit = true
	lead := f.newLead()

	_, err := f.router.HandleInbound(context.Background(), InboundMessage{
		TenantID: f.tenant, ChannelID: f.channel.ID, LeadID: lead.ID, Text: "oi",
	})
	if !apperr.Is(err, apperr.KindTransactionFailed) {
		t.Fatalf("err = %v, want transaction failure", err)
	}
	if len(f.store.Conversations(lead.ID)) != 0 {
		t.Fatal("no conversation may persist")
	}
	if len(f.sender.Sent()) != 0 {
		t.Fatal("nothing may be sent for a rolled back decision")
	}
}

func TestFailedCommitDoesNotAdvanceRotation(t *testing.T) {
	f := newFixture(t)
	lead := f.newLead()
	f.inbound(lead.ID, "oi")

	f.store.FailCommit = true
	_, err := f.router.HandleInbound(context.Background(), InboundMessage{
		TenantID: f.tenant, ChannelID: f.channel.ID, LeadID: lead.ID, Text: "1",
	})
	if !apperr.Is(err, apperr.KindTransactionFailed) {
		t.Fatalf("err = %v, want transaction failure", err)
	}
	f.store.FailCommit = false

	d := f.inbound(lead.ID, "1")
	if d.OwnerID == nil || *d.OwnerID != f.handlerA {
		t.Fatalf("owner = %v, want A after the rolled back pick", d.OwnerID)
	}

	next := f.newLead()
	f.inbound(next.ID, "oi")
	if d := f.inbound(next.ID, "1"); d.OwnerID == nil || *d.OwnerID != f.handlerB {
		t.Fatalf("owner = %v, want B", d.OwnerID)
	}
}

func TestUnknownLeadIsNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.router.HandleInbound(context.Background(), InboundMessage{
		TenantID: f.tenant, ChannelID: f.channel.ID, LeadID: uuid.New(), Text: "oi",
	})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestConcurrentItemsOfOneLeadShareConversation(t *testing.T) {
	f := newFixture(t)
	lead := f.newLead()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.router.HandleInbound(context.Background(), InboundMessage{
				TenantID: f.tenant, ChannelID: f.channel.ID, LeadID: lead.ID, Text: "oi",
			}); err != nil {
				t.Errorf("handle inbound: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := len(f.store.Conversations(lead.ID)); n != 1 {
		t.Fatalf("%d conversations, want 1", n)
	}
}

func TestHandleReturningLeadRedistributes(t *testing.T) {
	f := newFixture(t)
	lead := f.newLead()
	queueID := f.sales.ID
	lead.QueueID = &queueID
	f.store.AddLead(lead)

	owner, err := f.router.HandleReturningLead(context.Background(), f.tenant, lead.ID)
	if err != nil {
		t.Fatalf("handle returning lead: %v", err)
	}
	if owner == nil || *owner != f.handlerA {
		t.Fatalf("owner = %v, want A", owner)
	}
	if got := f.lead(lead.ID).OwnerID; got == nil || *got != f.handlerA {
		t.Fatal("owner not persisted")
	}

	again, err := f.router.HandleReturningLead(context.Background(), f.tenant, lead.ID)
	if err != nil || again == nil || *again != f.handlerA {
		t.Fatal("an owned lead must keep its owner")
	}
}

func TestNeedsQueueMenuAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lead := f.newLead()

	needs, err := f.router.NeedsQueueMenu(ctx, f.tenant, lead.ID, f.channel.ID)
	if err != nil || !needs {
		t.Fatalf("needs menu = %v, %v", needs, err)
	}

	f.inbound(lead.ID, "oi")
	f.inbound(lead.ID, "1")
	if needs, _ := f.router.NeedsQueueMenu(ctx, f.tenant, lead.ID, f.channel.ID); needs {
		t.Fatal("routed lead needs no menu")
	}

	menu, err := f.router.Menu(ctx, f.tenant, f.channel.ID)
	if err != nil || len(menu.Options) != 2 {
		t.Fatalf("menu = %+v, %v", menu, err)
	}

	stats, err := f.router.QueueStats(ctx, f.tenant, f.channel.ID)
	if err != nil {
		t.Fatalf("queue stats: %v", err)
	}
	if len(stats) != 2 || stats[0].QueueID != f.sales.ID || stats[0].LeadsCount != 1 || stats[0].HandlersCount != 2 {
		t.Fatalf("stats = %+v", stats)
	}

	loads, err := f.router.DistributionStats(ctx, f.tenant, f.channel.ID)
	if err != nil || len(loads) != 1 || loads[0].HandlerID != f.handlerA || loads[0].Assignments != 1 {
		t.Fatalf("loads = %+v, %v", loads, err)
	}
}

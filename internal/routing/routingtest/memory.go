// Package routingtest provides in-memory implementations of the routing
// ports for tests.
package routingtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"inbox_routing_backend/internal/routing/domain"
	"inbox_routing_backend/internal/routing/ports"
	"inbox_routing_backend/platform/apperr"

	"github.com/google/uuid"
)

type queueMember struct {
	handlerID uuid.UUID
	priority  int
	active    bool
}

type logEntry struct {
	tenantID  uuid.UUID
	channelID uuid.UUID
	queueID   *uuid.UUID
	handlerID uuid.UUID
	at        time.Time
}

type state struct {
	leads         map[uuid.UUID]domain.Lead
	conversations map[uuid.UUID]domain.Conversation
	channels      map[uuid.UUID]domain.Channel
	queues        map[uuid.UUID]domain.Queue
	bindings      map[uuid.UUID]domain.Binding
	messages      []domain.Message
	log           []logEntry

	handlers     map[uuid.UUID]ports.HandlerInfo
	handlerOwner map[uuid.UUID]uuid.UUID
	queueMembers map[uuid.UUID][]queueMember
	teams        map[uuid.UUID][]uuid.UUID
	stages       map[uuid.UUID][]uuid.UUID
}

func newState() *state {
	return &state{
		leads:         make(map[uuid.UUID]domain.Lead),
		conversations: make(map[uuid.UUID]domain.Conversation),
		channels:      make(map[uuid.UUID]domain.Channel),
		queues:        make(map[uuid.UUID]domain.Queue),
		bindings:      make(map[uuid.UUID]domain.Binding),
		handlers:      make(map[uuid.UUID]ports.HandlerInfo),
		handlerOwner:  make(map[uuid.UUID]uuid.UUID),
		queueMembers:  make(map[uuid.UUID][]queueMember),
		teams:         make(map[uuid.UUID][]uuid.UUID),
		stages:        make(map[uuid.UUID][]uuid.UUID),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.leads {
		c.leads[k] = v
	}
	for k, v := range s.conversations {
		c.conversations[k] = v
	}
	for k, v := range s.channels {
		c.channels[k] = v
	}
	for k, v := range s.queues {
		c.queues[k] = v
	}
	for k, v := range s.bindings {
		c.bindings[k] = v
	}
	c.messages = append([]domain.Message(nil), s.messages...)
	c.log = append([]logEntry(nil), s.log...)
	for k, v := range s.handlers {
		c.handlers[k] = v
	}
	for k, v := range s.handlerOwner {
		c.handlerOwner[k] = v
	}
	for k, v := range s.queueMembers {
		c.queueMembers[k] = append([]queueMember(nil), v...)
	}
	for k, v := range s.teams {
		c.teams[k] = append([]uuid.UUID(nil), v...)
	}
	for k, v := range s.stages {
		c.stages[k] = append([]uuid.UUID(nil), v...)
	}
	return c
}

// Memory is an in-memory ports.Store that also serves as handler and
// pipeline directory. Transactions work on a copy that replaces the state
// on commit.
type Memory struct {
	mu    sync.Mutex
	txMu  *sync.Mutex
	st    *state
	hooks *[]func(ctx context.Context)

	// FailCommit makes every WithinTx call roll back with a transaction failure.
	FailCommit bool
	// Now stamps created rows. Defaults to time.Now.
	Now        func() time.Time
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{txMu: &sync.Mutex{}, st: newState(), Now: time.Now}
}

var (
	_ ports.Store             = (*Memory)(nil)
	_ ports.HandlerDirectory  = (*Memory)(nil)
	_ ports.PipelineDirectory = (*Memory)(nil)
)

// WithinTx implements ports.Store. Calls made inside a transaction join it.
func (m *Memory) WithinTx(ctx context.Context, fn func(tx ports.Store) error) error {
	if m.hooks != nil {
		return fn(m)
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	var hooks []func(ctx context.Context)
	m.mu.Lock()
	tx := &Memory{txMu: &sync.Mutex{}, st: m.st.clone(), hooks: &hooks, Now: m.Now}
	m.mu.Unlock()

	if err := fn(tx); err != nil {
		runRollbackHooks(ctx, hooks)
		return err
	}
	if m.FailCommit {
		runRollbackHooks(ctx, hooks)
		return apperr.TransactionFailed("commit", context.DeadlineExceeded)
	}

	m.mu.Lock()
	m.st = tx.st
	m.mu.Unlock()
	return nil
}

// OnRollback implements ports.Store. Outside a transaction it is a no-op.
func (m *Memory) OnRollback(fn func(ctx context.Context)) {
	if m.hooks == nil {
		return
	}
	*m.hooks = append(*m.hooks, fn)
}

func runRollbackHooks(ctx context.Context, hooks []func(ctx context.Context)) {
	ctx = context.WithoutCancel(ctx)
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i](ctx)
	}
}

// Seeding helpers.

// AddChannel stores a channel.
func (m *Memory) AddChannel(c domain.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.channels[c.ID] = c
}

// AddQueue stores a queue and its eligible handlers in rotation order.
func (m *Memory) AddQueue(q domain.Queue, handlerIDs ...uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.queues[q.ID] = q
	members := make([]queueMember, 0, len(handlerIDs))
	for i, id := range handlerIDs {
		members = append(members, queueMember{handlerID: id, priority: len(handlerIDs) - i, active: true})
	}
	m.st.queueMembers[q.ID] = members
}

// DeactivateQueueHandler marks a handler inactive in a queue.
func (m *Memory) DeactivateQueueHandler(queueID, handlerID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, member := range m.st.queueMembers[queueID] {
		if member.handlerID == handlerID {
			m.st.queueMembers[queueID][i].active = false
		}
	}
}

// AddHandler registers a handler of the tenant.
func (m *Memory) AddHandler(tenantID uuid.UUID, info ports.HandlerInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info.Kind == "" {
		info.Kind = "user"
	}
	m.st.handlers[info.ID] = info
	m.st.handlerOwner[info.ID] = tenantID
}

// AddTeam registers team membership.
func (m *Memory) AddTeam(teamID uuid.UUID, members ...uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.teams[teamID] = append([]uuid.UUID(nil), members...)
}

// AddPipeline registers a pipeline with its stages in order.
func (m *Memory) AddPipeline(pipelineID uuid.UUID, stageIDs ...uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.stages[pipelineID] = append([]uuid.UUID(nil), stageIDs...)
}

// AddLead stores a lead.
func (m *Memory) AddLead(l domain.Lead) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.leads[l.ID] = l
}

// AddConversation stores a conversation as is.
func (m *Memory) AddConversation(c domain.Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.conversations[c.ID] = c
}

// Messages returns the transcript of a conversation in insertion order.
func (m *Memory) Messages(conversationID uuid.UUID) []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Message, 0)
	for _, msg := range m.st.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out
}

// Conversations returns every conversation of a lead ordered by opening time.
func (m *Memory) Conversations(leadID uuid.UUID) []domain.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Conversation, 0)
	for _, c := range m.st.conversations {
		if c.LeadID == leadID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// LeadStore

func (m *Memory) GetLead(_ context.Context, tenantID, leadID uuid.UUID) (domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.st.leads[leadID]
	if !ok || l.TenantID != tenantID {
		return domain.Lead{}, apperr.NotFound("lead not found")
	}
	return l, nil
}

func (m *Memory) LockLead(ctx context.Context, tenantID, leadID uuid.UUID) (domain.Lead, error) {
	return m.GetLead(ctx, tenantID, leadID)
}

func (m *Memory) SaveLeadRouting(_ context.Context, lead domain.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.st.leads[lead.ID]
	if !ok || stored.TenantID != lead.TenantID {
		return apperr.NotFound("lead not found")
	}
	stored.QueueID = lead.QueueID
	stored.PipelineID = lead.PipelineID
	stored.StageID = lead.StageID
	stored.OwnerID = lead.OwnerID
	stored.UpdatedAt = m.Now()
	m.st.leads[lead.ID] = stored
	return nil
}

// ConversationStore

func (m *Memory) GetConversation(_ context.Context, tenantID, conversationID uuid.UUID) (domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.st.conversations[conversationID]
	if !ok || c.TenantID != tenantID {
		return domain.Conversation{}, apperr.NotFound("conversation not found")
	}
	return c, nil
}

func (m *Memory) FindOpenConversation(_ context.Context, tenantID, leadID, channelID uuid.UUID) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.st.conversations {
		if c.TenantID == tenantID && c.LeadID == leadID && c.ChannelID == channelID && c.IsOpen() {
			found := c
			return &found, nil
		}
	}
	return nil, nil
}

func (m *Memory) LastClosedConversation(_ context.Context, tenantID, leadID, channelID uuid.UUID) (*domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.Conversation
	for _, c := range m.st.conversations {
		if c.TenantID != tenantID || c.LeadID != leadID || c.ChannelID != channelID || c.IsOpen() || c.ClosedAt == nil {
			continue
		}
		if latest == nil || c.ClosedAt.After(*latest.ClosedAt) {
			found := c
			latest = &found
		}
	}
	return latest, nil
}

func (m *Memory) ListOpenConversations(_ context.Context, tenantID, leadID uuid.UUID) ([]domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Conversation, 0)
	for _, c := range m.st.conversations {
		if c.TenantID == tenantID && c.LeadID == leadID && c.IsOpen() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (m *Memory) CreateConversation(_ context.Context, conversation domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conversation.IsOpen() {
		for _, c := range m.st.conversations {
			if c.LeadID == conversation.LeadID && c.ChannelID == conversation.ChannelID && c.IsOpen() {
				return apperr.Conflict("lead already has an open conversation on this channel")
			}
		}
	}
	m.st.conversations[conversation.ID] = conversation
	return nil
}

func (m *Memory) SaveConversation(_ context.Context, conversation domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.conversations[conversation.ID]; !ok {
		return apperr.NotFound("conversation not found")
	}
	if conversation.IsOpen() {
		for id, c := range m.st.conversations {
			if id != conversation.ID && c.LeadID == conversation.LeadID && c.ChannelID == conversation.ChannelID && c.IsOpen() {
				return apperr.Conflict("lead already has an open conversation on this channel")
			}
		}
	}
	m.st.conversations[conversation.ID] = conversation
	return nil
}

// QueueStore

func (m *Memory) GetChannel(_ context.Context, tenantID, channelID uuid.UUID) (domain.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.st.channels[channelID]
	if !ok || c.TenantID != tenantID {
		return domain.Channel{}, apperr.NotFound("channel not found")
	}
	return c, nil
}

func (m *Memory) GetQueue(_ context.Context, tenantID, queueID uuid.UUID) (domain.Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.st.queues[queueID]
	if !ok || q.TenantID != tenantID {
		return domain.Queue{}, apperr.NotFound("queue not found")
	}
	return q, nil
}

func (m *Memory) ListChannelQueues(_ context.Context, tenantID, channelID uuid.UUID) ([]domain.Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Queue, 0)
	for _, q := range m.st.queues {
		if q.TenantID == tenantID && q.ChannelID == channelID {
			out = append(out, q)
		}
	}
	sortQueues(out)
	return out, nil
}

func (m *Memory) ListTenantQueues(_ context.Context, tenantID uuid.UUID) ([]domain.Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Queue, 0)
	for _, q := range m.st.queues {
		if q.TenantID == tenantID {
			out = append(out, q)
		}
	}
	sortQueues(out)
	return out, nil
}

func sortQueues(queues []domain.Queue) {
	sort.Slice(queues, func(i, j int) bool {
		if queues[i].MenuOption != queues[j].MenuOption {
			return queues[i].MenuOption < queues[j].MenuOption
		}
		return queues[i].Name < queues[j].Name
	})
}

func (m *Memory) QueueStats(_ context.Context, tenantID, channelID uuid.UUID) ([]domain.QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	queues := make([]domain.Queue, 0)
	for _, q := range m.st.queues {
		if q.TenantID == tenantID && q.ChannelID == channelID && q.Active {
			queues = append(queues, q)
		}
	}
	sortQueues(queues)

	out := make([]domain.QueueStats, 0, len(queues))
	for _, q := range queues {
		stats := domain.QueueStats{QueueID: q.ID, Name: q.Name, AutoDistribute: q.AutoDistribute}
		for _, l := range m.st.leads {
			if l.QueueID != nil && *l.QueueID == q.ID {
				stats.LeadsCount++
				if l.OwnerID == nil {
					stats.LeadsWaiting++
				}
			}
		}
		stats.HandlersCount = len(m.st.queueMembers[q.ID])
		out = append(out, stats)
	}
	return out, nil
}

// BindingStore

func (m *Memory) GetBinding(_ context.Context, tenantID, leadID, queueID uuid.UUID) (*domain.Binding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.st.bindings {
		if b.TenantID == tenantID && b.LeadID == leadID && b.QueueID == queueID {
			found := b
			return &found, nil
		}
	}
	return nil, nil
}

func (m *Memory) GetBindingByID(_ context.Context, tenantID, bindingID uuid.UUID) (*domain.Binding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.st.bindings[bindingID]
	if !ok || b.TenantID != tenantID {
		return nil, nil
	}
	return &b, nil
}

func (m *Memory) UpsertBinding(_ context.Context, p ports.UpsertBindingParams) (domain.Binding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	for id, b := range m.st.bindings {
		if b.TenantID == p.TenantID && b.LeadID == p.LeadID && b.QueueID == p.QueueID {
			b.HandlerID = p.HandlerID
			if p.ParentID != nil {
				b.ParentID = p.ParentID
			}
			if p.Weight != nil {
				b.Weight = *p.Weight
			}
			if p.Metadata != nil {
				b.Metadata = p.Metadata
			}
			b.UpdatedAt = now
			m.st.bindings[id] = b
			return b, nil
		}
	}

	b := domain.Binding{
		ID:        uuid.New(),
		TenantID:  p.TenantID,
		LeadID:    p.LeadID,
		QueueID:   p.QueueID,
		HandlerID: p.HandlerID,
		ParentID:  p.ParentID,
		Metadata:  p.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if p.Weight != nil {
		b.Weight = *p.Weight
	}
	if b.Metadata == nil {
		b.Metadata = map[string]any{}
	}
	if q, ok := m.st.queues[p.QueueID]; ok {
		b.QueueName = q.Name
	}
	m.st.bindings[b.ID] = b
	return b, nil
}

func (m *Memory) ListBindingsForLead(_ context.Context, tenantID, leadID uuid.UUID) ([]domain.Binding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Binding, 0)
	for _, b := range m.st.bindings {
		if b.TenantID == tenantID && b.LeadID == leadID {
			if q, ok := m.st.queues[b.QueueID]; ok {
				b.QueueName = q.Name
			}
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueueName < out[j].QueueName })
	return out, nil
}

// MessageStore

func (m *Memory) CreateMessage(_ context.Context, message domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.messages = append(m.st.messages, message)
	return nil
}

// AssignmentLog

func (m *Memory) RecordAssignment(_ context.Context, tenantID, channelID uuid.UUID, queueID *uuid.UUID, handlerID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.log = append(m.st.log, logEntry{tenantID: tenantID, channelID: channelID, queueID: queueID, handlerID: handlerID, at: at})
	return nil
}

func (m *Memory) DistributionStats(_ context.Context, tenantID, channelID uuid.UUID) ([]domain.HandlerLoad, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byHandler := make(map[uuid.UUID]*domain.HandlerLoad)
	order := make([]uuid.UUID, 0)
	for _, e := range m.st.log {
		if e.tenantID != tenantID || e.channelID != channelID {
			continue
		}
		load, ok := byHandler[e.handlerID]
		if !ok {
			load = &domain.HandlerLoad{HandlerID: e.handlerID}
			byHandler[e.handlerID] = load
			order = append(order, e.handlerID)
		}
		load.Assignments++
		at := e.at
		if load.LastAssignedAt == nil || at.After(*load.LastAssignedAt) {
			load.LastAssignedAt = &at
		}
	}
	out := make([]domain.HandlerLoad, 0, len(order))
	for _, id := range order {
		out = append(out, *byHandler[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Assignments > out[j].Assignments })
	return out, nil
}

func (m *Memory) LatestAssignments(_ context.Context) ([]domain.Marker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type key struct{ tenant, channel uuid.UUID }
	latest := make(map[key]domain.Marker)
	for _, e := range m.st.log {
		k := key{e.tenantID, e.channelID}
		if cur, ok := latest[k]; !ok || !e.at.Before(cur.AssignedAt) {
			latest[k] = domain.Marker{TenantID: e.tenantID, ChannelID: e.channelID, HandlerID: e.handlerID, AssignedAt: e.at}
		}
	}
	out := make([]domain.Marker, 0, len(latest))
	for _, marker := range latest {
		out = append(out, marker)
	}
	return out, nil
}

// HandlerDirectory

func (m *Memory) EligibleHandlers(_ context.Context, tenantID, queueID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := append([]queueMember(nil), m.st.queueMembers[queueID]...)
	sort.SliceStable(members, func(i, j int) bool { return members[i].priority > members[j].priority })
	out := make([]uuid.UUID, 0, len(members))
	for _, member := range members {
		if member.active && m.st.handlerOwner[member.handlerID] == tenantID {
			out = append(out, member.handlerID)
		}
	}
	return out, nil
}

func (m *Memory) QueueHandlers(_ context.Context, tenantID, queueID uuid.UUID) ([]ports.HandlerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ports.HandlerInfo, 0)
	for _, member := range m.st.queueMembers[queueID] {
		if member.active && m.st.handlerOwner[member.handlerID] == tenantID {
			out = append(out, m.st.handlers[member.handlerID])
		}
	}
	return out, nil
}

func (m *Memory) TenantHandlers(_ context.Context, tenantID uuid.UUID) ([]ports.HandlerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ports.HandlerInfo, 0)
	for id, info := range m.st.handlers {
		if m.st.handlerOwner[id] == tenantID {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) HandlerExists(_ context.Context, tenantID, handlerID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.st.handlerOwner[handlerID]
	return ok && owner == tenantID, nil
}

func (m *Memory) TeamMembers(_ context.Context, _ uuid.UUID, teamID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.st.teams[teamID]...), nil
}

// PipelineDirectory

func (m *Memory) FirstStage(_ context.Context, _ uuid.UUID, pipelineID uuid.UUID) (*uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stages := m.st.stages[pipelineID]
	if len(stages) == 0 {
		return nil, nil
	}
	first := stages[0]
	return &first, nil
}

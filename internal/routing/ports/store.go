// Package ports defines the interfaces the routing core needs from storage
// and from collaborators outside the core.
package ports

import (
	"context"
	"time"

	"inbox_routing_backend/internal/routing/domain"

	"github.com/google/uuid"
)

// LeadStore reads and writes lead routing fields.
type LeadStore interface {
	GetLead(ctx context.Context, tenantID, leadID uuid.UUID) (domain.Lead, error)
	// LockLead reads the lead and holds a row lock until the transaction ends.
	LockLead(ctx context.Context, tenantID, leadID uuid.UUID) (domain.Lead, error)
	// SaveLeadRouting persists queue, pipeline, stage and owner.
	SaveLeadRouting(ctx context.Context, lead domain.Lead) error
}

// ConversationStore manages contact windows.
type ConversationStore interface {
	GetConversation(ctx context.Context, tenantID, conversationID uuid.UUID) (domain.Conversation, error)
	// FindOpenConversation returns nil when the lead has no open conversation on the channel.
	FindOpenConversation(ctx context.Context, tenantID, leadID, channelID uuid.UUID) (*domain.Conversation, error)
	// LastClosedConversation returns the most recently closed conversation or nil.
	LastClosedConversation(ctx context.Context, tenantID, leadID, channelID uuid.UUID) (*domain.Conversation, error)
	ListOpenConversations(ctx context.Context, tenantID, leadID uuid.UUID) ([]domain.Conversation, error)
	CreateConversation(ctx context.Context, conversation domain.Conversation) error
	SaveConversation(ctx context.Context, conversation domain.Conversation) error
}

// QueueStore reads channel and queue configuration.
type QueueStore interface {
	GetChannel(ctx context.Context, tenantID, channelID uuid.UUID) (domain.Channel, error)
	GetQueue(ctx context.Context, tenantID, queueID uuid.UUID) (domain.Queue, error)
	// ListChannelQueues returns every queue of the channel, active or not.
	ListChannelQueues(ctx context.Context, tenantID, channelID uuid.UUID) ([]domain.Queue, error)
	ListTenantQueues(ctx context.Context, tenantID uuid.UUID) ([]domain.Queue, error)
	QueueStats(ctx context.Context, tenantID, channelID uuid.UUID) ([]domain.QueueStats, error)
}

// UpsertBindingParams describes a ledger write. Nil optional fields keep the
// stored value of an existing binding.
type UpsertBindingParams struct {
	TenantID  uuid.UUID
	LeadID    uuid.UUID
	QueueID   uuid.UUID
	HandlerID uuid.UUID
	ParentID  *uuid.UUID
	Weight    *int
	Metadata  map[string]any
}

// BindingStore persists sticky ownership.
type BindingStore interface {
	// GetBinding returns nil when the lead has no binding in the queue.
	GetBinding(ctx context.Context, tenantID, leadID, queueID uuid.UUID) (*domain.Binding, error)
	GetBindingByID(ctx context.Context, tenantID, bindingID uuid.UUID) (*domain.Binding, error)
	UpsertBinding(ctx context.Context, params UpsertBindingParams) (domain.Binding, error)
	ListBindingsForLead(ctx context.Context, tenantID, leadID uuid.UUID) ([]domain.Binding, error)
}

// MessageStore appends to conversation transcripts.
type MessageStore interface {
	CreateMessage(ctx context.Context, message domain.Message) error
}

// AssignmentLog records every round-robin pick so markers can be rebuilt.
type AssignmentLog interface {
	RecordAssignment(ctx context.Context, tenantID, channelID uuid.UUID, queueID *uuid.UUID, handlerID uuid.UUID, at time.Time) error
	DistributionStats(ctx context.Context, tenantID, channelID uuid.UUID) ([]domain.HandlerLoad, error)
	// LatestAssignments returns the newest logged pick per tenant and channel.
	LatestAssignments(ctx context.Context) ([]domain.Marker, error)
}

// Store is the routing persistence boundary.
type Store interface {
	LeadStore
	ConversationStore
	QueueStore
	BindingStore
	MessageStore
	AssignmentLog
	// WithinTx runs fn against a transactional Store. A failed commit is
	// reported as apperr.KindTransactionFailed and nothing fn wrote persists.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
	// OnRollback registers fn to run when the surrounding transaction ends
	// without committing. Outside a transaction it is ignored.
	OnRollback(fn func(ctx context.Context))
}

// MarkerStore holds the last round-robin pick per tenant and channel.
type MarkerStore interface {
	// GetMarker returns nil when no pick was recorded.
	GetMarker(ctx context.Context, tenantID, channelID uuid.UUID) (*domain.Marker, error)
	// CompareAndSwapMarker stores next only if the current marker equals
	// expected (nil meaning absent) and reports whether it did.
	CompareAndSwapMarker(ctx context.Context, tenantID, channelID uuid.UUID, expected *uuid.UUID, next uuid.UUID, at time.Time) (bool, error)
	// ResetMarker overwrites the marker unconditionally.
	ResetMarker(ctx context.Context, marker domain.Marker) error
	// RevertMarker puts previous back (nil removes the marker) only while
	// the marker still points at from, and reports whether it did.
	RevertMarker(ctx context.Context, tenantID, channelID, from uuid.UUID, previous *domain.Marker) (bool, error)
}

// TxMarkerStore is a MarkerStore whose writes can join a routing
// transaction, so a rolled back pick never advances the rotation.
type TxMarkerStore interface {
	MarkerStore
	// InTx returns the store bound to tx, or false when tx belongs to
	// another backend.
	InTx(tx Store) (MarkerStore, bool)
}

package ports

import (
	"context"

	"inbox_routing_backend/internal/routing/domain"

	"github.com/google/uuid"
)

// HandlerInfo is the minimal handler data shown in transfer screens.
type HandlerInfo struct {
	ID   uuid.UUID
	Name string
	Kind string
}

// HandlerDirectory supplies handler pools. Eligibility rules (active flags,
// team membership) live behind it.
type HandlerDirectory interface {
	// EligibleHandlers returns the active handlers of a queue in rotation order.
	EligibleHandlers(ctx context.Context, tenantID, queueID uuid.UUID) ([]uuid.UUID, error)
	QueueHandlers(ctx context.Context, tenantID, queueID uuid.UUID) ([]HandlerInfo, error)
	TenantHandlers(ctx context.Context, tenantID uuid.UUID) ([]HandlerInfo, error)
	HandlerExists(ctx context.Context, tenantID, handlerID uuid.UUID) (bool, error)
	TeamMembers(ctx context.Context, tenantID, teamID uuid.UUID) ([]uuid.UUID, error)
}

// PipelineDirectory resolves pipeline stages.
type PipelineDirectory interface {
	// FirstStage returns nil when the pipeline has no stages.
	FirstStage(ctx context.Context, tenantID, pipelineID uuid.UUID) (*uuid.UUID, error)
}

// Sender delivers text to a contact over the channel's transport.
type Sender interface {
	SendText(ctx context.Context, channel domain.Channel, lead domain.Lead, text string) error
}

// Broadcaster pushes transcript entries to live observers.
type Broadcaster interface {
	BroadcastMessage(ctx context.Context, conversation domain.Conversation, message domain.Message) error
}

// Locker serializes work on a key across goroutines and, depending on the
// backend, processes.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

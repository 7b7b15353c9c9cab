// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"inbox_routing_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	Identified  = events.Identified
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// TenantScoped is implemented by events that belong to one tenant.
type TenantScoped interface {
	Tenant() uuid.UUID
}

// =============================================================================
// Routing Domain Events
// =============================================================================

// LeadRouted is published when a lead enters a queue from the menu. Sticky
// is true when the owner came from an existing binding.
type LeadRouted struct {
	BaseEvent
	TenantID       uuid.UUID  `json:"tenantId"`
	LeadID         uuid.UUID  `json:"leadId"`
	ChannelID      uuid.UUID  `json:"channelId"`
	QueueID        uuid.UUID  `json:"queueId"`
	QueueName      string     `json:"queueName"`
	OwnerID        *uuid.UUID `json:"ownerId,omitempty"`
	ConversationID uuid.UUID  `json:"conversationId"`
	Sticky         bool       `json:"sticky"`
}

func (e LeadRouted) EventName() string { return "routing.lead.routed" }
func (e LeadRouted) Tenant() uuid.UUID { return e.TenantID }

// LeadAssigned is published when round-robin picks a handler for a lead.
type LeadAssigned struct {
	BaseEvent
	TenantID  uuid.UUID `json:"tenantId"`
	LeadID    uuid.UUID `json:"leadId"`
	ChannelID uuid.UUID `json:"channelId"`
	QueueID   uuid.UUID `json:"queueId"`
	HandlerID uuid.UUID `json:"handlerId"`
}

func (e LeadAssigned) EventName() string { return "routing.lead.assigned" }
func (e LeadAssigned) Tenant() uuid.UUID { return e.TenantID }

// LeadTransferred is published after an explicit handler or queue transfer.
type LeadTransferred struct {
	BaseEvent
	TenantID    uuid.UUID  `json:"tenantId"`
	LeadID      uuid.UUID  `json:"leadId"`
	Target      string     `json:"target"`
	FromOwnerID *uuid.UUID `json:"fromOwnerId,omitempty"`
	ToOwnerID   *uuid.UUID `json:"toOwnerId,omitempty"`
	FromQueueID *uuid.UUID `json:"fromQueueId,omitempty"`
	ToQueueID   *uuid.UUID `json:"toQueueId,omitempty"`
	ActorID     *uuid.UUID `json:"actorId,omitempty"`
}

func (e LeadTransferred) EventName() string { return "routing.lead.transferred" }
func (e LeadTransferred) Tenant() uuid.UUID { return e.TenantID }

// ConversationClosed is published when a conversation is closed.
type ConversationClosed struct {
	BaseEvent
	TenantID       uuid.UUID  `json:"tenantId"`
	ConversationID uuid.UUID  `json:"conversationId"`
	LeadID         uuid.UUID  `json:"leadId"`
	ChannelID      uuid.UUID  `json:"channelId"`
	QueueID        *uuid.UUID `json:"queueId,omitempty"`
	Reason         string     `json:"reason,omitempty"`
}

func (e ConversationClosed) EventName() string { return "routing.conversation.closed" }
func (e ConversationClosed) Tenant() uuid.UUID { return e.TenantID }

// ConversationReopened is published when a closed conversation opens again,
// either explicitly or because the lead returned inside the return window.
type ConversationReopened struct {
	BaseEvent
	TenantID       uuid.UUID `json:"tenantId"`
	ConversationID uuid.UUID `json:"conversationId"`
	LeadID         uuid.UUID `json:"leadId"`
	ChannelID      uuid.UUID `json:"channelId"`
	Automatic      bool      `json:"automatic"`
}

func (e ConversationReopened) EventName() string { return "routing.conversation.reopened" }
func (e ConversationReopened) Tenant() uuid.UUID { return e.TenantID }

// RoutingEventNames lists every event forwarded to external consumers.
var RoutingEventNames = []string{
	LeadRouted{}.EventName(),
	LeadAssigned{}.EventName(),
	LeadTransferred{}.EventName(),
	ConversationClosed{}.EventName(),
	ConversationReopened{}.EventName(),
}

package transport

import (
	"time"

	"github.com/google/uuid"
)

// Inbound webhook

type InboundMessageRequest struct {
	ChannelID uuid.UUID      `json:"channelId" validate:"required"`
	LeadID    uuid.UUID      `json:"leadId" validate:"required"`
	Text      string         `json:"text" validate:"max=4096"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type RoutingDecisionResponse struct {
	State          string     `json:"state"`
	Actions        []string   `json:"actions"`
	ConversationID uuid.UUID  `json:"conversationId"`
	MenuSent       bool       `json:"menuSent"`
	Deliver        bool       `json:"deliver"`
	QueueID        *uuid.UUID `json:"queueId,omitempty"`
	QueueName      string     `json:"queueName,omitempty"`
	OwnerID        *uuid.UUID `json:"ownerId,omitempty"`
	Sticky         bool       `json:"sticky"`
	Reopened       bool       `json:"reopened"`
}

// Transfers

type TransferToHandlerRequest struct {
	HandlerID uuid.UUID `json:"handlerId" validate:"required"`
}

type TransferToQueueRequest struct {
	QueueID   uuid.UUID  `json:"queueId" validate:"required"`
	HandlerID *uuid.UUID `json:"handlerId,omitempty"`
}

type LeadRoutingResponse struct {
	ID         uuid.UUID  `json:"id"`
	ChannelID  uuid.UUID  `json:"channelId"`
	QueueID    *uuid.UUID `json:"queueId,omitempty"`
	PipelineID *uuid.UUID `json:"pipelineId,omitempty"`
	StageID    *uuid.UUID `json:"stageId,omitempty"`
	OwnerID    *uuid.UUID `json:"ownerId,omitempty"`
	Status     string     `json:"status"`
}

type HandlerOptionResponse struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Kind string    `json:"kind"`
}

type QueueOptionResponse struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	MenuOption     int       `json:"menuOption"`
	AutoDistribute bool      `json:"autoDistribute"`
}

type OwnershipResponse struct {
	ID        uuid.UUID  `json:"id"`
	QueueID   uuid.UUID  `json:"queueId"`
	QueueName string     `json:"queueName"`
	HandlerID uuid.UUID  `json:"handlerId"`
	ParentID  *uuid.UUID `json:"parentId,omitempty"`
	Weight    int        `json:"weight"`
	UpdatedAt string     `json:"updatedAt"`
}

type TransferOptionsResponse struct {
	Lead         LeadRoutingResponse     `json:"lead"`
	CurrentQueue *QueueOptionResponse    `json:"currentQueue,omitempty"`
	Handlers     []HandlerOptionResponse `json:"handlers"`
	Queues       []QueueOptionResponse   `json:"queues"`
	Ownerships   []OwnershipResponse     `json:"ownerships"`
}

type RedistributeResponse struct {
	LeadID  uuid.UUID  `json:"leadId"`
	OwnerID *uuid.UUID `json:"ownerId,omitempty"`
}

// Conversations

type CloseConversationRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type ConversationResponse struct {
	ID          uuid.UUID  `json:"id"`
	LeadID      uuid.UUID  `json:"leadId"`
	ChannelID   uuid.UUID  `json:"channelId"`
	Status      string     `json:"status"`
	HandlerID   *uuid.UUID `json:"handlerId,omitempty"`
	OpenedAt    string     `json:"openedAt"`
	ClosedAt    *string    `json:"closedAt,omitempty"`
	CloseReason string     `json:"closeReason,omitempty"`
}

// Channel statistics

type QueueStatsResponse struct {
	QueueID        uuid.UUID `json:"queueId"`
	Name           string    `json:"name"`
	LeadsCount     int       `json:"leadsCount"`
	HandlersCount  int       `json:"handlersCount"`
	LeadsWaiting   int       `json:"leadsWaiting"`
	AutoDistribute bool      `json:"autoDistribute"`
}

type HandlerLoadResponse struct {
	HandlerID      uuid.UUID `json:"handlerId"`
	Assignments    int       `json:"assignments"`
	LastAssignedAt *string   `json:"lastAssignedAt,omitempty"`
}

type MenuOptionResponse struct {
	Option  int       `json:"option"`
	Label   string    `json:"label"`
	QueueID uuid.UUID `json:"queueId"`
}

type MenuResponse struct {
	Text    string               `json:"text"`
	Options []MenuOptionResponse `json:"options"`
}

type NeedsMenuResponse struct {
	NeedsMenu bool `json:"needsMenu"`
}

// Maintenance

type RebuildMarkersResponse struct {
	Queued bool `json:"queued"`
}

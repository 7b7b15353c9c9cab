// Package domain holds the routing entities, the conversation state machine
// and the queue menu rules. It performs no I/O.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// LeadStatus is the commercial lifecycle of a lead.
type LeadStatus string

const (
	LeadStatusOpen LeadStatus = "open"
	LeadStatusWon  LeadStatus = "won"
	LeadStatusLost LeadStatus = "lost"
)

// ConversationStatus is the state of one contact window.
type ConversationStatus string

const (
	ConversationOpen   ConversationStatus = "open"
	ConversationClosed ConversationStatus = "closed"
)

// Lead is a prospective-customer thread owned by a tenant.
type Lead struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	ChannelID    uuid.UUID
	QueueID      *uuid.UUID
	PipelineID   *uuid.UUID
	StageID      *uuid.UUID
	OwnerID      *uuid.UUID
	Status       LeadStatus
	ContactName  string
	ContactPhone string
	UpdatedAt    time.Time
}

// HasQueue reports whether the lead is currently bound to a queue.
func (l Lead) HasQueue() bool {
	return l.QueueID != nil
}

// Conversation is one open-or-closed interaction window of a lead on a channel.
type Conversation struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	LeadID      uuid.UUID
	ChannelID   uuid.UUID
	Status      ConversationStatus
	HandlerID   *uuid.UUID
	MenuSentAt  *time.Time
	OpenedAt    time.Time
	ClosedAt    *time.Time
	CloseReason string
}

// IsOpen reports whether the conversation accepts traffic.
func (c Conversation) IsOpen() bool {
	return c.Status == ConversationOpen
}

// MenuPending reports whether the queue menu was sent in this conversation
// and is still waiting for a reply.
func (c Conversation) MenuPending() bool {
	return c.IsOpen() && c.MenuSentAt != nil
}

// Queue is a routing destination configured by tenant admins.
type Queue struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	ChannelID      uuid.UUID
	PipelineID     *uuid.UUID
	Name           string
	MenuOption     int
	MenuLabel      string
	WelcomeMessage string
	CloseMessage   string
	AutoDistribute bool
	Active         bool
}

// Channel is an inbound integration of a tenant with its menu settings.
type Channel struct {
	ID                  uuid.UUID
	TenantID            uuid.UUID
	Name                string
	Type                string
	ExternalID          string
	QueueMenuEnabled    bool
	ReturnTimeoutHours  *int
	MenuHeader          string
	MenuFooter          string
	InvalidResponseText string
}

// ReturnTimeout resolves the channel's return window, using fallback when unset.
func (c Channel) ReturnTimeout(fallback time.Duration) time.Duration {
	if c.ReturnTimeoutHours == nil || *c.ReturnTimeoutHours <= 0 {
		return fallback
	}
	return time.Duration(*c.ReturnTimeoutHours) * time.Hour
}

// Binding is the sticky ownership of a lead inside a queue. ParentID points
// at a team-level binding when the handler was assigned beneath a team.
type Binding struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	LeadID    uuid.UUID
	QueueID   uuid.UUID
	HandlerID uuid.UUID
	ParentID  *uuid.UUID
	Weight    int
	Metadata  map[string]any
	QueueName string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Marker is the last handler picked by round-robin for a tenant and channel.
type Marker struct {
	TenantID   uuid.UUID
	ChannelID  uuid.UUID
	HandlerID  uuid.UUID
	AssignedAt time.Time
}

// Message directions and sender types of the conversation transcript.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"

	SenderContact = "contact"
	SenderSystem  = "system"
)

// Message is one transcript entry of a conversation.
type Message struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	ConversationID uuid.UUID
	Direction      string
	SenderType     string
	Body           string
	Metadata       map[string]any
	SentAt         time.Time
}

// QueueStats summarizes the load of one queue.
type QueueStats struct {
	QueueID        uuid.UUID
	Name           string
	LeadsCount     int
	HandlersCount  int
	LeadsWaiting   int
	AutoDistribute bool
}

// HandlerLoad is the distribution counter of one handler on a channel.
type HandlerLoad struct {
	HandlerID      uuid.UUID
	Assignments    int
	LastAssignedAt *time.Time
}

package adapters

import (
	"context"

	"inbox_routing_backend/internal/notification/sse"
	"inbox_routing_backend/internal/routing/domain"
	"inbox_routing_backend/internal/routing/ports"
)

// SSEBroadcaster pushes routing transcript entries to the tenant's SSE observers.
type SSEBroadcaster struct {
	svc *sse.Service
}

// NewSSEBroadcaster creates a new broadcaster adapter.
func NewSSEBroadcaster(svc *sse.Service) *SSEBroadcaster {
	return &SSEBroadcaster{svc: svc}
}

// BroadcastMessage publishes one transcript entry.
func (a *SSEBroadcaster) BroadcastMessage(_ context.Context, conversation domain.Conversation, message domain.Message) error {
	a.svc.Publish(conversation.TenantID, sse.Event{
		Type:           sse.EventMessageCreated,
		LeadID:         conversation.LeadID,
		ConversationID: conversation.ID,
		Data: map[string]any{
			"id":         message.ID,
			"direction":  message.Direction,
			"senderType": message.SenderType,
			"body":       message.Body,
			"metadata":   message.Metadata,
			"sentAt":     message.SentAt,
		},
	})
	return nil
}

// Compile-time check.
var _ ports.Broadcaster = (*SSEBroadcaster)(nil)

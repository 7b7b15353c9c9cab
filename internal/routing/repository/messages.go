package repository

import (
	"context"

	"inbox_routing_backend/internal/routing/domain"
)

func (r *Repository) CreateMessage(ctx context.Context, m domain.Message) error {
	metadata := m.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO conversation_messages (id, tenant_id, conversation_id, direction, sender_type, body, metadata, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ID, m.TenantID, m.ConversationID, m.Direction, m.SenderType, m.Body, metadata, m.SentAt)
	return mapWriteError(err, "create message")
}

package repository

import (
	"context"
	"errors"

	"inbox_routing_backend/internal/routing/domain"
	"inbox_routing_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const conversationColumns = `id, tenant_id, lead_id, channel_id, status, handler_id,
       menu_sent_at, opened_at, closed_at, close_reason`

func scanConversation(row interface{ Scan(dest ...any) error }) (domain.Conversation, error) {
	var c domain.Conversation
	var status string
	err := row.Scan(&c.ID, &c.TenantID, &c.LeadID, &c.ChannelID, &status, &c.HandlerID,
		&c.MenuSentAt, &c.OpenedAt, &c.ClosedAt, &c.CloseReason)
	c.Status = domain.ConversationStatus(status)
	return c, err
}

func (r *Repository) optionalConversation(ctx context.Context, sql string, args ...any) (*domain.Conversation, error) {
	c, err := scanConversation(r.q.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repository) GetConversation(ctx context.Context, tenantID, conversationID uuid.UUID) (domain.Conversation, error) {
	c, err := scanConversation(r.q.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE id = $1 AND tenant_id = $2
	`, conversationID, tenantID))
	if err != nil {
		return domain.Conversation{}, notFound(err, "conversation")
	}
	return c, nil
}

func (r *Repository) FindOpenConversation(ctx context.Context, tenantID, leadID, channelID uuid.UUID) (*domain.Conversation, error) {
	return r.optionalConversation(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE tenant_id = $1 AND lead_id = $2 AND channel_id = $3 AND status = 'open'
	`, tenantID, leadID, channelID)
}

func (r *Repository) LastClosedConversation(ctx context.Context, tenantID, leadID, channelID uuid.UUID) (*domain.Conversation, error) {
	return r.optionalConversation(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE tenant_id = $1 AND lead_id = $2 AND channel_id = $3
		  AND status = 'closed' AND closed_at IS NOT NULL
		ORDER BY closed_at DESC
		LIMIT 1
	`, tenantID, leadID, channelID)
}

func (r *Repository) ListOpenConversations(ctx context.Context, tenantID, leadID uuid.UUID) ([]domain.Conversation, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE tenant_id = $1 AND lead_id = $2 AND status = 'open'
		ORDER BY opened_at
	`, tenantID, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repository) CreateConversation(ctx context.Context, c domain.Conversation) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO conversations (id, tenant_id, lead_id, channel_id, status, handler_id,
		                           menu_sent_at, opened_at, closed_at, close_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, c.ID, c.TenantID, c.LeadID, c.ChannelID, string(c.Status), c.HandlerID,
		c.MenuSentAt, c.OpenedAt, c.ClosedAt, c.CloseReason)
	return mapWriteError(err, "create conversation")
}

func (r *Repository) SaveConversation(ctx context.Context, c domain.Conversation) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE conversations
		SET status = $3, handler_id = $4, menu_sent_at = $5, closed_at = $6, close_reason = $7
		WHERE id = $1 AND tenant_id = $2
	`, c.ID, c.TenantID, string(c.Status), c.HandlerID, c.MenuSentAt, c.ClosedAt, c.CloseReason)
	if err != nil {
		return mapWriteError(err, "save conversation")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("conversation not found")
	}
	return nil
}

package repository

import (
	"context"

	"inbox_routing_backend/internal/routing/domain"

	"github.com/google/uuid"
)

const queueColumns = `id, tenant_id, channel_id, pipeline_id, name, menu_option, menu_label,
       welcome_message, close_message, auto_distribute, is_active`

func scanQueue(row interface{ Scan(dest ...any) error }) (domain.Queue, error) {
	var q domain.Queue
	err := row.Scan(&q.ID, &q.TenantID, &q.ChannelID, &q.PipelineID, &q.Name, &q.MenuOption, &q.MenuLabel,
		&q.WelcomeMessage, &q.CloseMessage, &q.AutoDistribute, &q.Active)
	return q, err
}

func (r *Repository) GetChannel(ctx context.Context, tenantID, channelID uuid.UUID) (domain.Channel, error) {
	var c domain.Channel
	err := r.q.QueryRow(ctx, `
		SELECT id, tenant_id, name, type, external_id, queue_menu_enabled, return_timeout_hours,
		       menu_header, menu_footer, invalid_response_text
		FROM channels
		WHERE id = $1 AND tenant_id = $2
	`, channelID, tenantID).Scan(&c.ID, &c.TenantID, &c.Name, &c.Type, &c.ExternalID, &c.QueueMenuEnabled,
		&c.ReturnTimeoutHours, &c.MenuHeader, &c.MenuFooter, &c.InvalidResponseText)
	if err != nil {
		return domain.Channel{}, notFound(err, "channel")
	}
	return c, nil
}

func (r *Repository) GetQueue(ctx context.Context, tenantID, queueID uuid.UUID) (domain.Queue, error) {
	q, err := scanQueue(r.q.QueryRow(ctx, `
		SELECT `+queueColumns+`
		FROM queues
		WHERE id = $1 AND tenant_id = $2
	`, queueID, tenantID))
	if err != nil {
		return domain.Queue{}, notFound(err, "queue")
	}
	return q, nil
}

func (r *Repository) listQueues(ctx context.Context, sql string, args ...any) ([]domain.Queue, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Queue, 0)
	for rows.Next() {
		q, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (r *Repository) ListChannelQueues(ctx context.Context, tenantID, channelID uuid.UUID) ([]domain.Queue, error) {
	return r.listQueues(ctx, `
		SELECT `+queueColumns+`
		FROM queues
		WHERE tenant_id = $1 AND channel_id = $2
		ORDER BY menu_option, name
	`, tenantID, channelID)
}

func (r *Repository) ListTenantQueues(ctx context.Context, tenantID uuid.UUID) ([]domain.Queue, error) {
	return r.listQueues(ctx, `
		SELECT `+queueColumns+`
		FROM queues
		WHERE tenant_id = $1
		ORDER BY menu_option, name
	`, tenantID)
}

func (r *Repository) QueueStats(ctx context.Context, tenantID, channelID uuid.UUID) ([]domain.QueueStats, error) {
	rows, err := r.q.Query(ctx, `
		SELECT q.id, q.name, q.auto_distribute,
		       (SELECT COUNT(*) FROM leads l WHERE l.queue_id = q.id),
		       (SELECT COUNT(*) FROM queue_handlers qh WHERE qh.queue_id = q.id),
		       (SELECT COUNT(*) FROM leads l WHERE l.queue_id = q.id AND l.owner_id IS NULL)
		FROM queues q
		WHERE q.tenant_id = $1 AND q.channel_id = $2 AND q.is_active
		ORDER BY q.menu_option, q.name
	`, tenantID, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.QueueStats, 0)
	for rows.Next() {
		var s domain.QueueStats
		if err := rows.Scan(&s.QueueID, &s.Name, &s.AutoDistribute, &s.LeadsCount, &s.HandlersCount, &s.LeadsWaiting); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

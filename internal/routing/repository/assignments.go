package repository

import (
	"context"
	"time"

	"inbox_routing_backend/internal/routing/domain"

	"github.com/google/uuid"
)

// RecordAssignment bumps the counter of the (tenant, channel, queue, handler) row.
func (r *Repository) RecordAssignment(ctx context.Context, tenantID, channelID uuid.UUID, queueID *uuid.UUID, handlerID uuid.UUID, at time.Time) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO assignment_log (tenant_id, channel_id, queue_id, handler_id, assignments, last_assigned_at)
		VALUES ($1, $2, $3, $4, 1, $5)
		ON CONFLICT (tenant_id, channel_id, COALESCE(queue_id, '00000000-0000-0000-0000-000000000000'::uuid), handler_id)
		DO UPDATE SET
			assignments      = assignment_log.assignments + 1,
			last_assigned_at = GREATEST(assignment_log.last_assigned_at, EXCLUDED.last_assigned_at)
	`, tenantID, channelID, queueID, handlerID, at)
	return mapWriteError(err, "record assignment")
}

func (r *Repository) DistributionStats(ctx context.Context, tenantID, channelID uuid.UUID) ([]domain.HandlerLoad, error) {
	rows, err := r.q.Query(ctx, `
		SELECT handler_id, SUM(assignments)::int, MAX(last_assigned_at)
		FROM assignment_log
		WHERE tenant_id = $1 AND channel_id = $2
		GROUP BY handler_id
		ORDER BY SUM(assignments) DESC, MAX(last_assigned_at)
	`, tenantID, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.HandlerLoad, 0)
	for rows.Next() {
		var l domain.HandlerLoad
		if err := rows.Scan(&l.HandlerID, &l.Assignments, &l.LastAssignedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *Repository) LatestAssignments(ctx context.Context) ([]domain.Marker, error) {
	rows, err := r.q.Query(ctx, `
		SELECT DISTINCT ON (tenant_id, channel_id) tenant_id, channel_id, handler_id, last_assigned_at
		FROM assignment_log
		ORDER BY tenant_id, channel_id, last_assigned_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Marker, 0)
	for rows.Next() {
		var m domain.Marker
		if err := rows.Scan(&m.TenantID, &m.ChannelID, &m.HandlerID, &m.AssignedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

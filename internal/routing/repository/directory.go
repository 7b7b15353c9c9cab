package repository

import (
	"context"
	"errors"

	"inbox_routing_backend/internal/routing/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Directory answers handler eligibility and pipeline questions from the
// tables maintained by tenant admins.
type Directory struct {
	pool *pgxpool.Pool
}

var (
	_ ports.HandlerDirectory  = (*Directory)(nil)
	_ ports.PipelineDirectory = (*Directory)(nil)
)

// NewDirectory creates a Directory on pool.
func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

// EligibleHandlers lists the active handlers of a queue by descending
// priority, then id, which is the rotation order.
func (d *Directory) EligibleHandlers(ctx context.Context, tenantID, queueID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT h.id
		FROM queue_handlers qh
		JOIN handlers h ON h.id = qh.handler_id
		WHERE qh.queue_id = $1 AND h.tenant_id = $2 AND qh.is_active AND h.is_active
		ORDER BY qh.priority DESC, h.id
	`, queueID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (d *Directory) listHandlers(ctx context.Context, sql string, args ...any) ([]ports.HandlerInfo, error) {
	rows, err := d.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ports.HandlerInfo, 0)
	for rows.Next() {
		var h ports.HandlerInfo
		if err := rows.Scan(&h.ID, &h.Name, &h.Kind); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (d *Directory) QueueHandlers(ctx context.Context, tenantID, queueID uuid.UUID) ([]ports.HandlerInfo, error) {
	return d.listHandlers(ctx, `
		SELECT h.id, h.name, h.kind
		FROM queue_handlers qh
		JOIN handlers h ON h.id = qh.handler_id
		WHERE qh.queue_id = $1 AND h.tenant_id = $2 AND qh.is_active AND h.is_active
		ORDER BY h.name
	`, queueID, tenantID)
}

func (d *Directory) TenantHandlers(ctx context.Context, tenantID uuid.UUID) ([]ports.HandlerInfo, error) {
	return d.listHandlers(ctx, `
		SELECT id, name, kind
		FROM handlers
		WHERE tenant_id = $1 AND is_active
		ORDER BY name
	`, tenantID)
}

func (d *Directory) HandlerExists(ctx context.Context, tenantID, handlerID uuid.UUID) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM handlers WHERE id = $1 AND tenant_id = $2)
	`, handlerID, tenantID).Scan(&exists)
	return exists, err
}

func (d *Directory) TeamMembers(ctx context.Context, tenantID, teamID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT tm.handler_id
		FROM team_members tm
		JOIN handlers t ON t.id = tm.team_id
		WHERE tm.team_id = $1 AND t.tenant_id = $2 AND t.kind = 'team'
		ORDER BY tm.handler_id
	`, teamID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// FirstStage returns the lowest-positioned stage of the pipeline, or nil.
func (d *Directory) FirstStage(ctx context.Context, tenantID, pipelineID uuid.UUID) (*uuid.UUID, error) {
	var id uuid.UUID
	err := d.pool.QueryRow(ctx, `
		SELECT s.id
		FROM pipeline_stages s
		JOIN pipelines p ON p.id = s.pipeline_id
		WHERE s.pipeline_id = $1 AND p.tenant_id = $2
		ORDER BY s.position
		LIMIT 1
	`, pipelineID, tenantID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

package repository

import (
	"context"
	"errors"

	"inbox_routing_backend/internal/routing/domain"
	"inbox_routing_backend/internal/routing/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const bindingColumns = `b.id, b.tenant_id, b.lead_id, b.queue_id, b.handler_id, b.parent_id,
       b.weight, b.metadata, q.name, b.created_at, b.updated_at`

func scanBinding(row interface{ Scan(dest ...any) error }) (domain.Binding, error) {
	var b domain.Binding
	err := row.Scan(&b.ID, &b.TenantID, &b.LeadID, &b.QueueID, &b.HandlerID, &b.ParentID,
		&b.Weight, &b.Metadata, &b.QueueName, &b.CreatedAt, &b.UpdatedAt)
	if b.Metadata == nil {
		b.Metadata = map[string]any{}
	}
	return b, err
}

func (r *Repository) optionalBinding(ctx context.Context, sql string, args ...any) (*domain.Binding, error) {
	b, err := scanBinding(r.q.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repository) GetBinding(ctx context.Context, tenantID, leadID, queueID uuid.UUID) (*domain.Binding, error) {
	return r.optionalBinding(ctx, `
		SELECT `+bindingColumns+`
		FROM ownership_bindings b
		JOIN queues q ON q.id = b.queue_id
		WHERE b.tenant_id = $1 AND b.lead_id = $2 AND b.queue_id = $3
	`, tenantID, leadID, queueID)
}

func (r *Repository) GetBindingByID(ctx context.Context, tenantID, bindingID uuid.UUID) (*domain.Binding, error) {
	return r.optionalBinding(ctx, `
		SELECT `+bindingColumns+`
		FROM ownership_bindings b
		JOIN queues q ON q.id = b.queue_id
		WHERE b.tenant_id = $1 AND b.id = $2
	`, tenantID, bindingID)
}

// UpsertBinding overwrites the handler of the (lead, queue) binding. Parent,
// weight and metadata keep their stored values unless given.
func (r *Repository) UpsertBinding(ctx context.Context, p ports.UpsertBindingParams) (domain.Binding, error) {
	var metadata any
	if p.Metadata != nil {
		metadata = p.Metadata
	}

	var id uuid.UUID
	err := r.q.QueryRow(ctx, `
		INSERT INTO ownership_bindings (id, tenant_id, lead_id, queue_id, handler_id, parent_id, weight, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7::int, 0), COALESCE($8::jsonb, '{}'::jsonb))
		ON CONFLICT (lead_id, queue_id) DO UPDATE SET
			handler_id = EXCLUDED.handler_id,
			parent_id  = COALESCE($6, ownership_bindings.parent_id),
			weight     = COALESCE($7::int, ownership_bindings.weight),
			metadata   = COALESCE($8::jsonb, ownership_bindings.metadata),
			updated_at = now()
		RETURNING id
	`, uuid.New(), p.TenantID, p.LeadID, p.QueueID, p.HandlerID, p.ParentID, p.Weight, metadata).Scan(&id)
	if err != nil {
		return domain.Binding{}, mapWriteError(err, "upsert binding")
	}

	b, err := r.GetBindingByID(ctx, p.TenantID, id)
	if err != nil {
		return domain.Binding{}, err
	}
	return *b, nil
}

func (r *Repository) ListBindingsForLead(ctx context.Context, tenantID, leadID uuid.UUID) ([]domain.Binding, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+bindingColumns+`
		FROM ownership_bindings b
		JOIN queues q ON q.id = b.queue_id
		WHERE b.tenant_id = $1 AND b.lead_id = $2
		ORDER BY q.name
	`, tenantID, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Binding, 0)
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

package repository

import (
	"context"

	"inbox_routing_backend/internal/routing/domain"
	"inbox_routing_backend/platform/apperr"

	"github.com/google/uuid"
)

const leadColumns = `id, tenant_id, channel_id, queue_id, pipeline_id, stage_id, owner_id,
       status, contact_name, contact_phone, updated_at`

func scanLead(row interface{ Scan(dest ...any) error }) (domain.Lead, error) {
	var l domain.Lead
	var status string
	err := row.Scan(&l.ID, &l.TenantID, &l.ChannelID, &l.QueueID, &l.PipelineID, &l.StageID, &l.OwnerID,
		&status, &l.ContactName, &l.ContactPhone, &l.UpdatedAt)
	l.Status = domain.LeadStatus(status)
	return l, err
}

func (r *Repository) GetLead(ctx context.Context, tenantID, leadID uuid.UUID) (domain.Lead, error) {
	l, err := scanLead(r.q.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE id = $1 AND tenant_id = $2
	`, leadID, tenantID))
	if err != nil {
		return domain.Lead{}, notFound(err, "lead")
	}
	return l, nil
}

// LockLead takes a row lock held until the surrounding transaction ends.
func (r *Repository) LockLead(ctx context.Context, tenantID, leadID uuid.UUID) (domain.Lead, error) {
	l, err := scanLead(r.q.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE id = $1 AND tenant_id = $2
		FOR UPDATE
	`, leadID, tenantID))
	if err != nil {
		return domain.Lead{}, notFound(err, "lead")
	}
	return l, nil
}

func (r *Repository) SaveLeadRouting(ctx context.Context, lead domain.Lead) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE leads
		SET queue_id = $3, pipeline_id = $4, stage_id = $5, owner_id = $6, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`, lead.ID, lead.TenantID, lead.QueueID, lead.PipelineID, lead.StageID, lead.OwnerID)
	if err != nil {
		return mapWriteError(err, "save lead routing")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("lead not found")
	}
	return nil
}

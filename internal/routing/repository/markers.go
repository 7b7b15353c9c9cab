package repository

import (
	"context"
	"errors"
	"time"

	"inbox_routing_backend/internal/routing/domain"
	"inbox_routing_backend/internal/routing/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var _ ports.TxMarkerStore = (*Repository)(nil)

// InTx implements ports.TxMarkerStore. Marker writes made through the
// returned store commit or roll back with tx.
func (r *Repository) InTx(tx ports.Store) (ports.MarkerStore, bool) {
	bound, ok := tx.(*Repository)
	if !ok || !bound.inTx {
		return nil, false
	}
	return bound, true
}

// GetMarker implements ports.MarkerStore.
func (r *Repository) GetMarker(ctx context.Context, tenantID, channelID uuid.UUID) (*domain.Marker, error) {
	m := domain.Marker{TenantID: tenantID, ChannelID: channelID}
	err := r.q.QueryRow(ctx, `
		SELECT handler_id, assigned_at
		FROM assignment_markers
		WHERE tenant_id = $1 AND channel_id = $2
	`, tenantID, channelID).Scan(&m.HandlerID, &m.AssignedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CompareAndSwapMarker implements ports.MarkerStore. Inside a transaction
// the updated row stays locked until commit, so concurrent picks on the same
// channel wait and then retry against the committed marker.
func (r *Repository) CompareAndSwapMarker(ctx context.Context, tenantID, channelID uuid.UUID, expected *uuid.UUID, next uuid.UUID, at time.Time) (bool, error) {
	if expected == nil {
		tag, err := r.q.Exec(ctx, `
			INSERT INTO assignment_markers (tenant_id, channel_id, handler_id, assigned_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (tenant_id, channel_id) DO NOTHING
		`, tenantID, channelID, next, at)
		if err != nil {
			return false, mapWriteError(err, "insert marker")
		}
		return tag.RowsAffected() == 1, nil
	}

	tag, err := r.q.Exec(ctx, `
		UPDATE assignment_markers
		SET handler_id = $3, assigned_at = $4
		WHERE tenant_id = $1 AND channel_id = $2 AND handler_id = $5
	`, tenantID, channelID, next, at, *expected)
	if err != nil {
		return false, mapWriteError(err, "update marker")
	}
	return tag.RowsAffected() == 1, nil
}

// ResetMarker implements ports.MarkerStore.
func (r *Repository) ResetMarker(ctx context.Context, marker domain.Marker) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO assignment_markers (tenant_id, channel_id, handler_id, assigned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, channel_id)
		DO UPDATE SET handler_id = EXCLUDED.handler_id, assigned_at = EXCLUDED.assigned_at
	`, marker.TenantID, marker.ChannelID, marker.HandlerID, marker.AssignedAt)
	return mapWriteError(err, "reset marker")
}

// RevertMarker implements ports.MarkerStore.
func (r *Repository) RevertMarker(ctx context.Context, tenantID, channelID, from uuid.UUID, previous *domain.Marker) (bool, error) {
	if previous == nil {
		tag, err := r.q.Exec(ctx, `
			DELETE FROM assignment_markers
			WHERE tenant_id = $1 AND channel_id = $2 AND handler_id = $3
		`, tenantID, channelID, from)
		if err != nil {
			return false, mapWriteError(err, "delete marker")
		}
		return tag.RowsAffected() == 1, nil
	}
	return r.CompareAndSwapMarker(ctx, tenantID, channelID, &from, previous.HandlerID, previous.AssignedAt)
}

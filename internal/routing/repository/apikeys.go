package repository

import (
	"context"
	"errors"

	"inbox_routing_backend/internal/routing/apikey"
	"inbox_routing_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var _ apikey.Lookup = (*Repository)(nil)

// CreateAPIKey stores a webhook key for a tenant, optionally pinned to a channel.
func (r *Repository) CreateAPIKey(ctx context.Context, tenantID uuid.UUID, channelID *uuid.UUID, name, keyHash, keyPrefix string) (apikey.Key, error) {
	var key apikey.Key
	err := r.q.QueryRow(ctx, `
		INSERT INTO channel_api_keys (tenant_id, channel_id, name, key_hash, key_prefix)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, tenant_id, channel_id, name, key_hash, key_prefix, is_active, created_at
	`, tenantID, channelID, name, keyHash, keyPrefix).Scan(
		&key.ID, &key.TenantID, &key.ChannelID, &key.Name, &key.KeyHash, &key.KeyPrefix,
		&key.IsActive, &key.CreatedAt,
	)
	if err != nil {
		return apikey.Key{}, mapWriteError(err, "create api key")
	}
	return key, nil
}

// GetAPIKeyByHash implements apikey.Lookup.
func (r *Repository) GetAPIKeyByHash(ctx context.Context, keyHash string) (apikey.Key, error) {
	var key apikey.Key
	err := r.q.QueryRow(ctx, `
		SELECT id, tenant_id, channel_id, name, key_hash, key_prefix, is_active, created_at
		FROM channel_api_keys
		WHERE key_hash = $1 AND is_active = true
	`, keyHash).Scan(
		&key.ID, &key.TenantID, &key.ChannelID, &key.Name, &key.KeyHash, &key.KeyPrefix,
		&key.IsActive, &key.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return apikey.Key{}, apikey.ErrNotFound
	}
	return key, err
}

// RevokeAPIKey deactivates a key of the tenant.
func (r *Repository) RevokeAPIKey(ctx context.Context, tenantID, keyID uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE channel_api_keys SET is_active = false, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND is_active = true
	`, keyID, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("api key not found")
	}
	return nil
}

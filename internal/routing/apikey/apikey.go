// Package apikey authenticates inbound webhook deliveries. Each key belongs
// to one tenant and may be pinned to a single channel; only its SHA-256 hash
// is stored.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"inbox_routing_backend/platform/apperr"
	"inbox_routing_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Header carries the plaintext key on webhook requests.
const Header = "X-Webhook-API-Key"

const (
	contextTenantKey  = "webhookTenantID"
	contextChannelKey = "webhookChannelID"
	contextKeyIDKey   = "webhookKeyID"
)

// ErrNotFound is returned by a Lookup for unknown or revoked keys.
var ErrNotFound = errors.New("webhook API key not found")

// Key is a stored webhook API key.
type Key struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	ChannelID *uuid.UUID
	Name      string
	KeyHash   string
	KeyPrefix string
	IsActive  bool
	CreatedAt time.Time
}

// Lookup resolves an active key by its hash.
type Lookup interface {
	GetAPIKeyByHash(ctx context.Context, keyHash string) (Key, error)
}

// Generate creates a new random key. The plaintext is shown once; only the
// hash and the prefix are stored.
func Generate() (plaintext string, hash string, prefix string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", err
	}
	plaintext = "rtk_" + hex.EncodeToString(raw)
	return plaintext, Hash(plaintext), plaintext[:12], nil
}

// Hash hashes a plaintext key for lookup.
func Hash(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

// Middleware validates the X-Webhook-API-Key header and stores the key's
// tenant and channel scope on the gin context.
func Middleware(lookup Lookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		plaintext := c.GetHeader(Header)
		if plaintext == "" {
			httpkit.AbortWithError(c, apperr.Unauthorized("missing API key"))
			return
		}

		key, err := lookup.GetAPIKeyByHash(c.Request.Context(), Hash(plaintext))
		if errors.Is(err, ErrNotFound) {
			httpkit.AbortWithError(c, apperr.Unauthorized("invalid API key"))
			return
		}
		if err != nil {
			httpkit.AbortWithError(c, err)
			return
		}

		c.Set(contextTenantKey, key.TenantID)
		c.Set(contextKeyIDKey, key.ID)
		if key.ChannelID != nil {
			c.Set(contextChannelKey, *key.ChannelID)
		}
		c.Next()
	}
}

// Scope returns the tenant of the key that authenticated c and, when the key
// is pinned to one, its channel. ok is false outside Middleware.
func Scope(c *gin.Context) (tenantID uuid.UUID, channelID *uuid.UUID, ok bool) {
	raw, exists := c.Get(contextTenantKey)
	if !exists {
		return uuid.Nil, nil, false
	}
	tenantID, ok = raw.(uuid.UUID)
	if !ok {
		return uuid.Nil, nil, false
	}
	if raw, exists := c.Get(contextChannelKey); exists {
		if id, isID := raw.(uuid.UUID); isID {
			channelID = &id
		}
	}
	return tenantID, channelID, true
}

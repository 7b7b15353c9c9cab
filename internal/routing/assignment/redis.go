package assignment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"inbox_routing_backend/internal/routing/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// casMarkerScript swaps the handler field only when it still holds ARGV[1];
// an empty ARGV[1] means the marker must not exist yet.
var casMarkerScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'handler')
if ARGV[1] == '' then
	if current then
		return 0
	end
elseif current ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'handler', ARGV[2], 'at', ARGV[3])
return 1
`)

// revertMarkerScript restores the marker only while it still holds ARGV[1];
// an empty ARGV[2] deletes it.
var revertMarkerScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'handler') ~= ARGV[1] then
	return 0
end
if ARGV[2] == '' then
	redis.call('DEL', KEYS[1])
else
	redis.call('HSET', KEYS[1], 'handler', ARGV[2], 'at', ARGV[3])
end
return 1
`)

// RedisStore keeps markers in Redis hashes, for deployments where several
// API replicas share the rotation.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store using keys under "routing:marker:".
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: "routing:marker:"}
}

func (s *RedisStore) key(tenantID, channelID uuid.UUID) string {
	return s.prefix + tenantID.String() + ":" + channelID.String()
}

// GetMarker implements ports.MarkerStore.
func (s *RedisStore) GetMarker(ctx context.Context, tenantID, channelID uuid.UUID) (*domain.Marker, error) {
	values, err := s.client.HMGet(ctx, s.key(tenantID, channelID), "handler", "at").Result()
	if err != nil {
		return nil, err
	}
	raw, ok := values[0].(string)
	if !ok || raw == "" {
		return nil, nil
	}
	handlerID, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("corrupt marker handler %q: %w", raw, err)
	}

	m := &domain.Marker{TenantID: tenantID, ChannelID: channelID, HandlerID: handlerID}
	if at, ok := values[1].(string); ok {
		if nanos, err := strconv.ParseInt(at, 10, 64); err == nil {
			m.AssignedAt = time.Unix(0, nanos).UTC()
		}
	}
	return m, nil
}

// CompareAndSwapMarker implements ports.MarkerStore.
func (s *RedisStore) CompareAndSwapMarker(ctx context.Context, tenantID, channelID uuid.UUID, expected *uuid.UUID, next uuid.UUID, at time.Time) (bool, error) {
	expectedArg := ""
	if expected != nil {
		expectedArg = expected.String()
	}
	res, err := casMarkerScript.Run(ctx, s.client,
		[]string{s.key(tenantID, channelID)},
		expectedArg, next.String(), strconv.FormatInt(at.UnixNano(), 10),
	).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	return res == 1, nil
}

// ResetMarker implements ports.MarkerStore.
func (s *RedisStore) ResetMarker(ctx context.Context, marker domain.Marker) error {
	return s.client.HSet(ctx, s.key(marker.TenantID, marker.ChannelID),
		"handler", marker.HandlerID.String(),
		"at", strconv.FormatInt(marker.AssignedAt.UnixNano(), 10),
	).Err()
}

// RevertMarker implements ports.MarkerStore.
func (s *RedisStore) RevertMarker(ctx context.Context, tenantID, channelID, from uuid.UUID, previous *domain.Marker) (bool, error) {
	handlerArg, atArg := "", ""
	if previous != nil {
		handlerArg = previous.HandlerID.String()
		atArg = strconv.FormatInt(previous.AssignedAt.UnixNano(), 10)
	}
	res, err := revertMarkerScript.Run(ctx, s.client,
		[]string{s.key(tenantID, channelID)},
		from.String(), handlerArg, atArg,
	).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	return res == 1, nil
}

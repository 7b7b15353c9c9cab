package assignment

import (
	"context"
	"sync"
	"time"

	"inbox_routing_backend/internal/routing/domain"

	"github.com/google/uuid"
)

type markerKey struct {
	tenantID  uuid.UUID
	channelID uuid.UUID
}

// MemoryStore keeps markers in process memory. Used by tests and single-node setups.
type MemoryStore struct {
	mu      sync.Mutex
	markers map[markerKey]domain.Marker
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{markers: make(map[markerKey]domain.Marker)}
}

// GetMarker implements ports.MarkerStore.
func (s *MemoryStore) GetMarker(_ context.Context, tenantID, channelID uuid.UUID) (*domain.Marker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markers[markerKey{tenantID, channelID}]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

// CompareAndSwapMarker implements ports.MarkerStore.
func (s *MemoryStore) CompareAndSwapMarker(_ context.Context, tenantID, channelID uuid.UUID, expected *uuid.UUID, next uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := markerKey{tenantID, channelID}
	current, ok := s.markers[key]
	switch {
	case expected == nil && ok:
		return false, nil
	case expected != nil && (!ok || current.HandlerID != *expected):
		return false, nil
	}
	s.markers[key] = domain.Marker{TenantID: tenantID, ChannelID: channelID, HandlerID: next, AssignedAt: at}
	return true, nil
}

// ResetMarker implements ports.MarkerStore.
func (s *MemoryStore) ResetMarker(_ context.Context, marker domain.Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[markerKey{marker.TenantID, marker.ChannelID}] = marker
	return nil
}

// RevertMarker implements ports.MarkerStore.
func (s *MemoryStore) RevertMarker(_ context.Context, tenantID, channelID, from uuid.UUID, previous *domain.Marker) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := markerKey{tenantID, channelID}
	current, ok := s.markers[key]
	if !ok || current.HandlerID != from {
		return false, nil
	}
	if previous == nil {
		delete(s.markers, key)
		return true, nil
	}
	s.markers[key] = *previous
	return true, nil
}

package assignment

import (
	"context"
	"testing"
	"time"

	"inbox_routing_backend/internal/routing/domain"

	"github.com/google/uuid"
)

type staticSource []domain.Marker

func (s staticSource) LatestAssignments(context.Context) ([]domain.Marker, error) {
	return s, nil
}

func TestRebuildMarkersRestoresMissingAndStale(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tenant := uuid.New()
	missing, stale, fresh := uuid.New(), uuid.New(), uuid.New()
	base := time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)

	staleHandler, freshHandler := uuid.New(), uuid.New()
	_ = store.ResetMarker(ctx, domain.Marker{TenantID: tenant, ChannelID: stale, HandlerID: staleHandler, AssignedAt: base})
	_ = store.ResetMarker(ctx, domain.Marker{TenantID: tenant, ChannelID: fresh, HandlerID: freshHandler, AssignedAt: base.Add(time.Hour)})

	logged := staticSource{
		{TenantID: tenant, ChannelID: missing, HandlerID: uuid.New(), AssignedAt: base},
		{TenantID: tenant, ChannelID: stale, HandlerID: uuid.New(), AssignedAt: base.Add(time.Minute)},
		{TenantID: tenant, ChannelID: fresh, HandlerID: uuid.New(), AssignedAt: base},
	}

	result, err := RebuildMarkers(ctx, logged, store, nil)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if result.Scanned != 3 || result.Restored != 2 {
		t.Fatalf("unexpected result %+v", result)
	}

	for _, tc := range []struct {
		channel uuid.UUID
		want    uuid.UUID
	}{
		{missing, logged[0].HandlerID},
		{stale, logged[1].HandlerID},
		{fresh, freshHandler},
	} {
		m, err := store.GetMarker(ctx, tenant, tc.channel)
		if err != nil || m == nil {
			t.Fatalf("marker for %s: %v", tc.channel, err)
		}
		if m.HandlerID != tc.want {
			t.Errorf("channel %s marker = %s, want %s", tc.channel, m.HandlerID, tc.want)
		}
	}
}

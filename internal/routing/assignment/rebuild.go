package assignment

import (
	"context"
	"fmt"
	"log/slog"

	"inbox_routing_backend/internal/routing/domain"
	"inbox_routing_backend/platform/logger"

	"github.com/google/uuid"
)

// AssignmentSource lists the newest logged pick per tenant and channel.
type AssignmentSource interface {
	LatestAssignments(ctx context.Context) ([]domain.Marker, error)
}

// MarkerWriter is the part of a marker store a rebuild needs.
type MarkerWriter interface {
	GetMarker(ctx context.Context, tenantID, channelID uuid.UUID) (*domain.Marker, error)
	ResetMarker(ctx context.Context, marker domain.Marker) error
}

// RebuildResult counts what a rebuild touched.
type RebuildResult struct {
	Scanned  int
	Restored int
}

// RebuildMarkers restores rotation markers from the assignment log. A marker
// is only overwritten when it is missing or older than the newest logged pick.
func RebuildMarkers(ctx context.Context, source AssignmentSource, markers MarkerWriter, log *logger.Logger) (RebuildResult, error) {
	latest, err := source.LatestAssignments(ctx)
	if err != nil {
		return RebuildResult{}, fmt.Errorf("load latest assignments: %w", err)
	}

	result := RebuildResult{Scanned: len(latest)}
	for _, logged := range latest {
		current, err := markers.GetMarker(ctx, logged.TenantID, logged.ChannelID)
		if err != nil {
			return result, fmt.Errorf("get marker: %w", err)
		}
		if current != nil && !current.AssignedAt.Before(logged.AssignedAt) {
			continue
		}
		if err := markers.ResetMarker(ctx, logged); err != nil {
			return result, fmt.Errorf("reset marker: %w", err)
		}
		result.Restored++
		if log != nil {
			log.Info("rotation marker restored",
				slog.String("tenant_id", logged.TenantID.String()),
				slog.String("channel_id", logged.ChannelID.String()),
				slog.String("handler_id", logged.HandlerID.String()),
			)
		}
	}
	return result, nil
}

// ForTenant narrows source to the markers of one tenant.
func ForTenant(source AssignmentSource, tenantID uuid.UUID) AssignmentSource {
	return tenantSource{inner: source, tenantID: tenantID}
}

type tenantSource struct {
	inner    AssignmentSource
	tenantID uuid.UUID
}

func (s tenantSource) LatestAssignments(ctx context.Context) ([]domain.Marker, error) {
	all, err := s.inner.LatestAssignments(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Marker, 0, len(all))
	for _, m := range all {
		if m.TenantID == s.tenantID {
			out = append(out, m)
		}
	}
	return out, nil
}

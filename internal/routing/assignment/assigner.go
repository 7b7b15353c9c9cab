// Package assignment implements fair round-robin selection of handlers,
// scoped per tenant and channel.
package assignment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"inbox_routing_backend/internal/routing/domain"
	"inbox_routing_backend/internal/routing/ports"
	"inbox_routing_backend/platform/apperr"
	"inbox_routing_backend/platform/logger"
	"inbox_routing_backend/platform/metrics"

	"github.com/google/uuid"
)

const defaultMaxAttempts = 8

// Next returns the handler following previous in eligible, wrapping around.
// When previous is nil or no longer eligible the rotation restarts at the
// first element. eligible must not be empty.
func Next(previous *uuid.UUID, eligible []uuid.UUID) uuid.UUID {
	if previous != nil {
		for i, id := range eligible {
			if id == *previous {
				return eligible[(i+1)%len(eligible)]
			}
		}
	}
	return eligible[0]
}

// Assigner picks handlers and advances the marker with compare-and-swap, so
// concurrent picks on the same tenant and channel never hand out the same slot.
type Assigner struct {
	markers     ports.MarkerStore
	log         *logger.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
	maxAttempts int
}

// Option customizes an Assigner.
type Option func(*Assigner)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Assigner) { a.now = now }
}

// WithMaxAttempts bounds compare-and-swap retries.
func WithMaxAttempts(n int) Option {
	return func(a *Assigner) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

// WithMetrics enables Prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Assigner) { a.metrics = m }
}

// New creates an Assigner over the given marker store.
func New(markers ports.MarkerStore, log *logger.Logger, opts ...Option) *Assigner {
	a := &Assigner{
		markers:     markers,
		log:         log,
		now:         time.Now,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assign selects the next handler of eligible for the tenant and channel and
// records it as the new marker before returning. The order of eligible is
// the rotation order and is never changed.
func (a *Assigner) Assign(ctx context.Context, tenantID, channelID uuid.UUID, eligible []uuid.UUID) (uuid.UUID, error) {
	chosen, _, err := a.assign(ctx, a.markers, tenantID, channelID, eligible)
	return chosen, err
}

// AssignInTx is Assign for a pick that belongs to a routing transaction.
// A transactional marker store writes through tx; any other store gets its
// marker put back when tx does not commit, unless a later pick moved it.
func (a *Assigner) AssignInTx(ctx context.Context, tx ports.Store, tenantID, channelID uuid.UUID, eligible []uuid.UUID) (uuid.UUID, error) {
	if txMarkers, ok := a.markers.(ports.TxMarkerStore); ok {
		if bound, ok := txMarkers.InTx(tx); ok {
			chosen, _, err := a.assign(ctx, bound, tenantID, channelID, eligible)
			return chosen, err
		}
	}

	chosen, previous, err := a.assign(ctx, a.markers, tenantID, channelID, eligible)
	if err != nil {
		return uuid.Nil, err
	}
	tx.OnRollback(func(ctx context.Context) {
		reverted, err := a.markers.RevertMarker(ctx, tenantID, channelID, chosen, previous)
		if a.log == nil {
			return
		}
		if err != nil {
			a.log.Error("failed to revert assignment marker",
				slog.String("tenant_id", tenantID.String()),
				slog.String("channel_id", channelID.String()),
				slog.String("error", err.Error()),
			)
			return
		}
		if !reverted {
			a.log.Warn("assignment marker moved before rollback, rotation keeps it",
				slog.String("tenant_id", tenantID.String()),
				slog.String("channel_id", channelID.String()),
			)
		}
	})
	return chosen, nil
}

func (a *Assigner) assign(ctx context.Context, markers ports.MarkerStore, tenantID, channelID uuid.UUID, eligible []uuid.UUID) (uuid.UUID, *domain.Marker, error) {
	if len(eligible) == 0 {
		a.metrics.RecordAssignment("empty")
		return uuid.Nil, nil, domain.ErrNoEligibleHandlers
	}

	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		marker, err := markers.GetMarker(ctx, tenantID, channelID)
		if err != nil {
			a.metrics.RecordAssignment("error")
			return uuid.Nil, nil, fmt.Errorf("read assignment marker: %w", err)
		}

		var previous *uuid.UUID
		if marker != nil {
			previous = &marker.HandlerID
		}
		chosen := Next(previous, eligible)

		swapped, err := markers.CompareAndSwapMarker(ctx, tenantID, channelID, previous, chosen, a.now())
		if err != nil {
			a.metrics.RecordAssignment("error")
			return uuid.Nil, nil, fmt.Errorf("write assignment marker: %w", err)
		}
		if swapped {
			a.metrics.RecordAssignment("assigned")
			return chosen, marker, nil
		}

		a.metrics.RecordAssignmentRetry()
		if a.log != nil {
			a.log.Debug("assignment marker changed concurrently, retrying",
				slog.String("tenant_id", tenantID.String()),
				slog.String("channel_id", channelID.String()),
				slog.Int("attempt", attempt),
			)
		}
	}

	a.metrics.RecordAssignment("error")
	return uuid.Nil, nil, apperr.TransactionFailed("assign handler",
		fmt.Errorf("marker contention after %d attempts", a.maxAttempts))
}

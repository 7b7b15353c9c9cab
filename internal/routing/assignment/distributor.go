package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"inbox_routing_backend/internal/routing/domain"
	"inbox_routing_backend/internal/routing/ownership"
	"inbox_routing_backend/internal/routing/ports"
	"inbox_routing_backend/platform/logger"

	"github.com/google/uuid"
)

// HandlerAssigner picks the next handler of a pool as part of tx.
type HandlerAssigner interface {
	AssignInTx(ctx context.Context, tx ports.Store, tenantID, channelID uuid.UUID, eligible []uuid.UUID) (uuid.UUID, error)
}

// Distributor runs auto-distribution of a lead inside a queue: it picks a
// handler, stores the binding and logs the pick.
type Distributor struct {
	assigner HandlerAssigner
	handlers ports.HandlerDirectory
	log      *logger.Logger
}

// NewDistributor creates a Distributor.
func NewDistributor(assigner HandlerAssigner, handlers ports.HandlerDirectory, log *logger.Logger) *Distributor {
	return &Distributor{assigner: assigner, handlers: handlers, log: log}
}

// Distribute assigns lead within queue and writes the binding through
// ledger and the pick through tx. It returns nil without error when the
// queue has no eligible handler or the assigner fails, leaving the lead
// unowned; only storage failures of the binding are returned.
func (d *Distributor) Distribute(ctx context.Context, tx ports.Store, ledger *ownership.Ledger, lead domain.Lead, queue domain.Queue, at time.Time) (*uuid.UUID, error) {
	eligible, err := d.handlers.EligibleHandlers(ctx, lead.TenantID, queue.ID)
	if err != nil {
		d.warn("load eligible handlers failed", lead, queue, err)
		return nil, nil
	}

	handlerID, err := d.assigner.AssignInTx(ctx, tx, lead.TenantID, queue.ChannelID, eligible)
	if errors.Is(err, domain.ErrNoEligibleHandlers) {
		d.warn("no eligible handlers in queue", lead, queue, nil)
		return nil, nil
	}
	if err != nil {
		d.warn("distribution failed", lead, queue, err)
		return nil, nil
	}

	if _, err := ledger.Set(ctx, ownership.SetParams{
		TenantID:  lead.TenantID,
		LeadID:    lead.ID,
		QueueID:   queue.ID,
		HandlerID: handlerID,
	}); err != nil {
		return nil, err
	}
	queueID := queue.ID
	if err := tx.RecordAssignment(ctx, lead.TenantID, queue.ChannelID, &queueID, handlerID, at); err != nil {
		return nil, fmt.Errorf("record assignment: %w", err)
	}

	if d.log != nil {
		d.log.Info("lead distributed in queue",
			slog.String("lead_id", lead.ID.String()),
			slog.String("queue_id", queue.ID.String()),
			slog.String("handler_id", handlerID.String()),
		)
	}
	return &handlerID, nil
}

func (d *Distributor) warn(msg string, lead domain.Lead, queue domain.Queue, err error) {
	if d.log == nil {
		return
	}
	attrs := []any{
		slog.String("lead_id", lead.ID.String()),
		slog.String("queue_id", queue.ID.String()),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	d.log.Warn(msg, attrs...)
}

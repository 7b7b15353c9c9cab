package transfer

import (
	"context"

	"inbox_routing_backend/internal/routing/domain"
	"inbox_routing_backend/internal/routing/ports"

	"github.com/google/uuid"
)

// Options lists the destinations a lead can be transferred to. Handlers are
// the handlers of the current queue except the owner, falling back to every
// tenant handler when the queue has none.
type Options struct {
	Lead         domain.Lead
	CurrentQueue *domain.Queue
	Handlers     []ports.HandlerInfo
	Queues       []domain.Queue
	Ownerships   []domain.Binding
}

// GetTransferOptions gathers the transfer screen of a lead. Admins see every
// active queue of the tenant; others only the queues of the lead's channel.
func (c *Coordinator) GetTransferOptions(ctx context.Context, tenantID, leadID uuid.UUID, isAdmin bool) (Options, error) {
	lead, err := c.store.GetLead(ctx, tenantID, leadID)
	if err != nil {
		return Options{}, err
	}
	opts := Options{Lead: lead}

	var handlers []ports.HandlerInfo
	if lead.HasQueue() {
		queue, err := c.store.GetQueue(ctx, tenantID, *lead.QueueID)
		if err != nil {
			return Options{}, err
		}
		opts.CurrentQueue = &queue
		if handlers, err = c.handlers.QueueHandlers(ctx, tenantID, queue.ID); err != nil {
			return Options{}, err
		}
	}
	opts.Handlers = withoutOwner(handlers, lead.OwnerID)
	if len(opts.Handlers) == 0 {
		all, err := c.handlers.TenantHandlers(ctx, tenantID)
		if err != nil {
			return Options{}, err
		}
		opts.Handlers = withoutOwner(all, lead.OwnerID)
	}

	var queues []domain.Queue
	if isAdmin {
		queues, err = c.store.ListTenantQueues(ctx, tenantID)
	} else {
		queues, err = c.store.ListChannelQueues(ctx, tenantID, lead.ChannelID)
	}
	if err != nil {
		return Options{}, err
	}
	opts.Queues = make([]domain.Queue, 0, len(queues))
	for _, q := range queues {
		if !q.Active || (lead.QueueID != nil && q.ID == *lead.QueueID) {
			continue
		}
		opts.Queues = append(opts.Queues, q)
	}

	if opts.Ownerships, err = c.ledger.ListForLead(ctx, tenantID, leadID); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// ListOwnerships returns the bindings of a lead across queues.
func (c *Coordinator) ListOwnerships(ctx context.Context, tenantID, leadID uuid.UUID) ([]domain.Binding, error) {
	if _, err := c.store.GetLead(ctx, tenantID, leadID); err != nil {
		return nil, err
	}
	return c.ledger.ListForLead(ctx, tenantID, leadID)
}

func withoutOwner(handlers []ports.HandlerInfo, ownerID *uuid.UUID) []ports.HandlerInfo {
	out := make([]ports.HandlerInfo, 0, len(handlers))
	for _, h := range handlers {
		if ownerID != nil && h.ID == *ownerID {
			continue
		}
		out = append(out, h)
	}
	return out
}

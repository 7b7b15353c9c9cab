package router

import (
	"context"
	"fmt"

	"inbox_routing_backend/internal/events"
	"inbox_routing_backend/internal/routing/domain"
	"inbox_routing_backend/internal/routing/ports"

	"github.com/google/uuid"
)

// NeedsQueueMenu reports whether the next inbound item of the lead on the
// channel would be answered with the queue menu. It writes nothing.
func (r *Router) NeedsQueueMenu(ctx context.Context, tenantID, leadID, channelID uuid.UUID) (bool, error) {
	channel, err := r.store.GetChannel(ctx, tenantID, channelID)
	if err != nil {
		return false, err
	}
	if !channel.QueueMenuEnabled {
		return false, nil
	}
	lead, err := r.store.GetLead(ctx, tenantID, leadID)
	if err != nil {
		return false, err
	}
	if lead.HasQueue() {
		return false, nil
	}
	queues, err := r.store.ListChannelQueues(ctx, tenantID, channelID)
	if err != nil {
		return false, err
	}
	return len(domain.ActiveQueuesInMenuOrder(queues)) > 0, nil
}

// Menu renders the queue menu of a channel. Concurrent calls for the same
// channel share one load.
func (r *Router) Menu(ctx context.Context, tenantID, channelID uuid.UUID) (domain.Menu, error) {
	key := tenantID.String() + ":" + channelID.String()
	v, err, _ := r.menus.Do(key, func() (any, error) {
		channel, err := r.store.GetChannel(ctx, tenantID, channelID)
		if err != nil {
			return nil, err
		}
		queues, err := r.store.ListChannelQueues(ctx, tenantID, channelID)
		if err != nil {
			return nil, err
		}
		return domain.BuildMenu(channel, queues), nil
	})
	if err != nil {
		return domain.Menu{}, err
	}
	return v.(domain.Menu), nil
}

// HandleReturningLead runs distribution again for a lead that sits in an
// auto-distributing queue without an owner. It returns the lead's owner
// afterwards, which stays nil when nobody could be picked.
func (r *Router) HandleReturningLead(ctx context.Context, tenantID, leadID uuid.UUID) (*uuid.UUID, error) {
	unlock, err := r.lockLead(ctx, tenantID, leadID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var owner *uuid.UUID
	var published []events.Event
	err = r.store.WithinTx(ctx, func(tx ports.Store) error {
		lead, err := tx.LockLead(ctx, tenantID, leadID)
		if err != nil {
			return err
		}
		owner = lead.OwnerID
		if !lead.HasQueue() || lead.OwnerID != nil {
			return nil
		}

		queue, err := tx.GetQueue(ctx, tenantID, *lead.QueueID)
		if err != nil {
			return err
		}
		handlerID, err := r.placer.Redistribute(ctx, tx, lead, queue, r.now())
		if err != nil || handlerID == nil {
			return err
		}
		lead.OwnerID = handlerID
		if err := tx.SaveLeadRouting(ctx, lead); err != nil {
			return fmt.Errorf("save lead owner: %w", err)
		}

		open, err := tx.ListOpenConversations(ctx, tenantID, leadID)
		if err != nil {
			return err
		}
		for _, conv := range open {
			if conv.HandlerID != nil {
				continue
			}
			conv.HandlerID = handlerID
			if err := tx.SaveConversation(ctx, conv); err != nil {
				return err
			}
		}

		owner = handlerID
		published = append(published, assignedEvent(lead, queue, *handlerID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.publish(ctx, published...)
	return owner, nil
}

// QueueStats summarizes the active queues of a channel.
func (r *Router) QueueStats(ctx context.Context, tenantID, channelID uuid.UUID) ([]domain.QueueStats, error) {
	if _, err := r.store.GetChannel(ctx, tenantID, channelID); err != nil {
		return nil, err
	}
	return r.store.QueueStats(ctx, tenantID, channelID)
}

// DistributionStats returns the round-robin load per handler of a channel.
func (r *Router) DistributionStats(ctx context.Context, tenantID, channelID uuid.UUID) ([]domain.HandlerLoad, error) {
	if _, err := r.store.GetChannel(ctx, tenantID, channelID); err != nil {
		return nil, err
	}
	return r.store.DistributionStats(ctx, tenantID, channelID)
}

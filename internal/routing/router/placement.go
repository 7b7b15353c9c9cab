package router

import (
	"context"
	"fmt"
	"time"

	"inbox_routing_backend/internal/events"
	"inbox_routing_backend/internal/routing/assignment"
	"inbox_routing_backend/internal/routing/domain"
	"inbox_routing_backend/internal/routing/ownership"
	"inbox_routing_backend/internal/routing/ports"

	"github.com/google/uuid"
)

// Placer moves a lead into a queue: pipeline, entry stage and owner.
type Placer struct {
	pipelines   ports.PipelineDirectory
	distributor *assignment.Distributor
	ledger      *ownership.Ledger
}

// NewPlacer creates a Placer. distributor may be nil, disabling auto-distribution.
func NewPlacer(pipelines ports.PipelineDirectory, distributor *assignment.Distributor, ledger *ownership.Ledger) *Placer {
	return &Placer{pipelines: pipelines, distributor: distributor, ledger: ledger}
}

// Placement is the lead after entering a queue.
type Placement struct {
	Lead   domain.Lead
	// Sticky is true when the owner came from an existing binding.
	Sticky bool
	Events []events.Event
}

// Place resolves the owner of lead inside queue, preferring its binding and
// otherwise auto-distributing when the queue allows it. The lead lands on
// the queue's pipeline, keeping its stage when already on that pipeline.
// The returned lead is not persisted.
func (p *Placer) Place(ctx context.Context, tx ports.Store, lead domain.Lead, queue domain.Queue, at time.Time) (Placement, error) {
	return p.place(ctx, tx, lead, queue, at, true)
}

// Move is Place for explicit transfers: the lead restarts at the first stage
// of the queue's pipeline even when it already was on that pipeline.
func (p *Placer) Move(ctx context.Context, tx ports.Store, lead domain.Lead, queue domain.Queue, at time.Time) (Placement, error) {
	return p.place(ctx, tx, lead, queue, at, false)
}

func (p *Placer) place(ctx context.Context, tx ports.Store, lead domain.Lead, queue domain.Queue, at time.Time, keepStage bool) (Placement, error) {
	if queue.PipelineID == nil {
		return Placement{}, domain.ErrQueueMisconfigured
	}
	ledger := p.ledger.WithStore(tx)

	owner, err := ledger.Get(ctx, lead.TenantID, lead.ID, queue.ID)
	if err != nil {
		return Placement{}, fmt.Errorf("load binding: %w", err)
	}
	placement := Placement{Sticky: owner != nil}

	if owner == nil && queue.AutoDistribute && p.distributor != nil {
		owner, err = p.distributor.Distribute(ctx, tx, ledger, lead, queue, at)
		if err != nil {
			return Placement{}, err
		}
		if owner != nil {
			placement.Events = append(placement.Events, assignedEvent(lead, queue, *owner))
		}
	}

	firstStage, err := p.pipelines.FirstStage(ctx, lead.TenantID, *queue.PipelineID)
	if err != nil {
		return Placement{}, fmt.Errorf("load first stage: %w", err)
	}
	switch {
	case keepStage:
		lead.StageID = domain.EntryStage(lead, *queue.PipelineID, firstStage)
	case firstStage != nil:
		lead.StageID = firstStage
	}

	queueID := queue.ID
	pipelineID := *queue.PipelineID
	lead.QueueID = &queueID
	lead.PipelineID = &pipelineID
	lead.OwnerID = owner
	placement.Lead = lead
	return placement, nil
}

// Redistribute offers an unowned lead already sitting in queue to
// auto-distribution. It returns nil when nobody was picked.
func (p *Placer) Redistribute(ctx context.Context, tx ports.Store, lead domain.Lead, queue domain.Queue, at time.Time) (*uuid.UUID, error) {
	if !queue.AutoDistribute || !queue.Active || p.distributor == nil {
		return nil, nil
	}
	return p.distributor.Distribute(ctx, tx, p.ledger.WithStore(tx), lead, queue, at)
}

func assignedEvent(lead domain.Lead, queue domain.Queue, handlerID uuid.UUID) events.LeadAssigned {
	return events.LeadAssigned{
		BaseEvent: events.NewBaseEvent(),
		TenantID:  lead.TenantID,
		LeadID:    lead.ID,
		ChannelID: queue.ChannelID,
		QueueID:   queue.ID,
		HandlerID: handlerID,
	}
}

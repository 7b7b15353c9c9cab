// Package ownership keeps the sticky (lead, queue) → handler bindings.
// Bindings survive conversation close and reopen; only explicit writes
// change them.
package ownership

import (
	"context"
	"fmt"

	"inbox_routing_backend/internal/routing/domain"
	"inbox_routing_backend/internal/routing/ports"
	"inbox_routing_backend/platform/apperr"

	"github.com/google/uuid"
)

// MembershipSource answers team membership for parent checks.
type MembershipSource interface {
	TeamMembers(ctx context.Context, tenantID, teamID uuid.UUID) ([]uuid.UUID, error)
}

// Ledger reads and writes ownership bindings.
type Ledger struct {
	store   ports.BindingStore
	members MembershipSource
}

// New creates a Ledger. members may be nil when hierarchical bindings are not used.
func New(store ports.BindingStore, members MembershipSource) *Ledger {
	return &Ledger{store: store, members: members}
}

// WithStore returns a Ledger writing through store, typically a transaction.
func (l *Ledger) WithStore(store ports.BindingStore) *Ledger {
	return &Ledger{store: store, members: l.members}
}

// Get returns the handler bound to the lead in the queue, or nil.
func (l *Ledger) Get(ctx context.Context, tenantID, leadID, queueID uuid.UUID) (*uuid.UUID, error) {
	binding, err := l.store.GetBinding(ctx, tenantID, leadID, queueID)
	if err != nil {
		return nil, err
	}
	if binding == nil {
		return nil, nil
	}
	handlerID := binding.HandlerID
	return &handlerID, nil
}

// SetParams describes a binding write. Weight and Metadata are left
// unchanged on an existing binding when nil.
type SetParams struct {
	TenantID  uuid.UUID
	LeadID    uuid.UUID
	QueueID   uuid.UUID
	HandlerID uuid.UUID
	ParentID  *uuid.UUID
	Weight    *int
	Metadata  map[string]any
}

// Set upserts the binding for (lead, queue), overwriting its handler. When a
// parent binding is given, the handler must be a member of the parent's team.
func (l *Ledger) Set(ctx context.Context, p SetParams) (domain.Binding, error) {
	if p.HandlerID == uuid.Nil {
		return domain.Binding{}, apperr.Validation("handler is required")
	}
	if p.ParentID != nil {
		if err := l.checkParent(ctx, p); err != nil {
			return domain.Binding{}, err
		}
	}

	binding, err := l.store.UpsertBinding(ctx, ports.UpsertBindingParams{
		TenantID:  p.TenantID,
		LeadID:    p.LeadID,
		QueueID:   p.QueueID,
		HandlerID: p.HandlerID,
		ParentID:  p.ParentID,
		Weight:    p.Weight,
		Metadata:  p.Metadata,
	})
	if err != nil {
		return domain.Binding{}, fmt.Errorf("upsert binding: %w", err)
	}
	return binding, nil
}

func (l *Ledger) checkParent(ctx context.Context, p SetParams) error {
	parent, err := l.store.GetBindingByID(ctx, p.TenantID, *p.ParentID)
	if err != nil {
		return err
	}
	if parent == nil {
		return apperr.NotFound("parent binding not found")
	}
	if parent.LeadID != p.LeadID {
		return apperr.Validation("parent binding belongs to another lead")
	}
	if l.members == nil {
		return domain.ErrParentMismatch
	}

	members, err := l.members.TeamMembers(ctx, p.TenantID, parent.HandlerID)
	if err != nil {
		return fmt.Errorf("load team members: %w", err)
	}
	for _, id := range members {
		if id == p.HandlerID {
			return nil
		}
	}
	return domain.ErrParentMismatch
}

// ListForLead returns every binding of the lead, for "already owned in"
// summaries on transfer screens.
func (l *Ledger) ListForLead(ctx context.Context, tenantID, leadID uuid.UUID) ([]domain.Binding, error) {
	return l.store.ListBindingsForLead(ctx, tenantID, leadID)
}

package handler

import (
	"time"

	"inbox_routing_backend/internal/routing/domain"
	"inbox_routing_backend/internal/routing/ports"
	"inbox_routing_backend/internal/routing/router"
	"inbox_routing_backend/internal/routing/transfer"
	"inbox_routing_backend/internal/routing/transport"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func toDecisionResponse(d *router.Decision) transport.RoutingDecisionResponse {
	actions := make([]string, 0, len(d.Actions))
	for _, a := range d.Actions {
		actions = append(actions, string(a))
	}
	resp := transport.RoutingDecisionResponse{
		State:          string(d.State),
		Actions:        actions,
		ConversationID: d.ConversationID,
		MenuSent:       d.MenuSent,
		Deliver:        d.Deliver,
		OwnerID:        d.OwnerID,
		Sticky:         d.Sticky,
		Reopened:       d.Reopened,
	}
	if d.Queue != nil {
		queueID := d.Queue.ID
		resp.QueueID = &queueID
		resp.QueueName = d.Queue.Name
	}
	return resp
}

func toLeadResponse(l domain.Lead) transport.LeadRoutingResponse {
	return transport.LeadRoutingResponse{
		ID:         l.ID,
		ChannelID:  l.ChannelID,
		QueueID:    l.QueueID,
		PipelineID: l.PipelineID,
		StageID:    l.StageID,
		OwnerID:    l.OwnerID,
		Status:     string(l.Status),
	}
}

func toQueueOption(q domain.Queue) transport.QueueOptionResponse {
	return transport.QueueOptionResponse{
		ID:             q.ID,
		Name:           q.Name,
		MenuOption:     q.MenuOption,
		AutoDistribute: q.AutoDistribute,
	}
}

func toHandlerOptions(items []ports.HandlerInfo) []transport.HandlerOptionResponse {
	out := make([]transport.HandlerOptionResponse, 0, len(items))
	for _, h := range items {
		out = append(out, transport.HandlerOptionResponse{ID: h.ID, Name: h.Name, Kind: h.Kind})
	}
	return out
}

func toOwnerships(bindings []domain.Binding) []transport.OwnershipResponse {
	out := make([]transport.OwnershipResponse, 0, len(bindings))
	for _, b := range bindings {
		out = append(out, transport.OwnershipResponse{
			ID:        b.ID,
			QueueID:   b.QueueID,
			QueueName: b.QueueName,
			HandlerID: b.HandlerID,
			ParentID:  b.ParentID,
			Weight:    b.Weight,
			UpdatedAt: formatTime(b.UpdatedAt),
		})
	}
	return out
}

func toTransferOptions(opts transfer.Options) transport.TransferOptionsResponse {
	queues := make([]transport.QueueOptionResponse, 0, len(opts.Queues))
	for _, q := range opts.Queues {
		queues = append(queues, toQueueOption(q))
	}
	resp := transport.TransferOptionsResponse{
		Lead:       toLeadResponse(opts.Lead),
		Handlers:   toHandlerOptions(opts.Handlers),
		Queues:     queues,
		Ownerships: toOwnerships(opts.Ownerships),
	}
	if opts.CurrentQueue != nil {
		current := toQueueOption(*opts.CurrentQueue)
		resp.CurrentQueue = &current
	}
	return resp
}

func toConversationResponse(c domain.Conversation) transport.ConversationResponse {
	return transport.ConversationResponse{
		ID:          c.ID,
		LeadID:      c.LeadID,
		ChannelID:   c.ChannelID,
		Status:      string(c.Status),
		HandlerID:   c.HandlerID,
		OpenedAt:    formatTime(c.OpenedAt),
		ClosedAt:    formatTimePtr(c.ClosedAt),
		CloseReason: c.CloseReason,
	}
}

func toQueueStats(stats []domain.QueueStats) []transport.QueueStatsResponse {
	out := make([]transport.QueueStatsResponse, 0, len(stats))
	for _, s := range stats {
		out = append(out, transport.QueueStatsResponse{
			QueueID:        s.QueueID,
			Name:           s.Name,
			LeadsCount:     s.LeadsCount,
			HandlersCount:  s.HandlersCount,
			LeadsWaiting:   s.LeadsWaiting,
			AutoDistribute: s.AutoDistribute,
		})
	}
	return out
}

func toHandlerLoads(loads []domain.HandlerLoad) []transport.HandlerLoadResponse {
	out := make([]transport.HandlerLoadResponse, 0, len(loads))
	for _, l := range loads {
		out = append(out, transport.HandlerLoadResponse{
			HandlerID:      l.HandlerID,
			Assignments:    l.Assignments,
			LastAssignedAt: formatTimePtr(l.LastAssignedAt),
		})
	}
	return out
}

func toMenuResponse(menu domain.Menu) transport.MenuResponse {
	options := make([]transport.MenuOptionResponse, 0, len(menu.Options))
	for _, o := range menu.Options {
		options = append(options, transport.MenuOptionResponse{
			Option:  o.Option,
			Label:   o.Label,
			QueueID: o.Queue.ID,
		})
	}
	return transport.MenuResponse{Text: menu.Text, Options: options}
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"inbox_routing_backend/internal/routing/apikey"
	"inbox_routing_backend/internal/routing/router"
	"inbox_routing_backend/internal/routing/transfer"
	"inbox_routing_backend/internal/routing/transport"
	"inbox_routing_backend/internal/scheduler"
	"inbox_routing_backend/platform/apperr"
	"inbox_routing_backend/platform/httpkit"
	"inbox_routing_backend/platform/sanitize"
	"inbox_routing_backend/platform/validator"
)

// Handler handles HTTP requests for queue routing.
type Handler struct {
	router   *router.Router
	transfer *transfer.Coordinator
	rebuilds scheduler.MarkerRebuildScheduler
	val      *validator.Validator
}

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidLeadID    = "invalid lead id"
	msgInvalidConvID    = "invalid conversation id"
	msgInvalidChannelID = "invalid channel id"

	roleAdmin = "admin"
)

// New creates a new routing handler. rebuilds may be nil when no background
// worker is configured.
func New(r *router.Router, t *transfer.Coordinator, rebuilds scheduler.MarkerRebuildScheduler, val *validator.Validator) *Handler {
	return &Handler{router: r, transfer: t, rebuilds: rebuilds, val: val}
}

// Inbound runs one normalized inbound item through the routing state machine.
// The tenant comes from the webhook API key.
// POST /api/v1/webhooks/inbound
func (h *Handler) Inbound(c *gin.Context) {
	tenantID, keyChannel, ok := apikey.Scope(c)
	if !ok {
		httpkit.HandleError(c, apperr.Unauthorized("missing API key"))
		return
	}

	var req transport.InboundMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(msgValidationFailed).WithDetails(err.Error()))
		return
	}

	if keyChannel != nil && *keyChannel != req.ChannelID {
		httpkit.HandleError(c, apperr.Forbidden("API key is not valid for this channel"))
		return
	}

	msg := router.InboundMessage{
		TenantID:  tenantID,
		ChannelID: req.ChannelID,
		LeadID:    req.LeadID,
		Text:      req.Text,
		Metadata:  req.Metadata,
	}
	if req.Timestamp != nil {
		msg.ReceivedAt = *req.Timestamp
	}

	decision, err := h.router.HandleInbound(c.Request.Context(), msg)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toDecisionResponse(decision))
}

// GetTransferOptions lists the handlers and queues a lead can be moved to.
// GET /api/v1/routing/leads/:id/transfer-options
func (h *Handler) GetTransferOptions(c *gin.Context) {
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidLeadID, nil)
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	tenantID, ok := mustGetTenantID(c, identity)
	if !ok {
		return
	}

	opts, err := h.transfer.GetTransferOptions(c.Request.Context(), tenantID, leadID, identity.HasRole(roleAdmin))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toTransferOptions(opts))
}

// ListOwnerships lists the lead's queue bindings.
// GET /api/v1/routing/leads/:id/ownerships
func (h *Handler) ListOwnerships(c *gin.Context) {
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidLeadID, nil)
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	tenantID, ok := mustGetTenantID(c, identity)
	if !ok {
		return
	}

	bindings, err := h.transfer.ListOwnerships(c.Request.Context(), tenantID, leadID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"items": toOwnerships(bindings)})
}

// TransferToHandler makes a handler the owner of a lead.
// POST /api/v1/routing/leads/:id/transfer/handler
func (h *Handler) TransferToHandler(c *gin.Context) {
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidLeadID, nil)
		return
	}
	var req transport.TransferToHandlerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(msgValidationFailed).WithDetails(err.Error()))
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	tenantID, ok := mustGetTenantID(c, identity)
	if !ok {
		return
	}

	actorID := identity.UserID()
	lead, err := h.transfer.TransferToHandler(c.Request.Context(), transfer.ToHandlerParams{
		TenantID:  tenantID,
		LeadID:    leadID,
		HandlerID: req.HandlerID,
		ActorID:   &actorID,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toLeadResponse(lead))
}

// TransferToQueue moves a lead to another queue.
// POST /api/v1/routing/leads/:id/transfer/queue
func (h *Handler) TransferToQueue(c *gin.Context) {
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidLeadID, nil)
		return
	}
	var req transport.TransferToQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(msgValidationFailed).WithDetails(err.Error()))
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	tenantID, ok := mustGetTenantID(c, identity)
	if !ok {
		return
	}

	actorID := identity.UserID()
	lead, err := h.transfer.TransferToQueue(c.Request.Context(), transfer.ToQueueParams{
		TenantID:  tenantID,
		LeadID:    leadID,
		QueueID:   req.QueueID,
		HandlerID: req.HandlerID,
		ActorID:   &actorID,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toLeadResponse(lead))
}

// Redistribute runs distribution again for an unowned lead of an
// auto-distributing queue.
// POST /api/v1/routing/leads/:id/redistribute
func (h *Handler) Redistribute(c *gin.Context) {
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidLeadID, nil)
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	tenantID, ok := mustGetTenantID(c, identity)
	if !ok {
		return
	}

	ownerID, err := h.router.HandleReturningLead(c.Request.Context(), tenantID, leadID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.RedistributeResponse{LeadID: leadID, OwnerID: ownerID})
}

// CloseConversation closes a conversation and sends the queue's close message.
// POST /api/v1/routing/conversations/:id/close
func (h *Handler) CloseConversation(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidConvID, nil)
		return
	}
	var req transport.CloseConversationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
			return
		}
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(msgValidationFailed).WithDetails(err.Error()))
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	tenantID, ok := mustGetTenantID(c, identity)
	if !ok {
		return
	}

	actorID := identity.UserID()
	conv, err := h.transfer.CloseConversation(c.Request.Context(), transfer.CloseParams{
		TenantID:       tenantID,
		ConversationID: conversationID,
		Reason:         sanitize.Text(req.Reason),
		ActorID:        &actorID,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toConversationResponse(conv))
}

// ReopenConversation reopens a closed conversation.
// POST /api/v1/routing/conversations/:id/reopen
func (h *Handler) ReopenConversation(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidConvID, nil)
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	tenantID, ok := mustGetTenantID(c, identity)
	if !ok {
		return
	}

	conv, err := h.transfer.ReopenConversation(c.Request.Context(), tenantID, conversationID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toConversationResponse(conv))
}

// GetQueueStats returns per-queue load for a channel.
// GET /api/v1/routing/channels/:id/queues/stats
func (h *Handler) GetQueueStats(c *gin.Context) {
	channelID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidChannelID, nil)
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	tenantID, ok := mustGetTenantID(c, identity)
	if !ok {
		return
	}

	stats, err := h.router.QueueStats(c.Request.Context(), tenantID, channelID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"items": toQueueStats(stats)})
}

// GetDistribution returns round-robin counters per handler for a channel.
// GET /api/v1/routing/channels/:id/distribution
func (h *Handler) GetDistribution(c *gin.Context) {
	channelID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidChannelID, nil)
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	tenantID, ok := mustGetTenantID(c, identity)
	if !ok {
		return
	}

	loads, err := h.router.DistributionStats(c.Request.Context(), tenantID, channelID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"items": toHandlerLoads(loads)})
}

// GetMenu renders the queue menu a lead would receive on the channel.
// GET /api/v1/routing/channels/:id/menu
func (h *Handler) GetMenu(c *gin.Context) {
	channelID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidChannelID, nil)
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	tenantID, ok := mustGetTenantID(c, identity)
	if !ok {
		return
	}

	menu, err := h.router.Menu(c.Request.Context(), tenantID, channelID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toMenuResponse(menu))
}

// NeedsMenu reports whether the lead's next message on a channel would be
// answered with the queue menu.
// GET /api/v1/routing/leads/:id/needs-menu?channelId=
func (h *Handler) NeedsMenu(c *gin.Context) {
	leadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidLeadID, nil)
		return
	}
	channelID, err := uuid.Parse(c.Query("channelId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidChannelID, nil)
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	tenantID, ok := mustGetTenantID(c, identity)
	if !ok {
		return
	}

	needs, err := h.router.NeedsQueueMenu(c.Request.Context(), tenantID, leadID, channelID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.NeedsMenuResponse{NeedsMenu: needs})
}

// RebuildMarkers queues a rebuild of the tenant's rotation markers from the
// assignment log.
// POST /api/v1/admin/routing/markers/rebuild
func (h *Handler) RebuildMarkers(c *gin.Context) {
	if h.rebuilds == nil {
		httpkit.Error(c, http.StatusServiceUnavailable, "background worker not configured", nil)
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	tenantID, ok := mustGetTenantID(c, identity)
	if !ok {
		return
	}

	err := h.rebuilds.EnqueueMarkerRebuild(c.Request.Context(), scheduler.RebuildMarkersPayload{
		TenantID:    tenantID.String(),
		RequestedBy: identity.UserID().String(),
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusAccepted, transport.RebuildMarkersResponse{Queued: true})
}

func mustGetTenantID(c *gin.Context, identity httpkit.Identity) (uuid.UUID, bool) {
	tenantID := identity.TenantID()
	if tenantID == nil {
		httpkit.HandleError(c, apperr.BadRequest("tenant ID is required"))
		return uuid.UUID{}, false
	}
	return *tenantID, true
}

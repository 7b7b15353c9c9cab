// Package notification provides live delivery of routing activity to
// connected agents. It subscribes to routing events and exposes the SSE
// stream the inbox screens listen on.
package notification

import (
	"inbox_routing_backend/internal/events"
	apphttp "inbox_routing_backend/internal/http"
	"inbox_routing_backend/internal/notification/sse"
	"inbox_routing_backend/platform/httpkit"
	"inbox_routing_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Module is the notification module implementing http.Module.
type Module struct {
	sse *sse.Service
}

// New creates the module and its SSE service.
func New(log *logger.Logger) *Module {
	return &Module{sse: sse.New(log)}
}

// SSE returns the shared SSE service.
func (m *Module) SSE() *sse.Service {
	return m.sse
}

// RegisterHandlers subscribes the SSE service to routing events.
func (m *Module) RegisterHandlers(bus events.Bus) {
	m.sse.Subscribe(bus)
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "notification"
}

// RegisterRoutes mounts the SSE stream.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.GET("/routing/events", m.sse.Handler(userID, tenantID))
}

// Close disconnects every SSE client.
func (m *Module) Close() {
	m.sse.Close()
}

func userID(c *gin.Context) (uuid.UUID, bool) {
	identity := httpkit.GetIdentity(c)
	if !identity.IsAuthenticated() {
		return uuid.UUID{}, false
	}
	return identity.UserID(), true
}

func tenantID(c *gin.Context) (uuid.UUID, bool) {
	id := httpkit.GetIdentity(c).TenantID()
	if id == nil {
		return uuid.UUID{}, false
	}
	return *id, true
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)

// Package http holds the contract between the HTTP router and the bounded
// context modules mounted on it.
package http

import (
	"inbox_routing_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
)

// Module is a bounded context that mounts its own routes.
type Module interface {
	// Name identifies the module in startup logs.
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext carries the route groups and shared middleware a module
// registers against.
type RouterContext struct {
	// V1 is the unauthenticated /api/v1 group.
	V1 *gin.RouterGroup
	// Protected requires a valid access token carrying a tenant.
	Protected *gin.RouterGroup
	// Admin is Protected narrowed to the admin role, under /api/v1/admin.
	Admin *gin.RouterGroup
	// WebhookRateLimiter throttles unauthenticated webhook ingress.
	WebhookRateLimiter *httpkit.WebhookRateLimiter
}

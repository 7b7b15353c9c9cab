package http

import (
	"context"

	"inbox_routing_backend/platform/config"
	"inbox_routing_backend/platform/logger"
	"inbox_routing_backend/platform/metrics"
)

// RouterConfig combines the config interfaces needed by the HTTP router.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
}

// HealthChecker backs the readiness endpoint.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App is what the composition root hands to the router.
type App struct {
	Config RouterConfig
	Logger *logger.Logger
	// Health is pinged by /api/health; nil always reports ok.
	Health HealthChecker
	// Metrics records request counters; nil disables the middleware.
	Metrics *metrics.Metrics
	Modules []Module
}

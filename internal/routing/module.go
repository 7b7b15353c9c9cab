// Package routing provides the queue routing bounded context module: the
// inbound state machine, round-robin distribution, ownership bindings and
// transfers.
package routing

import (
	"fmt"

	"inbox_routing_backend/internal/events"
	apphttp "inbox_routing_backend/internal/http"
	"inbox_routing_backend/internal/routing/apikey"
	"inbox_routing_backend/internal/routing/assignment"
	"inbox_routing_backend/internal/routing/handler"
	"inbox_routing_backend/internal/routing/lock"
	"inbox_routing_backend/internal/routing/notify"
	"inbox_routing_backend/internal/routing/ownership"
	"inbox_routing_backend/internal/routing/ports"
	"inbox_routing_backend/internal/routing/repository"
	"inbox_routing_backend/internal/routing/router"
	"inbox_routing_backend/internal/routing/transfer"
	"inbox_routing_backend/internal/scheduler"
	"inbox_routing_backend/platform/config"
	"inbox_routing_backend/platform/logger"
	"inbox_routing_backend/platform/metrics"
	"inbox_routing_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Deps are the infrastructure pieces the module is composed from. Redis may
// be nil when neither the lock nor the marker backend uses it.
type Deps struct {
	Pool        *pgxpool.Pool
	Redis       redis.UniversalClient
	Sender      ports.Sender
	Broadcaster ports.Broadcaster
	Bus         events.Bus
	Validator   *validator.Validator
	Log         *logger.Logger
	Metrics     *metrics.Metrics
	// Rebuilds queues marker rebuilds on the background worker; optional.
	Rebuilds scheduler.MarkerRebuildScheduler
}

// Module is the routing bounded context module implementing http.Module.
type Module struct {
	handler     *handler.Handler
	router      *router.Router
	coordinator *transfer.Coordinator
	repo        *repository.Repository
	markers     ports.MarkerStore
}

// NewModule wires the routing services against Postgres and the configured
// lock and marker backends.
func NewModule(deps Deps, cfg config.RoutingConfig) (*Module, error) {
	repo := repository.New(deps.Pool)
	directory := repository.NewDirectory(deps.Pool)

	markers, err := newMarkerStore(deps, repo, cfg)
	if err != nil {
		return nil, err
	}
	locker, err := newLocker(deps, cfg)
	if err != nil {
		return nil, err
	}

	ledger := ownership.New(repo, directory)
	assigner := assignment.New(markers, deps.Log, assignment.WithMetrics(deps.Metrics))
	distributor := assignment.NewDistributor(assigner, directory, deps.Log)
	placer := router.NewPlacer(directory, distributor, ledger)
	dispatcher := notify.NewDispatcher(deps.Sender, deps.Broadcaster, deps.Log, deps.Metrics)

	r := router.New(router.Deps{
		Store:      repo,
		Placer:     placer,
		Locker:     locker,
		Dispatcher: dispatcher,
		Bus:        deps.Bus,
		Log:        deps.Log,
		Metrics:    deps.Metrics,
	}, router.Config{
		Grace:                cfg.GetOpenConversationGrace(),
		DefaultReturnTimeout: cfg.GetDefaultReturnTimeout(),
	})
	coordinator := transfer.New(transfer.Deps{
		Store:      repo,
		Handlers:   directory,
		Placer:     placer,
		Ledger:     ledger,
		Locker:     locker,
		Dispatcher: dispatcher,
		Bus:        deps.Bus,
		Log:        deps.Log,
		Metrics:    deps.Metrics,
	})

	return &Module{
		handler:     handler.New(r, coordinator, deps.Rebuilds, deps.Validator),
		router:      r,
		coordinator: coordinator,
		repo:        repo,
		markers:     markers,
	}, nil
}

func newMarkerStore(deps Deps, repo *repository.Repository, cfg config.RoutingConfig) (ports.MarkerStore, error) {
	switch cfg.GetMarkerBackend() {
	case "redis":
		if deps.Redis == nil {
			return nil, fmt.Errorf("redis marker backend requires a redis client")
		}
		return assignment.NewRedisStore(deps.Redis), nil
	default:
		return repo, nil
	}
}

func newLocker(deps Deps, cfg config.RoutingConfig) (ports.Locker, error) {
	switch cfg.GetLockBackend() {
	case "redis":
		if deps.Redis == nil {
			return nil, fmt.Errorf("redis lock backend requires a redis client")
		}
		return lock.NewRedis(deps.Redis, cfg.GetLockTTL()), nil
	default:
		return lock.NewMemory(), nil
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "routing"
}

// Router returns the inbound routing service for other ingestion paths.
func (m *Module) Router() *router.Router {
	return m.router
}

// Coordinator returns the transfer service.
func (m *Module) Coordinator() *transfer.Coordinator {
	return m.coordinator
}

// Repository returns the repository for direct access if needed.
func (m *Module) Repository() *repository.Repository {
	return m.repo
}

// Markers returns the configured rotation marker store.
func (m *Module) Markers() ports.MarkerStore {
	return m.markers
}

// RegisterRoutes mounts routing routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	webhooks := ctx.V1.Group("/webhooks")
	if ctx.WebhookRateLimiter != nil {
		webhooks.Use(ctx.WebhookRateLimiter.RateLimit())
	}
	webhooks.Use(apikey.Middleware(m.repo))
	webhooks.POST("/inbound", m.handler.Inbound)

	group := ctx.Protected.Group("/routing")
	group.GET("/leads/:id/transfer-options", m.handler.GetTransferOptions)
	group.GET("/leads/:id/ownerships", m.handler.ListOwnerships)
	group.GET("/leads/:id/needs-menu", m.handler.NeedsMenu)
	group.POST("/leads/:id/transfer/handler", m.handler.TransferToHandler)
	group.POST("/leads/:id/transfer/queue", m.handler.TransferToQueue)
	group.POST("/leads/:id/redistribute", m.handler.Redistribute)
	group.POST("/conversations/:id/close", m.handler.CloseConversation)
	group.POST("/conversations/:id/reopen", m.handler.ReopenConversation)
	group.GET("/channels/:id/queues/stats", m.handler.GetQueueStats)
	group.GET("/channels/:id/distribution", m.handler.GetDistribution)
	group.GET("/channels/:id/menu", m.handler.GetMenu)

	admin := ctx.Admin.Group("/routing")
	admin.POST("/markers/rebuild", m.handler.RebuildMarkers)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)

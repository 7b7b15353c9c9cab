package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"inbox_routing_backend/internal/routing/assignment"
	"inbox_routing_backend/platform/config"
	"inbox_routing_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	source  assignment.AssignmentSource
	markers assignment.MarkerWriter
	log     *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, source assignment.AssignmentSource, markers assignment.MarkerWriter, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:  server,
		mux:     mux,
		source:  source,
		markers: markers,
		log:     log,
	}

	mux.HandleFunc(TaskRebuildMarkers, w.handleRebuildMarkers)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleRebuildMarkers(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseRebuildMarkersPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	source := w.source
	if payload.TenantID != "" {
		tenantID, err := uuid.Parse(payload.TenantID)
		if err != nil {
			return fmt.Errorf("%w: invalid tenant id %q", asynq.SkipRetry, payload.TenantID)
		}
		source = assignment.ForTenant(w.source, tenantID)
	}

	result, err := assignment.RebuildMarkers(ctx, source, w.markers, w.log)
	if err != nil {
		return err
	}
	w.log.Info("rotation markers rebuilt",
		slog.Int("scanned", result.Scanned),
		slog.Int("restored", result.Restored),
		slog.String("tenant_id", payload.TenantID),
		slog.String("requested_by", payload.RequestedBy),
	)
	return nil
}

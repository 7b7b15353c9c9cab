package main

import (
	"fmt"

	"inbox_routing_backend/internal/routing/assignment"
	"inbox_routing_backend/internal/routing/ports"
	"inbox_routing_backend/internal/routing/repository"
	"inbox_routing_backend/internal/scheduler"
	"inbox_routing_backend/platform/kv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newMarkersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "markers",
		Short: "Manage round-robin rotation markers",
	}

	cmd.AddCommand(newMarkersRebuildCommand())

	return cmd
}

func newMarkersRebuildCommand() *cobra.Command {
	var (
		tenant string
		async  bool
	)

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Restore rotation markers from the assignment log",
		Long: `Rebuild rewrites every rotation marker that is missing or older than the
newest pick recorded in the assignment log. With --async the rebuild is queued
for the scheduler worker instead of running in this process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var tenantID uuid.UUID
			if tenant != "" {
				id, err := uuid.Parse(tenant)
				if err != nil {
					return fmt.Errorf("invalid tenant id %q", tenant)
				}
				tenantID = id
			}

			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			if async {
				client, err := scheduler.NewClient(e.cfg)
				if err != nil {
					return fmt.Errorf("scheduler client: %w", err)
				}
				defer func() { _ = client.Close() }()

				if err := client.EnqueueMarkerRebuild(ctx, scheduler.RebuildMarkersPayload{
					TenantID:    tenant,
					RequestedBy: "routingctl",
				}); err != nil {
					return fmt.Errorf("enqueue rebuild: %w", err)
				}
				return outputJSON(cmd.OutOrStdout(), map[string]any{"queued": true, "tenantId": tenant})
			}

			var markers ports.MarkerStore = repository.New(e.pool)
			if e.cfg.GetMarkerBackend() == "redis" {
				client, err := kv.NewClient(ctx, e.cfg)
				if err != nil {
					return fmt.Errorf("connect redis: %w", err)
				}
				defer func() { _ = client.Close() }()
				markers = assignment.NewRedisStore(client)
			}

			var source assignment.AssignmentSource = repository.New(e.pool)
			if tenantID != uuid.Nil {
				source = assignment.ForTenant(source, tenantID)
			}

			result, err := assignment.RebuildMarkers(ctx, source, markers, e.log)
			if err != nil {
				return err
			}
			if outputFormat == "table" {
				fmt.Fprintf(cmd.OutOrStdout(), "scanned\t%d\nrestored\t%d\n", result.Scanned, result.Restored)
				return nil
			}
			return outputJSON(cmd.OutOrStdout(), map[string]int{"scanned": result.Scanned, "restored": result.Restored})
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Only rebuild markers of this tenant")
	cmd.Flags().BoolVar(&async, "async", false, "Queue the rebuild for the scheduler worker")

	return cmd
}

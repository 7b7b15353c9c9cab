package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"inbox_routing_backend/internal/routing/domain"
	"inbox_routing_backend/internal/routing/repository"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newBindingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bindings",
		Short: "Inspect lead ownership bindings",
	}

	cmd.AddCommand(newBindingsShowCommand())

	return cmd
}

type bindingView struct {
	ID        string  `json:"id"`
	QueueID   string  `json:"queueId"`
	QueueName string  `json:"queueName"`
	HandlerID string  `json:"handlerId"`
	ParentID  *string `json:"parentId,omitempty"`
	Weight    int     `json:"weight"`
	UpdatedAt string  `json:"updatedAt"`
}

func toBindingViews(bindings []domain.Binding) []bindingView {
	out := make([]bindingView, 0, len(bindings))
	for _, b := range bindings {
		v := bindingView{
			ID:        b.ID.String(),
			QueueID:   b.QueueID.String(),
			QueueName: b.QueueName,
			HandlerID: b.HandlerID.String(),
			Weight:    b.Weight,
			UpdatedAt: b.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if b.ParentID != nil {
			parent := b.ParentID.String()
			v.ParentID = &parent
		}
		out = append(out, v)
	}
	return out
}

func newBindingsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <tenant_id> <lead_id>",
		Short: "Show the queue bindings of a lead",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid tenant id %q", args[0])
			}
			leadID, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid lead id %q", args[1])
			}

			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			bindings, err := repository.New(e.pool).ListBindingsForLead(ctx, tenantID, leadID)
			if err != nil {
				return err
			}
			views := toBindingViews(bindings)

			if outputFormat != "table" {
				return outputJSON(cmd.OutOrStdout(), views)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "QUEUE\tHANDLER\tWEIGHT\tUPDATED")
			for _, v := range views {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", v.QueueName, v.HandlerID, v.Weight, v.UpdatedAt)
			}
			return w.Flush()
		},
	}
}

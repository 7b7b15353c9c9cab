package main

import (
	"fmt"

	"inbox_routing_backend/internal/routing/apikey"
	"inbox_routing_backend/internal/routing/repository"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newKeysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Issue and revoke inbound webhook API keys",
	}

	cmd.AddCommand(newKeysCreateCommand())
	cmd.AddCommand(newKeysRevokeCommand())

	return cmd
}

type createdKeyView struct {
	ID        string  `json:"id"`
	TenantID  string  `json:"tenantId"`
	ChannelID *string `json:"channelId,omitempty"`
	Name      string  `json:"name"`
	Prefix    string  `json:"prefix"`
	Key       string  `json:"key"`
}

func toCreatedKeyView(key apikey.Key, plaintext string) createdKeyView {
	v := createdKeyView{
		ID:       key.ID.String(),
		TenantID: key.TenantID.String(),
		Name:     key.Name,
		Prefix:   key.KeyPrefix,
		Key:      plaintext,
	}
	if key.ChannelID != nil {
		channel := key.ChannelID.String()
		v.ChannelID = &channel
	}
	return v
}

func parseKeyScope(tenant, channel string) (uuid.UUID, *uuid.UUID, error) {
	tenantID, err := uuid.Parse(tenant)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("invalid tenant id %q", tenant)
	}
	if channel == "" {
		return tenantID, nil, nil
	}
	channelID, err := uuid.Parse(channel)
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("invalid channel id %q", channel)
	}
	return tenantID, &channelID, nil
}

func newKeysCreateCommand() *cobra.Command {
	var tenant, channel, name string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a webhook key; the plaintext is printed once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenantID, channelID, err := parseKeyScope(tenant, channel)
			if err != nil {
				return err
			}

			plaintext, hash, prefix, err := apikey.Generate()
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}

			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			key, err := repository.New(e.pool).CreateAPIKey(ctx, tenantID, channelID, name, hash, prefix)
			if err != nil {
				return err
			}
			view := toCreatedKeyView(key, plaintext)
			if outputFormat != "table" {
				return outputJSON(cmd.OutOrStdout(), view)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", view.ID, view.Key)
			return nil
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant the key authenticates")
	cmd.Flags().StringVar(&channel, "channel", "", "Restrict the key to one channel")
	cmd.Flags().StringVar(&name, "name", "webhook", "Label shown in listings")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func newKeysRevokeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <tenant_id> <key_id>",
		Short: "Deactivate a webhook key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid tenant id %q", args[0])
			}
			keyID, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid key id %q", args[1])
			}

			ctx := cmd.Context()
			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := repository.New(e.pool).RevokeAPIKey(ctx, tenantID, keyID); err != nil {
				return err
			}
			return outputJSON(cmd.OutOrStdout(), map[string]any{"revoked": true, "id": keyID})
		},
	}
}

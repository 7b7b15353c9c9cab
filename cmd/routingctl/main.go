// Command routingctl runs maintenance tasks against the routing store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"inbox_routing_backend/platform/config"
	"inbox_routing_backend/platform/db"
	"inbox_routing_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

var outputFormat string

func main() {
	rootCmd := &cobra.Command{
		Use:   "routingctl",
		Short: "Inbox routing maintenance CLI",
		Long: `routingctl inspects and repairs routing state directly in the database.
Output is JSON by default (pipe through jq for human-readable formatting).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "json", "Output format: json, table")

	rootCmd.AddCommand(newMarkersCommand())
	rootCmd.AddCommand(newBindingsCommand())
	rootCmd.AddCommand(newKeysCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// env carries what every subcommand needs to reach the store.
type env struct {
	cfg  *config.Config
	log  *logger.Logger
	pool *pgxpool.Pool
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return &env{cfg: cfg, log: logger.New(cfg.Env), pool: pool}, nil
}

func (e *env) Close() {
	e.pool.Close()
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

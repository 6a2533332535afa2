package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"socialwall/internal/app"
	"socialwall/internal/logging"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the realtime server",
		Long: `Run the WebSocket server, the status API and, when configured, the
metrics listener and the Redis backplane. Stops gracefully on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, migrate)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply store migrations before serving")

	return cmd
}

func runServe(cmd *cobra.Command, migrate bool) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if migrate {
		if err := app.Migrate(ctx, cfg, logger); err != nil {
			logging.LogError(logger, "migration failed", err)
			return oops.Code("MIGRATION_FAILED").Wrap(err)
		}
	}

	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logging.LogError(logger, "opening store failed", err)
		return err
	}

	application, err := app.NewApplication(cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return err
	}

	if err := application.Start(ctx); err != nil {
		logging.LogError(logger, "startup failed", err)
		_ = application.Stop(context.Background())
		return err
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		logging.LogError(logger, "shutdown error", err)
		return err
	}
	return nil
}

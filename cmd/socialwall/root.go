package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"socialwall/internal/config"
	"socialwall/internal/logging"
)

const serviceName = "socialwall"

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the socialwall CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "socialwall",
		Short: "Social Wall realtime server",
		Long: `socialwall runs the realtime presence and fan-out server behind the
LMS Social Wall: per-class rooms, typing and activity relays, and
class, teacher and user scoped broadcasts over WebSocket.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSeedCmd())

	return cmd
}

// loadConfig resolves the configuration for cmd and installs the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	logger := logging.SetDefault(serviceName, version, cfg.Log.Format, cfg.Log.Level)
	return cfg, logger, nil
}

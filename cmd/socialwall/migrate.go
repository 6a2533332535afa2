package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"socialwall/internal/app"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply store migrations",
		Long:  `Apply all pending schema migrations to the configured SQLite or PostgreSQL store.`,
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	cmd.Printf("Running %s migrations...\n", cfg.Store.Driver)
	if err := app.Migrate(cmd.Context(), cfg, logger); err != nil {
		return oops.Code("MIGRATION_FAILED").With("driver", cfg.Store.Driver).Wrap(err)
	}

	cmd.Println("Migrations completed successfully")
	return nil
}

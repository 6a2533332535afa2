package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"socialwall/internal/config"
	"socialwall/internal/database"
	"socialwall/internal/store/postgres"
	"socialwall/pkg/interfaces"
	"socialwall/pkg/types"
)

// Store is the session backend the server runs on. Both drivers implement
// it.
type Store interface {
	interfaces.Store
	CreateUser(ctx context.Context, user types.User) error
	CreateSession(ctx context.Context, token, userID string, expires time.Time) error
	EnrollStudent(ctx context.Context, studentID, classID, status string) error
	AssignTeacher(ctx context.Context, teacherID, classID, status string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

var (
	_ Store = (*database.Manager)(nil)
	_ Store = (*postgres.Store)(nil)
)

// OpenStore opens the configured store without touching its schema.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.Store.Postgres.DSN)
	case config.DriverSQLite:
		return database.NewManager(cfg.SQLiteConfig(), logger)
	default:
		return nil, oops.Code("CONFIG_INVALID").Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// Migrate brings the configured store's schema up to date.
func Migrate(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		migrator, err := postgres.NewMigrator(cfg.Store.Postgres.DSN)
		if err != nil {
			return err
		}
		defer func() {
			if err := migrator.Close(); err != nil {
				logger.Warn("closing migrator failed", "error", err)
			}
		}()
		if err := migrator.Up(); err != nil {
			return err
		}
		version, dirty, err := migrator.Version()
		if err != nil {
			return err
		}
		logger.Info("postgres migrations applied", "version", version, "dirty", dirty)
		return nil
	default:
		store, err := OpenStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		manager, ok := store.(*database.Manager)
		if !ok {
			return oops.Code("CONFIG_INVALID").Errorf("store driver %q has no migrations", cfg.Store.Driver)
		}
		if err := manager.Migrate(); err != nil {
			return err
		}
		logger.Info("sqlite migrations applied", "path", cfg.Store.SQLite.Path)
		return nil
	}
}

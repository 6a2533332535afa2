package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"socialwall/internal/app"
	"socialwall/internal/database"
	"socialwall/internal/router"
	"socialwall/pkg/types"
)

// Default timeout for seed command.
const defaultSeedTimeout = 30 * time.Second

type seedConfig struct {
	classID string
	ttl     time.Duration
	timeout time.Duration
}

// NewSeedCmd creates the seed subcommand.
func NewSeedCmd() *cobra.Command {
	cfg := &seedConfig{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a demo class with a teacher and two students",
		Long: `Creates a demo teacher and two students enrolled in one class, with
fresh session tokens, and prints the WebSocket URLs to connect with.
Users and enrollments are upserted, so the command can be rerun.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSeed(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.classID, "class", "demo", "class id to enroll the demo users in")
	cmd.Flags().DurationVar(&cfg.ttl, "ttl", 24*time.Hour, "session token lifetime")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", defaultSeedTimeout, "timeout for store operations")

	return cmd
}

var demoUsers = []types.User{
	{ID: "demo-teacher", Name: "Demo Teacher", UserType: types.UserTypeTeacher},
	{ID: "demo-student-1", Name: "Demo Student 1", UserType: types.UserTypeStudent},
	{ID: "demo-student-2", Name: "Demo Student 2", UserType: types.UserTypeStudent},
}

func runSeed(cmd *cobra.Command, seed *seedConfig) error {
	if !types.IsValidClassID(seed.classID) {
		return oops.Code("SEED_INVALID").With("class", seed.classID).Wrap(types.ErrInvalidClassID)
	}

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), seed.timeout)
	defer cancel()

	if err := app.Migrate(ctx, cfg, logger); err != nil {
		return oops.Code("MIGRATION_FAILED").Wrap(err)
	}

	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	tokens, err := seedClass(ctx, store, seed.classID, time.Now().Add(seed.ttl))
	if err != nil {
		return err
	}

	namespace := router.NamespaceFor(seed.classID)
	cmd.Printf("Seeded class %q (namespace %s)\n", seed.classID, namespace)
	for _, u := range demoUsers {
		cmd.Printf("  %-15s %-8s ws://%s/ws/%s?token=%s\n", u.ID, u.UserType, cfg.ListenAddr(), namespace, tokens[u.ID])
	}
	return nil
}

// seedClass upserts the demo users into classID and issues one session
// token per user.
func seedClass(ctx context.Context, store app.Store, classID string, expires time.Time) (map[string]string, error) {
	tokens := make(map[string]string, len(demoUsers))
	for _, u := range demoUsers {
		if err := store.CreateUser(ctx, u); err != nil {
			return nil, oops.Code("SEED_FAILED").With("user_id", u.ID).Wrap(err)
		}

		if u.IsTeacherEquivalent() {
			err := store.AssignTeacher(ctx, u.ID, classID, database.StatusActive)
			if err != nil {
				return nil, oops.Code("SEED_FAILED").With("user_id", u.ID).Wrap(err)
			}
		} else if err := store.EnrollStudent(ctx, u.ID, classID, database.StatusActive); err != nil {
			return nil, oops.Code("SEED_FAILED").With("user_id", u.ID).Wrap(err)
		}

		token := uuid.NewString()
		if err := store.CreateSession(ctx, token, u.ID, expires); err != nil {
			return nil, oops.Code("SEED_FAILED").With("user_id", u.ID).Wrap(err)
		}
		tokens[u.ID] = token
	}
	return tokens, nil
}

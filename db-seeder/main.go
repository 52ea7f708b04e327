package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hobbyme/hobbyme/logging"
)

func main() {
	logging.Setup()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := defaultConfig()
	cmd := &cobra.Command{
		Use:   "db-seeder",
		Short: "Create demo users through the HobbyMe API",
		Long: `Registers demo users one at a time against a running HobbyMe backend,
places each near Liverpool and assigns 2-4 random hobbies.

Requests hitting the rate limiter are retried with exponential backoff.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.Count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}
			if c.MaxRetries < 0 {
				return fmt.Errorf("--max-retries must not be negative")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s := newSeeder(c, nil)
			res, err := s.Run(ctx)
			if err != nil {
				slog.Error("seeding aborted", "error", err)
				return err
			}
			slog.Info("user generation completed", "created", res.Created, "failed", res.Failed)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&c.API, "api", c.API, "Base URL of the HobbyMe backend")
	f.IntVar(&c.Count, "count", c.Count, "Number of users to create")
	f.Int64Var(&c.Seed, "seed", c.Seed, "RNG seed (0 picks one from the clock)")
	f.StringVar(&c.Password, "password", c.Password, "Password assigned to all users")
	f.DurationVar(&c.OpDelay, "op-delay", c.OpDelay, "Pause between API calls for one user")
	f.DurationVar(&c.UserDelay, "user-delay", c.UserDelay, "Pause between users")
	f.DurationVar(&c.RetryDelay, "retry-delay", c.RetryDelay, "Initial backoff after a rate limited call")
	f.IntVar(&c.MaxRetries, "max-retries", c.MaxRetries, "Retries per rate limited call")
	return cmd
}

func defaultConfig() config {
	return config{
		API:        "http://localhost:8080",
		Count:      20,
		Password:   "test1234",
		OpDelay:    2 * time.Second,
		UserDelay:  10 * time.Second,
		RetryDelay: 5 * time.Second,
		MaxRetries: 3,
	}
}

package main

import (
	"fmt"

	"github.com/points-leaderboard/internal/config"
	"github.com/points-leaderboard/internal/postgres"
	"github.com/spf13/cobra"
)

// migrateCmd applies the embedded PostgreSQL migrations
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply PostgreSQL schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger := setup()
		if cfg.Store.Driver != config.DriverPostgres {
			return fmt.Errorf("migrate requires the postgres driver, configured %q", cfg.Store.Driver)
		}

		repo, err := postgres.NewRepository(cmd.Context(), &cfg.Postgres, logger)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer repo.Close()

		return repo.RunMigrations(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

package main

import (
	"fmt"

	"github.com/points-leaderboard/internal/seed"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the configured demo users if the store is empty",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger := setup()

		store, closeStore, err := openStore(cmd.Context(), cfg, true, logger)
		if err != nil {
			return err
		}
		defer closeStore()

		created, err := seed.NewSeeder(store, cfg.Seed.Users, logger).Run(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %d users\n", created)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

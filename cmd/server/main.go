package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/points-leaderboard/internal/config"
	"github.com/spf13/cobra"
)

var configPath string

// rootCmd runs the server when no subcommand is given
var rootCmd = &cobra.Command{
	Use:          "leaderboard",
	Short:        "Points leaderboard service",
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the JSON logger
func setup() (*config.Config, *slog.Logger) {
	cfg, err := config.Load(configPath)

	var level slog.Level
	if cfg != nil {
		level = cfg.Log.SlogLevel()
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}
	return cfg, logger
}

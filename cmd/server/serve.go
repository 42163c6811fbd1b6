package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/points-leaderboard/internal/config"
	"github.com/points-leaderboard/internal/handler"
	"github.com/points-leaderboard/internal/kafka"
	"github.com/points-leaderboard/internal/metrics"
	"github.com/points-leaderboard/internal/seed"
	"github.com/points-leaderboard/internal/service"
	"github.com/points-leaderboard/internal/websocket"
	"github.com/points-leaderboard/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger := setup()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, true, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("connected to store", "driver", cfg.Store.Driver)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mtr := metrics.New()
	mtr.Register(reg)

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	defer wsHub.Stop()

	leaderboardService := service.NewLeaderboardService(store, &cfg.Leaderboard, logger)
	leaderboardService.SetHub(wsHub)
	leaderboardService.SetMetrics(mtr)

	if cfg.Seed.IsEnabled() {
		if _, err := seed.NewSeeder(store, cfg.Seed.Users, logger).Run(ctx); err != nil {
			logger.Warn("failed to seed users", "error", err)
		}
	}

	if cfg.Audit.Enabled {
		auditWorker := worker.NewAuditWorker(store, &cfg.Audit, mtr, logger)
		if err := auditWorker.Start(ctx); err != nil {
			return fmt.Errorf("starting audit worker: %w", err)
		}
		defer func() {
			if err := auditWorker.Stop(); err != nil {
				logger.Error("failed to stop audit worker", "error", err)
			}
		}()
	}

	if consumer := startConsumer(ctx, &cfg.Kafka, leaderboardService, logger); consumer != nil {
		defer func() {
			if err := consumer.Stop(); err != nil {
				logger.Error("failed to stop Kafka consumer", "error", err)
			}
		}()
	}

	httpHandler := handler.NewHandler(leaderboardService, wsHub, &cfg.Server, logger)
	httpHandler.SetRateLimiter(handler.NewRateLimiter(&cfg.RateLimit, mtr))
	httpHandler.SetMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
	return nil
}

// startConsumer starts Kafka claim ingestion when enabled. Failures are
// logged and the server continues over HTTP only.
func startConsumer(ctx context.Context, cfg *config.KafkaConfig, claimer kafka.Claimer, logger *slog.Logger) *kafka.Consumer {
	if !cfg.Enabled {
		return nil
	}

	logger.Info("initializing Kafka consumer", "brokers", cfg.Brokers, "topic", cfg.Topic)
	consumer, err := kafka.NewConsumer(cfg, claimer, logger)
	if err != nil {
		logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		return nil
	}
	if err := consumer.Start(ctx); err != nil {
		logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
		return nil
	}
	logger.Info("Kafka consumer started")
	return consumer
}

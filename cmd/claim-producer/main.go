package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/points-leaderboard/internal/domain"
	"github.com/points-leaderboard/internal/kafka"
	"github.com/spf13/cobra"
)

var (
	brokers   string
	topic     string
	apiURL    string
	rate      int
	duration  time.Duration
	hotUsers  int
	hotChance int
)

var rootCmd = &cobra.Command{
	Use:          "claim-producer",
	Short:        "Publish claim requests for existing users to Kafka",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&brokers, "brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	flags.StringVar(&topic, "topic", "leaderboard-claims", "Kafka topic")
	flags.StringVar(&apiURL, "api", "http://localhost:5000", "Leaderboard API base URL used to list users")
	flags.IntVar(&rate, "rate", 50, "Claims per second")
	flags.DurationVar(&duration, "duration", 0, "Duration to run (0 = until interrupted)")
	flags.IntVar(&hotUsers, "hot", 3, "Number of users that receive most claims")
	flags.IntVar(&hotChance, "hot-chance", 70, "Percentage of claims sent to hot users")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if rate <= 0 {
		return errors.New("rate must be positive")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	users, err := fetchUsers(ctx, apiURL)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		return errors.New("no users to claim for, create some first")
	}

	producer, err := kafka.NewAsyncProducer(strings.Split(brokers, ","))
	if err != nil {
		return fmt.Errorf("creating producer: %w", err)
	}
	publisher := kafka.NewPublisher(producer, topic, logger)

	logger.Info("publishing claims",
		"brokers", brokers,
		"topic", topic,
		"users", len(users),
		"rate", rate,
	)

	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var published int64
	for {
		select {
		case <-ctx.Done():
			publisher.Close()
			sent, failed := publisher.Stats()
			logger.Info("producer stopped", "published", published, "sent", sent, "failed", failed)
			return nil

		case <-ticker.C:
			if err := publisher.Publish(ctx, pickUser(users).ID); err != nil {
				continue
			}
			published++

		case <-statsTicker.C:
			sent, failed := publisher.Stats()
			logger.Info("producer stats", "published", published, "sent", sent, "failed", failed)
		}
	}
}

// pickUser favours the first few users so the ranking keeps moving
func pickUser(users []domain.User) domain.User {
	hot := min(hotUsers, len(users))
	if hot > 0 && rand.IntN(100) < hotChance {
		return users[rand.IntN(hot)]
	}
	return users[rand.IntN(len(users))]
}

func fetchUsers(ctx context.Context, baseURL string) ([]domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/users", nil)
	if err != nil {
		return nil, fmt.Errorf("building users request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing users: unexpected status %s", resp.Status)
	}

	var users []domain.User
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, fmt.Errorf("decoding users: %w", err)
	}
	return users, nil
}

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/points-leaderboard/internal/config"
	"github.com/points-leaderboard/internal/domain"
)

// batchTimeout bounds the claims run for one batch
const batchTimeout = 10 * time.Second

// Claimer runs one claim transaction
type Claimer interface {
	Claim(ctx context.Context, userID string) (*domain.ClaimResult, error)
}

// Consumer consumes claim requests from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	claimer       Claimer
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	cancel        context.CancelFunc
	wg            sync.WaitGroup

	// ready is closed once, when the first session is set up
	ready     chan struct{}
	readyOnce sync.Once
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, claimer Claimer, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	return newConsumer(cfg, consumerGroup, claimer, logger), nil
}

func newConsumer(cfg *config.KafkaConfig, group sarama.ConsumerGroup, claimer Claimer, logger *slog.Logger) *Consumer {
	return &Consumer{
		config:        cfg,
		claimer:       claimer,
		logger:        logger,
		consumerGroup: group,
		ready:         make(chan struct{}),
	}
}

// Start begins consuming messages from Kafka. It returns once the first
// session is set up, or with an error when that takes longer than the
// configured ready timeout or ctx ends first. On error the consumer group
// is closed and the consumer must not be reused.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consume(ctx)
	}()

	timer := time.NewTimer(c.config.ReadyTimeout)
	defer timer.Stop()

	select {
	case <-c.ready:
	case <-timer.C:
		c.abort()
		return fmt.Errorf("kafka consumer not ready after %s", c.config.ReadyTimeout)
	case <-ctx.Done():
		c.abort()
		return ctx.Err()
	}
	c.logger.Info("kafka consumer ready")

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// consume joins the group until ctx ends, rejoining after every
// rebalance and backing off after errors
func (c *Consumer) consume(ctx context.Context) {
	handler := &consumerGroupHandler{consumer: c}
	for {
		err := c.consumerGroup.Consume(ctx, []string{c.config.Topic}, handler)
		if errors.Is(err, sarama.ErrClosedConsumerGroup) {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Error("error from consumer", "error", err, "retry_in", c.config.RetryBackoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.config.RetryBackoff):
			}
		}
	}
}

func (c *Consumer) markReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

// abort tears down a consumer that never became ready
func (c *Consumer) abort() {
	c.cancel()
	c.wg.Wait()
	if err := c.consumerGroup.Close(); err != nil {
		c.logger.Warn("failed to close consumer group", "error", err)
	}
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.consumer.markReady()
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim collects claim requests from a partition and runs them in
// batches
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	batch := make([]string, 0, cfg.BatchSize)
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	flush := func() {
		h.consumer.processBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case <-session.Context().Done():
			// Process remaining batch before exit
			flush()
			return nil

		case <-batchTimer.C:
			flush()
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				flush()
				return nil
			}

			userID, err := decodeClaim(message.Value)
			if err != nil {
				h.consumer.logger.Warn("skipping claim message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				session.MarkMessage(message, "")
				continue
			}

			batch = append(batch, userID)
			session.MarkMessage(message, "")

			if len(batch) >= cfg.BatchSize {
				flush()
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}

// processBatch runs every claim in the batch; failures are logged and
// never retried
func (c *Consumer) processBatch(userIDs []string) {
	if len(userIDs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	var failed int
	for _, userID := range userIDs {
		if _, err := c.claimer.Claim(ctx, userID); err != nil {
			failed++
			c.logger.Warn("queued claim failed", "user_id", userID, "error", err)
		}
	}

	c.logger.Debug("processed claim batch",
		"batch_size", len(userIDs),
		"failed", failed,
	)
}

// ClaimMessage represents the message format for Kafka
type ClaimMessage struct {
	UserID string `json:"userId"`
}

func decodeClaim(value []byte) (string, error) {
	var msg ClaimMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return "", fmt.Errorf("decoding claim message: %w", err)
	}
	if strings.TrimSpace(msg.UserID) == "" {
		return "", domain.ErrInvalidUserID
	}
	return msg.UserID, nil
}

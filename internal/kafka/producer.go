package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
)

// NewAsyncProducer creates a producer tuned for high-rate claim requests
func NewAsyncProducer(brokers []string) (sarama.AsyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Flush.Frequency = 100 * time.Millisecond
	cfg.Producer.Flush.Messages = 100
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}
	return producer, nil
}

// Publisher enqueues claim requests on a topic
type Publisher struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *slog.Logger

	sent   atomic.Int64
	failed atomic.Int64
	wg     sync.WaitGroup
}

// NewPublisher wraps producer and starts draining its result channels
func NewPublisher(producer sarama.AsyncProducer, topic string, logger *slog.Logger) *Publisher {
	p := &Publisher{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		for range producer.Successes() {
			p.sent.Add(1)
		}
	}()
	go func() {
		defer p.wg.Done()
		for err := range producer.Errors() {
			p.failed.Add(1)
			p.logger.Warn("producer error", "error", err)
		}
	}()

	return p
}

// Publish enqueues one claim request keyed by user id
func (p *Publisher) Publish(ctx context.Context, userID string) error {
	data, err := json.Marshal(ClaimMessage{UserID: userID})
	if err != nil {
		return fmt.Errorf("encoding claim message: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(userID),
		Value: sarama.ByteEncoder(data),
	}

	select {
	case p.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the acknowledged and failed message counts
func (p *Publisher) Stats() (sent, failed int64) {
	return p.sent.Load(), p.failed.Load()
}

// Close flushes pending messages and waits for their results
func (p *Publisher) Close() {
	p.producer.AsyncClose()
	p.wg.Wait()
}

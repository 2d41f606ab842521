// Package kafka ingests activity completion reports from a Kafka topic.
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
	"golang.org/x/sync/errgroup"

	"github.com/rewards-ledger/internal/config"
	"github.com/rewards-ledger/internal/domain"
	"github.com/rewards-ledger/internal/store"
)

// CompletionProcessor runs a completion report through the rewards pipeline
type CompletionProcessor interface {
	ProcessCompletion(ctx context.Context, actorID, userID string, report domain.CompletionReport) (domain.CompletionResult, error)
}

// CompletionMessage is the message format on the completions topic
type CompletionMessage struct {
	UserID string                  `json:"user_id"`
	Report domain.CompletionReport `json:"report"`
}

// DecodeMessage parses and sanity-checks one message value
func DecodeMessage(value []byte) (CompletionMessage, error) {
	var msg CompletionMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return CompletionMessage{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if strings.TrimSpace(msg.UserID) == "" {
		return CompletionMessage{}, fmt.Errorf("%w: user_id is required", domain.ErrInvalidRequest)
	}
	if err := msg.Report.Validate(); err != nil {
		return CompletionMessage{}, err
	}
	return msg, nil
}

// Consumer consumes completion messages from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	batch         *batchProcessor
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, processor CompletionProcessor, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		batch:         newBatchProcessor(processor, cfg.RetryAttempts, cfg.RetryDelay, logger),
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	<-c.ready
	c.logger.Info("Kafka consumer ready")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
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

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition. Offsets are marked
// only after the batch holding them has been processed; redelivery is safe
// because the pipeline pays each unit of progress once.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := h.consumer.config
	logger := h.consumer.logger

	batch := make([]CompletionMessage, 0, cfg.BatchSize)
	var last *sarama.ConsumerMessage
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	flush := func() {
		if len(batch) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			h.consumer.batch.process(ctx, batch)
			cancel()
			batch = batch[:0]
		}
		if last != nil {
			session.MarkMessage(last, "")
			last = nil
		}
	}

	for {
		select {
		case <-session.Context().Done():
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
			last = message

			msg, err := DecodeMessage(message.Value)
			if err != nil {
				logger.Warn("skipping malformed completion message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				continue
			}

			batch = append(batch, msg)
			if len(batch) >= cfg.BatchSize {
				flush()
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}

// batchProcessor runs a batch through the pipeline. Users are processed in
// parallel; one user's messages keep their partition order.
type batchProcessor struct {
	processor CompletionProcessor
	retry     store.RetryPolicy
	logger    *slog.Logger
}

func newBatchProcessor(p CompletionProcessor, attempts int, delay time.Duration, logger *slog.Logger) *batchProcessor {
	return &batchProcessor{
		processor: p,
		retry: store.RetryPolicy{
			Attempts:  attempts,
			Delay:     delay,
			Retryable: retryableMessageError,
		},
		logger: logger,
	}
}

// retryableMessageError leaves out errors a redelivery would hit again
func retryableMessageError(err error) bool {
	return !domain.IsValidationError(err) &&
		!domain.IsNotFoundError(err) &&
		!errors.Is(err, domain.ErrInsufficientFunds) &&
		!errors.Is(err, domain.ErrUnauthorizedActor)
}

func (b *batchProcessor) process(ctx context.Context, batch []CompletionMessage) {
	byUser := make(map[string][]CompletionMessage)
	var order []string
	for _, msg := range batch {
		if _, ok := byUser[msg.UserID]; !ok {
			order = append(order, msg.UserID)
		}
		byUser[msg.UserID] = append(byUser[msg.UserID], msg)
	}

	var g errgroup.Group
	g.SetLimit(16)
	for _, userID := range order {
		msgs := byUser[userID]
		g.Go(func() error {
			for _, msg := range msgs {
				b.processOne(ctx, msg)
			}
			return nil
		})
	}
	_ = g.Wait()

	b.logger.Debug("processed completion batch", "batch_size", len(batch), "users", len(order))
}

func (b *batchProcessor) processOne(ctx context.Context, msg CompletionMessage) {
	err := store.Retry(ctx, b.retry, func(ctx context.Context) error {
		_, err := b.processor.ProcessCompletion(ctx, msg.UserID, msg.UserID, msg.Report)
		return err
	})
	if err != nil {
		b.logger.Error("failed to process completion message",
			"user_id", msg.UserID,
			"activity_id", msg.Report.ActivityID,
			"error", err,
		)
	}
}

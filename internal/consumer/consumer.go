// Package consumer feeds payment outcomes from Kafka into the finalizer.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/domain"
	"github.com/fjod/go_cart/reservation-service/internal/finalizer"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Handler interface {
	HandleOutcome(ctx context.Context, outcome domain.PaymentOutcome) (finalizer.Result, error)
}

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

const maxRetryDelay = 30 * time.Second

// Consumer commits an offset only after the outcome was handled, or was found
// to be unprocessable. Retryable failures block the partition until they pass.
type Consumer struct {
	handler    Handler
	reader     *kafka.Reader
	log        *zap.Logger
	retryDelay time.Duration
}

func NewConsumer(handler Handler, cfg Config, log *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{
		handler:    handler,
		reader:     reader,
		log:        log,
		retryDelay: 500 * time.Millisecond,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	c.log.Info("payment outcome consumer started",
		zap.String("topic", c.reader.Config().Topic),
		zap.String("group_id", c.reader.Config().GroupID))
	for {
		if ctx.Err() != nil {
			return
		}
		c.processMessage(ctx)
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Error("error closing kafka reader", zap.Error(err))
	}
}

func (c *Consumer) processMessage(ctx context.Context) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		c.log.Error("error fetching message", zap.Error(err))
		return
	}

	if err := c.handleWithRetry(ctx, m); err != nil {
		return
	}
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		c.log.Error("error committing offset",
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Error(err))
	}
}

// handleWithRetry returns nil once the message may be committed, or ctx.Err().
func (c *Consumer) handleWithRetry(ctx context.Context, m kafka.Message) error {
	delay := c.retryDelay
	for {
		if !c.handle(ctx, m) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxRetryDelay)
	}
}

// handle reports whether the message should be retried.
func (c *Consumer) handle(ctx context.Context, m kafka.Message) bool {
	fields := []zap.Field{zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset)}

	var outcome domain.PaymentOutcome
	if err := json.Unmarshal(m.Value, &outcome); err != nil {
		c.log.Error("error parsing payment outcome, skipping", append(fields, zap.Error(err))...)
		return false
	}
	fields = append(fields,
		zap.String("transaction_id", outcome.TransactionID),
		zap.String("status", outcome.Status))

	res, err := c.handler.HandleOutcome(ctx, outcome)
	switch {
	case err == nil:
		c.log.Info("payment outcome handled", append(fields,
			zap.Bool("duplicate", res.Duplicate),
			zap.String("order_id", res.OrderID))...)
		return false
	case errors.Is(err, domain.ErrInvalidInput):
		c.log.Warn("invalid payment outcome, skipping", append(fields, zap.Error(err))...)
		return false
	case errors.Is(err, domain.ErrReconciliation):
		// Already logged by the finalizer; an operator has to step in.
		return false
	case ctx.Err() != nil:
		return true
	default:
		c.log.Warn("payment outcome failed, will retry", append(fields, zap.Error(err))...)
		return true
	}
}

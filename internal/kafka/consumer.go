package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ms-coupons/internal/coupon"
	"ms-coupons/internal/logger"
	"ms-coupons/internal/models"

	"github.com/segmentio/kafka-go"
)

const (
	defaultHandlerAttempts = 3
	defaultMaxBackoff      = 30 * time.Second
)

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RedemptionHandler persists one redemption event. An error wrapping
// coupon.ErrTransientStore is retried until it clears; any other error is retried
// Attempts times before the message is given up on.
type RedemptionHandler func(ctx context.Context, event models.CouponRedeemedEvent) error

type Consumer struct {
	Reader     MessageReader
	Logger     *logger.Logger
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
	topic      string
}

// NewConsumer creates a new Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,    // deliver single events promptly
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{
		Reader:   reader,
		Logger:   log,
		Attempts:   defaultHandlerAttempts,
		Backoff:    500 * time.Millisecond,
		MaxBackoff: defaultMaxBackoff,
		topic:      topic,
	}
}

// Run consumes redemption events until ctx is cancelled. Offsets are committed
// after the handler succeeds, or after a message is given up on. A message whose
// handler is still failing on a store outage when ctx ends is left uncommitted.
func (c *Consumer) Run(ctx context.Context, handler RedemptionHandler) error {
	c.Logger.LogKafka("START", c.topic, "redemption consumer started")

	for {
		msg, err := c.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.Logger.LogKafka("STOP", c.topic, "redemption consumer stopped")
				return nil
			}
			c.Logger.Error("KAFKA", fmt.Sprintf("Error reading message: %v", err))
			if !sleepCtx(ctx, c.Backoff) {
				return nil
			}
			continue
		}

		if !c.handle(ctx, msg, handler) {
			c.Logger.LogKafka("STOP", c.topic, fmt.Sprintf("stopped with offset %d uncommitted", msg.Offset))
			return nil
		}

		if err := c.Reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.Logger.Error("KAFKA", fmt.Sprintf("Failed to commit offset %d: %v", msg.Offset, err))
		}
	}
}

// handle reports whether the message is settled and its offset may be committed.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message, handler RedemptionHandler) bool {
	var event models.CouponRedeemedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.Logger.Warn("KAFKA", fmt.Sprintf("Skipping undecodable message at offset %d: %v", msg.Offset, err))
		return true
	}
	if event.InstanceCode == "" {
		c.Logger.Warn("KAFKA", fmt.Sprintf("Skipping redemption without instance_code at offset %d", msg.Offset))
		return true
	}

	attempts := c.Attempts
	if attempts < 1 {
		attempts = 1
	}
	failures := 0
	for attempt := 1; ; attempt++ {
		err := handler(ctx, event)
		if err == nil {
			return true
		}

		if errors.Is(err, coupon.ErrTransientStore) {
			c.Logger.Warn("KAFKA", fmt.Sprintf("Redemption of %s hit a store outage (attempt %d), retrying: %v", event.InstanceCode, attempt, err))
		} else {
			failures++
			c.Logger.Warn("KAFKA", fmt.Sprintf("Redemption of %s failed (%d/%d): %v", event.InstanceCode, failures, attempts, err))
			if failures >= attempts {
				c.Logger.Error("KAFKA", fmt.Sprintf("Giving up on redemption of %s", event.InstanceCode))
				return true
			}
		}

		if !sleepCtx(ctx, c.backoff(attempt)) {
			return false
		}
	}
}

// backoff grows linearly with the attempt number up to MaxBackoff.
func (c *Consumer) backoff(attempt int) time.Duration {
	d := time.Duration(attempt) * c.Backoff
	limit := c.MaxBackoff
	if limit <= 0 {
		limit = defaultMaxBackoff
	}
	if d > limit {
		return limit
	}
	return d
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.Reader.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

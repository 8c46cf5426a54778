package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-coupons/internal/logger"
	"ms-coupons/internal/models"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	Writer       MessageWriter
	ClaimedTopic string
	Logger       *logger.Logger
}

func NewProducer(brokers []string, claimedTopic string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Producer{Writer: writer, ClaimedTopic: claimedTopic, Logger: log}
}

// Publish writes one message keyed by key to topic.
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	return p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
}

// PublishCouponClaimed streams the claim event keyed by definition so a campaign's events stay ordered
func (p *Producer) PublishCouponClaimed(ctx context.Context, event models.CouponClaimedEvent) error {
	msgBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}

	p.Logger.LogKafka("PUBLISH", p.ClaimedTopic, fmt.Sprintf("coupon %s claimed by %s", event.Code, event.UserID))

	return p.Publish(ctx, p.ClaimedTopic, event.DefinitionID, msgBytes)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}

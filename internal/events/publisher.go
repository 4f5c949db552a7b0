// Package events publishes settlement notifications for downstream consumers
// (payout scheduling, seller notifications).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/inaiurai/marketplace/internal/money"
)

const EventOrderSettled = "order.settled"

// Publisher delivers an already-encoded event. partitionKey keeps one vendor's
// events ordered.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
	Close() error
}

// OrderSettled is the payload of EventOrderSettled. Amounts are minor units.
type OrderSettled struct {
	OrderID         uuid.UUID    `json:"order_id"`
	VendorID        uuid.UUID    `json:"vendor_id"`
	EscrowAccountID uuid.UUID    `json:"escrow_account_id"`
	Gross           money.Amount `json:"gross"`
	PlatformFee     money.Amount `json:"platform_fee"`
	SellerEarnings  money.Amount `json:"seller_earnings"`
	BalanceAfter    money.Amount `json:"balance_after"`
	Currency        string       `json:"currency"`
	SettledAt       time.Time    `json:"settled_at"`
}

// PublishOrderSettled encodes e and publishes it keyed by vendor.
func PublishOrderSettled(ctx context.Context, p Publisher, e OrderSettled) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s: %w", EventOrderSettled, err)
	}
	return p.Publish(ctx, EventOrderSettled, payload, e.VendorID.String())
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer       messageWriter
	topicByEvent map[string]string
}

func NewKafkaPublisher(brokers []string, topicByEvent map[string]string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			RequiredAcks:           kafka.RequireAll,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		topicByEvent: topicByEvent,
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	topic := eventType
	if mapped, ok := p.topicByEvent[eventType]; ok && mapped != "" {
		topic = mapped
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(partitionKey),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NewPublisher returns a Kafka publisher routing EventOrderSettled to
// settledTopic, or Noop when brokers is empty.
func NewPublisher(brokers []string, settledTopic string) (Publisher, error) {
	if len(brokers) == 0 {
		return Noop{}, nil
	}
	return NewKafkaPublisher(brokers, map[string]string{EventOrderSettled: settledTopic})
}

// Noop is used when no brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, []byte, string) error { return nil }
func (Noop) Close() error                                          { return nil }

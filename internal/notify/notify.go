package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Notification tells downstream consumers that an order was fulfilled.
type Notification struct {
	ID      string    `json:"id"`
	OrderID string    `json:"orderId"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sentAt"`
}

type Publisher interface {
	Publish(ctx context.Context, n Notification) error
	Close() error
}

// New returns a Kafka publisher, or a Log publisher when no brokers are configured.
func New(brokers []string, topic string, logger zerolog.Logger) Publisher {
	if len(brokers) == 0 {
		return NewLog(logger)
	}
	return NewKafka(NewWriter(brokers, topic))
}

// NewWriter returns a writer safe for concurrent use by all activity workers.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireOne,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
	}
}

type Kafka struct {
	writer *kafka.Writer
}

func NewKafka(writer *kafka.Writer) *Kafka {
	return &Kafka{writer: writer}
}

func (k *Kafka) Publish(ctx context.Context, n Notification) error {
	msg, err := toMessage(n)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish notification for order %s: %w", n.OrderID, err)
	}
	return nil
}

func (k *Kafka) Close() error { return k.writer.Close() }

// toMessage keys by order so every message for one order lands on one partition.
func toMessage(n Notification) (kafka.Message, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal notification: %w", err)
	}
	return kafka.Message{
		Key:   []byte(n.OrderID),
		Value: b,
		Headers: []kafka.Header{
			{Key: "notification-id", Value: []byte(n.ID)},
		},
	}, nil
}

// Log writes notifications to the process log.
type Log struct {
	logger zerolog.Logger
}

func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Publish(_ context.Context, n Notification) error {
	l.logger.Info().
		Str("notification_id", n.ID).
		Str("order_id", n.OrderID).
		Time("sent_at", n.SentAt).
		Msg(n.Message)
	return nil
}

func (l *Log) Close() error { return nil }

// Package notify publishes notification events to Kafka for downstream push
// services. Publishing is fire and forget: a broker outage degrades
// notifications, never chat delivery.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Notification is the record published per recipient.
type Notification struct {
	Recipient string `json:"recipient"`
	ChatID    string `json:"chatId"`
	From      string `json:"from"`
	Kind      string `json:"kind"` // mirrors the fanout event kinds
	Timestamp int64  `json:"timestamp"`
}

// Publisher writes notifications to the configured topic.
type Publisher struct {
	writer *kafka.Writer
	log    zerolog.Logger
}

// NewPublisher builds a publisher, or a disabled one when no brokers are
// configured.
func NewPublisher(brokers []string, topic string, log zerolog.Logger) *Publisher {
	if len(brokers) == 0 {
		return &Publisher{log: log}
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		},
		log: log,
	}
}

// Publish enqueues one notification per recipient, keyed by recipient so a
// DID's notifications stay ordered within a partition.
func (p *Publisher) Publish(ctx context.Context, kind, chatID, from string, recipients []string) {
	if p.writer == nil || len(recipients) == 0 {
		return
	}
	now := time.Now().UnixMilli()
	msgs := make([]kafka.Message, 0, len(recipients))
	for _, r := range recipients {
		value, err := json.Marshal(Notification{
			Recipient: r,
			ChatID:    chatID,
			From:      from,
			Kind:      kind,
			Timestamp: now,
		})
		if err != nil {
			continue
		}
		msgs = append(msgs, kafka.Message{Key: []byte(r), Value: value})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.log.Warn().Err(err).Str("kind", kind).Msg("notification publish failed")
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

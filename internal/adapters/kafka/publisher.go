package kafka

import (
	"context"

	"github.com/robertarktes/booking-holds/internal/outbox"
	"github.com/segmentio/kafka-go"
)

// Publisher writes outbox messages to one topic keyed by request id, so all
// events of a request land on the same partition in order.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}}
}

func (p *Publisher) Name() string {
	return "kafka"
}

func (p *Publisher) Publish(ctx context.Context, msg outbox.Message) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.RequestID),
		Value: msg.Body,
		Time:  msg.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(msg.Key)},
			{Key: "message_id", Value: []byte(msg.ID)},
		},
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

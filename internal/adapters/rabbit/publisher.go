package rabbit

import (
	"context"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/booking-holds/internal/outbox"
)

// Publisher publishes outbox messages to a topic exchange, routed by event
// type, and waits for the broker to confirm each one.
type Publisher struct {
	ch       *amqp.Channel
	exchange string
}

func NewPublisher(conn *amqp.Connection, exchange string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		return nil, errors.Wrap(err, "enable publisher confirms")
	}
	return &Publisher{ch: ch, exchange: exchange}, nil
}

func (p *Publisher) Name() string {
	return "rabbit"
}

func (p *Publisher) Publish(ctx context.Context, msg outbox.Message) error {
	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, msg.Key, false, false, amqp.Publishing{
		MessageId:    msg.ID,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    msg.CreatedAt,
		Type:         msg.Key,
		Headers:      amqp.Table{"request_id": msg.RequestID},
		Body:         msg.Body,
	})
	if err != nil {
		return err
	}
	ok, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Newf("broker nacked message %s", msg.ID)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}

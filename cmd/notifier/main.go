package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	kafkaadapter "github.com/robertarktes/booking-holds/internal/adapters/kafka"
	"github.com/robertarktes/booking-holds/internal/adapters/rabbit"
	"github.com/robertarktes/booking-holds/internal/config"
	"github.com/robertarktes/booking-holds/internal/domain"
	"github.com/robertarktes/booking-holds/internal/observability"
)

// Routing keys that concern the parties of a request.
var notifyKeys = []string{"hold.*", "holds.cleared", "request.cancelled", "request.declined", "bid.rejected"}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := observability.NewLoggerWithLevel(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	n := &Notifier{logger: logger}
	switch cfg.Events.Broker {
	case "kafka":
		consumer := kafkaadapter.NewConsumer(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic, "holds-notifier")
		defer consumer.Close()
		n.runKafka(ctx, consumer)
	default:
		conn, err := amqp.Dial(cfg.Events.RabbitURL)
		if err != nil {
			log.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		defer conn.Close()
		consumer, err := rabbit.NewConsumer(conn, cfg.Events.Exchange, "holds.notifications", notifyKeys)
		if err != nil {
			log.Fatalf("failed to create consumer: %v", err)
		}
		defer consumer.Close()
		if err := n.runRabbit(ctx, consumer); err != nil {
			logger.WithField("error", err.Error()).Error("notifier stopped")
		}
	}
	logger.Info("Shutdown notifier")
}

// Notifier turns lifecycle events into party notifications. Delivery
// is logged; no channel sends mail or push messages yet.
type Notifier struct {
	logger observability.Logger
}

func (n *Notifier) handle(body []byte) error {
	var e domain.Event
	if err := json.Unmarshal(body, &e); err != nil {
		return err
	}
	entry := n.logger.WithField("event", e.Type).
		WithField("request_id", e.RequestID).
		WithField("actor_id", e.ActorID)
	if e.BidID != nil {
		entry = entry.WithField("bid_id", *e.BidID)
	}
	if e.HoldID != nil {
		entry = entry.WithField("hold_id", *e.HoldID)
	}
	entry.Info("notify parties")
	return nil
}

func (n *Notifier) runRabbit(ctx context.Context, consumer *rabbit.Consumer) error {
	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			if err := n.handle(d.Body); err != nil {
				n.logger.WithField("message_id", d.MessageId).WithField("error", err.Error()).Warn("dropping undecodable event")
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (n *Notifier) runKafka(ctx context.Context, consumer *kafkaadapter.Consumer) {
	for {
		msg, err := consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() == nil {
				n.logger.WithField("error", err.Error()).Error("kafka fetch failed")
			}
			return
		}
		if err := n.handle(msg.Value); err != nil {
			n.logger.WithField("offset", msg.Offset).WithField("error", err.Error()).Warn("dropping undecodable event")
		}
		if err := consumer.Commit(ctx, msg); err != nil {
			n.logger.WithField("error", err.Error()).Warn("kafka commit failed")
		}
	}
}

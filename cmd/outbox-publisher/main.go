package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/booking-holds/internal/adapters/crdb"
	kafkaadapter "github.com/robertarktes/booking-holds/internal/adapters/kafka"
	"github.com/robertarktes/booking-holds/internal/adapters/rabbit"
	"github.com/robertarktes/booking-holds/internal/config"
	"github.com/robertarktes/booking-holds/internal/observability"
	"github.com/robertarktes/booking-holds/internal/outbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "outbox-publisher")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLoggerWithLevel(cfg.LogLevel)

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	var broker outbox.Broker
	switch cfg.Events.Broker {
	case "kafka":
		pub := kafkaadapter.NewPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		defer pub.Close()
		broker = pub
	default:
		conn, err := amqp.Dial(cfg.Events.RabbitURL)
		if err != nil {
			log.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		defer conn.Close()
		pub, err := rabbit.NewPublisher(conn, cfg.Events.Exchange)
		if err != nil {
			log.Fatalf("failed to create publisher: %v", err)
		}
		defer pub.Close()
		broker = pub
	}

	publisher := outbox.NewPublisher(repo, broker, logger, cfg.Events.BatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go publisher.Run(ctx, cfg.Events.Interval)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown outbox publisher")
}

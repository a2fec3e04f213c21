package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/booking-holds/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/booking-holds/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/booking-holds/internal/adapters/redis"
	"github.com/robertarktes/booking-holds/internal/clock"
	"github.com/robertarktes/booking-holds/internal/config"
	"github.com/robertarktes/booking-holds/internal/expiry"
	"github.com/robertarktes/booking-holds/internal/holds"
	"github.com/robertarktes/booking-holds/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "expiry-worker")
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
	repo := crdb.NewRepository(pool, crdb.WithIsolation(cfg.Hold.Isolation))

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := redisadapter.NewCache(redisClient)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())

	mgr := holds.NewManager(repo, clock.NewSystem(),
		holds.WithLogger(logger),
		holds.WithAttempts(cfg.Hold.MaxAttempts),
		holds.WithNotifier(holds.Notifiers{
			redisadapter.NewSnapshots(redisClient, cfg.CacheTTL, logger),
			mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDB), logger),
		}),
	)

	worker := expiry.NewWorker(mgr, logger,
		expiry.WithLease(redisCache, cfg.Expiry.Interval),
		expiry.WithBatchSize(cfg.Expiry.BatchSize),
		expiry.WithConcurrency(cfg.Expiry.Concurrency),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.Run(ctx, cfg.Expiry.Interval)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown expiry worker")
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/booking-holds/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/booking-holds/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/booking-holds/internal/adapters/redis"
	"github.com/robertarktes/booking-holds/internal/bids"
	"github.com/robertarktes/booking-holds/internal/clock"
	"github.com/robertarktes/booking-holds/internal/config"
	"github.com/robertarktes/booking-holds/internal/holds"
	httphandler "github.com/robertarktes/booking-holds/internal/http"
	"github.com/robertarktes/booking-holds/internal/idempotency"
	"github.com/robertarktes/booking-holds/internal/observability"
	"github.com/robertarktes/booking-holds/internal/rateLimit"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg, "holds-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLoggerWithLevel(cfg.LogLevel)

	auth, err := httphandler.NewAuthenticator(cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("failed to parse JWT_PUBLIC_KEY: %v", err)
	}

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	crdbRepo := crdb.NewRepository(pool, crdb.WithIsolation(cfg.Hold.Isolation))

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database(cfg.MongoDB)
	mongoCatalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)
	if err := audit.EnsureIndexes(context.Background()); err != nil {
		logger.WithField("error", err.Error()).Warn("failed to ensure audit indexes")
	}

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := redisadapter.NewCache(redisClient)
	redisIdemp := redisadapter.NewIdempotency(redisClient)
	snapshots := redisadapter.NewSnapshots(redisClient, cfg.CacheTTL, logger)
	idemp := idempotency.NewIdempotency(redisIdemp, 24*time.Hour, idempotency.WithScope(func(r *http.Request) string {
		actor, _ := httphandler.ActorFrom(r.Context())
		return actor.ID.String()
	}))
	rl := rateLimit.NewRateLimiter(redisCache)

	mgr := holds.NewManager(crdbRepo, clock.NewSystem(),
		holds.WithLogger(logger),
		holds.WithAttempts(cfg.Hold.MaxAttempts),
		holds.WithNotifier(holds.Notifiers{snapshots, audit}),
	)
	ctrl := bids.NewController(mgr,
		bids.WithVenueDirectory(mongoCatalog),
		bids.WithLogger(logger),
		bids.WithDefaultTTL(cfg.Hold.DefaultTTL),
	)

	handlers := httphandler.NewHandlers(ctrl, logger,
		httphandler.WithSnapshotCache(snapshots),
		httphandler.WithReadinessCheck(pool.Ping),
		httphandler.WithReadinessCheck(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
		httphandler.WithReadinessCheck(func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) }),
	)

	r := httphandler.SetupRouter(handlers, logger, httphandler.RouterConfig{
		Auth:        auth,
		Limiter:     rl,
		RateLimit:   cfg.RateLimit,
		Idempotency: idemp,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()
	logger.WithField("addr", cfg.HTTPAddr).Info("API listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}

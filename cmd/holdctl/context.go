package main

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/booking-holds/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/booking-holds/internal/adapters/mongo"
	redisadapter "github.com/robertarktes/booking-holds/internal/adapters/redis"
	"github.com/robertarktes/booking-holds/internal/clock"
	"github.com/robertarktes/booking-holds/internal/config"
	"github.com/robertarktes/booking-holds/internal/domain"
	"github.com/robertarktes/booking-holds/internal/holds"
	"github.com/robertarktes/booking-holds/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// commandContext opens backing stores on first use. Tests preset mgr.
type commandContext struct {
	cfg     *config.Config
	pool    *pgxpool.Pool
	mgr     *holds.Manager
	audit   *mongoadapter.AuditLogger
	logger  observability.Logger
	closers []func()
}

func newCommandContext() *commandContext {
	return &commandContext{logger: observability.NewNopLogger()}
}

// operator is the identity admin commands run under.
var operator = domain.Actor{ID: domain.SystemActor.ID, Role: domain.RoleAdmin}

func (c *commandContext) config() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	c.logger = observability.NewLoggerWithLevel(cfg.LogLevel)
	return cfg, nil
}

func (c *commandContext) dbPool(ctx context.Context) (*pgxpool.Pool, error) {
	if c.pool != nil {
		return c.pool, nil
	}
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		return nil, errors.Wrap(err, "connect to crdb")
	}
	c.pool = pool
	c.closers = append(c.closers, pool.Close)
	return pool, nil
}

// manager wires the hold manager with the same notifiers the API uses, so
// admin commands invalidate cached snapshots and reach the audit log.
func (c *commandContext) manager(ctx context.Context) (*holds.Manager, error) {
	if c.mgr != nil {
		return c.mgr, nil
	}
	pool, err := c.dbPool(ctx)
	if err != nil {
		return nil, err
	}
	cfg := c.cfg

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	c.closers = append(c.closers, func() { _ = redisClient.Close() })
	notifiers := holds.Notifiers{redisadapter.NewSnapshots(redisClient, cfg.CacheTTL, c.logger)}

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		c.logger.WithField("error", err.Error()).Warn("audit log unavailable")
	} else {
		c.closers = append(c.closers, func() { _ = mongoClient.Disconnect(context.Background()) })
		c.audit = mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDB), c.logger)
		notifiers = append(notifiers, c.audit)
	}

	repo := crdb.NewRepository(pool, crdb.WithIsolation(cfg.Hold.Isolation))
	c.mgr = holds.NewManager(repo, clock.NewSystem(),
		holds.WithLogger(c.logger),
		holds.WithNotifier(notifiers),
		holds.WithAttempts(cfg.Hold.MaxAttempts),
	)
	return c.mgr, nil
}

func (c *commandContext) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

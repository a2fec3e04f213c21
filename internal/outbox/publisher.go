package outbox

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/booking-holds/internal/adapters/crdb"
	"github.com/robertarktes/booking-holds/internal/observability"
)

// Message is one outbox record on its way to a broker.
type Message struct {
	ID        string
	Key       string
	RequestID string
	Body      []byte
	CreatedAt time.Time
}

// Broker delivers messages. Publish returns once the broker has accepted the
// message.
type Broker interface {
	Name() string
	Publish(ctx context.Context, msg Message) error
}

// Store is the outbox half of the crdb repository.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetUnpublishedOutbox(ctx context.Context, limit int) ([]crdb.OutboxRecord, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
	MarkAttempt(ctx context.Context, id uuid.UUID, maxAttempts int) error
}

const defaultMaxAttempts = 10

type Publisher struct {
	store       Store
	broker      Broker
	logger      observability.Logger
	batchSize   int
	maxAttempts int
	now         func() time.Time
}

func NewPublisher(store Store, broker Broker, logger observability.Logger, batchSize int) *Publisher {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Publisher{
		store:       store,
		broker:      broker,
		logger:      logger,
		batchSize:   batchSize,
		maxAttempts: defaultMaxAttempts,
		now:         time.Now,
	}
}

func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.WithField("broker", p.broker.Name()).Info("outbox publisher started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.RelayOnce(ctx)
			if err != nil {
				p.logger.WithField("error", err.Error()).Error("outbox relay failed")
				continue
			}
			if n > 0 {
				p.logger.WithField("published", n).Debug("outbox batch relayed")
			}
		}
	}
}

// RelayOnce claims one batch, publishes it in order and marks what the
// broker accepted. A failed message is counted and the batch stops there so
// per-request ordering is kept.
func (p *Publisher) RelayOnce(ctx context.Context) (int, error) {
	published := 0
	err := p.store.WithTx(ctx, func(ctx context.Context) error {
		records, err := p.store.GetUnpublishedOutbox(ctx, p.batchSize)
		if err != nil {
			return errors.Wrap(err, "claim outbox")
		}
		var oldest time.Time
		for _, rec := range records {
			if oldest.IsZero() || rec.CreatedAt.Before(oldest) {
				oldest = rec.CreatedAt
			}
			msg := Message{
				ID:        rec.DedupeKey,
				Key:       rec.EventType,
				RequestID: rec.AggregateID.String(),
				Body:      rec.Payload,
				CreatedAt: rec.CreatedAt,
			}
			if err := p.broker.Publish(ctx, msg); err != nil {
				observability.OutboxPublished.WithLabelValues(p.broker.Name(), "error").Inc()
				observability.PublishRetries.Inc()
				p.logger.WithField("outbox_id", rec.ID).WithField("error", err.Error()).Warn("publish failed")
				return p.store.MarkAttempt(ctx, rec.ID, p.maxAttempts)
			}
			if err := p.store.MarkPublished(ctx, rec.ID, p.now()); err != nil {
				return err
			}
			observability.OutboxPublished.WithLabelValues(p.broker.Name(), "ok").Inc()
			published++
		}
		if !oldest.IsZero() {
			observability.OutboxLag.Set(p.now().Sub(oldest).Seconds())
		} else {
			observability.OutboxLag.Set(0)
		}
		return nil
	})
	return published, err
}

package expiry

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/booking-holds/internal/domain"
	"github.com/robertarktes/booking-holds/internal/observability"
	"golang.org/x/sync/errgroup"
)

const leaseName = "expiry-sweep"

// Holds is the part of the hold manager the sweep drives.
type Holds interface {
	DueHolds(ctx context.Context, limit int) ([]domain.HoldLedgerEntry, error)
	Expire(ctx context.Context, actor domain.Actor, holdID uuid.UUID) (domain.Summary, error)
}

// Lease keeps concurrent workers from sweeping the same batch.
type Lease interface {
	AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, owner string) error
}

type Worker struct {
	holds       Holds
	lease       Lease
	leaseTTL    time.Duration
	owner       string
	logger      observability.Logger
	batchSize   int
	concurrency int
	maxRetries  int
	backoff     time.Duration
}

type Option func(*Worker)

func WithLease(l Lease, ttl time.Duration) Option {
	return func(w *Worker) {
		w.lease = l
		w.leaseTTL = ttl
	}
}

func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithBackoff sets the first retry delay; each further retry doubles it.
func WithBackoff(d time.Duration) Option {
	return func(w *Worker) { w.backoff = d }
}

func NewWorker(holds Holds, logger observability.Logger, opts ...Option) *Worker {
	w := &Worker{
		holds:       holds,
		owner:       uuid.NewString(),
		logger:      logger,
		batchSize:   100,
		concurrency: 4,
		maxRetries:  3,
		backoff:     time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.WithField("interval", interval.String()).Info("expiry worker started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sum, err := w.SweepOnce(ctx)
			if err != nil {
				w.logger.WithField("error", err.Error()).Error("expiry sweep failed")
				continue
			}
			if sum.HoldsClosed > 0 {
				w.logger.WithField("holds_closed", sum.HoldsClosed).
					WithField("bids_reset", sum.BidsReset).
					Info("expired due holds")
			}
		}
	}
}

// SweepOnce expires up to one batch of due holds. A hold that still fails
// after its retries is logged and left for the next sweep; lazy expiry
// covers it in the meantime.
func (w *Worker) SweepOnce(ctx context.Context) (domain.Summary, error) {
	if w.lease != nil {
		ok, err := w.lease.AcquireLease(ctx, leaseName, w.owner, w.leaseTTL)
		if err != nil {
			observability.SweepRuns.WithLabelValues("error").Inc()
			return domain.Summary{}, errors.Wrap(err, "acquire sweep lease")
		}
		if !ok {
			observability.SweepRuns.WithLabelValues("skipped").Inc()
			return domain.Summary{}, nil
		}
		defer func() {
			if err := w.lease.ReleaseLease(context.WithoutCancel(ctx), leaseName, w.owner); err != nil {
				w.logger.WithField("error", err.Error()).Warn("failed to release sweep lease")
			}
		}()
	}

	due, err := w.holds.DueHolds(ctx, w.batchSize)
	if err != nil {
		observability.SweepRuns.WithLabelValues("error").Inc()
		return domain.Summary{}, errors.Wrap(err, "list due holds")
	}

	var (
		mu     sync.Mutex
		total  domain.Summary
		failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, hold := range due {
		g.Go(func() error {
			sum, err := w.expireWithRetry(gctx, hold.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				w.logger.WithField("hold_id", hold.ID).WithField("error", err.Error()).Error("failed to expire hold after retries")
				return nil
			}
			total = total.Add(sum)
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case failed > 0:
		observability.SweepRuns.WithLabelValues("partial").Inc()
	default:
		observability.SweepRuns.WithLabelValues("ok").Inc()
	}
	if err := ctx.Err(); err != nil {
		return total, err
	}
	return total, nil
}

func (w *Worker) expireWithRetry(ctx context.Context, holdID uuid.UUID) (domain.Summary, error) {
	var err error
	for i := 0; i < w.maxRetries; i++ {
		var sum domain.Summary
		sum, err = w.holds.Expire(ctx, domain.SystemActor, holdID)
		if err == nil {
			return sum, nil
		}
		if !retryable(err) {
			return domain.Summary{}, err
		}
		backoff := w.backoff * time.Duration(1<<i)
		select {
		case <-ctx.Done():
			return domain.Summary{}, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return domain.Summary{}, errors.Wrapf(err, "failed after %d retries", w.maxRetries)
}

// retryable leaves out domain rejections, which a retry cannot change.
func retryable(err error) bool {
	kind := domain.Kind(err)
	return kind == "concurrent_modification" || kind == "internal_error"
}

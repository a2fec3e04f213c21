package holds

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/booking-holds/internal/clock"
	"github.com/robertarktes/booking-holds/internal/domain"
	"github.com/robertarktes/booking-holds/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultAttempts = 3

// Manager orchestrates every transaction that touches bid hold state or
// the hold ledger. Each command runs as one transaction under the request
// lock; a command that fails leaves all rows unchanged.
type Manager struct {
	store    Store
	clock    clock.Clock
	notifier Notifier
	logger   observability.Logger
	tracer   trace.Tracer
	attempts int
}

type Option func(*Manager)

func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

func WithLogger(l observability.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithAttempts bounds how many times a command is re-run after a
// serialization failure.
func WithAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.attempts = n
		}
	}
}

func NewManager(store Store, clk clock.Clock, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		clock:    clk,
		notifier: Notifiers(nil),
		logger:   observability.NewLogger(),
		tracer:   otel.Tracer("holds"),
		attempts: defaultAttempts,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// command describes one run of execute. When lazy is set, a due hold on the
// request is expired in its own transaction before the command runs.
type command struct {
	op        string
	requestID uuid.UUID
	actor     domain.Actor
	lazy      bool
	fn        func(ctx context.Context, u *unit) error
}

func (m *Manager) execute(ctx context.Context, cmd command) (*unit, error) {
	ctx, span := m.tracer.Start(ctx, "holds."+cmd.op, trace.WithAttributes(
		attribute.String("request.id", cmd.requestID.String()),
		attribute.String("actor.role", string(cmd.actor.Role)),
	))
	defer span.End()

	var u *unit
	err := m.retry(ctx, cmd.op, cmd.requestID.String(), func(ctx context.Context) error {
		var err error
		u, err = m.attempt(ctx, cmd)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.Kind(err))
		return nil, err
	}
	m.notify(ctx, u.events)
	return u, nil
}

// retry runs fn until it succeeds, fails with an error other than
// ErrConcurrentModification, or uses up the attempt budget. Metrics are
// recorded once per command.
func (m *Manager) retry(ctx context.Context, op, scope string, fn func(ctx context.Context) error) error {
	start := time.Now()
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || !domain.Retryable(err) || attempt >= m.attempts {
			break
		}
		observability.HoldConflicts.WithLabelValues(op).Inc()
		m.logger.WithField("op", op).
			WithField("request_id", scope).
			WithField("attempt", attempt).
			Warn("concurrent modification, retrying command")
	}
	observability.HoldCommands.WithLabelValues(op, domain.Kind(err)).Inc()
	observability.HoldCommandDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return err
}

func (m *Manager) attempt(ctx context.Context, cmd command) (*unit, error) {
	if cmd.lazy {
		if err := m.settle(ctx, cmd.requestID); err != nil {
			return nil, err
		}
	}
	var u *unit
	err := m.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		u, err = load(ctx, m.store, cmd.requestID, cmd.actor, m.clock.Now())
		if err != nil {
			return err
		}
		if cmd.lazy {
			if _, err := u.expireDue(); err != nil {
				return err
			}
		}
		if err := cmd.fn(ctx, u); err != nil {
			return err
		}
		return u.flush(ctx, m.store)
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// settle expires a due hold on the request and commits, so an expiry found
// on the way into a command survives that command failing.
func (m *Manager) settle(ctx context.Context, requestID uuid.UUID) error {
	active, err := m.store.ActiveHold(ctx, requestID)
	if err != nil {
		return err
	}
	now := m.clock.Now()
	if active == nil || !active.Due(now) {
		return nil
	}
	var events []domain.Event
	err = m.store.WithTx(ctx, func(ctx context.Context) error {
		u, err := load(ctx, m.store, requestID, domain.SystemActor, m.clock.Now())
		if err != nil {
			return err
		}
		if _, err := u.expireDue(); err != nil {
			return err
		}
		if err := u.flush(ctx, m.store); err != nil {
			return err
		}
		events = u.events
		return nil
	})
	if err != nil {
		return err
	}
	if len(events) > 0 {
		observability.HoldsExpired.WithLabelValues("lazy").Add(float64(len(events)))
		m.notify(ctx, events)
	}
	return nil
}

func (m *Manager) notify(ctx context.Context, events []domain.Event) {
	if len(events) == 0 {
		return
	}
	m.notifier.Notify(ctx, events)
}

func (m *Manager) requestOfBid(ctx context.Context, bidID uuid.UUID) (uuid.UUID, error) {
	bid, err := m.store.GetBid(ctx, bidID)
	if err != nil {
		return uuid.Nil, err
	}
	return bid.RequestID, nil
}

// Snapshot returns the current state of a request after settling any
// expired hold on it.
func (m *Manager) Snapshot(ctx context.Context, requestID uuid.UUID) (domain.Snapshot, error) {
	if err := m.settle(ctx, requestID); err != nil {
		return domain.Snapshot{}, err
	}
	var snap domain.Snapshot
	err := m.store.WithTx(ctx, func(ctx context.Context) error {
		u, err := load(ctx, m.store, requestID, domain.SystemActor, m.clock.Now())
		if err != nil {
			return err
		}
		snap = u.snapshot()
		return nil
	})
	return snap, err
}

// DueHolds lists active holds whose expiry has passed.
func (m *Manager) DueHolds(ctx context.Context, limit int) ([]domain.HoldLedgerEntry, error) {
	return m.store.DueHolds(ctx, m.clock.Now(), limit)
}

func (m *Manager) GetBid(ctx context.Context, id uuid.UUID) (domain.Bid, error) {
	return m.store.GetBid(ctx, id)
}

func (m *Manager) GetRequest(ctx context.Context, id uuid.UUID) (domain.BookingRequest, error) {
	return m.store.GetRequest(ctx, id)
}

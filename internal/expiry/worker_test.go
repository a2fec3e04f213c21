package expiry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/booking-holds/internal/clock"
	"github.com/robertarktes/booking-holds/internal/domain"
	"github.com/robertarktes/booking-holds/internal/holds"
	"github.com/robertarktes/booking-holds/internal/observability"
	"github.com/robertarktes/booking-holds/internal/testsupport/memstore"
)

var admin = domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin}

func seed(t *testing.T, mgr *holds.Manager, bids int, ttl time.Duration) domain.Snapshot {
	t.Helper()
	snap, err := mgr.SeedScenario(context.Background(), admin, holds.ScenarioInput{Bids: bids, Duration: ttl})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return snap
}

func TestSweepOnce(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	clk := clock.NewManual(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	mgr := holds.NewManager(store, clk, holds.WithLogger(observability.NewNopLogger()))

	short := seed(t, mgr, 3, time.Hour)
	seed(t, mgr, 2, time.Hour)
	long := seed(t, mgr, 2, 48*time.Hour)

	w := NewWorker(mgr, observability.NewNopLogger(), WithConcurrency(2), WithBackoff(time.Millisecond))

	sum, err := w.SweepOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum != (domain.Summary{}) {
		t.Fatalf("expected nothing due yet, got %+v", sum)
	}

	clk.Advance(2 * time.Hour)
	sum, err = w.SweepOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := domain.Summary{HoldsClosed: 2, BidsReset: 5, RequestsAffected: 2}
	if sum != want {
		t.Fatalf("expected %+v, got %+v", want, sum)
	}

	snap, err := mgr.Snapshot(ctx, short.Request.ID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.ActiveHold != nil {
		t.Fatalf("expected the short hold to be expired")
	}
	for _, b := range snap.Bids {
		if b.HoldState != domain.HoldAvailable || b.Status != domain.BidPending {
			t.Fatalf("expected bid back to PENDING/AVAILABLE, got %s/%s", b.Status, b.HoldState)
		}
	}
	hs := store.Holds(short.Request.ID)
	if len(hs) != 1 || hs[0].Outcome != domain.OutcomeExpired {
		t.Fatalf("expected one expired ledger entry, got %+v", hs)
	}

	snap, err = mgr.Snapshot(ctx, long.Request.ID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.ActiveHold == nil {
		t.Fatalf("expected the long hold to stay active")
	}

	sum, err = w.SweepOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum != (domain.Summary{}) {
		t.Fatalf("expected a second sweep to be a no-op, got %+v", sum)
	}
}

type flakyHolds struct {
	mu       sync.Mutex
	due      []domain.HoldLedgerEntry
	failures map[uuid.UUID][]error
	calls    map[uuid.UUID]int
}

func (f *flakyHolds) DueHolds(context.Context, int) ([]domain.HoldLedgerEntry, error) {
	return f.due, nil
}

func (f *flakyHolds) Expire(_ context.Context, actor domain.Actor, id uuid.UUID) (domain.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if actor.Role != domain.RoleSystem {
		return domain.Summary{}, domain.ErrForbidden
	}
	n := f.calls[id]
	f.calls[id]++
	if n < len(f.failures[id]) {
		return domain.Summary{}, f.failures[id][n]
	}
	return domain.Summary{HoldsClosed: 1, BidsReset: 1, RequestsAffected: 1}, nil
}

func TestSweepRetries(t *testing.T) {
	transient := uuid.New()
	rejected := uuid.New()
	exhausted := uuid.New()
	conflict := errors.Mark(errors.New("restart transaction"), domain.ErrConcurrentModification)
	f := &flakyHolds{
		due: []domain.HoldLedgerEntry{{ID: transient}, {ID: rejected}, {ID: exhausted}},
		failures: map[uuid.UUID][]error{
			transient: {conflict},
			rejected:  {errors.Wrap(domain.ErrNotFound, "hold gone")},
			exhausted: {conflict, conflict, conflict},
		},
		calls: map[uuid.UUID]int{},
	}
	w := NewWorker(f, observability.NewNopLogger(), WithBackoff(time.Millisecond))

	sum, err := w.SweepOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.HoldsClosed != 1 {
		t.Fatalf("expected only the transient failure to recover, got %+v", sum)
	}
	if f.calls[transient] != 2 {
		t.Fatalf("expected one retry, got %d calls", f.calls[transient])
	}
	if f.calls[rejected] != 1 {
		t.Fatalf("expected no retry for a domain rejection, got %d calls", f.calls[rejected])
	}
	if f.calls[exhausted] != 3 {
		t.Fatalf("expected 3 attempts before giving up, got %d", f.calls[exhausted])
	}
}

type fakeLease struct {
	held  bool
	owner string
}

func (l *fakeLease) AcquireLease(_ context.Context, _, owner string, _ time.Duration) (bool, error) {
	if l.held {
		return false, nil
	}
	l.held, l.owner = true, owner
	return true, nil
}

func (l *fakeLease) ReleaseLease(_ context.Context, _, owner string) error {
	if l.owner == owner {
		l.held = false
	}
	return nil
}

func TestSweepSkipsWithoutLease(t *testing.T) {
	f := &flakyHolds{due: []domain.HoldLedgerEntry{{ID: uuid.New()}}, calls: map[uuid.UUID]int{}}
	lease := &fakeLease{held: true, owner: "other"}
	w := NewWorker(f, observability.NewNopLogger(), WithLease(lease, time.Minute))

	sum, err := w.SweepOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.HoldsClosed != 0 || len(f.calls) != 0 {
		t.Fatalf("expected the sweep to be skipped while another worker holds the lease")
	}

	lease.held = false
	sum, err = w.SweepOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.HoldsClosed != 1 {
		t.Fatalf("expected one hold expired, got %+v", sum)
	}
	if lease.held {
		t.Fatalf("expected the lease to be released after the sweep")
	}
}

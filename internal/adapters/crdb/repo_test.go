package crdb_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/booking-holds/internal/adapters/crdb"
	"github.com/robertarktes/booking-holds/internal/adapters/crdb/migrations"
	"github.com/robertarktes/booking-holds/internal/clock"
	"github.com/robertarktes/booking-holds/internal/domain"
	"github.com/robertarktes/booking-holds/internal/holds"
	"github.com/robertarktes/booking-holds/internal/observability"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping CockroachDB container test in short mode")
	}
	ctx := context.Background()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = crdbContainer.Terminate(ctx) })

	host, err := crdbContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := crdbContainer.MappedPort(ctx, "26257")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, "postgresql://root@"+host+":"+port.Port()+"/defaultdb?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	if _, err := migrations.Apply(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	applied, err := migrations.Apply(ctx, pool)
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("expected migrations to be recorded, re-applied %v", applied)
	}
	return pool
}

type harness struct {
	repo   *crdb.Repository
	mgr    *holds.Manager
	artist domain.Actor
}

func (h *harness) seed(t *testing.T, n int) (domain.BookingRequest, []domain.Bid) {
	t.Helper()
	ctx := context.Background()
	req, err := h.mgr.CreateRequest(ctx, h.artist, holds.CreateRequestInput{
		Title:         "Warehouse show",
		RequestedDate: time.Now().AddDate(0, 1, 0),
		InitiatorKind: domain.PartyArtist,
		InitiatorID:   h.artist.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	var bids []domain.Bid
	for i := 0; i < n; i++ {
		venue := domain.Actor{ID: uuid.New(), Role: domain.RoleVenue}
		b, err := h.mgr.AdmitBid(ctx, venue, req.ID, venue.ID, domain.Terms{AmountCents: int64(100000 + i), Currency: "EUR", BillingPosition: "headline"})
		if err != nil {
			t.Fatal(err)
		}
		bids = append(bids, b)
	}
	return req, bids
}

func TestRepository_HoldLifecycle(t *testing.T) {
	pool := newPool(t)
	ctx := context.Background()
	repo := crdb.NewRepository(pool)
	h := &harness{
		repo:   repo,
		mgr:    holds.NewManager(repo, clock.NewSystem(), holds.WithLogger(observability.NewNopLogger())),
		artist: domain.Actor{ID: uuid.New(), Role: domain.RoleArtist},
	}

	t.Run("place accept confirm", func(t *testing.T) {
		req, bids := h.seed(t, 4)
		hold, err := h.mgr.PlaceHold(ctx, h.artist, holds.PlaceHoldInput{BidID: bids[0].ID, Duration: 48 * time.Hour, Reason: "test"})
		if err != nil {
			t.Fatalf("place hold: %v", err)
		}
		stored, err := repo.GetHold(ctx, hold.ID)
		if err != nil {
			t.Fatal(err)
		}
		if stored.Duration != 48*time.Hour || stored.Status != domain.HoldActive {
			t.Fatalf("unexpected stored hold %+v", stored)
		}
		listed, err := repo.ListBids(ctx, req.ID)
		if err != nil {
			t.Fatal(err)
		}
		if listed[1].Terms.BillingPosition != "headline" {
			t.Fatalf("expected terms to round-trip, got %+v", listed[1].Terms)
		}
		for _, b := range listed[1:] {
			if b.HoldState != domain.HoldFrozen || !b.HeldBy(hold.ID) {
				t.Fatalf("expected sibling FROZEN by %s, got %s", hold.ID, b.HoldState)
			}
		}

		if _, err := h.mgr.AcceptHeld(ctx, h.artist, bids[0].ID); err != nil {
			t.Fatal(err)
		}
		res, err := h.mgr.ConfirmAccepted(ctx, h.artist, bids[0].ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.RejectedSiblings) != 3 {
			t.Fatalf("expected 3 rejected siblings, got %d", len(res.RejectedSiblings))
		}
		got, err := repo.GetRequest(ctx, req.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != domain.RequestConfirmed {
			t.Fatalf("expected CONFIRMED, got %s", got.Status)
		}
		active, err := repo.ActiveHold(ctx, req.ID)
		if err != nil || active != nil {
			t.Fatalf("expected no active hold, got %+v %v", active, err)
		}
	})

	t.Run("second active hold violates the index", func(t *testing.T) {
		req, _ := h.seed(t, 1)
		first, _ := domain.NewHold(req.ID, h.artist.ID, time.Hour, "", time.Now())
		second, _ := domain.NewHold(req.ID, h.artist.ID, time.Hour, "", time.Now())
		if err := repo.CreateHold(ctx, first); err != nil {
			t.Fatal(err)
		}
		if err := repo.CreateHold(ctx, second); !errors.Is(err, domain.ErrConflictingHold) {
			t.Fatalf("expected ErrConflictingHold, got %v", err)
		}
	})

	t.Run("concurrent holds", func(t *testing.T) {
		_, bids := h.seed(t, 2)
		var (
			wg   sync.WaitGroup
			errs = make([]error, 2)
		)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = h.mgr.PlaceHold(ctx, h.artist, holds.PlaceHoldInput{BidID: bids[i].ID, Duration: time.Hour})
			}(i)
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			if !errors.Is(err, domain.ErrConflictingHold) {
				t.Fatalf("expected ErrConflictingHold, got %v", err)
			}
		}
		if ok != 1 {
			t.Fatalf("expected exactly one hold, got %d", ok)
		}
	})

	t.Run("delete cascades", func(t *testing.T) {
		req, bids := h.seed(t, 2)
		if _, err := h.mgr.PlaceHold(ctx, h.artist, holds.PlaceHoldInput{BidID: bids[0].ID, Duration: time.Hour}); err != nil {
			t.Fatal(err)
		}
		admin := domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin}
		if err := h.mgr.DeleteRequest(ctx, admin, req.ID); err != nil {
			t.Fatal(err)
		}
		if _, err := repo.GetBid(ctx, bids[0].ID); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected bid to be deleted, got %v", err)
		}
	})

	t.Run("outbox relays committed events", func(t *testing.T) {
		err := repo.WithTx(ctx, func(ctx context.Context) error {
			records, err := repo.GetUnpublishedOutbox(ctx, 1000)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				t.Fatalf("expected outbox records")
			}
			for _, rec := range records {
				if err := repo.MarkPublished(ctx, rec.ID, time.Now()); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		records, err := repo.GetUnpublishedOutbox(ctx, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(records) != 0 {
			t.Fatalf("expected every record to be published, got %d", len(records))
		}
	})
}

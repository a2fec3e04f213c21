package mongo_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	mongoadapter "github.com/robertarktes/booking-holds/internal/adapters/mongo"
	"github.com/robertarktes/booking-holds/internal/bids"
	"github.com/robertarktes/booking-holds/internal/domain"
	"github.com/robertarktes/booking-holds/internal/observability"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func newDatabase(t *testing.T) *mongo.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping MongoDB container test in short mode")
	}
	ctx := context.Background()

	mongoContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForExec([]string{"mongosh", "--eval", "db.runCommand('ping').ok"}),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = mongoContainer.Terminate(ctx) })

	host, err := mongoContainer.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := mongoContainer.MappedPort(ctx, "27017")
	if err != nil {
		t.Fatal(err)
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://"+host+":"+port.Port()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = client.Disconnect(ctx) })
	return client.Database("holds_test")
}

func TestMongoAdapters(t *testing.T) {
	db := newDatabase(t)
	ctx := context.Background()
	logger := observability.NewNopLogger()

	t.Run("audit trail", func(t *testing.T) {
		audit := mongoadapter.NewAuditLogger(db, logger)
		if err := audit.EnsureIndexes(ctx); err != nil {
			t.Fatal(err)
		}
		requestID := uuid.New()
		actor := uuid.New()
		base := time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)
		bidID := uuid.New()
		events := []domain.Event{
			domain.NewEvent(domain.EventBidSubmitted, requestID, actor, base).WithBid(bidID),
			domain.NewEvent(domain.EventHoldPlaced, requestID, actor, base.Add(time.Minute)).WithBid(bidID).With("expires_at", base.Add(48*time.Hour)),
			domain.NewEvent(domain.EventHoldExpired, requestID, domain.SystemActor.ID, base.Add(48*time.Hour)),
		}
		if err := audit.LogEvents(ctx, events); err != nil {
			t.Fatal(err)
		}
		// A replayed batch is absorbed by the event ids.
		if err := audit.LogEvents(ctx, events); err != nil {
			t.Fatalf("expected replay to be ignored, got %v", err)
		}

		trail, err := audit.Trail(ctx, requestID, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(trail) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(trail))
		}
		if trail[0].Action != string(domain.EventBidSubmitted) || trail[2].Action != string(domain.EventHoldExpired) {
			t.Fatalf("expected oldest first, got %s .. %s", trail[0].Action, trail[2].Action)
		}
		if trail[1].BidID != bidID.String() {
			t.Fatalf("expected bid id on the hold entry, got %q", trail[1].BidID)
		}

		latest, err := audit.Trail(ctx, requestID, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(latest) != 1 || latest[0].Action != string(domain.EventHoldExpired) {
			t.Fatalf("expected the newest entry, got %+v", latest)
		}
	})

	t.Run("venue directory", func(t *testing.T) {
		catalog := mongoadapter.NewCatalogRepository(db, logger)
		venue := bids.Venue{ID: uuid.New(), Name: "The Lantern", City: "Leeds", Active: true}
		if err := catalog.UpsertVenue(ctx, venue, 450); err != nil {
			t.Fatal(err)
		}
		got, err := catalog.Venue(ctx, venue.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got != venue {
			t.Fatalf("expected %+v, got %+v", venue, got)
		}

		if err := catalog.SetVenueActive(ctx, venue.ID, false); err != nil {
			t.Fatal(err)
		}
		got, err = catalog.Venue(ctx, venue.ID)
		if err != nil || got.Active {
			t.Fatalf("expected inactive venue, got %+v %v", got, err)
		}

		if _, err := catalog.Venue(ctx, uuid.New()); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if err := catalog.SetVenueActive(ctx, uuid.New(), true); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

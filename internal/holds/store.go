package holds

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/booking-holds/internal/domain"
)

// Store is the persistence the manager needs. WithTx runs fn in one
// transaction; calls made with the context it hands to fn join that
// transaction. LockRequest takes the per-request exclusive lock that
// linearizes every command on the request.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	CreateRequest(ctx context.Context, req domain.BookingRequest) error
	GetRequest(ctx context.Context, id uuid.UUID) (domain.BookingRequest, error)
	LockRequest(ctx context.Context, id uuid.UUID) (domain.BookingRequest, error)
	UpdateRequest(ctx context.Context, req domain.BookingRequest) error
	DeleteRequest(ctx context.Context, id uuid.UUID) error

	CreateBid(ctx context.Context, bid domain.Bid) error
	GetBid(ctx context.Context, id uuid.UUID) (domain.Bid, error)
	ListBids(ctx context.Context, requestID uuid.UUID) ([]domain.Bid, error)
	UpdateBid(ctx context.Context, bid domain.Bid) error

	CreateHold(ctx context.Context, hold domain.HoldLedgerEntry) error
	GetHold(ctx context.Context, id uuid.UUID) (domain.HoldLedgerEntry, error)
	ActiveHold(ctx context.Context, requestID uuid.UUID) (*domain.HoldLedgerEntry, error)
	UpdateHold(ctx context.Context, hold domain.HoldLedgerEntry) error
	DueHolds(ctx context.Context, now time.Time, limit int) ([]domain.HoldLedgerEntry, error)
	// HoldingRequests lists requests with an ACTIVE hold or any bid that is
	// not AVAILABLE, ordered by id.
	HoldingRequests(ctx context.Context) ([]uuid.UUID, error)

	AppendEvents(ctx context.Context, events []domain.Event) error
}

// Notifier receives events after the transaction that produced them has
// committed. Delivery is best effort; the outbox is the durable path.
type Notifier interface {
	Notify(ctx context.Context, events []domain.Event)
}

// Notifiers fans events out to several notifiers in order.
type Notifiers []Notifier

func (n Notifiers) Notify(ctx context.Context, events []domain.Event) {
	for _, notifier := range n {
		notifier.Notify(ctx, events)
	}
}

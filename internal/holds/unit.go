package holds

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/booking-holds/internal/domain"
)

// unit is the working set of one command: a locked request, its bids and
// its active hold. Commands mutate the unit in memory; flush validates the
// result and writes only what changed.
type unit struct {
	now    time.Time
	actor  domain.Actor
	req    domain.BookingRequest
	status domain.RequestStatus
	bids   []domain.Bid
	active *domain.HoldLedgerEntry

	opened *domain.HoldLedgerEntry
	closed *domain.HoldLedgerEntry
	dirty  map[uuid.UUID]bool
	added  map[uuid.UUID]bool
	events []domain.Event
}

func load(ctx context.Context, store Store, requestID uuid.UUID, actor domain.Actor, now time.Time) (*unit, error) {
	req, err := store.LockRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	bids, err := store.ListBids(ctx, requestID)
	if err != nil {
		return nil, err
	}
	active, err := store.ActiveHold(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return &unit{
		now:    now,
		actor:  actor,
		req:    req,
		status: req.Status,
		bids:   bids,
		active: active,
		dirty:  make(map[uuid.UUID]bool),
		added:  make(map[uuid.UUID]bool),
	}, nil
}

func (u *unit) bid(id uuid.UUID) (*domain.Bid, error) {
	for i := range u.bids {
		if u.bids[i].ID == id {
			return &u.bids[i], nil
		}
	}
	return nil, errors.Wrapf(domain.ErrNotFound, "bid %s on request %s", id, u.req.ID)
}

func (u *unit) touch(b *domain.Bid) {
	u.dirty[b.ID] = true
}

func (u *unit) add(b domain.Bid) {
	u.bids = append(u.bids, b)
	u.added[b.ID] = true
}

func (u *unit) emit(e domain.Event) {
	u.events = append(u.events, e)
}

func (u *unit) event(t domain.EventType) domain.Event {
	return domain.NewEvent(t, u.req.ID, u.actor.ID, u.now)
}

// siblings returns every bid other than the given one.
func (u *unit) siblings(id uuid.UUID) []*domain.Bid {
	out := make([]*domain.Bid, 0, len(u.bids))
	for i := range u.bids {
		if u.bids[i].ID != id {
			out = append(out, &u.bids[i])
		}
	}
	return out
}

func (u *unit) held() *domain.Bid {
	if u.active == nil {
		return nil
	}
	for i := range u.bids {
		if u.bids[i].HoldState == domain.HoldHeld && u.bids[i].HeldBy(u.active.ID) {
			return &u.bids[i]
		}
	}
	return nil
}

func (u *unit) open(h domain.HoldLedgerEntry) {
	u.active = &h
	u.opened = &h
}

// closeHold ends the active hold and returns every bid still referencing it
// to AVAILABLE. A bid still HELD goes back to PENDING.
func (u *unit) closeHold(status domain.HoldStatus, outcome domain.HoldOutcome) (domain.Summary, []domain.Bid, error) {
	if u.active == nil {
		return domain.Summary{}, nil, nil
	}
	h := *u.active
	var reset []domain.Bid
	for i := range u.bids {
		if u.bids[i].HeldBy(h.ID) {
			u.bids[i].Unfreeze(u.now)
			u.touch(&u.bids[i])
			reset = append(reset, u.bids[i])
		}
	}
	if err := h.Close(status, outcome, u.now); err != nil {
		return domain.Summary{}, nil, err
	}
	u.active = nil
	if u.opened != nil && u.opened.ID == h.ID {
		u.opened = &h
	} else {
		u.closed = &h
	}
	return domain.Summary{HoldsClosed: 1, BidsReset: len(reset), RequestsAffected: 1}, reset, nil
}

// expireDue closes the active hold as EXPIRED if its time has come.
func (u *unit) expireDue() (domain.Summary, error) {
	if u.active == nil || !u.active.Due(u.now) {
		return domain.Summary{}, nil
	}
	holdID := u.active.ID
	expiresAt := u.active.ExpiresAt
	sum, _, err := u.closeHold(domain.HoldExpired, domain.OutcomeExpired)
	if err != nil {
		return domain.Summary{}, err
	}
	u.emit(domain.NewEvent(domain.EventHoldExpired, u.req.ID, domain.SystemActor.ID, u.now).
		WithHold(holdID).
		With("expires_at", expiresAt).
		With("bids_reset", sum.BidsReset))
	return sum, nil
}

func (u *unit) flush(ctx context.Context, store Store) error {
	u.req.Status = domain.DeriveStatus(u.req.Status, u.bids)
	if err := domain.CheckRequest(u.req, u.bids, u.active); err != nil {
		return err
	}

	if u.closed != nil {
		if err := store.UpdateHold(ctx, *u.closed); err != nil {
			return err
		}
	}
	if u.opened != nil {
		if err := store.CreateHold(ctx, *u.opened); err != nil {
			return err
		}
	}
	// HELD rows go last so the bid losing HELD is written before the bid
	// gaining it; bids_one_held allows one per request at any point.
	for _, held := range []bool{false, true} {
		for _, b := range u.bids {
			if (b.HoldState == domain.HoldHeld) != held {
				continue
			}
			switch {
			case u.added[b.ID]:
				if err := store.CreateBid(ctx, b); err != nil {
					return err
				}
			case u.dirty[b.ID]:
				if err := store.UpdateBid(ctx, b); err != nil {
					return err
				}
			}
		}
	}
	if u.req.Status != u.status || len(u.dirty)+len(u.added) > 0 || u.opened != nil || u.closed != nil {
		u.req.UpdatedAt = u.now
		if err := store.UpdateRequest(ctx, u.req); err != nil {
			return err
		}
	}
	if len(u.events) > 0 {
		return store.AppendEvents(ctx, u.events)
	}
	return nil
}

func (u *unit) snapshot() domain.Snapshot {
	bids := make([]domain.Bid, len(u.bids))
	copy(bids, u.bids)
	var active *domain.HoldLedgerEntry
	if u.active != nil {
		h := *u.active
		active = &h
	}
	return domain.Snapshot{Request: u.req, Bids: bids, ActiveHold: active}
}

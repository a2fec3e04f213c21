package bids

import (
	"context"
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

type fakeDirectory map[uuid.UUID]Venue

func (d fakeDirectory) Venue(_ context.Context, id uuid.UUID) (Venue, error) {
	v, ok := d[id]
	if !ok {
		return Venue{}, errors.Wrapf(domain.ErrNotFound, "venue %s", id)
	}
	return v, nil
}

type env struct {
	ctrl    *Controller
	clock   *clock.Manual
	dir     fakeDirectory
	artist  domain.Actor
	request domain.BookingRequest
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		clock:  clock.NewManual(time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)),
		dir:    fakeDirectory{},
		artist: domain.Actor{ID: uuid.New(), Role: domain.RoleArtist},
	}
	logger := observability.NewNopLogger()
	mgr := holds.NewManager(memstore.New(), e.clock, holds.WithLogger(logger))
	e.ctrl = NewController(mgr, WithVenueDirectory(e.dir), WithLogger(logger), WithDefaultTTL(24*time.Hour))

	req, err := e.ctrl.CreateRequest(context.Background(), e.artist, holds.CreateRequestInput{
		Title:         "Spring tour stop",
		RequestedDate: e.clock.Now().AddDate(0, 2, 0),
		InitiatorKind: domain.PartyArtist,
		InitiatorID:   e.artist.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	e.request = req
	return e
}

func (e *env) venue(active bool) domain.Actor {
	a := domain.Actor{ID: uuid.New(), Role: domain.RoleVenue}
	e.dir[a.ID] = Venue{ID: a.ID, Name: "Room " + a.ID.String()[:4], Active: active}
	return a
}

func (e *env) submit(t *testing.T, v domain.Actor) domain.Bid {
	t.Helper()
	bid, err := e.ctrl.SubmitBid(context.Background(), v, SubmitBidInput{
		RequestID: e.request.ID,
		VenueID:   v.ID,
		Terms:     domain.Terms{AmountCents: 80000, Currency: "USD", SetLengthMinutes: 90},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return bid
}

func TestSubmitBid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("creates a pending bid", func(t *testing.T) {
		e := newEnv(t)
		bid := e.submit(t, e.venue(true))
		if bid.Status != domain.BidPending || bid.HoldState != domain.HoldAvailable {
			t.Fatalf("expected PENDING/AVAILABLE, got %s/%s", bid.Status, bid.HoldState)
		}
		snap, err := e.ctrl.Snapshot(ctx, e.request.ID)
		if err != nil {
			t.Fatal(err)
		}
		if snap.Request.Status != domain.RequestPending {
			t.Fatalf("expected request PENDING, got %s", snap.Request.Status)
		}
	})

	t.Run("unknown venue", func(t *testing.T) {
		e := newEnv(t)
		ghost := domain.Actor{ID: uuid.New(), Role: domain.RoleVenue}
		_, err := e.ctrl.SubmitBid(ctx, ghost, SubmitBidInput{RequestID: e.request.ID, VenueID: ghost.ID})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("inactive venue", func(t *testing.T) {
		e := newEnv(t)
		v := e.venue(false)
		_, err := e.ctrl.SubmitBid(ctx, v, SubmitBidInput{RequestID: e.request.ID, VenueID: v.ID})
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("one live bid per venue", func(t *testing.T) {
		e := newEnv(t)
		v := e.venue(true)
		e.submit(t, v)
		_, err := e.ctrl.SubmitBid(ctx, v, SubmitBidInput{RequestID: e.request.ID, VenueID: v.ID})
		if !errors.Is(err, domain.ErrIllegalTransition) {
			t.Fatalf("expected ErrIllegalTransition, got %v", err)
		}
	})

	t.Run("closed request", func(t *testing.T) {
		e := newEnv(t)
		if _, err := e.ctrl.CancelRequest(ctx, e.artist, e.request.ID, "tour cancelled"); err != nil {
			t.Fatal(err)
		}
		v := e.venue(true)
		_, err := e.ctrl.SubmitBid(ctx, v, SubmitBidInput{RequestID: e.request.ID, VenueID: v.ID})
		if !errors.Is(err, domain.ErrInvalidRequestState) {
			t.Fatalf("expected ErrInvalidRequestState, got %v", err)
		}
	})

	t.Run("joins an active hold frozen", func(t *testing.T) {
		e := newEnv(t)
		first := e.submit(t, e.venue(true))
		hold, err := e.ctrl.PlaceHold(ctx, e.artist, PlaceHoldInput{BidID: first.ID})
		if err != nil {
			t.Fatal(err)
		}
		if got := hold.ExpiresAt.Sub(hold.StartsAt); got != 24*time.Hour {
			t.Fatalf("expected default ttl 24h, got %s", got)
		}
		late := e.submit(t, e.venue(true))
		if late.HoldState != domain.HoldFrozen || !late.HeldBy(hold.ID) {
			t.Fatalf("expected late bid FROZEN by %s, got %s", hold.ID, late.HoldState)
		}

		if _, err := e.ctrl.AcceptHeld(ctx, e.artist, first.ID); err != nil {
			t.Fatal(err)
		}
		res, err := e.ctrl.ConfirmAccepted(ctx, e.artist, first.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.RejectedSiblings) != 1 || res.RejectedSiblings[0].ID != late.ID {
			t.Fatalf("expected the late bid to be rejected, got %+v", res.RejectedSiblings)
		}
	})
}

func TestWithdrawBid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("pending", func(t *testing.T) {
		e := newEnv(t)
		v := e.venue(true)
		bid := e.submit(t, v)
		out, err := e.ctrl.WithdrawBid(ctx, v, bid.ID)
		if err != nil {
			t.Fatal(err)
		}
		if out.Status != domain.BidWithdrawn || out.WithdrawnAt == nil {
			t.Fatalf("expected WITHDRAWN with timestamp, got %s", out.Status)
		}
		if _, err := e.ctrl.WithdrawBid(ctx, v, bid.ID); !errors.Is(err, domain.ErrIllegalTransition) {
			t.Fatalf("expected second withdraw to fail, got %v", err)
		}
	})

	t.Run("only the venue", func(t *testing.T) {
		e := newEnv(t)
		bid := e.submit(t, e.venue(true))
		if _, err := e.ctrl.WithdrawBid(ctx, e.venue(true), bid.ID); !errors.Is(err, domain.ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("held bid ends the hold", func(t *testing.T) {
		e := newEnv(t)
		v := e.venue(true)
		held := e.submit(t, v)
		other := e.submit(t, e.venue(true))
		if _, err := e.ctrl.PlaceHold(ctx, e.artist, PlaceHoldInput{BidID: held.ID, Duration: time.Hour}); err != nil {
			t.Fatal(err)
		}
		if _, err := e.ctrl.WithdrawBid(ctx, v, held.ID); err != nil {
			t.Fatal(err)
		}
		snap, err := e.ctrl.Snapshot(ctx, e.request.ID)
		if err != nil {
			t.Fatal(err)
		}
		if snap.ActiveHold != nil {
			t.Fatalf("expected hold to end with its bid")
		}
		if b, _ := snap.Bid(other.ID); b.HoldState != domain.HoldAvailable || b.Status != domain.BidPending {
			t.Fatalf("expected sibling PENDING/AVAILABLE, got %s/%s", b.Status, b.HoldState)
		}
	})

	t.Run("frozen bid leaves the hold intact", func(t *testing.T) {
		e := newEnv(t)
		held := e.submit(t, e.venue(true))
		v := e.venue(true)
		frozen := e.submit(t, v)
		hold, err := e.ctrl.PlaceHold(ctx, e.artist, PlaceHoldInput{BidID: held.ID, Duration: time.Hour})
		if err != nil {
			t.Fatal(err)
		}
		out, err := e.ctrl.WithdrawBid(ctx, v, frozen.ID)
		if err != nil {
			t.Fatal(err)
		}
		if out.HoldState != domain.HoldAvailable || out.FrozenByHoldID != nil {
			t.Fatalf("expected withdrawn bid unfrozen, got %s", out.HoldState)
		}
		snap, _ := e.ctrl.Snapshot(ctx, e.request.ID)
		if snap.ActiveHold == nil || snap.ActiveHold.ID != hold.ID {
			t.Fatalf("expected hold %s to remain active", hold.ID)
		}
	})
}

func TestRejectBid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("pending", func(t *testing.T) {
		e := newEnv(t)
		bid := e.submit(t, e.venue(true))
		out, err := e.ctrl.RejectBid(ctx, e.artist, bid.ID, "over budget")
		if err != nil {
			t.Fatal(err)
		}
		if out.Status != domain.BidRejected || out.DeclinedReason != "over budget" {
			t.Fatalf("expected REJECTED with reason, got %s %q", out.Status, out.DeclinedReason)
		}
		snap, _ := e.ctrl.Snapshot(ctx, e.request.ID)
		if snap.Request.Status != domain.RequestOpen {
			t.Fatalf("expected request back to OPEN, got %s", snap.Request.Status)
		}
	})

	t.Run("frozen must go through the hold", func(t *testing.T) {
		e := newEnv(t)
		held := e.submit(t, e.venue(true))
		frozen := e.submit(t, e.venue(true))
		if _, err := e.ctrl.PlaceHold(ctx, e.artist, PlaceHoldInput{BidID: held.ID, Duration: time.Hour}); err != nil {
			t.Fatal(err)
		}
		for _, id := range []uuid.UUID{held.ID, frozen.ID} {
			if _, err := e.ctrl.RejectBid(ctx, e.artist, id, ""); !errors.Is(err, domain.ErrIllegalTransition) {
				t.Fatalf("expected ErrIllegalTransition, got %v", err)
			}
		}
	})

	t.Run("only the initiator", func(t *testing.T) {
		e := newEnv(t)
		v := e.venue(true)
		bid := e.submit(t, v)
		if _, err := e.ctrl.RejectBid(ctx, v, bid.ID, ""); !errors.Is(err, domain.ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})
}

func TestRequestLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	admin := domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin}

	t.Run("cancel closes the hold and cancels bids", func(t *testing.T) {
		e := newEnv(t)
		held := e.submit(t, e.venue(true))
		e.submit(t, e.venue(true))
		if _, err := e.ctrl.PlaceHold(ctx, e.artist, PlaceHoldInput{BidID: held.ID, Duration: time.Hour}); err != nil {
			t.Fatal(err)
		}
		if _, err := e.ctrl.AcceptHeld(ctx, e.artist, held.ID); err != nil {
			t.Fatal(err)
		}
		req, err := e.ctrl.CancelRequest(ctx, e.artist, e.request.ID, "tour cancelled")
		if err != nil {
			t.Fatal(err)
		}
		if req.Status != domain.RequestCancelled {
			t.Fatalf("expected CANCELLED, got %s", req.Status)
		}
		snap, _ := e.ctrl.Snapshot(ctx, e.request.ID)
		if snap.ActiveHold != nil {
			t.Fatalf("expected no active hold")
		}
		for _, b := range snap.Bids {
			if b.Status != domain.BidCancelled || b.HoldState != domain.HoldAvailable {
				t.Fatalf("expected CANCELLED/AVAILABLE, got %s/%s", b.Status, b.HoldState)
			}
		}
		if _, err := e.ctrl.CancelRequest(ctx, e.artist, e.request.ID, ""); !errors.Is(err, domain.ErrIllegalTransition) {
			t.Fatalf("expected second cancel to fail, got %v", err)
		}
	})

	t.Run("counterpart declines", func(t *testing.T) {
		e := newEnv(t)
		counterpart := e.venue(true)
		req, err := e.ctrl.CreateRequest(ctx, e.artist, holds.CreateRequestInput{
			Title:         "Residency",
			RequestedDate: e.clock.Now().AddDate(0, 1, 0),
			InitiatorKind: domain.PartyArtist,
			InitiatorID:   e.artist.ID,
			CounterpartID: &counterpart.ID,
		})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := e.ctrl.DeclineRequest(ctx, e.artist, req.ID, ""); !errors.Is(err, domain.ErrForbidden) {
			t.Fatalf("expected ErrForbidden for initiator, got %v", err)
		}
		out, err := e.ctrl.DeclineRequest(ctx, counterpart, req.ID, "booked")
		if err != nil {
			t.Fatal(err)
		}
		if out.Status != domain.RequestDeclined {
			t.Fatalf("expected DECLINED, got %s", out.Status)
		}
	})

	t.Run("admin deletes with bids", func(t *testing.T) {
		e := newEnv(t)
		bid := e.submit(t, e.venue(true))
		if err := e.ctrl.DeleteRequest(ctx, e.artist, e.request.ID); !errors.Is(err, domain.ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
		if err := e.ctrl.DeleteRequest(ctx, admin, e.request.ID); err != nil {
			t.Fatal(err)
		}
		if _, err := e.ctrl.Snapshot(ctx, e.request.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := e.ctrl.WithdrawBid(ctx, admin, bid.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected bid to be gone, got %v", err)
		}
	})
}

func TestCommandsJudgeCurrentHoldState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("holding the held bid again conflicts", func(t *testing.T) {
		e := newEnv(t)
		held := e.submit(t, e.venue(true))
		e.submit(t, e.venue(true))
		if _, err := e.ctrl.PlaceHold(ctx, e.artist, PlaceHoldInput{BidID: held.ID, Duration: time.Hour}); err != nil {
			t.Fatal(err)
		}
		_, err := e.ctrl.PlaceHold(ctx, e.artist, PlaceHoldInput{BidID: held.ID, Duration: time.Hour})
		if !errors.Is(err, domain.ErrConflictingHold) {
			t.Fatalf("expected ErrConflictingHold, got %v", err)
		}
	})

	t.Run("the held bid can be held again after expiry", func(t *testing.T) {
		e := newEnv(t)
		held := e.submit(t, e.venue(true))
		e.submit(t, e.venue(true))
		first, err := e.ctrl.PlaceHold(ctx, e.artist, PlaceHoldInput{BidID: held.ID, Duration: time.Hour})
		if err != nil {
			t.Fatal(err)
		}
		e.clock.Advance(2 * time.Hour)

		second, err := e.ctrl.PlaceHold(ctx, e.artist, PlaceHoldInput{BidID: held.ID, Duration: time.Hour})
		if err != nil {
			t.Fatalf("expected the expired hold to be settled first, got %v", err)
		}
		if second.ID == first.ID {
			t.Fatalf("expected a new hold")
		}
	})

	t.Run("a frozen sibling can be rejected after expiry", func(t *testing.T) {
		e := newEnv(t)
		held := e.submit(t, e.venue(true))
		frozen := e.submit(t, e.venue(true))
		if _, err := e.ctrl.PlaceHold(ctx, e.artist, PlaceHoldInput{BidID: held.ID, Duration: time.Hour}); err != nil {
			t.Fatal(err)
		}
		e.clock.Advance(2 * time.Hour)

		out, err := e.ctrl.RejectBid(ctx, e.artist, frozen.ID, "too late")
		if err != nil {
			t.Fatalf("expected reject to succeed once the hold expired, got %v", err)
		}
		if out.Status != domain.BidRejected || out.HoldState != domain.HoldAvailable {
			t.Fatalf("expected REJECTED/AVAILABLE, got %s/%s", out.Status, out.HoldState)
		}
	})

	t.Run("bids are admitted after an accepted hold expires", func(t *testing.T) {
		e := newEnv(t)
		held := e.submit(t, e.venue(true))
		if _, err := e.ctrl.PlaceHold(ctx, e.artist, PlaceHoldInput{BidID: held.ID, Duration: time.Hour}); err != nil {
			t.Fatal(err)
		}
		if _, err := e.ctrl.AcceptHeld(ctx, e.artist, held.ID); err != nil {
			t.Fatal(err)
		}
		e.clock.Advance(2 * time.Hour)

		late := e.submit(t, e.venue(true))
		if late.HoldState != domain.HoldAvailable {
			t.Fatalf("expected late bid AVAILABLE, got %s", late.HoldState)
		}
	})
}

package holds

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/booking-holds/internal/domain"
	"github.com/robertarktes/booking-holds/internal/observability"
	"go.opentelemetry.io/otel/codes"
)

type PlaceHoldInput struct {
	BidID    uuid.UUID
	Duration time.Duration
	Reason   string
	// MinCompetitors is a caller policy: the number of live siblings the
	// held bid must have. Zero disables the check.
	MinCompetitors int
}

// PlaceHold opens a hold on a PENDING bid and freezes every live sibling.
func (m *Manager) PlaceHold(ctx context.Context, actor domain.Actor, in PlaceHoldInput) (domain.HoldLedgerEntry, error) {
	if in.Duration <= 0 {
		return domain.HoldLedgerEntry{}, errors.Wrapf(domain.ErrInvalidInput, "hold duration must be positive, got %s", in.Duration)
	}
	if in.MinCompetitors < 0 {
		return domain.HoldLedgerEntry{}, errors.Wrap(domain.ErrInvalidInput, "min competitors must not be negative")
	}
	requestID, err := m.requestOfBid(ctx, in.BidID)
	if err != nil {
		return domain.HoldLedgerEntry{}, err
	}

	var placed domain.HoldLedgerEntry
	_, err = m.execute(ctx, command{
		op:        "place_hold",
		requestID: requestID,
		actor:     actor,
		lazy:      true,
		fn: func(ctx context.Context, u *unit) error {
			if err := domain.CanDecide(actor, u.req); err != nil {
				return err
			}
			if !u.req.Status.AcceptsBids() {
				return errors.Wrapf(domain.ErrIllegalTransition, "request %s is %s", u.req.ID, u.req.Status)
			}
			if u.active != nil {
				return errors.Wrapf(domain.ErrConflictingHold, "request %s already has active hold %s", u.req.ID, u.active.ID)
			}
			target, err := u.bid(in.BidID)
			if err != nil {
				return err
			}
			if target.Status != domain.BidPending {
				return errors.Wrapf(domain.ErrIllegalTransition, "bid %s has status %s, want PENDING", target.ID, target.Status)
			}

			var competitors []*domain.Bid
			for _, b := range u.siblings(target.ID) {
				if b.Live() {
					competitors = append(competitors, b)
				}
			}
			if len(competitors) < in.MinCompetitors {
				return errors.Wrapf(domain.ErrInsufficientCompetitors, "bid %s has %d competitors, need %d", target.ID, len(competitors), in.MinCompetitors)
			}

			hold, err := domain.NewHold(u.req.ID, actor.ID, in.Duration, in.Reason, u.now)
			if err != nil {
				return err
			}
			if err := target.PlaceHold(hold.ID, u.now); err != nil {
				return err
			}
			u.touch(target)
			for _, b := range competitors {
				if err := b.Freeze(hold.ID, u.now); err != nil {
					return err
				}
				u.touch(b)
			}
			u.open(hold)
			u.emit(u.event(domain.EventHoldPlaced).
				WithBid(target.ID).
				WithHold(hold.ID).
				With("expires_at", hold.ExpiresAt).
				With("frozen", len(competitors)).
				With("reason", hold.Reason))
			placed = hold
			return nil
		},
	})
	if err != nil {
		return domain.HoldLedgerEntry{}, err
	}
	return placed, nil
}

// AcceptHeld tentatively accepts the held bid. Siblings stay frozen.
func (m *Manager) AcceptHeld(ctx context.Context, actor domain.Actor, bidID uuid.UUID) (domain.Bid, error) {
	return m.onHeld(ctx, "accept_held", actor, bidID, func(u *unit, b *domain.Bid) error {
		if b.Status == domain.BidAccepted {
			return nil
		}
		if err := b.AcceptHeld(u.now); err != nil {
			return err
		}
		u.emit(u.event(domain.EventHoldAccepted).WithBid(b.ID).WithHold(*b.FrozenByHoldID))
		return nil
	})
}

// RevertToHeld undoes AcceptHeld; the hold and its frozen siblings are
// untouched.
func (m *Manager) RevertToHeld(ctx context.Context, actor domain.Actor, bidID uuid.UUID) (domain.Bid, error) {
	return m.onHeld(ctx, "revert_to_held", actor, bidID, func(u *unit, b *domain.Bid) error {
		if err := b.RevertToHeld(u.now); err != nil {
			return err
		}
		u.emit(u.event(domain.EventHoldReverted).WithBid(b.ID).WithHold(*b.FrozenByHoldID))
		return nil
	})
}

func (m *Manager) onHeld(ctx context.Context, op string, actor domain.Actor, bidID uuid.UUID, fn func(u *unit, b *domain.Bid) error) (domain.Bid, error) {
	requestID, err := m.requestOfBid(ctx, bidID)
	if err != nil {
		return domain.Bid{}, err
	}
	var out domain.Bid
	_, err = m.execute(ctx, command{
		op:        op,
		requestID: requestID,
		actor:     actor,
		lazy:      true,
		fn: func(ctx context.Context, u *unit) error {
			if err := domain.CanDecide(actor, u.req); err != nil {
				return err
			}
			b, err := u.bid(bidID)
			if err != nil {
				return err
			}
			if b.HoldState != domain.HoldHeld || u.active == nil || !b.HeldBy(u.active.ID) {
				return errors.Wrapf(domain.ErrIllegalTransition, "bid %s is not held", b.ID)
			}
			before := b.Status
			if err := fn(u, b); err != nil {
				return err
			}
			if b.Status != before {
				u.touch(b)
			}
			out = *b
			return nil
		},
	})
	if err != nil {
		return domain.Bid{}, err
	}
	return out, nil
}

// ConfirmAccepted is the irreversible half of the two-phase accept: the
// bid is confirmed, every competitor is rejected and the hold closes.
func (m *Manager) ConfirmAccepted(ctx context.Context, actor domain.Actor, bidID uuid.UUID) (domain.ConfirmResult, error) {
	requestID, err := m.requestOfBid(ctx, bidID)
	if err != nil {
		return domain.ConfirmResult{}, err
	}
	var res domain.ConfirmResult
	_, err = m.execute(ctx, command{
		op:        "confirm_accepted",
		requestID: requestID,
		actor:     actor,
		lazy:      true,
		fn: func(ctx context.Context, u *unit) error {
			if err := domain.CanDecide(actor, u.req); err != nil {
				return err
			}
			b, err := u.bid(bidID)
			if err != nil {
				return err
			}
			if u.active == nil || !b.HeldBy(u.active.ID) {
				return errors.Wrapf(domain.ErrIllegalTransition, "bid %s is not held", b.ID)
			}
			holdID := u.active.ID
			if err := b.Confirm(u.now); err != nil {
				return err
			}
			u.touch(b)

			var rejected []domain.Bid
			for _, s := range u.siblings(b.ID) {
				if !s.Live() {
					continue
				}
				if err := s.Reject(domain.CompetingConfirmedReason, u.now); err != nil {
					return err
				}
				u.touch(s)
				rejected = append(rejected, *s)
			}
			if _, _, err := u.closeHold(domain.HoldCancelled, domain.OutcomeConfirmed); err != nil {
				return err
			}
			u.req.Status = domain.RequestConfirmed

			u.emit(u.event(domain.EventHoldConfirmed).
				WithBid(b.ID).
				WithHold(holdID).
				With("rejected", len(rejected)))
			res = domain.ConfirmResult{Bid: *b, RejectedSiblings: rejected}
			return nil
		},
	})
	if err != nil {
		return domain.ConfirmResult{}, err
	}
	return res, nil
}

// DeclineHeld rejects the held bid, unfreezes its siblings and cancels the
// hold.
func (m *Manager) DeclineHeld(ctx context.Context, actor domain.Actor, bidID uuid.UUID, reason string) (domain.DeclineResult, error) {
	requestID, err := m.requestOfBid(ctx, bidID)
	if err != nil {
		return domain.DeclineResult{}, err
	}
	var res domain.DeclineResult
	_, err = m.execute(ctx, command{
		op:        "decline_held",
		requestID: requestID,
		actor:     actor,
		lazy:      true,
		fn: func(ctx context.Context, u *unit) error {
			if err := domain.CanDecide(actor, u.req); err != nil {
				return err
			}
			b, err := u.bid(bidID)
			if err != nil {
				return err
			}
			if u.active == nil || b.HoldState != domain.HoldHeld || !b.HeldBy(u.active.ID) {
				return errors.Wrapf(domain.ErrIllegalTransition, "bid %s is not held", b.ID)
			}
			holdID := u.active.ID
			if err := b.DeclineHeld(reason, u.now); err != nil {
				return err
			}
			u.touch(b)
			_, released, err := u.closeHold(domain.HoldCancelled, domain.OutcomeDeclined)
			if err != nil {
				return err
			}
			u.emit(u.event(domain.EventHoldDeclined).
				WithBid(b.ID).
				WithHold(holdID).
				With("reason", reason).
				With("released", len(released)))
			res = domain.DeclineResult{Bid: *b, ReleasedSiblings: released}
			return nil
		},
	})
	if err != nil {
		return domain.DeclineResult{}, err
	}
	return res, nil
}

// Release cancels a hold by id. Releasing a hold that is no longer active
// reports zero rows.
func (m *Manager) Release(ctx context.Context, actor domain.Actor, holdID uuid.UUID) (domain.Summary, error) {
	if err := domain.RequireAdmin(actor, "release holds"); err != nil {
		return domain.Summary{}, err
	}
	return m.closeByID(ctx, "release", actor, holdID, func(u *unit) (domain.Summary, error) {
		sum, _, err := u.closeHold(domain.HoldCancelled, domain.OutcomeReleased)
		if err != nil {
			return domain.Summary{}, err
		}
		u.emit(u.event(domain.EventHoldReleased).WithHold(holdID).With("bids_reset", sum.BidsReset))
		return sum, nil
	})
}

// Expire closes a hold whose expiry has passed. It is safe to call from a
// sweep and from lazy checks at once; whoever runs second sees nothing to do.
func (m *Manager) Expire(ctx context.Context, actor domain.Actor, holdID uuid.UUID) (domain.Summary, error) {
	if err := domain.RequireAdmin(actor, "expire holds"); err != nil {
		return domain.Summary{}, err
	}
	sum, err := m.closeByID(ctx, "expire", actor, holdID, func(u *unit) (domain.Summary, error) {
		return u.expireDue()
	})
	if err == nil && sum.HoldsClosed > 0 {
		observability.HoldsExpired.WithLabelValues("command").Add(float64(sum.HoldsClosed))
	}
	return sum, err
}

func (m *Manager) closeByID(ctx context.Context, op string, actor domain.Actor, holdID uuid.UUID, fn func(u *unit) (domain.Summary, error)) (domain.Summary, error) {
	hold, err := m.store.GetHold(ctx, holdID)
	if err != nil {
		return domain.Summary{}, err
	}
	if !hold.Active() {
		return domain.Summary{}, nil
	}
	var sum domain.Summary
	_, err = m.execute(ctx, command{
		op:        op,
		requestID: hold.RequestID,
		actor:     actor,
		fn: func(ctx context.Context, u *unit) error {
			if u.active == nil || u.active.ID != holdID {
				return nil
			}
			var err error
			sum, err = fn(u)
			return err
		},
	})
	if err != nil {
		return domain.Summary{}, err
	}
	return sum, nil
}

// ClearAll resets every HELD or FROZEN bid and cancels every ACTIVE hold in
// one transaction. It is an administrative reset for whole environments.
func (m *Manager) ClearAll(ctx context.Context, actor domain.Actor) (domain.Summary, error) {
	if err := domain.RequireAdmin(actor, "clear all holds"); err != nil {
		return domain.Summary{}, err
	}
	ctx, span := m.tracer.Start(ctx, "holds.clear_all")
	defer span.End()

	var (
		total  domain.Summary
		events []domain.Event
	)
	err := m.retry(ctx, "clear_all", "all", func(ctx context.Context) error {
		return m.store.WithTx(ctx, func(ctx context.Context) error {
			total = domain.Summary{}
			events = nil
			ids, err := m.store.HoldingRequests(ctx)
			if err != nil {
				return err
			}
			now := m.clock.Now()
			for _, id := range ids {
				u, err := load(ctx, m.store, id, actor, now)
				if err != nil {
					return err
				}
				sum, err := u.clearAll()
				if err != nil {
					return err
				}
				if err := u.flush(ctx, m.store); err != nil {
					return err
				}
				total = total.Add(sum)
				events = append(events, u.events...)
			}
			return nil
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.Kind(err))
		return domain.Summary{}, err
	}
	m.logger.WithField("holds_closed", total.HoldsClosed).
		WithField("bids_reset", total.BidsReset).
		WithField("requests", total.RequestsAffected).
		Info("cleared all holds")
	m.notify(ctx, events)
	return total, nil
}

// clearAll resets the unit regardless of which hold its bids reference, so
// rows left inconsistent by earlier tooling are repaired as well.
func (u *unit) clearAll() (domain.Summary, error) {
	var holdID *uuid.UUID
	if u.active != nil {
		id := u.active.ID
		holdID = &id
	}
	sum, _, err := u.closeHold(domain.HoldCancelled, domain.OutcomeCleared)
	if err != nil {
		return domain.Summary{}, err
	}
	for i := range u.bids {
		if u.bids[i].HoldState != domain.HoldAvailable {
			u.bids[i].Unfreeze(u.now)
			u.touch(&u.bids[i])
			sum.BidsReset++
		}
	}
	sum.RequestsAffected = 1
	e := u.event(domain.EventHoldsCleared).With("bids_reset", sum.BidsReset)
	if holdID != nil {
		e = e.WithHold(*holdID)
	}
	u.emit(e)
	return sum, nil
}

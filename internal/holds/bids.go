package holds

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/booking-holds/internal/domain"
)

// AdmitBid adds a venue's offer to a request. While a hold is active the
// new bid joins the frozen competitors.
func (m *Manager) AdmitBid(ctx context.Context, actor domain.Actor, requestID, venueID uuid.UUID, terms domain.Terms) (domain.Bid, error) {
	var out domain.Bid
	_, err := m.execute(ctx, command{
		op:        "submit_bid",
		requestID: requestID,
		actor:     actor,
		lazy:      true,
		fn: func(ctx context.Context, u *unit) error {
			if !u.req.Status.AcceptsBids() {
				return errors.Wrapf(domain.ErrInvalidRequestState, "request %s is %s", u.req.ID, u.req.Status)
			}
			if err := domain.CanBid(actor, u.req, venueID); err != nil {
				return err
			}
			for _, b := range u.bids {
				if b.VenueID == venueID && b.Live() {
					return errors.Wrapf(domain.ErrIllegalTransition, "venue %s already has live bid %s", venueID, b.ID)
				}
			}
			bid, err := domain.NewBid(u.req.ID, venueID, terms, u.now)
			if err != nil {
				return err
			}
			if u.active != nil {
				if err := bid.Freeze(u.active.ID, u.now); err != nil {
					return err
				}
			}
			u.add(bid)
			e := u.event(domain.EventBidSubmitted).
				WithBid(bid.ID).
				With("venue_id", venueID.String()).
				With("amount_cents", terms.AmountCents)
			if u.active != nil {
				e = e.WithHold(u.active.ID)
			}
			u.emit(e)
			out = bid
			return nil
		},
	})
	if err != nil {
		return domain.Bid{}, err
	}
	return out, nil
}

// WithdrawBid retires a live bid for its venue. Withdrawing the held bid
// ends the hold; a frozen bid simply leaves the competition.
func (m *Manager) WithdrawBid(ctx context.Context, actor domain.Actor, bidID uuid.UUID) (domain.Bid, error) {
	return m.onBid(ctx, "withdraw_bid", actor, bidID, func(u *unit, b *domain.Bid) error {
		if err := domain.CanWithdraw(actor, *b); err != nil {
			return err
		}
		held := u.active != nil && b.HoldState == domain.HoldHeld && b.HeldBy(u.active.ID)
		var holdID *uuid.UUID
		if b.FrozenByHoldID != nil {
			id := *b.FrozenByHoldID
			holdID = &id
		}
		if err := b.Withdraw(u.now); err != nil {
			return err
		}
		e := u.event(domain.EventBidWithdrawn).WithBid(b.ID)
		if held {
			sum, _, err := u.closeHold(domain.HoldCancelled, domain.OutcomeWithdrawn)
			if err != nil {
				return err
			}
			e = e.With("bids_reset", sum.BidsReset)
		}
		if holdID != nil {
			e = e.WithHold(*holdID)
		}
		u.emit(e)
		return nil
	})
}

// RejectBid turns down a single PENDING bid that no hold is touching.
func (m *Manager) RejectBid(ctx context.Context, actor domain.Actor, bidID uuid.UUID, reason string) (domain.Bid, error) {
	return m.onBid(ctx, "reject_bid", actor, bidID, func(u *unit, b *domain.Bid) error {
		if err := domain.CanDecide(actor, u.req); err != nil {
			return err
		}
		if b.Status != domain.BidPending || b.HoldState != domain.HoldAvailable {
			return errors.Wrapf(domain.ErrIllegalTransition, "bid %s is %s/%s, want PENDING/AVAILABLE", b.ID, b.Status, b.HoldState)
		}
		if err := b.Reject(reason, u.now); err != nil {
			return err
		}
		u.emit(u.event(domain.EventBidRejected).WithBid(b.ID).With("reason", reason))
		return nil
	})
}

func (m *Manager) onBid(ctx context.Context, op string, actor domain.Actor, bidID uuid.UUID, fn func(u *unit, b *domain.Bid) error) (domain.Bid, error) {
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
			b, err := u.bid(bidID)
			if err != nil {
				return err
			}
			if err := fn(u, b); err != nil {
				return err
			}
			u.touch(b)
			out = *b
			return nil
		},
	})
	if err != nil {
		return domain.Bid{}, err
	}
	return out, nil
}

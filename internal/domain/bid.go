package domain

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

type BidStatus string

const (
	BidPending   BidStatus = "PENDING"
	BidHold      BidStatus = "HOLD"
	BidAccepted  BidStatus = "ACCEPTED"
	BidRejected  BidStatus = "REJECTED"
	BidWithdrawn BidStatus = "WITHDRAWN"
	BidCancelled BidStatus = "CANCELLED"
)

type HoldState string

const (
	HoldAvailable HoldState = "AVAILABLE"
	HoldHeld      HoldState = "HELD"
	HoldFrozen    HoldState = "FROZEN"
)

// CompetingConfirmedReason is recorded on every competitor rejected by a
// confirmation.
const CompetingConfirmedReason = "Competing bid confirmed"

// Terms are the commercial and logistics terms of an offer. The engine
// stores them but never interprets them.
type Terms struct {
	AmountCents      int64  `json:"amount_cents"`
	Currency         string `json:"currency,omitempty"`
	BillingPosition  string `json:"billing_position,omitempty"`
	SetLengthMinutes int    `json:"set_length_minutes,omitempty"`
	Notes            string `json:"notes,omitempty"`
}

func (t Terms) Validate() error {
	if t.AmountCents < 0 {
		return errors.Wrap(ErrInvalidInput, "amount must not be negative")
	}
	if t.SetLengthMinutes < 0 {
		return errors.Wrap(ErrInvalidInput, "set length must not be negative")
	}
	return nil
}

// Bid is one venue's offer against a BookingRequest.
//
// Status and HoldState together form one composite state. Fields are
// exported for the storage adapters, but every state change goes through the
// transition methods below so an illegal pairing (REJECTED while HELD, a
// FROZEN bid with no hold reference) is never produced.
type Bid struct {
	ID             uuid.UUID
	RequestID      uuid.UUID
	VenueID        uuid.UUID
	Status         BidStatus
	HoldState      HoldState
	FrozenByHoldID *uuid.UUID
	Terms          Terms
	DeclinedReason string
	FrozenAt       *time.Time
	UnfrozenAt     *time.Time
	AcceptedAt     *time.Time
	ConfirmedAt    *time.Time
	DeclinedAt     *time.Time
	WithdrawnAt    *time.Time
	CancelledAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func NewBid(requestID, venueID uuid.UUID, terms Terms, now time.Time) (Bid, error) {
	if venueID == uuid.Nil {
		return Bid{}, errors.Wrap(ErrInvalidInput, "venue is required")
	}
	if err := terms.Validate(); err != nil {
		return Bid{}, err
	}
	return Bid{
		ID:        uuid.New(),
		RequestID: requestID,
		VenueID:   venueID,
		Status:    BidPending,
		HoldState: HoldAvailable,
		Terms:     terms,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Live bids are still competing: PENDING or HOLD.
func (b Bid) Live() bool {
	return b.Status == BidPending || b.Status == BidHold
}

func (b Bid) Confirmed() bool {
	return b.Status == BidAccepted && b.ConfirmedAt != nil
}

// HeldBy reports whether the bid is HELD or FROZEN by the given hold.
func (b Bid) HeldBy(holdID uuid.UUID) bool {
	return b.HoldState != HoldAvailable && b.FrozenByHoldID != nil && *b.FrozenByHoldID == holdID
}

// Check validates the Status/HoldState pairing of a single bid.
func (b Bid) Check() error {
	switch b.HoldState {
	case HoldAvailable:
		if b.FrozenByHoldID != nil {
			return errors.Wrapf(ErrInvariantViolation, "bid %s is AVAILABLE but references hold %s", b.ID, *b.FrozenByHoldID)
		}
		if b.Status == BidHold {
			return errors.Wrapf(ErrInvariantViolation, "bid %s has status HOLD without being held", b.ID)
		}
	case HoldHeld:
		if b.FrozenByHoldID == nil {
			return errors.Wrapf(ErrInvariantViolation, "bid %s is HELD without a hold reference", b.ID)
		}
		if b.Status != BidHold && b.Status != BidAccepted {
			return errors.Wrapf(ErrInvariantViolation, "bid %s is HELD with status %s", b.ID, b.Status)
		}
	case HoldFrozen:
		if b.FrozenByHoldID == nil {
			return errors.Wrapf(ErrInvariantViolation, "bid %s is FROZEN without a hold reference", b.ID)
		}
		if !b.Live() {
			return errors.Wrapf(ErrInvariantViolation, "bid %s is FROZEN with status %s", b.ID, b.Status)
		}
	default:
		return errors.Wrapf(ErrInvariantViolation, "bid %s has unknown hold state %q", b.ID, b.HoldState)
	}
	return nil
}

// PlaceHold marks the bid as the one the hold favours.
func (b *Bid) PlaceHold(holdID uuid.UUID, now time.Time) error {
	if b.Status != BidPending || b.HoldState != HoldAvailable {
		return illegal("bid %s is %s/%s, want PENDING/AVAILABLE", b.ID, b.Status, b.HoldState)
	}
	b.Status = BidHold
	b.HoldState = HoldHeld
	b.FrozenByHoldID = &holdID
	b.FrozenAt = &now
	b.UpdatedAt = now
	return nil
}

// Freeze suppresses a live sibling for the duration of a hold.
func (b *Bid) Freeze(holdID uuid.UUID, now time.Time) error {
	if !b.Live() || b.HoldState != HoldAvailable {
		return illegal("bid %s is %s/%s and cannot be frozen", b.ID, b.Status, b.HoldState)
	}
	b.HoldState = HoldFrozen
	b.FrozenByHoldID = &holdID
	b.FrozenAt = &now
	b.UpdatedAt = now
	return nil
}

// Unfreeze returns a bid to open competition. A held bid goes back to
// PENDING; frozen bids keep their status.
func (b *Bid) Unfreeze(now time.Time) {
	if b.HoldState == HoldAvailable {
		return
	}
	if b.HoldState == HoldHeld && (b.Status == BidHold || b.Status == BidAccepted) {
		b.Status = BidPending
		b.AcceptedAt = nil
	}
	b.HoldState = HoldAvailable
	b.FrozenByHoldID = nil
	b.UnfrozenAt = &now
	b.UpdatedAt = now
}

// AcceptHeld is the tentative, reversible half of the two-phase accept.
func (b *Bid) AcceptHeld(now time.Time) error {
	if b.HoldState != HoldHeld {
		return illegal("bid %s is %s, want HELD", b.ID, b.HoldState)
	}
	if b.Status == BidAccepted {
		return nil
	}
	if b.Status != BidHold {
		return illegal("bid %s has status %s, want HOLD", b.ID, b.Status)
	}
	b.Status = BidAccepted
	b.AcceptedAt = &now
	b.UpdatedAt = now
	return nil
}

// RevertToHeld undoes AcceptHeld.
func (b *Bid) RevertToHeld(now time.Time) error {
	if b.HoldState != HoldHeld || b.Status != BidAccepted {
		return illegal("bid %s is %s/%s, want ACCEPTED/HELD", b.ID, b.Status, b.HoldState)
	}
	b.Status = BidHold
	b.AcceptedAt = nil
	b.UpdatedAt = now
	return nil
}

// Confirm makes a tentatively accepted bid final. The hold reference is
// cleared because the hold closes in the same step.
func (b *Bid) Confirm(now time.Time) error {
	if b.HoldState != HoldHeld || b.Status != BidAccepted {
		return illegal("bid %s is %s/%s, want ACCEPTED/HELD", b.ID, b.Status, b.HoldState)
	}
	b.HoldState = HoldAvailable
	b.FrozenByHoldID = nil
	b.ConfirmedAt = &now
	b.UnfrozenAt = &now
	b.UpdatedAt = now
	return nil
}

// DeclineHeld rejects the held bid and clears its hold reference.
func (b *Bid) DeclineHeld(reason string, now time.Time) error {
	if b.HoldState != HoldHeld {
		return illegal("bid %s is %s, want HELD", b.ID, b.HoldState)
	}
	b.Status = BidRejected
	b.AcceptedAt = nil
	b.HoldState = HoldAvailable
	b.FrozenByHoldID = nil
	b.DeclinedReason = reason
	b.DeclinedAt = &now
	b.UnfrozenAt = &now
	b.UpdatedAt = now
	return nil
}

// Reject retires a live bid as REJECTED, releasing any hold reference.
func (b *Bid) Reject(reason string, now time.Time) error {
	if !b.Live() {
		return illegal("bid %s has status %s and cannot be rejected", b.ID, b.Status)
	}
	b.Unfreeze(now)
	b.Status = BidRejected
	b.DeclinedReason = reason
	b.DeclinedAt = &now
	b.UpdatedAt = now
	return nil
}

// Withdraw retires a live bid on the bidder's behalf.
func (b *Bid) Withdraw(now time.Time) error {
	if !b.Live() {
		return illegal("bid %s has status %s and cannot be withdrawn", b.ID, b.Status)
	}
	b.Unfreeze(now)
	b.Status = BidWithdrawn
	b.WithdrawnAt = &now
	b.UpdatedAt = now
	return nil
}

// Cancel retires a bid whose request was cancelled. Accepted bids are
// cancelled too unless already confirmed.
func (b *Bid) Cancel(now time.Time) error {
	if !b.Live() && !(b.Status == BidAccepted && b.ConfirmedAt == nil) {
		return illegal("bid %s has status %s and cannot be cancelled", b.ID, b.Status)
	}
	b.Unfreeze(now)
	b.Status = BidCancelled
	b.CancelledAt = &now
	b.UpdatedAt = now
	return nil
}

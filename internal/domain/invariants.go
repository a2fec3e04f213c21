package domain

import "github.com/cockroachdb/errors"

// CheckRequest verifies the cross-row invariants of one BookingRequest: its
// bids, and its ACTIVE hold if there is one. Commands call it on their
// post-state before committing.
func CheckRequest(req BookingRequest, bids []Bid, active *HoldLedgerEntry) error {
	if active != nil && (!active.Active() || active.RequestID != req.ID) {
		return errors.Wrapf(ErrInvariantViolation, "hold %s is not an active hold of request %s", active.ID, req.ID)
	}

	held := 0
	confirmed := 0
	for _, b := range bids {
		if b.RequestID != req.ID {
			return errors.Wrapf(ErrInvariantViolation, "bid %s belongs to request %s, not %s", b.ID, b.RequestID, req.ID)
		}
		if err := b.Check(); err != nil {
			return err
		}
		if b.Confirmed() {
			confirmed++
		}
		if b.HoldState == HoldAvailable {
			if active != nil && b.Live() {
				return errors.Wrapf(ErrInvariantViolation, "live bid %s is not frozen while hold %s is active", b.ID, active.ID)
			}
			continue
		}
		if active == nil {
			return errors.Wrapf(ErrInvariantViolation, "bid %s is %s but request %s has no active hold", b.ID, b.HoldState, req.ID)
		}
		if *b.FrozenByHoldID != active.ID {
			return errors.Wrapf(ErrInvariantViolation, "bid %s references hold %s, active hold is %s", b.ID, *b.FrozenByHoldID, active.ID)
		}
		if b.HoldState == HoldHeld {
			held++
		}
	}

	if held > 1 {
		return errors.Wrapf(ErrInvariantViolation, "request %s has %d HELD bids", req.ID, held)
	}
	if active != nil && held != 1 {
		return errors.Wrapf(ErrInvariantViolation, "active hold %s has %d HELD bids, want 1", active.ID, held)
	}
	if confirmed > 1 {
		return errors.Wrapf(ErrInvariantViolation, "request %s has %d confirmed bids", req.ID, confirmed)
	}
	if (req.Status == RequestConfirmed) != (confirmed == 1) {
		return errors.Wrapf(ErrInvariantViolation, "request %s is %s with %d confirmed bids", req.ID, req.Status, confirmed)
	}
	if want := DeriveStatus(req.Status, bids); want != req.Status {
		return errors.Wrapf(ErrInvariantViolation, "request %s is %s, bids imply %s", req.ID, req.Status, want)
	}
	return nil
}

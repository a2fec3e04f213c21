package domain

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

type HoldStatus string

const (
	HoldActive    HoldStatus = "ACTIVE"
	HoldCancelled HoldStatus = "CANCELLED"
	HoldExpired   HoldStatus = "EXPIRED"
)

// HoldOutcome records why a hold left ACTIVE.
type HoldOutcome string

const (
	OutcomeConfirmed HoldOutcome = "confirmed"
	OutcomeDeclined  HoldOutcome = "declined"
	OutcomeReleased  HoldOutcome = "released"
	OutcomeExpired   HoldOutcome = "expired"
	OutcomeCleared   HoldOutcome = "cleared"
	OutcomeWithdrawn HoldOutcome = "withdrawn"
	OutcomeCancelled HoldOutcome = "cancelled"
)

// HoldLedgerEntry is the record of one hold attempt on a BookingRequest.
type HoldLedgerEntry struct {
	ID          uuid.UUID
	RequestID   uuid.UUID
	RequestedBy uuid.UUID
	Status      HoldStatus
	Outcome     HoldOutcome
	Duration    time.Duration
	Reason      string
	StartsAt    time.Time
	ExpiresAt   time.Time
	RespondedAt *time.Time
	CreatedAt   time.Time
}

func NewHold(requestID, requestedBy uuid.UUID, duration time.Duration, reason string, now time.Time) (HoldLedgerEntry, error) {
	if duration <= 0 {
		return HoldLedgerEntry{}, errors.Wrapf(ErrInvalidInput, "hold duration must be positive, got %s", duration)
	}
	return HoldLedgerEntry{
		ID:          uuid.New(),
		RequestID:   requestID,
		RequestedBy: requestedBy,
		Status:      HoldActive,
		Duration:    duration,
		Reason:      reason,
		StartsAt:    now,
		ExpiresAt:   now.Add(duration),
		CreatedAt:   now,
	}, nil
}

func (h HoldLedgerEntry) Active() bool {
	return h.Status == HoldActive
}

// Due reports whether an active hold has reached its expiry at now.
func (h HoldLedgerEntry) Due(now time.Time) bool {
	return h.Active() && !now.Before(h.ExpiresAt)
}

// Close moves the entry out of ACTIVE. It happens exactly once.
func (h *HoldLedgerEntry) Close(status HoldStatus, outcome HoldOutcome, now time.Time) error {
	if !h.Active() {
		return illegal("hold %s is already %s", h.ID, h.Status)
	}
	if status == HoldActive {
		return illegal("hold %s cannot be closed as ACTIVE", h.ID)
	}
	h.Status = status
	h.Outcome = outcome
	h.RespondedAt = &now
	return nil
}

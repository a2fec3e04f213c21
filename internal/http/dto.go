package http

import (
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/booking-holds/internal/domain"
)

type requestDTO struct {
	ID            uuid.UUID  `json:"id"`
	Title         string     `json:"title"`
	RequestedDate time.Time  `json:"requested_date"`
	InitiatorKind string     `json:"initiator_kind"`
	InitiatorID   uuid.UUID  `json:"initiator_id"`
	CounterpartID *uuid.UUID `json:"counterpart_id,omitempty"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func toRequestDTO(r domain.BookingRequest) requestDTO {
	return requestDTO{
		ID:            r.ID,
		Title:         r.Title,
		RequestedDate: r.RequestedDate,
		InitiatorKind: string(r.InitiatorKind),
		InitiatorID:   r.InitiatorID,
		CounterpartID: r.CounterpartID,
		Status:        string(r.Status),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type bidDTO struct {
	ID             uuid.UUID    `json:"id"`
	RequestID      uuid.UUID    `json:"request_id"`
	VenueID        uuid.UUID    `json:"venue_id"`
	Status         string       `json:"status"`
	HoldState      string       `json:"hold_state"`
	FrozenByHoldID *uuid.UUID   `json:"frozen_by_hold_id,omitempty"`
	Terms          domain.Terms `json:"terms"`
	DeclinedReason string       `json:"declined_reason,omitempty"`
	AcceptedAt     *time.Time   `json:"accepted_at,omitempty"`
	ConfirmedAt    *time.Time   `json:"confirmed_at,omitempty"`
	DeclinedAt     *time.Time   `json:"declined_at,omitempty"`
	WithdrawnAt    *time.Time   `json:"withdrawn_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func toBidDTO(b domain.Bid) bidDTO {
	return bidDTO{
		ID:             b.ID,
		RequestID:      b.RequestID,
		VenueID:        b.VenueID,
		Status:         string(b.Status),
		HoldState:      string(b.HoldState),
		FrozenByHoldID: b.FrozenByHoldID,
		Terms:          b.Terms,
		DeclinedReason: b.DeclinedReason,
		AcceptedAt:     b.AcceptedAt,
		ConfirmedAt:    b.ConfirmedAt,
		DeclinedAt:     b.DeclinedAt,
		WithdrawnAt:    b.WithdrawnAt,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

func toBidDTOs(bids []domain.Bid) []bidDTO {
	out := make([]bidDTO, 0, len(bids))
	for _, b := range bids {
		out = append(out, toBidDTO(b))
	}
	return out
}

type holdDTO struct {
	ID          uuid.UUID  `json:"id"`
	RequestID   uuid.UUID  `json:"request_id"`
	RequestedBy uuid.UUID  `json:"requested_by"`
	Status      string     `json:"status"`
	Outcome     string     `json:"outcome,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	StartsAt    time.Time  `json:"starts_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

func toHoldDTO(h domain.HoldLedgerEntry) holdDTO {
	return holdDTO{
		ID:          h.ID,
		RequestID:   h.RequestID,
		RequestedBy: h.RequestedBy,
		Status:      string(h.Status),
		Outcome:     string(h.Outcome),
		Reason:      h.Reason,
		StartsAt:    h.StartsAt,
		ExpiresAt:   h.ExpiresAt,
		RespondedAt: h.RespondedAt,
	}
}

type snapshotDTO struct {
	Request    requestDTO `json:"request"`
	Bids       []bidDTO   `json:"bids"`
	ActiveHold *holdDTO   `json:"active_hold"`
}

func toSnapshotDTO(s domain.Snapshot) snapshotDTO {
	dto := snapshotDTO{Request: toRequestDTO(s.Request), Bids: toBidDTOs(s.Bids)}
	if s.ActiveHold != nil {
		h := toHoldDTO(*s.ActiveHold)
		dto.ActiveHold = &h
	}
	return dto
}

type createRequestBody struct {
	Title         string     `json:"title"`
	RequestedDate time.Time  `json:"requested_date"`
	InitiatorKind string     `json:"initiator_kind"`
	InitiatorID   *uuid.UUID `json:"initiator_id"`
	CounterpartID *uuid.UUID `json:"counterpart_id"`
}

type submitBidBody struct {
	VenueID *uuid.UUID   `json:"venue_id"`
	Terms   domain.Terms `json:"terms"`
}

type placeHoldBody struct {
	Duration       string `json:"duration"`
	Reason         string `json:"reason"`
	MinCompetitors int    `json:"min_competitors"`
}

type reasonBody struct {
	Reason string `json:"reason"`
}

package domain

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

type RequestStatus string

const (
	RequestOpen      RequestStatus = "OPEN"
	RequestPending   RequestStatus = "PENDING"
	RequestAccepted  RequestStatus = "ACCEPTED"
	RequestConfirmed RequestStatus = "CONFIRMED"
	RequestDeclined  RequestStatus = "DECLINED"
	RequestCancelled RequestStatus = "CANCELLED"
)

// Terminal statuses are never rewritten by status derivation.
func (s RequestStatus) Terminal() bool {
	switch s {
	case RequestConfirmed, RequestDeclined, RequestCancelled:
		return true
	}
	return false
}

// AcceptsBids reports whether new bids may be submitted.
func (s RequestStatus) AcceptsBids() bool {
	return s == RequestOpen || s == RequestPending
}

type PartyKind string

const (
	PartyArtist PartyKind = "artist"
	PartyVenue  PartyKind = "venue"
)

func (k PartyKind) Valid() bool {
	return k == PartyArtist || k == PartyVenue
}

// BookingRequest is one party's ask for a show on a given date. It is the
// parent of every bid made against it.
type BookingRequest struct {
	ID            uuid.UUID
	Title         string
	RequestedDate time.Time
	InitiatorKind PartyKind
	InitiatorID   uuid.UUID
	CounterpartID *uuid.UUID
	Status        RequestStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NewBookingRequest(title string, date time.Time, kind PartyKind, initiator uuid.UUID, counterpart *uuid.UUID, now time.Time) (BookingRequest, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return BookingRequest{}, errors.Wrap(ErrInvalidInput, "title is required")
	}
	if date.IsZero() {
		return BookingRequest{}, errors.Wrap(ErrInvalidInput, "requested date is required")
	}
	if !kind.Valid() {
		return BookingRequest{}, errors.Wrapf(ErrInvalidInput, "unknown initiator kind %q", kind)
	}
	if initiator == uuid.Nil {
		return BookingRequest{}, errors.Wrap(ErrInvalidInput, "initiator is required")
	}
	return BookingRequest{
		ID:            uuid.New(),
		Title:         title,
		RequestedDate: date.UTC().Truncate(24 * time.Hour),
		InitiatorKind: kind,
		InitiatorID:   initiator,
		CounterpartID: counterpart,
		Status:        RequestOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// DeriveStatus computes the aggregate status of a request from its bids.
// Terminal statuses are sticky.
func DeriveStatus(current RequestStatus, bids []Bid) RequestStatus {
	if current.Terminal() {
		return current
	}
	live := false
	for _, b := range bids {
		if b.Status == BidAccepted && b.ConfirmedAt == nil {
			return RequestAccepted
		}
		if b.Live() {
			live = true
		}
	}
	if live {
		return RequestPending
	}
	return RequestOpen
}

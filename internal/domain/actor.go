package domain

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

type Role string

const (
	RoleArtist Role = "artist"
	RoleVenue  Role = "venue"
	RoleAdmin  Role = "admin"
	// RoleSystem is used by the expiry sweep.
	RoleSystem Role = "system"
)

// Actor is the authenticated party issuing a command.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// SystemActor is the identity of scheduled jobs.
var SystemActor = Actor{ID: uuid.Nil, Role: RoleSystem}

func (a Actor) Privileged() bool {
	return a.Role == RoleAdmin || a.Role == RoleSystem
}

func forbidden(a Actor, action string) error {
	return errors.Wrapf(ErrForbidden, "%s %s may not %s", a.Role, a.ID, action)
}

// CanDecide reports whether the actor may steer holds on the request and
// cancel it: the initiator, or an admin.
func CanDecide(a Actor, req BookingRequest) error {
	if a.Privileged() || a.ID == req.InitiatorID {
		return nil
	}
	return forbidden(a, "decide on request "+req.ID.String())
}

// CanDeclineRequest is reserved for the counterpart named on the request.
func CanDeclineRequest(a Actor, req BookingRequest) error {
	if a.Privileged() || (req.CounterpartID != nil && *req.CounterpartID == a.ID) {
		return nil
	}
	return forbidden(a, "decline request "+req.ID.String())
}

// CanWithdraw is reserved for the bidding venue.
func CanWithdraw(a Actor, bid Bid) error {
	if a.Privileged() || a.ID == bid.VenueID {
		return nil
	}
	return forbidden(a, "withdraw bid "+bid.ID.String())
}

// CanBid checks that a venue bids as itself and not on its own request.
func CanBid(a Actor, req BookingRequest, venueID uuid.UUID) error {
	if a.Privileged() {
		return nil
	}
	if a.ID != venueID {
		return forbidden(a, "bid on behalf of "+venueID.String())
	}
	if a.ID == req.InitiatorID {
		return forbidden(a, "bid on its own request")
	}
	return nil
}

func RequireAdmin(a Actor, action string) error {
	if a.Privileged() {
		return nil
	}
	return forbidden(a, action)
}

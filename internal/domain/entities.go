package domain

import "github.com/google/uuid"

// Snapshot is the current state of one request: the request, all of its
// bids, and its active hold if any.
type Snapshot struct {
	Request    BookingRequest
	Bids       []Bid
	ActiveHold *HoldLedgerEntry
}

func (s Snapshot) Bid(id uuid.UUID) (Bid, bool) {
	for _, b := range s.Bids {
		if b.ID == id {
			return b, true
		}
	}
	return Bid{}, false
}

type ConfirmResult struct {
	Bid              Bid
	RejectedSiblings []Bid
}

type DeclineResult struct {
	Bid              Bid
	ReleasedSiblings []Bid
}

// Summary reports the rows touched by release, expire and clearAll. A
// repeated call reports zeros.
type Summary struct {
	HoldsClosed      int `json:"holds_closed"`
	BidsReset        int `json:"bids_reset"`
	RequestsAffected int `json:"requests_affected"`
}

func (s Summary) Add(o Summary) Summary {
	return Summary{
		HoldsClosed:      s.HoldsClosed + o.HoldsClosed,
		BidsReset:        s.BidsReset + o.BidsReset,
		RequestsAffected: s.RequestsAffected + o.RequestsAffected,
	}
}

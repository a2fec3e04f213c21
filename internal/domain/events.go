package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventRequestCreated   EventType = "request.created"
	EventRequestCancelled EventType = "request.cancelled"
	EventRequestDeclined  EventType = "request.declined"
	EventRequestDeleted   EventType = "request.deleted"
	EventBidSubmitted     EventType = "bid.submitted"
	EventBidWithdrawn     EventType = "bid.withdrawn"
	EventBidRejected      EventType = "bid.rejected"
	EventHoldPlaced       EventType = "hold.placed"
	EventHoldAccepted     EventType = "hold.accepted"
	EventHoldReverted     EventType = "hold.reverted"
	EventHoldConfirmed    EventType = "hold.confirmed"
	EventHoldDeclined     EventType = "hold.declined"
	EventHoldReleased     EventType = "hold.released"
	EventHoldExpired      EventType = "hold.expired"
	EventHoldsCleared     EventType = "holds.cleared"
)

// Event is a committed state change, published to notification and
// messaging consumers through the outbox.
type Event struct {
	ID         uuid.UUID              `json:"id"`
	Type       EventType              `json:"type"`
	RequestID  uuid.UUID              `json:"request_id"`
	BidID      *uuid.UUID             `json:"bid_id,omitempty"`
	HoldID     *uuid.UUID             `json:"hold_id,omitempty"`
	ActorID    uuid.UUID              `json:"actor_id"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

func NewEvent(t EventType, requestID uuid.UUID, actor uuid.UUID, now time.Time) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		RequestID:  requestID,
		ActorID:    actor,
		OccurredAt: now,
	}
}

func (e Event) WithBid(id uuid.UUID) Event {
	e.BidID = &id
	return e
}

func (e Event) WithHold(id uuid.UUID) Event {
	e.HoldID = &id
	return e
}

func (e Event) With(key string, value interface{}) Event {
	data := make(map[string]interface{}, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[key] = value
	e.Data = data
	return e
}

package bids

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/booking-holds/internal/domain"
	"github.com/robertarktes/booking-holds/internal/holds"
	"github.com/robertarktes/booking-holds/internal/observability"
)

// Venue is the directory entry of a bidding venue.
type Venue struct {
	ID     uuid.UUID
	Name   string
	City   string
	Active bool
}

// VenueDirectory resolves venues for bid submission. It returns
// domain.ErrNotFound for unknown venues.
type VenueDirectory interface {
	Venue(ctx context.Context, id uuid.UUID) (Venue, error)
}

// Controller is the entry point for bid and hold commands. It validates
// input and the venue directory; bid and hold state is judged by the hold
// manager under the request lock, after any due hold has expired.
type Controller struct {
	holds      *holds.Manager
	venues     VenueDirectory
	logger     observability.Logger
	defaultTTL time.Duration
}

type Option func(*Controller)

func WithVenueDirectory(d VenueDirectory) Option {
	return func(c *Controller) { c.venues = d }
}

func WithLogger(l observability.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDefaultTTL sets the hold duration used when a caller names none.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *Controller) { c.defaultTTL = d }
}

func NewController(m *holds.Manager, opts ...Option) *Controller {
	c := &Controller{
		holds:      m,
		logger:     observability.NewLogger(),
		defaultTTL: 48 * time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type SubmitBidInput struct {
	RequestID uuid.UUID
	VenueID   uuid.UUID
	Terms     domain.Terms
}

func (c *Controller) SubmitBid(ctx context.Context, actor domain.Actor, in SubmitBidInput) (domain.Bid, error) {
	if in.VenueID == uuid.Nil {
		return domain.Bid{}, errors.Wrap(domain.ErrInvalidInput, "venue is required")
	}
	if err := in.Terms.Validate(); err != nil {
		return domain.Bid{}, err
	}
	req, err := c.holds.GetRequest(ctx, in.RequestID)
	if err != nil {
		return domain.Bid{}, err
	}
	if err := domain.CanBid(actor, req, in.VenueID); err != nil {
		return domain.Bid{}, err
	}
	if c.venues != nil {
		venue, err := c.venues.Venue(ctx, in.VenueID)
		if err != nil {
			return domain.Bid{}, err
		}
		if !venue.Active {
			return domain.Bid{}, errors.Wrapf(domain.ErrInvalidInput, "venue %s is not accepting bookings", venue.ID)
		}
	}
	bid, err := c.holds.AdmitBid(ctx, actor, in.RequestID, in.VenueID, in.Terms)
	if err != nil {
		return domain.Bid{}, err
	}
	c.logger.WithField("bid_id", bid.ID).WithField("request_id", bid.RequestID).Debug("bid submitted")
	return bid, nil
}

// WithdrawBid is legal from PENDING or HOLD. Withdrawing a held bid ends its
// hold.
func (c *Controller) WithdrawBid(ctx context.Context, actor domain.Actor, bidID uuid.UUID) (domain.Bid, error) {
	return c.holds.WithdrawBid(ctx, actor, bidID)
}

// RejectBid is legal from PENDING only. A held or frozen bid must be
// resolved through its hold first.
func (c *Controller) RejectBid(ctx context.Context, actor domain.Actor, bidID uuid.UUID, reason string) (domain.Bid, error) {
	return c.holds.RejectBid(ctx, actor, bidID, reason)
}

type PlaceHoldInput struct {
	BidID          uuid.UUID
	Duration       time.Duration
	Reason         string
	MinCompetitors int
}

func (c *Controller) PlaceHold(ctx context.Context, actor domain.Actor, in PlaceHoldInput) (domain.HoldLedgerEntry, error) {
	if in.Duration == 0 {
		in.Duration = c.defaultTTL
	}
	return c.holds.PlaceHold(ctx, actor, holds.PlaceHoldInput{
		BidID:          in.BidID,
		Duration:       in.Duration,
		Reason:         in.Reason,
		MinCompetitors: in.MinCompetitors,
	})
}

func (c *Controller) AcceptHeld(ctx context.Context, actor domain.Actor, bidID uuid.UUID) (domain.Bid, error) {
	return c.holds.AcceptHeld(ctx, actor, bidID)
}

func (c *Controller) ConfirmAccepted(ctx context.Context, actor domain.Actor, bidID uuid.UUID) (domain.ConfirmResult, error) {
	return c.holds.ConfirmAccepted(ctx, actor, bidID)
}

func (c *Controller) RevertToHeld(ctx context.Context, actor domain.Actor, bidID uuid.UUID) (domain.Bid, error) {
	return c.holds.RevertToHeld(ctx, actor, bidID)
}

func (c *Controller) DeclineHeld(ctx context.Context, actor domain.Actor, bidID uuid.UUID, reason string) (domain.DeclineResult, error) {
	return c.holds.DeclineHeld(ctx, actor, bidID, reason)
}

func (c *Controller) Release(ctx context.Context, actor domain.Actor, holdID uuid.UUID) (domain.Summary, error) {
	return c.holds.Release(ctx, actor, holdID)
}

func (c *Controller) Expire(ctx context.Context, actor domain.Actor, holdID uuid.UUID) (domain.Summary, error) {
	return c.holds.Expire(ctx, actor, holdID)
}

func (c *Controller) ClearAll(ctx context.Context, actor domain.Actor) (domain.Summary, error) {
	return c.holds.ClearAll(ctx, actor)
}

func (c *Controller) CreateRequest(ctx context.Context, actor domain.Actor, in holds.CreateRequestInput) (domain.BookingRequest, error) {
	return c.holds.CreateRequest(ctx, actor, in)
}

func (c *Controller) Snapshot(ctx context.Context, requestID uuid.UUID) (domain.Snapshot, error) {
	return c.holds.Snapshot(ctx, requestID)
}

func (c *Controller) CancelRequest(ctx context.Context, actor domain.Actor, requestID uuid.UUID, reason string) (domain.BookingRequest, error) {
	return c.holds.CancelRequest(ctx, actor, requestID, reason)
}

func (c *Controller) DeclineRequest(ctx context.Context, actor domain.Actor, requestID uuid.UUID, reason string) (domain.BookingRequest, error) {
	return c.holds.DeclineRequest(ctx, actor, requestID, reason)
}

func (c *Controller) DeleteRequest(ctx context.Context, actor domain.Actor, requestID uuid.UUID) error {
	return c.holds.DeleteRequest(ctx, actor, requestID)
}

package holds

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/booking-holds/internal/domain"
	"github.com/robertarktes/booking-holds/internal/observability"
)

type CreateRequestInput struct {
	Title         string
	RequestedDate time.Time
	InitiatorKind domain.PartyKind
	InitiatorID   uuid.UUID
	CounterpartID *uuid.UUID
}

func (m *Manager) CreateRequest(ctx context.Context, actor domain.Actor, in CreateRequestInput) (domain.BookingRequest, error) {
	if !actor.Privileged() && actor.ID != in.InitiatorID {
		return domain.BookingRequest{}, errors.Wrapf(domain.ErrForbidden, "%s may not create requests for %s", actor.ID, in.InitiatorID)
	}
	now := m.clock.Now()
	req, err := domain.NewBookingRequest(in.Title, in.RequestedDate, in.InitiatorKind, in.InitiatorID, in.CounterpartID, now)
	if err != nil {
		return domain.BookingRequest{}, err
	}
	event := domain.NewEvent(domain.EventRequestCreated, req.ID, actor.ID, now).
		With("title", req.Title).
		With("requested_date", req.RequestedDate.Format("2006-01-02"))
	err = m.store.WithTx(ctx, func(ctx context.Context) error {
		if err := m.store.CreateRequest(ctx, req); err != nil {
			return err
		}
		return m.store.AppendEvents(ctx, []domain.Event{event})
	})
	observability.HoldCommands.WithLabelValues("create_request", domain.Kind(err)).Inc()
	if err != nil {
		return domain.BookingRequest{}, err
	}
	m.notify(ctx, []domain.Event{event})
	return req, nil
}

// CancelRequest withdraws the whole ask on the initiator's behalf. Live
// bids are cancelled and an active hold is closed.
func (m *Manager) CancelRequest(ctx context.Context, actor domain.Actor, requestID uuid.UUID, reason string) (domain.BookingRequest, error) {
	return m.retire(ctx, "cancel_request", actor, requestID, func(u *unit) error {
		if err := domain.CanDecide(actor, u.req); err != nil {
			return err
		}
		if u.req.Status.Terminal() {
			return errors.Wrapf(domain.ErrIllegalTransition, "request %s is already %s", u.req.ID, u.req.Status)
		}
		if _, _, err := u.closeHold(domain.HoldCancelled, domain.OutcomeCancelled); err != nil {
			return err
		}
		cancelled := 0
		for i := range u.bids {
			b := &u.bids[i]
			if !b.Live() {
				continue
			}
			if err := b.Cancel(u.now); err != nil {
				return err
			}
			u.touch(b)
			cancelled++
		}
		u.req.Status = domain.RequestCancelled
		u.emit(u.event(domain.EventRequestCancelled).
			With("reason", reason).
			With("bids_cancelled", cancelled))
		return nil
	})
}

// DeclineRequest lets the counterpart turn down the whole ask. Live bids
// are rejected with the given reason.
func (m *Manager) DeclineRequest(ctx context.Context, actor domain.Actor, requestID uuid.UUID, reason string) (domain.BookingRequest, error) {
	return m.retire(ctx, "decline_request", actor, requestID, func(u *unit) error {
		if err := domain.CanDeclineRequest(actor, u.req); err != nil {
			return err
		}
		if u.req.Status.Terminal() {
			return errors.Wrapf(domain.ErrIllegalTransition, "request %s is already %s", u.req.ID, u.req.Status)
		}
		if _, _, err := u.closeHold(domain.HoldCancelled, domain.OutcomeDeclined); err != nil {
			return err
		}
		rejected := 0
		for i := range u.bids {
			b := &u.bids[i]
			if !b.Live() {
				continue
			}
			if err := b.Reject(reason, u.now); err != nil {
				return err
			}
			u.touch(b)
			rejected++
		}
		u.req.Status = domain.RequestDeclined
		u.emit(u.event(domain.EventRequestDeclined).
			With("reason", reason).
			With("bids_rejected", rejected))
		return nil
	})
}

func (m *Manager) retire(ctx context.Context, op string, actor domain.Actor, requestID uuid.UUID, fn func(u *unit) error) (domain.BookingRequest, error) {
	u, err := m.execute(ctx, command{
		op:        op,
		requestID: requestID,
		actor:     actor,
		lazy:      true,
		fn: func(ctx context.Context, u *unit) error {
			return fn(u)
		},
	})
	if err != nil {
		return domain.BookingRequest{}, err
	}
	return u.req, nil
}

// DeleteRequest removes a request with its bids and hold ledger. Bids go
// first so nothing ever references a missing request.
func (m *Manager) DeleteRequest(ctx context.Context, actor domain.Actor, requestID uuid.UUID) error {
	if err := domain.RequireAdmin(actor, "delete requests"); err != nil {
		return err
	}
	var event domain.Event
	err := m.store.WithTx(ctx, func(ctx context.Context) error {
		req, err := m.store.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		bids, err := m.store.ListBids(ctx, requestID)
		if err != nil {
			return err
		}
		event = domain.NewEvent(domain.EventRequestDeleted, req.ID, actor.ID, m.clock.Now()).
			With("status", string(req.Status)).
			With("bids", len(bids))
		if err := m.store.AppendEvents(ctx, []domain.Event{event}); err != nil {
			return err
		}
		return m.store.DeleteRequest(ctx, requestID)
	})
	observability.HoldCommands.WithLabelValues("delete_request", domain.Kind(err)).Inc()
	if err != nil {
		return err
	}
	m.logger.WithField("request_id", requestID).Info("request deleted")
	m.notify(ctx, []domain.Event{event})
	return nil
}

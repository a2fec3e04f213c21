package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/booking-holds/internal/bids"
	"github.com/robertarktes/booking-holds/internal/domain"
	"github.com/robertarktes/booking-holds/internal/holds"
	"github.com/robertarktes/booking-holds/internal/observability"
)

// SnapshotCache serves snapshot reads, calling fill on a miss.
type SnapshotCache interface {
	Load(ctx context.Context, id uuid.UUID, fill func(ctx context.Context) (domain.Snapshot, error)) (domain.Snapshot, error)
}

type Handlers struct {
	ctrl      *bids.Controller
	snapshots SnapshotCache
	ready     []func(ctx context.Context) error
	logger    observability.Logger
}

type Option func(*Handlers)

func WithSnapshotCache(c SnapshotCache) Option {
	return func(h *Handlers) { h.snapshots = c }
}

// WithReadinessCheck adds a dependency probe to /v1/readyz.
func WithReadinessCheck(check func(ctx context.Context) error) Option {
	return func(h *Handlers) { h.ready = append(h.ready, check) }
}

func NewHandlers(ctrl *bids.Controller, logger observability.Logger, opts ...Option) *Handlers {
	h := &Handlers{ctrl: ctrl, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handlers) actor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	a, ok := ActorFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing credentials", Code: "unauthorized"})
	}
	return a, ok
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid id", Code: "invalid_input"})
		return uuid.Nil, false
	}
	return id, true
}

// decode reads a JSON body. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed body: " + err.Error(), Code: "invalid_input"})
		return false
	}
	return true
}

func (h *Handlers) CreateRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body createRequestBody
	if !decode(w, r, &body) {
		return
	}
	in := holds.CreateRequestInput{
		Title:         body.Title,
		RequestedDate: body.RequestedDate,
		InitiatorKind: domain.PartyKind(body.InitiatorKind),
		InitiatorID:   actor.ID,
		CounterpartID: body.CounterpartID,
	}
	if body.InitiatorID != nil {
		in.InitiatorID = *body.InitiatorID
	}
	if in.InitiatorKind == "" {
		in.InitiatorKind = domain.PartyKind(actor.Role)
	}
	req, err := h.ctrl.CreateRequest(r.Context(), actor, in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDTO(req))
}

func (h *Handlers) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.actor(w, r); !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	fill := func(ctx context.Context) (domain.Snapshot, error) {
		return h.ctrl.Snapshot(ctx, id)
	}
	var (
		snap domain.Snapshot
		err  error
	)
	if h.snapshots != nil {
		snap, err = h.snapshots.Load(r.Context(), id, fill)
	} else {
		snap, err = fill(r.Context())
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotDTO(snap))
}

func (h *Handlers) CancelRequest(w http.ResponseWriter, r *http.Request) {
	h.retireRequest(w, r, h.ctrl.CancelRequest)
}

func (h *Handlers) DeclineRequest(w http.ResponseWriter, r *http.Request) {
	h.retireRequest(w, r, h.ctrl.DeclineRequest)
}

func (h *Handlers) retireRequest(w http.ResponseWriter, r *http.Request, fn func(context.Context, domain.Actor, uuid.UUID, string) (domain.BookingRequest, error)) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body reasonBody
	if !decode(w, r, &body) {
		return
	}
	req, err := fn(r.Context(), actor, id, body.Reason)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

func (h *Handlers) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.ctrl.DeleteRequest(r.Context(), actor, id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) SubmitBid(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	requestID, ok := pathID(w, r)
	if !ok {
		return
	}
	var body submitBidBody
	if !decode(w, r, &body) {
		return
	}
	venueID := actor.ID
	if body.VenueID != nil {
		venueID = *body.VenueID
	}
	bid, err := h.ctrl.SubmitBid(r.Context(), actor, bids.SubmitBidInput{
		RequestID: requestID,
		VenueID:   venueID,
		Terms:     body.Terms,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBidDTO(bid))
}

func (h *Handlers) WithdrawBid(w http.ResponseWriter, r *http.Request) {
	h.bidCommand(w, r, func(ctx context.Context, a domain.Actor, id uuid.UUID, _ string) (domain.Bid, error) {
		return h.ctrl.WithdrawBid(ctx, a, id)
	})
}

func (h *Handlers) RejectBid(w http.ResponseWriter, r *http.Request) {
	h.bidCommand(w, r, h.ctrl.RejectBid)
}

func (h *Handlers) AcceptHeld(w http.ResponseWriter, r *http.Request) {
	h.bidCommand(w, r, func(ctx context.Context, a domain.Actor, id uuid.UUID, _ string) (domain.Bid, error) {
		return h.ctrl.AcceptHeld(ctx, a, id)
	})
}

func (h *Handlers) RevertToHeld(w http.ResponseWriter, r *http.Request) {
	h.bidCommand(w, r, func(ctx context.Context, a domain.Actor, id uuid.UUID, _ string) (domain.Bid, error) {
		return h.ctrl.RevertToHeld(ctx, a, id)
	})
}

func (h *Handlers) bidCommand(w http.ResponseWriter, r *http.Request, fn func(context.Context, domain.Actor, uuid.UUID, string) (domain.Bid, error)) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body reasonBody
	if !decode(w, r, &body) {
		return
	}
	bid, err := fn(r.Context(), actor, id, body.Reason)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toBidDTO(bid))
}

func (h *Handlers) PlaceHold(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body placeHoldBody
	if !decode(w, r, &body) {
		return
	}
	var duration time.Duration
	if body.Duration != "" {
		d, err := time.ParseDuration(body.Duration)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid duration: " + err.Error(), Code: "invalid_input"})
			return
		}
		if d <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "duration must be positive", Code: "invalid_input"})
			return
		}
		duration = d
	}
	hold, err := h.ctrl.PlaceHold(r.Context(), actor, bids.PlaceHoldInput{
		BidID:          id,
		Duration:       duration,
		Reason:         body.Reason,
		MinCompetitors: body.MinCompetitors,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toHoldDTO(hold))
}

func (h *Handlers) ConfirmAccepted(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.ctrl.ConfirmAccepted(r.Context(), actor, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bid":               toBidDTO(res.Bid),
		"rejected_siblings": toBidDTOs(res.RejectedSiblings),
	})
}

func (h *Handlers) DeclineHeld(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body reasonBody
	if !decode(w, r, &body) {
		return
	}
	res, err := h.ctrl.DeclineHeld(r.Context(), actor, id, body.Reason)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bid":               toBidDTO(res.Bid),
		"released_siblings": toBidDTOs(res.ReleasedSiblings),
	})
}

func (h *Handlers) Release(w http.ResponseWriter, r *http.Request) {
	h.holdCommand(w, r, h.ctrl.Release)
}

func (h *Handlers) Expire(w http.ResponseWriter, r *http.Request) {
	h.holdCommand(w, r, h.ctrl.Expire)
}

func (h *Handlers) holdCommand(w http.ResponseWriter, r *http.Request, fn func(context.Context, domain.Actor, uuid.UUID) (domain.Summary, error)) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sum, err := fn(r.Context(), actor, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handlers) ClearAll(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	sum, err := h.ctrl.ClearAll(r.Context(), actor)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, check := range h.ready {
		if err := check(ctx); err != nil {
			LoggerFrom(r.Context(), h.logger).WithField("error", err.Error()).Warn("readiness check failed")
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ready"))
}

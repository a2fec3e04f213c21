package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/booking-holds/internal/domain"
)

type Repository struct {
	pool      *pgxpool.Pool
	isolation pgx.TxIsoLevel
}

type Option func(*Repository)

// WithIsolation selects READ COMMITTED (the default) or SERIALIZABLE.
func WithIsolation(name string) Option {
	return func(r *Repository) { r.isolation = isolationLevel(name) }
}

func NewRepository(pool *pgxpool.Pool, opts ...Option) *Repository {
	r := &Repository{pool: pool, isolation: pgx.ReadCommitted}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

const requestColumns = `id, title, requested_date, initiator_kind, initiator_id, counterpart_id, status, created_at, updated_at`

func scanRequest(row pgx.Row) (domain.BookingRequest, error) {
	var (
		req          domain.BookingRequest
		kind, status string
	)
	err := row.Scan(&req.ID, &req.Title, &req.RequestedDate, &kind, &req.InitiatorID, &req.CounterpartID, &status, &req.CreatedAt, &req.UpdatedAt)
	req.InitiatorKind = domain.PartyKind(kind)
	req.Status = domain.RequestStatus(status)
	return req, err
}

func (r *Repository) CreateRequest(ctx context.Context, req domain.BookingRequest) error {
	_, err := r.q(ctx).Exec(ctx, `
		INSERT INTO booking_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, req.ID, req.Title, req.RequestedDate, string(req.InitiatorKind), req.InitiatorID, req.CounterpartID, string(req.Status), req.CreatedAt, req.UpdatedAt)
	return mapError(err)
}

func (r *Repository) GetRequest(ctx context.Context, id uuid.UUID) (domain.BookingRequest, error) {
	req, err := scanRequest(r.q(ctx).QueryRow(ctx, `SELECT `+requestColumns+` FROM booking_requests WHERE id = $1`, id))
	if err != nil {
		return domain.BookingRequest{}, notFound(err, "request %s", id)
	}
	return req, nil
}

// LockRequest reads the request row FOR UPDATE. Every command on the request
// takes this lock first, which serialises writers on the same request.
func (r *Repository) LockRequest(ctx context.Context, id uuid.UUID) (domain.BookingRequest, error) {
	req, err := scanRequest(r.q(ctx).QueryRow(ctx, `SELECT `+requestColumns+` FROM booking_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return domain.BookingRequest{}, notFound(err, "request %s", id)
	}
	return req, nil
}

func (r *Repository) UpdateRequest(ctx context.Context, req domain.BookingRequest) error {
	tag, err := r.q(ctx).Exec(ctx, `
		UPDATE booking_requests SET title = $2, status = $3, counterpart_id = $4, updated_at = $5
		WHERE id = $1
	`, req.ID, req.Title, string(req.Status), req.CounterpartID, req.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(pgx.ErrNoRows, "request %s", req.ID)
	}
	return nil
}

// DeleteRequest removes bids first, then the hold ledger, then the request.
func (r *Repository) DeleteRequest(ctx context.Context, id uuid.UUID) error {
	return r.WithTx(ctx, func(ctx context.Context) error {
		q := r.q(ctx)
		if _, err := q.Exec(ctx, `DELETE FROM bids WHERE request_id = $1`, id); err != nil {
			return err
		}
		if _, err := q.Exec(ctx, `DELETE FROM hold_ledger WHERE request_id = $1`, id); err != nil {
			return err
		}
		tag, err := q.Exec(ctx, `DELETE FROM booking_requests WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return notFound(pgx.ErrNoRows, "request %s", id)
		}
		return nil
	})
}

const bidColumns = `id, request_id, venue_id, status, hold_state, frozen_by_hold_id, terms, declined_reason,
	frozen_at, unfrozen_at, accepted_at, confirmed_at, declined_at, withdrawn_at, cancelled_at, created_at, updated_at`

func scanBid(row pgx.Row) (domain.Bid, error) {
	var (
		b                 domain.Bid
		status, holdState string
	)
	err := row.Scan(&b.ID, &b.RequestID, &b.VenueID, &status, &holdState, &b.FrozenByHoldID, &b.Terms, &b.DeclinedReason,
		&b.FrozenAt, &b.UnfrozenAt, &b.AcceptedAt, &b.ConfirmedAt, &b.DeclinedAt, &b.WithdrawnAt, &b.CancelledAt, &b.CreatedAt, &b.UpdatedAt)
	b.Status = domain.BidStatus(status)
	b.HoldState = domain.HoldState(holdState)
	return b, err
}

func (r *Repository) CreateBid(ctx context.Context, b domain.Bid) error {
	_, err := r.q(ctx).Exec(ctx, `
		INSERT INTO bids (`+bidColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, b.ID, b.RequestID, b.VenueID, string(b.Status), string(b.HoldState), b.FrozenByHoldID, b.Terms, b.DeclinedReason,
		b.FrozenAt, b.UnfrozenAt, b.AcceptedAt, b.ConfirmedAt, b.DeclinedAt, b.WithdrawnAt, b.CancelledAt, b.CreatedAt, b.UpdatedAt)
	return mapError(err)
}

func (r *Repository) GetBid(ctx context.Context, id uuid.UUID) (domain.Bid, error) {
	b, err := scanBid(r.q(ctx).QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, id))
	if err != nil {
		return domain.Bid{}, notFound(err, "bid %s", id)
	}
	return b, nil
}

func (r *Repository) ListBids(ctx context.Context, requestID uuid.UUID) ([]domain.Bid, error) {
	rows, err := r.q(ctx).Query(ctx, `SELECT `+bidColumns+` FROM bids WHERE request_id = $1 ORDER BY created_at, id`, requestID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var bids []domain.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, b)
	}
	return bids, mapError(rows.Err())
}

func (r *Repository) UpdateBid(ctx context.Context, b domain.Bid) error {
	tag, err := r.q(ctx).Exec(ctx, `
		UPDATE bids SET status = $2, hold_state = $3, frozen_by_hold_id = $4, terms = $5, declined_reason = $6,
			frozen_at = $7, unfrozen_at = $8, accepted_at = $9, confirmed_at = $10, declined_at = $11,
			withdrawn_at = $12, cancelled_at = $13, updated_at = $14
		WHERE id = $1
	`, b.ID, string(b.Status), string(b.HoldState), b.FrozenByHoldID, b.Terms, b.DeclinedReason,
		b.FrozenAt, b.UnfrozenAt, b.AcceptedAt, b.ConfirmedAt, b.DeclinedAt, b.WithdrawnAt, b.CancelledAt, b.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(pgx.ErrNoRows, "bid %s", b.ID)
	}
	return nil
}

const holdColumns = `id, request_id, requested_by, status, outcome, duration_ms, reason, starts_at, expires_at, responded_at, created_at`

func scanHold(row pgx.Row) (domain.HoldLedgerEntry, error) {
	var (
		h               domain.HoldLedgerEntry
		status, outcome string
		durationMs      int64
	)
	err := row.Scan(&h.ID, &h.RequestID, &h.RequestedBy, &status, &outcome, &durationMs, &h.Reason, &h.StartsAt, &h.ExpiresAt, &h.RespondedAt, &h.CreatedAt)
	h.Status = domain.HoldStatus(status)
	h.Outcome = domain.HoldOutcome(outcome)
	h.Duration = time.Duration(durationMs) * time.Millisecond
	return h, err
}

// CreateHold inserts a ledger entry. A second ACTIVE entry for the same
// request violates hold_ledger_one_active and surfaces as ErrConflictingHold.
func (r *Repository) CreateHold(ctx context.Context, h domain.HoldLedgerEntry) error {
	_, err := r.q(ctx).Exec(ctx, `
		INSERT INTO hold_ledger (`+holdColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, h.ID, h.RequestID, h.RequestedBy, string(h.Status), string(h.Outcome), h.Duration.Milliseconds(), h.Reason, h.StartsAt, h.ExpiresAt, h.RespondedAt, h.CreatedAt)
	return mapError(err)
}

func (r *Repository) GetHold(ctx context.Context, id uuid.UUID) (domain.HoldLedgerEntry, error) {
	h, err := scanHold(r.q(ctx).QueryRow(ctx, `SELECT `+holdColumns+` FROM hold_ledger WHERE id = $1`, id))
	if err != nil {
		return domain.HoldLedgerEntry{}, notFound(err, "hold %s", id)
	}
	return h, nil
}

func (r *Repository) ActiveHold(ctx context.Context, requestID uuid.UUID) (*domain.HoldLedgerEntry, error) {
	h, err := scanHold(r.q(ctx).QueryRow(ctx, `SELECT `+holdColumns+` FROM hold_ledger WHERE request_id = $1 AND status = 'ACTIVE'`, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &h, nil
}

func (r *Repository) UpdateHold(ctx context.Context, h domain.HoldLedgerEntry) error {
	tag, err := r.q(ctx).Exec(ctx, `
		UPDATE hold_ledger SET status = $2, outcome = $3, responded_at = $4 WHERE id = $1
	`, h.ID, string(h.Status), string(h.Outcome), h.RespondedAt)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(pgx.ErrNoRows, "hold %s", h.ID)
	}
	return nil
}

func (r *Repository) DueHolds(ctx context.Context, now time.Time, limit int) ([]domain.HoldLedgerEntry, error) {
	rows, err := r.q(ctx).Query(ctx, `
		SELECT `+holdColumns+` FROM hold_ledger
		WHERE status = 'ACTIVE' AND expires_at <= $1
		ORDER BY expires_at LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var holds []domain.HoldLedgerEntry
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, err
		}
		holds = append(holds, h)
	}
	return holds, mapError(rows.Err())
}

func (r *Repository) HoldingRequests(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.q(ctx).Query(ctx, `
		SELECT request_id FROM hold_ledger WHERE status = 'ACTIVE'
		UNION
		SELECT request_id FROM bids WHERE hold_state <> 'AVAILABLE'
		ORDER BY request_id
	`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, mapError(rows.Err())
}

// Package memstore is an in-memory holds.Store for tests. A transaction
// holds the store mutex for its whole run and rolls every map back when fn
// fails, so tests observe the same all-or-nothing behaviour as the database.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/booking-holds/internal/domain"
)

type txKey struct{}

type state struct {
	requests map[uuid.UUID]domain.BookingRequest
	bids     map[uuid.UUID]domain.Bid
	bidSeq   map[uuid.UUID]int
	holds    map[uuid.UUID]domain.HoldLedgerEntry
	events   []domain.Event
	seq      int
}

func (s state) clone() state {
	c := state{
		requests: make(map[uuid.UUID]domain.BookingRequest, len(s.requests)),
		bids:     make(map[uuid.UUID]domain.Bid, len(s.bids)),
		bidSeq:   make(map[uuid.UUID]int, len(s.bidSeq)),
		holds:    make(map[uuid.UUID]domain.HoldLedgerEntry, len(s.holds)),
		events:   append([]domain.Event(nil), s.events...),
		seq:      s.seq,
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	for k, v := range s.bids {
		c.bids[k] = v
	}
	for k, v := range s.bidSeq {
		c.bidSeq[k] = v
	}
	for k, v := range s.holds {
		c.holds[k] = v
	}
	return c
}

type Store struct {
	mu    sync.Mutex
	state state

	failures []error
	txCount  int
}

func New() *Store {
	return &Store{state: state{}.clone()}
}

// FailCommits makes the next len(errs) transactions run fn and then fail
// with the given errors instead of committing.
func (s *Store) FailCommits(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

// Transactions reports how many top-level transactions have run.
func (s *Store) Transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCount
}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(bool)
	return ok
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++

	saved := s.state.clone()
	err := fn(context.WithValue(ctx, txKey{}, true))
	if err == nil && len(s.failures) > 0 {
		err = s.failures[0]
		s.failures = s.failures[1:]
	}
	if err != nil {
		s.state = saved
		return err
	}
	return nil
}

func (s *Store) read(ctx context.Context, fn func()) {
	if inTx(ctx) {
		fn()
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

func (s *Store) CreateRequest(ctx context.Context, req domain.BookingRequest) error {
	var err error
	s.read(ctx, func() {
		if _, ok := s.state.requests[req.ID]; ok {
			err = errors.Wrapf(domain.ErrInvalidInput, "request %s already exists", req.ID)
			return
		}
		s.state.requests[req.ID] = req
	})
	return err
}

func (s *Store) GetRequest(ctx context.Context, id uuid.UUID) (domain.BookingRequest, error) {
	var (
		req domain.BookingRequest
		ok  bool
	)
	s.read(ctx, func() { req, ok = s.state.requests[id] })
	if !ok {
		return domain.BookingRequest{}, errors.Wrapf(domain.ErrNotFound, "request %s", id)
	}
	return req, nil
}

// LockRequest is GetRequest; the transaction already holds the store lock.
func (s *Store) LockRequest(ctx context.Context, id uuid.UUID) (domain.BookingRequest, error) {
	return s.GetRequest(ctx, id)
}

func (s *Store) UpdateRequest(ctx context.Context, req domain.BookingRequest) error {
	var err error
	s.read(ctx, func() {
		if _, ok := s.state.requests[req.ID]; !ok {
			err = errors.Wrapf(domain.ErrNotFound, "request %s", req.ID)
			return
		}
		s.state.requests[req.ID] = req
	})
	return err
}

func (s *Store) DeleteRequest(ctx context.Context, id uuid.UUID) error {
	var err error
	s.read(ctx, func() {
		if _, ok := s.state.requests[id]; !ok {
			err = errors.Wrapf(domain.ErrNotFound, "request %s", id)
			return
		}
		for bid, b := range s.state.bids {
			if b.RequestID == id {
				delete(s.state.bids, bid)
				delete(s.state.bidSeq, bid)
			}
		}
		for hid, h := range s.state.holds {
			if h.RequestID == id {
				delete(s.state.holds, hid)
			}
		}
		delete(s.state.requests, id)
	})
	return err
}

func (s *Store) CreateBid(ctx context.Context, bid domain.Bid) error {
	var err error
	s.read(ctx, func() {
		if _, ok := s.state.requests[bid.RequestID]; !ok {
			err = errors.Wrapf(domain.ErrNotFound, "request %s", bid.RequestID)
			return
		}
		if _, ok := s.state.bids[bid.ID]; ok {
			err = errors.Wrapf(domain.ErrInvalidInput, "bid %s already exists", bid.ID)
			return
		}
		if err = s.checkOneHeld(bid); err != nil {
			return
		}
		s.state.seq++
		s.state.bids[bid.ID] = bid
		s.state.bidSeq[bid.ID] = s.state.seq
	})
	return err
}

// checkOneHeld mirrors the bids_one_held unique index.
func (s *Store) checkOneHeld(bid domain.Bid) error {
	if bid.HoldState != domain.HoldHeld {
		return nil
	}
	for _, b := range s.state.bids {
		if b.ID != bid.ID && b.RequestID == bid.RequestID && b.HoldState == domain.HoldHeld {
			return errors.Wrapf(domain.ErrInvariantViolation, "request %s already has held bid %s", bid.RequestID, b.ID)
		}
	}
	return nil
}

func (s *Store) GetBid(ctx context.Context, id uuid.UUID) (domain.Bid, error) {
	var (
		bid domain.Bid
		ok  bool
	)
	s.read(ctx, func() { bid, ok = s.state.bids[id] })
	if !ok {
		return domain.Bid{}, errors.Wrapf(domain.ErrNotFound, "bid %s", id)
	}
	return bid, nil
}

func (s *Store) ListBids(ctx context.Context, requestID uuid.UUID) ([]domain.Bid, error) {
	var out []domain.Bid
	s.read(ctx, func() {
		for _, b := range s.state.bids {
			if b.RequestID == requestID {
				out = append(out, b)
			}
		}
		sort.Slice(out, func(i, j int) bool {
			return s.state.bidSeq[out[i].ID] < s.state.bidSeq[out[j].ID]
		})
	})
	return out, nil
}

func (s *Store) UpdateBid(ctx context.Context, bid domain.Bid) error {
	var err error
	s.read(ctx, func() {
		if _, ok := s.state.bids[bid.ID]; !ok {
			err = errors.Wrapf(domain.ErrNotFound, "bid %s", bid.ID)
			return
		}
		if err = s.checkOneHeld(bid); err != nil {
			return
		}
		s.state.bids[bid.ID] = bid
	})
	return err
}

func (s *Store) CreateHold(ctx context.Context, hold domain.HoldLedgerEntry) error {
	var err error
	s.read(ctx, func() {
		if hold.Active() {
			for _, h := range s.state.holds {
				if h.RequestID == hold.RequestID && h.Active() {
					err = errors.Wrapf(domain.ErrConflictingHold, "request %s already has active hold %s", hold.RequestID, h.ID)
					return
				}
			}
		}
		s.state.holds[hold.ID] = hold
	})
	return err
}

func (s *Store) GetHold(ctx context.Context, id uuid.UUID) (domain.HoldLedgerEntry, error) {
	var (
		hold domain.HoldLedgerEntry
		ok   bool
	)
	s.read(ctx, func() { hold, ok = s.state.holds[id] })
	if !ok {
		return domain.HoldLedgerEntry{}, errors.Wrapf(domain.ErrNotFound, "hold %s", id)
	}
	return hold, nil
}

func (s *Store) ActiveHold(ctx context.Context, requestID uuid.UUID) (*domain.HoldLedgerEntry, error) {
	var active *domain.HoldLedgerEntry
	s.read(ctx, func() {
		for _, h := range s.state.holds {
			if h.RequestID == requestID && h.Active() {
				h := h
				active = &h
				return
			}
		}
	})
	return active, nil
}

func (s *Store) UpdateHold(ctx context.Context, hold domain.HoldLedgerEntry) error {
	var err error
	s.read(ctx, func() {
		if _, ok := s.state.holds[hold.ID]; !ok {
			err = errors.Wrapf(domain.ErrNotFound, "hold %s", hold.ID)
			return
		}
		s.state.holds[hold.ID] = hold
	})
	return err
}

func (s *Store) DueHolds(ctx context.Context, now time.Time, limit int) ([]domain.HoldLedgerEntry, error) {
	var out []domain.HoldLedgerEntry
	s.read(ctx, func() {
		for _, h := range s.state.holds {
			if h.Due(now) {
				out = append(out, h)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) HoldingRequests(ctx context.Context) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]bool)
	s.read(ctx, func() {
		for _, h := range s.state.holds {
			if h.Active() {
				seen[h.RequestID] = true
			}
		}
		for _, b := range s.state.bids {
			if b.HoldState != domain.HoldAvailable {
				seen[b.RequestID] = true
			}
		}
	})
	ids := make([]uuid.UUID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (s *Store) AppendEvents(ctx context.Context, events []domain.Event) error {
	s.read(ctx, func() {
		s.state.events = append(s.state.events, events...)
	})
	return nil
}

// Events returns every committed event in append order.
func (s *Store) Events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.state.events...)
}

// Holds returns every ledger entry of a request, oldest first.
func (s *Store) Holds(requestID uuid.UUID) []domain.HoldLedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.HoldLedgerEntry
	for _, h := range s.state.holds {
		if h.RequestID == requestID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Put stores rows as given, bypassing every check. Tests use it to build
// states the commands would refuse to produce.
func (s *Store) Put(req domain.BookingRequest, bids []domain.Bid, holds ...domain.HoldLedgerEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.requests[req.ID] = req
	for _, b := range bids {
		s.state.seq++
		s.state.bids[b.ID] = b
		s.state.bidSeq[b.ID] = s.state.seq
	}
	for _, h := range holds {
		s.state.holds[h.ID] = h
	}
}

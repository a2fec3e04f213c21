package holds

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/booking-holds/internal/domain"
)

type ScenarioInput struct {
	Title          string
	Bids           int
	Duration       time.Duration
	Reason         string
	MinCompetitors int
}

// SeedScenario builds a request with the given number of PENDING bids from
// fresh venues and places a hold on the first one. It is the preset used by
// demos and environment checks.
func (m *Manager) SeedScenario(ctx context.Context, actor domain.Actor, in ScenarioInput) (domain.Snapshot, error) {
	if err := domain.RequireAdmin(actor, "seed scenarios"); err != nil {
		return domain.Snapshot{}, err
	}
	if in.Bids < 1 {
		return domain.Snapshot{}, errors.Wrapf(domain.ErrInvalidInput, "scenario needs at least one bid, got %d", in.Bids)
	}
	if in.Bids-1 < in.MinCompetitors {
		return domain.Snapshot{}, errors.Wrapf(domain.ErrInsufficientCompetitors, "%d bids leave %d competitors, need %d", in.Bids, in.Bids-1, in.MinCompetitors)
	}
	title := in.Title
	if title == "" {
		title = fmt.Sprintf("Scenario with %d bids", in.Bids)
	}

	req, err := m.CreateRequest(ctx, actor, CreateRequestInput{
		Title:         title,
		RequestedDate: m.clock.Now().AddDate(0, 1, 0),
		InitiatorKind: domain.PartyArtist,
		InitiatorID:   uuid.New(),
	})
	if err != nil {
		return domain.Snapshot{}, err
	}
	var first domain.Bid
	for i := 0; i < in.Bids; i++ {
		bid, err := m.AdmitBid(ctx, actor, req.ID, uuid.New(), domain.Terms{
			AmountCents: int64(50000 + 10000*i),
			Currency:    "USD",
		})
		if err != nil {
			return domain.Snapshot{}, err
		}
		if i == 0 {
			first = bid
		}
	}
	if _, err := m.PlaceHold(ctx, actor, PlaceHoldInput{
		BidID:          first.ID,
		Duration:       in.Duration,
		Reason:         in.Reason,
		MinCompetitors: in.MinCompetitors,
	}); err != nil {
		return domain.Snapshot{}, err
	}
	return m.Snapshot(ctx, req.ID)
}

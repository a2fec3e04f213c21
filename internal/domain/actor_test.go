package domain

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

func TestPolicy(t *testing.T) {
	t.Parallel()

	initiator := Actor{ID: uuid.New(), Role: RoleArtist}
	counterpart := Actor{ID: uuid.New(), Role: RoleVenue}
	stranger := Actor{ID: uuid.New(), Role: RoleVenue}
	admin := Actor{ID: uuid.New(), Role: RoleAdmin}
	req, err := NewBookingRequest("Gig", now, PartyArtist, initiator.ID, &counterpart.ID, now)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		check   error
		allowed bool
	}{
		{"initiator decides", CanDecide(initiator, req), true},
		{"admin decides", CanDecide(admin, req), true},
		{"stranger decides", CanDecide(stranger, req), false},
		{"counterpart declines", CanDeclineRequest(counterpart, req), true},
		{"initiator declines", CanDeclineRequest(initiator, req), false},
		{"venue bids as itself", CanBid(stranger, req, stranger.ID), true},
		{"venue bids for another", CanBid(stranger, req, counterpart.ID), false},
		{"initiator bids on own request", CanBid(initiator, req, initiator.ID), false},
		{"system is admin", RequireAdmin(SystemActor, "sweep"), true},
		{"artist is not admin", RequireAdmin(initiator, "clear"), false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if tt.allowed && tt.check != nil {
				t.Fatalf("expected allowed, got %v", tt.check)
			}
			if !tt.allowed && !errors.Is(tt.check, ErrForbidden) {
				t.Fatalf("expected ErrForbidden, got %v", tt.check)
			}
		})
	}
}

func TestKind(t *testing.T) {
	t.Parallel()
	tests := map[error]string{
		nil:                                  "ok",
		errors.Wrap(ErrNotFound, "bid"):      "not_found",
		errors.Wrap(ErrConflictingHold, "x"): "conflicting_hold",
		errors.Wrap(ErrConcurrentModification, "x"):  "concurrent_modification",
		errors.Wrap(ErrInsufficientCompetitors, "x"): "insufficient_competitors",
		errors.Wrap(ErrIllegalTransition, "x"):       "illegal_transition",
		errors.New("boom"):                           "internal_error",
	}
	for err, want := range tests {
		if got := Kind(err); got != want {
			t.Errorf("Kind(%v) = %q, want %q", err, got, want)
		}
	}
	if !Retryable(errors.Wrap(ErrConcurrentModification, "x")) || Retryable(ErrConflictingHold) {
		t.Errorf("only concurrent modification is retryable")
	}
}

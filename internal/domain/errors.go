package domain

import "github.com/cockroachdb/errors"

var (
	ErrNotFound                = errors.New("not found")
	ErrIllegalTransition       = errors.New("illegal transition")
	ErrConflictingHold         = errors.New("conflicting hold")
	ErrInsufficientCompetitors = errors.New("insufficient competitors")
	ErrConcurrentModification  = errors.New("concurrent modification")
	ErrInvalidRequestState     = errors.New("invalid request state")
	ErrInvalidInput            = errors.New("invalid input")
	ErrForbidden               = errors.New("forbidden")
	ErrInvariantViolation      = errors.New("invariant violation")
)

// Retryable reports whether a command that failed with err may be re-run
// from scratch. Only serialization failures qualify.
func Retryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

func illegal(format string, args ...interface{}) error {
	return errors.Wrapf(ErrIllegalTransition, format, args...)
}

// Kind names the error kind of err for metrics labels and API error codes.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflictingHold):
		return "conflicting_hold"
	case errors.Is(err, ErrInsufficientCompetitors):
		return "insufficient_competitors"
	case errors.Is(err, ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, ErrInvalidRequestState):
		return "invalid_request_state"
	case errors.Is(err, ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvariantViolation):
		return "invariant_violation"
	default:
		return "internal_error"
	}
}

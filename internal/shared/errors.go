package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates input rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a state conflict such as a stale version or a duplicate.
	ErrConflict = errors.New("conflict")
	// ErrConsistency indicates corrupted ledger or referential state.
	ErrConsistency = errors.New("consistency violation")
	// ErrUnauthorized indicates the request carries no signed-in user.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUpstream indicates an external provider failed or refused the call.
	ErrUpstream = errors.New("upstream failure")
)

// UserSafeMessage returns an error description suitable for API clients.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
		return err.Error()
	case errors.Is(err, ErrUnauthorized):
		return "sign in required"
	case errors.Is(err, ErrUpstream):
		return "payment provider unavailable, try again later"
	default:
		return "internal error"
	}
}

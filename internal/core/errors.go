package core

import "errors"

// Error taxonomy shared across the service and HTTP layers. Mutating
// operations return these so callers can map them to a structured
// success/failure payload instead of crashing on an untyped fault.
var (
	// ErrUnauthorized means no verified identity was supplied, or the
	// identity has no owner record.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound means the referenced account or transaction does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden means the resource exists but belongs to another owner.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited means admission control denied the mutation.
	ErrRateLimited = errors.New("too many requests")

	// ErrValidation tags malformed numeric or enum input.
	ErrValidation = errors.New("validation failed")
)

// Validation wraps err so it matches both ErrValidation and the underlying
// cause via errors.Is.
func Validation(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrValidation, err)
}

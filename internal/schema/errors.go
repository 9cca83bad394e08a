package schema

import "errors"

// The engine classifies failures into a closed taxonomy. Validation errors are
// returned synchronously at construction or ingress and never reach the loop.
// Recoverable errors are recorded in the audit tick's error list and processing
// continues. Unrecoverable errors terminate the loop through a drain.
var (
	ErrValidation    = errors.New("validation")
	ErrRecoverable   = errors.New("recoverable")
	ErrUnrecoverable = errors.New("unrecoverable")
)

// IsValidation reports whether err belongs to the validation class.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsUnrecoverable reports whether err must terminate the engine.
func IsUnrecoverable(err error) bool {
	return errors.Is(err, ErrUnrecoverable)
}

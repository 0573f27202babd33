package service

import "errors"

// Engine rejection taxonomy. Every error here (plus the storage sentinels
// ErrStateMismatch / *NotFound) is a deterministic rejection of the
// attempted transition; existing state is never touched on the error path.
var (
	ErrUnauthorized   = errors.New("caller not authorized for this operation")
	ErrTooEarly       = errors.New("operation attempted before its timing window")
	ErrTooLate        = errors.New("operation attempted after its timing window")
	ErrAmountMismatch = errors.New("payment does not match the required amount")
	ErrInvalidParams  = errors.New("invalid parameters")
)

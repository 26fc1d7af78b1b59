package shared

import "errors"

// Error taxonomy for the ledger core. Domain packages declare their own
// sentinels for specific conditions; these cover the cross-cutting kinds.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input, rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrStateConflict indicates an operation against stale or terminal state.
	ErrStateConflict = errors.New("state conflict")
	// ErrIntegrity indicates a broken postcondition. This is a bug, never
	// user error, and always aborts the surrounding transaction.
	ErrIntegrity = errors.New("integrity failure")
	// ErrOwnerMismatch indicates an attempt to touch another tenant's data.
	ErrOwnerMismatch = errors.New("owner mismatch")
)

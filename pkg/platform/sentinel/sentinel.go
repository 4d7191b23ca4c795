package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally wrapped)
// and the ledger service translates them into domain errors:
// - ErrNotFound: campaign, transfer or idempotency record does not exist
// - ErrConflict: a record with the same key already exists
// - ErrInvalidState: stored record is in the wrong state for the requested mutation
// - ErrOwnerMismatch: persisted platform owner differs from the configured one
// - ErrUnavailable: backing store temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrInvalidState  = errors.New("invalid state")
	ErrOwnerMismatch = errors.New("platform owner mismatch")
	ErrUnavailable   = errors.New("unavailable")
)

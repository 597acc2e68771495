package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: a uniqueness or single-active-row constraint fired
// - ErrInvalidState: entity in wrong lifecycle state for the operation
// - ErrLockTimeout: a row lock could not be acquired in time (retryable)
// - ErrUnavailable: backing service temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors
// directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrLockTimeout  = errors.New("lock timeout")
	ErrUnavailable  = errors.New("unavailable")
)

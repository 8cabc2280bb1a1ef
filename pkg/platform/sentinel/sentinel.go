package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers
// return these (optionally wrapped) so workers can translate them into
// domain decisions instead of string-matching.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: insert-if-absent lost to an existing row
// - ErrInvalidState: entity in wrong state for requested transition
// - ErrAlreadyResolved: outcome already recorded for the assignment
// - ErrUnavailable: service or resource temporarily unavailable
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrInvalidState    = errors.New("invalid state")
	ErrAlreadyResolved = errors.New("already resolved")
	ErrUnavailable     = errors.New("unavailable")
)

package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, queues and clients return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: write lost to an existing row for the same key/version
// - ErrInvalidState: entity in wrong state for requested transition
// - ErrUnavailable: dependency temporarily unreachable
// - ErrTimeout: bounded call exceeded its deadline
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrTimeout      = errors.New("timeout")
)

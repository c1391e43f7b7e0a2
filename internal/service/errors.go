package service

import "errors"

var (
	// ErrInvalidObservation rejects malformed ingest input before anything
	// is persisted.
	ErrInvalidObservation = errors.New("invalid observation")
	// ErrInsufficientData marks "no result yet", not a failure.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrNotAnalyzed means no derived record exists for the identity yet.
	ErrNotAnalyzed = errors.New("identity not analyzed")
	// ErrNotFound covers missing identities and records.
	ErrNotFound = errors.New("not found")
	// ErrConflict surfaces after canonical-resolution retries exhaust.
	// Transient; retry the observation.
	ErrConflict = errors.New("concurrency conflict")
	// ErrInvalidSettings rejects out-of-range threshold updates; the stored
	// settings are left unchanged.
	ErrInvalidSettings = errors.New("invalid settings")
	// ErrStoreUnavailable propagates store failures after bounded retries.
	ErrStoreUnavailable = errors.New("store unavailable")
)

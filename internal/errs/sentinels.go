// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (handle or email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrHandleUnresolved indicates the Codeforces handle could not be resolved remotely.
	ErrHandleUnresolved = errors.New("handle unresolved")

	// ErrSyncInProgress indicates a sync for the same handle is already running.
	ErrSyncInProgress = errors.New("sync in progress")

	// ErrValidation indicates invalid caller input.
	ErrValidation = errors.New("validation failed")
)

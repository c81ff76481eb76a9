package domain

import "errors"

// Relay error taxonomy. Stores and the orchestrator wrap these with context;
// callers test with errors.Is.
var (
	ErrInvalidLink        = errors.New("invalid link")
	ErrSelfLink           = errors.New("own link")
	ErrNoPendingAction    = errors.New("no pending action")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrDirectoryExhausted = errors.New("link directory exhausted")
)

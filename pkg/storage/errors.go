package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when a key does not exist or has expired.
	ErrNotFound = errors.New("key not found")

	// ErrClosed is returned when a provider is used after Close.
	ErrClosed = errors.New("storage provider closed")
)

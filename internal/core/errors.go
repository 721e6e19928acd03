package core

import "errors"

var (
	// ErrNotFound is returned by stores when a document does not exist (or is not yet visible).
	ErrNotFound = errors.New("not found")

	// ErrProviderUnavailable marks an embedding provider error as transient (timeouts, 429, 5xx).
	// Callers may retry errors wrapping it.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
)

// Package sessionstore persists the mapping from caller identity to remote
// session identifier. The mapping is the only shared mutable state in the
// proxy; every backend must be safe for concurrent use.
package sessionstore

import (
	"context"
	"errors"
)

// ErrStoreClosed is returned when operating on a closed store.
var ErrStoreClosed = errors.New("session store is closed")

// Store maps caller keys to remote session identifiers.
//
// Implementations must be safe for concurrent use. GetOrSet is the
// first-writer-wins primitive the router relies on: when two requests for the
// same never-seen caller race, both must end up observing the same stored
// value.
type Store interface {
	// Get returns the session id tracked for the caller key.
	Get(ctx context.Context, callerKey string) (string, bool, error)

	// Set records or overwrites the mapping for the caller key.
	Set(ctx context.Context, callerKey, sessionID string) error

	// GetOrSet stores sessionID only if the caller key is untracked.
	// It returns the value that ended up stored and whether an entry
	// already existed.
	GetOrSet(ctx context.Context, callerKey, sessionID string) (string, bool, error)

	// Delete removes the mapping for the caller key, returning the removed
	// session id. Deleting an untracked key is not an error.
	Delete(ctx context.Context, callerKey string) (string, bool, error)

	// HasSession reports whether sessionID is currently a tracked value
	// for any caller key.
	HasSession(ctx context.Context, sessionID string) (bool, error)

	// Snapshot returns a copy of the current mapping. Intended for the
	// debug listing endpoint, not for hot paths.
	Snapshot(ctx context.Context) (map[string]string, error)

	// Close releases resources held by the store.
	Close() error
}

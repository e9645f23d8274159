package router

import "fmt"

// DiscoveryError indicates the one-shot agent lookup at startup failed.
// The service degrades to "agent not ready" instead of crashing; a restart
// is required to re-discover.
type DiscoveryError struct {
	DisplayName string
	Err         error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("agent discovery for %q failed: %v", e.DisplayName, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// SessionCreationError indicates the upstream create-session call failed.
// The local mapping still points at the previously synthesized id.
type SessionCreationError struct {
	CallerKey string
	Err       error
}

func (e *SessionCreationError) Error() string {
	return fmt.Sprintf("failed to create session for %q: %v", e.CallerKey, e.Err)
}

func (e *SessionCreationError) Unwrap() error { return e.Err }

// QueryError indicates the upstream streaming call failed mid-flight.
// No partial text is returned alongside it.
type QueryError struct {
	SessionID string
	Err       error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("failed to query agent (session %s): %v", e.SessionID, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

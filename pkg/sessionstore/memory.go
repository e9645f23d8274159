package sessionstore

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// sweepSchedule is how often expired entries are purged when a TTL is set.
const sweepSchedule = "@every 5m"

type memoryEntry struct {
	sessionID string
	expiresAt time.Time // zero means never
}

// MemoryStore keeps the mapping in process memory behind a mutex.
// With a zero TTL it reproduces the unbounded behavior of the original
// service; with a positive TTL entries expire and a background sweep
// reclaims them.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	sweeper *cron.Cron
	closed  bool
}

// NewMemoryStore creates an in-memory store. ttl of zero disables expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
	}
	if ttl > 0 {
		s.sweeper = cron.New()
		_, _ = s.sweeper.AddFunc(sweepSchedule, s.sweep)
		s.sweeper.Start()
	}
	return s
}

func (s *MemoryStore) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

func (s *MemoryStore) newEntry(sessionID string) memoryEntry {
	e := memoryEntry{sessionID: sessionID}
	if s.ttl > 0 {
		e.expiresAt = time.Now().Add(s.ttl)
	}
	return e
}

// Get returns the session id tracked for the caller key.
func (s *MemoryStore) Get(ctx context.Context, callerKey string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, ErrStoreClosed
	}
	e, ok := s.entries[callerKey]
	if !ok || s.expired(e) {
		return "", false, nil
	}
	return e.sessionID, true, nil
}

// Set records or overwrites the mapping for the caller key.
func (s *MemoryStore) Set(ctx context.Context, callerKey, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.entries[callerKey] = s.newEntry(sessionID)
	return nil
}

// GetOrSet stores sessionID only if the caller key is untracked.
func (s *MemoryStore) GetOrSet(ctx context.Context, callerKey, sessionID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, ErrStoreClosed
	}
	if e, ok := s.entries[callerKey]; ok && !s.expired(e) {
		return e.sessionID, true, nil
	}
	s.entries[callerKey] = s.newEntry(sessionID)
	return sessionID, false, nil
}

// Delete removes the mapping for the caller key.
func (s *MemoryStore) Delete(ctx context.Context, callerKey string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, ErrStoreClosed
	}
	e, ok := s.entries[callerKey]
	if !ok || s.expired(e) {
		delete(s.entries, callerKey)
		return "", false, nil
	}
	delete(s.entries, callerKey)
	return e.sessionID, true, nil
}

// HasSession reports whether sessionID is a tracked value.
func (s *MemoryStore) HasSession(ctx context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrStoreClosed
	}
	for _, e := range s.entries {
		if e.sessionID == sessionID && !s.expired(e) {
			return true, nil
		}
	}
	return false, nil
}

// Snapshot returns a copy of the current mapping.
func (s *MemoryStore) Snapshot(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	out := make(map[string]string, len(s.entries))
	for k, e := range s.entries {
		if s.expired(e) {
			continue
		}
		out[k] = e.sessionID
	}
	return out, nil
}

// Close stops the sweeper and drops all entries.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	s.entries = nil
	return nil
}

// sweep removes expired entries.
func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for k, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, k)
		}
	}
}

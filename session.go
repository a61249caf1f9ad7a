package auth

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
)

// ErrSessionNotFound is returned by SessionStore.Get on a miss
var ErrSessionNotFound = errors.New("session not found", errors.CategoryNotFound).WithTextCode("SESSION_NOT_FOUND")

// MemorySessionStore is a process local SessionStore
type MemorySessionStore struct {
	mu      sync.RWMutex
	entries map[string]*SessionEntry
	ttl     time.Duration
	now     Clock

	// nextSweep is when Set next evicts expired entries
	nextSweep time.Time
}

var _ SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates a store. A zero ttl keeps entries until they
// are deleted or the store is cleared.
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		entries: make(map[string]*SessionEntry),
		ttl:     ttl,
		now:     systemClock,
	}
}

// WithClock overrides the time source used for expiry
func (s *MemorySessionStore) WithClock(clock Clock) *MemorySessionStore {
	if clock != nil {
		s.now = clock
	}
	return s
}

func (s *MemorySessionStore) Get(_ context.Context, key string) (*SessionEntry, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}

	if s.expired(entry) {
		s.mu.Lock()
		// re-check, a concurrent Set may have replaced it
		if current, ok := s.entries[key]; ok && s.expired(current) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}

	out := *entry
	return &out, nil
}

func (s *MemorySessionStore) Set(_ context.Context, entry *SessionEntry) error {
	if entry == nil || entry.Key == "" {
		return DeriveError(ErrValidation, "session key is required", nil)
	}

	stored := *entry
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}

	s.mu.Lock()
	s.entries[stored.Key] = &stored
	if s.ttl > 0 {
		if now := s.now(); !now.Before(s.nextSweep) {
			s.sweepLocked()
			s.nextSweep = now.Add(s.ttl)
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.entries = make(map[string]*SessionEntry)
	s.mu.Unlock()
	return nil
}

// Sweep evicts expired entries and returns how many were removed. Set
// also sweeps, at most once per ttl.
func (s *MemorySessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

func (s *MemorySessionStore) sweepLocked() int {
	if s.ttl <= 0 {
		return 0
	}
	removed := 0
	for key, entry := range s.entries {
		if s.expired(entry) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired ones included
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemorySessionStore) expired(entry *SessionEntry) bool {
	if s.ttl <= 0 {
		return false
	}
	return !s.now().Before(entry.CreatedAt.Add(s.ttl))
}

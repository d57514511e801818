// Package correlate tracks outstanding request ids and maps them back to the
// platform handle needed to deliver replies.
package correlate

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL bounds how long an unanswered request keeps its entry alive.
const DefaultTTL = 30 * time.Minute

type entry[H any] struct {
	handle   H
	deadline time.Time
}

// Store maps a message id to the reply handle registered for it. Entries
// expire after the configured TTL or when explicitly evicted; resolving an
// entry does not invalidate it, so a backend may stream several reply
// fragments against the same id.
type Store[H any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry[H]
}

// NewStore creates a store with the given entry lifetime. A non-positive ttl
// falls back to DefaultTTL.
func NewStore[H any](ttl time.Duration) *Store[H] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store[H]{
		ttl:     ttl,
		entries: make(map[string]entry[H]),
	}
}

// Register inserts an entry for id. Registering an id twice overwrites the
// prior handle; ids are generated fresh per request so this only happens if a
// caller misbehaves.
func (s *Store[H]) Register(id string, handle H) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = entry[H]{handle: handle, deadline: time.Now().Add(s.ttl)}
}

// Resolve returns the handle registered for id. The second return is false
// for ids never registered, already evicted, or expired.
func (s *Store[H]) Resolve(id string) (H, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		var zero H
		return zero, false
	}
	if time.Now().After(e.deadline) {
		delete(s.entries, id)
		var zero H
		return zero, false
	}
	return e.handle, true
}

// Evict removes the entry for id. Evicting an unknown id is a no-op.
func (s *Store[H]) Evict(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Len returns the number of live entries, including expired ones not yet
// swept.
func (s *Store[H]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep removes expired entries and returns how many were dropped.
func (s *Store[H]) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, e := range s.entries {
		if now.After(e.deadline) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Run sweeps expired entries at the given interval until ctx is cancelled.
func (s *Store[H]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

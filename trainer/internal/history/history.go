// Package history keeps recent run metrics in memory so a long-lived
// trainer (watch mode) can report how each run moved against the last one.
package history

import (
	"sort"
	"sync"
	"time"
)

// Entry is the gate field set of one finished run.
type Entry struct {
	RunID     string
	Fields    map[string]float64
	UpdatedAt time.Time
}

// Store is a thread-safe in-memory run history. Entries older than the TTL
// are evicted on every Put.
type Store struct {
	mu      sync.RWMutex
	entries []*Entry // oldest first
	ttl     time.Duration
	now     func() time.Time
}

// New creates a Store with the given TTL. A zero TTL keeps entries forever.
func New(ttl time.Duration) *Store {
	return &Store{ttl: ttl, now: time.Now}
}

// Put records the fields of runID. Callers must not modify fields after Put.
func (s *Store) Put(runID string, fields map[string]float64) {
	s.mu.Lock()
	now := s.now()
	s.entries = append(s.entries, &Entry{RunID: runID, Fields: fields, UpdatedAt: now})
	s.mu.Unlock()
	s.Evict(now)
}

// Latest returns the most recent entry within the TTL.
func (s *Store) Latest() (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, false
	}
	e := s.entries[len(s.entries)-1]
	if !s.fresh(e, s.now()) {
		return nil, false
	}
	return e, true
}

// List returns all entries within the TTL, oldest first.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if s.fresh(e, now) {
			out = append(out, e)
		}
	}
	return out
}

// Count returns the number of entries held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Evict removes entries older than now minus TTL and returns how many were removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	for _, e := range s.entries {
		if s.fresh(e, now) {
			kept = append(kept, e)
		}
	}
	removed := len(s.entries) - len(kept)
	for i := len(kept); i < len(s.entries); i++ {
		s.entries[i] = nil
	}
	s.entries = kept
	return removed
}

func (s *Store) fresh(e *Entry, now time.Time) bool {
	return s.ttl <= 0 || e.UpdatedAt.After(now.Add(-s.ttl))
}

// Change is the movement of one field between two runs.
type Change struct {
	Field    string  `json:"field"`
	Previous float64 `json:"previous"`
	Current  float64 `json:"current"`
	Delta    float64 `json:"delta"`
}

// Diff compares the fields present in both prev and cur, sorted by field name.
func Diff(prev, cur map[string]float64) []Change {
	var out []Change
	for k, c := range cur {
		p, ok := prev[k]
		if !ok {
			continue
		}
		out = append(out, Change{Field: k, Previous: p, Current: c, Delta: c - p})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

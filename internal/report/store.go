package report

import (
	"sync"
	"time"
)

// Entry is a stored Report together with the time it was stored.
type Entry struct {
	Report    Report
	Timestamp time.Time
}

// Store holds at most one Entry: the latest. Writers replace it whole
// and readers receive a copy, both under a single lock, so a reader
// never observes a mix of two updates. It is safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	latest *Entry
	now    func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Update replaces the stored report. No history is kept.
func (s *Store) Update(r Report) {
	e := &Entry{Report: r, Timestamp: s.now()}

	s.mu.Lock()
	s.latest = e
	s.mu.Unlock()
}

// Latest returns the most recently stored entry. The boolean is false
// if nothing has been stored yet.
func (s *Store) Latest() (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.latest == nil {
		return Entry{}, false
	}
	return *s.latest, true
}

// HasReport reports whether a report has been stored.
func (s *Store) HasReport() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest != nil
}

// Clear empties the store.
func (s *Store) Clear() {
	s.mu.Lock()
	s.latest = nil
	s.mu.Unlock()
}

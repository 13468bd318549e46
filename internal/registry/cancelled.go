package registry

import "sync"

// CancelSet is the process-local set of task ids with a pending cancellation
// request. It is the only source of truth for cooperative cancellation
// inside an in-flight handler.
type CancelSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewCancelSet returns an empty set.
func NewCancelSet() *CancelSet {
	return &CancelSet{ids: make(map[string]struct{})}
}

// Mark records a cancellation request for id.
func (s *CancelSet) Mark(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
}

// Has reports whether id has a pending cancellation request.
func (s *CancelSet) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Clear removes id from the set. Called during the task's final cleanup so
// a reused id is not spuriously cancelled.
func (s *CancelSet) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

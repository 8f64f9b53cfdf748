package messaging

import "sync"

// DisplaySlot is the process-wide mutual-exclusion token for the screen.
// At most one message holds it at a time; Show acquires it and Dismiss
// releases it. There is no queueing: a Show against an occupied slot fails
// fast.
type DisplaySlot struct {
	mu    sync.Mutex
	owner string
}

// NewDisplaySlot creates a free slot.
func NewDisplaySlot() *DisplaySlot {
	return &DisplaySlot{}
}

// TryAcquire claims the slot for owner. Returns false without blocking when
// the slot is already held. Re-acquiring by the current owner succeeds.
func (s *DisplaySlot) TryAcquire(owner string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.owner != "" && s.owner != owner {
		return false
	}
	s.owner = owner
	return true
}

// Release frees the slot if owner holds it. Releasing a slot held by someone
// else (or nobody) is a no-op returning false.
func (s *DisplaySlot) Release(owner string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.owner != owner {
		return false
	}
	s.owner = ""
	return true
}

// Owner returns the execution id currently holding the slot, or "" when the
// slot is free.
func (s *DisplaySlot) Owner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

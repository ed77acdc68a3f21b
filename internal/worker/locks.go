package worker

import "sync"

// Locks is the in-process advisory lock set keyed by queue item id. It stops
// a single process from double-dispatching one item across an overlapping
// manual trigger and a timer tick; it provides no cross-process exclusion.
type Locks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocks creates an empty lock set.
func NewLocks() *Locks {
	return &Locks{held: make(map[string]struct{})}
}

// TryAcquire takes the lock for id, reporting false when already held.
func (l *Locks) TryAcquire(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[id]; ok {
		return false
	}
	l.held[id] = struct{}{}
	return true
}

// Release frees the lock for id. Releasing an unheld id is a no-op.
func (l *Locks) Release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
}

// ABOUTME: Per-record exclusive locks for rollbacks
// ABOUTME: Entries are reference counted and removed once released

package storage

import (
	"sync"

	"github.com/nainya/revertstore/pkg/version"
)

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// RecordLocks hands out one mutex per record key
type RecordLocks struct {
	mu    sync.Mutex
	locks map[version.Key]*lockEntry
}

// NewRecordLocks creates an empty lock table
func NewRecordLocks() *RecordLocks {
	return &RecordLocks{locks: make(map[version.Key]*lockEntry)}
}

// Lock blocks until key is free and returns the release function
func (l *RecordLocks) Lock(key version.Key) func() {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &lockEntry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// Held reports how many keys currently have holders or waiters
func (l *RecordLocks) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

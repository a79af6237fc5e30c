package session

import "sync"

// lockTable hands out one named mutex per session id. Locks are never
// removed; sessions are few and short-lived relative to the process.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

// Get returns the mutex for id, creating it on first use.
func (lt *lockTable) Get(id string) *sync.Mutex {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if l, ok := lt.locks[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	lt.locks[id] = l
	return l
}

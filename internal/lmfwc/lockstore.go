package lmfwc

import (
	"sync"
	"time"
)

// LockStore is the cooperative short-TTL lock consulted by the
// activate idempotency guard. TryAcquire returns true when the caller
// now holds the key for the given window; Release drops a held key
// early. Implementations must fail open: when the underlying store is
// unavailable, report the lock as acquired so a locking outage never
// blocks legitimate calls.
type LockStore interface {
	TryAcquire(key string, ttl time.Duration) bool
	Release(key string)
}

// TTLLockStore is an in-process LockStore backed by an expiring map.
type TTLLockStore struct {
	entries  map[string]time.Time
	mutex    sync.Mutex
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewTTLLockStore creates a lock store and starts its cleanup goroutine.
func NewTTLLockStore() *TTLLockStore {
	store := &TTLLockStore{
		entries:  make(map[string]time.Time),
		stopChan: make(chan struct{}),
	}

	go store.cleanup()

	return store
}

// TryAcquire takes the key for ttl if it is free or its previous
// holder has expired.
func (s *TTLLockStore) TryAcquire(key string, ttl time.Duration) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now()
	if expiry, held := s.entries[key]; held && now.Before(expiry) {
		return false
	}
	s.entries[key] = now.Add(ttl)
	return true
}

// Release drops the key before its TTL elapses.
func (s *TTLLockStore) Release(key string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.entries, key)
}

// Stop gracefully stops the cleanup goroutine.
func (s *TTLLockStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *TTLLockStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mutex.Lock()
			now := time.Now()
			for key, expiry := range s.entries {
				if now.After(expiry) {
					delete(s.entries, key)
				}
			}
			s.mutex.Unlock()
		case <-s.stopChan:
			return
		}
	}
}

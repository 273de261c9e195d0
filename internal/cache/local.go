package cache

import (
	"strings"
	"sync"
	"time"

	"blogcore/internal/metrics"
)

// localStore is the in-process fallback tier. It keeps per-entry absolute
// expiry so TTL bookkeeping stays independent from the networked tier, and
// it is capacity-bounded: when full, expired entries are dropped first and
// the oldest entry after that.
type localStore struct {
	mu       sync.Mutex
	entries  map[string]localEntry
	capacity int
}

type localEntry struct {
	value     string
	expiresAt time.Time
	createdAt time.Time
}

func (e localEntry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

func newLocalStore(capacity int) *localStore {
	if capacity <= 0 {
		capacity = 10000
	}
	return &localStore{
		entries:  make(map[string]localEntry),
		capacity: capacity,
	}
}

func (s *localStore) Set(key, value string, ttl time.Duration) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok && len(s.entries) >= s.capacity {
		s.evictLocked(now)
	}
	s.entries[key] = localEntry{value: value, expiresAt: now.Add(ttl), createdAt: now}
}

func (s *localStore) Get(key string) (string, bool) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return "", false
	}
	if e.expired(now) {
		delete(s.entries, key)
		return "", false
	}
	return e.value, true
}

func (s *localStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (s *localStore) DeleteByPrefix(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			delete(s.entries, k)
		}
	}
}

func (s *localStore) Exists(key string) bool {
	_, ok := s.Get(key)
	return ok
}

func (s *localStore) Expire(key string, ttl time.Duration) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && !e.expired(now) {
		e.expiresAt = now.Add(ttl)
		s.entries[key] = e
	}
}

// RemainingTTL reports the time left before the entry expires. The second
// return value is false when the key is absent or already expired.
func (s *localStore) RemainingTTL(key string) (time.Duration, bool) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.expired(now) {
		return 0, false
	}
	return e.expiresAt.Sub(now), true
}

// SetIfAbsent inserts only when no live entry exists for the key. The check
// and the insert happen under one lock, which is what makes the process-local
// lock fallback sound.
func (s *localStore) SetIfAbsent(key, value string, ttl time.Duration) bool {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && !e.expired(now) {
		return false
	}
	if len(s.entries) >= s.capacity {
		s.evictLocked(now)
	}
	s.entries[key] = localEntry{value: value, expiresAt: now.Add(ttl), createdAt: now}
	return true
}

// CompareAndDelete removes the entry only when its current value matches,
// so a lock re-acquired by another owner is never released by a late caller.
func (s *localStore) CompareAndDelete(key, expected string) bool {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(now) || e.value != expected {
		return false
	}
	delete(s.entries, key)
	return true
}

func (s *localStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// evictLocked drops all expired entries, then the oldest live entry if the
// store is still full. Caller must hold mu.
func (s *localStore) evictLocked(now time.Time) {
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			metrics.RecordLocalEviction()
		}
	}
	if len(s.entries) < s.capacity {
		return
	}
	var oldestKey string
	var oldestAt time.Time
	for k, e := range s.entries {
		if oldestKey == "" || e.createdAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.createdAt
		}
	}
	if oldestKey != "" {
		delete(s.entries, oldestKey)
		metrics.RecordLocalEviction()
	}
}

package checkpoint

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the in-process Store backend. CAS is emulated with a
// process-wide mutex and a per-key version counter, which gives it the same
// observable semantics as the distributed backends.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	now     func() time.Time
}

type memEntry struct {
	payload   []byte
	version   int64
	expiresAt time.Time // zero means no expiry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Save(_ context.Context, key string, payload []byte, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	version := int64(1)
	if e != nil {
		version = e.version + 1
	}
	s.entries[key] = &memEntry{
		payload:   append([]byte(nil), payload...),
		version:   version,
		expiresAt: s.deadline(ttl),
	}
	return version, nil
}

func (s *MemoryStore) Load(_ context.Context, key string) ([]byte, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return nil, 0, ErrNotFound
	}
	return append([]byte(nil), e.payload...), e.version, nil
}

func (s *MemoryStore) CAS(_ context.Context, key string, payload []byte, expected int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	current := int64(0)
	if e != nil {
		current = e.version
	}
	if current != expected {
		return 0, conflictErr(key, expected, current)
	}
	version := current + 1
	s.entries[key] = &memEntry{
		payload:   append([]byte(nil), payload...),
		version:   version,
		expiresAt: s.deadline(ttl),
	}
	return version, nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) && s.live(k) != nil {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existed := s.live(key) != nil
	delete(s.entries, key)
	return existed, nil
}

func (s *MemoryStore) SweepExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for k, e := range s.entries {
		if !e.expiresAt.IsZero() && !e.expiresAt.After(now) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Close() error { return nil }

// live returns the entry for key if it exists and has not expired.
// Callers must hold s.mu.
func (s *MemoryStore) live(key string) *memEntry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !e.expiresAt.After(s.now()) {
		delete(s.entries, key)
		return nil
	}
	return e
}

func (s *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

var _ Store = (*MemoryStore)(nil)

package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore keeps one bounded, expiring LRU per namespace, so churn in one
// namespace never evicts another's entries. The namespace is the key prefix
// up to the first ':'. Expired entries are never returned.
type MemoryStore struct {
	capacity int
	mu       sync.RWMutex
	spaces   map[string]*expirable.LRU[string, entry]
	now      func() time.Time
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryStore creates a store holding at most capacity entries per namespace.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 10000
	}
	return &MemoryStore{
		capacity: capacity,
		spaces:   make(map[string]*expirable.LRU[string, entry]),
		now:      time.Now,
	}
}

func namespaceOf(key string) string {
	ns, _, _ := strings.Cut(key, ":")
	return ns
}

func (s *MemoryStore) space(key string) *expirable.LRU[string, entry] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.spaces[namespaceOf(key)]
}

// spaceFor returns the LRU for key's namespace, creating it with ttl as its
// lifetime on the first write.
func (s *MemoryStore) spaceFor(key string, ttl time.Duration) *expirable.LRU[string, entry] {
	ns := namespaceOf(key)
	if l := s.space(key); l != nil {
		return l
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.spaces[ns]; ok {
		return l
	}
	l := expirable.NewLRU[string, entry](s.capacity, nil, ttl)
	s.spaces[ns] = l
	return l
}

// Get returns the value for key if present and unexpired.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	l := s.space(key)
	if l == nil {
		return nil, false, nil
	}
	e, ok := l.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(e.expiresAt) {
		l.Remove(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value for ttl, evicting the namespace's least recently used
// entry when it is full.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	v := make([]byte, len(value))
	copy(v, value)
	s.spaceFor(key, ttl).Add(key, entry{value: v, expiresAt: s.now().Add(ttl)})
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	if l := s.space(key); l != nil {
		l.Remove(key)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix. A prefix naming a
// whole namespace purges it.
func (s *MemoryStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ns, rest, found := strings.Cut(prefix, ":"); found && rest == "" {
		if l, ok := s.spaces[ns]; ok {
			l.Purge()
		}
		return nil
	}
	for _, l := range s.spaces {
		for _, key := range l.Keys() {
			if strings.HasPrefix(key, prefix) {
				l.Remove(key)
			}
		}
	}
	return nil
}

// Len returns the number of stored entries across namespaces.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, l := range s.spaces {
		n += l.Len()
	}
	return n
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

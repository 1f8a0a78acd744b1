package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps session bags in process memory. Suitable for tests and
// single-instance development setups only.
type MemoryStore struct {
	mu      sync.Mutex
	bags    map[string]map[string]string
	expires map[string]time.Time
	ttl     time.Duration
}

// NewMemoryStore creates an in-process session store
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		bags:    make(map[string]map[string]string),
		expires: make(map[string]time.Time),
		ttl:     ttl,
	}
}

func (s *MemoryStore) bag(sid string) map[string]string {
	if exp, ok := s.expires[sid]; ok && time.Now().After(exp) {
		delete(s.bags, sid)
		delete(s.expires, sid)
	}
	bag, ok := s.bags[sid]
	if !ok {
		bag = make(map[string]string)
		s.bags[sid] = bag
	}
	s.expires[sid] = time.Now().Add(s.ttl)
	return bag
}

// Get returns the value for key, with false when absent
func (s *MemoryStore) Get(ctx context.Context, sid, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.bag(sid)[key]
	return value, ok, nil
}

// Set stores a value
func (s *MemoryStore) Set(ctx context.Context, sid, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bag(sid)[key] = value
	return nil
}

// Delete removes a single key
func (s *MemoryStore) Delete(ctx context.Context, sid, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bag(sid), key)
	return nil
}

// Destroy removes the whole session
func (s *MemoryStore) Destroy(ctx context.Context, sid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bags, sid)
	delete(s.expires, sid)
	return nil
}

// Cleanup removes expired sessions
func (s *MemoryStore) Cleanup(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dropped int64
	now := time.Now()
	for sid, exp := range s.expires {
		if now.After(exp) {
			delete(s.bags, sid)
			delete(s.expires, sid)
			dropped++
		}
	}
	return dropped, nil
}

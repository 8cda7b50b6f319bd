package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// StateStore issues and consumes single-use CSRF state tokens for the
// installation flow.
type StateStore interface {
	Create(ctx context.Context) (string, error)
	// Consume reports whether state was issued and unexpired, and deletes it.
	Consume(ctx context.Context, state string) (bool, error)
}

var _ StateStore = (*MemoryStateStore)(nil)

// MemoryStateStore is an in-memory StateStore with TTL cleanup. It only
// works when callbacks land on the instance that issued the state.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStateStore creates a MemoryStateStore whose tokens live for ttl.
func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	return &MemoryStateStore{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStateStore) Create(_ context.Context) (string, error) {
	token, err := generateStateToken()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanup()
	s.entries[token] = s.now()
	return token, nil
}

func (s *MemoryStateStore) Consume(_ context.Context, state string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created, ok := s.entries[state]
	if !ok {
		return false, nil
	}
	delete(s.entries, state)
	return s.now().Sub(created) <= s.ttl, nil
}

// Len returns the number of outstanding states.
func (s *MemoryStateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// cleanup removes expired entries. Must be called with mu held.
func (s *MemoryStateStore) cleanup() {
	now := s.now()
	for k, created := range s.entries {
		if now.Sub(created) > s.ttl {
			delete(s.entries, k)
		}
	}
}

func generateStateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}

package utils

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateStore keeps single-use OAuth state values with a TTL to mitigate CSRF.
type StateStore struct {
	rc *redis.Client

	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewStateStore creates a store; rc may be nil.
func NewStateStore(rc *redis.Client) *StateStore {
	return &StateStore{rc: rc, entries: map[string]time.Time{}, now: time.Now}
}

func stateKey(state string) string {
	return "oauth:state:" + state
}

// Save stores state for ttl.
func (s *StateStore) Save(ctx context.Context, state string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if s.rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return s.rc.Set(ctx, stateKey(state), "1", ttl).Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, exp := range s.entries {
		if !now.Before(exp) {
			delete(s.entries, k)
		}
	}
	s.entries[state] = now.Add(ttl)
	return nil
}

// Consume validates and removes state. It reports false for unknown or expired values.
func (s *StateStore) Consume(ctx context.Context, state string) (bool, error) {
	if state == "" {
		return false, nil
	}
	if s.rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		v, err := s.rc.GetDel(ctx, stateKey(state)).Result()
		if err == redis.Nil {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return v != "", nil
	}
	s.mu.Lock()
	exp, ok := s.entries[state]
	if ok {
		delete(s.entries, state)
	}
	s.mu.Unlock()
	return ok && s.now().Before(exp), nil
}

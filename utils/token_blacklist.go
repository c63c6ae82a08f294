package utils

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBlacklist remembers revoked token ids until their natural expiry.
// Redis is preferred; without it entries live in process memory.
type TokenBlacklist struct {
	rc *redis.Client

	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewTokenBlacklist creates a blacklist; rc may be nil.
func NewTokenBlacklist(rc *redis.Client) *TokenBlacklist {
	return &TokenBlacklist{rc: rc, entries: map[string]time.Time{}, now: time.Now}
}

func blacklistKey(id string) string {
	return "jwt:blacklist:" + id
}

// Revoke blacklists id until expiresAt. Already expired tokens are ignored.
func (b *TokenBlacklist) Revoke(ctx context.Context, id string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(b.now())
	if id == "" || ttl <= 0 {
		return nil
	}
	if b.rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return b.rc.Set(ctx, blacklistKey(id), "1", ttl).Err()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sweepLocked()
	b.entries[id] = expiresAt
	return nil
}

// IsRevoked checks if id was revoked before its natural expiration.
func (b *TokenBlacklist) IsRevoked(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	if b.rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		n, err := b.rc.Exists(ctx, blacklistKey(id)).Result()
		if err != nil {
			return false, err
		}
		return n > 0, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	exp, ok := b.entries[id]
	if !ok {
		return false, nil
	}
	if !b.now().Before(exp) {
		delete(b.entries, id)
		return false, nil
	}
	return true, nil
}

func (b *TokenBlacklist) sweepLocked() {
	now := b.now()
	for id, exp := range b.entries {
		if !now.Before(exp) {
			delete(b.entries, id)
		}
	}
}

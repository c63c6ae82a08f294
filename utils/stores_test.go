package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBlacklist_Memory(t *testing.T) {
	ctx := context.Background()
	b := NewTokenBlacklist(nil)

	require.NoError(t, b.Revoke(ctx, "jti-1", time.Now().Add(time.Minute)))
	revoked, err := b.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = b.IsRevoked(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, revoked)

	// entries disappear once the token would have expired anyway
	b.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	revoked, err = b.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestTokenBlacklist_IgnoresExpired(t *testing.T) {
	b := NewTokenBlacklist(nil)
	require.NoError(t, b.Revoke(context.Background(), "old", time.Now().Add(-time.Second)))
	assert.Empty(t, b.entries)
}

func TestStateStore_SingleUse(t *testing.T) {
	ctx := context.Background()
	s := NewStateStore(nil)
	require.NoError(t, s.Save(ctx, "st-1", time.Minute))

	ok, err := s.Consume(ctx, "st-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Consume(ctx, "st-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStateStore_Expired(t *testing.T) {
	ctx := context.Background()
	s := NewStateStore(nil)
	require.NoError(t, s.Save(ctx, "st-2", time.Minute))

	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	ok, err := s.Consume(ctx, "st-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

package cache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/laoshi/internal/domain"
)

func newTestCache(t *testing.T, ttl time.Duration) (*SubscriptionCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(rdb, ttl, logger), mr
}

func TestSubscriptionCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, time.Minute)

	expires := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	user := domain.User{
		ID:               42,
		Username:         "laolin",
		Tier:             domain.TierPremium,
		PremiumExpiresAt: &expires,
		ReferralCode:     "k3xw9a",
	}

	_, ok := c.Get(ctx, user.ID)
	assert.False(t, ok, "expected miss before set")

	c.Set(ctx, user)

	got, ok := c.Get(ctx, user.ID)
	require.True(t, ok, "expected hit after set")
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, domain.TierPremium, got.Tier)
	require.NotNil(t, got.PremiumExpiresAt)
	assert.True(t, got.PremiumExpiresAt.Equal(expires))
}

func TestSubscriptionCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, time.Minute)

	c.Set(ctx, domain.User{ID: 7, Tier: domain.TierFree})
	_, ok := c.Get(ctx, 7)
	require.True(t, ok)

	c.Invalidate(ctx, 7)

	_, ok = c.Get(ctx, 7)
	assert.False(t, ok, "expected miss after invalidate")
}

func TestSubscriptionCache_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, 30*time.Second)

	c.Set(ctx, domain.User{ID: 9, Tier: domain.TierTrial})

	mr.FastForward(31 * time.Second)

	_, ok := c.Get(ctx, 9)
	assert.False(t, ok, "expected entry to expire")
}

func TestSubscriptionCache_CorruptEntryDropped(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestCache(t, time.Minute)

	require.NoError(t, mr.Set("sub:11", "{not json"))

	_, ok := c.Get(ctx, 11)
	assert.False(t, ok)
	assert.False(t, mr.Exists("sub:11"), "corrupt entry should be deleted")
}

func TestSubscriptionCache_Disabled(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(nil, time.Minute, logger)

	assert.False(t, c.Enabled())

	// All operations are no-ops and must not panic.
	c.Set(ctx, domain.User{ID: 1})
	_, ok := c.Get(ctx, 1)
	assert.False(t, ok)
	c.Invalidate(ctx, 1)
}

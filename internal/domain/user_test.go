package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTier_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name string
		from Tier
		to   Tier
		want bool
	}{
		// Valid transitions
		{"trial to free", TierTrial, TierFree, true},
		{"trial to premium", TierTrial, TierPremium, true},
		{"free to premium", TierFree, TierPremium, true},
		{"premium to free", TierPremium, TierFree, true},
		{"premium to premium (stacking)", TierPremium, TierPremium, true},

		// Invalid transitions
		{"free to trial", TierFree, TierTrial, false},
		{"premium to trial", TierPremium, TierTrial, false},
		{"trial to trial", TierTrial, TierTrial, false},
		{"free to free", TierFree, TierFree, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestUser_HasUnlimitedAccess(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	premiumUntil := now.Add(48 * time.Hour)

	tests := []struct {
		name string
		user User
		want bool
	}{
		{
			name: "active trial",
			user: User{Tier: TierTrial, TrialEndsAt: now.Add(time.Hour)},
			want: true,
		},
		{
			name: "trial expired but not swept",
			user: User{Tier: TierTrial, TrialEndsAt: now.Add(-time.Hour)},
			want: false,
		},
		{
			name: "premium",
			user: User{Tier: TierPremium, PremiumExpiresAt: &premiumUntil},
			want: true,
		},
		{
			name: "free",
			user: User{Tier: TierFree},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.user.HasUnlimitedAccess(now))
		})
	}
}

func TestUser_State(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("trial reports remaining window", func(t *testing.T) {
		u := User{
			Tier:        TierTrial,
			TrialEndsAt: now.Add(36 * time.Hour),
		}
		state := u.State(now)
		assert.Equal(t, TierTrial, state.Tier)
		assert.Equal(t, 36*time.Hour, state.TrialRemaining)
		if assert.NotNil(t, state.ExpiresAt) {
			assert.Equal(t, u.TrialEndsAt, *state.ExpiresAt)
		}
		assert.True(t, state.Unlimited(now))
	})

	t.Run("premium exposes expiry", func(t *testing.T) {
		expires := now.Add(10 * 24 * time.Hour)
		u := User{Tier: TierPremium, PremiumExpiresAt: &expires}
		state := u.State(now)
		assert.Equal(t, TierPremium, state.Tier)
		assert.Zero(t, state.TrialRemaining)
		if assert.NotNil(t, state.ExpiresAt) {
			assert.Equal(t, expires, *state.ExpiresAt)
		}
		assert.True(t, state.Unlimited(now))
	})

	t.Run("free has no expiry", func(t *testing.T) {
		u := User{Tier: TierFree, TrialEndsAt: now.Add(-time.Hour)}
		state := u.State(now)
		assert.Equal(t, TierFree, state.Tier)
		assert.Nil(t, state.ExpiresAt)
		assert.Zero(t, state.TrialRemaining)
		assert.False(t, state.Unlimited(now))
	})

	t.Run("lapsed trial is not unlimited", func(t *testing.T) {
		u := User{Tier: TierTrial, TrialEndsAt: now.Add(-time.Minute)}
		state := u.State(now)
		assert.Equal(t, TierTrial, state.Tier)
		assert.Zero(t, state.TrialRemaining)
		assert.False(t, state.Unlimited(now))
	})
}

func TestQuotaLimits_Limit(t *testing.T) {
	limits := DefaultQuotaLimits()

	assert.Equal(t, 20, limits.Limit(ChannelText))
	assert.Equal(t, 5, limits.Limit(ChannelVoice))
	assert.Equal(t, 50, limits.Limit(ChannelVocab))
	assert.Equal(t, 0, limits.Limit(Channel("unknown")))
}

func TestChannel_Cumulative(t *testing.T) {
	assert.False(t, ChannelText.Cumulative())
	assert.False(t, ChannelVoice.Cumulative())
	assert.True(t, ChannelVocab.Cumulative())
}

// Package domain contains core business types and interfaces.
//
// This file defines the User subscription record and the entitlement tier
// state machine. These types are separate from the repository models so the
// business layer never depends on database column shapes.
package domain

import (
	"database/sql"
	"time"
)

// =============================================================================
// Entitlement Tier
// =============================================================================

// Tier represents a user's current entitlement level.
type Tier string

const (
	// TierTrial indicates the user is inside the free trial window granted
	// at first contact. Usage is unlimited while the window is active.
	TierTrial Tier = "trial"

	// TierFree indicates the trial or a premium period has lapsed. Usage is
	// gated by per-channel quotas.
	TierFree Tier = "free"

	// TierPremium indicates a paid (or bonus) period is active. Usage is
	// unlimited until premium_expires_at passes and the sweeper downgrades.
	TierPremium Tier = "premium"
)

// String returns the string representation of the tier.
func (t Tier) String() string {
	return string(t)
}

// IsValid returns true if the tier is a recognized value.
func (t Tier) IsValid() bool {
	switch t {
	case TierTrial, TierFree, TierPremium:
		return true
	}
	return false
}

// CanTransitionTo checks if the tier can transition to the target tier.
//
// Valid transitions:
// - trial -> free (trial window elapses)
// - trial -> premium (payment or bonus during trial)
// - free -> premium (payment or bonus)
// - premium -> premium (stacking grant while active)
// - premium -> free (premium window elapses)
//
// There is no path back to trial: the trial window is granted once.
func (t Tier) CanTransitionTo(target Tier) bool {
	if target == TierTrial {
		return false
	}

	switch t {
	case TierTrial:
		return target == TierFree || target == TierPremium
	case TierFree:
		return target == TierPremium
	case TierPremium:
		return target == TierFree || target == TierPremium
	}

	return false
}

// =============================================================================
// User Subscription Record
// =============================================================================

// User represents one Telegram user's subscription record.
//
// The record is created at first contact and never deleted. All tier
// mutations flow through the subscription service; nothing else writes
// these fields.
type User struct {
	ID               int64  // Telegram user id
	Username         string // Telegram @username, may be empty
	FirstName        string
	Tier             Tier
	TrialStartedAt   time.Time  // Set once at first contact, immutable after
	TrialEndsAt      time.Time  // TrialStartedAt + configured trial duration
	PremiumExpiresAt *time.Time // Non-nil while premium (or expired, pre-sweep)

	// Notification flags prevent duplicate expiry notices. A flag is set
	// only after the notice was delivered, so a failed send is retried on
	// the next sweep.
	TrialNotified          bool
	PremiumExpiredNotified bool

	ReferrerID   *int64 // User who referred this one, if any
	ReferralCode string // This user's own invite code
	IsBlocked    bool   // Blocked users are downgraded silently, never notified

	// LastEventID records the most recent payment event applied to this
	// user. Grants are per-user sequential so a single field suffices for
	// debugging; the payments table carries the full idempotency set.
	LastEventID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TrialActive returns true if the trial window covers the given instant.
func (u *User) TrialActive(now time.Time) bool {
	return u.Tier == TierTrial && !now.After(u.TrialEndsAt)
}

// HasUnlimitedAccess returns true if no quota applies to the user right now.
// Premium is honored as stored even inside the pre-sweep expiry window; an
// expired trial loses unlimited access immediately.
func (u *User) HasUnlimitedAccess(now time.Time) bool {
	return u.Tier == TierPremium || u.TrialActive(now)
}

// TrialRemaining returns how much of the trial window is left, or zero.
func (u *User) TrialRemaining(now time.Time) time.Duration {
	if u.Tier != TierTrial {
		return 0
	}
	if remaining := u.TrialEndsAt.Sub(now); remaining > 0 {
		return remaining
	}
	return 0
}

// State projects the record into the caller-facing subscription state.
func (u *User) State(now time.Time) SubscriptionState {
	state := SubscriptionState{
		Tier:           u.Tier,
		TrialRemaining: u.TrialRemaining(now),
	}
	if u.Tier == TierPremium && u.PremiumExpiresAt != nil {
		expires := *u.PremiumExpiresAt
		state.ExpiresAt = &expires
	}
	if u.Tier == TierTrial {
		ends := u.TrialEndsAt
		state.ExpiresAt = &ends
	}
	return state
}

// SubscriptionState is the read model returned to message handlers.
type SubscriptionState struct {
	Tier           Tier
	ExpiresAt      *time.Time    // Premium expiry or trial end, nil for free
	TrialRemaining time.Duration // Zero unless tier is trial
}

// Unlimited returns true if the state carries no usage quota.
func (s SubscriptionState) Unlimited(now time.Time) bool {
	if s.Tier == TierPremium {
		return true
	}
	return s.Tier == TierTrial && s.ExpiresAt != nil && !now.After(*s.ExpiresAt)
}

// =============================================================================
// Conversion helpers from repository types
// =============================================================================

// NullStringValue safely extracts a string from sql.NullString.
func NullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// NullTimeValue safely extracts a time pointer from sql.NullTime.
func NullTimeValue(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

// NullInt64Value safely extracts an int64 pointer from sql.NullInt64.
func NullInt64Value(ni sql.NullInt64) *int64 {
	if ni.Valid {
		return &ni.Int64
	}
	return nil
}

// ToNullString converts a string to sql.NullString.
func ToNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

// ToNullTime converts a time pointer to sql.NullTime.
func ToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// ToNullInt64 converts an int64 pointer to sql.NullInt64.
func ToNullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

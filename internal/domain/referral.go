// Package domain contains core business types and interfaces.
//
// This file defines referral bookkeeping: who invited whom, and whether the
// referrer's one-time subscription bonus has been granted.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReferralStatus tracks how far a referred user has progressed.
type ReferralStatus string

const (
	// ReferralStatusRegistered means the referred user arrived through an
	// invite link. Both sides have received the signup bonus.
	ReferralStatusRegistered ReferralStatus = "registered"

	// ReferralStatusSubscribed means the referred user made their first
	// qualifying payment and the referrer's bonus has been granted. The
	// transition happens at most once per referred user.
	ReferralStatusSubscribed ReferralStatus = "subscribed"
)

// Referral links a referred user to their referrer. There is at most one
// row per referred user, enforced by the store.
type Referral struct {
	ID               uuid.UUID
	ReferrerID       int64
	ReferredID       int64
	Status           ReferralStatus
	BonusDaysGranted int // Premium days granted to the referrer so far
	CreatedAt        time.Time
	SubscribedAt     *time.Time
}

// ReferralStats summarizes a referrer's invite performance.
type ReferralStats struct {
	Invited         int // Users who registered through the invite link
	Subscribed      int // Of those, users who paid at least once
	BonusDaysEarned int // Total premium days granted for referrals
}

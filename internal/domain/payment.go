// Package domain contains core business types and interfaces.
//
// This file defines payment records and the webhook payment event that
// drives premium grants.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentSource identifies where a recorded payment (or bonus) came from.
type PaymentSource string

const (
	PaymentSourcePayment  PaymentSource = "payment"  // Real money via the payment provider
	PaymentSourceReferral PaymentSource = "referral" // Referral bonus days
	PaymentSourceAdmin    PaymentSource = "admin"    // Manually granted by an admin
	PaymentSourcePromo    PaymentSource = "promo"    // Promotional grant
)

// PaymentStatus is the settlement state of a payment row.
type PaymentStatus string

const (
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Payment is one recorded grant of premium days. Rows with a non-empty
// EventID double as the idempotency set for webhook deliveries: the column
// is unique, so re-inserting the same event fails and the grant is skipped.
type Payment struct {
	ID        uuid.UUID
	UserID    int64
	Amount    int64 // Kopecks
	Currency  string
	Source    PaymentSource
	EventID   string // Provider event id, empty for bonuses
	ProductID string
	Status    PaymentStatus
	CreatedAt time.Time
}

// PaymentEvent is the normalized webhook payload handed to the ledger.
// Delivery is at-least-once; EventID is the idempotency key.
type PaymentEvent struct {
	EventID   string
	UserID    int64
	Amount    int64 // Kopecks
	ProductID string
}

// GrantResult reports what a premium grant actually did.
type GrantResult struct {
	// Duplicate is true when the event id had already been applied and the
	// stored state was left untouched. Callers treat this as success.
	Duplicate bool

	// ExpiresAt is the premium expiry after the grant (or the existing one
	// when Duplicate).
	ExpiresAt time.Time
}

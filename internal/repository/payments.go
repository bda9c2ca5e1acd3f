package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/DukeRupert/laoshi/internal/domain"
	"github.com/google/uuid"
)

// InsertPaymentParams records one grant of premium days.
type InsertPaymentParams struct {
	ID        uuid.UUID
	UserID    int64
	Amount    int64
	Currency  string
	Source    domain.PaymentSource
	EventID   sql.NullString
	ProductID string
	Status    domain.PaymentStatus
}

// InsertPayment appends a payment row. A duplicate provider event id fails
// with a unique violation on payments_event_id_key; Store.ApplyPaymentGrant
// relies on that to make webhook retries no-ops.
func (q *Queries) InsertPayment(ctx context.Context, arg InsertPaymentParams) error {
	const query = `
		INSERT INTO payments (id, user_id, amount, currency, source, event_id, product_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := q.db.ExecContext(ctx, query,
		arg.ID,
		arg.UserID,
		arg.Amount,
		arg.Currency,
		string(arg.Source),
		arg.EventID,
		domain.ToNullString(arg.ProductID),
		string(arg.Status),
	)
	return err
}

// SumRevenueSince totals completed provider payments created at or after t.
// Bonus rows (referral, admin, promo) are excluded.
func (q *Queries) SumRevenueSince(ctx context.Context, t time.Time) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(amount), 0)
		FROM payments
		WHERE created_at >= $1 AND status = 'completed' AND source = 'payment'`

	var total int64
	err := q.db.QueryRowContext(ctx, query, t).Scan(&total)
	return total, err
}

// ApplyPaymentGrantParams drives the webhook grant transaction.
type ApplyPaymentGrantParams struct {
	UserID    int64
	EventID   string
	Amount    int64
	Currency  string
	ProductID string
	Days      int
	Now       time.Time
}

// ApplyPaymentGrant records the payment and extends premium in one
// transaction. The payment insert doubles as the idempotency check-and-set:
// a redelivered event id violates the unique constraint, the transaction is
// rolled back, and the grant reports Duplicate with the state untouched.
// An unknown user surfaces as sql.ErrNoRows before anything is written.
func (s *Store) ApplyPaymentGrant(ctx context.Context, arg ApplyPaymentGrantParams) (domain.GrantResult, error) {
	var result domain.GrantResult

	err := s.execTx(ctx, func(qtx *Queries) error {
		expiresAt, err := qtx.GrantPremium(ctx, GrantPremiumParams{
			UserID:  arg.UserID,
			Days:    arg.Days,
			Now:     arg.Now,
			EventID: domain.ToNullString(arg.EventID),
		})
		if err != nil {
			return err
		}
		result.ExpiresAt = expiresAt

		return qtx.InsertPayment(ctx, InsertPaymentParams{
			ID:        uuid.New(),
			UserID:    arg.UserID,
			Amount:    arg.Amount,
			Currency:  arg.Currency,
			Source:    domain.PaymentSourcePayment,
			EventID:   domain.ToNullString(arg.EventID),
			ProductID: arg.ProductID,
			Status:    domain.PaymentStatusCompleted,
		})
	})

	if err != nil {
		if isUniqueViolation(err, "payments_event_id_key") {
			// Event already applied. Report the current expiry for logging.
			result.Duplicate = true
			if user, lookupErr := s.GetUserByID(ctx, arg.UserID); lookupErr == nil && user.PremiumExpiresAt != nil {
				result.ExpiresAt = *user.PremiumExpiresAt
			}
			return result, nil
		}
		return domain.GrantResult{}, fmt.Errorf("apply payment grant: %w", err)
	}
	return result, nil
}

// GrantBonusDaysParams drives a non-provider grant (referral, admin, promo).
type GrantBonusDaysParams struct {
	UserID int64
	Days   int
	Source domain.PaymentSource
	Now    time.Time
}

// GrantBonusDays extends premium and records a zero-amount payment row of
// the given source, atomically. The row keeps the grant auditable and marks
// the user as having held premium, which the sweeper's candidate queries use.
func (s *Store) GrantBonusDays(ctx context.Context, arg GrantBonusDaysParams) (time.Time, error) {
	var expiresAt time.Time

	err := s.execTx(ctx, func(qtx *Queries) error {
		var err error
		expiresAt, err = qtx.GrantPremium(ctx, GrantPremiumParams{
			UserID: arg.UserID,
			Days:   arg.Days,
			Now:    arg.Now,
		})
		if err != nil {
			return err
		}

		return qtx.InsertPayment(ctx, InsertPaymentParams{
			ID:       uuid.New(),
			UserID:   arg.UserID,
			Amount:   0,
			Currency: "RUB",
			Source:   arg.Source,
			Status:   domain.PaymentStatusCompleted,
		})
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("grant bonus days: %w", err)
	}
	return expiresAt, nil
}

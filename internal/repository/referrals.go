package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/DukeRupert/laoshi/internal/domain"
	"github.com/google/uuid"
)

// InsertReferralParams links a newly registered user to their referrer.
type InsertReferralParams struct {
	ID               uuid.UUID
	ReferrerID       int64
	ReferredID       int64
	BonusDaysGranted int
}

// InsertReferral records the referral once per referred user. Returns false
// when a referral already exists for the referred user.
func (q *Queries) InsertReferral(ctx context.Context, arg InsertReferralParams) (bool, error) {
	const query = `
		INSERT INTO referrals (id, referrer_id, referred_id, status, bonus_days_granted)
		VALUES ($1, $2, $3, 'registered', $4)
		ON CONFLICT (referred_id) DO NOTHING`

	res, err := q.db.ExecContext(ctx, query, arg.ID, arg.ReferrerID, arg.ReferredID, arg.BonusDaysGranted)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// MarkReferralSubscribedParams moves a referral to subscribed.
type MarkReferralSubscribedParams struct {
	ReferredID int64
	BonusDays  int
	Now        time.Time
}

// MarkReferralSubscribed transitions the referral from registered to
// subscribed, exactly once: the conditional update matches nothing on a
// second qualifying payment. Returns the referrer id, or sql.ErrNoRows when
// no transition happened.
func (q *Queries) MarkReferralSubscribed(ctx context.Context, arg MarkReferralSubscribedParams) (int64, error) {
	const query = `
		UPDATE referrals
		SET status = 'subscribed',
		    bonus_days_granted = bonus_days_granted + $2,
		    subscribed_at = $3
		WHERE referred_id = $1 AND status = 'registered'
		RETURNING referrer_id`

	var referrerID int64
	err := q.db.QueryRowContext(ctx, query, arg.ReferredID, arg.BonusDays, arg.Now).Scan(&referrerID)
	if err != nil {
		return 0, err
	}
	return referrerID, nil
}

// GetReferralStats summarizes a referrer's invites.
func (q *Queries) GetReferralStats(ctx context.Context, referrerID int64) (domain.ReferralStats, error) {
	const query = `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'subscribed'),
		       COALESCE(SUM(bonus_days_granted), 0)
		FROM referrals
		WHERE referrer_id = $1`

	var stats domain.ReferralStats
	err := q.db.QueryRowContext(ctx, query, referrerID).Scan(
		&stats.Invited, &stats.Subscribed, &stats.BonusDaysEarned,
	)
	return stats, err
}

// ApplyReferralBonusParams drives the referrer bonus transaction.
type ApplyReferralBonusParams struct {
	ReferredID int64
	BonusDays  int
	Now        time.Time
}

// ApplyReferralBonus grants the referrer their one-time subscription bonus
// for a referred user's first qualifying payment. The registered->subscribed
// transition and the grant commit together, so a crash cannot leave the
// referral consumed without the bonus applied. Returns false (and no error)
// when the referred user has no pending referral.
func (s *Store) ApplyReferralBonus(ctx context.Context, arg ApplyReferralBonusParams) (bool, int64, error) {
	var referrerID int64
	granted := false

	err := s.execTx(ctx, func(qtx *Queries) error {
		id, err := qtx.MarkReferralSubscribed(ctx, MarkReferralSubscribedParams{
			ReferredID: arg.ReferredID,
			BonusDays:  arg.BonusDays,
			Now:        arg.Now,
		})
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		referrerID = id

		if err := qtx.InsertPayment(ctx, InsertPaymentParams{
			ID:       uuid.New(),
			UserID:   referrerID,
			Amount:   0,
			Currency: "RUB",
			Source:   domain.PaymentSourceReferral,
			Status:   domain.PaymentStatusCompleted,
		}); err != nil {
			return err
		}

		if _, err := qtx.GrantPremium(ctx, GrantPremiumParams{
			UserID: referrerID,
			Days:   arg.BonusDays,
			Now:    arg.Now,
		}); err != nil {
			return err
		}
		granted = true
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("apply referral bonus: %w", err)
	}
	return granted, referrerID, nil
}

// RegisterReferralParams drives the signup bonus transaction.
type RegisterReferralParams struct {
	ReferrerID int64
	ReferredID int64
	BonusDays  int
	Now        time.Time
}

// RegisterReferral records the referral and grants the signup bonus to both
// sides, atomically. A referred user can only ever be registered once; the
// repeat call changes nothing and returns false.
func (s *Store) RegisterReferral(ctx context.Context, arg RegisterReferralParams) (bool, error) {
	registered := false

	err := s.execTx(ctx, func(qtx *Queries) error {
		inserted, err := qtx.InsertReferral(ctx, InsertReferralParams{
			ID:               uuid.New(),
			ReferrerID:       arg.ReferrerID,
			ReferredID:       arg.ReferredID,
			BonusDaysGranted: arg.BonusDays,
		})
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}

		for _, userID := range []int64{arg.ReferrerID, arg.ReferredID} {
			if err := qtx.InsertPayment(ctx, InsertPaymentParams{
				ID:       uuid.New(),
				UserID:   userID,
				Amount:   0,
				Currency: "RUB",
				Source:   domain.PaymentSourceReferral,
				Status:   domain.PaymentStatusCompleted,
			}); err != nil {
				return err
			}
			if _, err := qtx.GrantPremium(ctx, GrantPremiumParams{
				UserID: userID,
				Days:   arg.BonusDays,
				Now:    arg.Now,
			}); err != nil {
				return err
			}
		}
		registered = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("register referral: %w", err)
	}
	return registered, nil
}

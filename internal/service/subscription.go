// Package service contains the business logic layer.
//
// This file implements the subscription ledger: the single writer for tier,
// trial window, premium expiry and referral grants. Every mutation is one
// conditional statement or one transaction in the repository, so concurrent
// webhook deliveries and sweeps cannot interleave mid-operation.
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/laoshi/internal/cache"
	"github.com/DukeRupert/laoshi/internal/domain"
	"github.com/DukeRupert/laoshi/internal/metrics"
	"github.com/DukeRupert/laoshi/internal/notify"
	"github.com/DukeRupert/laoshi/internal/repository"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SubscriptionService owns the subscription lifecycle.
type SubscriptionService interface {
	// GetUser returns the full subscription record, cache-backed.
	GetUser(ctx context.Context, userID int64) (domain.User, error)

	// GetState projects the record into the caller-facing state
	// (tier, expiry, trial time remaining).
	GetState(ctx context.Context, userID int64) (domain.SubscriptionState, error)

	// StartTrial opens the one-time trial window. Calling it again is a
	// no-op: the window is immutable once set.
	StartTrial(ctx context.Context, userID int64) (domain.User, error)

	// ProcessPayment applies one provider payment event: records the
	// payment, extends premium, and triggers the referrer bonus on the
	// referred user's first qualifying payment. Redelivered events are
	// successful no-ops.
	ProcessPayment(ctx context.Context, event domain.PaymentEvent) (domain.GrantResult, error)

	// GrantBonusDays extends premium outside the payment provider flow
	// (admin grants, promos).
	GrantBonusDays(ctx context.Context, userID int64, days int, source domain.PaymentSource) (time.Time, error)

	// ApplyReferralBonus grants the referrer their one-time bonus for the
	// referred user's first qualifying payment. Safe to call repeatedly.
	ApplyReferralBonus(ctx context.Context, referredUserID int64) (bool, error)
}

// SubscriptionStore is the persistence surface the ledger needs. Implemented
// by *repository.Store.
type SubscriptionStore interface {
	GetUserByID(ctx context.Context, id int64) (domain.User, error)
	StartTrial(ctx context.Context, arg repository.StartTrialParams) (bool, error)
	ApplyPaymentGrant(ctx context.Context, arg repository.ApplyPaymentGrantParams) (domain.GrantResult, error)
	GrantBonusDays(ctx context.Context, arg repository.GrantBonusDaysParams) (time.Time, error)
	ApplyReferralBonus(ctx context.Context, arg repository.ApplyReferralBonusParams) (bool, int64, error)
}

// SubscriptionConfig carries the grant durations.
type SubscriptionConfig struct {
	TrialDays           int
	PremiumDaysPerEvent int
	ReferralBonusDays   int
}

// =============================================================================
// Implementation
// =============================================================================

type subscriptionService struct {
	store    SubscriptionStore
	cache    *cache.SubscriptionCache
	notifier notify.Sender
	cfg      SubscriptionConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewSubscriptionService creates a new SubscriptionService.
func NewSubscriptionService(store SubscriptionStore, c *cache.SubscriptionCache, notifier notify.Sender, cfg SubscriptionConfig, logger *slog.Logger) SubscriptionService {
	return &subscriptionService{
		store:    store,
		cache:    c,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// GetUser returns the full subscription record, cache-backed.
func (s *subscriptionService) GetUser(ctx context.Context, userID int64) (domain.User, error) {
	const op = "subscription.get_user"

	if user, ok := s.cache.Get(ctx, userID); ok {
		return user, nil
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.NotFound(op, "user", userID)
		}
		return domain.User{}, domain.Internal(err, op, "failed to load user")
	}

	s.cache.Set(ctx, user)
	return user, nil
}

// GetState projects the record into the caller-facing subscription state.
func (s *subscriptionService) GetState(ctx context.Context, userID int64) (domain.SubscriptionState, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return domain.SubscriptionState{}, err
	}
	return user.State(s.now()), nil
}

// StartTrial opens the trial window if the user never had one.
func (s *subscriptionService) StartTrial(ctx context.Context, userID int64) (domain.User, error) {
	const op = "subscription.start_trial"

	now := s.now()
	started, err := s.store.StartTrial(ctx, repository.StartTrialParams{
		UserID:    userID,
		StartedAt: now,
		EndsAt:    now.AddDate(0, 0, s.cfg.TrialDays),
	})
	if err != nil {
		return domain.User{}, domain.Internal(err, op, "failed to start trial")
	}

	if started {
		s.cache.Invalidate(ctx, userID)
		s.logger.Info("trial started",
			"user_id", userID,
			"trial_days", s.cfg.TrialDays,
		)
	}

	// Zero rows affected means either the window already exists (fine) or
	// the user is unknown; the fetch tells them apart.
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.NotFound(op, "user", userID)
		}
		return domain.User{}, domain.Internal(err, op, "failed to load user")
	}
	return user, nil
}

// ProcessPayment applies one provider payment event.
func (s *subscriptionService) ProcessPayment(ctx context.Context, event domain.PaymentEvent) (domain.GrantResult, error) {
	const op = "subscription.process_payment"

	if event.EventID == "" {
		return domain.GrantResult{}, domain.Invalid(op, "payment event id is required")
	}

	result, err := s.store.ApplyPaymentGrant(ctx, repository.ApplyPaymentGrantParams{
		UserID:    event.UserID,
		EventID:   event.EventID,
		Amount:    event.Amount,
		Currency:  "RUB",
		ProductID: event.ProductID,
		Days:      s.cfg.PremiumDaysPerEvent,
		Now:       s.now(),
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.GrantResult{}, domain.NotFound(op, "user", event.UserID)
		}
		return domain.GrantResult{}, domain.Internal(err, op, "failed to apply payment")
	}

	s.cache.Invalidate(ctx, event.UserID)

	if result.Duplicate {
		s.logger.Info("duplicate payment event ignored",
			"user_id", event.UserID,
			"event_id", event.EventID,
		)
	} else {
		s.logger.Info("premium granted",
			"user_id", event.UserID,
			"event_id", event.EventID,
			"days", s.cfg.PremiumDaysPerEvent,
			"expires_at", result.ExpiresAt,
		)
	}

	// The referral transition is idempotent on its own, so it runs even for
	// duplicate deliveries: if an earlier attempt committed the payment but
	// died before this step, the provider's retry completes it.
	if _, err := s.ApplyReferralBonus(ctx, event.UserID); err != nil {
		return domain.GrantResult{}, err
	}

	if !result.Duplicate {
		if err := s.notifier.SendPaymentConfirmed(ctx, event.UserID, result.ExpiresAt); err != nil {
			s.logger.Warn("payment confirmation notice failed",
				"user_id", event.UserID,
				"error", err,
			)
		}
	}

	return result, nil
}

// GrantBonusDays extends premium outside the payment provider flow.
func (s *subscriptionService) GrantBonusDays(ctx context.Context, userID int64, days int, source domain.PaymentSource) (time.Time, error) {
	const op = "subscription.grant_bonus_days"

	if days <= 0 {
		return time.Time{}, domain.Invalid(op, "days must be positive")
	}

	expiresAt, err := s.store.GrantBonusDays(ctx, repository.GrantBonusDaysParams{
		UserID: userID,
		Days:   days,
		Source: source,
		Now:    s.now(),
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, domain.NotFound(op, "user", userID)
		}
		return time.Time{}, domain.Internal(err, op, "failed to grant bonus days")
	}

	s.cache.Invalidate(ctx, userID)
	s.logger.Info("bonus days granted",
		"user_id", userID,
		"days", days,
		"source", source,
		"expires_at", expiresAt,
	)
	return expiresAt, nil
}

// ApplyReferralBonus grants the referrer their one-time bonus.
func (s *subscriptionService) ApplyReferralBonus(ctx context.Context, referredUserID int64) (bool, error) {
	const op = "subscription.apply_referral_bonus"

	granted, referrerID, err := s.store.ApplyReferralBonus(ctx, repository.ApplyReferralBonusParams{
		ReferredID: referredUserID,
		BonusDays:  s.cfg.ReferralBonusDays,
		Now:        s.now(),
	})
	if err != nil {
		return false, domain.Internal(err, op, "failed to apply referral bonus")
	}
	if !granted {
		return false, nil
	}

	s.cache.Invalidate(ctx, referrerID)
	metrics.ReferralBonusesTotal.Inc()
	s.logger.Info("referral bonus granted",
		"referrer_id", referrerID,
		"referred_id", referredUserID,
		"days", s.cfg.ReferralBonusDays,
	)

	if err := s.notifier.SendReferralBonus(ctx, referrerID, s.cfg.ReferralBonusDays); err != nil {
		s.logger.Warn("referral bonus notice failed",
			"referrer_id", referrerID,
			"error", err,
		)
	}
	return true, nil
}

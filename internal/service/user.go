// Package service contains the business logic layer.
//
// Services orchestrate interactions between repositories, external
// collaborators, and domain logic. They are responsible for:
// - Input validation
// - Business rule enforcement
// - Transaction coordination
// - Error translation (database errors -> domain errors)
//
// This file implements the user registry: ensure-on-first-contact, referral
// deep-link attribution with the one-time signup bonus, and the admin block
// flag.
package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/DukeRupert/laoshi/internal/cache"
	"github.com/DukeRupert/laoshi/internal/domain"
	"github.com/DukeRupert/laoshi/internal/repository"
)

// referralPrefix marks a /start deep-link payload carrying an invite code.
const referralPrefix = "ref_"

// referralCodeAttempts bounds retries when a generated code collides.
const referralCodeAttempts = 3

// =============================================================================
// Interface Definition
// =============================================================================

// UserService maintains subscription records for Telegram users.
type UserService interface {
	// EnsureUser creates the subscription record on first contact and
	// returns it. Existing users are returned unchanged (a referral payload
	// on a repeat /start is ignored; attribution happens once, at
	// registration). New users get a fresh referral code and their trial
	// window; a valid referral payload links the referrer and grants the
	// signup bonus to both sides.
	EnsureUser(ctx context.Context, arg EnsureUserParams) (domain.User, bool, error)

	// GetByReferralCode resolves an invite code to its owner.
	GetByReferralCode(ctx context.Context, code string) (domain.User, error)

	// SetBlocked sets or clears the admin block flag.
	SetBlocked(ctx context.Context, userID int64, blocked bool) error

	// ReferralStats summarizes a referrer's invites.
	ReferralStats(ctx context.Context, referrerID int64) (domain.ReferralStats, error)
}

// EnsureUserParams describes the first-contact upsert.
type EnsureUserParams struct {
	ID        int64
	Username  string
	FirstName string

	// StartPayload is the raw /start deep-link payload, e.g. "ref_k3xw9a".
	// Payloads without the referral prefix are ignored.
	StartPayload string
}

// UserStore is the persistence surface the registry needs. Implemented by
// *repository.Store.
type UserStore interface {
	CreateUser(ctx context.Context, arg repository.CreateUserParams) (bool, error)
	GetUserByID(ctx context.Context, id int64) (domain.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (domain.User, error)
	StartTrial(ctx context.Context, arg repository.StartTrialParams) (bool, error)
	RegisterReferral(ctx context.Context, arg repository.RegisterReferralParams) (bool, error)
	SetUserBlocked(ctx context.Context, arg repository.SetUserBlockedParams) error
	GetReferralStats(ctx context.Context, referrerID int64) (domain.ReferralStats, error)
}

// UserConfig carries the registration-time durations.
type UserConfig struct {
	TrialDays          int
	ReferralSignupDays int
}

// =============================================================================
// Implementation
// =============================================================================

type userService struct {
	store  UserStore
	cache  *cache.SubscriptionCache
	cfg    UserConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewUserService creates a new UserService.
func NewUserService(store UserStore, c *cache.SubscriptionCache, cfg UserConfig, logger *slog.Logger) UserService {
	return &userService{
		store:  store,
		cache:  c,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// EnsureUser creates the subscription record on first contact.
func (s *userService) EnsureUser(ctx context.Context, arg EnsureUserParams) (domain.User, bool, error) {
	const op = "user.ensure"

	if arg.ID <= 0 {
		return domain.User{}, false, domain.Invalid(op, "user id must be positive")
	}

	referrer, err := s.resolveReferrer(ctx, op, arg)
	if err != nil {
		return domain.User{}, false, err
	}

	created, err := s.createWithFreshCode(ctx, op, arg, referrer)
	if err != nil {
		return domain.User{}, false, err
	}

	now := s.now()

	// The trial window is set by its own conditional statement, not the
	// insert, so a crash between the two self-heals on the next contact.
	started, err := s.store.StartTrial(ctx, repository.StartTrialParams{
		UserID:    arg.ID,
		StartedAt: now,
		EndsAt:    now.AddDate(0, 0, s.cfg.TrialDays),
	})
	if err != nil {
		return domain.User{}, false, domain.Internal(err, op, "failed to start trial")
	}

	user, err := s.store.GetUserByID(ctx, arg.ID)
	if err != nil {
		return domain.User{}, false, domain.Internal(err, op, "failed to load user after create")
	}

	if created {
		s.logger.Info("user registered",
			"user_id", arg.ID,
			"username", arg.Username,
			"trial_ends_at", user.TrialEndsAt,
			"referred", referrer != nil,
		)
	} else if started {
		s.logger.Info("trial window repaired", "user_id", arg.ID)
	}

	// Same self-healing shape for the signup bonus: the referrals row is
	// unique per referred user, so this is a no-op on every contact after
	// the bonus landed.
	if user.ReferrerID != nil {
		registered, err := s.store.RegisterReferral(ctx, repository.RegisterReferralParams{
			ReferrerID: *user.ReferrerID,
			ReferredID: user.ID,
			BonusDays:  s.cfg.ReferralSignupDays,
			Now:        now,
		})
		if err != nil {
			return domain.User{}, false, domain.Internal(err, op, "failed to register referral")
		}
		if registered {
			s.cache.Invalidate(ctx, *user.ReferrerID)
			s.logger.Info("referral registered",
				"referrer_id", *user.ReferrerID,
				"referred_id", user.ID,
				"signup_bonus_days", s.cfg.ReferralSignupDays,
			)
			// Both sides just gained premium days; reload so the caller
			// and the cache see the granted state.
			user, err = s.store.GetUserByID(ctx, arg.ID)
			if err != nil {
				return domain.User{}, false, domain.Internal(err, op, "failed to reload user")
			}
		}
	}

	s.cache.Set(ctx, user)
	return user, created, nil
}

// resolveReferrer turns a referral payload into the referring user, or nil
// when the payload is absent, unknown, or self-referential.
func (s *userService) resolveReferrer(ctx context.Context, op string, arg EnsureUserParams) (*domain.User, error) {
	code, ok := strings.CutPrefix(arg.StartPayload, referralPrefix)
	if !ok || code == "" {
		return nil, nil
	}

	referrer, err := s.store.GetUserByReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Debug("unknown referral code ignored", "user_id", arg.ID, "code", code)
			return nil, nil
		}
		return nil, domain.Internal(err, op, "failed to resolve referral code")
	}
	if referrer.ID == arg.ID {
		s.logger.Debug("self-referral ignored", "user_id", arg.ID)
		return nil, nil
	}
	return &referrer, nil
}

// createWithFreshCode inserts the user, retrying with a new referral code if
// the generated one is already taken.
func (s *userService) createWithFreshCode(ctx context.Context, op string, arg EnsureUserParams, referrer *domain.User) (bool, error) {
	var referrerID *int64
	if referrer != nil {
		referrerID = &referrer.ID
	}

	for attempt := 0; attempt < referralCodeAttempts; attempt++ {
		code, err := generateReferralCode()
		if err != nil {
			return false, domain.Internal(err, op, "failed to generate referral code")
		}

		created, err := s.store.CreateUser(ctx, repository.CreateUserParams{
			ID:           arg.ID,
			Username:     arg.Username,
			FirstName:    arg.FirstName,
			ReferralCode: code,
			ReferrerID:   referrerID,
		})
		if err != nil {
			if repository.IsReferralCodeCollision(err) {
				continue
			}
			return false, domain.Internal(err, op, "failed to create user")
		}
		return created, nil
	}
	return false, domain.Internal(nil, op, "referral code space exhausted after retries")
}

// GetByReferralCode resolves an invite code to its owner.
func (s *userService) GetByReferralCode(ctx context.Context, code string) (domain.User, error) {
	const op = "user.get_by_referral_code"

	if code == "" {
		return domain.User{}, domain.Invalid(op, "referral code is required")
	}

	user, err := s.store.GetUserByReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.Errorf(domain.ENOTFOUND, op, "referral code %q not found", code)
		}
		return domain.User{}, domain.Internal(err, op, "failed to resolve referral code")
	}
	return user, nil
}

// SetBlocked sets or clears the admin block flag.
func (s *userService) SetBlocked(ctx context.Context, userID int64, blocked bool) error {
	const op = "user.set_blocked"

	if err := s.store.SetUserBlocked(ctx, repository.SetUserBlockedParams{
		UserID:  userID,
		Blocked: blocked,
	}); err != nil {
		return domain.Internal(err, op, "failed to update block flag")
	}

	s.cache.Invalidate(ctx, userID)
	s.logger.Info("user block flag updated", "user_id", userID, "blocked", blocked)
	return nil
}

// ReferralStats summarizes a referrer's invites.
func (s *userService) ReferralStats(ctx context.Context, referrerID int64) (domain.ReferralStats, error) {
	const op = "user.referral_stats"

	stats, err := s.store.GetReferralStats(ctx, referrerID)
	if err != nil {
		return domain.ReferralStats{}, domain.Internal(err, op, "failed to load referral stats")
	}
	return stats, nil
}

// generateReferralCode returns a short URL-safe invite code (6 random bytes,
// 8 characters encoded).
func generateReferralCode() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Package service contains the business logic layer.
//
// This file implements the quota enforcer: per-day text/voice allowances and
// the cumulative vocabulary cap for free-tier users. Premium and active-trial
// users bypass the limits. Decisions fail closed: a storage error denies.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/laoshi/internal/domain"
	"github.com/DukeRupert/laoshi/internal/metrics"
	"github.com/DukeRupert/laoshi/internal/repository"
)

// dayLayout formats a calendar date cell in the usage_counters table.
const dayLayout = "2006-01-02"

// =============================================================================
// Interface Definition
// =============================================================================

// QuotaService decides whether a user may perform a quota-gated action and
// records completed actions.
type QuotaService interface {
	// CheckAllowed reports whether the user may use the channel right now.
	// A denial is a normal decision (Allowed=false, nil error); errors mean
	// the check itself failed and the caller must treat the action as not
	// allowed.
	CheckAllowed(ctx context.Context, userID int64, channel domain.Channel) (domain.QuotaDecision, error)

	// RecordUsage increments the user's counter for the channel. Called
	// only after the action completed. Counts all tiers, so activity stats
	// include unlimited users.
	RecordUsage(ctx context.Context, userID int64, channel domain.Channel) error
}

// UserSource resolves subscription records. Normally the subscription
// service, which serves reads through the tier cache.
type UserSource interface {
	GetUser(ctx context.Context, userID int64) (domain.User, error)
}

// QuotaStore is the counter persistence surface. Implemented by
// *repository.Store.
type QuotaStore interface {
	GetUsageForDay(ctx context.Context, arg repository.GetUsageParams) (int64, error)
	GetUsageTotal(ctx context.Context, arg repository.GetUsageTotalParams) (int64, error)
	IncrementUsage(ctx context.Context, arg repository.IncrementUsageParams) error
}

// =============================================================================
// Implementation
// =============================================================================

type quotaService struct {
	users  UserSource
	store  QuotaStore
	limits domain.QuotaLimits
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time
}

// NewQuotaService creates a new QuotaService. Day boundaries are computed in
// loc, so counters roll over at that timezone's midnight.
func NewQuotaService(users UserSource, store QuotaStore, limits domain.QuotaLimits, loc *time.Location, logger *slog.Logger) QuotaService {
	return &quotaService{
		users:  users,
		store:  store,
		limits: limits,
		loc:    loc,
		logger: logger,
		now:    time.Now,
	}
}

// CheckAllowed reports whether the user may use the channel right now.
func (s *quotaService) CheckAllowed(ctx context.Context, userID int64, channel domain.Channel) (domain.QuotaDecision, error) {
	const op = "quota.check_allowed"

	if !channel.IsValid() {
		return domain.QuotaDecision{}, domain.Invalid(op, "unknown usage channel: "+channel.String())
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return domain.QuotaDecision{}, err
	}

	if user.IsBlocked {
		return domain.QuotaDecision{}, domain.Unauthorized(op, "user is blocked")
	}

	now := s.now()
	if user.HasUnlimitedAccess(now) {
		metrics.QuotaDecisionsTotal.WithLabelValues(channel.String(), "allowed").Inc()
		return domain.QuotaDecision{
			Allowed:   true,
			Channel:   channel,
			Unlimited: true,
		}, nil
	}

	var used int64
	if channel.Cumulative() {
		used, err = s.store.GetUsageTotal(ctx, repository.GetUsageTotalParams{
			UserID:  userID,
			Channel: channel,
		})
	} else {
		used, err = s.store.GetUsageForDay(ctx, repository.GetUsageParams{
			UserID:  userID,
			Day:     s.day(now),
			Channel: channel,
		})
	}
	if err != nil {
		// Fail closed: the caller receives an error, never a permissive
		// default decision.
		return domain.QuotaDecision{}, domain.Internal(err, op, "failed to read usage counter")
	}

	limit := s.limits.Limit(channel)
	decision := domain.QuotaDecision{
		Allowed: used < int64(limit),
		Channel: channel,
		Used:    int(used),
		Limit:   limit,
	}

	if decision.Allowed {
		metrics.QuotaDecisionsTotal.WithLabelValues(channel.String(), "allowed").Inc()
	} else {
		metrics.QuotaDecisionsTotal.WithLabelValues(channel.String(), "denied").Inc()
		s.logger.Info("quota exceeded",
			"user_id", userID,
			"channel", channel,
			"used", used,
			"limit", limit,
		)
	}
	return decision, nil
}

// RecordUsage increments the user's counter for the channel.
func (s *quotaService) RecordUsage(ctx context.Context, userID int64, channel domain.Channel) error {
	const op = "quota.record_usage"

	if !channel.IsValid() {
		return domain.Invalid(op, "unknown usage channel: "+channel.String())
	}

	err := s.store.IncrementUsage(ctx, repository.IncrementUsageParams{
		UserID:  userID,
		Day:     s.day(s.now()),
		Channel: channel,
	})
	if err != nil {
		return domain.Internal(err, op, "failed to increment usage counter")
	}
	return nil
}

// day returns the calendar date of t in the quota timezone.
func (s *quotaService) day(t time.Time) string {
	return t.In(s.loc).Format(dayLayout)
}

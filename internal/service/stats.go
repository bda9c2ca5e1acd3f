// Package service contains the business logic layer.
//
// This file implements the admin statistics overview. Audience activity is
// derived from usage counters; revenue from completed provider payments.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/laoshi/internal/domain"
	"github.com/DukeRupert/laoshi/internal/repository"
)

// revenueWindowDays is the trailing window for the revenue figure.
const revenueWindowDays = 30

// =============================================================================
// Interface Definition
// =============================================================================

// StatsService assembles the admin overview.
type StatsService interface {
	Overview(ctx context.Context) (domain.Stats, error)
}

// StatsStore is the aggregate surface the overview reads. Implemented by
// *repository.Store.
type StatsStore interface {
	CountUsers(ctx context.Context) (int64, error)
	CountUsersCreatedSince(ctx context.Context, t time.Time) (int64, error)
	CountPremiumUsers(ctx context.Context, now time.Time) (int64, error)
	SumUsageForDay(ctx context.Context, arg repository.SumUsageForDayParams) (int64, error)
	CountActiveUsersOnDay(ctx context.Context, day string) (int64, error)
	CountActiveUsersSinceDay(ctx context.Context, day string) (int64, error)
	SumRevenueSince(ctx context.Context, t time.Time) (int64, error)
}

// =============================================================================
// Implementation
// =============================================================================

type statsService struct {
	store  StatsStore
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time
}

// NewStatsService creates a new StatsService. Day boundaries follow the
// quota timezone so activity numbers line up with the counters.
func NewStatsService(store StatsStore, loc *time.Location, logger *slog.Logger) StatsService {
	return &statsService{
		store:  store,
		loc:    loc,
		logger: logger,
		now:    time.Now,
	}
}

// Overview assembles the point-in-time stats.
func (s *statsService) Overview(ctx context.Context) (domain.Stats, error) {
	const op = "stats.overview"

	now := s.now()
	local := now.In(s.loc)
	startToday := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	weekAgo := startToday.AddDate(0, 0, -6)   // 7 calendar days including today
	monthAgo := startToday.AddDate(0, 0, -29) // 30 calendar days including today

	var stats domain.Stats
	var err error

	if stats.TotalUsers, err = s.store.CountUsers(ctx); err != nil {
		return domain.Stats{}, domain.Internal(err, op, "failed to count users")
	}
	if stats.NewToday, err = s.store.CountUsersCreatedSince(ctx, startToday); err != nil {
		return domain.Stats{}, domain.Internal(err, op, "failed to count new users today")
	}
	if stats.NewThisWeek, err = s.store.CountUsersCreatedSince(ctx, weekAgo); err != nil {
		return domain.Stats{}, domain.Internal(err, op, "failed to count new users this week")
	}
	if stats.NewThisMonth, err = s.store.CountUsersCreatedSince(ctx, monthAgo); err != nil {
		return domain.Stats{}, domain.Internal(err, op, "failed to count new users this month")
	}
	if stats.PremiumUsers, err = s.store.CountPremiumUsers(ctx, now); err != nil {
		return domain.Stats{}, domain.Internal(err, op, "failed to count premium users")
	}

	today := local.Format(dayLayout)
	if stats.TextToday, err = s.store.SumUsageForDay(ctx, repository.SumUsageForDayParams{
		Day:     today,
		Channel: domain.ChannelText,
	}); err != nil {
		return domain.Stats{}, domain.Internal(err, op, "failed to sum text usage")
	}
	if stats.VoiceToday, err = s.store.SumUsageForDay(ctx, repository.SumUsageForDayParams{
		Day:     today,
		Channel: domain.ChannelVoice,
	}); err != nil {
		return domain.Stats{}, domain.Internal(err, op, "failed to sum voice usage")
	}

	if stats.DAU, err = s.store.CountActiveUsersOnDay(ctx, today); err != nil {
		return domain.Stats{}, domain.Internal(err, op, "failed to count daily actives")
	}
	if stats.WAU, err = s.store.CountActiveUsersSinceDay(ctx, weekAgo.Format(dayLayout)); err != nil {
		return domain.Stats{}, domain.Internal(err, op, "failed to count weekly actives")
	}
	if stats.MAU, err = s.store.CountActiveUsersSinceDay(ctx, monthAgo.Format(dayLayout)); err != nil {
		return domain.Stats{}, domain.Internal(err, op, "failed to count monthly actives")
	}

	if stats.RevenueKopecks, err = s.store.SumRevenueSince(ctx, now.AddDate(0, 0, -revenueWindowDays)); err != nil {
		return domain.Stats{}, domain.Internal(err, op, "failed to sum revenue")
	}

	if stats.TotalUsers > 0 {
		stats.Conversion = float64(stats.PremiumUsers) / float64(stats.TotalUsers) * 100
	}

	return stats, nil
}

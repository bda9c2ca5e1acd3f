package repository

import (
	"context"
	"time"

	"github.com/DukeRupert/laoshi/internal/domain"
)

// CountUsers returns the total number of subscription records.
func (q *Queries) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// CountUsersCreatedSince returns how many users registered at or after t.
func (q *Queries) CountUsersCreatedSince(ctx context.Context, t time.Time) (int64, error) {
	const query = `SELECT COUNT(*) FROM users WHERE created_at >= $1`

	var count int64
	err := q.db.QueryRowContext(ctx, query, t).Scan(&count)
	return count, err
}

// CountPremiumUsers returns users whose premium period covers now.
func (q *Queries) CountPremiumUsers(ctx context.Context, now time.Time) (int64, error) {
	const query = `
		SELECT COUNT(*) FROM users
		WHERE tier = 'premium' AND premium_expires_at > $1`

	var count int64
	err := q.db.QueryRowContext(ctx, query, now).Scan(&count)
	return count, err
}

// SumUsageForDayParams aggregates one channel across all users for one day.
type SumUsageForDayParams struct {
	Day     string
	Channel domain.Channel
}

// SumUsageForDay totals a channel's counters across all users for one day.
func (q *Queries) SumUsageForDay(ctx context.Context, arg SumUsageForDayParams) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(count), 0)
		FROM usage_counters
		WHERE day = $1 AND channel = $2`

	var total int64
	err := q.db.QueryRowContext(ctx, query, arg.Day, string(arg.Channel)).Scan(&total)
	return total, err
}

// CountActiveUsersOnDay returns distinct users with any usage on the day.
func (q *Queries) CountActiveUsersOnDay(ctx context.Context, day string) (int64, error) {
	const query = `SELECT COUNT(DISTINCT user_id) FROM usage_counters WHERE day = $1`

	var count int64
	err := q.db.QueryRowContext(ctx, query, day).Scan(&count)
	return count, err
}

// CountActiveUsersSinceDay returns distinct users with any usage on or after
// the day.
func (q *Queries) CountActiveUsersSinceDay(ctx context.Context, day string) (int64, error) {
	const query = `SELECT COUNT(DISTINCT user_id) FROM usage_counters WHERE day >= $1`

	var count int64
	err := q.db.QueryRowContext(ctx, query, day).Scan(&count)
	return count, err
}

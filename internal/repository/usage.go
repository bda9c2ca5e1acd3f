package repository

import (
	"context"

	"github.com/DukeRupert/laoshi/internal/domain"
)

// IncrementUsageParams identifies one counter cell. Day is a calendar date
// in the quota timezone, formatted YYYY-MM-DD.
type IncrementUsageParams struct {
	UserID  int64
	Day     string
	Channel domain.Channel
}

// IncrementUsage adds one to the counter, creating the row lazily. The
// upsert is a single statement so concurrent actions never lose increments.
func (q *Queries) IncrementUsage(ctx context.Context, arg IncrementUsageParams) error {
	const query = `
		INSERT INTO usage_counters (user_id, day, channel, count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (user_id, day, channel)
		DO UPDATE SET count = usage_counters.count + 1`

	_, err := q.db.ExecContext(ctx, query, arg.UserID, arg.Day, string(arg.Channel))
	return err
}

// GetUsageParams identifies one counter cell to read.
type GetUsageParams struct {
	UserID  int64
	Day     string
	Channel domain.Channel
}

// GetUsageForDay returns the counter for one day. A missing row means zero.
func (q *Queries) GetUsageForDay(ctx context.Context, arg GetUsageParams) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(count), 0)
		FROM usage_counters
		WHERE user_id = $1 AND day = $2 AND channel = $3`

	var count int64
	err := q.db.QueryRowContext(ctx, query, arg.UserID, arg.Day, string(arg.Channel)).Scan(&count)
	return count, err
}

// GetUsageTotalParams identifies a user's all-time counter for one channel.
type GetUsageTotalParams struct {
	UserID  int64
	Channel domain.Channel
}

// GetUsageTotal returns the all-time sum for a channel. Used for cumulative
// caps such as saved vocabulary words.
func (q *Queries) GetUsageTotal(ctx context.Context, arg GetUsageTotalParams) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(count), 0)
		FROM usage_counters
		WHERE user_id = $1 AND channel = $2`

	var count int64
	err := q.db.QueryRowContext(ctx, query, arg.UserID, string(arg.Channel)).Scan(&count)
	return count, err
}

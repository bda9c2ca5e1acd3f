package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/DukeRupert/laoshi/internal/domain"
)

const userColumns = `id, username, first_name, tier, trial_started_at, trial_ends_at,
	premium_expires_at, trial_notified, premium_expired_notified, referrer_id,
	referral_code, is_blocked, last_event_id, created_at, updated_at`

// scanUser reads one user row into the domain type.
func scanUser(row *sql.Row) (domain.User, error) {
	var (
		u                            domain.User
		username, firstName, eventID sql.NullString
		trialStarted, trialEnds      sql.NullTime
		premiumExpires               sql.NullTime
		referrer                     sql.NullInt64
		tier                         string
	)
	err := row.Scan(
		&u.ID, &username, &firstName, &tier, &trialStarted, &trialEnds,
		&premiumExpires, &u.TrialNotified, &u.PremiumExpiredNotified, &referrer,
		&u.ReferralCode, &u.IsBlocked, &eventID, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, err
	}
	fillUser(&u, username, firstName, tier, trialStarted, trialEnds, premiumExpires, referrer, eventID)
	return u, nil
}

func fillUser(u *domain.User, username, firstName sql.NullString, tier string,
	trialStarted, trialEnds, premiumExpires sql.NullTime, referrer sql.NullInt64, eventID sql.NullString) {
	u.Username = domain.NullStringValue(username)
	u.FirstName = domain.NullStringValue(firstName)
	u.Tier = domain.Tier(tier)
	if t := domain.NullTimeValue(trialStarted); t != nil {
		u.TrialStartedAt = *t
	}
	if t := domain.NullTimeValue(trialEnds); t != nil {
		u.TrialEndsAt = *t
	}
	u.PremiumExpiresAt = domain.NullTimeValue(premiumExpires)
	u.ReferrerID = domain.NullInt64Value(referrer)
	u.LastEventID = domain.NullStringValue(eventID)
}

// CreateUserParams holds the fields set when a user first contacts the bot.
// The trial window is not part of the insert; StartTrial sets it exactly once.
type CreateUserParams struct {
	ID           int64
	Username     string
	FirstName    string
	ReferralCode string
	ReferrerID   *int64
}

// CreateUser inserts a subscription record if none exists for the id.
// Returns true when a row was actually created.
func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (bool, error) {
	const query = `
		INSERT INTO users (id, username, first_name, tier, referral_code, referrer_id)
		VALUES ($1, $2, $3, 'trial', $4, $5)
		ON CONFLICT (id) DO NOTHING`

	res, err := q.db.ExecContext(ctx, query,
		arg.ID,
		domain.ToNullString(arg.Username),
		domain.ToNullString(arg.FirstName),
		arg.ReferralCode,
		domain.ToNullInt64(arg.ReferrerID),
	)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// IsReferralCodeCollision reports whether err came from issuing a referral
// code another user already holds. The caller retries with a fresh code.
func IsReferralCodeCollision(err error) bool {
	return isUniqueViolation(err, "users_referral_code_key")
}

// GetUserByID fetches one subscription record. Returns sql.ErrNoRows when
// the user is unknown; callers translate that to a domain not-found error.
func (q *Queries) GetUserByID(ctx context.Context, id int64) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(q.db.QueryRowContext(ctx, query, id))
}

// GetUserByReferralCode resolves an invite code to its owner.
func (q *Queries) GetUserByReferralCode(ctx context.Context, code string) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE referral_code = $1`
	return scanUser(q.db.QueryRowContext(ctx, query, code))
}

// StartTrialParams sets the one-time trial window.
type StartTrialParams struct {
	UserID    int64
	StartedAt time.Time
	EndsAt    time.Time
}

// StartTrial sets the trial window if the user has never had one. The
// conditional write makes the operation idempotent: a second call finds
// trial_started_at already set and changes nothing.
func (q *Queries) StartTrial(ctx context.Context, arg StartTrialParams) (bool, error) {
	const query = `
		UPDATE users
		SET tier = 'trial', trial_started_at = $2, trial_ends_at = $3, updated_at = NOW()
		WHERE id = $1 AND trial_started_at IS NULL`

	res, err := q.db.ExecContext(ctx, query, arg.UserID, arg.StartedAt, arg.EndsAt)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// GrantPremiumParams extends a user's premium period.
type GrantPremiumParams struct {
	UserID  int64
	Days    int
	Now     time.Time
	EventID sql.NullString // Provider event id, null for bonus grants
}

// GrantPremium stacks days onto the active premium period, or starts one at
// Now if none is active. The whole grant is a single conditional statement so
// a concurrent sweep downgrade cannot interleave with it. Resets the expiry
// notice flag so the next expiry notifies again.
func (q *Queries) GrantPremium(ctx context.Context, arg GrantPremiumParams) (time.Time, error) {
	const query = `
		UPDATE users
		SET tier = 'premium',
		    premium_expires_at = GREATEST(COALESCE(premium_expires_at, $2), $2) + make_interval(days => $3),
		    premium_expired_notified = FALSE,
		    last_event_id = COALESCE($4, last_event_id),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING premium_expires_at`

	var expiresAt time.Time
	err := q.db.QueryRowContext(ctx, query, arg.UserID, arg.Now, arg.Days, arg.EventID).Scan(&expiresAt)
	if err != nil {
		return time.Time{}, err
	}
	return expiresAt, nil
}

// DowngradeParams identifies the user and the instant the expiry check runs.
type DowngradeParams struct {
	UserID int64
	Now    time.Time
}

// DowngradeExpiredTrial moves a trial user to free, but only if the trial
// window has really elapsed at write time. Returns false when the record
// changed since it was scanned (a grant won the race) or was already free.
func (q *Queries) DowngradeExpiredTrial(ctx context.Context, arg DowngradeParams) (bool, error) {
	const query = `
		UPDATE users
		SET tier = 'free', updated_at = NOW()
		WHERE id = $1 AND tier = 'trial'
		  AND trial_ends_at IS NOT NULL AND trial_ends_at <= $2`

	res, err := q.db.ExecContext(ctx, query, arg.UserID, arg.Now)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// DowngradeExpiredPremium moves an expired premium user to free and clears
// the expiry, re-checking both at write time so a fresh grant wins.
func (q *Queries) DowngradeExpiredPremium(ctx context.Context, arg DowngradeParams) (bool, error) {
	const query = `
		UPDATE users
		SET tier = 'free', premium_expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND tier = 'premium'
		  AND premium_expires_at IS NOT NULL AND premium_expires_at <= $2`

	res, err := q.db.ExecContext(ctx, query, arg.UserID, arg.Now)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// SetTrialNotified marks the trial-expiry notice as delivered.
func (q *Queries) SetTrialNotified(ctx context.Context, userID int64) error {
	const query = `UPDATE users SET trial_notified = TRUE, updated_at = NOW() WHERE id = $1`
	_, err := q.db.ExecContext(ctx, query, userID)
	return err
}

// SetPremiumExpiredNotified marks the premium-expiry notice as delivered.
func (q *Queries) SetPremiumExpiredNotified(ctx context.Context, userID int64) error {
	const query = `UPDATE users SET premium_expired_notified = TRUE, updated_at = NOW() WHERE id = $1`
	_, err := q.db.ExecContext(ctx, query, userID)
	return err
}

// SetUserBlockedParams toggles the admin block flag.
type SetUserBlockedParams struct {
	UserID  int64
	Blocked bool
}

// SetUserBlocked sets or clears the block flag.
func (q *Queries) SetUserBlocked(ctx context.Context, arg SetUserBlockedParams) error {
	const query = `UPDATE users SET is_blocked = $2, updated_at = NOW() WHERE id = $1`
	_, err := q.db.ExecContext(ctx, query, arg.UserID, arg.Blocked)
	return err
}

// ListCandidatesParams pages through sweep candidates by ascending id.
type ListCandidatesParams struct {
	Now     time.Time
	AfterID int64
	Limit   int32
}

// ListExpiredTrialCandidates returns users whose trial window has elapsed and
// whose trial notice is still pending. The set covers both records awaiting
// the downgrade and records already downgraded whose notice failed to send,
// so an interrupted sweep resumes cleanly. Active premium users never match.
func (q *Queries) ListExpiredTrialCandidates(ctx context.Context, arg ListCandidatesParams) ([]domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE trial_notified = FALSE
		  AND tier <> 'premium'
		  AND trial_ends_at IS NOT NULL AND trial_ends_at <= $1
		  AND id > $2
		ORDER BY id
		LIMIT $3`

	return q.listUsers(ctx, query, arg.Now, arg.AfterID, arg.Limit)
}

// ListExpiredPremiumCandidates returns users whose premium period has
// elapsed and whose expiry notice is still pending. The second branch picks
// up records a previous sweep downgraded without managing to notify: those
// rows have no expiry left, but every premium period leaves a payments row
// behind, so their history identifies them.
func (q *Queries) ListExpiredPremiumCandidates(ctx context.Context, arg ListCandidatesParams) ([]domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users u
		WHERE u.premium_expired_notified = FALSE
		  AND u.id > $2
		  AND (
		    (u.tier = 'premium' AND u.premium_expires_at IS NOT NULL AND u.premium_expires_at <= $1)
		    OR (u.tier = 'free' AND u.premium_expires_at IS NULL
		        AND EXISTS (SELECT 1 FROM payments p WHERE p.user_id = u.id))
		  )
		ORDER BY u.id
		LIMIT $3`

	return q.listUsers(ctx, query, arg.Now, arg.AfterID, arg.Limit)
}

func (q *Queries) listUsers(ctx context.Context, query string, args ...interface{}) ([]domain.User, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var (
			u                            domain.User
			username, firstName, eventID sql.NullString
			trialStarted, trialEnds      sql.NullTime
			premiumExpires               sql.NullTime
			referrer                     sql.NullInt64
			tier                         string
		)
		if err := rows.Scan(
			&u.ID, &username, &firstName, &tier, &trialStarted, &trialEnds,
			&premiumExpires, &u.TrialNotified, &u.PremiumExpiredNotified, &referrer,
			&u.ReferralCode, &u.IsBlocked, &eventID, &u.CreatedAt, &u.UpdatedAt,
		); err != nil {
			return nil, err
		}
		fillUser(&u, username, firstName, tier, trialStarted, trialEnds, premiumExpires, referrer, eventID)
		users = append(users, u)
	}
	return users, rows.Err()
}

package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/laoshi/internal/domain"
	"github.com/DukeRupert/laoshi/internal/repository"
)

// fakeUserStore mimics the registry's conditional writes: insert-if-absent,
// set-trial-once, register-referral-once.
type fakeUserStore struct {
	users     map[int64]domain.User
	byCode    map[string]int64
	referrals map[int64]int64 // referred id -> referrer id
	stats     map[int64]domain.ReferralStats

	createCalls int
	failCreates int // next N inserts hit a referral code collision
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		users:     make(map[int64]domain.User),
		byCode:    make(map[string]int64),
		referrals: make(map[int64]int64),
		stats:     make(map[int64]domain.ReferralStats),
	}
}

func (f *fakeUserStore) CreateUser(ctx context.Context, arg repository.CreateUserParams) (bool, error) {
	f.createCalls++
	if _, ok := f.users[arg.ID]; ok {
		return false, nil
	}
	if f.failCreates > 0 {
		f.failCreates--
		return false, &pgconn.PgError{Code: "23505", ConstraintName: "users_referral_code_key"}
	}
	f.users[arg.ID] = domain.User{
		ID:           arg.ID,
		Username:     arg.Username,
		FirstName:    arg.FirstName,
		Tier:         domain.TierFree,
		ReferralCode: arg.ReferralCode,
		ReferrerID:   arg.ReferrerID,
	}
	f.byCode[arg.ReferralCode] = arg.ID
	return true, nil
}

func (f *fakeUserStore) GetUserByID(ctx context.Context, id int64) (domain.User, error) {
	user, ok := f.users[id]
	if !ok {
		return domain.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeUserStore) GetUserByReferralCode(ctx context.Context, code string) (domain.User, error) {
	id, ok := f.byCode[code]
	if !ok {
		return domain.User{}, sql.ErrNoRows
	}
	return f.users[id], nil
}

func (f *fakeUserStore) StartTrial(ctx context.Context, arg repository.StartTrialParams) (bool, error) {
	user, ok := f.users[arg.UserID]
	if !ok || !user.TrialStartedAt.IsZero() {
		return false, nil
	}
	user.TrialStartedAt = arg.StartedAt
	user.TrialEndsAt = arg.EndsAt
	user.Tier = domain.TierTrial
	f.users[arg.UserID] = user
	return true, nil
}

func (f *fakeUserStore) RegisterReferral(ctx context.Context, arg repository.RegisterReferralParams) (bool, error) {
	if _, done := f.referrals[arg.ReferredID]; done {
		return false, nil
	}
	f.referrals[arg.ReferredID] = arg.ReferrerID
	// Signup bonus lands on both sides.
	for _, id := range []int64{arg.ReferrerID, arg.ReferredID} {
		user := f.users[id]
		expires := arg.Now.AddDate(0, 0, arg.BonusDays)
		if user.PremiumExpiresAt != nil && user.PremiumExpiresAt.After(arg.Now) {
			expires = user.PremiumExpiresAt.AddDate(0, 0, arg.BonusDays)
		}
		user.Tier = domain.TierPremium
		user.PremiumExpiresAt = &expires
		f.users[id] = user
	}
	return true, nil
}

func (f *fakeUserStore) SetUserBlocked(ctx context.Context, arg repository.SetUserBlockedParams) error {
	user := f.users[arg.UserID]
	user.IsBlocked = arg.Blocked
	f.users[arg.UserID] = user
	return nil
}

func (f *fakeUserStore) GetReferralStats(ctx context.Context, referrerID int64) (domain.ReferralStats, error) {
	return f.stats[referrerID], nil
}

func newTestUserService(store *fakeUserStore) UserService {
	return NewUserService(store, nil, UserConfig{
		TrialDays:          3,
		ReferralSignupDays: 7,
	}, testLogger())
}

func TestEnsureUser_CreatesWithTrialWindow(t *testing.T) {
	store := newFakeUserStore()
	svc := newTestUserService(store)

	user, created, err := svc.EnsureUser(context.Background(), EnsureUserParams{
		ID: 100, Username: "xiaoming", FirstName: "Ming",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.TierTrial, user.Tier)
	assert.NotEmpty(t, user.ReferralCode)
	assert.False(t, user.TrialStartedAt.IsZero())
	assert.Equal(t, user.TrialStartedAt.AddDate(0, 0, 3), user.TrialEndsAt)
}

func TestEnsureUser_RepeatContactIsStable(t *testing.T) {
	store := newFakeUserStore()
	svc := newTestUserService(store)

	first, created, err := svc.EnsureUser(context.Background(), EnsureUserParams{ID: 100})
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := svc.EnsureUser(context.Background(), EnsureUserParams{ID: 100})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ReferralCode, second.ReferralCode)
	assert.Equal(t, first.TrialStartedAt, second.TrialStartedAt)
	assert.Equal(t, first.TrialEndsAt, second.TrialEndsAt)
}

func TestEnsureUser_ReferralPayloadLinksAndGrantsSignupBonus(t *testing.T) {
	store := newFakeUserStore()
	svc := newTestUserService(store)

	referrer, _, err := svc.EnsureUser(context.Background(), EnsureUserParams{ID: 1})
	require.NoError(t, err)

	referred, created, err := svc.EnsureUser(context.Background(), EnsureUserParams{
		ID:           2,
		StartPayload: "ref_" + referrer.ReferralCode,
	})
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, referred.ReferrerID)
	assert.Equal(t, referrer.ID, *referred.ReferrerID)

	// Both sides hold the 7-day signup bonus.
	assert.Equal(t, domain.TierPremium, referred.Tier)
	updatedReferrer := store.users[1]
	assert.Equal(t, domain.TierPremium, updatedReferrer.Tier)
	require.NotNil(t, updatedReferrer.PremiumExpiresAt)
}

func TestEnsureUser_SignupBonusLandsOnce(t *testing.T) {
	store := newFakeUserStore()
	svc := newTestUserService(store)

	referrer, _, err := svc.EnsureUser(context.Background(), EnsureUserParams{ID: 1})
	require.NoError(t, err)

	payload := "ref_" + referrer.ReferralCode
	_, _, err = svc.EnsureUser(context.Background(), EnsureUserParams{ID: 2, StartPayload: payload})
	require.NoError(t, err)
	afterFirst := *store.users[1].PremiumExpiresAt

	// Repeat /start with the same deep link changes nothing.
	_, _, err = svc.EnsureUser(context.Background(), EnsureUserParams{ID: 2, StartPayload: payload})
	require.NoError(t, err)
	assert.Equal(t, afterFirst, *store.users[1].PremiumExpiresAt)
}

func TestEnsureUser_SelfReferralIgnored(t *testing.T) {
	store := newFakeUserStore()
	svc := newTestUserService(store)

	// Seed the user so their own code resolves to themselves, then contact
	// again through their own invite link after dropping the record's trial
	// state. Easiest equivalent: a fresh user whose payload matches a code
	// owned by the same id cannot exist, so exercise the service path with a
	// pre-seeded code instead.
	store.users[5] = domain.User{ID: 5, ReferralCode: "selfcode"}
	store.byCode["selfcode"] = 5

	user, _, err := svc.EnsureUser(context.Background(), EnsureUserParams{
		ID: 5, StartPayload: "ref_selfcode",
	})
	require.NoError(t, err)
	assert.Nil(t, user.ReferrerID)
}

func TestEnsureUser_UnknownReferralCodeIgnored(t *testing.T) {
	store := newFakeUserStore()
	svc := newTestUserService(store)

	user, created, err := svc.EnsureUser(context.Background(), EnsureUserParams{
		ID: 100, StartPayload: "ref_doesnotexist",
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Nil(t, user.ReferrerID)
}

func TestEnsureUser_NonReferralPayloadIgnored(t *testing.T) {
	store := newFakeUserStore()
	svc := newTestUserService(store)

	user, _, err := svc.EnsureUser(context.Background(), EnsureUserParams{
		ID: 100, StartPayload: "promo_2025",
	})
	require.NoError(t, err)
	assert.Nil(t, user.ReferrerID)
}

func TestEnsureUser_RejectsInvalidID(t *testing.T) {
	svc := newTestUserService(newFakeUserStore())

	_, _, err := svc.EnsureUser(context.Background(), EnsureUserParams{ID: 0})
	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestSetBlocked(t *testing.T) {
	store := newFakeUserStore()
	svc := newTestUserService(store)

	_, _, err := svc.EnsureUser(context.Background(), EnsureUserParams{ID: 100})
	require.NoError(t, err)

	require.NoError(t, svc.SetBlocked(context.Background(), 100, true))
	assert.True(t, store.users[100].IsBlocked)

	require.NoError(t, svc.SetBlocked(context.Background(), 100, false))
	assert.False(t, store.users[100].IsBlocked)
}

func TestGetByReferralCode(t *testing.T) {
	store := newFakeUserStore()
	svc := newTestUserService(store)

	created, _, err := svc.EnsureUser(context.Background(), EnsureUserParams{ID: 100})
	require.NoError(t, err)

	found, err := svc.GetByReferralCode(context.Background(), created.ReferralCode)
	require.NoError(t, err)
	assert.Equal(t, int64(100), found.ID)

	_, err = svc.GetByReferralCode(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestReferralStats(t *testing.T) {
	store := newFakeUserStore()
	store.stats[1] = domain.ReferralStats{Invited: 4, Subscribed: 2, BonusDaysEarned: 60}
	svc := newTestUserService(store)

	stats, err := svc.ReferralStats(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Invited)
	assert.Equal(t, 2, stats.Subscribed)
	assert.Equal(t, 60, stats.BonusDaysEarned)
}

func TestEnsureUser_RetriesOnReferralCodeCollision(t *testing.T) {
	store := newFakeUserStore()
	store.failCreates = 1
	svc := newTestUserService(store)

	user, created, err := svc.EnsureUser(context.Background(), EnsureUserParams{ID: 100})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, user.ReferralCode)
	assert.Equal(t, 2, store.createCalls)
}

func TestEnsureUser_GivesUpAfterRepeatedCollisions(t *testing.T) {
	store := newFakeUserStore()
	store.failCreates = 10
	svc := newTestUserService(store)

	_, _, err := svc.EnsureUser(context.Background(), EnsureUserParams{ID: 100})
	require.Error(t, err)
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/laoshi/internal/domain"
	"github.com/DukeRupert/laoshi/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSubStore mimics the repository's conditional-write semantics in
// memory: grants stack onto the later of now and the current expiry, event
// ids are applied at most once, and a pending referral converts exactly once.
type fakeSubStore struct {
	users        map[int64]domain.User
	appliedIDs   map[string]time.Time // event id -> expiry recorded at first apply
	pendingRef   map[int64]int64      // referred id -> referrer id
	bonusApplied map[int64]bool

	trialStarts int
	grantErr    error
}

func newFakeSubStore() *fakeSubStore {
	return &fakeSubStore{
		users:        make(map[int64]domain.User),
		appliedIDs:   make(map[string]time.Time),
		pendingRef:   make(map[int64]int64),
		bonusApplied: make(map[int64]bool),
	}
}

func (f *fakeSubStore) GetUserByID(ctx context.Context, id int64) (domain.User, error) {
	user, ok := f.users[id]
	if !ok {
		return domain.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeSubStore) StartTrial(ctx context.Context, arg repository.StartTrialParams) (bool, error) {
	user, ok := f.users[arg.UserID]
	if !ok {
		return false, nil
	}
	if !user.TrialStartedAt.IsZero() {
		return false, nil
	}
	user.TrialStartedAt = arg.StartedAt
	user.TrialEndsAt = arg.EndsAt
	user.Tier = domain.TierTrial
	f.users[arg.UserID] = user
	f.trialStarts++
	return true, nil
}

func (f *fakeSubStore) grantDays(userID int64, days int, now time.Time) time.Time {
	user := f.users[userID]
	base := now
	if user.PremiumExpiresAt != nil && user.PremiumExpiresAt.After(now) {
		base = *user.PremiumExpiresAt
	}
	expires := base.AddDate(0, 0, days)
	user.Tier = domain.TierPremium
	user.PremiumExpiresAt = &expires
	user.PremiumExpiredNotified = false
	f.users[userID] = user
	return expires
}

func (f *fakeSubStore) ApplyPaymentGrant(ctx context.Context, arg repository.ApplyPaymentGrantParams) (domain.GrantResult, error) {
	if f.grantErr != nil {
		return domain.GrantResult{}, f.grantErr
	}
	if expires, dup := f.appliedIDs[arg.EventID]; dup {
		return domain.GrantResult{Duplicate: true, ExpiresAt: expires}, nil
	}
	if _, ok := f.users[arg.UserID]; !ok {
		return domain.GrantResult{}, sql.ErrNoRows
	}
	expires := f.grantDays(arg.UserID, arg.Days, arg.Now)
	f.appliedIDs[arg.EventID] = expires
	return domain.GrantResult{ExpiresAt: expires}, nil
}

func (f *fakeSubStore) GrantBonusDays(ctx context.Context, arg repository.GrantBonusDaysParams) (time.Time, error) {
	if _, ok := f.users[arg.UserID]; !ok {
		return time.Time{}, sql.ErrNoRows
	}
	return f.grantDays(arg.UserID, arg.Days, arg.Now), nil
}

func (f *fakeSubStore) ApplyReferralBonus(ctx context.Context, arg repository.ApplyReferralBonusParams) (bool, int64, error) {
	referrerID, ok := f.pendingRef[arg.ReferredID]
	if !ok || f.bonusApplied[arg.ReferredID] {
		return false, 0, nil
	}
	f.bonusApplied[arg.ReferredID] = true
	f.grantDays(referrerID, arg.BonusDays, arg.Now)
	return true, referrerID, nil
}

// fakeSender records notification deliveries.
type fakeSender struct {
	trialExpired     []int64
	premiumExpired   []int64
	paymentConfirmed []int64
	referralBonus    []int64
	err              error
}

func (f *fakeSender) SendTrialExpired(ctx context.Context, userID int64) error {
	f.trialExpired = append(f.trialExpired, userID)
	return f.err
}

func (f *fakeSender) SendPremiumExpired(ctx context.Context, userID int64) error {
	f.premiumExpired = append(f.premiumExpired, userID)
	return f.err
}

func (f *fakeSender) SendPaymentConfirmed(ctx context.Context, userID int64, expiresAt time.Time) error {
	f.paymentConfirmed = append(f.paymentConfirmed, userID)
	return f.err
}

func (f *fakeSender) SendReferralBonus(ctx context.Context, userID int64, bonusDays int) error {
	f.referralBonus = append(f.referralBonus, userID)
	return f.err
}

func newTestSubscriptionService(store *fakeSubStore, sender *fakeSender, at time.Time) SubscriptionService {
	svc := NewSubscriptionService(store, nil, sender, SubscriptionConfig{
		TrialDays:           3,
		PremiumDaysPerEvent: 30,
		ReferralBonusDays:   30,
	}, testLogger())
	svc.(*subscriptionService).now = func() time.Time { return at }
	return svc
}

func TestProcessPayment_GrantsPremium(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeSubStore()
	store.users[100] = domain.User{ID: 100, Tier: domain.TierFree}
	sender := &fakeSender{}
	svc := newTestSubscriptionService(store, sender, now)

	result, err := svc.ProcessPayment(context.Background(), domain.PaymentEvent{
		EventID: "tribute:1", UserID: 100, Amount: 77000,
	})
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Equal(t, now.AddDate(0, 0, 30), result.ExpiresAt)

	user := store.users[100]
	assert.Equal(t, domain.TierPremium, user.Tier)
	assert.Equal(t, []int64{100}, sender.paymentConfirmed)
}

func TestProcessPayment_DuplicateEventIsNoOp(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeSubStore()
	store.users[100] = domain.User{ID: 100, Tier: domain.TierFree}
	sender := &fakeSender{}
	svc := newTestSubscriptionService(store, sender, now)

	event := domain.PaymentEvent{EventID: "tribute:1", UserID: 100, Amount: 77000}

	first, err := svc.ProcessPayment(context.Background(), event)
	require.NoError(t, err)
	second, err := svc.ProcessPayment(context.Background(), event)
	require.NoError(t, err)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.ExpiresAt, second.ExpiresAt)
	// The confirmation notice goes out once, on the first delivery.
	assert.Equal(t, []int64{100}, sender.paymentConfirmed)
}

func TestProcessPayment_StacksOntoActivePremium(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	existing := now.AddDate(0, 0, 10)
	store := newFakeSubStore()
	store.users[100] = domain.User{ID: 100, Tier: domain.TierPremium, PremiumExpiresAt: &existing}
	svc := newTestSubscriptionService(store, &fakeSender{}, now)

	result, err := svc.ProcessPayment(context.Background(), domain.PaymentEvent{
		EventID: "tribute:2", UserID: 100, Amount: 77000,
	})
	require.NoError(t, err)

	// 10 remaining days + 30 granted = expiry 40 days out.
	assert.Equal(t, now.AddDate(0, 0, 40), result.ExpiresAt)
}

func TestProcessPayment_UnknownUser(t *testing.T) {
	store := newFakeSubStore()
	svc := newTestSubscriptionService(store, &fakeSender{}, time.Now())

	_, err := svc.ProcessPayment(context.Background(), domain.PaymentEvent{
		EventID: "tribute:3", UserID: 999,
	})
	require.Error(t, err)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestProcessPayment_RequiresEventID(t *testing.T) {
	svc := newTestSubscriptionService(newFakeSubStore(), &fakeSender{}, time.Now())

	_, err := svc.ProcessPayment(context.Background(), domain.PaymentEvent{UserID: 100})
	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestProcessPayment_StorageErrorSurfaces(t *testing.T) {
	store := newFakeSubStore()
	store.grantErr = errors.New("connection reset")
	svc := newTestSubscriptionService(store, &fakeSender{}, time.Now())

	_, err := svc.ProcessPayment(context.Background(), domain.PaymentEvent{
		EventID: "tribute:4", UserID: 100,
	})
	require.Error(t, err)
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
}

func TestStartTrial_SecondCallLeavesWindowUntouched(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeSubStore()
	store.users[100] = domain.User{ID: 100}
	svc := newTestSubscriptionService(store, &fakeSender{}, now)

	first, err := svc.StartTrial(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, now, first.TrialStartedAt)
	assert.Equal(t, now.AddDate(0, 0, 3), first.TrialEndsAt)

	later := newTestSubscriptionService(store, &fakeSender{}, now.Add(time.Hour))
	second, err := later.StartTrial(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, first.TrialStartedAt, second.TrialStartedAt)
	assert.Equal(t, first.TrialEndsAt, second.TrialEndsAt)
	assert.Equal(t, 1, store.trialStarts)
}

func TestStartTrial_UnknownUser(t *testing.T) {
	svc := newTestSubscriptionService(newFakeSubStore(), &fakeSender{}, time.Now())

	_, err := svc.StartTrial(context.Background(), 999)
	require.Error(t, err)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestReferralBonus_OnceAcrossRedeliveries(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeSubStore()
	store.users[1] = domain.User{ID: 1, Tier: domain.TierFree}   // referrer
	store.users[2] = domain.User{ID: 2, Tier: domain.TierFree}   // referred
	store.pendingRef[2] = 1
	sender := &fakeSender{}
	svc := newTestSubscriptionService(store, sender, now)

	// The provider redelivers the same payment event three times.
	event := domain.PaymentEvent{EventID: "tribute:5", UserID: 2, Amount: 77000}
	for i := 0; i < 3; i++ {
		_, err := svc.ProcessPayment(context.Background(), event)
		require.NoError(t, err)
	}

	// The referrer got exactly one 30-day bonus and one notice.
	referrer := store.users[1]
	require.NotNil(t, referrer.PremiumExpiresAt)
	assert.Equal(t, now.AddDate(0, 0, 30), *referrer.PremiumExpiresAt)
	assert.Equal(t, []int64{1}, sender.referralBonus)
}

func TestReferralBonus_SecondPaymentDoesNotGrantAgain(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeSubStore()
	store.users[1] = domain.User{ID: 1, Tier: domain.TierFree}
	store.users[2] = domain.User{ID: 2, Tier: domain.TierFree}
	store.pendingRef[2] = 1
	svc := newTestSubscriptionService(store, &fakeSender{}, now)

	_, err := svc.ProcessPayment(context.Background(), domain.PaymentEvent{EventID: "tribute:6", UserID: 2})
	require.NoError(t, err)
	afterFirst := *store.users[1].PremiumExpiresAt

	_, err = svc.ProcessPayment(context.Background(), domain.PaymentEvent{EventID: "tribute:7", UserID: 2})
	require.NoError(t, err)

	assert.Equal(t, afterFirst, *store.users[1].PremiumExpiresAt)
}

func TestReferralBonus_NotifierFailureDoesNotFailGrant(t *testing.T) {
	store := newFakeSubStore()
	store.users[1] = domain.User{ID: 1, Tier: domain.TierFree}
	store.users[2] = domain.User{ID: 2, Tier: domain.TierFree}
	store.pendingRef[2] = 1
	sender := &fakeSender{err: errors.New("telegram unreachable")}
	svc := newTestSubscriptionService(store, sender, time.Now())

	granted, err := svc.ApplyReferralBonus(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestGrantBonusDays_Validation(t *testing.T) {
	svc := newTestSubscriptionService(newFakeSubStore(), &fakeSender{}, time.Now())

	_, err := svc.GrantBonusDays(context.Background(), 100, 0, domain.PaymentSourceAdmin)
	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestGrantBonusDays_ExtendsPremium(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeSubStore()
	store.users[100] = domain.User{ID: 100, Tier: domain.TierFree}
	svc := newTestSubscriptionService(store, &fakeSender{}, now)

	expiresAt, err := svc.GrantBonusDays(context.Background(), 100, 7, domain.PaymentSourcePromo)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, 7), expiresAt)
	assert.Equal(t, domain.TierPremium, store.users[100].Tier)
}

func TestGetState_ProjectsTrialRemaining(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeSubStore()
	store.users[100] = domain.User{
		ID:             100,
		Tier:           domain.TierTrial,
		TrialStartedAt: now.AddDate(0, 0, -1),
		TrialEndsAt:    now.AddDate(0, 0, 2),
	}
	svc := newTestSubscriptionService(store, &fakeSender{}, now)

	state, err := svc.GetState(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, domain.TierTrial, state.Tier)
	assert.Equal(t, 48*time.Hour, state.TrialRemaining)
	require.NotNil(t, state.ExpiresAt)
	assert.Equal(t, now.AddDate(0, 0, 2), *state.ExpiresAt)
}

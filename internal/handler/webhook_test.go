package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/laoshi/internal/billing"
	"github.com/DukeRupert/laoshi/internal/domain"
)

const webhookTestKey = "test-tribute-key"

// fakeSubscriptions records ProcessPayment calls and returns a scripted
// result. The remaining SubscriptionService methods are unused here.
type fakeSubscriptions struct {
	events []domain.PaymentEvent
	result domain.GrantResult
	err    error
}

func (f *fakeSubscriptions) GetUser(ctx context.Context, userID int64) (domain.User, error) {
	return domain.User{}, errors.New("not implemented")
}

func (f *fakeSubscriptions) GetState(ctx context.Context, userID int64) (domain.SubscriptionState, error) {
	return domain.SubscriptionState{}, errors.New("not implemented")
}

func (f *fakeSubscriptions) StartTrial(ctx context.Context, userID int64) (domain.User, error) {
	return domain.User{}, errors.New("not implemented")
}

func (f *fakeSubscriptions) ProcessPayment(ctx context.Context, event domain.PaymentEvent) (domain.GrantResult, error) {
	f.events = append(f.events, event)
	return f.result, f.err
}

func (f *fakeSubscriptions) GrantBonusDays(ctx context.Context, userID int64, days int, source domain.PaymentSource) (time.Time, error) {
	return time.Time{}, errors.New("not implemented")
}

func (f *fakeSubscriptions) ApplyReferralBonus(ctx context.Context, referredUserID int64) (bool, error) {
	return false, errors.New("not implemented")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func purchaseBody() []byte {
	return []byte(`{
		"name": "new_digital_product",
		"payload": {
			"purchase_id": 9912,
			"telegram_user_id": 123456789,
			"product_id": 55,
			"amount": 77000,
			"currency": "rub"
		}
	}`)
}

func postWebhook(t *testing.T, h *WebhookHandler, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/webhook/tribute", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(billing.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	h.HandleTributeWebhook(rec, req)
	return rec
}

func TestWebhook_ValidPurchaseGrantsPremium(t *testing.T) {
	subs := &fakeSubscriptions{result: domain.GrantResult{ExpiresAt: time.Now().AddDate(0, 0, 30)}}
	h := NewWebhookHandler(billing.NewTributeService(webhookTestKey), subs, discardLogger())

	body := purchaseBody()
	rec := postWebhook(t, h, body, billing.Sign(webhookTestKey, body))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, subs.events, 1)
	assert.Equal(t, "tribute:9912", subs.events[0].EventID)
	assert.Equal(t, int64(123456789), subs.events[0].UserID)
	assert.Equal(t, int64(77000), subs.events[0].Amount)
}

func TestWebhook_BadSignatureRejected(t *testing.T) {
	subs := &fakeSubscriptions{}
	h := NewWebhookHandler(billing.NewTributeService(webhookTestKey), subs, discardLogger())

	body := purchaseBody()

	rec := postWebhook(t, h, body, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postWebhook(t, h, body, billing.Sign("wrong-key", body))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Empty(t, subs.events, "unverified events must never reach the ledger")
}

func TestWebhook_DuplicateDeliveryAcknowledged(t *testing.T) {
	subs := &fakeSubscriptions{result: domain.GrantResult{Duplicate: true}}
	h := NewWebhookHandler(billing.NewTributeService(webhookTestKey), subs, discardLogger())

	body := purchaseBody()
	rec := postWebhook(t, h, body, billing.Sign(webhookTestKey, body))

	assert.Equal(t, http.StatusOK, rec.Code, "duplicates are acknowledged so the provider stops retrying")
}

func TestWebhook_UnknownUserAcknowledged(t *testing.T) {
	subs := &fakeSubscriptions{err: domain.NotFound("subscription.process_payment", "user", 123456789)}
	h := NewWebhookHandler(billing.NewTributeService(webhookTestKey), subs, discardLogger())

	body := purchaseBody()
	rec := postWebhook(t, h, body, billing.Sign(webhookTestKey, body))

	assert.Equal(t, http.StatusOK, rec.Code, "a retry cannot fix an unknown user")
}

func TestWebhook_StorageErrorAsksForRetry(t *testing.T) {
	subs := &fakeSubscriptions{err: domain.Internal(errors.New("connection refused"), "subscription.process_payment", "failed to apply payment")}
	h := NewWebhookHandler(billing.NewTributeService(webhookTestKey), subs, discardLogger())

	body := purchaseBody()
	rec := postWebhook(t, h, body, billing.Sign(webhookTestKey, body))

	assert.Equal(t, http.StatusInternalServerError, rec.Code, "transient failures lean on provider redelivery")
}

func TestWebhook_UnknownEventIgnored(t *testing.T) {
	subs := &fakeSubscriptions{}
	h := NewWebhookHandler(billing.NewTributeService(webhookTestKey), subs, discardLogger())

	body := []byte(`{"name": "subscription_cancelled", "payload": {}}`)
	rec := postWebhook(t, h, body, billing.Sign(webhookTestKey, body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, subs.events)
}

func TestWebhook_BillingUnconfigured(t *testing.T) {
	h := NewWebhookHandler(nil, &fakeSubscriptions{}, discardLogger())

	rec := postWebhook(t, h, purchaseBody(), "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

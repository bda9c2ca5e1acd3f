// This file implements the Tribute webhook handler for payment events.
//
// Route:
//   - POST /webhook/tribute -> HandleTributeWebhook
//
// This route is PUBLIC (no auth middleware) because Tribute calls it
// directly. Authentication is the HMAC signature over the request body.
package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/laoshi/internal/billing"
	"github.com/DukeRupert/laoshi/internal/domain"
	"github.com/DukeRupert/laoshi/internal/metrics"
	"github.com/DukeRupert/laoshi/internal/service"
)

// maxWebhookBody bounds the request body read (64KB).
const maxWebhookBody = 65536

// WebhookHandler handles incoming webhook events from Tribute.
type WebhookHandler struct {
	billing       billing.Service
	subscriptions service.SubscriptionService
	logger        *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
// billingService may be nil when Tribute is not configured.
func NewWebhookHandler(billingService billing.Service, subscriptions service.SubscriptionService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing:       billingService,
		subscriptions: subscriptions,
		logger:        logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
// These routes are PUBLIC — no auth middleware.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook/tribute", h.HandleTributeWebhook)
}

// HandleTributeWebhook processes incoming Tribute payment events.
//
// Delivery is at-least-once: any handled event is acknowledged with 200
// even when it turns out to be a duplicate, so the provider stops retrying.
// Only signature failures (401) and internal errors (500, provider will
// retry) answer otherwise.
func (h *WebhookHandler) HandleTributeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		h.logger.Warn("tribute webhook received but billing is not configured")
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	signature := r.Header.Get(billing.SignatureHeader)
	if err := h.billing.VerifyWebhookSignature(body, signature); err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		metrics.PaymentsTotal.WithLabelValues("rejected").Inc()
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	event, err := h.billing.ParseEvent(body)
	if err != nil {
		h.logger.Warn("webhook body undecodable", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.logger.Info("tribute webhook received", "event", event.Name)

	switch event.Name {
	case billing.EventNewDigitalProduct:
		h.handleNewDigitalProduct(w, r, event)
	default:
		// Unknown event names are acknowledged and ignored; retrying them
		// cannot change anything.
		h.logger.Debug("unhandled webhook event", "event", event.Name)
		w.WriteHeader(http.StatusOK)
	}
}

func (h *WebhookHandler) handleNewDigitalProduct(w http.ResponseWriter, r *http.Request, event billing.Event) {
	paymentEvent := event.PaymentEvent()

	if paymentEvent.UserID <= 0 {
		h.logger.Warn("purchase event missing telegram user id")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	result, err := h.subscriptions.ProcessPayment(r.Context(), paymentEvent)
	if err != nil {
		// A payment for a user this bot has never seen cannot be fixed by
		// a provider retry; acknowledge and leave the money trail in the
		// logs for the operator.
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			h.logger.Warn("payment for unknown user acknowledged",
				"user_id", paymentEvent.UserID,
				"event_id", paymentEvent.EventID,
			)
			metrics.PaymentsTotal.WithLabelValues("failed").Inc()
			w.WriteHeader(http.StatusOK)
			return
		}

		h.logger.Error("payment processing failed",
			"user_id", paymentEvent.UserID,
			"event_id", paymentEvent.EventID,
			"error", err,
		)
		metrics.PaymentsTotal.WithLabelValues("failed").Inc()
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if result.Duplicate {
		metrics.PaymentsTotal.WithLabelValues("duplicate").Inc()
	} else {
		metrics.PaymentsTotal.WithLabelValues("granted").Inc()
	}

	w.WriteHeader(http.StatusOK)
}

// This file implements the internal gateway API: the operations the bot
// gateway process consumes before and after relaying a message to the AI
// pipeline. These routes sit behind basic auth in main; they are never
// exposed to end users.
package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/DukeRupert/laoshi/internal/domain"
	"github.com/DukeRupert/laoshi/internal/middleware"
	"github.com/DukeRupert/laoshi/internal/service"
)

// GatewayHandler exposes subscription, quota, throttle and wordbook
// operations to the bot gateway.
type GatewayHandler struct {
	users         service.UserService
	subscriptions service.SubscriptionService
	quota         service.QuotaService
	wordbook      service.WordbookService
	throttle      *middleware.Throttle
	logger        *slog.Logger
}

// NewGatewayHandler creates a new GatewayHandler.
func NewGatewayHandler(
	users service.UserService,
	subscriptions service.SubscriptionService,
	quota service.QuotaService,
	wordbook service.WordbookService,
	throttle *middleware.Throttle,
	logger *slog.Logger,
) *GatewayHandler {
	return &GatewayHandler{
		users:         users,
		subscriptions: subscriptions,
		quota:         quota,
		wordbook:      wordbook,
		throttle:      throttle,
		logger:        logger,
	}
}

// RegisterRoutes registers gateway routes behind the provided auth middleware.
func (h *GatewayHandler) RegisterRoutes(mux *http.ServeMux, requireGateway func(http.Handler) http.Handler) {
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, requireGateway(fn))
	}

	handle("POST /gateway/users/ensure", h.EnsureUser)
	handle("GET /gateway/users/{id}/subscription", h.Subscription)
	handle("GET /gateway/users/{id}/referrals", h.Referrals)
	handle("POST /gateway/users/{id}/block", h.SetBlocked)
	handle("POST /gateway/messages/allow", h.AllowMessage)
	handle("POST /gateway/usage", h.RecordUsage)
	handle("POST /gateway/words", h.AddWord)
	handle("GET /gateway/words", h.ListWords)
	handle("DELETE /gateway/words", h.RemoveWord)
}

func (h *GatewayHandler) pathUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		ErrorResponse(w, r, h.logger, domain.Invalid("gateway", "user id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (h *GatewayHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(dst); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("gateway", "request body is not valid JSON"))
		return false
	}
	return true
}

// subscriptionStateResponse is the gateway read model of a user's state.
type subscriptionStateResponse struct {
	Tier               string     `json:"tier"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	TrialRemainingSecs int64      `json:"trial_remaining_seconds"`
	ReferralCode       string     `json:"referral_code,omitempty"`
	Blocked            bool       `json:"blocked,omitempty"`
	CreatedThisRequest bool       `json:"created,omitempty"`
}

func stateResponse(state domain.SubscriptionState) subscriptionStateResponse {
	return subscriptionStateResponse{
		Tier:               state.Tier.String(),
		ExpiresAt:          state.ExpiresAt,
		TrialRemainingSecs: int64(state.TrialRemaining.Seconds()),
	}
}

// EnsureUser registers the user on first contact (with optional referral
// deep-link payload) and returns their subscription state.
func (h *GatewayHandler) EnsureUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID           int64  `json:"id"`
		Username     string `json:"username"`
		FirstName    string `json:"first_name"`
		StartPayload string `json:"start_payload"`
	}
	if !h.decode(w, r, &body) {
		return
	}

	user, created, err := h.users.EnsureUser(r.Context(), service.EnsureUserParams{
		ID:           body.ID,
		Username:     body.Username,
		FirstName:    body.FirstName,
		StartPayload: body.StartPayload,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := stateResponse(user.State(time.Now()))
	resp.ReferralCode = user.ReferralCode
	resp.Blocked = user.IsBlocked
	resp.CreatedThisRequest = created
	writeJSON(w, http.StatusOK, resp)
}

// Subscription returns the caller-facing subscription state.
func (h *GatewayHandler) Subscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUserID(w, r)
	if !ok {
		return
	}

	state, err := h.subscriptions.GetState(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse(state))
}

// Referrals summarizes the user's invite performance.
func (h *GatewayHandler) Referrals(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUserID(w, r)
	if !ok {
		return
	}

	stats, err := h.users.ReferralStats(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"invited":           stats.Invited,
		"subscribed":        stats.Subscribed,
		"bonus_days_earned": stats.BonusDaysEarned,
	})
}

// SetBlocked toggles the admin block flag.
func (h *GatewayHandler) SetBlocked(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.pathUserID(w, r)
	if !ok {
		return
	}

	var body struct {
		Blocked bool `json:"blocked"`
	}
	if !h.decode(w, r, &body) {
		return
	}

	if err := h.users.SetBlocked(r.Context(), userID, body.Blocked); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if !body.Blocked {
		h.throttle.Reset(userID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// allowResponse reports one gate decision to the gateway.
type allowResponse struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"` // "throttled" or "quota"
	Used      int    `json:"used,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Unlimited bool   `json:"unlimited,omitempty"`
}

// AllowMessage runs the full inbound gate: the per-user throttle first,
// then the quota decision for the message's channel. Denial is a normal
// 200 response; the gateway owns the user-facing wording.
func (h *GatewayHandler) AllowMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID  int64  `json:"user_id"`
		Channel string `json:"channel"`
	}
	if !h.decode(w, r, &body) {
		return
	}

	if !h.throttle.Allow(body.UserID) {
		writeJSON(w, http.StatusOK, allowResponse{Allowed: false, Reason: "throttled"})
		return
	}

	decision, err := h.quota.CheckAllowed(r.Context(), body.UserID, domain.Channel(body.Channel))
	if err != nil {
		// Fail closed: the gateway treats any error as "not allowed".
		ErrorResponse(w, r, h.logger, err)
		return
	}

	resp := allowResponse{
		Allowed:   decision.Allowed,
		Used:      decision.Used,
		Limit:     decision.Limit,
		Unlimited: decision.Unlimited,
	}
	if !decision.Allowed {
		resp.Reason = "quota"
	}
	writeJSON(w, http.StatusOK, resp)
}

// RecordUsage charges quota for a completed action.
func (h *GatewayHandler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID  int64  `json:"user_id"`
		Channel string `json:"channel"`
	}
	if !h.decode(w, r, &body) {
		return
	}

	if err := h.quota.RecordUsage(r.Context(), body.UserID, domain.Channel(body.Channel)); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// savedWordResponse is the gateway read model of one wordbook entry.
type savedWordResponse struct {
	Hanzi       string    `json:"hanzi"`
	Pinyin      string    `json:"pinyin,omitempty"`
	Translation string    `json:"translation,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// AddWord saves a vocabulary word through the vocab quota gate.
func (h *GatewayHandler) AddWord(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID      int64  `json:"user_id"`
		Hanzi       string `json:"hanzi"`
		Pinyin      string `json:"pinyin"`
		Translation string `json:"translation"`
	}
	if !h.decode(w, r, &body) {
		return
	}

	word, err := h.wordbook.AddWord(r.Context(), service.AddWordParams{
		UserID:      body.UserID,
		Hanzi:       body.Hanzi,
		Pinyin:      body.Pinyin,
		Translation: body.Translation,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, savedWordResponse{
		Hanzi:       word.Hanzi,
		Pinyin:      word.Pinyin,
		Translation: word.Translation,
		CreatedAt:   word.CreatedAt,
	})
}

// ListWords returns a page of the user's wordbook.
func (h *GatewayHandler) ListWords(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		ErrorResponse(w, r, h.logger, domain.Invalid("gateway", "user_id query parameter is required"))
		return
	}
	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 32)
	offset, _ := strconv.ParseInt(r.URL.Query().Get("offset"), 10, 32)

	words, err := h.wordbook.ListWords(r.Context(), userID, int32(limit), int32(offset))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	count, err := h.wordbook.CountWords(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	items := make([]savedWordResponse, 0, len(words))
	for _, word := range words {
		items = append(items, savedWordResponse{
			Hanzi:       word.Hanzi,
			Pinyin:      word.Pinyin,
			Translation: word.Translation,
			CreatedAt:   word.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"words": items,
		"total": count,
	})
}

// RemoveWord deletes a saved word. The cumulative vocab quota is not
// refunded.
func (h *GatewayHandler) RemoveWord(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID int64  `json:"user_id"`
		Hanzi  string `json:"hanzi"`
	}
	if !h.decode(w, r, &body) {
		return
	}

	if err := h.wordbook.RemoveWord(r.Context(), body.UserID, body.Hanzi); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// Telegram Sender Implementation
// =============================================================================

// DefaultBaseURL is the production Telegram Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// TelegramSender delivers notices through the Telegram Bot API sendMessage
// method. Messages use HTML parse mode.
type TelegramSender struct {
	http     *http.Client
	baseURL  string
	token    string
	messages Messages
	logger   *slog.Logger
}

// NewTelegramSender creates a Telegram-backed sender.
//
// Parameters:
// - httpClient: optional; a 30s-timeout client is used when nil
// - baseURL: API origin, normally DefaultBaseURL (overridable for tests)
// - token: the bot token
// - messages: plan parameters interpolated into notification texts
func NewTelegramSender(httpClient *http.Client, baseURL, token string, messages Messages, logger *slog.Logger) *TelegramSender {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &TelegramSender{
		http:     httpClient,
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		messages: messages,
		logger:   logger,
	}
}

func (s *TelegramSender) SendTrialExpired(ctx context.Context, userID int64) error {
	return s.sendMessage(ctx, userID, s.messages.trialExpired())
}

func (s *TelegramSender) SendPremiumExpired(ctx context.Context, userID int64) error {
	return s.sendMessage(ctx, userID, s.messages.premiumExpired())
}

func (s *TelegramSender) SendPaymentConfirmed(ctx context.Context, userID int64, expiresAt time.Time) error {
	return s.sendMessage(ctx, userID, s.messages.paymentConfirmed(expiresAt))
}

func (s *TelegramSender) SendReferralBonus(ctx context.Context, userID int64, bonusDays int) error {
	return s.sendMessage(ctx, userID, s.messages.referralBonus(bonusDays))
}

type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

func (s *TelegramSender) sendMessage(ctx context.Context, chatID int64, text string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshaling sendMessage request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("posting sendMessage: %w", err)
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()

	var out sendMessageResponse
	_ = json.Unmarshal(raw, &out)

	if out.OK {
		s.logger.Debug("telegram message sent", "chat_id", chatID)
		return nil
	}

	// 403 with this description means the user removed the bot. That is a
	// permanent condition, not a delivery hiccup.
	if out.ErrorCode == http.StatusForbidden && strings.Contains(strings.ToLower(out.Description), "blocked") {
		return fmt.Errorf("telegram sendMessage to %d: %w", chatID, ErrBlockedByUser)
	}

	if out.Description != "" {
		return fmt.Errorf("telegram sendMessage to %d: %s", chatID, out.Description)
	}
	return fmt.Errorf("telegram sendMessage to %d: http %d: %s", chatID, resp.StatusCode, strings.TrimSpace(string(raw)))
}

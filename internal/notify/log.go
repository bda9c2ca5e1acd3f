package notify

import (
	"context"
	"log/slog"
	"time"
)

// =============================================================================
// Log Sender Implementation
// =============================================================================

// LogSender writes notices to the log instead of delivering them. Used in
// development when no bot token is configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendTrialExpired(ctx context.Context, userID int64) error {
	s.logger.Info("notice: trial expired", "user_id", userID)
	return nil
}

func (s *LogSender) SendPremiumExpired(ctx context.Context, userID int64) error {
	s.logger.Info("notice: premium expired", "user_id", userID)
	return nil
}

func (s *LogSender) SendPaymentConfirmed(ctx context.Context, userID int64, expiresAt time.Time) error {
	s.logger.Info("notice: payment confirmed", "user_id", userID, "expires_at", expiresAt)
	return nil
}

func (s *LogSender) SendReferralBonus(ctx context.Context, userID int64, bonusDays int) error {
	s.logger.Info("notice: referral bonus", "user_id", userID, "bonus_days", bonusDays)
	return nil
}

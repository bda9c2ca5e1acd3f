// Package notify delivers transactional Telegram messages for subscription
// lifecycle events.
//
// This package defines a Sender interface with implementations for:
// - Telegram Bot API (production)
// - Log-only delivery (development without a bot token)
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Sender delivers one-time subscription notices to users.
//
// Implementations:
// - TelegramSender: posts to the Telegram Bot API
// - LogSender: logs the message instead of sending (development)
//
// All methods are context-aware for timeout and cancellation support.
type Sender interface {
	// SendTrialExpired tells a user their trial window has ended and the
	// free-tier limits now apply.
	SendTrialExpired(ctx context.Context, userID int64) error

	// SendPremiumExpired tells a user their paid period has lapsed.
	SendPremiumExpired(ctx context.Context, userID int64) error

	// SendPaymentConfirmed confirms a successful payment and reports the new
	// expiry date.
	SendPaymentConfirmed(ctx context.Context, userID int64, expiresAt time.Time) error

	// SendReferralBonus tells a referrer their invitee made a first payment
	// and bonus days were credited.
	SendReferralBonus(ctx context.Context, userID int64, bonusDays int) error
}

// ErrBlockedByUser marks a permanent delivery failure: the recipient has
// blocked the bot. Retrying cannot succeed, so callers should stop trying.
var ErrBlockedByUser = errors.New("recipient has blocked the bot")

// =============================================================================
// Message Rendering
// =============================================================================

// Messages carries the plan parameters interpolated into notification texts.
type Messages struct {
	TrialDays    int
	TextPerDay   int
	VoicePerDay  int
	PriceKopecks int64
	PaymentLink  string // optional Tribute checkout URL appended to upsell texts
}

func (m Messages) priceRub() int64 {
	return m.PriceKopecks / 100
}

func (m Messages) trialExpired() string {
	text := fmt.Sprintf(
		"⏰ <b>Ваш бесплатный триал закончился!</b>\n\n"+
			"Вы использовали %d дн. полного доступа.\n"+
			"Теперь действуют лимиты Free-версии:\n\n"+
			"• %d текстовых сообщений/день\n"+
			"• %d голосовых сообщений/день\n\n"+
			"💎 <b>Хотите продолжить без ограничений?</b>\n"+
			"Подписка Premium — всего ₽%d/мес\n\n"+
			"✅ Безлимитные голосовые и текстовые сообщения\n"+
			"✅ Приоритетная поддержка",
		m.TrialDays, m.TextPerDay, m.VoicePerDay, m.priceRub(),
	)
	return m.withPaymentLink(text)
}

func (m Messages) premiumExpired() string {
	text := fmt.Sprintf(
		"⏰ <b>Ваша подписка Premium истекла!</b>\n\n"+
			"К сожалению, срок действия вашей Premium-подписки закончился.\n"+
			"Теперь действуют лимиты Free-версии:\n\n"+
			"• %d текстовых сообщений/день\n"+
			"• %d голосовых сообщений/день\n\n"+
			"💎 <b>Продлите подписку, чтобы продолжить без ограничений!</b>\n"+
			"Premium — ₽%d/мес",
		m.TextPerDay, m.VoicePerDay, m.priceRub(),
	)
	return m.withPaymentLink(text)
}

func (m Messages) paymentConfirmed(expiresAt time.Time) string {
	return fmt.Sprintf(
		"🎉 <b>Premium успешно активирован!</b>\n\n"+
			"Активен до: <b>%s</b>\n\n"+
			"✅ Безлимитные голосовые сообщения\n"+
			"✅ Безлимитные текстовые сообщения\n"+
			"✅ Приоритетная поддержка\n\n"+
			"Спасибо за покупку! 🙏",
		expiresAt.Format("02.01.2006"),
	)
}

func (m Messages) referralBonus(bonusDays int) string {
	return fmt.Sprintf(
		"🎉 <b>Ваш друг купил Premium!</b>\n\n"+
			"Вам начислено <b>+%d дней</b> Premium в подарок!",
		bonusDays,
	)
}

func (m Messages) withPaymentLink(text string) string {
	if m.PaymentLink == "" {
		return text
	}
	return text + "\n\n💳 Оплатить: " + m.PaymentLink
}

// Package domain contains core business types and interfaces.
//
// This file defines usage channels and the per-channel limits applied to
// free-tier users. Premium and active-trial users bypass quotas entirely.
package domain

// Channel identifies the kind of quota-consuming action.
type Channel string

const (
	ChannelText  Channel = "text"  // Text messages relayed to the tutor, per day
	ChannelVoice Channel = "voice" // Voice messages, per day
	ChannelVocab Channel = "vocab" // Saved vocabulary words, cumulative
)

// String returns the string representation of the channel.
func (c Channel) String() string {
	return string(c)
}

// IsValid returns true if the channel is a recognized value.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelText, ChannelVoice, ChannelVocab:
		return true
	}
	return false
}

// Cumulative returns true if the channel's counter is compared as an
// all-time sum rather than per calendar day. Saved words are capped for
// the lifetime of a free account, not reset at midnight.
func (c Channel) Cumulative() bool {
	return c == ChannelVocab
}

// QuotaLimits holds the free-tier allowance per channel. Zero values are
// never valid; construction goes through DefaultQuotaLimits or config.
type QuotaLimits struct {
	TextPerDay  int // Daily text message allowance
	VoicePerDay int // Daily voice message allowance
	VocabTotal  int // Lifetime saved-word allowance
}

// DefaultQuotaLimits returns the stock free-tier limits.
func DefaultQuotaLimits() QuotaLimits {
	return QuotaLimits{
		TextPerDay:  20,
		VoicePerDay: 5,
		VocabTotal:  50,
	}
}

// Limit returns the allowance for the given channel.
func (l QuotaLimits) Limit(channel Channel) int {
	switch channel {
	case ChannelText:
		return l.TextPerDay
	case ChannelVoice:
		return l.VoicePerDay
	case ChannelVocab:
		return l.VocabTotal
	}
	return 0
}

// QuotaDecision is the result of a quota check. When Allowed is false the
// caller decides the user-facing messaging from Used/Limit.
type QuotaDecision struct {
	Allowed   bool
	Channel   Channel
	Used      int
	Limit     int
	Unlimited bool // True for premium and active-trial users
}

package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Redis (optional). When empty, the subscription state cache is disabled
	// and every read goes to Postgres.
	RedisURL     string
	TierCacheTTL time.Duration

	// Telegram delivery for expiry/payment notices
	BotToken string

	// Tribute payment webhook
	TributeAPIKey      string
	TributeProductID   string
	TributePaymentLink string

	// Admin/metrics endpoint authentication.
	// If both are empty, those endpoints are unprotected (not recommended).
	AdminUsername string
	AdminPassword string

	// Admin Telegram ids, comma-separated in ADMIN_IDS
	AdminIDs []int64

	// Free tier quota limits
	FreeTextPerDay  int
	FreeVoicePerDay int
	FreeVocabTotal  int

	// Quota days roll over at local midnight in this IANA timezone
	QuotaTimezone string

	// Subscription windows. PremiumDaysPerEvent is granted per provider
	// payment, ReferralBonusDays to the referrer on the referred user's
	// first payment, and ReferralSignupDays to both sides at registration.
	TrialDays           int
	PremiumDaysPerEvent int
	ReferralBonusDays   int
	ReferralSignupDays  int
	PremiumPriceKopecks int64

	// Expiry sweeper
	SweepInterval  time.Duration
	SweepPageSize  int
	SweeperEnabled bool

	// Per-user inbound message throttle consumed by the bot gateway
	ThrottleInterval time.Duration
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		RedisURL:     getEnv("REDIS_URL", ""),
		TierCacheTTL: getEnvDuration("TIER_CACHE_TTL", 5*time.Minute),

		BotToken: getEnv("BOT_TOKEN", ""),

		TributeAPIKey:      getEnv("TRIBUTE_API_KEY", ""),
		TributeProductID:   getEnv("TRIBUTE_PRODUCT_ID", ""),
		TributePaymentLink: getEnv("TRIBUTE_PAYMENT_LINK", ""),

		AdminUsername: getEnv("ADMIN_USERNAME", ""),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		FreeTextPerDay:  getEnvInt("FREE_TEXT_LIMIT", 20),
		FreeVoicePerDay: getEnvInt("FREE_VOICE_LIMIT", 5),
		FreeVocabTotal:  getEnvInt("FREE_VOCAB_LIMIT", 50),

		QuotaTimezone: getEnv("QUOTA_TIMEZONE", "Europe/Moscow"),

		TrialDays:           getEnvInt("TRIAL_DAYS", 3),
		PremiumDaysPerEvent: getEnvInt("PREMIUM_DAYS_PER_PAYMENT", 30),
		ReferralBonusDays:   getEnvInt("REFERRAL_BONUS_DAYS", 30),
		ReferralSignupDays:  getEnvInt("REFERRAL_SIGNUP_BONUS_DAYS", 7),
		PremiumPriceKopecks: int64(getEnvInt("PREMIUM_PRICE", 77000)),

		SweepInterval:  getEnvDuration("SWEEP_INTERVAL", time.Hour),
		SweepPageSize:  getEnvInt("SWEEP_PAGE_SIZE", 200),
		SweeperEnabled: getEnvBool("SWEEPER_ENABLED", true),

		ThrottleInterval: getEnvDuration("THROTTLE_INTERVAL", time.Second),
	}

	// Parse admin ids from comma-separated environment variable
	adminIDsStr := getEnv("ADMIN_IDS", "")
	if adminIDsStr != "" {
		for _, part := range strings.Split(adminIDsStr, ",") {
			trimmed := strings.TrimSpace(part)
			if trimmed == "" {
				continue
			}
			id, err := strconv.ParseInt(trimmed, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("ADMIN_IDS contains invalid id %q", trimmed)
			}
			cfg.AdminIDs = append(cfg.AdminIDs, id)
		}
	}

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	// The webhook cannot verify deliveries without the provider key. Allow
	// empty only in development so local runs work without Tribute access.
	if cfg.TributeAPIKey == "" && cfg.Env != "development" {
		return nil, fmt.Errorf("TRIBUTE_API_KEY is required outside development")
	}
	if cfg.BotToken == "" && cfg.Env != "development" {
		return nil, fmt.Errorf("BOT_TOKEN is required outside development")
	}

	if cfg.TrialDays <= 0 {
		return nil, fmt.Errorf("TRIAL_DAYS must be positive, got: %d", cfg.TrialDays)
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("SWEEP_INTERVAL must be positive, got: %s", cfg.SweepInterval)
	}
	if cfg.SweepPageSize <= 0 {
		return nil, fmt.Errorf("SWEEP_PAGE_SIZE must be positive, got: %d", cfg.SweepPageSize)
	}

	// Fail fast on a bad timezone rather than at the first quota check
	if _, err := time.LoadLocation(cfg.QuotaTimezone); err != nil {
		return nil, fmt.Errorf("QUOTA_TIMEZONE is invalid: %w", err)
	}

	return cfg, nil
}

// IsAdmin reports whether the Telegram id belongs to a configured admin.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/laoshi/internal"
	"github.com/DukeRupert/laoshi/internal/billing"
	"github.com/DukeRupert/laoshi/internal/cache"
	"github.com/DukeRupert/laoshi/internal/domain"
	"github.com/DukeRupert/laoshi/internal/handler"
	"github.com/DukeRupert/laoshi/internal/metrics"
	"github.com/DukeRupert/laoshi/internal/middleware"
	"github.com/DukeRupert/laoshi/internal/notify"
	"github.com/DukeRupert/laoshi/internal/repository"
	"github.com/DukeRupert/laoshi/internal/service"
	"github.com/DukeRupert/laoshi/internal/sweeper"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	if err := internal.RunMigrations(ctx, db); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	// Redis is optional: without it the subscription state cache is disabled
	// and every tier read goes to Postgres.
	var subCache *cache.SubscriptionCache
	if cfg.RedisURL != "" {
		rdb, err := cache.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer rdb.Close()
		subCache = cache.New(rdb, cfg.TierCacheTTL, logger)
		logger.Info("Subscription cache enabled", "ttl", cfg.TierCacheTTL)
	} else {
		subCache = cache.New(nil, cfg.TierCacheTTL, logger)
		logger.Info("Subscription cache disabled (no REDIS_URL)")
	}

	// Initialize repository
	store := repository.NewStore(db)

	// Notification delivery: real Telegram sends when a bot token is
	// configured, log-only otherwise (development).
	messages := notify.Messages{
		TrialDays:    cfg.TrialDays,
		TextPerDay:   cfg.FreeTextPerDay,
		VoicePerDay:  cfg.FreeVoicePerDay,
		PriceKopecks: cfg.PremiumPriceKopecks,
		PaymentLink:  cfg.TributePaymentLink,
	}
	var notifier notify.Sender
	if cfg.BotToken != "" {
		notifier = notify.NewTelegramSender(nil, notify.DefaultBaseURL, cfg.BotToken, messages, logger)
	} else {
		notifier = notify.NewLogSender(logger)
		logger.Warn("BOT_TOKEN not set, notifications are log-only")
	}

	// Quota days roll over at local midnight in this timezone
	loc, err := time.LoadLocation(cfg.QuotaTimezone)
	if err != nil {
		return fmt.Errorf("invalid quota timezone: %w", err)
	}

	// Initialize services
	subscriptionService := service.NewSubscriptionService(store, subCache, notifier, service.SubscriptionConfig{
		TrialDays:           cfg.TrialDays,
		PremiumDaysPerEvent: cfg.PremiumDaysPerEvent,
		ReferralBonusDays:   cfg.ReferralBonusDays,
	}, logger)
	quotaService := service.NewQuotaService(subscriptionService, store, domain.QuotaLimits{
		TextPerDay:  cfg.FreeTextPerDay,
		VoicePerDay: cfg.FreeVoicePerDay,
		VocabTotal:  cfg.FreeVocabTotal,
	}, loc, logger)
	userService := service.NewUserService(store, subCache, service.UserConfig{
		TrialDays:          cfg.TrialDays,
		ReferralSignupDays: cfg.ReferralSignupDays,
	}, logger)
	wordbookService := service.NewWordbookService(store, quotaService, logger)
	statsService := service.NewStatsService(store, loc, logger)

	// Tribute webhook verification (nil disables the webhook body handling)
	var billingService billing.Service
	if cfg.TributeAPIKey != "" {
		billingService = billing.NewTributeService(cfg.TributeAPIKey)
	}

	// Per-user inbound message throttle consumed by the gateway routes
	throttle := middleware.NewThrottle(cfg.ThrottleInterval, logger)
	defer throttle.Stop()

	// Expiry sweeper
	sweep, err := sweeper.New(store, subCache, notifier, sweeper.Config{
		Interval:        cfg.SweepInterval,
		PageSize:        cfg.SweepPageSize,
		ShutdownTimeout: 30 * time.Second,
	}, logger)
	if err != nil {
		return fmt.Errorf("sweeper initialization failed: %w", err)
	}
	if cfg.SweeperEnabled {
		sweep.Start(ctx)
		defer sweep.Stop()
	} else {
		logger.Warn("Expiry sweeper disabled")
	}

	// Initialize middleware
	adminAuth := middleware.NewBasicAuthMiddleware("laoshi", cfg.AdminUsername, cfg.AdminPassword)
	requireAdmin := adminAuth.Handler
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)

	// Initialize handlers
	webhookHandler := handler.NewWebhookHandler(billingService, subscriptionService, logger)
	adminHandler := handler.NewAdminHandler(statsService, logger)
	gatewayHandler := handler.NewGatewayHandler(
		userService,
		subscriptionService,
		quotaService,
		wordbookService,
		throttle,
		logger,
	)

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", handler.Health)

	// Prometheus metrics (basic auth, same credentials as admin)
	mux.Handle("GET /metrics", requireAdmin(promhttp.Handler()))

	// Payment webhook (public; authenticated by HMAC signature)
	webhookHandler.RegisterRoutes(mux)

	// Operator stats (basic auth)
	adminHandler.RegisterRoutes(mux, requireAdmin)

	// Internal gateway API (basic auth; called by the bot gateway process)
	gatewayHandler.RegisterRoutes(mux, requireAdmin)

	// Outermost first: metrics observe what logging logs
	root := middleware.Stack(metrics.Middleware, loggingMw.Handler)(mux)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: root,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// Package sweeper converts elapsed subscription time into state transitions.
//
// On a fixed interval it scans for expired trials and expired premium
// periods, downgrades them to free, and delivers the one-time expiry notice.
// Read paths never re-check expiry themselves; the sweeper is the only place
// time turns into writes.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/laoshi/internal/cache"
	"github.com/DukeRupert/laoshi/internal/domain"
	"github.com/DukeRupert/laoshi/internal/metrics"
	"github.com/DukeRupert/laoshi/internal/notify"
	"github.com/DukeRupert/laoshi/internal/repository"
)

// Store is the persistence surface the sweeper needs. Implemented by
// *repository.Store.
type Store interface {
	ListExpiredTrialCandidates(ctx context.Context, arg repository.ListCandidatesParams) ([]domain.User, error)
	ListExpiredPremiumCandidates(ctx context.Context, arg repository.ListCandidatesParams) ([]domain.User, error)
	DowngradeExpiredTrial(ctx context.Context, arg repository.DowngradeParams) (bool, error)
	DowngradeExpiredPremium(ctx context.Context, arg repository.DowngradeParams) (bool, error)
	SetTrialNotified(ctx context.Context, userID int64) error
	SetPremiumExpiredNotified(ctx context.Context, userID int64) error
}

// Sweeper runs the periodic expiry scan.
type Sweeper struct {
	store    Store
	cache    *cache.SubscriptionCache
	notifier notify.Sender
	config   Config
	logger   *slog.Logger

	// Synchronization
	wg      sync.WaitGroup
	stopCh  chan struct{}
	running sync.Mutex // held for the duration of one sweep

	now func() time.Time
}

// New creates a new Sweeper. It must be started with Start() and stopped
// with Stop(); RunOnce() triggers a single sweep without the timer.
func New(store Store, c *cache.SubscriptionCache, notifier notify.Sender, config Config, logger *slog.Logger) (*Sweeper, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Sweeper{
		store:    store,
		cache:    c,
		notifier: notifier,
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}, nil
}

// Start launches the sweep loop. The first sweep runs after one full
// interval, not immediately, so a crash-looping process cannot hammer the
// notification sender.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("sweeper started", "interval", s.config.Interval)
}

// Stop signals the loop to stop and waits for an in-flight sweep, up to the
// configured shutdown timeout.
func (s *Sweeper) Stop() {
	s.logger.Info("stopping sweeper...")
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("sweeper stopped")
	case <-time.After(s.config.ShutdownTimeout):
		s.logger.Warn("sweeper shutdown timeout exceeded, a sweep may still be running")
	}
}

// run is the timer loop.
func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				if errors.Is(err, ErrSweepInProgress) {
					s.logger.Warn("sweep still running, skipping tick")
					continue
				}
				s.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// ErrSweepInProgress reports that a sweep was requested while another was
// still running. The overlapping request is dropped, never queued.
var ErrSweepInProgress = errors.New("sweep already in progress")

// RunOnce performs exactly one sweep: expired trials first, then expired
// premium periods. An error on one user is logged and skipped; an error
// fetching a candidate page aborts that phase and is retried next interval.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if !s.running.TryLock() {
		metrics.SweepsTotal.WithLabelValues("skipped").Inc()
		return ErrSweepInProgress
	}
	defer s.running.Unlock()

	start := s.now()
	s.logger.Debug("sweep starting")

	trialErr := s.sweepPages(ctx, s.store.ListExpiredTrialCandidates, s.processExpiredTrial)
	premiumErr := s.sweepPages(ctx, s.store.ListExpiredPremiumCandidates, s.processExpiredPremium)

	duration := s.now().Sub(start)
	metrics.SweepDuration.Observe(duration.Seconds())

	if err := errors.Join(trialErr, premiumErr); err != nil {
		metrics.SweepsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("sweep: %w", err)
	}

	metrics.SweepsTotal.WithLabelValues("completed").Inc()
	s.logger.Debug("sweep completed", "duration_ms", duration.Milliseconds())
	return nil
}

// listFunc pages sweep candidates by ascending user id.
type listFunc func(ctx context.Context, arg repository.ListCandidatesParams) ([]domain.User, error)

// sweepPages walks candidate pages by keyset until the store runs dry,
// handing each user to process. Per-user errors are contained inside
// process; only page fetch errors propagate.
func (s *Sweeper) sweepPages(ctx context.Context, list listFunc, process func(context.Context, domain.User) error) error {
	var afterID int64

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		users, err := list(ctx, repository.ListCandidatesParams{
			Now:     s.now(),
			AfterID: afterID,
			Limit:   int32(s.config.PageSize),
		})
		if err != nil {
			return fmt.Errorf("listing candidates after id %d: %w", afterID, err)
		}
		if len(users) == 0 {
			return nil
		}

		for _, user := range users {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := process(ctx, user); err != nil {
				// Fault isolation: this user is retried next sweep, the
				// rest of the scan continues.
				s.logger.Error("sweep user failed", "user_id", user.ID, "error", err)
			}
			afterID = user.ID
		}
	}
}

// processExpiredTrial downgrades one expired trial and delivers the
// one-time notice. The flag is set only after a successful send, so a crash
// or delivery failure in between retries the notice on the next sweep
// without a second downgrade.
func (s *Sweeper) processExpiredTrial(ctx context.Context, user domain.User) error {
	if user.Tier == domain.TierTrial {
		downgraded, err := s.store.DowngradeExpiredTrial(ctx, repository.DowngradeParams{
			UserID: user.ID,
			Now:    s.now(),
		})
		if err != nil {
			return fmt.Errorf("downgrading expired trial: %w", err)
		}
		if !downgraded {
			// The record changed since the scan: a grant won the race.
			// Grant always wins; leave the user alone.
			return nil
		}

		s.cache.Invalidate(ctx, user.ID)
		metrics.SweepDowngradesTotal.WithLabelValues("trial").Inc()
		s.logger.Info("trial expired", "user_id", user.ID, "trial_ended_at", user.TrialEndsAt)
	}

	return s.notifyOnce(ctx, user, "trial_expired",
		s.notifier.SendTrialExpired, s.store.SetTrialNotified)
}

// processExpiredPremium downgrades one lapsed premium period and delivers
// the one-time notice, with the same crash-safe ordering as trials.
func (s *Sweeper) processExpiredPremium(ctx context.Context, user domain.User) error {
	if user.Tier == domain.TierPremium {
		downgraded, err := s.store.DowngradeExpiredPremium(ctx, repository.DowngradeParams{
			UserID: user.ID,
			Now:    s.now(),
		})
		if err != nil {
			return fmt.Errorf("downgrading expired premium: %w", err)
		}
		if !downgraded {
			// A renewal landed between the scan and this write.
			return nil
		}

		s.cache.Invalidate(ctx, user.ID)
		metrics.SweepDowngradesTotal.WithLabelValues("premium").Inc()
		s.logger.Info("premium expired", "user_id", user.ID)
	}

	return s.notifyOnce(ctx, user, "premium_expired",
		s.notifier.SendPremiumExpired, s.store.SetPremiumExpiredNotified)
}

// notifyOnce delivers one expiry notice and records it as sent. Blocked
// users, and users who have blocked the bot, are flagged without a send so
// they drop out of future scans. A transient delivery failure leaves the
// flag unset for the next sweep.
func (s *Sweeper) notifyOnce(ctx context.Context, user domain.User, kind string,
	send func(context.Context, int64) error, setFlag func(context.Context, int64) error) error {

	if user.IsBlocked {
		if err := setFlag(ctx, user.ID); err != nil {
			return fmt.Errorf("flagging blocked user: %w", err)
		}
		return nil
	}

	if err := send(ctx, user.ID); err != nil {
		if errors.Is(err, notify.ErrBlockedByUser) {
			s.logger.Info("recipient has blocked the bot, not retrying",
				"user_id", user.ID, "kind", kind)
			if flagErr := setFlag(ctx, user.ID); flagErr != nil {
				return fmt.Errorf("flagging unreachable user: %w", flagErr)
			}
			return nil
		}
		metrics.NotificationsTotal.WithLabelValues(kind, "failed").Inc()
		return fmt.Errorf("sending %s notice: %w", kind, err)
	}
	metrics.NotificationsTotal.WithLabelValues(kind, "sent").Inc()

	if err := setFlag(ctx, user.ID); err != nil {
		// The notice went out but the flag write failed. The next sweep
		// re-sends; duplicate notices are the accepted cost of never
		// losing one.
		return fmt.Errorf("marking %s notice delivered: %w", kind, err)
	}
	return nil
}

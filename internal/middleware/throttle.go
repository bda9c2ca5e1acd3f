package middleware

import (
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Per-User Message Throttle
// =============================================================================

// Throttle gates inbound messages per user: at most one message every
// configured interval. The bot gateway consults it before any quota or AI
// work, so a flooding user is cut off cheaply and in memory.
//
// The throttle is not a quota. Quotas are durable daily allowances; this is
// short-horizon flood protection that forgets a user seconds after they
// go quiet.
type Throttle struct {
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	lastSeen map[int64]time.Time

	stopCh   chan struct{}
	stopOnce sync.Once

	now func() time.Time
}

// NewThrottle creates a per-user throttle allowing one message per interval.
// A cleanup goroutine prunes idle users; call Stop to shut it down.
func NewThrottle(interval time.Duration, logger *slog.Logger) *Throttle {
	t := &Throttle{
		interval: interval,
		logger:   logger,
		lastSeen: make(map[int64]time.Time),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}

	go t.cleanup()

	return t
}

// Allow reports whether the user's message may proceed. The first message
// always passes; subsequent messages pass once the interval has elapsed
// since the last allowed one. Denied messages do not extend the window, so
// a spamming user regains access one interval after their last allowed
// message, not their last attempt.
func (t *Throttle) Allow(userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	last, seen := t.lastSeen[userID]
	if seen && now.Sub(last) < t.interval {
		return false
	}

	t.lastSeen[userID] = now
	return true
}

// Reset forgets a user's window (e.g. after an admin unblock).
func (t *Throttle) Reset(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastSeen, userID)
}

// Stop shuts down the cleanup goroutine. Safe to call more than once.
func (t *Throttle) Stop() {
	t.stopOnce.Do(func() {
		close(t.stopCh)
	})
}

// cleanupEvery bounds how often idle entries are pruned. The interval itself
// is usually around a second, far too hot for a map scan.
const cleanupEvery = time.Minute

// cleanup periodically drops users whose window has long passed.
func (t *Throttle) cleanup() {
	ticker := time.NewTicker(cleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.mu.Lock()
			now := t.now()
			for userID, last := range t.lastSeen {
				if now.Sub(last) > t.interval {
					delete(t.lastSeen, userID)
				}
			}
			t.mu.Unlock()
		}
	}
}

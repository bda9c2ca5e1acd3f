package sweeper

import (
	"fmt"
	"time"
)

// Config holds the configuration for the expiry sweeper.
type Config struct {
	// Interval is how often a sweep runs.
	// Default: 1 hour
	Interval time.Duration

	// PageSize bounds how many candidate rows one page loads, keeping sweep
	// memory flat regardless of audience size.
	// Default: 200
	PageSize int

	// ShutdownTimeout is how long Stop waits for an in-flight sweep.
	// Default: 30 seconds
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:        time.Hour,
		PageSize:        200,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Interval < time.Second {
		return fmt.Errorf("interval must be at least 1s, got %s", c.Interval)
	}
	if c.PageSize < 1 || c.PageSize > 10000 {
		return fmt.Errorf("page size must be between 1 and 10000, got %d", c.PageSize)
	}
	if c.ShutdownTimeout < time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1s, got %s", c.ShutdownTimeout)
	}
	return nil
}

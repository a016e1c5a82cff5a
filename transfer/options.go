package transfer

import (
	"time"

	"github.com/moffa90/go-lpfota/logging"
)

// Config holds the local interface configuration.
type Config struct {
	// Logger is used for logging operations (optional)
	Logger logging.Logger

	// LockTimeout bounds the wait for the buffer lock
	LockTimeout time.Duration

	// DrainTimeout bounds the wait for queued blocks at finalize
	DrainTimeout time.Duration

	// PollInterval is how often the consumer checks the buffer without a
	// signal
	PollInterval time.Duration
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		LockTimeout:  10 * time.Millisecond,
		DrainTimeout: 5 * time.Second,
		PollInterval: 50 * time.Millisecond,
	}
}

// Option is a functional option for configuring the Interface.
type Option func(*Config)

// WithLogger sets a logger for the local interface.
func WithLogger(logger logging.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithLockTimeout sets the buffer lock timeout. Default is 10 ms.
func WithLockTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.LockTimeout = d
		}
	}
}

// WithDrainTimeout sets how long finalize waits for queued blocks. Default
// is 5 seconds.
func WithDrainTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.DrainTimeout = d
		}
	}
}

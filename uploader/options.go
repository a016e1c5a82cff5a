package uploader

import (
	"time"

	"github.com/moffa90/go-lpfota/logging"
)

// Config holds the uploader configuration.
type Config struct {
	// ProgressCallback is called during the upload to report progress (optional)
	ProgressCallback ProgressCallback

	// Logger is used for logging operations (optional)
	Logger logging.Logger

	// Retries is the number of extra attempts for a block the device
	// reports busy, and the number of full resends after a finalize that
	// reports missing blocks
	Retries int

	// RetryDelay is the pause before retrying a busy block
	RetryDelay time.Duration

	// StatusAfterUpload queries the device status once the image is
	// accepted
	StatusAfterUpload bool
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		Retries:           3,
		RetryDelay:        20 * time.Millisecond,
		StatusAfterUpload: true,
	}
}

// Option is a functional option for configuring the Uploader.
type Option func(*Config)

// WithProgressCallback sets a callback function to track upload progress.
//
// Example:
//
//	up := uploader.New(port, codec,
//	    uploader.WithProgressCallback(func(p uploader.Progress) {
//	        fmt.Printf("%.1f%% complete\n", p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets a logger for the uploader operations.
func WithLogger(logger logging.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithRetries sets the number of retry attempts.
//
// Example:
//
//	up := uploader.New(port, codec, uploader.WithRetries(5))
func WithRetries(retries int) Option {
	return func(c *Config) {
		if retries >= 0 {
			c.Retries = retries
		}
	}
}

// WithRetryDelay sets the pause before a busy block is sent again.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.RetryDelay = d
		}
	}
}

// WithStatusAfterUpload enables or disables the final status query.
// Default is true.
func WithStatusAfterUpload(query bool) Option {
	return func(c *Config) {
		c.StatusAfterUpload = query
	}
}

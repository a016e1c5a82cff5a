package session

import (
	"context"
	"time"

	"github.com/moffa90/go-lpfota/logging"
)

// Downloader drives the radio download session of remote updates.
type Downloader interface {
	// Start begins downloading the announced image. Internal downloads
	// deliver blocks through Session.StoreRemote; both kinds report the end
	// through Session.DownloadComplete.
	Start(ctx context.Context, info AnnounceInfo) error

	// Abort cancels the running download
	Abort(ctx context.Context) error
}

// Config holds the session configuration.
type Config struct {
	// Logger is used for logging operations (optional)
	Logger logging.Logger

	// Validator checks announces (optional, nil accepts everything)
	Validator Validator

	// Downloader starts remote downloads (optional, nil refuses remote
	// updates)
	Downloader Downloader

	// AckTimeout bounds the wait for the worker
	AckTimeout time.Duration

	// IdleTimeout releases a local session without block activity
	IdleTimeout time.Duration
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		AckTimeout:  5 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
}

// Option is a functional option for configuring the Session.
type Option func(*Config)

// WithLogger sets a logger for session operations.
func WithLogger(logger logging.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithValidator sets the announce validator.
func WithValidator(v Validator) Option {
	return func(c *Config) {
		c.Validator = v
	}
}

// WithDownloader sets the remote download collaborator.
func WithDownloader(d Downloader) Option {
	return func(c *Config) {
		c.Downloader = d
	}
}

// WithAckTimeout sets how long Open, Finalize and Close wait for the
// worker. Default is 5 seconds.
func WithAckTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.AckTimeout = d
		}
	}
}

// WithIdleTimeout sets how long a local session may stay without block
// activity. Default is 60 seconds.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.IdleTimeout = d
		}
	}
}

package bootstrap

import (
	"github.com/moffa90/go-lpfota/logging"
	"github.com/moffa90/go-lpfota/partition"
)

// Config holds the bootstrap configuration.
type Config struct {
	// Logger is used for logging operations (optional)
	Logger logging.Logger

	// Layout locates the three partitions
	Layout partition.Layout

	// LocalLoader receives an image over the local interface (optional)
	LocalLoader LocalLoader

	// VerifyAfterSwap reads the copied payload back before the header is
	// written
	VerifyAfterSwap bool
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		Layout:          partition.ReferenceLayout(),
		VerifyAfterSwap: true,
	}
}

// Option is a functional option for configuring the Bootstrap.
type Option func(*Config)

// WithLogger sets a logger for boot operations.
//
// Example:
//
//	boot := bootstrap.New(mem, store, bootstrap.WithLogger(logging.Glog{}))
func WithLogger(logger logging.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithLayout overrides the reference partition layout.
func WithLayout(layout partition.Layout) Option {
	return func(c *Config) {
		c.Layout = layout
	}
}

// WithLocalLoader sets the collaborator that receives an image when no
// runnable image is left or a local update is requested.
func WithLocalLoader(loader LocalLoader) Option {
	return func(c *Config) {
		c.LocalLoader = loader
	}
}

// WithVerifyAfterSwap enables or disables the read-back of copied payload.
// Default is true.
func WithVerifyAfterSwap(verify bool) Option {
	return func(c *Config) {
		c.VerifyAfterSwap = verify
	}
}

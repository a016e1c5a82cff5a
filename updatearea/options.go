package updatearea

import (
	"time"

	"github.com/moffa90/go-lpfota/logging"
	"github.com/moffa90/go-lpfota/partition"
)

// BlockSize is the payload size of one update block.
const BlockSize = 210

// Config holds the update area configuration.
type Config struct {
	// Logger is used for logging operations (optional)
	Logger logging.Logger

	// Layout locates the partitions. The active partition is the swap
	// target of remote updates, the inactive ones back the fallback area.
	Layout partition.Layout

	// Fallback is the update partition used when the exchange record is
	// invalid
	Fallback partition.Role

	// BlockSize is the payload size of one block
	BlockSize int

	// Clock stamps the epoch of finalized images
	Clock func() time.Time
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		Layout:    partition.ReferenceLayout(),
		Fallback:  partition.Inactive1,
		BlockSize: BlockSize,
		Clock:     time.Now,
	}
}

// Option is a functional option for configuring the Manager.
type Option func(*Config)

// WithLogger sets a logger for update area operations.
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

// WithFallback sets the partition used as update area when the exchange
// record cannot be trusted. Default is partition.Inactive1.
func WithFallback(role partition.Role) Option {
	return func(c *Config) {
		c.Fallback = role
	}
}

// WithBlockSize overrides the block payload size. Default is 210.
func WithBlockSize(size int) Option {
	return func(c *Config) {
		if size > 0 {
			c.BlockSize = size
		}
	}
}

// WithClock sets the time source used for image epochs.
func WithClock(clock func() time.Time) Option {
	return func(c *Config) {
		if clock != nil {
			c.Clock = clock
		}
	}
}

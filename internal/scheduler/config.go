package scheduler

import (
	"time"

	"github.com/smallbiznis/praxis/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval     time.Duration
	BatchSize       int
	ReplayAfter     time.Duration
	ReplayBatchSize int
	JobTimeout      time.Duration
	LockTTL         time.Duration
	EnabledJobs     []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:     5 * time.Minute,
		BatchSize:       100,
		ReplayAfter:     10 * time.Minute,
		ReplayBatchSize: 50,
		JobTimeout:      time.Minute,
		LockTTL:         2 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: cfg.Reconcile.Interval,
		BatchSize:   cfg.Reconcile.BatchSize,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.ReplayAfter <= 0 {
		c.ReplayAfter = defaults.ReplayAfter
	}
	if c.ReplayBatchSize <= 0 {
		c.ReplayBatchSize = defaults.ReplayBatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	// The lease must outlive the job or two instances can overlap.
	if c.LockTTL < c.JobTimeout {
		c.LockTTL = c.JobTimeout + defaults.JobTimeout
	}
	return c
}

package monitor

import "time"

// Config controls scan cadence and batch sizes.
type Config struct {
	ScanInterval time.Duration
	// ReminderInterval throttles the reminder job; it runs on scans that
	// fall on this coarser boundary.
	ReminderInterval       time.Duration
	BatchSize              int
	JobTimeout             time.Duration
	MaxConsecutiveFailures int
}

func DefaultConfig() Config {
	return Config{
		ScanInterval:           time.Minute,
		ReminderInterval:       15 * time.Minute,
		BatchSize:              50,
		JobTimeout:             30 * time.Second,
		MaxConsecutiveFailures: 5,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.ScanInterval <= 0 {
		c.ScanInterval = defaults.ScanInterval
	}
	if c.ReminderInterval <= 0 {
		c.ReminderInterval = defaults.ReminderInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = defaults.MaxConsecutiveFailures
	}
	return c
}

package reconcile

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the polling budgets of a session.
type Config struct {
	// PollInterval separates the end of one poll cycle from the start of the next.
	// Must be greater than CallTimeout so calls never overlap.
	PollInterval time.Duration `yaml:"poll_interval"`

	// CallTimeout bounds each individual remote call. A timeout is a transient failure.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// MaxAttempts is the poll-cycle budget after which a ReconciliationTimeout
	// advisory is raised. The session keeps polling. 0 disables the advisory.
	MaxAttempts int `yaml:"max_attempts"`

	// DegradedThreshold is the number of consecutive failed cycles after which
	// a PollingDegraded advisory is raised. 0 disables the advisory.
	DegradedThreshold int `yaml:"degraded_threshold"`

	// ObservationBuffer is the capacity of the observation channel.
	ObservationBuffer int `yaml:"observation_buffer"`
}

// DefaultConfig polls every 2s for five minutes before raising a timeout advisory.
func DefaultConfig() Config {
	return Config{
		PollInterval:      2 * time.Second,
		CallTimeout:       time.Second,
		MaxAttempts:       150,
		DegradedThreshold: 5,
		ObservationBuffer: 32,
	}
}

// Validate checks that the budgets are usable.
func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.CallTimeout <= 0 {
		return errors.New("call timeout must be positive")
	}
	if c.PollInterval <= c.CallTimeout {
		return fmt.Errorf("poll interval (%v) must be greater than call timeout (%v)", c.PollInterval, c.CallTimeout)
	}
	if c.MaxAttempts < 0 {
		return errors.New("max attempts cannot be negative")
	}
	if c.DegradedThreshold < 0 {
		return errors.New("degraded threshold cannot be negative")
	}
	if c.ObservationBuffer < 0 {
		return errors.New("observation buffer cannot be negative")
	}
	return nil
}

// WithPollInterval returns a copy of the config with the specified interval.
func (c Config) WithPollInterval(d time.Duration) Config {
	c.PollInterval = d
	return c
}

// WithCallTimeout returns a copy of the config with the specified per-call timeout.
func (c Config) WithCallTimeout(d time.Duration) Config {
	c.CallTimeout = d
	return c
}

// WithMaxAttempts returns a copy of the config with the specified attempt budget.
func (c Config) WithMaxAttempts(n int) Config {
	c.MaxAttempts = n
	return c
}

// WithDegradedThreshold returns a copy of the config with the specified threshold.
func (c Config) WithDegradedThreshold(n int) Config {
	c.DegradedThreshold = n
	return c
}

package dispatch

import (
	"fmt"
	"time"
)

// Config defines dispatch engine settings.
type Config struct {
	// HeartbeatTickMS is the period of the liveness loop.
	HeartbeatTickMS int `json:"heartbeat_tick_ms"`
	// HistoryDepth bounds the transition history kept for slow subscribers.
	HistoryDepth int `json:"history_depth"`
	// DefaultRetrySeconds is the registration retry delay used when the
	// central system answers Pending or Rejected without a usable interval.
	DefaultRetrySeconds int `json:"default_retry_seconds"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.HeartbeatTickMS == 0 {
		c.HeartbeatTickMS = 1000
	}
	if c.HistoryDepth == 0 {
		c.HistoryDepth = 16
	}
	if c.DefaultRetrySeconds == 0 {
		c.DefaultRetrySeconds = 10
	}
}

// Validate checks the values are usable.
func (c Config) Validate() error {
	if c.HeartbeatTickMS <= 0 {
		return fmt.Errorf("heartbeat_tick_ms must be positive")
	}
	if c.HistoryDepth <= 0 {
		return fmt.Errorf("history_depth must be positive")
	}
	if c.DefaultRetrySeconds <= 0 {
		return fmt.Errorf("default_retry_seconds must be positive")
	}
	return nil
}

// HeartbeatTick returns the liveness loop period.
func (c Config) HeartbeatTick() time.Duration {
	return time.Duration(c.HeartbeatTickMS) * time.Millisecond
}

// DefaultRetry returns the fallback registration retry delay.
func (c Config) DefaultRetry() time.Duration {
	return time.Duration(c.DefaultRetrySeconds) * time.Second
}

package ocpp

import (
	"fmt"
	"time"
)

// Subprotocol is negotiated during the WebSocket handshake.
const Subprotocol = "ocpp1.6"

// Config defines transport settings.
type Config struct {
	RequestTimeoutSeconds int  `json:"request_timeout_seconds"`
	TLSInsecure           bool `json:"tls_insecure"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.RequestTimeoutSeconds == 0 {
		c.RequestTimeoutSeconds = 30
	}
}

// Validate checks the values are usable.
func (c Config) Validate() error {
	if c.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("request_timeout_seconds must be positive")
	}
	return nil
}

// RequestTimeout returns how long a call waits for its result.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

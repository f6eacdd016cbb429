// Package hubconfig holds the hub's tunable defaults, grounded on the
// teacher's coreengine/config struct-with-defaults style.
package hubconfig

import (
	"fmt"
	"time"
)

// Config collects every tunable the hub needs outside the protocol itself:
// TTL/timeout defaults, history sizing, trusted-sender policy, and
// reconnection behavior for continuous-connection transports.
type Config struct {
	DefaultTTL uint8

	HistoryCapacity int
	HistoryTTL      time.Duration

	AwaitResponseTimeout time.Duration

	// AllowUnsignedBlocks overrides validate_block's trust check; intended
	// for local development only.
	AllowUnsignedBlocks bool
	TrustedSenders      map[string]struct{}

	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectMaxAttempts  int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:            64,
		HistoryCapacity:       4096,
		HistoryTTL:            5 * time.Minute,
		AwaitResponseTimeout:  10 * time.Second,
		AllowUnsignedBlocks:   false,
		TrustedSenders:        map[string]struct{}{},
		ReconnectInitialDelay: 500 * time.Millisecond,
		ReconnectMaxDelay:     30 * time.Second,
		ReconnectMaxAttempts:  10,
	}
}

// Validate rejects non-positive/zero values that would make the hub
// misbehave (e.g. a zero TTL would drop every forwarded block).
func (c Config) Validate() error {
	if c.DefaultTTL == 0 {
		return fmt.Errorf("hubconfig: DefaultTTL must be > 0")
	}
	if c.HistoryCapacity <= 0 {
		return fmt.Errorf("hubconfig: HistoryCapacity must be > 0")
	}
	if c.AwaitResponseTimeout <= 0 {
		return fmt.Errorf("hubconfig: AwaitResponseTimeout must be > 0")
	}
	return nil
}

// IsTrustedSender reports whether senderKey (typically an endpoint's
// string form) is in the configured trust list.
func (c Config) IsTrustedSender(senderKey string) bool {
	_, ok := c.TrustedSenders[senderKey]
	return ok
}

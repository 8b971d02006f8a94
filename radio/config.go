package radio

import (
	"time"

	"github.com/cyberinferno/plankton/transport"
)

// Config holds the settings of a Radio.
type Config struct {
	// Address is the server "host:port".
	Address string
	// MinPort and MaxPort bound the local UDP port probe.
	MinPort int
	MaxPort int
	// RetryInterval is the retransmission interval of pending requests.
	RetryInterval time.Duration
	// TickInterval is the cadence the embedder is expected to call Tick at;
	// Run uses it directly.
	TickInterval time.Duration
	// PlayerActiveTimeout is how long a remote player stays active after its
	// last message.
	PlayerActiveTimeout time.Duration
	// PlayerDestroyTimeout is how long a silent remote player is kept before
	// its slot is freed.
	PlayerDestroyTimeout time.Duration
	// AliveTimeout bounds the age of the last successful login or ping for
	// IsConnected.
	AliveTimeout time.Duration
	// SessionTTL is how long a saved session is kept in the session store.
	SessionTTL time.Duration
	// StoreTimeout bounds each session store call.
	StoreTimeout time.Duration
}

// DefaultConfig returns the reference settings for the given server address.
//
// Returns:
//   - A Config with ports 32000-35000, 1s retry and tick, 5s active timeout,
//     30s destroy timeout, 5s alive timeout, 5m session TTL and a 500ms
//     store timeout
func DefaultConfig(address string) Config {
	return Config{
		Address:              address,
		MinPort:              32000,
		MaxPort:              35000,
		RetryInterval:        time.Second,
		TickInterval:         time.Second,
		PlayerActiveTimeout:  5 * time.Second,
		PlayerDestroyTimeout: 30 * time.Second,
		AliveTimeout:         5 * time.Second,
		SessionTTL:           5 * time.Minute,
		StoreTimeout:         500 * time.Millisecond,
	}
}

func (c Config) transport() transport.Config {
	tc := transport.DefaultConfig(c.Address)
	tc.MinPort = c.MinPort
	tc.MaxPort = c.MaxPort
	return tc
}

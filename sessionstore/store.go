// Package sessionstore persists plankton session state with a time-to-live.
//
// Clients use it to remember the last SessionInfo per device so a restarted
// process can resume its token instead of logging in again. The development
// server uses it to bind device ids to player records, where entry expiry is
// what turns a stale token into an "expired" reply.
package sessionstore

import (
	"context"
	"encoding/hex"
	"time"
)

// KeyPrefix namespaces every key written by this package.
const KeyPrefix = "plankton:"

// IssueFunc creates a value when LoadOrIssue finds none.
type IssueFunc[T any] func(ctx context.Context) (T, error)

// Store is a keyed, expiring store of T values. Implementations are safe for
// concurrent use.
type Store[T any] interface {
	// Load returns the value stored under key.
	//
	// Returns:
	//   - The value and true if present and not expired
	//   - The zero value and false on a miss
	//   - An error if the backend failed
	Load(ctx context.Context, key string) (T, bool, error)

	// Save stores value under key for ttl. A zero ttl never expires.
	Save(ctx context.Context, key string, value T, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// LoadOrIssue returns the value under key, or calls issue, stores its
	// result for ttl and returns it. Concurrent callers for the same key
	// share one issue call.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - key: The key to load or populate
	//   - ttl: Time-to-live of an issued value
	//   - issue: Creates the value on a miss
	//
	// Returns:
	//   - The stored or issued value
	//   - An error if the backend or issue failed
	LoadOrIssue(ctx context.Context, key string, ttl time.Duration, issue IssueFunc[T]) (T, error)

	// Count returns the number of live entries.
	Count(ctx context.Context) (int, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error
}

// SessionKey returns the key a client session is saved under.
func SessionKey(device []byte) string {
	return KeyPrefix + "session:" + hex.EncodeToString(device)
}

// DeviceKey returns the key a server-side device binding is saved under.
func DeviceKey(device []byte) string {
	return KeyPrefix + "device:" + hex.EncodeToString(device)
}

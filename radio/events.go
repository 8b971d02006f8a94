package radio

import (
	"time"

	"github.com/cyberinferno/plankton/protocol"
)

// State is the lifecycle state of a Radio session.
type State int

const (
	Idle      State = iota // Never connected
	Started                // Socket open and device set, not logged in
	LoggingIn              // Login request in flight
	LoggedIn               // Token held
	Expired                // Server rejected the token; re-login pending
	Stopped                // Disconnected; Connect may be called again
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Started:
		return "Started"
	case LoggingIn:
		return "LoggingIn"
	case LoggedIn:
		return "LoggedIn"
	case Expired:
		return "Expired"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// StateEvent is emitted when the session state changes.
type StateEvent struct {
	State     State     // The new state
	Previous  State     // The state before the change
	Timestamp time.Time // When the change occurred
}

// PlayerEvent is emitted when a player slot is populated or freed.
type PlayerEvent struct {
	Player    *Player   // The player; do not retain after a disconnect event
	Timestamp time.Time // When the change occurred
}

// ErrorEvent is emitted when a request fails with an error that has no
// automatic recovery.
type ErrorEvent struct {
	Op        string    // The operation that failed (e.g. "login", "join room")
	Error     error     // The error that occurred
	Timestamp time.Time // When the error was observed
}

// MessageEvent is delivered for every player message.
type MessageEvent struct {
	Player    *Player       // The sending player
	Kind      protocol.Kind // KindUnreliable or KindReliable
	Payload   []byte        // Only valid during the handler call; copy if needed
	Timestamp time.Time     // When the message was received
}

// StateHandler is called when the session state changes.
type StateHandler func(event StateEvent)

// PlayerHandler is called when a player connects or disconnects.
type PlayerHandler func(event PlayerEvent)

// ErrorHandler is called when a request fails.
type ErrorHandler func(event ErrorEvent)

// MessageHandler is called for each player message.
type MessageHandler func(event MessageEvent)

// Package protocol defines the wire vocabulary shared by the plankton client
// and server: message kinds, error codes, target selectors, size limits and
// the matchmaking attribute types.
//
// Every request is framed as [kind][payload]. Every response is framed as
// [kind][code][payload]; a response carrying a non-zero code is exactly two
// bytes long. Messages relayed from other players are framed as
// [kind][sender][length][payload].
//
// Numeric fields use the host's native byte order. Client and server must run
// on machines with the same endianness.
package protocol

import "fmt"

// Kind is the single-byte tag that identifies a message type.
type Kind byte

const (
	KindPing       Kind = 1
	KindLogin      Kind = 2
	KindLogout     Kind = 3
	KindCreateRoom Kind = 4
	KindListRooms  Kind = 5
	KindJoinRoom   Kind = 6
	KindLeaveRoom  Kind = 7
	KindUnreliable Kind = 20
	KindReliable   Kind = 21
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindPing:
		return "Ping"
	case KindLogin:
		return "Login"
	case KindLogout:
		return "Logout"
	case KindCreateRoom:
		return "CreateRoom"
	case KindListRooms:
		return "ListRooms"
	case KindJoinRoom:
		return "JoinRoom"
	case KindLeaveRoom:
		return "LeaveRoom"
	case KindUnreliable:
		return "Unreliable"
	case KindReliable:
		return "Reliable"
	default:
		return fmt.Sprintf("Kind(%d)", byte(k))
	}
}

// IsMessage reports whether k carries player-to-player traffic rather than a
// request/response pair.
func (k Kind) IsMessage() bool {
	return k == KindUnreliable || k == KindReliable
}

// Target selects the recipients of a player message.
type Target byte

const (
	TargetAll    Target = 1 // every player in the room, sender included
	TargetOther  Target = 2 // every player in the room except the sender
	TargetPlayer Target = 3 // one explicit player index
)

// String returns a human-readable name for the target.
func (t Target) String() string {
	switch t {
	case TargetAll:
		return "All"
	case TargetOther:
		return "Other"
	case TargetPlayer:
		return "Player"
	default:
		return fmt.Sprintf("Target(%d)", byte(t))
	}
}

// Flags is the capability bitset the server reports for a player.
type Flags byte

// FlagMaster marks the room master.
const FlagMaster Flags = 1

// Has reports whether all bits of f2 are set in f.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

const (
	// DeviceSize is the length of the opaque device identifier.
	DeviceSize = 32
	// PropertiesSize is the length of the room property blob.
	PropertiesSize = 32
	// PacketSize is the datagram size ceiling.
	PacketSize = 256
	// MaxPayload is the largest application payload a message may carry.
	MaxPayload = 230
	// MaxPlayers is the number of player slots in a room.
	MaxPlayers = 16
	// RoomEntrySize is the length of one room listing entry.
	RoomEntrySize = 4
	// MaxRoomEntries is the most entries a single listing response may carry.
	MaxRoomEntries = (PacketSize - 3) / RoomEntrySize
)

// NoRoom and NoPlayer are the "unset" values for room ids and player indices.
const (
	NoRoom   int16 = -1
	NoPlayer int8  = -1
)

// ValidPlayer reports whether index addresses a slot of the player table.
func ValidPlayer(index int8) bool {
	return index >= 0 && int(index) < MaxPlayers
}

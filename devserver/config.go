package devserver

import (
	"time"

	"github.com/cyberinferno/plankton/protocol"
)

// Config holds the settings of a Server.
type Config struct {
	// Address is the UDP "host:port" to listen on.
	Address string
	// LobbyID is reported to every session.
	LobbyID int16
	// LobbyCapacity is the most concurrent sessions.
	LobbyCapacity int
	// MaxRooms bounds the number of open rooms; room ids are 0..MaxRooms-1.
	MaxRooms int
	// RoomCapacity is the number of player slots per room.
	RoomCapacity int
	// SessionTTL is how long a silent session (and its device binding) is
	// kept.
	SessionTTL time.Duration
	// SweepInterval is the cadence of the idle-session sweep.
	SweepInterval time.Duration
	// ReadBufferSize is the receive buffer for one datagram.
	ReadBufferSize int
}

// DefaultConfig returns the reference settings for the given listen address.
func DefaultConfig(address string) Config {
	return Config{
		Address:        address,
		LobbyCapacity:  256,
		MaxRooms:       64,
		RoomCapacity:   protocol.MaxPlayers,
		SessionTTL:     time.Minute,
		SweepInterval:  5 * time.Second,
		ReadBufferSize: 1024,
	}
}

func (c Config) normalize() Config {
	if c.LobbyCapacity <= 0 {
		c.LobbyCapacity = 256
	}
	if c.MaxRooms <= 0 {
		c.MaxRooms = 64
	}
	if c.RoomCapacity <= 0 || c.RoomCapacity > protocol.MaxPlayers {
		c.RoomCapacity = protocol.MaxPlayers
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Second
	}
	if c.ReadBufferSize < protocol.PacketSize {
		c.ReadBufferSize = 1024
	}
	return c
}

package messenger

import (
	"encoding/hex"

	"github.com/cyberinferno/plankton/protocol"
)

// SessionInfo is the authenticated state of one client session.
type SessionInfo struct {
	Device      [protocol.DeviceSize]byte `json:"device"`
	Token       uint32                    `json:"token"`
	LobbyID     int16                     `json:"lobbyId"`
	RoomID      int16                     `json:"roomId"`
	PlayerIndex int8                      `json:"playerIndex"`
	Flags       protocol.Flags            `json:"flags"`
	ServerTime  int64                     `json:"serverTime"`
}

// NewSessionInfo returns an unauthenticated session for device.
func NewSessionInfo(device [protocol.DeviceSize]byte) SessionInfo {
	return SessionInfo{
		Device:      device,
		RoomID:      protocol.NoRoom,
		PlayerIndex: protocol.NoPlayer,
	}
}

// Authenticated reports whether the session holds a token.
func (s SessionInfo) Authenticated() bool {
	return s.Token != 0
}

// InRoom reports whether the session has joined a room.
func (s SessionInfo) InRoom() bool {
	return s.Token != 0 && s.RoomID >= 0
}

// IsMaster reports whether the session's player is the room master.
func (s SessionInfo) IsMaster() bool {
	return s.Flags.Has(protocol.FlagMaster)
}

// DeviceHex returns the device identifier as lowercase hex.
func (s SessionInfo) DeviceHex() string {
	return hex.EncodeToString(s.Device[:])
}

// expire drops authentication while keeping the device.
func (s *SessionInfo) expire() {
	*s = NewSessionInfo(s.Device)
}

// leaveRoom clears the room assignment.
func (s *SessionInfo) leaveRoom() {
	s.RoomID = protocol.NoRoom
	s.PlayerIndex = protocol.NoPlayer
	s.Flags &^= protocol.FlagMaster
}

package protocol

import "encoding/binary"

// MatchmakingParams are the four attributes a room is created with.
type MatchmakingParams struct {
	A int32 `json:"a"`
	B int32 `json:"b"`
	C int32 `json:"c"`
	D int32 `json:"d"`
}

// MatchmakingRange is the inclusive attribute window a join request accepts.
type MatchmakingRange struct {
	AMin int32 `json:"aMin"`
	AMax int32 `json:"aMax"`
	BMin int32 `json:"bMin"`
	BMax int32 `json:"bMax"`
	CMin int32 `json:"cMin"`
	CMax int32 `json:"cMax"`
	DMin int32 `json:"dMin"`
	DMax int32 `json:"dMax"`
}

// Contains reports whether every attribute of p falls inside r.
func (r MatchmakingRange) Contains(p MatchmakingParams) bool {
	return p.A >= r.AMin && p.A <= r.AMax &&
		p.B >= r.BMin && p.B <= r.BMax &&
		p.C >= r.CMin && p.C <= r.CMax &&
		p.D >= r.DMin && p.D <= r.DMax
}

// Exact returns a range that only matches p.
func Exact(p MatchmakingParams) MatchmakingRange {
	return MatchmakingRange{
		AMin: p.A, AMax: p.A,
		BMin: p.B, BMax: p.B,
		CMin: p.C, CMax: p.C,
		DMin: p.D, DMax: p.D,
	}
}

var nativeEndian = binary.NativeEndian

// RoomEntry is one fixed-size record of a room listing:
// room id (int16, native order), player count, capacity.
type RoomEntry [RoomEntrySize]byte

// NewRoomEntry packs a listing record.
func NewRoomEntry(roomID int16, players, capacity uint8) RoomEntry {
	var e RoomEntry
	nativeEndian.PutUint16(e[0:2], uint16(roomID))
	e[2] = players
	e[3] = capacity
	return e
}

// RoomID returns the room identifier of the entry.
func (e RoomEntry) RoomID() int16 {
	return int16(nativeEndian.Uint16(e[0:2]))
}

// Players returns the number of players currently in the room.
func (e RoomEntry) Players() uint8 { return e[2] }

// Capacity returns the room's player capacity.
func (e RoomEntry) Capacity() uint8 { return e[3] }

// Full reports whether the room has no free slot.
func (e RoomEntry) Full() bool { return e[2] >= e[3] }

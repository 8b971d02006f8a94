package devserver

import (
	"net"
	"time"

	"github.com/cyberinferno/plankton/protocol"
)

type session struct {
	token    uint32
	device   [protocol.DeviceSize]byte
	addr     *net.UDPAddr
	room     *room
	index    int8
	lastSeen time.Time
}

func (s *session) roomID() int16 {
	if s.room == nil {
		return protocol.NoRoom
	}
	return s.room.id
}

func (s *session) flags() protocol.Flags {
	if s.room != nil && s.room.master == s.index {
		return protocol.FlagMaster
	}
	return 0
}

type room struct {
	id         int16
	properties [protocol.PropertiesSize]byte
	params     protocol.MatchmakingParams
	openUntil  time.Time
	players    []*session
	master     int8
}

func newRoom(id int16, capacity int) *room {
	return &room{
		id:      id,
		players: make([]*session, capacity),
		master:  protocol.NoPlayer,
	}
}

func (r *room) count() int {
	n := 0
	for _, p := range r.players {
		if p != nil {
			n++
		}
	}
	return n
}

func (r *room) full() bool {
	return r.count() >= len(r.players)
}

func (r *room) open(now time.Time) bool {
	return now.Before(r.openUntil) && !r.full()
}

// add seats s in the lowest free slot and returns it, or NoPlayer if the room
// is full. The first player becomes master.
func (r *room) add(s *session) int8 {
	for i, p := range r.players {
		if p != nil {
			continue
		}
		r.players[i] = s
		s.room = r
		s.index = int8(i)
		if r.master == protocol.NoPlayer {
			r.master = s.index
		}
		return s.index
	}
	return protocol.NoPlayer
}

// remove frees the slot of s and hands the master role to the lowest
// remaining slot when s held it.
func (r *room) remove(s *session) {
	if s.room != r || !protocol.ValidPlayer(s.index) {
		return
	}

	r.players[s.index] = nil
	if r.master == s.index {
		r.master = protocol.NoPlayer
		for i, p := range r.players {
			if p != nil {
				r.master = int8(i)
				break
			}
		}
	}

	s.room = nil
	s.index = protocol.NoPlayer
}

func (r *room) entry() protocol.RoomEntry {
	return protocol.NewRoomEntry(r.id, uint8(r.count()), uint8(len(r.players)))
}

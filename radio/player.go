package radio

import (
	"time"

	"github.com/cyberinferno/plankton/protocol"
)

// Player is one populated slot of the room's player table. The slot index is
// the player's id for the life of the room.
type Player struct {
	id           int8
	radio        *Radio
	lastActiveAt time.Time
	onReceived   MessageHandler
}

// ID returns the player's slot index.
func (p *Player) ID() int8 { return p.id }

// IsMine reports whether this is the local player.
func (p *Player) IsMine() bool { return p.id == p.radio.self }

// IsOther reports whether this is a remote player.
func (p *Player) IsOther() bool { return !p.IsMine() }

// IsActive reports whether the player sent traffic within the active timeout.
// The local player is always active.
func (p *Player) IsActive() bool {
	if p.IsMine() {
		return true
	}
	return p.radio.now().Sub(p.lastActiveAt) < p.radio.cfg.PlayerActiveTimeout
}

// LastActiveAt returns when the player's last message arrived.
func (p *Player) LastActiveAt() time.Time { return p.lastActiveAt }

// OnReceived registers the handler for messages sent by this player,
// replacing any previous one.
func (p *Player) OnReceived(h MessageHandler) { p.onReceived = h }

// SendUnreliable sends payload to this player once.
func (p *Player) SendUnreliable(payload []byte) error {
	return p.radio.SendUnreliable(protocol.TargetPlayer, payload, p.id)
}

// SendReliable sends payload addressed to this player.
func (p *Player) SendReliable(payload []byte) error {
	return p.radio.SendReliable(protocol.TargetPlayer, payload, p.id)
}

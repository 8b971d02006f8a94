// Package messenger holds the state of one authenticated plankton session and
// exposes the protocol's typed requests (login, ping, room matchmaking and
// player messages) on top of a transmitter.
//
// Operations that need authentication are silently ignored while the session
// has no device or token: their callbacks are not invoked. Callers check
// LoggedIn (or use the radio package, which does) before issuing them.
//
// A Messenger reuses one send buffer and is not safe for concurrent use.
package messenger

import (
	"errors"
	"fmt"
	"time"

	"github.com/cyberinferno/plankton/codec"
	"github.com/cyberinferno/plankton/logger"
	"github.com/cyberinferno/plankton/protocol"
	"github.com/cyberinferno/plankton/transmitter"
)

// DefaultRetry is the retransmission interval of every request.
const DefaultRetry = time.Second

// loginResponseSigned is the number of leading login response bytes covered
// by its checksum: kind, code, token, lobby, room and index.
const loginResponseSigned = 11

var (
	// ErrBadDevice is returned by Start for a device id of the wrong size.
	ErrBadDevice = fmt.Errorf("device id must be %d bytes", protocol.DeviceSize)
	// ErrBadTarget is returned by the send operations for an unknown target
	// or an out-of-range player index.
	ErrBadTarget = errors.New("invalid message target")
)

type (
	// LoginFunc receives the outcome of Login.
	LoginFunc func(err error)
	// PingFunc receives the outcome of Ping and the measured round trip.
	PingFunc func(err error, rtt time.Duration)
	// CreateRoomFunc receives the outcome of CreateRoom.
	CreateRoomFunc func(err error, roomID int16, playerIndex int8)
	// JoinRoomFunc receives the outcome of JoinRoom and the room's property
	// blob.
	JoinRoomFunc func(err error, roomID int16, playerIndex int8, properties [protocol.PropertiesSize]byte)
	// LeaveRoomFunc receives the outcome of LeaveRoom.
	LeaveRoomFunc func(err error)
	// ListRoomsFunc receives a room listing. The slice is only valid for the
	// duration of the call.
	ListRoomsFunc func(err error, rooms []protocol.RoomEntry)
)

// Option configures a Messenger.
type Option func(*Messenger)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(m *Messenger) { m.log = log }
}

// WithClock replaces time.Now for round-trip measurement.
func WithClock(now func() time.Time) Option {
	return func(m *Messenger) { m.now = now }
}

// WithRetry sets the retransmission interval of requests.
func WithRetry(d time.Duration) Option {
	return func(m *Messenger) { m.retry = d }
}

// Messenger owns a SessionInfo and issues requests through a Transmitter.
type Messenger struct {
	tx    *transmitter.Transmitter
	log   logger.Logger
	now   func() time.Time
	retry time.Duration

	info    SessionInfo
	started bool
	w       *codec.Writer
	rooms   []protocol.RoomEntry
}

// New creates a Messenger on tx and installs its expiry hook.
func New(tx *transmitter.Transmitter, opts ...Option) *Messenger {
	m := &Messenger{
		tx:    tx,
		log:   logger.Nop(),
		now:   time.Now,
		retry: DefaultRetry,
		info:  NewSessionInfo([protocol.DeviceSize]byte{}),
		w:     codec.NewWriter(protocol.PacketSize),
		rooms: make([]protocol.RoomEntry, 0, protocol.MaxRoomEntries),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(logger.F("component", "messenger"))

	tx.OnExpired(func(kind protocol.Kind) {
		m.log.Info("session expired", logger.F("kind", kind.String()), logger.F("token", m.info.Token))
		m.info.expire()
	})

	return m
}

// OnMessage registers the handler for player messages.
func (m *Messenger) OnMessage(h transmitter.MessageFunc) { m.tx.OnMessage(h) }

// OnMessageError registers the handler for error frames answering player
// messages.
func (m *Messenger) OnMessageError(h transmitter.MessageErrorFunc) { m.tx.OnMessageError(h) }

// Start begins a fresh, unauthenticated session for device.
func (m *Messenger) Start(device []byte) error {
	if len(device) != protocol.DeviceSize {
		return ErrBadDevice
	}

	var id [protocol.DeviceSize]byte
	copy(id[:], device)
	m.tx.Clear()
	m.info = NewSessionInfo(id)
	m.started = true
	return nil
}

// Resume adopts a previously saved session for the started device. It reports
// false, changing nothing, when the device differs or info has no token.
func (m *Messenger) Resume(info SessionInfo) bool {
	if !m.started || info.Device != m.info.Device || !info.Authenticated() {
		return false
	}
	m.info = info
	return true
}

// Stop sends a best-effort logout, drops every pending request and resets the
// session. No request callback runs after Stop returns.
func (m *Messenger) Stop() {
	m.Logout()
	m.tx.Clear()
	m.info = NewSessionInfo([protocol.DeviceSize]byte{})
	m.started = false
}

// Update drives the underlying transmitter.
func (m *Messenger) Update() { m.tx.Update() }

// Poll drains inbound datagrams.
func (m *Messenger) Poll() { m.tx.Poll() }

// Retransmit resends overdue requests.
func (m *Messenger) Retransmit() { m.tx.Retransmit() }

// IsPending reports whether a request of kind is in flight.
func (m *Messenger) IsPending(kind protocol.Kind) bool { return m.tx.IsPending(kind) }

// Info returns a copy of the session state.
func (m *Messenger) Info() SessionInfo { return m.info }

// Started reports whether Start has been called since the last Stop.
func (m *Messenger) Started() bool { return m.started }

// LoggedIn reports whether the session holds a token.
func (m *Messenger) LoggedIn() bool { return m.started && m.info.Authenticated() }

func (m *Messenger) Token() uint32         { return m.info.Token }
func (m *Messenger) LobbyID() int16        { return m.info.LobbyID }
func (m *Messenger) RoomID() int16         { return m.info.RoomID }
func (m *Messenger) PlayerIndex() int8     { return m.info.PlayerIndex }
func (m *Messenger) Flags() protocol.Flags { return m.info.Flags }
func (m *Messenger) IsMaster() bool        { return m.info.IsMaster() }
func (m *Messenger) ServerTime() int64     { return m.info.ServerTime }

// header writes [kind][token][lobby][room][index].
func (m *Messenger) header(kind protocol.Kind) *codec.Writer {
	return m.w.Reset().
		PutByte(byte(kind)).
		PutUint32(m.info.Token).
		PutInt16(m.info.LobbyID).
		PutInt16(m.info.RoomID).
		PutInt8(m.info.PlayerIndex)
}

// Login authenticates the device. It completes at once with nil when the
// session already holds a token. A response whose checksum does not match is
// reported as protocol.ErrInvalid and leaves the session untouched.
func (m *Messenger) Login(cb LoginFunc) {
	if !m.started {
		return
	}
	if m.info.Authenticated() {
		cb(nil)
		return
	}

	m.w.Reset().
		PutByte(byte(protocol.KindLogin)).
		PutBytes(m.info.Device[:], protocol.DeviceSize).
		PutChecksum()

	m.tx.SendRequest(protocol.KindLogin, m.w.Bytes(), m.retry, func(err error, r *codec.Reader) {
		if err != nil {
			cb(err)
			return
		}

		if !codec.VerifyChecksum(r.Bytes(), loginResponseSigned) {
			m.log.Warn("login response checksum mismatch")
			cb(protocol.ErrInvalid)
			return
		}

		token := r.Uint32()
		lobby := r.Int16()
		room := r.Int16()
		index := r.Int8()
		if r.Err() != nil || token == 0 {
			cb(protocol.ErrInvalid)
			return
		}

		m.info.Token = token
		m.info.LobbyID = lobby
		m.info.RoomID = room
		m.info.PlayerIndex = index

		m.log.Info("logged in", logger.F("token", token), logger.F("lobby", lobby), logger.F("room", room), logger.F("index", index))
		cb(nil)
	})
}

// Logout tells the server the session is over. It is sent once, without
// waiting for a reply, and does not change local state.
func (m *Messenger) Logout() {
	if !m.LoggedIn() {
		return
	}

	m.header(protocol.KindLogout).PutChecksum()
	m.tx.Send(m.w.Bytes())
}

// Ping measures the round trip to the server and refreshes the server time
// and capability flags.
func (m *Messenger) Ping(cb PingFunc) {
	if !m.LoggedIn() {
		return
	}

	m.header(protocol.KindPing).PutInt64(m.now().UnixMilli())
	m.tx.SendRequest(protocol.KindPing, m.w.Bytes(), m.retry, func(err error, r *codec.Reader) {
		if err != nil {
			cb(err, 0)
			return
		}

		sent := r.Int64()
		serverTime := r.Int64()
		flags := protocol.Flags(r.Byte())
		if r.Err() != nil {
			cb(protocol.ErrInvalid, 0)
			return
		}

		m.info.ServerTime = serverTime
		m.info.Flags = flags
		cb(nil, time.Duration(m.now().UnixMilli()-sent)*time.Millisecond)
	})
}

// CreateRoom opens a new room with the given properties and matchmaking
// attributes and places the session's player in it.
//
// Parameters:
//   - openTimeout: Seconds the room stays open for joins
//   - properties: Room property blob, zero padded or truncated to 32 bytes
//   - params: Matchmaking attributes joiners are matched against
//   - cb: Receives the assigned room id and player index
func (m *Messenger) CreateRoom(openTimeout int16, properties []byte, params protocol.MatchmakingParams, cb CreateRoomFunc) {
	if !m.LoggedIn() {
		return
	}

	m.w.Reset().
		PutByte(byte(protocol.KindCreateRoom)).
		PutUint32(m.info.Token).
		PutInt16(m.info.LobbyID).
		PutInt16(openTimeout).
		PutBytes(properties, protocol.PropertiesSize).
		PutInt32(params.A).PutInt32(params.B).PutInt32(params.C).PutInt32(params.D)

	m.tx.SendRequest(protocol.KindCreateRoom, m.w.Bytes(), m.retry, func(err error, r *codec.Reader) {
		if err != nil {
			cb(err, protocol.NoRoom, protocol.NoPlayer)
			return
		}

		room := r.Int16()
		index := r.Int8()
		flags := protocol.Flags(r.Byte())
		if r.Err() != nil || room < 0 || !protocol.ValidPlayer(index) {
			cb(protocol.ErrInvalid, protocol.NoRoom, protocol.NoPlayer)
			return
		}

		m.info.RoomID = room
		m.info.PlayerIndex = index
		m.info.Flags = flags
		cb(nil, room, index)
	})
}

// JoinRoom asks the server to place the session's player in an open room
// whose attributes fall inside rng. It is ignored while already in a room.
func (m *Messenger) JoinRoom(rng protocol.MatchmakingRange, cb JoinRoomFunc) {
	if !m.LoggedIn() || m.info.RoomID >= 0 {
		return
	}

	m.w.Reset().
		PutByte(byte(protocol.KindJoinRoom)).
		PutUint32(m.info.Token).
		PutInt16(m.info.LobbyID).
		PutInt32(rng.AMin).PutInt32(rng.AMax).
		PutInt32(rng.BMin).PutInt32(rng.BMax).
		PutInt32(rng.CMin).PutInt32(rng.CMax).
		PutInt32(rng.DMin).PutInt32(rng.DMax)

	m.tx.SendRequest(protocol.KindJoinRoom, m.w.Bytes(), m.retry, func(err error, r *codec.Reader) {
		var props [protocol.PropertiesSize]byte
		if err != nil {
			cb(err, protocol.NoRoom, protocol.NoPlayer, props)
			return
		}

		room := r.Int16()
		index := r.Int8()
		flags := protocol.Flags(r.Byte())
		r.ReadBytes(props[:])
		if r.Err() != nil || room < 0 || !protocol.ValidPlayer(index) {
			cb(protocol.ErrInvalid, protocol.NoRoom, protocol.NoPlayer, props)
			return
		}

		m.info.RoomID = room
		m.info.PlayerIndex = index
		m.info.Flags = flags
		cb(nil, room, index, props)
	})
}

// LeaveRoom leaves the current room. The local room id and player index are
// reset when the request completes, whatever its outcome.
func (m *Messenger) LeaveRoom(cb LeaveRoomFunc) {
	if !m.LoggedIn() {
		return
	}

	m.header(protocol.KindLeaveRoom)
	m.tx.SendRequest(protocol.KindLeaveRoom, m.w.Bytes(), m.retry, func(err error, _ *codec.Reader) {
		// A rejected duplicate leaves the in-flight request in charge.
		if !errors.Is(err, protocol.ErrBusy) {
			m.info.leaveRoom()
		}
		cb(err)
	})
}

// ListRooms requests up to count rooms starting at room id start.
func (m *Messenger) ListRooms(start int16, count uint8, excludeFull bool, cb ListRoomsFunc) {
	if !m.LoggedIn() {
		return
	}

	m.w.Reset().
		PutByte(byte(protocol.KindListRooms)).
		PutUint32(m.info.Token).
		PutInt16(m.info.LobbyID).
		PutInt16(start).
		PutByte(count).
		PutBool(excludeFull)

	m.tx.SendRequest(protocol.KindListRooms, m.w.Bytes(), m.retry, func(err error, r *codec.Reader) {
		if err != nil {
			cb(err, nil)
			return
		}

		n := int(r.Byte())
		if n > protocol.MaxRoomEntries {
			cb(protocol.ErrInvalid, nil)
			return
		}

		rooms := m.rooms[:0]
		for range n {
			var e protocol.RoomEntry
			r.ReadBytes(e[:])
			rooms = append(rooms, e)
		}
		if r.Err() != nil {
			cb(protocol.ErrInvalid, nil)
			return
		}

		cb(nil, rooms)
	})
}

// SendUnreliable relays payload to the players selected by target. otherID
// is only used with protocol.TargetPlayer. The datagram is sent once.
//
// Returns:
//   - protocol.ErrPayloadTooLarge for payloads above protocol.MaxPayload
//   - ErrBadTarget for an unknown target or out-of-range otherID
//   - nil otherwise, including when the session is not authenticated
func (m *Messenger) SendUnreliable(target protocol.Target, payload []byte, otherID int8) error {
	if err := checkMessage(target, payload, otherID); err != nil {
		return err
	}
	if !m.LoggedIn() {
		return nil
	}

	w := m.header(protocol.KindUnreliable).PutByte(byte(target))
	if target == protocol.TargetPlayer {
		w.PutInt8(otherID)
	}
	w.PutByte(byte(len(payload))).PutBytes(payload, len(payload))

	m.tx.Send(w.Bytes())
	return nil
}

// SendReliable addresses payload to one player. Delivery is targeted, not
// retried.
func (m *Messenger) SendReliable(targetID int8, payload []byte) error {
	if err := checkMessage(protocol.TargetPlayer, payload, targetID); err != nil {
		return err
	}
	if !m.LoggedIn() {
		return nil
	}

	w := m.header(protocol.KindReliable).
		PutInt8(targetID).
		PutByte(byte(len(payload))).
		PutBytes(payload, len(payload))

	m.tx.Send(w.Bytes())
	return nil
}

func checkMessage(target protocol.Target, payload []byte, otherID int8) error {
	if len(payload) > protocol.MaxPayload {
		return fmt.Errorf("%w: %d bytes", protocol.ErrPayloadTooLarge, len(payload))
	}

	switch target {
	case protocol.TargetAll, protocol.TargetOther:
		return nil
	case protocol.TargetPlayer:
		if !protocol.ValidPlayer(otherID) {
			return fmt.Errorf("%w: player %d", ErrBadTarget, otherID)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrBadTarget, target)
	}
}

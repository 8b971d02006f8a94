// Package radio is the entry point of the plankton client. A Radio owns one
// session: it opens the socket, logs in, keeps the session alive with pings,
// logs in again when the server reports the token expired, and tracks the
// other players of the room in a fixed slot table whose liveness is derived
// from the time since each player's last message.
//
// A Radio is single-threaded. The embedder calls Poll once per frame and Tick
// at Config.TickInterval (or uses Run, which does both), and every other
// method from the same goroutine. Event handlers run synchronously inside
// those calls.
package radio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cyberinferno/plankton/logger"
	"github.com/cyberinferno/plankton/messenger"
	"github.com/cyberinferno/plankton/protocol"
	"github.com/cyberinferno/plankton/sessionstore"
	"github.com/cyberinferno/plankton/transmitter"
	"github.com/cyberinferno/plankton/transport"
)

var (
	// ErrNotConnected is returned by the send operations while IsConnected
	// is false.
	ErrNotConnected = errors.New("radio: not connected")
	// ErrAlreadyConnected is returned by Connect on a live session.
	ErrAlreadyConnected = errors.New("radio: already connected")
)

// Dialer opens the datagram endpoint of a session.
type Dialer func(cfg transport.Config, log logger.Logger) (transmitter.Conn, error)

func dialSocket(cfg transport.Config, log logger.Logger) (transmitter.Conn, error) {
	s, err := transport.Open(cfg, log)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Option configures a Radio.
type Option func(*Radio)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(r *Radio) { r.log = log }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Radio) { r.now = now }
}

// WithDialer replaces the UDP socket with another endpoint.
func WithDialer(d Dialer) Option {
	return func(r *Radio) { r.dial = d }
}

// WithSessionStore enables saving the session after each login so a later
// Connect with the same device resumes it.
func WithSessionStore(store sessionstore.Store[messenger.SessionInfo]) Option {
	return func(r *Radio) { r.store = store }
}

// Radio drives one client session and the room's player table.
type Radio struct {
	cfg   Config
	log   logger.Logger
	now   func() time.Time
	dial  Dialer
	store sessionstore.Store[messenger.SessionInfo]

	conn  transmitter.Conn
	msg   *messenger.Messenger
	state State

	players   [protocol.MaxPlayers]*Player
	self      int8
	aliveAt   time.Time
	rtt       time.Duration
	loggingIn bool
	waiters   []func()

	onState              StateHandler
	onPlayerConnected    PlayerHandler
	onPlayerDisconnected PlayerHandler
	onError              ErrorHandler
	onMessage            MessageHandler
}

// New creates an idle Radio. Call Connect to start a session.
//
// Parameters:
//   - cfg: Session settings (e.g. from DefaultConfig)
//   - opts: Optional collaborators
//
// Returns:
//   - A new *Radio in the Idle state
func New(cfg Config, opts ...Option) *Radio {
	r := &Radio{
		cfg:   cfg,
		log:   logger.Nop(),
		now:   time.Now,
		dial:  dialSocket,
		state: Idle,
		self:  protocol.NoPlayer,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(logger.F("component", "radio"))
	return r
}

// OnStateChange registers the handler for session state changes.
func (r *Radio) OnStateChange(h StateHandler) { r.onState = h }

// OnPlayerConnected registers the handler called when a player slot is
// populated.
func (r *Radio) OnPlayerConnected(h PlayerHandler) { r.onPlayerConnected = h }

// OnPlayerDisconnected registers the handler called when a player slot is
// freed.
func (r *Radio) OnPlayerDisconnected(h PlayerHandler) { r.onPlayerDisconnected = h }

// OnError registers the handler for request failures.
func (r *Radio) OnError(h ErrorHandler) { r.onError = h }

// OnMessage registers a handler called for every player message, after the
// sending player's own handler.
func (r *Radio) OnMessage(h MessageHandler) { r.onMessage = h }

// Connect opens the socket and starts a session for device. A session saved
// in the session store for the same device is resumed; otherwise login
// starts immediately and completes during a later Poll or Tick.
//
// Parameters:
//   - device: The 32-byte device identifier
//
// Returns:
//   - An error wrapping protocol.ErrUnreachable if no socket could be opened
//     (also reported once through OnError)
//   - messenger.ErrBadDevice for a device id of the wrong size
//   - ErrAlreadyConnected if a session is running
func (r *Radio) Connect(device []byte) error {
	if r.state != Idle && r.state != Stopped {
		return ErrAlreadyConnected
	}
	if len(device) != protocol.DeviceSize {
		return messenger.ErrBadDevice
	}

	conn, err := r.dial(r.cfg.transport(), r.log)
	if err != nil {
		err = fmt.Errorf("%w: %w", protocol.ErrUnreachable, err)
		r.log.Error("failed to open socket", logger.Err(err))
		r.emitError("connect", err)
		return err
	}

	tx := transmitter.New(conn, transmitter.WithLogger(r.log), transmitter.WithClock(r.now))
	msg := messenger.New(tx,
		messenger.WithLogger(r.log),
		messenger.WithClock(r.now),
		messenger.WithRetry(r.cfg.RetryInterval),
	)
	if err := msg.Start(device); err != nil {
		_ = conn.Close()
		return err
	}
	msg.OnMessage(r.handleMessage)
	msg.OnMessageError(r.handleMessageError)

	r.conn = conn
	r.msg = msg
	r.waiters = nil
	r.loggingIn = false
	r.setState(Started)

	if r.resume(device) {
		return nil
	}

	r.login(nil)
	return nil
}

func (r *Radio) resume(device []byte) bool {
	if r.store == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.StoreTimeout)
	defer cancel()

	info, found, err := r.store.Load(ctx, sessionstore.SessionKey(device))
	if err != nil {
		r.log.Warn("failed to load saved session", logger.Err(err))
		return false
	}
	if !found || !r.msg.Resume(info) {
		return false
	}

	r.log.Info("session resumed", logger.F("token", info.Token), logger.F("room", info.RoomID))
	r.aliveAt = r.now()
	r.setState(LoggedIn)
	r.setSelf(r.msg.PlayerIndex())
	return true
}

func (r *Radio) saveSession() {
	if r.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.StoreTimeout)
	defer cancel()

	info := r.msg.Info()
	if err := r.store.Save(ctx, sessionstore.SessionKey(info.Device[:]), info, r.cfg.SessionTTL); err != nil {
		r.log.Warn("failed to save session", logger.Err(err))
	}
}

func (r *Radio) forgetSession(device []byte) {
	if r.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.StoreTimeout)
	defer cancel()

	if err := r.store.Delete(ctx, sessionstore.SessionKey(device)); err != nil {
		r.log.Warn("failed to delete saved session", logger.Err(err))
	}
}

// Disconnect logs out, frees every player slot (emitting disconnect events),
// closes the socket and forgets the saved session. No request callback runs
// afterwards.
func (r *Radio) Disconnect() {
	if r.msg == nil || r.state == Stopped {
		return
	}

	device := r.msg.Info().Device
	r.msg.Stop()
	r.removeAllPlayers()
	r.waiters = nil
	r.loggingIn = false

	if err := r.conn.Close(); err != nil {
		r.log.Debug("socket close failed", logger.Err(err))
	}
	r.forgetSession(device[:])
	r.setState(Stopped)
}

// Poll dispatches the datagrams received since the last call. Call it once
// per frame.
func (r *Radio) Poll() {
	if r.msg == nil || !r.msg.Started() {
		return
	}
	r.msg.Poll()
}

// Tick runs the periodic work in a fixed order: drain inbound datagrams, age
// the player table, retransmit overdue requests, then ping when logged in or
// log in when not.
func (r *Radio) Tick() {
	if r.msg == nil || !r.msg.Started() {
		return
	}

	r.msg.Poll()
	r.agePlayers()
	r.msg.Retransmit()

	if r.msg.LoggedIn() {
		if !r.msg.IsPending(protocol.KindPing) {
			r.ping()
		}
		return
	}
	r.login(nil)
}

// Run calls Poll every pollInterval and Tick every Config.TickInterval on the
// calling goroutine until ctx is done.
func (r *Radio) Run(ctx context.Context, pollInterval time.Duration) error {
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()
	tick := time.NewTicker(r.cfg.TickInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.C:
			r.Poll()
		case <-tick.C:
			r.Tick()
		}
	}
}

// login starts a login unless one is in flight. then, if non-nil, runs once
// the login succeeds.
func (r *Radio) login(then func()) {
	if then != nil {
		r.waiters = append(r.waiters, then)
	}
	if r.loggingIn {
		return
	}
	if r.msg.LoggedIn() {
		r.runWaiters()
		return
	}

	r.loggingIn = true
	r.setState(LoggingIn)
	r.msg.Login(func(err error) {
		r.loggingIn = false
		if err != nil {
			r.waiters = nil
			r.setState(Started)
			r.log.Warn("login failed", logger.Err(err))
			r.emitError("login", err)
			return
		}

		r.aliveAt = r.now()
		r.setState(LoggedIn)
		r.setSelf(r.msg.PlayerIndex())
		r.saveSession()
		r.runWaiters()
	})
}

func (r *Radio) runWaiters() {
	waiters := r.waiters
	r.waiters = nil
	for _, w := range waiters {
		w()
	}
}

// handleError applies the error policy to a request outcome and reports
// whether the caller must stop processing it. An expired session triggers a
// login that re-runs retry once it succeeds.
func (r *Radio) handleError(op string, err error, retry func()) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, protocol.ErrExpired) {
		r.log.Info("session expired, logging in again", logger.F("op", op))
		r.setState(Expired)
		r.login(retry)
		return true
	}

	r.log.Warn("request failed", logger.F("op", op), logger.Err(err))
	r.emitError(op, err)
	return true
}

func (r *Radio) ping() {
	r.msg.Ping(func(err error, rtt time.Duration) {
		if r.handleError("ping", err, r.ping) {
			return
		}
		r.rtt = rtt
		r.aliveAt = r.now()
	})
}

// CreateRoom opens a room and places the local player in it. cb may be nil.
// On success the local player's slot is populated. The request is re-issued
// transparently if the session expires first.
func (r *Radio) CreateRoom(openTimeout int16, properties []byte, params protocol.MatchmakingParams, cb messenger.CreateRoomFunc) {
	if !r.loggedIn() {
		return
	}

	props := make([]byte, protocol.PropertiesSize)
	copy(props, properties)

	var attempt func()
	attempt = func() {
		r.msg.CreateRoom(openTimeout, props, params, func(err error, roomID int16, index int8) {
			if r.handleError("create room", err, attempt) {
				if !errors.Is(err, protocol.ErrExpired) && cb != nil {
					cb(err, roomID, index)
				}
				return
			}

			r.enterRoom(index)
			if cb != nil {
				cb(nil, roomID, index)
			}
		})
	}
	attempt()
}

// JoinRoom joins an open room matching rng. cb may be nil.
func (r *Radio) JoinRoom(rng protocol.MatchmakingRange, cb messenger.JoinRoomFunc) {
	if !r.loggedIn() {
		return
	}

	var attempt func()
	attempt = func() {
		r.msg.JoinRoom(rng, func(err error, roomID int16, index int8, props [protocol.PropertiesSize]byte) {
			if r.handleError("join room", err, attempt) {
				if !errors.Is(err, protocol.ErrExpired) && cb != nil {
					cb(err, roomID, index, props)
				}
				return
			}

			r.enterRoom(index)
			if cb != nil {
				cb(nil, roomID, index, props)
			}
		})
	}
	attempt()
}

// LeaveRoom leaves the current room and frees every player slot. cb may be
// nil.
func (r *Radio) LeaveRoom(cb messenger.LeaveRoomFunc) {
	if !r.loggedIn() {
		return
	}

	var attempt func()
	attempt = func() {
		r.msg.LeaveRoom(func(err error) {
			if r.handleError("leave room", err, attempt) {
				if !errors.Is(err, protocol.ErrExpired) && cb != nil {
					cb(err)
				}
				return
			}

			r.removeAllPlayers()
			r.saveSession()
			if cb != nil {
				cb(nil)
			}
		})
	}
	attempt()
}

// ListRooms lists up to count rooms starting at room id start.
func (r *Radio) ListRooms(start int16, count uint8, excludeFull bool, cb messenger.ListRoomsFunc) {
	if !r.loggedIn() {
		return
	}

	var attempt func()
	attempt = func() {
		r.msg.ListRooms(start, count, excludeFull, func(err error, rooms []protocol.RoomEntry) {
			if r.handleError("list rooms", err, attempt) {
				if !errors.Is(err, protocol.ErrExpired) && cb != nil {
					cb(err, nil)
				}
				return
			}
			if cb != nil {
				cb(nil, rooms)
			}
		})
	}
	attempt()
}

func (r *Radio) enterRoom(index int8) {
	for i, p := range r.players {
		if p != nil && int8(i) != index {
			r.removePlayer(int8(i))
		}
	}
	r.setSelf(index)
	r.saveSession()
}

// SendUnreliable sends payload once to the players selected by target.
// otherID is only used with protocol.TargetPlayer.
func (r *Radio) SendUnreliable(target protocol.Target, payload []byte, otherID int8) error {
	if !r.IsConnected() {
		return ErrNotConnected
	}
	return r.msg.SendUnreliable(target, payload, otherID)
}

// SendReliable sends one targeted datagram per recipient: every populated
// slot for protocol.TargetAll, every remote slot for protocol.TargetOther,
// and otherID for protocol.TargetPlayer.
func (r *Radio) SendReliable(target protocol.Target, payload []byte, otherID int8) error {
	if !r.IsConnected() {
		return ErrNotConnected
	}

	switch target {
	case protocol.TargetPlayer:
		return r.msg.SendReliable(otherID, payload)
	case protocol.TargetAll, protocol.TargetOther:
		for _, p := range r.players {
			if p == nil || (target == protocol.TargetOther && p.IsMine()) {
				continue
			}
			if err := r.msg.SendReliable(p.id, payload); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", messenger.ErrBadTarget, target)
	}
}

func (r *Radio) handleMessage(kind protocol.Kind, sender int8, payload []byte) {
	if r.state != LoggedIn || !protocol.ValidPlayer(sender) {
		r.log.Debug("message dropped", logger.F("sender", sender), logger.F("state", r.state.String()))
		return
	}

	now := r.now()
	p := r.players[sender]
	if p == nil {
		p = r.addPlayer(sender)
	}
	p.lastActiveAt = now

	event := MessageEvent{Player: p, Kind: kind, Payload: payload, Timestamp: now}
	if p.onReceived != nil {
		p.onReceived(event)
	}
	if r.onMessage != nil {
		r.onMessage(event)
	}
}

func (r *Radio) handleMessageError(kind protocol.Kind, err error) {
	// Player messages are not retried, so there is nothing to re-issue.
	r.handleError(kind.String(), err, nil)
}

// setSelf moves the local player to index. A slot left behind by an earlier
// session is freed first.
func (r *Radio) setSelf(index int8) {
	if r.self != index && protocol.ValidPlayer(r.self) {
		old := r.self
		r.self = protocol.NoPlayer
		r.removePlayer(old)
	}
	if !protocol.ValidPlayer(index) {
		return
	}
	r.self = index
	r.addPlayer(index)
}

func (r *Radio) addPlayer(id int8) *Player {
	if !protocol.ValidPlayer(id) {
		return nil
	}
	if p := r.players[id]; p != nil {
		return p
	}

	now := r.now()
	p := &Player{id: id, radio: r, lastActiveAt: now}
	r.players[id] = p
	r.log.Debug("player connected", logger.F("player", id))

	if r.onPlayerConnected != nil {
		r.onPlayerConnected(PlayerEvent{Player: p, Timestamp: now})
	}
	return p
}

func (r *Radio) removePlayer(id int8) {
	p := r.players[id]
	if p == nil {
		return
	}

	r.players[id] = nil
	r.log.Debug("player disconnected", logger.F("player", id))

	if r.onPlayerDisconnected != nil {
		r.onPlayerDisconnected(PlayerEvent{Player: p, Timestamp: r.now()})
	}
}

func (r *Radio) removeAllPlayers() {
	r.self = protocol.NoPlayer
	for i := range r.players {
		r.removePlayer(int8(i))
	}
}

// agePlayers frees the slot of every remote player silent for longer than
// the destroy timeout. The local player is never aged.
func (r *Radio) agePlayers() {
	now := r.now()
	for i, p := range r.players {
		if p == nil || p.IsMine() {
			continue
		}
		if now.Sub(p.lastActiveAt) >= r.cfg.PlayerDestroyTimeout {
			r.removePlayer(int8(i))
		}
	}
}

func (r *Radio) setState(s State) {
	if s == r.state {
		return
	}

	prev := r.state
	r.state = s
	r.log.Info("state changed", logger.F("from", prev.String()), logger.F("to", s.String()))

	if r.onState != nil {
		r.onState(StateEvent{State: s, Previous: prev, Timestamp: r.now()})
	}
}

func (r *Radio) emitError(op string, err error) {
	if r.onError != nil {
		r.onError(ErrorEvent{Op: op, Error: err, Timestamp: r.now()})
	}
}

func (r *Radio) loggedIn() bool {
	return r.msg != nil && r.msg.LoggedIn()
}

// State returns the session state.
func (r *Radio) State() State { return r.state }

// IsConnected reports whether the session is logged in and the last login or
// ping response is younger than Config.AliveTimeout.
func (r *Radio) IsConnected() bool {
	return r.state == LoggedIn && r.loggedIn() && r.now().Sub(r.aliveAt) < r.cfg.AliveTimeout
}

// Ping returns the last measured round trip.
func (r *Radio) Ping() time.Duration { return r.rtt }

// Session returns a copy of the session state.
func (r *Radio) Session() messenger.SessionInfo {
	if r.msg == nil {
		return messenger.NewSessionInfo([protocol.DeviceSize]byte{})
	}
	return r.msg.Info()
}

func (r *Radio) Token() uint32     { return r.Session().Token }
func (r *Radio) RoomID() int16     { return r.Session().RoomID }
func (r *Radio) PlayerID() int8    { return r.Session().PlayerIndex }
func (r *Radio) IsMaster() bool    { return r.Session().IsMaster() }
func (r *Radio) ServerTime() int64 { return r.Session().ServerTime }

// Player returns the player in slot id, or nil.
func (r *Radio) Player(id int8) *Player {
	if !protocol.ValidPlayer(id) {
		return nil
	}
	return r.players[id]
}

// Players returns the populated slots in index order.
func (r *Radio) Players() []*Player {
	out := make([]*Player, 0, protocol.MaxPlayers)
	for _, p := range r.players {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// PlayersCount returns the number of populated slots.
func (r *Radio) PlayersCount() int {
	n := 0
	for _, p := range r.players {
		if p != nil {
			n++
		}
	}
	return n
}

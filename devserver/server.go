// Package devserver is a development server for the plankton wire protocol.
// It keeps every session, room and device binding in memory (device bindings
// may live in Redis through a sessionstore.Store) and relays player messages
// between the members of a room. It is meant for local play-testing and
// integration tests, not for production traffic.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/plankton/codec"
	"github.com/cyberinferno/plankton/idgenerator"
	"github.com/cyberinferno/plankton/logger"
	"github.com/cyberinferno/plankton/protocol"
	"github.com/cyberinferno/plankton/sessionstore"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by Run when the server was closed before it started.
var ErrClosed = errors.New("devserver: closed")

// codeInvalid answers requests the server cannot parse.
var codeInvalid = protocol.CodeOf(protocol.ErrInvalid)

// Option configures a Server.
type Option func(*Server)

// WithClock replaces time.Now for session aging, room open windows and
// server time.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithDeviceStore sets the store that binds device ids to tokens. The
// default is an in-process sessionstore.MemoryStore.
func WithDeviceStore(store sessionstore.Store[uint32]) Option {
	return func(s *Server) { s.devices = store }
}

// WithTokenStart sets the counter tokens are issued from.
func WithTokenStart(start uint32) Option {
	return func(s *Server) { s.tokens = idgenerator.New(start) }
}

// Stats is a snapshot of the server tables.
type Stats struct {
	Sessions int
	Rooms    int
	Players  int
}

// RoomStats describes one open room.
type RoomStats struct {
	ID       int16
	Players  int
	Capacity int
	Master   int8
	Open     bool
}

// Server is a UDP server speaking the plankton protocol.
type Server struct {
	cfg     Config
	log     logger.Logger
	now     func() time.Time
	conn    *net.UDPConn
	tokens  *idgenerator.Generator
	devices sessionstore.Store[uint32]

	mu       sync.Mutex
	sessions map[uint32]*session
	rooms    map[int16]*room
	w        *codec.Writer

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// New binds the listen address and creates a Server. Call Run to start
// serving.
//
// Parameters:
//   - cfg: Server settings (e.g. from DefaultConfig)
//   - log: Logger for server diagnostics
//   - opts: Optional collaborators
//
// Returns:
//   - The bound Server
//   - An error if the address cannot be resolved or bound
func New(cfg Config, log logger.Logger, opts ...Option) (*Server, error) {
	if log == nil {
		log = logger.Nop()
	}
	cfg = cfg.normalize()

	addr, err := net.ResolveUDPAddr("udp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("devserver: resolve %s: %w", cfg.Address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("devserver: listen %s: %w", cfg.Address, err)
	}

	s := &Server{
		cfg:      cfg,
		now:      time.Now,
		conn:     conn,
		tokens:   idgenerator.New(0),
		sessions: make(map[uint32]*session),
		rooms:    make(map[int16]*room),
		w:        codec.NewWriter(protocol.PacketSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.devices == nil {
		s.devices = sessionstore.NewMemoryStore[uint32](cfg.SweepInterval)
	}
	s.log = log.With(logger.F("component", "devserver"), logger.F("addr", conn.LocalAddr().String()))

	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Run serves until ctx is done or Close is called.
func (s *Server) Run(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.log.Info("devserver started")
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(ctx) })
	g.Go(func() error { return s.sweepLoop(ctx) })
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		return s.Close()
	})

	err := g.Wait()
	s.log.Info("devserver stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops the server. It is safe to call more than once.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *Server) readLoop(ctx context.Context) error {
	buf := make([]byte, s.cfg.ReadBufferSize)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			s.log.Debug("read failed", logger.Err(err))
			continue
		}
		if n == 0 || n > protocol.PacketSize {
			s.log.Debug("dropped datagram", logger.F("from", from.String()), logger.F("size", n))
			continue
		}
		s.handle(ctx, from, buf[:n])
	}
}

func (s *Server) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep drops every session silent for SessionTTL and refreshes the device
// bindings of the others. Run calls it every SweepInterval.
func (s *Server) Sweep(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for token, sess := range s.sessions {
		if now.Sub(sess.lastSeen) >= s.cfg.SessionTTL {
			s.log.Info("session timed out", logger.F("token", token))
			s.drop(ctx, sess)
			continue
		}
		if err := s.devices.Save(ctx, sessionstore.DeviceKey(sess.device[:]), token, s.cfg.SessionTTL); err != nil {
			s.log.Warn("failed to refresh device binding", logger.F("token", token), logger.Err(err))
		}
	}
}

// Expire forgets the session holding token, as if it had timed out. The next
// request carrying token is answered with an expired error.
func (s *Server) Expire(token uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return false
	}
	s.drop(context.Background(), sess)
	return true
}

// Stats returns a snapshot of the server tables.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Sessions: len(s.sessions), Rooms: len(s.rooms)}
	for _, r := range s.rooms {
		st.Players += r.count()
	}
	return st
}

// Rooms returns the open rooms ordered by id.
func (s *Server) Rooms() []RoomStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]RoomStats, 0, len(s.rooms))
	for _, r := range s.sortedRooms(0) {
		out = append(out, RoomStats{
			ID:       r.id,
			Players:  r.count(),
			Capacity: len(r.players),
			Master:   r.master,
			Open:     r.open(now),
		})
	}
	return out
}

func (s *Server) sortedRooms(from int16) []*room {
	out := make([]*room, 0, len(s.rooms))
	for id, r := range s.rooms {
		if id >= from {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// drop removes sess from its room and the session table and forgets its
// device binding. Callers hold mu.
func (s *Server) drop(ctx context.Context, sess *session) {
	s.leave(sess)
	delete(s.sessions, sess.token)
	if err := s.devices.Delete(ctx, sessionstore.DeviceKey(sess.device[:])); err != nil {
		s.log.Warn("failed to delete device binding", logger.F("token", sess.token), logger.Err(err))
	}
}

// leave removes sess from its room, deleting the room once empty. Callers
// hold mu.
func (s *Server) leave(sess *session) {
	r := sess.room
	if r == nil {
		return
	}
	r.remove(sess)
	if r.count() == 0 {
		delete(s.rooms, r.id)
		s.log.Debug("room closed", logger.F("room", r.id))
	}
}

func (s *Server) handle(ctx context.Context, from *net.UDPAddr, packet []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kind := protocol.Kind(packet[0])
	r := codec.NewReader(packet).Skip(1)

	if kind == protocol.KindLogin {
		s.handleLogin(ctx, from, r)
		return
	}

	token := r.Uint32()
	r.Int16() // lobby
	if r.Err() != nil {
		s.reply(from, kind, codeInvalid)
		return
	}

	sess, ok := s.sessions[token]
	if !ok {
		s.log.Debug("unknown token", logger.F("kind", kind.String()), logger.F("token", token))
		if kind != protocol.KindLogout {
			s.reply(from, kind, protocol.CodeExpired)
		}
		return
	}
	sess.addr = from
	sess.lastSeen = s.now()

	switch kind {
	case protocol.KindLogout:
		s.handleLogout(ctx, sess, packet)
	case protocol.KindPing:
		s.handlePing(sess, r)
	case protocol.KindCreateRoom:
		s.handleCreateRoom(sess, r)
	case protocol.KindJoinRoom:
		s.handleJoinRoom(sess, r)
	case protocol.KindLeaveRoom:
		s.leave(sess)
		s.reply(from, kind, protocol.CodeOK)
	case protocol.KindListRooms:
		s.handleListRooms(sess, r)
	case protocol.KindUnreliable, protocol.KindReliable:
		s.handleMessage(sess, kind, r)
	default:
		s.log.Debug("unknown kind", logger.F("kind", kind.String()))
		s.reply(from, kind, codeInvalid)
	}
}

func (s *Server) handleLogin(ctx context.Context, from *net.UDPAddr, r *codec.Reader) {
	if !codec.VerifyChecksum(r.Bytes(), 1+protocol.DeviceSize) {
		s.log.Debug("login checksum mismatch", logger.F("from", from.String()))
		s.reply(from, protocol.KindLogin, codeInvalid)
		return
	}

	var device [protocol.DeviceSize]byte
	r.ReadBytes(device[:])
	key := sessionstore.DeviceKey(device[:])

	token, bound, err := s.devices.Load(ctx, key)
	if err != nil {
		s.log.Error("device lookup failed", logger.Err(err))
		s.reply(from, protocol.KindLogin, codeInvalid)
		return
	}
	if !bound || s.sessions[token] == nil {
		if len(s.sessions) >= s.cfg.LobbyCapacity {
			s.log.Warn("lobby full", logger.F("sessions", len(s.sessions)))
			s.reply(from, protocol.KindLogin, protocol.CodeFull)
			return
		}
		token, err = s.devices.LoadOrIssue(ctx, key, s.cfg.SessionTTL, func(context.Context) (uint32, error) {
			return s.tokens.Next(), nil
		})
		if err != nil {
			s.log.Error("token issue failed", logger.Err(err))
			s.reply(from, protocol.KindLogin, codeInvalid)
			return
		}
	}

	sess := s.sessions[token]
	if sess == nil {
		sess = &session{token: token, device: device, index: protocol.NoPlayer}
		s.sessions[token] = sess
		s.log.Info("session opened", logger.F("token", token), logger.F("from", from.String()))
	}
	sess.addr = from
	sess.lastSeen = s.now()

	s.w.Reset().
		PutByte(byte(protocol.KindLogin)).
		PutInt8(int8(protocol.CodeOK)).
		PutUint32(token).
		PutInt16(s.cfg.LobbyID).
		PutInt16(sess.roomID()).
		PutInt8(sess.index).
		PutChecksum()
	s.send(from, s.w.Bytes())
}

func (s *Server) handleLogout(ctx context.Context, sess *session, packet []byte) {
	if !codec.VerifyChecksum(packet, 10) {
		s.log.Debug("logout checksum mismatch", logger.F("token", sess.token))
		return
	}
	s.log.Info("session closed", logger.F("token", sess.token))
	s.drop(ctx, sess)
}

func (s *Server) handlePing(sess *session, r *codec.Reader) {
	r.Skip(3) // room, index
	sent := r.Int64()
	if r.Err() != nil {
		s.reply(sess.addr, protocol.KindPing, codeInvalid)
		return
	}

	s.w.Reset().
		PutByte(byte(protocol.KindPing)).
		PutInt8(int8(protocol.CodeOK)).
		PutInt64(sent).
		PutInt64(s.now().UnixMilli()).
		PutByte(byte(sess.flags()))
	s.send(sess.addr, s.w.Bytes())
}

func (s *Server) handleCreateRoom(sess *session, r *codec.Reader) {
	openTimeout := r.Int16()
	var props [protocol.PropertiesSize]byte
	r.ReadBytes(props[:])
	params := protocol.MatchmakingParams{A: r.Int32(), B: r.Int32(), C: r.Int32(), D: r.Int32()}
	if r.Err() != nil {
		s.reply(sess.addr, protocol.KindCreateRoom, codeInvalid)
		return
	}

	s.leave(sess)

	id := protocol.NoRoom
	for i := 0; i < s.cfg.MaxRooms; i++ {
		if _, used := s.rooms[int16(i)]; !used {
			id = int16(i)
			break
		}
	}
	if id == protocol.NoRoom {
		s.reply(sess.addr, protocol.KindCreateRoom, protocol.CodeFull)
		return
	}

	rm := newRoom(id, s.cfg.RoomCapacity)
	rm.properties = props
	rm.params = params
	rm.openUntil = s.now().Add(time.Duration(openTimeout) * time.Second)
	s.rooms[id] = rm
	rm.add(sess)

	s.log.Info("room created", logger.F("room", id), logger.F("token", sess.token))
	s.w.Reset().
		PutByte(byte(protocol.KindCreateRoom)).
		PutInt8(int8(protocol.CodeOK)).
		PutInt16(id).
		PutInt8(sess.index).
		PutByte(byte(sess.flags()))
	s.send(sess.addr, s.w.Bytes())
}

func (s *Server) handleJoinRoom(sess *session, r *codec.Reader) {
	rng := protocol.MatchmakingRange{
		AMin: r.Int32(), AMax: r.Int32(),
		BMin: r.Int32(), BMax: r.Int32(),
		CMin: r.Int32(), CMax: r.Int32(),
		DMin: r.Int32(), DMax: r.Int32(),
	}
	if r.Err() != nil {
		s.reply(sess.addr, protocol.KindJoinRoom, codeInvalid)
		return
	}

	now := s.now()
	var target *room
	for _, rm := range s.sortedRooms(0) {
		if rm != sess.room && rm.open(now) && rng.Contains(rm.params) {
			target = rm
			break
		}
	}
	if target == nil {
		s.reply(sess.addr, protocol.KindJoinRoom, protocol.CodeMatchmaking)
		return
	}

	s.leave(sess)
	target.add(sess)

	s.log.Info("room joined", logger.F("room", target.id), logger.F("index", sess.index), logger.F("token", sess.token))
	s.w.Reset().
		PutByte(byte(protocol.KindJoinRoom)).
		PutInt8(int8(protocol.CodeOK)).
		PutInt16(target.id).
		PutInt8(sess.index).
		PutByte(byte(sess.flags())).
		PutBytes(target.properties[:], protocol.PropertiesSize)
	s.send(sess.addr, s.w.Bytes())
}

func (s *Server) handleListRooms(sess *session, r *codec.Reader) {
	start := r.Int16()
	count := int(r.Byte())
	excludeFull := r.Bool()
	if r.Err() != nil {
		s.reply(sess.addr, protocol.KindListRooms, codeInvalid)
		return
	}
	count = min(count, protocol.MaxRoomEntries)

	entries := make([]protocol.RoomEntry, 0, count)
	for _, rm := range s.sortedRooms(start) {
		if len(entries) == count {
			break
		}
		if excludeFull && rm.full() {
			continue
		}
		entries = append(entries, rm.entry())
	}

	w := s.w.Reset().
		PutByte(byte(protocol.KindListRooms)).
		PutInt8(int8(protocol.CodeOK)).
		PutByte(byte(len(entries)))
	for _, e := range entries {
		w.PutBytes(e[:], protocol.RoomEntrySize)
	}
	s.send(sess.addr, w.Bytes())
}

// handleMessage relays a player message to its recipients as
// [kind][sender][len][payload]. Messages from players outside a room are
// dropped.
func (s *Server) handleMessage(sess *session, kind protocol.Kind, r *codec.Reader) {
	r.Skip(3) // room, index

	target := protocol.TargetPlayer
	if kind == protocol.KindUnreliable {
		target = protocol.Target(r.Byte())
	}
	otherID := protocol.NoPlayer
	if target == protocol.TargetPlayer {
		otherID = r.Int8()
	}
	size := int(r.Byte())
	payload := r.Next(size)
	if r.Err() != nil || size > protocol.MaxPayload {
		s.log.Debug("malformed message", logger.F("token", sess.token), logger.F("kind", kind.String()))
		return
	}

	rm := sess.room
	if rm == nil {
		return
	}

	s.w.Reset().
		PutByte(byte(kind)).
		PutInt8(sess.index).
		PutByte(byte(size)).
		PutBytes(payload, size)
	frame := s.w.Bytes()

	switch target {
	case protocol.TargetAll, protocol.TargetOther:
		for _, p := range rm.players {
			if p == nil || (target == protocol.TargetOther && p == sess) {
				continue
			}
			s.send(p.addr, frame)
		}
	case protocol.TargetPlayer:
		if protocol.ValidPlayer(otherID) && int(otherID) < len(rm.players) {
			if p := rm.players[otherID]; p != nil {
				s.send(p.addr, frame)
			}
		}
	default:
		s.log.Debug("unknown target", logger.F("target", target.String()))
	}
}

func (s *Server) reply(to *net.UDPAddr, kind protocol.Kind, code protocol.Code) {
	s.send(to, []byte{byte(kind), byte(code)})
}

func (s *Server) send(to *net.UDPAddr, b []byte) {
	if to == nil {
		return
	}
	if _, err := s.conn.WriteToUDP(b, to); err != nil && !s.closed.Load() {
		s.log.Debug("write failed", logger.F("to", to.String()), logger.Err(err))
	}
}

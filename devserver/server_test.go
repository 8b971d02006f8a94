package devserver

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/cyberinferno/plankton/codec"
	"github.com/cyberinferno/plankton/protocol"
	"github.com/cyberinferno/plankton/transmitter/transmittertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, cfg Config, opts ...Option) *Server {
	t.Helper()
	srv, err := New(cfg, nil, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv
}

type rawClient struct {
	t     *testing.T
	conn  *net.UDPConn
	token uint32
	index int8
}

func dial(t *testing.T, srv *Server) *rawClient {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &rawClient{t: t, conn: conn, index: protocol.NoPlayer}
}

func (c *rawClient) send(b []byte) {
	c.t.Helper()
	_, err := c.conn.Write(b)
	require.NoError(c.t, err)
}

func (c *rawClient) recv() []byte {
	c.t.Helper()
	buf := make([]byte, 1024)
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := c.conn.Read(buf)
	require.NoError(c.t, err)
	return buf[:n]
}

func (c *rawClient) silent() bool {
	buf := make([]byte, 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, err := c.conn.Read(buf)
	return err != nil
}

func (c *rawClient) login(device byte) []byte {
	c.t.Helper()
	w := codec.NewWriter(protocol.PacketSize)
	w.PutByte(byte(protocol.KindLogin)).
		PutBytes(bytes.Repeat([]byte{device}, protocol.DeviceSize), protocol.DeviceSize).
		PutChecksum()
	c.send(w.Bytes())

	resp := c.recv()
	if len(resp) > 2 {
		r := codec.NewReader(resp).Skip(2)
		c.token = r.Uint32()
		r.Int16()
		r.Int16()
		c.index = r.Int8()
	}
	return resp
}

func (c *rawClient) header(kind protocol.Kind) *codec.Writer {
	return codec.NewWriter(protocol.PacketSize).
		PutByte(byte(kind)).
		PutUint32(c.token).
		PutInt16(0).
		PutInt16(protocol.NoRoom).
		PutInt8(c.index)
}

func (c *rawClient) createRoom(openTimeout int16, params protocol.MatchmakingParams) []byte {
	c.t.Helper()
	w := codec.NewWriter(protocol.PacketSize).
		PutByte(byte(protocol.KindCreateRoom)).
		PutUint32(c.token).
		PutInt16(0).
		PutInt16(openTimeout).
		PutBytes([]byte("props"), protocol.PropertiesSize).
		PutInt32(params.A).PutInt32(params.B).PutInt32(params.C).PutInt32(params.D)
	c.send(w.Bytes())
	resp := c.recv()
	if len(resp) > 2 {
		r := codec.NewReader(resp).Skip(4)
		c.index = r.Int8()
	}
	return resp
}

func (c *rawClient) joinRoom(rng protocol.MatchmakingRange) []byte {
	c.t.Helper()
	w := codec.NewWriter(protocol.PacketSize).
		PutByte(byte(protocol.KindJoinRoom)).
		PutUint32(c.token).
		PutInt16(0).
		PutInt32(rng.AMin).PutInt32(rng.AMax).
		PutInt32(rng.BMin).PutInt32(rng.BMax).
		PutInt32(rng.CMin).PutInt32(rng.CMax).
		PutInt32(rng.DMin).PutInt32(rng.DMax)
	c.send(w.Bytes())
	resp := c.recv()
	if len(resp) > 2 {
		r := codec.NewReader(resp).Skip(4)
		c.index = r.Int8()
	}
	return resp
}

func TestLogin(t *testing.T) {
	srv := startServer(t, DefaultConfig("127.0.0.1:0"), WithTokenStart(41))
	c := dial(t, srv)

	resp := c.login(0xAB)
	require.Len(t, resp, 15)
	assert.Equal(t, byte(protocol.KindLogin), resp[0])
	assert.Equal(t, byte(protocol.CodeOK), resp[1])
	assert.True(t, codec.VerifyChecksum(resp, 11))
	assert.Equal(t, uint32(42), c.token)
	assert.Equal(t, protocol.NoPlayer, c.index)

	// The same device gets the same token back.
	c.login(0xAB)
	assert.Equal(t, uint32(42), c.token)
	assert.Equal(t, 1, srv.Stats().Sessions)
}

func TestLogin_BadChecksum(t *testing.T) {
	srv := startServer(t, DefaultConfig("127.0.0.1:0"))
	c := dial(t, srv)

	packet := make([]byte, 1+protocol.DeviceSize+4)
	packet[0] = byte(protocol.KindLogin)
	c.send(packet)

	resp := c.recv()
	require.Len(t, resp, 2)
	assert.ErrorIs(t, protocol.Code(int8(resp[1])).Err(), protocol.ErrInvalid)
}

func TestLogin_LobbyFull(t *testing.T) {
	cfg := DefaultConfig("127.0.0.1:0")
	cfg.LobbyCapacity = 1
	srv := startServer(t, cfg)

	dial(t, srv).login(1)
	resp := dial(t, srv).login(2)
	assert.Equal(t, transmittertest.ErrorResponse(protocol.KindLogin, protocol.CodeFull), resp)
}

func TestUnknownToken_Expired(t *testing.T) {
	srv := startServer(t, DefaultConfig("127.0.0.1:0"))
	c := dial(t, srv)
	c.token = 999

	c.send(c.header(protocol.KindPing).PutInt64(1).Bytes())
	assert.Equal(t, transmittertest.ErrorResponse(protocol.KindPing, protocol.CodeExpired), c.recv())
}

func TestExpire(t *testing.T) {
	srv := startServer(t, DefaultConfig("127.0.0.1:0"))
	c := dial(t, srv)
	c.login(7)
	old := c.token

	require.True(t, srv.Expire(old))
	assert.False(t, srv.Expire(old))

	c.send(c.header(protocol.KindPing).PutInt64(1).Bytes())
	assert.Equal(t, transmittertest.ErrorResponse(protocol.KindPing, protocol.CodeExpired), c.recv())

	c.login(7)
	assert.NotEqual(t, old, c.token)
}

func TestPing(t *testing.T) {
	clock := transmittertest.NewClock()
	srv := startServer(t, DefaultConfig("127.0.0.1:0"), WithClock(clock.Now))
	c := dial(t, srv)
	c.login(1)

	c.send(c.header(protocol.KindPing).PutInt64(123).Bytes())
	r := codec.NewReader(c.recv()).Skip(2)
	assert.Equal(t, int64(123), r.Int64())
	assert.Equal(t, clock.Now().UnixMilli(), r.Int64())
	assert.Equal(t, byte(0), r.Byte())
	require.NoError(t, r.Err())
}

func TestRooms_CreateJoinLeave(t *testing.T) {
	srv := startServer(t, DefaultConfig("127.0.0.1:0"))
	host, guest := dial(t, srv), dial(t, srv)
	host.login(1)
	guest.login(2)

	params := protocol.MatchmakingParams{A: 5, B: 1}
	resp := host.createRoom(60, params)
	r := codec.NewReader(resp).Skip(2)
	assert.Equal(t, int16(0), r.Int16())
	assert.Equal(t, int8(0), r.Int8())
	assert.Equal(t, protocol.FlagMaster, protocol.Flags(r.Byte()))

	resp = guest.joinRoom(protocol.MatchmakingRange{AMin: 10, AMax: 20, BMax: 5})
	assert.Equal(t, transmittertest.ErrorResponse(protocol.KindJoinRoom, protocol.CodeMatchmaking), resp)

	resp = guest.joinRoom(protocol.MatchmakingRange{AMin: 0, AMax: 10, BMax: 5})
	r = codec.NewReader(resp).Skip(2)
	assert.Equal(t, int16(0), r.Int16())
	assert.Equal(t, int8(1), r.Int8())
	assert.Equal(t, protocol.Flags(0), protocol.Flags(r.Byte()))
	props := r.Next(protocol.PropertiesSize)
	assert.Equal(t, []byte("props"), props[:5])

	assert.Equal(t, Stats{Sessions: 2, Rooms: 1, Players: 2}, srv.Stats())

	// The master leaves and the role moves to the remaining player.
	host.send(host.header(protocol.KindLeaveRoom).Bytes())
	assert.Equal(t, []byte{byte(protocol.KindLeaveRoom), 0}, host.recv())

	rooms := srv.Rooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, int8(1), rooms[0].Master)
	assert.Equal(t, 1, rooms[0].Players)

	guest.send(guest.header(protocol.KindLeaveRoom).Bytes())
	guest.recv()
	assert.Empty(t, srv.Rooms())
}

func TestRooms_ClosedWindowIsNotJoinable(t *testing.T) {
	clock := transmittertest.NewClock()
	srv := startServer(t, DefaultConfig("127.0.0.1:0"), WithClock(clock.Now))
	host, guest := dial(t, srv), dial(t, srv)
	host.login(1)
	guest.login(2)

	host.createRoom(10, protocol.MatchmakingParams{})
	clock.Advance(10 * time.Second)

	resp := guest.joinRoom(protocol.MatchmakingRange{})
	assert.Equal(t, transmittertest.ErrorResponse(protocol.KindJoinRoom, protocol.CodeMatchmaking), resp)
}

func TestRooms_LimitReached(t *testing.T) {
	cfg := DefaultConfig("127.0.0.1:0")
	cfg.MaxRooms = 1
	srv := startServer(t, cfg)
	a, b := dial(t, srv), dial(t, srv)
	a.login(1)
	b.login(2)

	a.createRoom(10, protocol.MatchmakingParams{})
	resp := b.createRoom(10, protocol.MatchmakingParams{})
	assert.Equal(t, transmittertest.ErrorResponse(protocol.KindCreateRoom, protocol.CodeFull), resp)
}

func TestListRooms(t *testing.T) {
	cfg := DefaultConfig("127.0.0.1:0")
	cfg.RoomCapacity = 1
	srv := startServer(t, cfg)
	a, b, c := dial(t, srv), dial(t, srv), dial(t, srv)
	a.login(1)
	b.login(2)
	c.login(3)
	a.createRoom(10, protocol.MatchmakingParams{})
	b.createRoom(10, protocol.MatchmakingParams{})

	list := func(start int16, count uint8, excludeFull bool) []protocol.RoomEntry {
		w := codec.NewWriter(protocol.PacketSize).
			PutByte(byte(protocol.KindListRooms)).
			PutUint32(c.token).
			PutInt16(0).
			PutInt16(start).
			PutByte(count).
			PutBool(excludeFull)
		c.send(w.Bytes())
		r := codec.NewReader(c.recv()).Skip(2)
		n := int(r.Byte())
		out := make([]protocol.RoomEntry, n)
		for i := range out {
			r.ReadBytes(out[i][:])
		}
		require.NoError(t, r.Err())
		return out
	}

	rooms := list(0, 10, false)
	require.Len(t, rooms, 2)
	assert.Equal(t, int16(0), rooms[0].RoomID())
	assert.Equal(t, int16(1), rooms[1].RoomID())
	assert.True(t, rooms[0].Full())

	assert.Len(t, list(1, 10, false), 1)
	assert.Len(t, list(0, 1, false), 1)
	assert.Empty(t, list(0, 10, true))
}

func TestMessages_Relay(t *testing.T) {
	srv := startServer(t, DefaultConfig("127.0.0.1:0"))
	a, b := dial(t, srv), dial(t, srv)
	a.login(1)
	b.login(2)
	a.createRoom(10, protocol.MatchmakingParams{})
	b.joinRoom(protocol.MatchmakingRange{})

	unreliable := func(from *rawClient, target protocol.Target, payload string) {
		w := from.header(protocol.KindUnreliable).PutByte(byte(target))
		if target == protocol.TargetPlayer {
			w.PutInt8(1 - from.index)
		}
		w.PutByte(byte(len(payload))).PutBytes([]byte(payload), len(payload))
		from.send(w.Bytes())
	}

	unreliable(a, protocol.TargetOther, "hello")
	assert.Equal(t, transmittertest.Message(protocol.KindUnreliable, 0, []byte("hello")), b.recv())
	assert.True(t, a.silent())

	unreliable(b, protocol.TargetAll, "all")
	assert.Equal(t, transmittertest.Message(protocol.KindUnreliable, 1, []byte("all")), a.recv())
	assert.Equal(t, transmittertest.Message(protocol.KindUnreliable, 1, []byte("all")), b.recv())

	unreliable(b, protocol.TargetPlayer, "direct")
	assert.Equal(t, transmittertest.Message(protocol.KindUnreliable, 1, []byte("direct")), a.recv())

	w := a.header(protocol.KindReliable).PutInt8(1).PutByte(3).PutBytes([]byte("rel"), 3)
	a.send(w.Bytes())
	assert.Equal(t, transmittertest.Message(protocol.KindReliable, 0, []byte("rel")), b.recv())
}

func TestSweep(t *testing.T) {
	clock := transmittertest.NewClock()
	cfg := DefaultConfig("127.0.0.1:0")
	srv := startServer(t, cfg, WithClock(clock.Now))
	c := dial(t, srv)
	c.login(1)
	c.createRoom(10, protocol.MatchmakingParams{})

	clock.Advance(cfg.SessionTTL - time.Second)
	srv.Sweep(context.Background())
	assert.Equal(t, 1, srv.Stats().Sessions)

	clock.Advance(time.Second)
	srv.Sweep(context.Background())
	assert.Equal(t, Stats{}, srv.Stats())
}

func TestLogout(t *testing.T) {
	srv := startServer(t, DefaultConfig("127.0.0.1:0"))
	c := dial(t, srv)
	c.login(1)

	c.send(c.header(protocol.KindLogout).PutChecksum().Bytes())
	require.Eventually(t, func() bool { return srv.Stats().Sessions == 0 }, time.Second, 5*time.Millisecond)
}

func TestClose(t *testing.T) {
	srv, err := New(DefaultConfig("127.0.0.1:0"), nil)
	require.NoError(t, err)
	require.NoError(t, srv.Close())
	assert.NoError(t, srv.Close())
	assert.ErrorIs(t, srv.Run(context.Background()), ErrClosed)
}

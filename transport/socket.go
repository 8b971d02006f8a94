// Package transport owns the single UDP socket a plankton client talks to
// its server through. The local port is probed from a configured range, and
// receiving never blocks: a background reader queues datagrams that the
// caller drains with Receive.
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cyberinferno/plankton/logger"
)

// ErrNoPort is returned by Open when no port in the configured range could be
// bound. Callers treat it as fatal for the connection attempt.
var ErrNoPort = errors.New("transport: no free port in range")

// Config holds socket settings.
type Config struct {
	// Address is the server "host:port".
	Address string
	// MinPort and MaxPort bound the local port probe (inclusive). Both zero
	// lets the OS pick an ephemeral port.
	MinPort int
	MaxPort int
	// InboxSize is the number of datagrams buffered between reads.
	InboxSize int
	// ReadBufferSize is the largest datagram the reader accepts without
	// truncation.
	ReadBufferSize int
}

// DefaultConfig returns the reference settings for the given server address:
// ports 32000-35000, a 64 datagram inbox and a 1024 byte read buffer.
func DefaultConfig(address string) Config {
	return Config{
		Address:        address,
		MinPort:        32000,
		MaxPort:        35000,
		InboxSize:      64,
		ReadBufferSize: 1024,
	}
}

// Socket is a UDP endpoint bound to a local port and paired with one server
// address. Send and Receive never block and never return errors: datagram
// loss is expected.
type Socket struct {
	cfg    Config
	log    logger.Logger
	conn   *net.UDPConn
	server *net.UDPAddr
	port   int

	inbox  chan []byte
	closed atomic.Bool
	wg     sync.WaitGroup
}

// Open resolves the server address and binds the first free port in the
// configured range. The returned Socket is already receiving.
//
// Parameters:
//   - cfg: Socket settings (e.g. from DefaultConfig)
//   - log: Logger for socket diagnostics
//
// Returns:
//   - The open Socket
//   - An error wrapping ErrNoPort if no port could be bound, or the
//     resolution error for a bad address
func Open(cfg Config, log logger.Logger) (*Socket, error) {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 64
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 1024
	}

	server, err := net.ResolveUDPAddr("udp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", cfg.Address, err)
	}

	conn, port, err := bind(localIP(server), cfg.MinPort, cfg.MaxPort)
	if err != nil {
		return nil, err
	}

	s := &Socket{
		cfg:    cfg,
		log:    log.With(logger.F("component", "transport"), logger.F("port", port)),
		conn:   conn,
		server: server,
		port:   port,
		inbox:  make(chan []byte, cfg.InboxSize),
	}

	s.wg.Add(1)
	go s.readLoop()

	s.log.Debug("socket opened", logger.F("server", server.String()))
	return s, nil
}

// localIP picks the loopback interface when the server is local so test and
// development traffic never leaves the host.
func localIP(server *net.UDPAddr) net.IP {
	if server.IP != nil && server.IP.IsLoopback() {
		if server.IP.To4() != nil {
			return net.IPv4(127, 0, 0, 1)
		}
		return net.IPv6loopback
	}
	return nil
}

func bind(ip net.IP, minPort, maxPort int) (*net.UDPConn, int, error) {
	if minPort == 0 && maxPort == 0 {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip})
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrNoPort, err)
		}
		return conn, conn.LocalAddr().(*net.UDPAddr).Port, nil
	}

	var lastErr error
	for port := minPort; port <= maxPort; port++ {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: port})
		if err == nil {
			return conn, port, nil
		}
		lastErr = err
	}

	return nil, 0, fmt.Errorf("%w: %d-%d: %v", ErrNoPort, minPort, maxPort, lastErr)
}

func (s *Socket) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, s.cfg.ReadBufferSize)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if s.closed.Load() {
				return
			}
			s.log.Debug("read failed", logger.Err(err))
			continue
		}

		if !from.IP.Equal(s.server.IP) || from.Port != s.server.Port {
			s.log.Debug("dropped datagram from unknown peer", logger.F("from", from.String()))
			continue
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])

		select {
		case s.inbox <- packet:
		default:
			s.log.Warn("inbox full, datagram dropped", logger.F("size", n))
		}
	}
}

// Send transmits one datagram to the server. It reports false if the socket
// is closed or the write failed.
func (s *Socket) Send(b []byte) bool {
	if s.closed.Load() {
		return false
	}

	if _, err := s.conn.WriteToUDP(b, s.server); err != nil {
		s.log.Debug("send failed", logger.Err(err), logger.F("size", len(b)))
		return false
	}

	return true
}

// Receive copies the next queued datagram that fits dst and returns its
// length, or 0 immediately when nothing is queued. Datagrams larger than dst
// are discarded on the way.
func (s *Socket) Receive(dst []byte) int {
	for {
		select {
		case packet := <-s.inbox:
			if len(packet) > len(dst) {
				s.log.Debug("oversize datagram discarded", logger.F("size", len(packet)), logger.F("capacity", len(dst)))
				continue
			}
			return copy(dst, packet)
		default:
			return 0
		}
	}
}

// Port returns the bound local port, or 0 once the socket is closed.
func (s *Socket) Port() int {
	if s == nil || s.closed.Load() {
		return 0
	}
	return s.port
}

// LocalAddr returns the bound local address.
func (s *Socket) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Close releases the socket and waits for the reader to exit. It is safe to
// call multiple times.
func (s *Socket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := s.conn.Close()
	s.wg.Wait()
	s.log.Debug("socket closed")
	return err
}

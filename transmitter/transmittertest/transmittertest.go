// Package transmittertest provides an in-memory Conn and a manual clock for
// testing code built on the transmitter package.
package transmittertest

import (
	"bytes"
	"sync"
	"time"

	"github.com/cyberinferno/plankton/codec"
	"github.com/cyberinferno/plankton/protocol"
)

// Conn is an in-memory transmitter.Conn. Sent datagrams are recorded and
// queued inbound datagrams are handed out by Receive in order.
type Conn struct {
	mu     sync.Mutex
	sent   [][]byte
	inbox  [][]byte
	closed bool
	// Fail makes Send report failure while still recording the datagram.
	Fail bool
}

// NewConn returns an empty Conn.
func NewConn() *Conn {
	return &Conn{}
}

// Send records a copy of b.
func (c *Conn) Send(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, bytes.Clone(b))
	return !c.Fail && !c.closed
}

// Receive pops the next queued datagram that fits dst. Larger datagrams are
// discarded on the way, like transport.Socket.
func (c *Conn) Receive(dst []byte) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.inbox) > 0 {
		packet := c.inbox[0]
		c.inbox = c.inbox[1:]
		if len(packet) <= len(dst) {
			return copy(dst, packet)
		}
	}
	return 0
}

// Close marks the Conn closed.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Push queues inbound datagrams.
func (c *Conn) Push(packets ...[]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range packets {
		c.inbox = append(c.inbox, bytes.Clone(p))
	}
}

// Sent returns copies of every datagram sent so far.
func (c *Conn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// SentKinds returns the kind byte of every datagram sent so far.
func (c *Conn) SentKinds() []protocol.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	kinds := make([]protocol.Kind, 0, len(c.sent))
	for _, p := range c.sent {
		if len(p) > 0 {
			kinds = append(kinds, protocol.Kind(p[0]))
		}
	}
	return kinds
}

// CountKind returns how many sent datagrams carry kind.
func (c *Conn) CountKind(kind protocol.Kind) int {
	n := 0
	for _, k := range c.SentKinds() {
		if k == kind {
			n++
		}
	}
	return n
}

// Last returns the most recent datagram, or nil.
func (c *Conn) Last() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

// Reset forgets sent datagrams.
func (c *Conn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock set to a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Response builds a success response [kind][0][fields...]. fill may be nil.
func Response(kind protocol.Kind, fill func(w *codec.Writer)) []byte {
	w := codec.NewWriter(protocol.PacketSize)
	w.PutByte(byte(kind)).PutInt8(int8(protocol.CodeOK))
	if fill != nil {
		fill(w)
	}
	return bytes.Clone(w.Bytes())
}

// ErrorResponse builds a two-byte error frame.
func ErrorResponse(kind protocol.Kind, code protocol.Code) []byte {
	return []byte{byte(kind), byte(code)}
}

// Message builds a relayed player message [kind][sender][len][payload].
func Message(kind protocol.Kind, sender int8, payload []byte) []byte {
	w := codec.NewWriter(protocol.PacketSize)
	w.PutByte(byte(kind)).PutInt8(sender).PutByte(byte(len(payload))).PutBytes(payload, len(payload))
	return bytes.Clone(w.Bytes())
}

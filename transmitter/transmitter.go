// Package transmitter turns one-shot datagram sends into tracked requests.
//
// Each message kind owns at most one pending request. A pending request is
// transmitted immediately and retransmitted every time its retry interval
// elapses until a response with the same kind arrives. Responses are framed
// as [kind][code][payload]. Player messages (see protocol.Kind.IsMessage) are
// not responses: they are routed to the OnMessage handler.
//
// A Transmitter is driven from a single goroutine: Poll, Retransmit and every
// callback run on the caller's goroutine and no locking is performed.
package transmitter

import (
	"bytes"
	"errors"
	"time"

	"github.com/cyberinferno/plankton/codec"
	"github.com/cyberinferno/plankton/logger"
	"github.com/cyberinferno/plankton/protocol"
)

// DefaultRetry is used when a request is issued with a non-positive retry
// interval.
const DefaultRetry = time.Second

// maxDrain bounds the datagrams handled by one Poll so a flooding peer cannot
// starve the caller's loop.
const maxDrain = 64

// Conn is the datagram endpoint a Transmitter sends through. transport.Socket
// implements it.
type Conn interface {
	// Send transmits one datagram and reports whether it was handed to the
	// network.
	Send(b []byte) bool
	// Receive copies one queued datagram into dst and returns its length, or
	// 0 when nothing is queued.
	Receive(dst []byte) int
	// Close releases the endpoint.
	Close() error
}

// ResponseFunc completes a request. On success err is nil and r is positioned
// after the [kind][code] header. r aliases the receive buffer and is only
// valid for the duration of the call.
type ResponseFunc func(err error, r *codec.Reader)

// MessageFunc receives a player message. payload is only valid for the
// duration of the call.
type MessageFunc func(kind protocol.Kind, sender int8, payload []byte)

// MessageErrorFunc receives an error frame sent in reply to a player message.
type MessageErrorFunc func(kind protocol.Kind, err error)

// ExpiredFunc is invoked whenever the server reports an expired session, before
// the affected request's callback runs.
type ExpiredFunc func(kind protocol.Kind)

type request struct {
	kind       protocol.Kind
	packet     []byte
	retry      time.Duration
	deadline   time.Time
	attempts   int
	onComplete ResponseFunc
}

// Option configures a Transmitter.
type Option func(*Transmitter)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(t *Transmitter) { t.log = log }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Transmitter) { t.now = now }
}

// WithMaxAttempts caps the number of transmissions of one request. When the
// cap is reached the request completes with protocol.ErrTimeout. Zero (the
// default) retries forever.
func WithMaxAttempts(n int) Option {
	return func(t *Transmitter) { t.maxAttempts = n }
}

// Transmitter correlates requests with responses over a Conn.
type Transmitter struct {
	conn        Conn
	log         logger.Logger
	now         func() time.Time
	maxAttempts int

	pending [256]*request
	count   int
	recv    []byte

	onMessage      MessageFunc
	onMessageError MessageErrorFunc
	onExpired      ExpiredFunc
}

// New creates a Transmitter sending through conn.
func New(conn Conn, opts ...Option) *Transmitter {
	t := &Transmitter{
		conn: conn,
		log:  logger.Nop(),
		now:  time.Now,
		recv: make([]byte, protocol.PacketSize),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With(logger.F("component", "transmitter"))
	return t
}

// OnMessage registers the handler for player messages, replacing any
// previous one.
func (t *Transmitter) OnMessage(h MessageFunc) { t.onMessage = h }

// OnMessageError registers the handler for error frames answering player
// messages.
func (t *Transmitter) OnMessageError(h MessageErrorFunc) { t.onMessageError = h }

// OnExpired registers the session-expired hook.
func (t *Transmitter) OnExpired(h ExpiredFunc) { t.onExpired = h }

// SendRequest registers packet as the pending request for kind and transmits
// it. The packet is copied. If a request of the same kind is already pending,
// onComplete is invoked at once with protocol.ErrBusy and nothing is sent.
//
// Parameters:
//   - kind: The message kind; the response must carry the same kind
//   - packet: The complete datagram, kind byte included
//   - retry: Interval between retransmissions
//   - onComplete: Invoked exactly once with the outcome, unless Clear runs first
func (t *Transmitter) SendRequest(kind protocol.Kind, packet []byte, retry time.Duration, onComplete ResponseFunc) {
	if t.pending[kind] != nil {
		t.log.Warn("request already pending", logger.F("kind", kind.String()))
		onComplete(protocol.ErrBusy, nil)
		return
	}

	if retry <= 0 {
		retry = DefaultRetry
	}

	req := &request{
		kind:       kind,
		packet:     bytes.Clone(packet),
		retry:      retry,
		deadline:   t.now().Add(retry),
		attempts:   1,
		onComplete: onComplete,
	}
	t.pending[kind] = req
	t.count++

	t.conn.Send(req.packet)
	t.log.Debug("request sent", logger.F("kind", kind.String()), logger.F("size", len(packet)))
}

// Send transmits packet once without tracking.
func (t *Transmitter) Send(packet []byte) bool {
	return t.conn.Send(packet)
}

// IsPending reports whether a request of kind awaits its response.
func (t *Transmitter) IsPending(kind protocol.Kind) bool {
	return t.pending[kind] != nil
}

// Pending returns the number of outstanding requests.
func (t *Transmitter) Pending() int {
	return t.count
}

// Clear drops every pending request without invoking its callback.
func (t *Transmitter) Clear() {
	clear(t.pending[:])
	t.count = 0
}

// Close clears pending requests and closes the Conn.
func (t *Transmitter) Close() error {
	t.Clear()
	return t.conn.Close()
}

// Update drains inbound datagrams, then retransmits overdue requests.
func (t *Transmitter) Update() {
	t.Poll()
	t.Retransmit()
}

// Poll dispatches the datagrams currently queued on the Conn and returns how
// many were handled.
func (t *Transmitter) Poll() int {
	handled := 0
	for handled < maxDrain {
		n := t.conn.Receive(t.recv)
		if n == 0 {
			break
		}
		handled++
		t.dispatch(t.recv[:n])
	}
	return handled
}

// Retransmit resends every pending request whose deadline has passed and
// reschedules it.
func (t *Transmitter) Retransmit() {
	now := t.now()
	for i := range t.pending {
		req := t.pending[i]
		if req == nil || now.Before(req.deadline) {
			continue
		}

		if t.maxAttempts > 0 && req.attempts >= t.maxAttempts {
			t.release(req.kind)
			t.log.Warn("request timed out", logger.F("kind", req.kind.String()), logger.F("attempts", req.attempts))
			req.onComplete(protocol.ErrTimeout, nil)
			continue
		}

		t.conn.Send(req.packet)
		req.attempts++
		req.deadline = now.Add(req.retry)
		t.log.Debug("request retransmitted", logger.F("kind", req.kind.String()), logger.F("attempt", req.attempts))
	}
}

func (t *Transmitter) release(kind protocol.Kind) {
	t.pending[kind] = nil
	t.count--
}

func (t *Transmitter) dispatch(packet []byte) {
	kind := protocol.Kind(packet[0])
	if kind.IsMessage() {
		t.deliver(kind, packet)
		return
	}

	req := t.pending[kind]
	if req == nil {
		t.log.Debug("response without pending request", logger.F("kind", kind.String()))
		return
	}

	// The slot is released before the callback so it may issue a new request
	// of the same kind.
	t.release(kind)

	if len(packet) < 2 {
		t.log.Warn("truncated response", logger.F("kind", kind.String()))
		req.onComplete(protocol.ErrInvalid, nil)
		return
	}

	if err := protocol.Code(int8(packet[1])).Err(); err != nil {
		t.log.Debug("request failed", logger.F("kind", kind.String()), logger.Err(err))
		if errors.Is(err, protocol.ErrExpired) && t.onExpired != nil {
			t.onExpired(kind)
		}
		req.onComplete(err, nil)
		return
	}

	req.onComplete(nil, codec.NewReader(packet).Skip(2))
}

func (t *Transmitter) deliver(kind protocol.Kind, packet []byte) {
	if len(packet) == 2 {
		err := protocol.Code(int8(packet[1])).Err()
		if err == nil {
			return
		}
		if errors.Is(err, protocol.ErrExpired) && t.onExpired != nil {
			t.onExpired(kind)
		}
		if t.onMessageError != nil {
			t.onMessageError(kind, err)
		}
		return
	}

	if len(packet) < 3 {
		t.log.Warn("truncated message", logger.F("kind", kind.String()), logger.F("size", len(packet)))
		return
	}

	sender := int8(packet[1])
	size := int(packet[2])
	if 3+size > len(packet) {
		t.log.Warn("message length exceeds datagram", logger.F("kind", kind.String()), logger.F("length", size), logger.F("size", len(packet)))
		return
	}

	if t.onMessage != nil {
		t.onMessage(kind, sender, packet[3:3+size])
	}
}

package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalid reports a checksum or structural mismatch in a response.
	ErrInvalid = errors.New("invalid response")
	// ErrExpired reports that the server rejected the session token.
	ErrExpired = errors.New("session expired")
	// ErrTimeout reports that a request exhausted its retransmission ceiling.
	ErrTimeout = errors.New("request timed out")
	// ErrUnreachable reports that no local socket could be opened.
	ErrUnreachable = errors.New("server unreachable")
	// ErrBusy reports that a request of the same kind is already pending.
	ErrBusy = errors.New("request already pending")
	// ErrRoomFull reports that the lobby or room has no free slot.
	ErrRoomFull = errors.New("lobby or room is full")
	// ErrMatchmaking reports that no room matched the requested range.
	ErrMatchmaking = errors.New("no matching room")
	// ErrPayloadTooLarge reports a message payload above MaxPayload.
	ErrPayloadTooLarge = fmt.Errorf("payload exceeds %d bytes", MaxPayload)
)

// Code is the signed error byte carried by every response.
type Code int8

const (
	CodeOK          Code = 0
	CodeExpired     Code = 1
	CodeFull        Code = 2
	CodeMatchmaking Code = 3
)

// Err converts a wire code to its sentinel error. CodeOK yields nil and
// unknown codes yield an error wrapping ErrInvalid.
func (c Code) Err() error {
	switch c {
	case CodeOK:
		return nil
	case CodeExpired:
		return ErrExpired
	case CodeFull:
		return ErrRoomFull
	case CodeMatchmaking:
		return ErrMatchmaking
	default:
		return fmt.Errorf("%w: unknown error code %d", ErrInvalid, int8(c))
	}
}

// CodeOf converts an error back to its wire code. Errors without a wire
// representation map to -1.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrExpired):
		return CodeExpired
	case errors.Is(err, ErrRoomFull):
		return CodeFull
	case errors.Is(err, ErrMatchmaking):
		return CodeMatchmaking
	default:
		return -1
	}
}

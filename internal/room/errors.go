package room

import (
	"errors"
	"fmt"
)

var (
	ErrChannelDisconnected = errors.New("signal channel disconnected")
	ErrAlreadyJoined       = errors.New("session already joined")
	ErrClosed              = errors.New("session closed")
	ErrNoLocalMedia        = errors.New("no local media")
	ErrEmptyRoomID         = errors.New("empty room id")
)

// Error wraps a failed session operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UnknownPeerError reports a relay message addressed to a participant the
// session has no link for. It is logged and dropped.
type UnknownPeerError struct {
	PeerID string
	Op     string
}

func (e *UnknownPeerError) Error() string {
	return fmt.Sprintf("%s: unknown peer %q", e.Op, e.PeerID)
}

// RelayError is an error reported by the relay, such as a full room.
type RelayError struct {
	Message string
}

func (e *RelayError) Error() string {
	return "relay: " + e.Message
}

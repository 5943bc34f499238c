package peer

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrLinkClosed       = errors.New("link closed")
	ErrUnexpectedSignal = errors.New("unexpected signal")
	ErrChannelNotOpen   = errors.New("channel not open")
	ErrConnectionFailed = errors.New("connection failed")
)

// HandshakeTimeoutError is reported when no remote stream arrived in time.
// Only the affected link is closed.
type HandshakeTimeoutError struct {
	PeerID string
	After  time.Duration
}

func (e *HandshakeTimeoutError) Error() string {
	return fmt.Sprintf("peer %s: no remote stream after %s", e.PeerID, e.After)
}

// LinkError wraps a failure of one link operation.
type LinkError struct {
	Op     string
	PeerID string
	Err    error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.PeerID, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

func newLinkError(op, peerID string, err error) *LinkError {
	return &LinkError{Op: op, PeerID: peerID, Err: err}
}

// IsTimeout reports whether err is a handshake timeout.
func IsTimeout(err error) bool {
	var te *HandshakeTimeoutError
	return errors.As(err, &te)
}

package peer

import (
	"context"
	"encoding/json"

	pion "github.com/pion/webrtc/v4"
)

// RemoteTrack is a handle to media received from a peer. Track is nil for
// transports that carry no real media.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     string
	Track    *pion.TrackRemote
}

// ConnectionHandlers receive transport events. They may be called from any
// goroutine.
type ConnectionHandlers struct {
	OnTrack   func(RemoteTrack)
	OnOpen    func()
	OnMessage func(data []byte)
	OnFailed  func(err error)
}

// ConnectionOptions configure one connection.
type ConnectionOptions struct {
	PeerID   string
	Role     Role
	Tracks   []pion.TrackLocal
	Handlers ConnectionHandlers
}

// Connection is one negotiated media session with a single peer. Signals are
// complete, self-contained session descriptions; there is no trickle.
type Connection interface {
	// Offer produces the initiator's only signal.
	Offer(ctx context.Context) (json.RawMessage, error)
	// Answer consumes the initiator's offer and produces the responder's only signal.
	Answer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error)
	// Accept applies the responder's answer on the initiator side.
	Accept(answer json.RawMessage) error
	// Send writes to the room-events channel.
	Send(data []byte) error
	Close() error
}

// Transport creates connections.
type Transport interface {
	Connect(opts ConnectionOptions) (Connection, error)
}

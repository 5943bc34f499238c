package signaling

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
)

// Event is a decoded inbound relay message.
type Event interface {
	eventType() string
}

// Roster is the full membership at join time; SelfID is our own identity.
type Roster struct {
	SelfID  string
	Members []string
}

// PeerJoined carries a newcomer and its first handshake signal.
type PeerJoined struct {
	CallerID string
	Signal   json.RawMessage
}

// ReturnedSignal is a responder's reply addressed to us.
type ReturnedSignal struct {
	ID     string
	Signal json.RawMessage
}

// PeerLeft reports a departed participant.
type PeerLeft struct {
	ID string
}

// ServerError is an error reported by the relay.
type ServerError struct {
	Message string
}

func (Roster) eventType() string         { return MessageTypeRoster }
func (PeerJoined) eventType() string     { return MessageTypePeerJoined }
func (ReturnedSignal) eventType() string { return MessageTypeReturnedSignal }
func (PeerLeft) eventType() string       { return MessageTypePeerLeft }
func (ServerError) eventType() string    { return MessageTypeError }

// Channel is the bidirectional bus to the relay as seen by a room session.
// Events is closed when the underlying connection is gone.
type Channel interface {
	Send(msg *Message) error
	Events() <-chan Event
	Close()
}

// Transport is the raw message pipe a Handler decodes. *Client implements it.
type Transport interface {
	SendMessage(msg *Message) error
	Incoming() <-chan *Message
	Close()
}

// Handler routes incoming signaling messages to typed events.
type Handler struct {
	transport Transport
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

var _ Channel = (*Handler)(nil)

// NewHandler creates a new message handler.
func NewHandler(transport Transport) *Handler {
	return &Handler{
		transport: transport,
		events:    make(chan Event, 32),
		done:      make(chan struct{}),
	}
}

// Start begins listening to incoming messages and routing them. It returns
// when the transport's incoming channel is closed.
func (h *Handler) Start() {
	defer close(h.events)

	for msg := range h.transport.Incoming() {
		ev, ok := Decode(msg)
		if !ok {
			continue
		}
		select {
		case h.events <- ev:
		case <-h.done:
			return
		}
	}
}

// Decode turns a relay message into an Event. Unknown or malformed messages
// are logged and reported as not ok.
func Decode(msg *Message) (Event, bool) {
	switch msg.Type {
	case MessageTypeRoster:
		var p RosterPayload
		if err := msg.DecodePayload(&p); err != nil {
			logDecodeError(msg, err)
			return nil, false
		}
		return Roster{SelfID: p.ID, Members: p.Members}, true

	case MessageTypePeerJoined:
		var p PeerJoinedPayload
		if err := msg.DecodePayload(&p); err != nil {
			logDecodeError(msg, err)
			return nil, false
		}
		return PeerJoined{CallerID: p.CallerID, Signal: p.Signal}, true

	case MessageTypeReturnedSignal:
		var p ReturnedSignalPayload
		if err := msg.DecodePayload(&p); err != nil {
			logDecodeError(msg, err)
			return nil, false
		}
		return ReturnedSignal{ID: p.ID, Signal: p.Signal}, true

	case MessageTypePeerLeft:
		var p PeerLeftPayload
		if err := msg.DecodePayload(&p); err != nil {
			logDecodeError(msg, err)
			return nil, false
		}
		return PeerLeft{ID: p.ID}, true

	case MessageTypeError:
		var p ErrorPayload
		if err := msg.DecodePayload(&p); err != nil {
			return ServerError{Message: "Unknown error from server"}, true
		}
		return ServerError{Message: p.Error}, true

	default:
		log.Debug().Str("module", "signaling").Str("type", msg.Type).Msg("ignoring unknown message")
		return nil, false
	}
}

func logDecodeError(msg *Message, err error) {
	log.Warn().Str("module", "signaling").Str("type", msg.Type).Err(err).Msg("dropping malformed message")
}

// Send forwards msg to the relay.
func (h *Handler) Send(msg *Message) error {
	return h.transport.SendMessage(msg)
}

// Events returns the decoded event stream.
func (h *Handler) Events() <-chan Event {
	return h.events
}

// Close closes the underlying transport. Events drains and closes once the
// transport stops delivering.
func (h *Handler) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.transport.Close()
	})
}

package peer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Role is a link's side of the handshake.
type Role int

const (
	// Initiator offers first. The participant that just joined is the
	// initiator toward every member already in the room.
	Initiator Role = iota
	// Responder answers an offer from a newcomer.
	Responder
)

func (r Role) String() string {
	switch r {
	case Initiator:
		return "initiator"
	case Responder:
		return "responder"
	default:
		return "unknown"
	}
}

// State is a link's lifecycle stage.
type State int

const (
	Signaling State = iota
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Signaling:
		return "signaling"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// DefaultHandshakeTimeout bounds how long a link may stay in Signaling.
const DefaultHandshakeTimeout = 30 * time.Second

// Observer receives link notifications. Links report to their owner and
// never talk to the relay themselves.
type Observer interface {
	// LinkSignal delivers the link's single outbound signal.
	LinkSignal(peerID string, role Role, signal json.RawMessage)
	// LinkStream reports a remote track. The first one marks the link connected.
	LinkStream(peerID string, track RemoteTrack)
	LinkChannelOpen(peerID string)
	LinkMessage(peerID string, data []byte)
	// LinkClosed reports that the link closed on its own: transport failure
	// or handshake timeout.
	LinkClosed(peerID string, err error)
}

// Options configure a Link.
type Options struct {
	HandshakeTimeout time.Duration
	Tracks           []pion.TrackLocal
}

// Snapshot is a read-only view of a link.
type Snapshot struct {
	PeerID string
	Role   Role
	State  State
	Tracks []RemoteTrack
}

// Link is the connection to exactly one remote participant.
type Link struct {
	PeerID string

	role     Role
	inbound  json.RawMessage
	conn     Connection
	observer Observer
	timeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	started  bool
	signaled bool
	accepted bool
	tracks   []RemoteTrack
	timer    *time.Timer
}

// NewInitiator creates a link that will offer to peerID.
func NewInitiator(peerID string, t Transport, obs Observer, opts Options) (*Link, error) {
	return newLink(peerID, Initiator, nil, t, obs, opts)
}

// NewResponder creates a link answering the offer signal from peerID.
func NewResponder(peerID string, offer json.RawMessage, t Transport, obs Observer, opts Options) (*Link, error) {
	return newLink(peerID, Responder, offer, t, obs, opts)
}

func newLink(peerID string, role Role, inbound json.RawMessage, t Transport, obs Observer, opts Options) (*Link, error) {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}

	l := &Link{
		PeerID:   peerID,
		role:     role,
		inbound:  inbound,
		observer: obs,
		timeout:  opts.HandshakeTimeout,
		state:    Signaling,
	}
	l.ctx, l.cancel = context.WithCancel(context.Background())

	conn, err := t.Connect(ConnectionOptions{
		PeerID: peerID,
		Role:   role,
		Tracks: opts.Tracks,
		Handlers: ConnectionHandlers{
			OnTrack:   l.handleTrack,
			OnOpen:    l.handleOpen,
			OnMessage: l.handleMessage,
			OnFailed:  l.fail,
		},
	})
	if err != nil {
		l.cancel()
		return nil, newLinkError("connect", peerID, err)
	}
	l.conn = conn
	return l, nil
}

// Role returns the link's handshake role.
func (l *Link) Role() Role {
	return l.role
}

// State returns the current lifecycle stage.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Snapshot returns a copy of the link's observable state.
func (l *Link) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		PeerID: l.PeerID,
		Role:   l.role,
		State:  l.state,
		Tracks: append([]RemoteTrack(nil), l.tracks...),
	}
}

// Start begins negotiation in the background and arms the handshake timer.
// Calling it again has no effect.
func (l *Link) Start() {
	l.mu.Lock()
	if l.started || l.state == Closed {
		l.mu.Unlock()
		return
	}
	l.started = true
	l.timer = time.AfterFunc(l.timeout, l.handshakeExpired)
	l.mu.Unlock()

	go l.negotiate()
}

func (l *Link) negotiate() {
	var (
		sig json.RawMessage
		err error
	)
	switch l.role {
	case Initiator:
		sig, err = l.conn.Offer(l.ctx)
	case Responder:
		sig, err = l.conn.Answer(l.ctx, l.inbound)
	}
	if err != nil {
		if l.ctx.Err() != nil {
			return
		}
		l.fail(newLinkError("negotiate", l.PeerID, err))
		return
	}
	l.emitSignal(sig)
}

func (l *Link) emitSignal(sig json.RawMessage) {
	l.mu.Lock()
	if l.state == Closed {
		l.mu.Unlock()
		return
	}
	if l.signaled {
		l.mu.Unlock()
		log.Warn().Str("module", "peer").Str("peer", l.PeerID).Msg("dropping extra local signal")
		return
	}
	l.signaled = true
	l.mu.Unlock()

	log.Debug().Str("module", "peer").Str("peer", l.PeerID).Stringer("role", l.role).Msg("local signal ready")
	l.observer.LinkSignal(l.PeerID, l.role, sig)
}

// Signal feeds the remote side's signal. Only an initiator still signaling
// accepts one, exactly once. A signal the connection rejects closes the link
// without notifying the observer; the caller owns the removal.
func (l *Link) Signal(data json.RawMessage) error {
	l.mu.Lock()
	switch {
	case l.state == Closed:
		l.mu.Unlock()
		return newLinkError("signal", l.PeerID, ErrLinkClosed)
	case l.role != Initiator || l.accepted:
		l.mu.Unlock()
		return newLinkError("signal", l.PeerID, ErrUnexpectedSignal)
	}
	l.accepted = true
	l.mu.Unlock()

	if err := l.conn.Accept(data); err != nil {
		lerr := newLinkError("signal", l.PeerID, err)
		l.close(lerr, false)
		return lerr
	}
	return nil
}

// Send writes data on the link's room-events channel.
func (l *Link) Send(data []byte) error {
	if l.State() == Closed {
		return newLinkError("send", l.PeerID, ErrLinkClosed)
	}
	if err := l.conn.Send(data); err != nil {
		return newLinkError("send", l.PeerID, err)
	}
	return nil
}

// Close tears the link down without notifying the observer. It is safe to
// call more than once.
func (l *Link) Close() {
	l.close(nil, false)
}

func (l *Link) fail(err error) {
	l.close(err, true)
}

func (l *Link) handshakeExpired() {
	l.mu.Lock()
	expired := l.state == Signaling
	l.mu.Unlock()
	if !expired {
		return
	}
	l.fail(&HandshakeTimeoutError{PeerID: l.PeerID, After: l.timeout})
}

func (l *Link) close(err error, notify bool) {
	l.mu.Lock()
	if l.state == Closed {
		l.mu.Unlock()
		return
	}
	l.state = Closed
	if l.timer != nil {
		l.timer.Stop()
	}
	l.mu.Unlock()

	l.cancel()
	if cerr := l.conn.Close(); cerr != nil {
		log.Debug().Str("module", "peer").Str("peer", l.PeerID).Err(cerr).Msg("close connection")
	}

	if err != nil {
		log.Warn().Str("module", "peer").Str("peer", l.PeerID).Err(err).Msg("link closed")
	} else {
		log.Debug().Str("module", "peer").Str("peer", l.PeerID).Msg("link closed")
	}

	if notify {
		l.observer.LinkClosed(l.PeerID, err)
	}
}

func (l *Link) handleTrack(t RemoteTrack) {
	l.mu.Lock()
	if l.state == Closed {
		l.mu.Unlock()
		return
	}
	l.tracks = append(l.tracks, t)
	if l.state == Signaling {
		l.state = Connected
		if l.timer != nil {
			l.timer.Stop()
		}
		log.Info().Str("module", "peer").Str("peer", l.PeerID).Msg("remote stream available")
	}
	l.mu.Unlock()

	l.observer.LinkStream(l.PeerID, t)
}

func (l *Link) handleOpen() {
	if l.State() == Closed {
		return
	}
	l.observer.LinkChannelOpen(l.PeerID)
}

func (l *Link) handleMessage(data []byte) {
	if l.State() == Closed {
		return
	}
	l.observer.LinkMessage(l.PeerID, data)
}

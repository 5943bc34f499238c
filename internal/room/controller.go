package room

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BioHazard786/meshroom/internal/peer"
	"github.com/BioHazard786/meshroom/internal/signaling"
	"github.com/BioHazard786/meshroom/internal/speaking"
	"github.com/BioHazard786/meshroom/internal/version"
	"github.com/BioHazard786/meshroom/internal/webrtc"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// State is the session lifecycle stage.
type State int

const (
	Idle State = iota
	Joining
	Active
	Leaving
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Joining:
		return "joining"
	case Active:
		return "active"
	case Leaving:
		return "leaving"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

const opusSampleRate = 48000

// LocalMedia is the captured local stream. *media.LocalStream implements it.
type LocalMedia interface {
	Tracks() []pion.TrackLocal
	OnAudioPCM(fn func(pcm []int16))
	Close()
}

// Options configure a Controller.
type Options struct {
	Transport         peer.Transport
	HandshakeTimeout  time.Duration
	SpeakingThreshold float64
	SpeakingInterval  time.Duration
	// OnStream is called from the controller loop for every remote track.
	// It must not block.
	OnStream func(peerID string, track peer.RemoteTrack)
}

// Controller runs one participant's session in one room: it turns the relay's
// roster and handshake messages into exactly one peer link per remote
// participant.
type Controller struct {
	channel signaling.Channel
	opts    Options
	tracker *speaking.Tracker

	events   chan event
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once

	// owned by the loop goroutine
	members       map[string]*peer.Link
	local         LocalMedia
	localSpeaking bool
	closed        bool

	mu      sync.RWMutex
	state   State
	roomID  string
	localID string
	err     error
	view    []*peer.Link
}

// New creates an idle controller talking to the relay through channel.
func New(channel signaling.Channel, opts Options) *Controller {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = peer.DefaultHandshakeTimeout
	}
	if opts.SpeakingInterval <= 0 {
		opts.SpeakingInterval = speaking.DefaultInterval
	}
	if opts.SpeakingThreshold == 0 {
		opts.SpeakingThreshold = speaking.DefaultThreshold
	}
	return &Controller{
		channel: channel,
		opts:    opts,
		tracker: speaking.NewTracker(),
		events:  make(chan event, 64),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		members: make(map[string]*peer.Link),
	}
}

// Join announces the local participant to roomID and starts the session.
// It returns once the join request is sent; the session becomes Active when
// the roster arrives.
func (c *Controller) Join(ctx context.Context, roomID string, local LocalMedia) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "join", Err: err}
	}
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return &Error{Op: "join", Err: ErrEmptyRoomID}
	}
	if local == nil {
		return &Error{Op: "join", Err: ErrNoLocalMedia}
	}

	c.mu.Lock()
	switch c.state {
	case Idle:
	case Leaving, Closed:
		c.mu.Unlock()
		return &Error{Op: "join", Err: ErrClosed}
	default:
		c.mu.Unlock()
		return &Error{Op: "join", Err: ErrAlreadyJoined}
	}
	c.state = Joining
	c.roomID = roomID
	c.mu.Unlock()

	c.local = local
	detector := speaking.NewDetector(speaking.DetectorOptions{Threshold: c.opts.SpeakingThreshold}, func(on bool) {
		c.post(localSpeakingEvent{speaking: on})
	})
	local.OnAudioPCM(speaking.NewMeter(detector, opusSampleRate, c.opts.SpeakingInterval).Write)

	go c.loop()
	go c.pumpRelay()

	log.Info().Str("module", "room").Str("room", roomID).Msg("joining room")
	if err := c.channel.Send(signaling.JoinRoom(roomID)); err != nil {
		jerr := &Error{Op: "join", Err: err}
		c.post(failEvent{err: jerr})
		<-c.done
		return jerr
	}
	return nil
}

// Leave closes every link, releases the local stream and disconnects from
// the relay. It is safe to call more than once.
func (c *Controller) Leave() {
	c.mu.Lock()
	if c.state == Idle {
		c.state = Closed
		c.mu.Unlock()
		c.stop()
		c.tracker.Close()
		c.channel.Close()
		c.finish()
		return
	}
	c.mu.Unlock()

	c.post(leaveEvent{})
	<-c.done
}

// Done is closed once the session has ended.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Err reports why the session ended, or nil after a normal leave.
func (c *Controller) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// State returns the session stage.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// RoomID returns the joined room.
func (c *Controller) RoomID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

// LocalID returns the identity assigned by the relay, empty until the roster
// arrives.
func (c *Controller) LocalID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.localID
}

// Members returns a snapshot of every live link, ordered by peer ID.
func (c *Controller) Members() []peer.Snapshot {
	c.mu.RLock()
	links := c.view
	c.mu.RUnlock()

	out := make([]peer.Snapshot, 0, len(links))
	for _, l := range links {
		out = append(out, l.Snapshot())
	}
	return out
}

// Speaking returns the session's speaking tracker.
func (c *Controller) Speaking() *speaking.Tracker {
	return c.tracker
}

func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.quit:
	}
}

func (c *Controller) stop() {
	c.quitOnce.Do(func() { close(c.quit) })
}

func (c *Controller) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Controller) pumpRelay() {
	for ev := range c.channel.Events() {
		c.post(relayEvent{ev: ev})
	}
	c.post(channelClosedEvent{})
}

func (c *Controller) loop() {
	for {
		select {
		case ev := <-c.events:
			c.handle(ev)
			if c.closed {
				return
			}
		case <-c.quit:
			return
		}
	}
}

func (c *Controller) handle(ev event) {
	if c.closed {
		return
	}

	switch e := ev.(type) {
	case relayEvent:
		c.handleRelay(e.ev)
	case channelClosedEvent:
		log.Warn().Str("module", "room").Msg("signal channel lost")
		c.shutdown(ErrChannelDisconnected)
	case linkSignalEvent:
		c.onLinkSignal(e.link, e.role, e.signal)
	case linkStreamEvent:
		c.onLinkStream(e.link, e.track)
	case linkOpenEvent:
		c.onLinkOpen(e.link)
	case linkMessageEvent:
		c.onLinkMessage(e.link, e.data)
	case linkClosedEvent:
		c.onLinkClosed(e.link, e.err)
	case localSpeakingEvent:
		c.onLocalSpeaking(e.speaking)
	case leaveEvent:
		log.Info().Str("module", "room").Str("room", c.RoomID()).Msg("leaving room")
		c.shutdown(nil)
	case failEvent:
		c.shutdown(e.err)
	}
}

func (c *Controller) handleRelay(ev signaling.Event) {
	switch e := ev.(type) {
	case signaling.Roster:
		c.onRoster(e.SelfID, e.Members)
	case signaling.PeerJoined:
		c.onPeerJoined(e.CallerID, e.Signal)
	case signaling.ReturnedSignal:
		c.onReturnedSignal(e.ID, e.Signal)
	case signaling.PeerLeft:
		c.onPeerLeft(e.ID)
	case signaling.ServerError:
		c.onServerError(e.Message)
	}
}

// onRoster creates one initiator link per member we have no link for yet.
// A duplicate roster is absorbed.
func (c *Controller) onRoster(selfID string, memberIDs []string) {
	localID := c.LocalID()
	switch {
	case localID == "":
		localID = selfID
		c.mu.Lock()
		c.localID = selfID
		c.mu.Unlock()
		log.Info().Str("module", "room").Str("id", selfID).Int("members", len(memberIDs)).Msg("joined room")
	case selfID != "" && selfID != localID:
		log.Warn().Str("module", "room").Str("id", selfID).Str("local", localID).Msg("roster for a different identity, ignoring")
		return
	default:
		log.Debug().Str("module", "room").Msg("duplicate roster")
	}

	if localID != "" {
		c.tracker.Track(localID)
		c.tracker.Set(localID, c.localSpeaking)
	}

	for _, id := range memberIDs {
		if id == "" || id == localID {
			continue
		}
		if _, ok := c.members[id]; ok {
			log.Debug().Str("module", "room").Str("peer", id).Msg("link already exists")
			continue
		}
		c.addLink(id, peer.Initiator, nil)
	}

	c.mu.Lock()
	if c.state == Joining {
		c.state = Active
	}
	c.mu.Unlock()
	c.publish()
}

// onPeerJoined answers a newcomer unless a link to it already exists.
func (c *Controller) onPeerJoined(callerID string, signal []byte) {
	if callerID == "" || callerID == c.LocalID() {
		return
	}
	if _, ok := c.members[callerID]; ok {
		log.Debug().Str("module", "room").Str("peer", callerID).Msg("duplicate join, ignoring")
		return
	}
	c.addLink(callerID, peer.Responder, signal)
	c.publish()
}

func (c *Controller) onReturnedSignal(fromID string, signal []byte) {
	link, ok := c.members[fromID]
	if !ok {
		err := &UnknownPeerError{PeerID: fromID, Op: signaling.MessageTypeReturnedSignal}
		log.Warn().Str("module", "room").Err(err).Msg("dropping signal")
		return
	}
	if err := link.Signal(signal); err != nil {
		log.Warn().Str("module", "room").Str("peer", fromID).Err(err).Msg("signal rejected")
		if link.State() == peer.Closed {
			c.removeLink(fromID)
		}
	}
}

func (c *Controller) onPeerLeft(id string) {
	link, ok := c.members[id]
	if !ok {
		log.Debug().Str("module", "room").Str("peer", id).Msg("unknown peer left")
		return
	}
	log.Info().Str("module", "room").Str("peer", id).Msg("peer left")
	link.Close()
	c.removeLink(id)
}

func (c *Controller) onServerError(msg string) {
	err := &RelayError{Message: msg}
	log.Error().Str("module", "room").Err(err).Msg("relay error")
	if c.State() == Joining {
		c.shutdown(&Error{Op: "join", Err: err})
	}
}

func (c *Controller) addLink(id string, role peer.Role, offer []byte) {
	obs := &linkObserver{c: c}
	opts := peer.Options{
		HandshakeTimeout: c.opts.HandshakeTimeout,
		Tracks:           c.local.Tracks(),
	}

	var (
		link *peer.Link
		err  error
	)
	if role == peer.Initiator {
		link, err = peer.NewInitiator(id, c.opts.Transport, obs, opts)
	} else {
		link, err = peer.NewResponder(id, offer, c.opts.Transport, obs, opts)
	}
	if err != nil {
		log.Error().Str("module", "room").Str("peer", id).Stringer("role", role).Err(err).Msg("create link")
		return
	}
	obs.link = link

	c.members[id] = link
	c.tracker.Track(id)
	log.Debug().Str("module", "room").Str("peer", id).Stringer("role", role).Msg("link created")
	link.Start()
}

func (c *Controller) removeLink(id string) {
	delete(c.members, id)
	c.tracker.Remove(id)
	c.publish()
}

// current reports whether link is still the member link for its peer.
func (c *Controller) current(link *peer.Link) bool {
	return link != nil && c.members[link.PeerID] == link
}

func (c *Controller) onLinkSignal(link *peer.Link, role peer.Role, sig []byte) {
	if !c.current(link) {
		return
	}

	var (
		msg *signaling.Message
		err error
	)
	switch role {
	case peer.Initiator:
		msg, err = signaling.SendingSignal(link.PeerID, c.LocalID(), sig)
	case peer.Responder:
		msg, err = signaling.ReturningSignal(link.PeerID, sig)
	}
	if err == nil {
		err = c.channel.Send(msg)
	}
	if err != nil {
		log.Error().Str("module", "room").Str("peer", link.PeerID).Err(err).Msg("relay signal")
	}
}

func (c *Controller) onLinkStream(link *peer.Link, track peer.RemoteTrack) {
	if !c.current(link) {
		return
	}
	if c.opts.OnStream != nil {
		c.opts.OnStream(link.PeerID, track)
	}
	c.publish()
}

func (c *Controller) onLinkOpen(link *peer.Link) {
	if !c.current(link) {
		return
	}
	data, err := webrtc.Encode(webrtc.MessageTypeHello, webrtc.HelloPayload{
		ParticipantID: c.LocalID(),
		Client:        version.UserAgent(),
		Speaking:      c.localSpeaking,
	})
	if err != nil {
		log.Error().Str("module", "room").Err(err).Msg("encode hello")
		return
	}
	if err := link.Send(data); err != nil {
		log.Debug().Str("module", "room").Str("peer", link.PeerID).Err(err).Msg("send hello")
	}
}

func (c *Controller) onLinkMessage(link *peer.Link, data []byte) {
	if !c.current(link) {
		return
	}
	msg, err := webrtc.Decode(data)
	if err != nil {
		log.Warn().Str("module", "room").Str("peer", link.PeerID).Err(err).Msg("dropping room event")
		return
	}

	switch msg.Type {
	case webrtc.MessageTypeSpeaking:
		var p webrtc.SpeakingPayload
		if err := msg.DecodePayload(&p); err != nil {
			log.Warn().Str("module", "room").Str("peer", link.PeerID).Err(err).Msg("bad speaking payload")
			return
		}
		c.tracker.Set(link.PeerID, p.Speaking)
	case webrtc.MessageTypeHello:
		var p webrtc.HelloPayload
		if err := msg.DecodePayload(&p); err != nil {
			log.Warn().Str("module", "room").Str("peer", link.PeerID).Err(err).Msg("bad hello payload")
			return
		}
		log.Debug().Str("module", "room").Str("peer", link.PeerID).Str("client", p.Client).Msg("hello")
		c.tracker.Set(link.PeerID, p.Speaking)
	default:
		log.Debug().Str("module", "room").Str("type", msg.Type).Msg("ignoring room event")
	}
}

func (c *Controller) onLinkClosed(link *peer.Link, err error) {
	if !c.current(link) {
		return
	}
	log.Warn().Str("module", "room").Str("peer", link.PeerID).Err(err).Msg("link lost")
	c.removeLink(link.PeerID)
}

func (c *Controller) onLocalSpeaking(on bool) {
	c.localSpeaking = on
	if id := c.LocalID(); id != "" {
		c.tracker.Set(id, on)
	}

	data, err := webrtc.Encode(webrtc.MessageTypeSpeaking, webrtc.SpeakingPayload{Speaking: on})
	if err != nil {
		log.Error().Str("module", "room").Err(err).Msg("encode speaking")
		return
	}
	for id, link := range c.members {
		if err := link.Send(data); err != nil {
			log.Debug().Str("module", "room").Str("peer", id).Err(err).Msg("send speaking")
		}
	}
}

// shutdown ends the session. Nothing mutates session state afterwards.
func (c *Controller) shutdown(cause error) {
	if c.closed {
		return
	}
	c.closed = true
	c.stop()

	c.mu.Lock()
	c.state = Leaving
	c.err = cause
	c.mu.Unlock()

	for id, link := range c.members {
		link.Close()
		delete(c.members, id)
	}
	c.publish()

	c.tracker.Close()
	if c.local != nil {
		c.local.Close()
	}
	c.channel.Close()

	c.mu.Lock()
	c.state = Closed
	c.mu.Unlock()

	if cause != nil {
		log.Warn().Str("module", "room").Err(cause).Msg("session ended")
	}
	c.finish()
}

// publish refreshes the read-only member view.
func (c *Controller) publish() {
	links := make([]*peer.Link, 0, len(c.members))
	for _, l := range c.members {
		links = append(links, l)
	}
	slices.SortFunc(links, func(a, b *peer.Link) int {
		return strings.Compare(a.PeerID, b.PeerID)
	})

	c.mu.Lock()
	c.view = links
	c.mu.Unlock()
}

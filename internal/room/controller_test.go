package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BioHazard786/meshroom/internal/peer"
	"github.com/BioHazard786/meshroom/internal/peer/peertest"
	"github.com/BioHazard786/meshroom/internal/signaling"
	"github.com/BioHazard786/meshroom/internal/webrtc"
	pion "github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type fakeChannel struct {
	mu      sync.Mutex
	sent    []*signaling.Message
	sendErr error

	events    chan signaling.Event
	closeOnce sync.Once
	closed    atomic.Bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan signaling.Event, 32)}
}

func (f *fakeChannel) Send(msg *signaling.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) Events() <-chan signaling.Event { return f.events }

func (f *fakeChannel) Close() {
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		close(f.events)
	})
}

func (f *fakeChannel) deliver(ev signaling.Event) {
	f.events <- ev
}

func (f *fakeChannel) sentOfType(msgType string) []*signaling.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*signaling.Message
	for _, m := range f.sent {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

type fakeMedia struct {
	mu     sync.Mutex
	sinks  []func([]int16)
	closes atomic.Int32
}

func (m *fakeMedia) Tracks() []pion.TrackLocal { return nil }

func (m *fakeMedia) OnAudioPCM(fn func(pcm []int16)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, fn)
}

func (m *fakeMedia) Close() { m.closes.Add(1) }

// speak feeds enough loud audio to trip the detector.
func (m *fakeMedia) speak() {
	m.feed(8000)
}

// silence feeds enough quiet audio to release the detector.
func (m *fakeMedia) silence() {
	m.feed(0)
}

func (m *fakeMedia) feed(amplitude int16) {
	frame := make([]int16, 960)
	for i := range frame {
		if i%2 == 0 {
			frame[i] = amplitude
		} else {
			frame[i] = -amplitude
		}
	}
	m.mu.Lock()
	sinks := m.sinks
	m.mu.Unlock()
	// 30 frames of 20ms cover twelve 50ms detector windows
	for range 30 {
		for _, fn := range sinks {
			fn(frame)
		}
	}
}

type session struct {
	ctrl      *Controller
	channel   *fakeChannel
	transport *peertest.Transport
	media     *fakeMedia
}

func newSession(t *testing.T, opts Options) *session {
	t.Helper()
	s := &session{
		channel:   newFakeChannel(),
		transport: peertest.New(),
		media:     &fakeMedia{},
	}
	opts.Transport = s.transport
	s.ctrl = New(s.channel, opts)
	require.NoError(t, s.ctrl.Join(context.Background(), "abc123", s.media))
	t.Cleanup(s.ctrl.Leave)
	return s
}

func (s *session) memberIDs() []string {
	var ids []string
	for _, m := range s.ctrl.Members() {
		ids = append(ids, m.PeerID)
	}
	return ids
}

func (s *session) waitMembers(t *testing.T, ids ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		got := s.memberIDs()
		if len(got) != len(ids) {
			return false
		}
		for i := range ids {
			if got[i] != ids[i] {
				return false
			}
		}
		return true
	}, waitFor, tick, "members never became %v (have %v)", ids, s.memberIDs())
}

func (s *session) waitSent(t *testing.T, msgType string, n int) []*signaling.Message {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(s.channel.sentOfType(msgType)) >= n
	}, waitFor, tick, "expected %d %s messages", n, msgType)
	return s.channel.sentOfType(msgType)
}

func (s *session) waitState(t *testing.T, id string, want peer.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, m := range s.ctrl.Members() {
			if m.PeerID == id {
				return m.State == want
			}
		}
		return false
	}, waitFor, tick, "link %s never reached %s", id, want)
}

func decode[T any](t *testing.T, msg *signaling.Message) T {
	t.Helper()
	var p T
	require.NoError(t, msg.DecodePayload(&p))
	return p
}

func TestJoinSendsJoinRoom(t *testing.T) {
	s := newSession(t, Options{})

	msgs := s.waitSent(t, signaling.MessageTypeJoinRoom, 1)
	assert.Equal(t, "abc123", msgs[0].RoomID)
	assert.Equal(t, Joining, s.ctrl.State())
	assert.Equal(t, "abc123", s.ctrl.RoomID())
}

func TestJoinValidation(t *testing.T) {
	ctrl := New(newFakeChannel(), Options{Transport: peertest.New()})

	err := ctrl.Join(context.Background(), "  ", &fakeMedia{})
	assert.ErrorIs(t, err, ErrEmptyRoomID)

	err = ctrl.Join(context.Background(), "abc123", nil)
	assert.ErrorIs(t, err, ErrNoLocalMedia)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = ctrl.Join(ctx, "abc123", &fakeMedia{})
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, ctrl.Join(context.Background(), "abc123", &fakeMedia{}))
	err = ctrl.Join(context.Background(), "abc123", &fakeMedia{})
	assert.ErrorIs(t, err, ErrAlreadyJoined)

	ctrl.Leave()
	err = ctrl.Join(context.Background(), "abc123", &fakeMedia{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestJoinSendFailure(t *testing.T) {
	ch := newFakeChannel()
	ch.sendErr = errors.New("socket gone")
	local := &fakeMedia{}
	ctrl := New(ch, Options{Transport: peertest.New()})

	err := ctrl.Join(context.Background(), "abc123", local)

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "join", rerr.Op)
	assert.Equal(t, Closed, ctrl.State())
	assert.Equal(t, int32(1), local.closes.Load())

	assert.Equal(t, err, ctrl.Err())
	assert.ErrorIs(t, ctrl.Err(), ch.sendErr)
}

func TestTwoPartyHandshake(t *testing.T) {
	a := newSession(t, Options{})
	b := newSession(t, Options{})

	// A joins first and sees an empty room
	a.channel.deliver(signaling.Roster{SelfID: "A"})
	require.Eventually(t, func() bool { return a.ctrl.State() == Active }, waitFor, tick)
	assert.Empty(t, a.ctrl.Members())
	assert.Equal(t, "A", a.ctrl.LocalID())

	// B joins second and initiates toward A
	b.channel.deliver(signaling.Roster{SelfID: "B", Members: []string{"A"}})
	b.waitMembers(t, "A")

	sending := b.waitSent(t, signaling.MessageTypeSendingSignal, 1)
	require.Len(t, sending, 1)
	s1 := decode[signaling.SendingSignalPayload](t, sending[0])
	assert.Equal(t, "A", s1.TargetID)
	assert.Equal(t, "B", s1.CallerID)
	assert.Equal(t, peer.Initiator, b.ctrl.Members()[0].Role)

	// the relay forwards S1 to A
	a.channel.deliver(signaling.PeerJoined{CallerID: s1.CallerID, Signal: s1.Signal})
	a.waitMembers(t, "B")

	returning := a.waitSent(t, signaling.MessageTypeReturningSignal, 1)
	s2 := decode[signaling.ReturningSignalPayload](t, returning[0])
	assert.Equal(t, "B", s2.CallerID)
	assert.JSONEq(t, string(s1.Signal), string(a.transport.Last("B").Offered()))
	assert.Equal(t, peer.Responder, a.ctrl.Members()[0].Role)

	// the relay forwards S2 back to B
	b.channel.deliver(signaling.ReturnedSignal{ID: "A", Signal: s2.Signal})
	require.Eventually(t, func() bool {
		return len(b.transport.Last("A").Accepted()) > 0
	}, waitFor, tick)
	assert.JSONEq(t, string(s2.Signal), string(b.transport.Last("A").Accepted()))

	// media flows both ways
	b.transport.Last("A").DeliverTrack("audio")
	a.transport.Last("B").DeliverTrack("audio")
	a.waitState(t, "B", peer.Connected)
	b.waitState(t, "A", peer.Connected)

	assert.Equal(t, []string{"B"}, a.memberIDs())
	assert.Equal(t, []string{"A"}, b.memberIDs())
	assert.Equal(t, 1, a.transport.Count())
	assert.Equal(t, 1, b.transport.Count())
}

func TestLateJoinerLeavesExistingLinksUntouched(t *testing.T) {
	a := newSession(t, Options{})
	a.channel.deliver(signaling.Roster{SelfID: "A"})
	a.channel.deliver(signaling.PeerJoined{CallerID: "B", Signal: json.RawMessage(`{"type":"offer"}`)})
	a.waitMembers(t, "B")
	a.transport.Last("B").DeliverTrack("audio")
	a.waitState(t, "B", peer.Connected)
	linkToB := a.transport.Last("B")

	c := newSession(t, Options{})
	c.channel.deliver(signaling.Roster{SelfID: "C", Members: []string{"A", "B"}})
	c.waitMembers(t, "A", "B")

	sending := c.waitSent(t, signaling.MessageTypeSendingSignal, 2)
	targets := map[string]bool{}
	for _, m := range sending {
		p := decode[signaling.SendingSignalPayload](t, m)
		assert.Equal(t, "C", p.CallerID)
		targets[p.TargetID] = true
	}
	assert.Equal(t, map[string]bool{"A": true, "B": true}, targets)

	a.channel.deliver(signaling.PeerJoined{CallerID: "C", Signal: json.RawMessage(`{"type":"offer"}`)})
	a.waitMembers(t, "B", "C")

	assert.Len(t, a.transport.Conns("B"), 1)
	assert.Same(t, linkToB, a.transport.Last("B"))
	assert.False(t, linkToB.Closed())
	a.waitState(t, "B", peer.Connected)
}

func TestRosterOfSizeKConnectsAll(t *testing.T) {
	s := newSession(t, Options{})
	ids := []string{"p1", "p2", "p3", "p4", "p5"}

	s.channel.deliver(signaling.Roster{SelfID: "me", Members: ids})
	s.waitMembers(t, ids...)
	s.waitSent(t, signaling.MessageTypeSendingSignal, len(ids))

	for _, id := range ids {
		s.channel.deliver(signaling.ReturnedSignal{ID: id, Signal: json.RawMessage(`{"type":"answer"}`)})
	}
	for _, id := range ids {
		require.Eventually(t, func() bool {
			return len(s.transport.Last(id).Accepted()) > 0
		}, waitFor, tick)
		s.transport.Last(id).DeliverTrack("audio")
	}
	for _, id := range ids {
		s.waitState(t, id, peer.Connected)
	}
	assert.Len(t, s.ctrl.Members(), len(ids))
	assert.Equal(t, Active, s.ctrl.State())
}

func TestDuplicateRosterIsIdempotent(t *testing.T) {
	s := newSession(t, Options{})

	s.channel.deliver(signaling.Roster{SelfID: "me", Members: []string{"A", "B"}})
	s.channel.deliver(signaling.Roster{SelfID: "me", Members: []string{"A", "B"}})
	s.channel.deliver(signaling.Roster{SelfID: "me", Members: []string{"me", "A"}})
	s.waitMembers(t, "A", "B")

	s.waitSent(t, signaling.MessageTypeSendingSignal, 2)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, s.transport.Count())
	assert.Len(t, s.channel.sentOfType(signaling.MessageTypeSendingSignal), 2)
}

func TestDuplicatePeerJoinedIsIdempotent(t *testing.T) {
	s := newSession(t, Options{})
	s.channel.deliver(signaling.Roster{SelfID: "A"})

	offer := json.RawMessage(`{"type":"offer","sdp":"x"}`)
	s.channel.deliver(signaling.PeerJoined{CallerID: "B", Signal: offer})
	s.channel.deliver(signaling.PeerJoined{CallerID: "B", Signal: offer})
	s.waitMembers(t, "B")
	s.waitSent(t, signaling.MessageTypeReturningSignal, 1)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, s.transport.Conns("B"), 1)
	assert.Len(t, s.channel.sentOfType(signaling.MessageTypeReturningSignal), 1)
}

func TestOrderIndependence(t *testing.T) {
	roster := signaling.Roster{SelfID: "me", Members: []string{"A", "B"}}
	joinC := signaling.PeerJoined{CallerID: "C", Signal: json.RawMessage(`{"type":"offer"}`)}
	joinD := signaling.PeerJoined{CallerID: "D", Signal: json.RawMessage(`{"type":"offer"}`)}

	orders := [][]signaling.Event{
		{roster, joinC, joinD},
		{joinC, roster, joinD},
		{joinC, joinD, roster},
	}

	for _, order := range orders {
		s := newSession(t, Options{})
		for _, ev := range order {
			s.channel.deliver(ev)
		}
		s.waitMembers(t, "A", "B", "C", "D")

		roles := map[string]peer.Role{}
		for _, m := range s.ctrl.Members() {
			roles[m.PeerID] = m.Role
		}
		assert.Equal(t, map[string]peer.Role{
			"A": peer.Initiator,
			"B": peer.Initiator,
			"C": peer.Responder,
			"D": peer.Responder,
		}, roles)
	}
}

func TestRosterAfterPeerJoinedKeepsResponder(t *testing.T) {
	s := newSession(t, Options{})

	s.channel.deliver(signaling.PeerJoined{CallerID: "A", Signal: json.RawMessage(`{"type":"offer"}`)})
	s.waitMembers(t, "A")
	s.channel.deliver(signaling.Roster{SelfID: "me", Members: []string{"A"}})
	require.Eventually(t, func() bool { return s.ctrl.State() == Active }, waitFor, tick)

	assert.Len(t, s.transport.Conns("A"), 1)
	assert.Equal(t, peer.Responder, s.ctrl.Members()[0].Role)
}

func TestUnknownReturnedSignalIsDropped(t *testing.T) {
	s := newSession(t, Options{})
	s.channel.deliver(signaling.Roster{SelfID: "me", Members: []string{"A"}})
	s.waitMembers(t, "A")

	s.channel.deliver(signaling.ReturnedSignal{ID: "ghost", Signal: json.RawMessage(`{"type":"answer"}`)})
	s.channel.deliver(signaling.ReturnedSignal{ID: "A", Signal: json.RawMessage(`{"type":"answer"}`)})

	require.Eventually(t, func() bool {
		return len(s.transport.Last("A").Accepted()) > 0
	}, waitFor, tick)
	assert.Equal(t, []string{"A"}, s.memberIDs())
	assert.Equal(t, Active, s.ctrl.State())
	assert.Nil(t, s.transport.Last("ghost"))
}

func TestRejectedAnswerRemovesLink(t *testing.T) {
	s := newSession(t, Options{})
	s.transport.AcceptErr = errors.New("malformed answer")
	s.channel.deliver(signaling.Roster{SelfID: "me", Members: []string{"A", "B"}})
	s.waitMembers(t, "A", "B")
	s.waitSent(t, signaling.MessageTypeSendingSignal, 2)

	// keep the event queue busy while the answer is rejected
	stop := make(chan struct{})
	var flooding sync.WaitGroup
	flooding.Add(1)
	go func() {
		defer flooding.Done()
		conn := s.transport.Last("B")
		for {
			select {
			case <-stop:
				return
			default:
				conn.DeliverMessage([]byte("not json"))
			}
		}
	}()

	s.channel.deliver(signaling.ReturnedSignal{ID: "A", Signal: json.RawMessage(`{"type":"answer","sdp":"broken"}`)})
	s.waitMembers(t, "B")
	assert.True(t, s.transport.Last("A").Closed())
	assert.Equal(t, Active, s.ctrl.State())

	left := make(chan struct{})
	go func() {
		s.ctrl.Leave()
		close(left)
	}()
	select {
	case <-left:
	case <-time.After(waitFor):
		t.Fatal("leave did not return")
	}
	close(stop)
	flooding.Wait()
	assert.NoError(t, s.ctrl.Err())
}

func TestPeerLeftRemovesLink(t *testing.T) {
	s := newSession(t, Options{})
	s.channel.deliver(signaling.Roster{SelfID: "me", Members: []string{"A", "B"}})
	s.waitMembers(t, "A", "B")

	conn := s.transport.Last("A")
	conn.DeliverMessage(mustEncode(t, webrtc.MessageTypeSpeaking, webrtc.SpeakingPayload{Speaking: true}))
	require.Eventually(t, func() bool {
		on, _ := s.ctrl.Speaking().Get("A")
		return on
	}, waitFor, tick)

	s.channel.deliver(signaling.PeerLeft{ID: "A"})
	s.waitMembers(t, "B")

	assert.True(t, conn.Closed())
	_, tracked := s.ctrl.Speaking().Get("A")
	assert.False(t, tracked)

	// a later join from the same participant builds a fresh link
	s.channel.deliver(signaling.PeerJoined{CallerID: "A", Signal: json.RawMessage(`{"type":"offer"}`)})
	s.waitMembers(t, "A", "B")
	assert.Len(t, s.transport.Conns("A"), 2)
}

func TestHandshakeTimeoutClosesOnlyThatLink(t *testing.T) {
	s := newSession(t, Options{HandshakeTimeout: 100 * time.Millisecond})
	s.channel.deliver(signaling.Roster{SelfID: "me", Members: []string{"A", "B"}})
	s.waitMembers(t, "A", "B")

	s.transport.Last("A").DeliverTrack("audio")
	s.waitState(t, "A", peer.Connected)

	s.waitMembers(t, "A")
	assert.True(t, s.transport.Last("B").Closed())
	assert.False(t, s.transport.Last("A").Closed())
	assert.Equal(t, Active, s.ctrl.State())
}

func TestLinkFailureDoesNotAffectOthers(t *testing.T) {
	s := newSession(t, Options{})
	s.channel.deliver(signaling.Roster{SelfID: "me", Members: []string{"A", "B"}})
	s.waitMembers(t, "A", "B")

	s.transport.Last("B").Fail(peer.ErrConnectionFailed)
	s.waitMembers(t, "A")

	assert.False(t, s.transport.Last("A").Closed())
	assert.Nil(t, s.ctrl.Err())
}

func TestRemoteStreamNotification(t *testing.T) {
	var (
		mu     sync.Mutex
		tracks []string
	)
	s := newSession(t, Options{OnStream: func(peerID string, track peer.RemoteTrack) {
		mu.Lock()
		defer mu.Unlock()
		tracks = append(tracks, peerID+"/"+track.Kind)
	}})
	s.channel.deliver(signaling.Roster{SelfID: "me", Members: []string{"A"}})
	s.waitMembers(t, "A")

	s.transport.Last("A").DeliverTrack("audio")
	s.transport.Last("A").DeliverTrack("video")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(tracks) == 2
	}, waitFor, tick)
	assert.Equal(t, []string{"A/audio", "A/video"}, tracks)
}

func TestLocalSpeakingIsTrackedAndBroadcast(t *testing.T) {
	s := newSession(t, Options{})
	s.channel.deliver(signaling.Roster{SelfID: "me", Members: []string{"A"}})
	s.waitMembers(t, "A")

	s.media.speak()
	require.Eventually(t, func() bool {
		on, _ := s.ctrl.Speaking().Get("me")
		return on
	}, waitFor, tick)

	require.Eventually(t, func() bool {
		return hasSpeaking(t, s.transport.Last("A").Sent(), true)
	}, waitFor, tick)

	s.media.silence()
	require.Eventually(t, func() bool {
		on, ok := s.ctrl.Speaking().Get("me")
		return ok && !on
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		return hasSpeaking(t, s.transport.Last("A").Sent(), false)
	}, waitFor, tick)
}

func TestHelloOnChannelOpen(t *testing.T) {
	s := newSession(t, Options{})
	s.channel.deliver(signaling.Roster{SelfID: "me", Members: []string{"A"}})
	s.waitMembers(t, "A")

	conn := s.transport.Last("A")
	conn.DeliverOpen()

	require.Eventually(t, func() bool { return len(conn.Sent()) == 1 }, waitFor, tick)
	msg, err := webrtc.Decode(conn.Sent()[0])
	require.NoError(t, err)
	assert.Equal(t, webrtc.MessageTypeHello, msg.Type)

	var hello webrtc.HelloPayload
	require.NoError(t, msg.DecodePayload(&hello))
	assert.Equal(t, "me", hello.ParticipantID)
	assert.False(t, hello.Speaking)

	// a peer's hello seeds its speaking entry
	conn.DeliverMessage(mustEncode(t, webrtc.MessageTypeHello, webrtc.HelloPayload{ParticipantID: "A", Speaking: true}))
	require.Eventually(t, func() bool {
		on, _ := s.ctrl.Speaking().Get("A")
		return on
	}, waitFor, tick)
}

func TestGarbageRoomEventIgnored(t *testing.T) {
	s := newSession(t, Options{})
	s.channel.deliver(signaling.Roster{SelfID: "me", Members: []string{"A"}})
	s.waitMembers(t, "A")

	s.transport.Last("A").DeliverMessage([]byte{0xc1, 0xff})
	s.transport.Last("A").DeliverMessage(mustEncode(t, webrtc.MessageTypeSpeaking, webrtc.SpeakingPayload{Speaking: true}))

	require.Eventually(t, func() bool {
		on, _ := s.ctrl.Speaking().Get("A")
		return on
	}, waitFor, tick)
}

func TestLeaveTearsDown(t *testing.T) {
	s := newSession(t, Options{})
	s.channel.deliver(signaling.Roster{SelfID: "me", Members: []string{"A", "B"}})
	s.waitMembers(t, "A", "B")

	updates, cancel := s.ctrl.Speaking().Subscribe()
	defer cancel()

	s.ctrl.Leave()
	s.ctrl.Leave()

	select {
	case <-s.ctrl.Done():
	default:
		t.Fatal("done not closed after leave")
	}
	assert.Equal(t, Closed, s.ctrl.State())
	assert.NoError(t, s.ctrl.Err())
	assert.Empty(t, s.ctrl.Members())
	assert.True(t, s.transport.Last("A").Closed())
	assert.True(t, s.transport.Last("B").Closed())
	assert.True(t, s.channel.closed.Load())
	assert.Equal(t, int32(1), s.media.closes.Load())

	// subscriber channel is closed with the tracker
	require.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-updates:
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, waitFor, tick)

	// late callbacks must not mutate a closed session
	s.transport.Last("A").DeliverTrack("audio")
	s.transport.Last("A").DeliverMessage(mustEncode(t, webrtc.MessageTypeSpeaking, webrtc.SpeakingPayload{Speaking: true}))
	s.media.speak()
	assert.Empty(t, s.ctrl.Members())
	_, tracked := s.ctrl.Speaking().Get("A")
	assert.False(t, tracked)
}

func TestLeaveBeforeJoin(t *testing.T) {
	ch := newFakeChannel()
	ctrl := New(ch, Options{Transport: peertest.New()})

	ctrl.Leave()

	<-ctrl.Done()
	assert.Equal(t, Closed, ctrl.State())
	assert.True(t, ch.closed.Load())
}

func TestChannelDisconnectEndsSession(t *testing.T) {
	s := newSession(t, Options{})
	s.channel.deliver(signaling.Roster{SelfID: "me", Members: []string{"A"}})
	s.waitMembers(t, "A")

	s.channel.Close()

	select {
	case <-s.ctrl.Done():
	case <-time.After(waitFor):
		t.Fatal("session did not end")
	}
	assert.ErrorIs(t, s.ctrl.Err(), ErrChannelDisconnected)
	assert.Equal(t, Closed, s.ctrl.State())
	assert.True(t, s.transport.Last("A").Closed())
	assert.Equal(t, int32(1), s.media.closes.Load())
}

func TestRelayErrorWhileJoiningEndsSession(t *testing.T) {
	s := newSession(t, Options{})

	s.channel.deliver(signaling.ServerError{Message: "Room is full"})

	select {
	case <-s.ctrl.Done():
	case <-time.After(waitFor):
		t.Fatal("session did not end")
	}
	var rerr *RelayError
	require.ErrorAs(t, s.ctrl.Err(), &rerr)
	assert.Equal(t, "Room is full", rerr.Message)
}

func TestRelayErrorWhileActiveIsLogged(t *testing.T) {
	s := newSession(t, Options{})
	s.channel.deliver(signaling.Roster{SelfID: "me", Members: []string{"A"}})
	s.waitMembers(t, "A")

	s.channel.deliver(signaling.ServerError{Message: "Peer not found"})
	s.channel.deliver(signaling.PeerJoined{CallerID: "B", Signal: json.RawMessage(`{"type":"offer"}`)})

	s.waitMembers(t, "A", "B")
	assert.Equal(t, Active, s.ctrl.State())
}

func TestStateStrings(t *testing.T) {
	for state, want := range map[State]string{
		Idle: "idle", Joining: "joining", Active: "active", Leaving: "leaving", Closed: "closed",
	} {
		assert.Equal(t, want, state.String())
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, `returned-signal: unknown peer "x"`, (&UnknownPeerError{PeerID: "x", Op: "returned-signal"}).Error())
	assert.Equal(t, "relay: Room is full", (&RelayError{Message: "Room is full"}).Error())
	assert.ErrorIs(t, &Error{Op: "join", Err: ErrClosed}, ErrClosed)
}

func mustEncode(t *testing.T, msgType string, payload any) []byte {
	t.Helper()
	data, err := webrtc.Encode(msgType, payload)
	require.NoError(t, err)
	return data
}

func hasSpeaking(t *testing.T, sent [][]byte, want bool) bool {
	t.Helper()
	for _, data := range sent {
		msg, err := webrtc.Decode(data)
		if err != nil || msg.Type != webrtc.MessageTypeSpeaking {
			continue
		}
		var p webrtc.SpeakingPayload
		if msg.DecodePayload(&p) == nil && p.Speaking == want {
			return true
		}
	}
	return false
}

package peer_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BioHazard786/meshroom/internal/peer"
	"github.com/BioHazard786/meshroom/internal/peer/peertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signalEvent struct {
	peerID string
	role   peer.Role
	signal json.RawMessage
}

type closedEvent struct {
	peerID string
	err    error
}

type recorder struct {
	signals chan signalEvent
	closed  chan closedEvent

	mu       sync.Mutex
	streams  []peer.RemoteTrack
	opened   int
	messages [][]byte
}

func newRecorder() *recorder {
	return &recorder{
		signals: make(chan signalEvent, 8),
		closed:  make(chan closedEvent, 8),
	}
}

func (r *recorder) LinkSignal(peerID string, role peer.Role, signal json.RawMessage) {
	r.signals <- signalEvent{peerID, role, signal}
}

func (r *recorder) LinkStream(_ string, track peer.RemoteTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams = append(r.streams, track)
}

func (r *recorder) LinkChannelOpen(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened++
}

func (r *recorder) LinkMessage(_ string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, data)
}

func (r *recorder) LinkClosed(peerID string, err error) {
	r.closed <- closedEvent{peerID, err}
}

func (r *recorder) streamCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

func waitSignal(t *testing.T, r *recorder) signalEvent {
	t.Helper()
	select {
	case ev := <-r.signals:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no signal emitted")
		return signalEvent{}
	}
}

func TestInitiatorOffers(t *testing.T) {
	tr := peertest.New()
	obs := newRecorder()

	link, err := peer.NewInitiator("bob", tr, obs, peer.Options{})
	require.NoError(t, err)
	assert.Equal(t, peer.Initiator, link.Role())
	assert.Equal(t, peer.Signaling, link.State())

	link.Start()
	link.Start()

	ev := waitSignal(t, obs)
	assert.Equal(t, "bob", ev.peerID)
	assert.Equal(t, peer.Initiator, ev.role)
	assert.JSONEq(t, string(peertest.Description("offer", "bob", 0)), string(ev.signal))

	select {
	case <-obs.signals:
		t.Fatal("initiator emitted a second signal")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 1, tr.Count())
}

func TestResponderAnswersInboundOffer(t *testing.T) {
	tr := peertest.New()
	obs := newRecorder()
	offer := json.RawMessage(`{"type":"offer","sdp":"from-alice"}`)

	link, err := peer.NewResponder("alice", offer, tr, obs, peer.Options{})
	require.NoError(t, err)
	link.Start()

	ev := waitSignal(t, obs)
	assert.Equal(t, peer.Responder, ev.role)
	assert.JSONEq(t, string(offer), string(tr.Last("alice").Offered()))
}

func TestSignalAcceptedOnceByInitiator(t *testing.T) {
	tr := peertest.New()
	obs := newRecorder()

	link, err := peer.NewInitiator("bob", tr, obs, peer.Options{})
	require.NoError(t, err)
	link.Start()
	waitSignal(t, obs)

	answer := json.RawMessage(`{"type":"answer","sdp":"from-bob"}`)
	require.NoError(t, link.Signal(answer))
	assert.JSONEq(t, string(answer), string(tr.Last("bob").Accepted()))

	err = link.Signal(answer)
	assert.ErrorIs(t, err, peer.ErrUnexpectedSignal)
}

func TestRejectedSignalClosesQuietly(t *testing.T) {
	tr := peertest.New()
	tr.AcceptErr = errors.New("malformed answer")
	obs := newRecorder()

	link, err := peer.NewInitiator("bob", tr, obs, peer.Options{})
	require.NoError(t, err)
	link.Start()
	waitSignal(t, obs)

	err = link.Signal(json.RawMessage(`{"type":"answer","sdp":"broken"}`))

	var lerr *peer.LinkError
	require.ErrorAs(t, err, &lerr)
	assert.ErrorIs(t, err, tr.AcceptErr)
	assert.Equal(t, peer.Closed, link.State())
	assert.True(t, tr.Last("bob").Closed())

	// the caller removes the link itself, so no close notification follows
	select {
	case ev := <-obs.closed:
		t.Fatalf("unexpected close notification: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestResponderRejectsSecondSignal(t *testing.T) {
	tr := peertest.New()
	obs := newRecorder()

	link, err := peer.NewResponder("alice", json.RawMessage(`{}`), tr, obs, peer.Options{})
	require.NoError(t, err)

	err = link.Signal(json.RawMessage(`{}`))
	assert.ErrorIs(t, err, peer.ErrUnexpectedSignal)
}

func TestFirstTrackConnects(t *testing.T) {
	tr := peertest.New()
	obs := newRecorder()

	link, err := peer.NewInitiator("bob", tr, obs, peer.Options{HandshakeTimeout: 100 * time.Millisecond})
	require.NoError(t, err)
	link.Start()
	waitSignal(t, obs)

	conn := tr.Last("bob")
	conn.DeliverTrack("audio")
	conn.DeliverTrack("video")

	assert.Equal(t, peer.Connected, link.State())
	assert.Equal(t, 2, obs.streamCount())

	snap := link.Snapshot()
	assert.Equal(t, "bob", snap.PeerID)
	assert.Len(t, snap.Tracks, 2)

	// the handshake timer must not fire once connected
	select {
	case ev := <-obs.closed:
		t.Fatalf("connected link closed: %v", ev.err)
	case <-time.After(250 * time.Millisecond):
	}
	assert.Equal(t, peer.Connected, link.State())
}

func TestHandshakeTimeoutClosesLink(t *testing.T) {
	tr := peertest.New()
	obs := newRecorder()

	link, err := peer.NewInitiator("bob", tr, obs, peer.Options{HandshakeTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	link.Start()

	select {
	case ev := <-obs.closed:
		assert.Equal(t, "bob", ev.peerID)
		var te *peer.HandshakeTimeoutError
		require.ErrorAs(t, ev.err, &te)
		assert.Equal(t, 50*time.Millisecond, te.After)
		assert.True(t, peer.IsTimeout(ev.err))
	case <-time.After(time.Second):
		t.Fatal("handshake timeout did not fire")
	}

	assert.Equal(t, peer.Closed, link.State())
	assert.True(t, tr.Last("bob").Closed())

	// closed is terminal
	tr.Last("bob").DeliverTrack("audio")
	assert.Equal(t, peer.Closed, link.State())
	assert.Zero(t, obs.streamCount())
}

func TestCloseIsQuietAndIdempotent(t *testing.T) {
	tr := peertest.New()
	obs := newRecorder()

	link, err := peer.NewInitiator("bob", tr, obs, peer.Options{})
	require.NoError(t, err)
	link.Start()
	waitSignal(t, obs)

	link.Close()
	link.Close()

	assert.Equal(t, peer.Closed, link.State())
	assert.True(t, tr.Last("bob").Closed())
	assert.ErrorIs(t, link.Signal(json.RawMessage(`{}`)), peer.ErrLinkClosed)
	assert.ErrorIs(t, link.Send([]byte("x")), peer.ErrLinkClosed)

	select {
	case <-obs.closed:
		t.Fatal("explicit close notified the observer")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTransportFailureNotifies(t *testing.T) {
	tr := peertest.New()
	obs := newRecorder()

	link, err := peer.NewResponder("alice", json.RawMessage(`{}`), tr, obs, peer.Options{})
	require.NoError(t, err)
	link.Start()
	waitSignal(t, obs)

	boom := errors.New("ice failed")
	tr.Last("alice").Fail(boom)

	select {
	case ev := <-obs.closed:
		assert.ErrorIs(t, ev.err, boom)
	case <-time.After(time.Second):
		t.Fatal("failure not reported")
	}
	assert.Equal(t, peer.Closed, link.State())
}

func TestConnectError(t *testing.T) {
	tr := peertest.New()
	tr.ConnectErr = errors.New("no ports")

	_, err := peer.NewInitiator("bob", tr, newRecorder(), peer.Options{})

	var lerr *peer.LinkError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "connect", lerr.Op)
	assert.Equal(t, "bob", lerr.PeerID)
}

func TestChannelEventsReachObserver(t *testing.T) {
	tr := peertest.New()
	obs := newRecorder()

	link, err := peer.NewInitiator("bob", tr, obs, peer.Options{})
	require.NoError(t, err)

	conn := tr.Last("bob")
	conn.DeliverOpen()
	conn.DeliverMessage([]byte("hi"))
	require.NoError(t, link.Send([]byte("hello")))

	obs.mu.Lock()
	assert.Equal(t, 1, obs.opened)
	assert.Equal(t, [][]byte{[]byte("hi")}, obs.messages)
	obs.mu.Unlock()
	assert.Equal(t, [][]byte{[]byte("hello")}, conn.Sent())
}

func TestRoleAndStateStrings(t *testing.T) {
	assert.Equal(t, "initiator", peer.Initiator.String())
	assert.Equal(t, "responder", peer.Responder.String())
	assert.Equal(t, "signaling", peer.Signaling.String())
	assert.Equal(t, "connected", peer.Connected.String())
	assert.Equal(t, "closed", peer.Closed.String())
}

package room

import (
	"encoding/json"

	"github.com/BioHazard786/meshroom/internal/peer"
	"github.com/BioHazard786/meshroom/internal/signaling"
)

// event is anything the controller loop processes. Each runs to completion
// before the next one starts.
type event interface{}

type relayEvent struct {
	ev signaling.Event
}

type channelClosedEvent struct{}

type linkSignalEvent struct {
	link   *peer.Link
	role   peer.Role
	signal json.RawMessage
}

type linkStreamEvent struct {
	link  *peer.Link
	track peer.RemoteTrack
}

type linkOpenEvent struct {
	link *peer.Link
}

type linkMessageEvent struct {
	link *peer.Link
	data []byte
}

type linkClosedEvent struct {
	link *peer.Link
	err  error
}

type localSpeakingEvent struct {
	speaking bool
}

type leaveEvent struct{}

// failEvent ends the session with err as its cause.
type failEvent struct {
	err error
}

// linkObserver forwards one link's notifications into the controller loop.
type linkObserver struct {
	c    *Controller
	link *peer.Link
}

func (o *linkObserver) LinkSignal(_ string, role peer.Role, signal json.RawMessage) {
	o.c.post(linkSignalEvent{link: o.link, role: role, signal: signal})
}

func (o *linkObserver) LinkStream(_ string, track peer.RemoteTrack) {
	o.c.post(linkStreamEvent{link: o.link, track: track})
}

func (o *linkObserver) LinkChannelOpen(string) {
	o.c.post(linkOpenEvent{link: o.link})
}

func (o *linkObserver) LinkMessage(_ string, data []byte) {
	o.c.post(linkMessageEvent{link: o.link, data: data})
}

func (o *linkObserver) LinkClosed(_ string, err error) {
	o.c.post(linkClosedEvent{link: o.link, err: err})
}

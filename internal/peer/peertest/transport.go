// Package peertest provides an in-memory peer.Transport for tests.
package peertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/BioHazard786/meshroom/internal/peer"
)

// Transport records every connection it creates.
type Transport struct {
	mu    sync.Mutex
	conns []*Conn

	// ConnectErr, when set, fails every Connect.
	ConnectErr error
	// AcceptErr, when set, fails every Accept.
	AcceptErr error
	// Block makes Offer and Answer wait until their context ends.
	Block bool
}

var _ peer.Transport = (*Transport)(nil)

// New returns an empty fake transport.
func New() *Transport {
	return &Transport{}
}

func (t *Transport) Connect(opts peer.ConnectionOptions) (peer.Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ConnectErr != nil {
		return nil, t.ConnectErr
	}
	c := &Conn{
		PeerID:    opts.PeerID,
		Role:      opts.Role,
		Tracks:    len(opts.Tracks),
		handlers:  opts.Handlers,
		block:     t.Block,
		acceptErr: t.AcceptErr,
		seq:       len(t.conns),
	}
	t.conns = append(t.conns, c)
	return c, nil
}

// Conns returns every connection created for peerID, oldest first.
func (t *Transport) Conns(peerID string) []*Conn {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*Conn
	for _, c := range t.conns {
		if c.PeerID == peerID {
			out = append(out, c)
		}
	}
	return out
}

// Last returns the newest connection for peerID, or nil.
func (t *Transport) Last(peerID string) *Conn {
	conns := t.Conns(peerID)
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

// Count returns the number of connections created.
func (t *Transport) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// Conn is a fake connection. Its Deliver* methods simulate remote activity.
type Conn struct {
	PeerID string
	Role   peer.Role
	Tracks int

	handlers  peer.ConnectionHandlers
	block     bool
	acceptErr error
	seq       int

	mu       sync.Mutex
	offered  json.RawMessage
	accepted json.RawMessage
	sent     [][]byte
	closed   bool
}

// Offer returns a fake offer description.
func (c *Conn) Offer(ctx context.Context) (json.RawMessage, error) {
	if c.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return description("offer", c.PeerID, c.seq), nil
}

// Answer records the offer and returns a fake answer.
func (c *Conn) Answer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error) {
	if c.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	c.mu.Lock()
	c.offered = offer
	c.mu.Unlock()
	return description("answer", c.PeerID, c.seq), nil
}

// Accept records the answer.
func (c *Conn) Accept(answer json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accepted = answer
	return c.acceptErr
}

// Send records data.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return peer.ErrChannelNotOpen
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Offered returns the offer passed to Answer.
func (c *Conn) Offered() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offered
}

// Accepted returns the answer passed to Accept.
func (c *Conn) Accepted() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accepted
}

// Sent returns everything written with Send.
func (c *Conn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// DeliverTrack simulates a remote track arriving.
func (c *Conn) DeliverTrack(kind string) {
	if c.handlers.OnTrack != nil {
		c.handlers.OnTrack(peer.RemoteTrack{
			ID:       kind,
			StreamID: "stream-" + c.PeerID,
			Kind:     kind,
		})
	}
}

// DeliverOpen simulates the room-events channel opening.
func (c *Conn) DeliverOpen() {
	if c.handlers.OnOpen != nil {
		c.handlers.OnOpen()
	}
}

// DeliverMessage simulates a room-events message from the peer.
func (c *Conn) DeliverMessage(data []byte) {
	if c.handlers.OnMessage != nil {
		c.handlers.OnMessage(data)
	}
}

// Fail simulates a transport failure.
func (c *Conn) Fail(err error) {
	if c.handlers.OnFailed != nil {
		c.handlers.OnFailed(err)
	}
}

// Description builds the fake signal a Conn produces.
func Description(kind, peerID string, seq int) json.RawMessage {
	return description(kind, peerID, seq)
}

func description(kind, peerID string, seq int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"type":%q,"sdp":"fake-%s-%d"}`, kind, peerID, seq))
}

package relay

import (
	"context"
	"strings"

	"github.com/BioHazard786/meshroom/internal/signaling"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultMaxRoomSize caps a mesh; every participant uploads to every other.
const DefaultMaxRoomSize = 8

// Relay error messages sent to clients.
const (
	errRoomFull       = "Room is full"
	errRoomIDRequired = "Room ID required"
	errAlreadyInRoom  = "Already in a room"
	errNotInRoom      = "You must join a room first"
	errPeerNotFound   = "Peer not found"
	errBadPayload     = "Malformed payload"
)

type inbound struct {
	client *Client
	msg    *signaling.Message
}

// Hub owns every room and client. All state is touched only by Run.
type Hub struct {
	rooms       map[string]*Room
	maxRoomSize int
	metrics     *Metrics

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	done       chan struct{}
}

// NewHub creates a hub. A maxRoomSize below 2 selects the default.
func NewHub(maxRoomSize int, metrics *Metrics) *Hub {
	if maxRoomSize < 2 {
		maxRoomSize = DefaultMaxRoomSize
	}
	return &Hub{
		rooms:       make(map[string]*Room),
		maxRoomSize: maxRoomSize,
		metrics:     metrics,
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		inbound:     make(chan inbound),
		done:        make(chan struct{}),
	}
}

// Run processes hub events until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			log.Debug().Str("module", "relay").Str("client", c.ID).Str("addr", c.conn.RemoteAddr().String()).Msg("client registered")

		case c := <-h.unregister:
			h.leave(c)
			close(c.send)
			log.Debug().Str("module", "relay").Str("client", c.ID).Msg("client unregistered")

		case in := <-h.inbound:
			h.route(in.client, in.msg)
		}
	}
}

func (h *Hub) route(c *Client, msg *signaling.Message) {
	switch msg.Type {
	case signaling.MessageTypeJoinRoom:
		h.join(c, msg.RoomID)
	case signaling.MessageTypeSendingSignal:
		h.forwardOffer(c, msg)
	case signaling.MessageTypeReturningSignal:
		h.forwardAnswer(c, msg)
	default:
		log.Debug().Str("module", "relay").Str("client", c.ID).Str("type", msg.Type).Msg("unknown message type")
	}
}

func (h *Hub) join(c *Client, roomID string) {
	roomID = strings.TrimSpace(roomID)
	switch {
	case roomID == "":
		h.reject(c, errRoomIDRequired)
		return
	case c.RoomID != "":
		h.reject(c, errAlreadyInRoom)
		return
	}

	room, ok := h.rooms[roomID]
	if !ok {
		room = newRoom(roomID)
	}
	if room.size() >= h.maxRoomSize {
		log.Info().Str("module", "relay").Str("room", roomID).Msg("room full")
		h.reject(c, errRoomFull)
		return
	}
	if !ok {
		h.rooms[roomID] = room
		h.metrics.rooms.Inc()
	}

	roster := room.memberIDs("")
	room.add(c)
	c.RoomID = roomID
	h.metrics.participants.Inc()

	log.Info().Str("module", "relay").Str("room", roomID).Str("client", c.ID).Int("size", room.size()).Msg("client joined")
	h.sendPayload(c, signaling.MessageTypeRoster, roomID, signaling.RosterPayload{ID: c.ID, Members: roster})
}

// forwardOffer delivers an initiator's signal to its target as peer-joined.
func (h *Hub) forwardOffer(c *Client, msg *signaling.Message) {
	var p signaling.SendingSignalPayload
	if err := msg.DecodePayload(&p); err != nil {
		h.reject(c, errBadPayload)
		return
	}
	target, ok := h.peer(c, p.TargetID)
	if !ok {
		return
	}
	h.sendPayload(target, signaling.MessageTypePeerJoined, c.RoomID, signaling.PeerJoinedPayload{
		CallerID: c.ID,
		Signal:   p.Signal,
	})
}

// forwardAnswer delivers a responder's signal back to the initiator.
func (h *Hub) forwardAnswer(c *Client, msg *signaling.Message) {
	var p signaling.ReturningSignalPayload
	if err := msg.DecodePayload(&p); err != nil {
		h.reject(c, errBadPayload)
		return
	}
	target, ok := h.peer(c, p.CallerID)
	if !ok {
		return
	}
	h.sendPayload(target, signaling.MessageTypeReturnedSignal, c.RoomID, signaling.ReturnedSignalPayload{
		ID:     c.ID,
		Signal: p.Signal,
	})
}

// peer finds id in c's room, answering c with an error when it is absent.
func (h *Hub) peer(c *Client, id string) (*Client, bool) {
	room, ok := h.rooms[c.RoomID]
	if c.RoomID == "" || !ok {
		h.reject(c, errNotInRoom)
		return nil, false
	}
	target, ok := room.members[id]
	if !ok || target == c {
		log.Debug().Str("module", "relay").Str("room", room.ID).Str("target", id).Msg("signal for unknown peer")
		h.reject(c, errPeerNotFound)
		return nil, false
	}
	return target, true
}

func (h *Hub) leave(c *Client) {
	if c.RoomID == "" {
		return
	}
	room, ok := h.rooms[c.RoomID]
	c.RoomID = ""
	if !ok {
		return
	}

	room.remove(c.ID)
	h.metrics.participants.Dec()

	if room.size() == 0 {
		delete(h.rooms, room.ID)
		h.metrics.rooms.Dec()
		log.Info().Str("module", "relay").Str("room", room.ID).Msg("room deleted")
		return
	}

	log.Info().Str("module", "relay").Str("room", room.ID).Str("client", c.ID).Msg("client left")
	for _, id := range room.order {
		h.sendPayload(room.members[id], signaling.MessageTypePeerLeft, room.ID, signaling.PeerLeftPayload{ID: c.ID})
	}
}

func (h *Hub) reject(c *Client, reason string) {
	h.metrics.rejected.WithLabelValues(reason).Inc()
	h.sendPayload(c, signaling.MessageTypeError, c.RoomID, signaling.ErrorPayload{Error: reason})
}

func (h *Hub) sendPayload(c *Client, msgType, roomID string, payload any) {
	msg, err := signaling.NewMessage(msgType, roomID, payload)
	if err != nil {
		log.Error().Str("module", "relay").Str("type", msgType).Err(err).Msg("encode message")
		return
	}

	select {
	case c.send <- msg:
		h.metrics.relayed.WithLabelValues(msgType).Inc()
	default:
		log.Warn().Str("module", "relay").Str("client", c.ID).Str("type", msgType).Msg("send buffer full, dropping message")
	}
}

func newClientID() string {
	return uuid.NewString()
}

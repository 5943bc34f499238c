package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/BioHazard786/meshroom/internal/config"
	"github.com/BioHazard786/meshroom/internal/webrtc"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// ICEConfig selects the ICE servers and candidate policy for every connection.
type ICEConfig struct {
	STUNServers []string
	TURNServers []string
	Username    string
	Credential  string
	RelayOnly   bool
	// IncludeLoopback gathers 127.0.0.1 candidates. Used for same-host meshes.
	IncludeLoopback bool
}

// ICEFromConfig builds the ICE configuration from the loaded settings.
func ICEFromConfig(cfg *config.Config) ICEConfig {
	user, pass := cfg.GetTURNCredentials()
	return ICEConfig{
		STUNServers: cfg.GetSTUNServers(),
		TURNServers: cfg.GetTURNServers(),
		Username:    user,
		Credential:  pass,
		RelayOnly:   cfg.UseRelayOnly(),
	}
}

// PionTransport creates pion peer connections.
type PionTransport struct {
	api    *pion.API
	config pion.Configuration
}

var _ Transport = (*PionTransport)(nil)

// NewPionTransport builds a transport with default codecs.
func NewPionTransport(ice ICEConfig) (*PionTransport, error) {
	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	se := pion.SettingEngine{}
	if ice.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}

	var iceServers []pion.ICEServer
	if len(ice.STUNServers) > 0 {
		iceServers = append(iceServers, pion.ICEServer{URLs: ice.STUNServers})
	}
	if len(ice.TURNServers) > 0 {
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       ice.TURNServers,
			Username:   ice.Username,
			Credential: ice.Credential,
		})
	}

	policy := pion.ICETransportPolicyAll
	if ice.RelayOnly && len(ice.TURNServers) > 0 {
		policy = pion.ICETransportPolicyRelay
	}

	return &PionTransport{
		api: pion.NewAPI(pion.WithMediaEngine(m), pion.WithSettingEngine(se)),
		config: pion.Configuration{
			ICEServers:         iceServers,
			ICETransportPolicy: policy,
		},
	}, nil
}

// Connect creates a peer connection with the local tracks attached and the
// room-events channel wired.
func (t *PionTransport) Connect(opts ConnectionOptions) (Connection, error) {
	pc, err := t.api.NewPeerConnection(t.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	c := &pionConn{peerID: opts.PeerID, pc: pc, handlers: opts.Handlers}

	for _, track := range opts.Tracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		go drainRTCP(sender)
	}

	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		if c.handlers.OnTrack == nil {
			return
		}
		c.handlers.OnTrack(RemoteTrack{
			ID:       track.ID(),
			StreamID: track.StreamID(),
			Kind:     track.Kind().String(),
			Track:    track,
		})
	})

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		log.Debug().Str("module", "peer").Str("peer", opts.PeerID).Stringer("state", state).Msg("connection state")
		if state == pion.PeerConnectionStateFailed || state == pion.PeerConnectionStateClosed {
			if c.handlers.OnFailed != nil && !c.isClosing() {
				c.handlers.OnFailed(fmt.Errorf("%w: %s", ErrConnectionFailed, state))
			}
		}
	})

	if opts.Role == Initiator {
		dc, err := pc.CreateDataChannel(webrtc.RoomEventsLabel, nil)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("create data channel: %w", err)
		}
		c.bindChannel(dc)
	} else {
		pc.OnDataChannel(func(dc *pion.DataChannel) {
			if dc.Label() != webrtc.RoomEventsLabel {
				log.Debug().Str("module", "peer").Str("label", dc.Label()).Msg("ignoring data channel")
				return
			}
			c.bindChannel(dc)
		})
	}

	return c, nil
}

func drainRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

type pionConn struct {
	peerID   string
	pc       *pion.PeerConnection
	handlers ConnectionHandlers

	mu      sync.Mutex
	dc      *pion.DataChannel
	closing bool
}

func (c *pionConn) bindChannel(dc *pion.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		log.Debug().Str("module", "peer").Str("peer", c.peerID).Msg("room-events channel open")
		if c.handlers.OnOpen != nil {
			c.handlers.OnOpen()
		}
	})
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(msg.Data)
		}
	})
}

func (c *pionConn) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *pionConn) Offer(ctx context.Context) (json.RawMessage, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	gathered := pion.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return c.localDescription(ctx, gathered)
}

func (c *pionConn) Answer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error) {
	desc, err := decodeDescription(offer, pion.SDPTypeOffer)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return nil, fmt.Errorf("set remote description: %w", err)
	}

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	gathered := pion.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	return c.localDescription(ctx, gathered)
}

// localDescription waits for ICE gathering so the description carries every
// candidate.
func (c *pionConn) localDescription(ctx context.Context, gathered <-chan struct{}) (json.RawMessage, error) {
	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return json.Marshal(c.pc.LocalDescription())
}

func (c *pionConn) Accept(answer json.RawMessage) error {
	desc, err := decodeDescription(answer, pion.SDPTypeAnswer)
	if err != nil {
		return err
	}
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (c *pionConn) Send(data []byte) error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()

	if dc == nil || dc.ReadyState() != pion.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	return dc.Send(data)
}

func (c *pionConn) Close() error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
	return c.pc.Close()
}

func decodeDescription(raw json.RawMessage, want pion.SDPType) (pion.SessionDescription, error) {
	var desc pion.SessionDescription
	if len(raw) == 0 {
		return desc, fmt.Errorf("%w: empty signal", ErrUnexpectedSignal)
	}
	if err := json.Unmarshal(raw, &desc); err != nil {
		return desc, fmt.Errorf("%w: %v", ErrUnexpectedSignal, err)
	}
	if desc.Type != want {
		return desc, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedSignal, desc.Type, want)
	}
	return desc, nil
}

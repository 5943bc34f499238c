package media

import (
	"sync"
	"sync/atomic"

	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// ReadFunc reads one packet into b.
type ReadFunc func(b []byte) (int, error)

// TrackReader adapts a remote track to a ReadFunc.
func TrackReader(t *pion.TrackRemote) ReadFunc {
	return func(b []byte) (int, error) {
		n, _, err := t.Read(b)
		return n, err
	}
}

// Sink drains a remote track so its buffers never fill, counting what
// arrives. It is the output binding for streams the terminal cannot render.
type Sink struct {
	PeerID string
	Kind   string

	packets atomic.Uint64
	bytes   atomic.Uint64
	done    chan struct{}
}

// NewSink starts draining read until it returns an error.
func NewSink(peerID, kind string, read ReadFunc) *Sink {
	s := &Sink{PeerID: peerID, Kind: kind, done: make(chan struct{})}
	go s.run(read)
	return s
}

func (s *Sink) run(read ReadFunc) {
	defer close(s.done)

	buf := make([]byte, 1500)
	for {
		n, err := read(buf)
		if err != nil {
			log.Debug().Str("module", "media").Str("peer", s.PeerID).Str("kind", s.Kind).Err(err).Msg("remote track ended")
			return
		}
		s.packets.Add(1)
		s.bytes.Add(uint64(n))
	}
}

// Packets returns the number of packets received so far.
func (s *Sink) Packets() uint64 { return s.packets.Load() }

// Bytes returns the number of payload bytes received so far.
func (s *Sink) Bytes() uint64 { return s.bytes.Load() }

// Done is closed once the track has ended.
func (s *Sink) Done() <-chan struct{} { return s.done }

// SinkSet groups the sinks of a session by participant.
type SinkSet struct {
	mu    sync.Mutex
	sinks map[string][]*Sink
}

func NewSinkSet() *SinkSet {
	return &SinkSet{sinks: make(map[string][]*Sink)}
}

// Add starts a sink for one remote track.
func (s *SinkSet) Add(peerID, kind string, read ReadFunc) *Sink {
	sink := NewSink(peerID, kind, read)
	s.mu.Lock()
	s.sinks[peerID] = append(s.sinks[peerID], sink)
	s.mu.Unlock()
	return sink
}

// Stats sums the counters of every track received from peerID.
func (s *SinkSet) Stats(peerID string) (packets, bytes uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sink := range s.sinks[peerID] {
		packets += sink.Packets()
		bytes += sink.Bytes()
	}
	return packets, bytes
}

// Totals sums the counters across all participants.
func (s *SinkSet) Totals() (packets, bytes uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, list := range s.sinks {
		for _, sink := range list {
			packets += sink.Packets()
			bytes += sink.Bytes()
		}
	}
	return packets, bytes
}

// Peers returns how many participants delivered at least one track.
func (s *SinkSet) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sinks)
}

package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"
)

var (
	ErrNothingRequested = errors.New("neither audio nor video requested")
	ErrNoVideoSource    = errors.New("no video source available")
	ErrUnsupportedCodec = errors.New("unsupported codec")
)

// AccessError reports that a requested kind of media could not be captured.
// It is fatal to joining a room and is never retried.
type AccessError struct {
	Kind string
	Err  error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("media access (%s): %v", e.Kind, e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

// VideoConstraints selects video capture. Zero width/height means any size.
type VideoConstraints struct {
	Enabled bool
	Width   int
	Height  int
}

// Constraints mirror getUserMedia-style capture constraints.
type Constraints struct {
	Audio bool
	Video VideoConstraints
}

// Sources point capture at files standing in for devices. Audio is an Ogg/Opus
// file; video an IVF file with VP8 or VP9 frames. An empty AudioFile
// captures silence.
type Sources struct {
	AudioFile string
	VideoFile string
	Loop      bool
}

// LocalStream is the captured local media shared read-only by every link of a
// session. Close releases it exactly once.
type LocalStream struct {
	ID    string
	Audio *pion.TrackLocalStaticSample
	Video *pion.TrackLocalStaticSample

	mu        sync.Mutex
	pcmSinks  []func(pcm []int16)
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// openFile opens capture files. Tests replace it to watch descriptors.
var openFile = os.Open

// source is an opened input: run pumps it until the stream closes, close
// releases it whether or not run was started.
type source struct {
	run   func()
	close func()
}

func noClose() {}

// Acquire opens the requested sources and starts feeding their tracks.
func Acquire(ctx context.Context, c Constraints, src Sources) (*LocalStream, error) {
	if !c.Audio && !c.Video.Enabled {
		return nil, &AccessError{Kind: "media", Err: ErrNothingRequested}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &LocalStream{ID: "meshroom-" + uuid.NewString()}
	pumpCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	var sources []source
	fail := func(err error) (*LocalStream, error) {
		cancel()
		for _, in := range sources {
			in.close()
		}
		return nil, err
	}

	if c.Audio {
		in, err := s.openAudio(pumpCtx, src)
		if err != nil {
			return fail(err)
		}
		sources = append(sources, in)
	}

	if c.Video.Enabled {
		in, err := s.openVideo(pumpCtx, c.Video, src)
		if err != nil {
			return fail(err)
		}
		sources = append(sources, in)
	}

	for _, in := range sources {
		s.wg.Add(1)
		go func(in source) {
			defer s.wg.Done()
			defer in.close()
			in.run()
		}(in)
	}

	log.Debug().Str("module", "media").Str("stream", s.ID).Bool("audio", s.Audio != nil).Bool("video", s.Video != nil).Msg("local stream acquired")
	return s, nil
}

func (s *LocalStream) openAudio(ctx context.Context, src Sources) (source, error) {
	track, err := pion.NewTrackLocalStaticSample(pion.RTPCodecCapability{
		MimeType:  pion.MimeTypeOpus,
		ClockRate: opusClockRate,
		Channels:  2,
	}, "audio", s.ID)
	if err != nil {
		return source{}, &AccessError{Kind: "audio", Err: err}
	}
	s.Audio = track

	if src.AudioFile == "" {
		return source{run: func() { s.pumpSilence(ctx) }, close: noClose}, nil
	}

	f, err := openFile(src.AudioFile)
	if err != nil {
		return source{}, &AccessError{Kind: "audio", Err: err}
	}
	if _, _, err := oggreader.NewWith(f); err != nil {
		f.Close()
		return source{}, &AccessError{Kind: "audio", Err: fmt.Errorf("%s: %w", src.AudioFile, err)}
	}
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return source{}, &AccessError{Kind: "audio", Err: err}
	}

	return source{
		run:   func() { s.pumpOgg(ctx, f, src.Loop) },
		close: func() { f.Close() },
	}, nil
}

func (s *LocalStream) openVideo(ctx context.Context, vc VideoConstraints, src Sources) (source, error) {
	if src.VideoFile == "" {
		return source{}, &AccessError{Kind: "video", Err: ErrNoVideoSource}
	}

	f, err := openFile(src.VideoFile)
	if err != nil {
		return source{}, &AccessError{Kind: "video", Err: err}
	}
	_, header, err := ivfreader.NewWith(f)
	if err != nil {
		f.Close()
		return source{}, &AccessError{Kind: "video", Err: fmt.Errorf("%s: %w", src.VideoFile, err)}
	}

	var mime string
	switch string(header.FourCC[:]) {
	case "VP80":
		mime = pion.MimeTypeVP8
	case "VP90":
		mime = pion.MimeTypeVP9
	default:
		f.Close()
		return source{}, &AccessError{Kind: "video", Err: fmt.Errorf("%w: %q", ErrUnsupportedCodec, header.FourCC[:])}
	}

	if vc.Width > 0 && vc.Height > 0 && (int(header.Width) != vc.Width || int(header.Height) != vc.Height) {
		log.Warn().Str("module", "media").
			Int("want_width", vc.Width).Int("want_height", vc.Height).
			Uint16("width", header.Width).Uint16("height", header.Height).
			Msg("video source size differs from constraints")
	}

	track, err := pion.NewTrackLocalStaticSample(pion.RTPCodecCapability{MimeType: mime}, "video", s.ID)
	if err != nil {
		f.Close()
		return source{}, &AccessError{Kind: "video", Err: err}
	}
	s.Video = track

	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return source{}, &AccessError{Kind: "video", Err: err}
	}

	return source{
		run:   func() { s.pumpIVF(ctx, f, src.Loop) },
		close: func() { f.Close() },
	}, nil
}

// Tracks returns the local tracks to attach to a peer connection.
func (s *LocalStream) Tracks() []pion.TrackLocal {
	var out []pion.TrackLocal
	if s.Audio != nil {
		out = append(out, s.Audio)
	}
	if s.Video != nil {
		out = append(out, s.Video)
	}
	return out
}

// OnAudioPCM registers fn to receive decoded mono 48kHz PCM of the local
// audio, one 20ms frame at a time.
func (s *LocalStream) OnAudioPCM(fn func(pcm []int16)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pcmSinks = append(s.pcmSinks, fn)
}

func (s *LocalStream) emitPCM(pcm []int16) {
	s.mu.Lock()
	sinks := s.pcmSinks
	s.mu.Unlock()
	for _, fn := range sinks {
		fn(pcm)
	}
}

func (s *LocalStream) hasPCMSinks() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pcmSinks) > 0
}

// Close stops capture. Safe to call more than once.
func (s *LocalStream) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		log.Debug().Str("module", "media").Str("stream", s.ID).Msg("local stream released")
	})
}

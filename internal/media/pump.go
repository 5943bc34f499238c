package media

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"
	"gopkg.in/hraban/opus.v2"
)

const (
	opusClockRate     = 48000
	opusFrameDuration = 20 * time.Millisecond
	opusFrameSamples  = opusClockRate / 50
)

// opusSilence is a single 20ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

func (s *LocalStream) pumpSilence(ctx context.Context) {
	ticker := time.NewTicker(opusFrameDuration)
	defer ticker.Stop()

	quiet := make([]int16, opusFrameSamples)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := s.Audio.WriteSample(media.Sample{Data: opusSilence, Duration: opusFrameDuration}); err != nil {
			log.Debug().Str("module", "media").Err(err).Msg("write silence")
		}
		s.emitPCM(quiet)
	}
}

func (s *LocalStream) pumpOgg(ctx context.Context, f io.ReadSeeker, loop bool) {
	decoder, err := opus.NewDecoder(opusClockRate, 1)
	if err != nil {
		log.Error().Str("module", "media").Err(err).Msg("opus decoder unavailable, speaking detection disabled")
	}
	pcm := make([]int16, opusFrameSamples*6)

	ogg, _, err := oggreader.NewWith(f)
	if err != nil {
		log.Error().Str("module", "media").Err(err).Msg("open ogg")
		return
	}

	ticker := time.NewTicker(opusFrameDuration)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		page, header, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if !loop {
				log.Debug().Str("module", "media").Msg("audio source finished")
				return
			}
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				log.Error().Str("module", "media").Err(err).Msg("rewind audio")
				return
			}
			if ogg, _, err = oggreader.NewWith(f); err != nil {
				log.Error().Str("module", "media").Err(err).Msg("reopen ogg")
				return
			}
			lastGranule = 0
			continue
		}
		if err != nil {
			log.Error().Str("module", "media").Err(err).Msg("read ogg page")
			return
		}

		// header pages carry no granule advance
		if header.GranulePosition <= lastGranule {
			continue
		}
		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		duration := time.Duration(samples) * time.Second / opusClockRate

		if err := s.Audio.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
			log.Debug().Str("module", "media").Err(err).Msg("write audio sample")
		}

		if decoder != nil && s.hasPCMSinks() {
			n, err := decoder.Decode(page, pcm)
			if err != nil {
				log.Debug().Str("module", "media").Err(err).Msg("decode opus")
				continue
			}
			s.emitPCM(pcm[:n])
		}
	}
}

func (s *LocalStream) pumpIVF(ctx context.Context, f io.ReadSeeker, loop bool) {
	ivf, header, err := ivfreader.NewWith(f)
	if err != nil {
		log.Error().Str("module", "media").Err(err).Msg("open ivf")
		return
	}

	frameDuration := time.Second / 30
	if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
		frameDuration = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, _, err := ivf.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if !loop {
				log.Debug().Str("module", "media").Msg("video source finished")
				return
			}
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				log.Error().Str("module", "media").Err(err).Msg("rewind video")
				return
			}
			if ivf, _, err = ivfreader.NewWith(f); err != nil {
				log.Error().Str("module", "media").Err(err).Msg("reopen ivf")
				return
			}
			continue
		}
		if err != nil {
			log.Error().Str("module", "media").Err(err).Msg("read ivf frame")
			return
		}

		if err := s.Video.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
			log.Debug().Str("module", "media").Err(err).Msg("write video sample")
		}
	}
}

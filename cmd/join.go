package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/BioHazard786/meshroom/internal/config"
	"github.com/BioHazard786/meshroom/internal/media"
	"github.com/BioHazard786/meshroom/internal/peer"
	"github.com/BioHazard786/meshroom/internal/room"
	"github.com/BioHazard786/meshroom/internal/roomid"
	"github.com/BioHazard786/meshroom/internal/ui"
)

var flagHeadless bool

var joinCmd = &cobra.Command{
	Use:     "join [room-id|url]",
	Aliases: []string{"j"},
	Short:   "Join a room, or start a new one",
	Long: `Join a room and connect to every participant in it. Without an argument
a new memorable room ID is generated; share it or the printed link.

Audio and video come from files standing in for devices: an Ogg/Opus file
for audio (silence when omitted) and an IVF (VP8/VP9) file for video.

Examples:
  meshroom join
  meshroom join kitten-waffle-stardust-happy
  meshroom join https://meshroom.qzz.io/r/kitten-waffle-stardust-happy
  meshroom join --audio-file talk.ogg --video --video-file clip.ivf ROOM
  meshroom join --relay --turn turn.example.com -u user -p pass ROOM`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, err := resolveRoomID(args)
		if err != nil {
			return err
		}
		return joinRoom(cmd, roomID)
	},
}

func resolveRoomID(args []string) (string, error) {
	if len(args) == 0 {
		id, err := roomid.Generate()
		if err != nil {
			return "", fmt.Errorf("generate room ID: %w", err)
		}
		return id, nil
	}
	return roomid.Parse(args[0])
}

func joinRoom(cmd *cobra.Command, roomID string) error {
	cfg, closeLog, err := LoadConfig(cmd)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopSpinner := ui.RunSpinner("Opening local media...")
	local, err := acquireMedia(ctx, cfg)
	stopSpinner()
	if err != nil {
		return err
	}
	defer local.Close()

	ice := peer.ICEFromConfig(cfg)
	if ice.RelayOnly {
		ui.PrintWarning("Relay-only mode: media will go through the TURN server")
	}
	transport, err := peer.NewPionTransport(ice)
	if err != nil {
		return fmt.Errorf("create WebRTC transport: %w", err)
	}

	stopSpinner = ui.RunConnectionSpinner("Connecting to relay...")
	conn, err := NewConnectionContext(ctx, cfg)
	stopSpinner()
	if err != nil {
		return err
	}
	defer conn.Close()
	ui.PrintSuccessf("Connected to %s", cfg.WebSocketURL)

	sinks := media.NewSinkSet()
	controller := room.New(conn.Handler, room.Options{
		Transport:         transport,
		HandshakeTimeout:  cfg.HandshakeTimeout,
		SpeakingThreshold: cfg.SpeakingThreshold,
		SpeakingInterval:  cfg.SpeakingInterval,
		OnStream: func(peerID string, track peer.RemoteTrack) {
			if track.Track == nil {
				return
			}
			sinks.Add(peerID, track.Kind, media.TrackReader(track.Track))
		},
	})

	fmt.Println()
	fmt.Println(ui.NewRoomInfo(roomID, cfg.GetRoomLink(roomID)).View())

	start := time.Now()
	if err := controller.Join(ctx, roomID, local); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer controller.Leave()
		if flagHeadless {
			select {
			case <-gctx.Done():
			case <-controller.Done():
			}
			return nil
		}
		return ui.NewRoomUI(controller, sinks.Stats).Run(gctx)
	})
	g.Go(func() error {
		<-controller.Done()
		return controller.Err()
	})
	runErr := g.Wait()

	packets, bytes := sinks.Totals()
	summary := ui.SessionSummary{
		RoomID:       roomID,
		LocalID:      controller.LocalID(),
		Participants: sinks.Peers(),
		Duration:     ui.FormatDuration(time.Since(start)),
		State:        controller.State().String(),
		Packets:      packets,
		Bytes:        bytes,
	}
	if err := controller.Err(); err != nil {
		summary.Reason = err.Error()
	}

	fmt.Println()
	ui.RenderSessionSummary("📊 Session Summary", summary)
	return runErr
}

func acquireMedia(ctx context.Context, cfg *config.Config) (*media.LocalStream, error) {
	return media.Acquire(ctx,
		media.Constraints{
			Audio: cfg.Audio,
			Video: media.VideoConstraints{
				Enabled: cfg.Video,
				Width:   cfg.VideoWidth,
				Height:  cfg.VideoHeight,
			},
		},
		media.Sources{
			AudioFile: cfg.AudioFile,
			VideoFile: cfg.VideoFile,
			Loop:      true,
		},
	)
}

func init() {
	rootCmd.AddCommand(joinCmd)

	f := joinCmd.Flags()
	f.StringP("domain", "d", config.DefaultDomain, "Relay domain")
	f.String("server", "", "Relay websocket URL (overrides --domain)")
	f.StringP("stun", "s", config.DefaultSTUN, "Custom STUN server")
	f.StringP("turn", "t", "", "Custom TURN server")
	f.StringP("turn-user", "u", "", "TURN username")
	f.StringP("turn-pass", "p", "", "TURN password")
	f.BoolP("relay", "r", false, "Force relay mode")

	f.Bool("audio", true, "Send audio")
	f.Bool("video", false, "Send video")
	f.Int("width", config.DefaultVideoWidth, "Requested video width")
	f.Int("height", config.DefaultVideoHeight, "Requested video height")
	f.String("audio-file", "", "Ogg/Opus file to send as audio (silence when empty)")
	f.String("video-file", "", "IVF file to send as video")

	f.Duration("handshake-timeout", config.DefaultHandshakeTimeout, "Give up on a peer that sends no media for this long")
	f.Float64("speaking-threshold", config.DefaultSpeakingThreshold, "Speaking level threshold in dBFS")
	f.Duration("speaking-interval", config.DefaultSpeakingInterval, "Speaking level sampling interval")

	f.BoolVar(&flagHeadless, "headless", false, "Log only, without the room view")
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Default configuration values (production)
const (
	DefaultDomain            = "meshroom.qzz.io"
	DefaultSTUN              = "stun:stun.l.google.com:19302"
	DefaultVideoWidth        = 640
	DefaultVideoHeight       = 480
	DefaultHandshakeTimeout  = 30 * time.Second
	DefaultSpeakingThreshold = -50.0
	DefaultSpeakingInterval  = 50 * time.Millisecond
	DefaultListenAddr        = ":8080"
	DefaultMaxRoomSize       = 8
)

// Config holds application configuration
type Config struct {
	// Domain is the relay server domain
	Domain string `mapstructure:"domain"`

	// ServerURL overrides the websocket URL derived from Domain
	ServerURL string `mapstructure:"server_url"`

	// WebSocketURL is ServerURL, or constructed from Domain
	WebSocketURL string `mapstructure:"-"`

	// ICE servers for WebRTC
	STUNServer string `mapstructure:"stun_server"`
	TURNServer string `mapstructure:"turn_server"`
	TURNUser   string `mapstructure:"turn_user"`
	TURNPass   string `mapstructure:"turn_pass"`
	ForceRelay bool   `mapstructure:"force_relay"`

	// Local media
	Audio       bool   `mapstructure:"audio"`
	Video       bool   `mapstructure:"video"`
	VideoWidth  int    `mapstructure:"video_width"`
	VideoHeight int    `mapstructure:"video_height"`
	AudioFile   string `mapstructure:"audio_file"`
	VideoFile   string `mapstructure:"video_file"`

	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	SpeakingThreshold float64       `mapstructure:"speaking_threshold"`
	SpeakingInterval  time.Duration `mapstructure:"speaking_interval"`

	// Relay server
	ListenAddr  string `mapstructure:"listen_addr"`
	MaxRoomSize int    `mapstructure:"max_room_size"`

	LogFile string `mapstructure:"log_file"`
}

// Options for loading config with CLI flag overrides
type Options struct {
	// Flags are bound to their config keys; only flags the user changed
	// take precedence over the environment.
	Flags *pflag.FlagSet

	// ConfigFile is an explicit config path. When empty the default
	// location is tried and a missing file is not an error.
	ConfigFile string
}

// flagKeys maps config keys to CLI flag names.
var flagKeys = map[string]string{
	"domain":             "domain",
	"server_url":         "server",
	"stun_server":        "stun",
	"turn_server":        "turn",
	"turn_user":          "turn-user",
	"turn_pass":          "turn-pass",
	"force_relay":        "relay",
	"audio":              "audio",
	"video":              "video",
	"video_width":        "width",
	"video_height":       "height",
	"audio_file":         "audio-file",
	"video_file":         "video-file",
	"handshake_timeout":  "handshake-timeout",
	"speaking_threshold": "speaking-threshold",
	"speaking_interval":  "speaking-interval",
	"listen_addr":        "listen",
	"max_room_size":      "max-room-size",
	"log_file":           "log-file",
}

// legacyEnv keeps the bare environment names older deployments export.
var legacyEnv = map[string]string{
	"domain":      "DOMAIN",
	"stun_server": "STUN_SERVER",
	"turn_server": "TURN_SERVER",
	"turn_user":   "TURN_USERNAME",
	"turn_pass":   "TURN_PASSWORD",
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables (MESHROOM_*, then legacy names)
// 3. Config file
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key := range flagKeys {
		envs := []string{key, "MESHROOM_" + strings.ToUpper(key)}
		if legacy, ok := legacyEnv[key]; ok {
			envs = append(envs, legacy)
		}
		if err := v.BindEnv(envs...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if opts.Flags != nil {
		for key, name := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := readConfigFile(v, opts.ConfigFile); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.WebSocketURL = cfg.ServerURL
	if cfg.WebSocketURL == "" {
		cfg.WebSocketURL = fmt.Sprintf("wss://%s/ws", cfg.Domain)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("domain", DefaultDomain)
	v.SetDefault("server_url", "")
	v.SetDefault("stun_server", DefaultSTUN)
	v.SetDefault("turn_server", "")
	v.SetDefault("turn_user", "")
	v.SetDefault("turn_pass", "")
	v.SetDefault("force_relay", false)
	v.SetDefault("audio", true)
	v.SetDefault("video", false)
	v.SetDefault("video_width", DefaultVideoWidth)
	v.SetDefault("video_height", DefaultVideoHeight)
	v.SetDefault("audio_file", "")
	v.SetDefault("video_file", "")
	v.SetDefault("handshake_timeout", DefaultHandshakeTimeout)
	v.SetDefault("speaking_threshold", DefaultSpeakingThreshold)
	v.SetDefault("speaking_interval", DefaultSpeakingInterval)
	v.SetDefault("listen_addr", DefaultListenAddr)
	v.SetDefault("max_room_size", DefaultMaxRoomSize)
	v.SetDefault("log_file", "")
}

func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "meshroom"))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Validate rejects combinations that cannot work.
func (c *Config) Validate() error {
	if c.ForceRelay && c.GetTURNServers() == nil {
		return fmt.Errorf("cannot force relay mode without TURN server configured")
	}
	if !c.Audio && !c.Video {
		return fmt.Errorf("at least one of audio or video must be enabled")
	}
	if c.Video && (c.VideoWidth <= 0 || c.VideoHeight <= 0) {
		return fmt.Errorf("invalid video size %dx%d", c.VideoWidth, c.VideoHeight)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshake timeout must be positive")
	}
	if c.SpeakingInterval <= 0 {
		return fmt.Errorf("speaking interval must be positive")
	}
	if c.MaxRoomSize < 2 {
		return fmt.Errorf("max room size must be at least 2")
	}
	return nil
}

// GetRoomLink returns the webapp URL for a room ID
func (c *Config) GetRoomLink(roomID string) string {
	return fmt.Sprintf("https://%s/r/%s", c.Domain, roomID)
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// UseRelayOnly reports whether ICE should be restricted to TURN candidates.
func (c *Config) UseRelayOnly() bool {
	if c.GetTURNServers() == nil {
		return false
	}
	return c.ForceRelay || ShouldForceRelay()
}

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/meshroom/internal/config"
	"github.com/BioHazard786/meshroom/internal/logging"
	"github.com/BioHazard786/meshroom/internal/signaling"
)

// ConnectionContext is an open relay connection with its event handler
// running.
type ConnectionContext struct {
	Client  *signaling.Client
	Handler *signaling.Handler
	Config  *config.Config
}

func NewConnectionContext(ctx context.Context, cfg *config.Config) (*ConnectionContext, error) {
	client := signaling.NewClient(cfg.WebSocketURL)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to relay: %w", err)
	}

	handler := signaling.NewHandler(client)
	go handler.Start()

	return &ConnectionContext{
		Client:  client,
		Handler: handler,
		Config:  cfg,
	}, nil
}

// Close shuts the handler down, which also closes the client.
func (c *ConnectionContext) Close() {
	if c.Handler != nil {
		c.Handler.Close()
	}
}

// LoadConfig reads configuration with cmd's flags taking precedence. When a
// log file is configured, logs are redirected there; the returned func
// closes it.
func LoadConfig(cmd *cobra.Command) (*config.Config, func(), error) {
	cfg, err := config.Load(config.Options{
		Flags:      cmd.Flags(),
		ConfigFile: flagConfigFile,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	closeLog := func() {}
	if cfg.LogFile != "" {
		closeFile, err := logging.ToFile(cfg.LogFile)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		closeLog = func() { closeFile() }
	}

	return cfg, closeLog, nil
}

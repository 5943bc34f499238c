package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Server is a ready-to-run relay: hub, router and HTTP listener.
type Server struct {
	Hub      *Hub
	Registry *prometheus.Registry
	http     *http.Server
}

// NewServer builds a relay listening on addr.
func NewServer(addr string, maxRoomSize int) *Server {
	reg := prometheus.NewRegistry()
	hub := NewHub(maxRoomSize, NewMetrics(reg))

	return &Server{
		Hub:      hub,
		Registry: reg,
		http: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(hub, reg),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.Hub.Run(ctx)
		return nil
	})

	g.Go(func() error {
		log.Info().Str("module", "relay").Str("addr", s.http.Addr).Msg("relay listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

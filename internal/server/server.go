package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ligustah/shardstream/internal/config"
	"github.com/ligustah/shardstream/internal/media"
	"github.com/ligustah/shardstream/internal/stream"
)

// Server serves media objects of a catalog over HTTP.
type Server struct {
	cfg     config.Config
	catalog media.Catalog
	log     zerolog.Logger
	pacing  stream.PacingConfig
	player  *template.Template
	engine  *gin.Engine
}

// New returns a Server for catalog configured by cfg.
func New(cfg config.Config, catalog media.Catalog, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		catalog: catalog,
		log:     logger,
		pacing:  cfg.Pacing.Stream(),
		player:  playerTemplate,
	}

	engine := gin.New()
	engine.Use(s.requestID(), s.accessLog(), s.recovery())
	engine.HandleMethodNotAllowed = true
	// Client addresses in access logs come from the connection.
	if err := engine.SetTrustedProxies(nil); err != nil {
		logger.Warn().Err(err).Msg("set trusted proxies")
	}

	engine.GET("/", s.handleHome)
	engine.GET("/healthz", s.handleHealth)
	engine.GET("/dl/*id", s.handleDownload)
	engine.HEAD("/dl/*id", s.handleDownload)
	engine.GET("/stream/*id", s.handlePlayer)

	s.engine = engine
	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then drains open requests for up to
// the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       s.cfg.Server.IdleTimeout,
		WriteTimeout:      0, // streams are long-lived
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("listening")

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	s.log.Info().Dur("timeout", s.cfg.Server.ShutdownTimeout).Msg("shutting down")
	shutdownCtx := context.Background()
	if s.cfg.Server.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(shutdownCtx, s.cfg.Server.ShutdownTimeout)
		defer cancel()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		// Streams still running are cut off.
		srv.Close()
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// limiter returns the egress limiter of one stream, nil when unlimited.
func (s *Server) limiter() *rate.Limiter {
	if s.cfg.Pacing.MaxRate <= 0 {
		return nil
	}
	burst := s.pacing.MaxChunk
	if burst <= 0 {
		burst = stream.DefaultMaxChunk
	}
	return rate.NewLimiter(rate.Limit(s.cfg.Pacing.MaxRate), int(burst))
}

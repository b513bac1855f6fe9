package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/lampwatch/lampwatch/internal/api/middleware"
	"github.com/lampwatch/lampwatch/internal/conf"
	"github.com/lampwatch/lampwatch/internal/datastore"
	"github.com/lampwatch/lampwatch/internal/logger"
	"github.com/lampwatch/lampwatch/internal/observability"
	"github.com/lampwatch/lampwatch/internal/observability/metrics"
	"github.com/lampwatch/lampwatch/internal/pipeline"
)

// Runner executes the detection pipeline on raw image bytes.
type Runner interface {
	Run(ctx context.Context, raw []byte) (*pipeline.Result, error)
}

// Fetcher downloads a remote image.
type Fetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

// History is the read side of the ledger.
type History interface {
	ListEvents() ([]datastore.HistoryEntry, error)
	LatestLampStatus() (*datastore.LampStatus, error)
}

// ImageReader serves stored images.
type ImageReader interface {
	Open(name string) (*os.File, error)
	Dir() string
	FreeBytes() (uint64, error)
}

// Readiness reports whether the detector can serve requests.
type Readiness interface {
	Ready() error
}

// ConnectionChecker reports the broker connection state.
type ConnectionChecker interface {
	IsConnected() bool
}

// Server owns the echo instance and the event feed hub.
type Server struct {
	echo   *echo.Echo
	config *Config
	log    logger.Logger

	runner  Runner
	fetcher Fetcher
	history History
	images  ImageReader
	ready   Readiness
	broker  ConnectionChecker
	metrics *observability.Metrics
	hub     *Hub

	startTime time.Time
	now       func() time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithRunner sets the pipeline used by the detect endpoints.
func WithRunner(r Runner) ServerOption {
	return func(s *Server) { s.runner = r }
}

// WithFetcher sets the client used by /detect/url.
func WithFetcher(f Fetcher) ServerOption {
	return func(s *Server) { s.fetcher = f }
}

// WithHistory sets the ledger read by /history and /lamp/status.
func WithHistory(h History) ServerOption {
	return func(s *Server) { s.history = h }
}

// WithImages sets the image store.
func WithImages(i ImageReader) ServerOption {
	return func(s *Server) { s.images = i }
}

// WithReadiness sets the detector health probe.
func WithReadiness(r Readiness) ServerOption {
	return func(s *Server) { s.ready = r }
}

// WithBroker sets the MQTT connection probe reported by /health.
func WithBroker(b ConnectionChecker) ServerOption {
	return func(s *Server) { s.broker = b }
}

// WithMetrics sets the metrics registry exposed on /metrics.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithHub sets the event feed hub; by default the server creates its own.
func WithHub(h *Hub) ServerOption {
	return func(s *Server) { s.hub = h }
}

// New creates the HTTP server with the given settings and options. The
// runner, history and image store are required.
func New(settings *conf.Settings, opts ...ServerOption) (*Server, error) {
	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	s := &Server{
		config:    config,
		log:       GetLogger(),
		startTime: time.Now(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.runner == nil || s.history == nil || s.images == nil {
		return nil, fmt.Errorf("api server requires a pipeline, a ledger and an image store")
	}
	if s.hub == nil {
		s.hub = NewHub(s.httpMetrics())
	}
	s.hub.AllowOrigins(config.AllowedOrigins)

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.errorHandler
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized",
		logger.String("address", config.Address()),
		logger.String("body_limit", config.BodyLimit),
		logger.Bool("debug", config.Debug))
	return s, nil
}

func (s *Server) httpMetrics() *metrics.HTTPMetrics {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.HTTP
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewRequestID())
	s.echo.Use(mw.NewMetrics(s.httpMetrics()))
	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log, func(c echo.Context) bool {
		// scrapes and health probes would drown the request log
		return c.Path() == "/metrics" || c.Path() == "/health"
	}))
	s.echo.Use(mw.NewCORS(mw.SecurityConfig{AllowedOrigins: s.config.AllowedOrigins}))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders())
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.health)
	s.echo.POST("/detect/upload", s.detectUpload)
	s.echo.POST("/detect/url", s.detectURL)
	s.echo.GET("/history", s.listHistory)
	s.echo.GET("/lamp/status", s.lampStatus)
	s.echo.GET("/images/:name", s.serveImage)
	s.echo.GET("/ws/events", s.hub.ServeWS)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
}

// Hub returns the event feed; its Broadcast method is the pipeline's OnResult hook.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ServeHTTP makes the server usable with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting HTTP server", logger.String("address", s.config.Address()))
		if err := s.echo.Start(s.config.Address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		s.hub.Close()
		return err
	case <-ctx.Done():
	}
	return s.Shutdown()
}

// Shutdown disconnects feed clients and stops the server.
func (s *Server) Shutdown() error {
	s.hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.log.Info("server shutdown complete", logger.Duration("uptime", time.Since(s.startTime)))
	return nil
}

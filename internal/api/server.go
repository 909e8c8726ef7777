package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/ikancheck/ikancheck/internal/api/middleware"
	v1 "github.com/ikancheck/ikancheck/internal/api/v1"
	"github.com/ikancheck/ikancheck/internal/app"
	"github.com/ikancheck/ikancheck/internal/logger"
)

// Server is the HTTP server for IkanCheck. It owns the echo instance, the
// middleware stack and the v1 routes.
type Server struct {
	echo   *echo.Echo
	config *Config
	app    *app.App

	apiController *v1.Controller
	startTime     time.Time
}

// New creates a server for a. Routes are registered immediately; nothing
// listens until Start.
func New(a *app.App, cfg *Config) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout
	e.Server.IdleTimeout = cfg.IdleTimeout

	s := &Server{
		echo:      e,
		config:    cfg,
		app:       a,
		startTime: time.Now(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewRequestID())
	s.echo.Use(mw.NewRequestLogger(GetLogger(), s.config.Debug))
	if s.app.Metrics != nil {
		s.echo.Use(mw.NewMetrics(s.app.Metrics.HTTP))
	}
	s.echo.Use(mw.NewCORS(mw.SecurityConfig{AllowedOrigins: s.config.AllowedOrigins}))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit()))
	s.echo.Use(mw.NewSecureHeaders())
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	if s.app.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.app.Metrics.Handler()))
	}

	opts := []v1.Option{
		v1.WithMaxUploadBytes(s.config.MaxUploadBytes),
		v1.WithInstanceName(s.app.Settings.Main.Name),
	}

	s.apiController = v1.New(s.echo, v1.Deps{
		Detector:  s.app.Pipeline,
		History:   s.app.History,
		Labels:    s.app.Labels,
		Content:   s.app.Content,
		Threshold: s.app.Policy.Threshold(),
	}, append(opts, s.uploadLimiter()...)...)

	GetLogger().Info("routes initialized",
		logger.String("api_prefix", v1.Prefix),
		logger.Float64("rate_limit", s.config.RateLimit))
}

func (s *Server) uploadLimiter() []v1.Option {
	if s.config.RateLimit <= 0 {
		return nil
	}
	var onLimited func()
	if s.app.Metrics != nil {
		onLimited = s.app.Metrics.HTTP.RecordRateLimited
	}
	limiter := mw.NewRateLimit(s.config.RateLimit, s.config.RateBurst, onLimited, func(c echo.Context) error {
		return s.apiController.HandleError(c, nil, "Too many uploads, try again shortly", http.StatusTooManyRequests)
	})
	return []v1.Option{v1.WithUploadLimiter(limiter)}
}

// healthCheck handles the server health check endpoint.
func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime":         uptime.Round(time.Second).String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.echo.Listener = ln
	GetLogger().Info("starting HTTP server", logger.String("address", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start("")
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	if err := s.Shutdown(); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		GetLogger().Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}
	GetLogger().Info("server shutdown complete")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

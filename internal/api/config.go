// Package api provides the HTTP server for IkanCheck. The JSON endpoints
// live in the v1 subpackage.
package api

import (
	"fmt"
	"sync"
	"time"

	"github.com/ikancheck/ikancheck/internal/conf"
	"github.com/ikancheck/ikancheck/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("api")
	})
	return serviceLogger
}

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultListen          = conf.DefaultListen
	DefaultRateBurst       = 4

	bytesPerMB = 1 << 20
)

// Config holds the HTTP server configuration.
type Config struct {
	Listen string // listen address, e.g. ":8080"

	// Timeouts
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Limits
	MaxUploadBytes int64   // largest accepted image
	RateLimit      float64 // detection uploads per second per client, 0 = unlimited
	RateBurst      int

	AllowedOrigins []string // CORS allowed origins
	Debug          bool     // log every request at info instead of debug
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:          DefaultListen,
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		MaxUploadBytes:  conf.DefaultMaxUploadMB * bytesPerMB,
		RateBurst:       DefaultRateBurst,
		AllowedOrigins:  []string{"*"},
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	if settings.WebServer.Listen != "" {
		cfg.Listen = settings.WebServer.Listen
	}
	if settings.WebServer.MaxUploadMB > 0 {
		cfg.MaxUploadBytes = int64(settings.WebServer.MaxUploadMB) * bytesPerMB
	}
	cfg.RateLimit = settings.WebServer.RateLimit
	cfg.Debug = settings.WebServer.Debug || settings.Debug
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("maximum upload size must be positive")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	return nil
}

// BodyLimit returns the request body limit in echo's notation. Multipart
// framing gets a megabyte on top of the image limit.
func (c *Config) BodyLimit() string {
	return fmt.Sprintf("%dM", c.MaxUploadBytes/bytesPerMB+1)
}

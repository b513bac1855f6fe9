// Package api is the HTTP ingest and query surface of lampwatch: image
// upload and URL ingest, the detection history, the lamp state, stored
// images, health, metrics and the live result feed.
package api

import (
	"fmt"
	"time"

	"github.com/lampwatch/lampwatch/internal/conf"
	"github.com/lampwatch/lampwatch/internal/logger"
)

const componentName = "api"

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module(componentName)
}

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultFetchTimeout    = 10 * time.Second
	DefaultServiceName     = "Human Detection API"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host string // empty binds all interfaces
	Port string

	ServiceName    string
	AllowedOrigins []string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	FetchTimeout    time.Duration // remote image download for /detect/url

	BodyLimit string // e.g. "16M"
	Debug     bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:            "5000",
		ServiceName:     DefaultServiceName,
		AllowedOrigins:  []string{"*"},
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		FetchTimeout:    DefaultFetchTimeout,
		BodyLimit:       "16M",
	}
}

// ConfigFromSettings bridges conf.Settings to the server config. Zero values
// in settings keep the defaults.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	if settings == nil {
		return cfg
	}

	ws := settings.WebServer
	if ws.Port != "" {
		cfg.Port = ws.Port
	}
	if ws.ReadTimeout > 0 {
		cfg.ReadTimeout = ws.ReadTimeout
	}
	if ws.WriteTimeout > 0 {
		cfg.WriteTimeout = ws.WriteTimeout
	}
	if ws.FetchTimeout > 0 {
		cfg.FetchTimeout = ws.FetchTimeout
	}
	if ws.BodyLimit != "" {
		cfg.BodyLimit = ws.BodyLimit
	}
	if len(ws.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = ws.AllowedOrigins
	}
	if settings.Main.Name != "" {
		cfg.ServiceName = settings.Main.Name
	}
	cfg.Debug = settings.Debug
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	return nil
}

// Address returns the address the server listens on.
func (c *Config) Address() string {
	if c.Host == "" {
		return ":" + c.Port
	}
	return c.Host + ":" + c.Port
}

func (c *Config) String() string {
	return fmt.Sprintf("Server Config: address=%s, body_limit=%s, debug=%v",
		c.Address(), c.BodyLimit, c.Debug)
}

// Package mqtt is the actuation channel: a single paho connection used to
// publish lamp commands and to receive motion events.
package mqtt

import (
	"context"
	"time"

	"github.com/lampwatch/lampwatch/internal/conf"
	"github.com/lampwatch/lampwatch/internal/logger"
)

// MessageHandler receives the payload of a message on a subscribed topic.
type MessageHandler func(topic string, payload []byte)

// Client defines the interface for MQTT client operations.
type Client interface {
	// Connect starts the connection and waits up to the connect timeout.
	// The client keeps retrying in the background after a timeout.
	Connect(ctx context.Context) error

	// Publish sends payload at QoS 1 and waits for the broker acknowledgement.
	// It fails immediately when the client is not connected.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers handler for topic. Subscriptions are re-established
	// after every reconnect.
	Subscribe(topic string, handler MessageHandler) error

	// IsConnected reports whether the broker connection is currently up.
	IsConnected() bool

	// Supervise periodically reconnects a client that is neither connected
	// nor retrying on its own. It returns when ctx is done.
	Supervise(ctx context.Context)

	// Disconnect closes the connection to the MQTT broker.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	ReconnectInterval time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		Broker:            "tcp://localhost:1883",
		ClientID:          "lampwatch",
		ConnectTimeout:    5 * time.Second,
		PublishTimeout:    5 * time.Second,
		ReconnectInterval: 30 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

// ConfigFromSettings maps the mqtt settings section onto a Config. clientID
// overrides the configured client ID when non-empty.
func ConfigFromSettings(s conf.MQTTSettings, clientID string) Config {
	cfg := DefaultConfig()
	cfg.Broker = s.Broker
	cfg.ClientID = s.ClientID
	if clientID != "" {
		cfg.ClientID = clientID
	}
	cfg.Username = s.Username
	cfg.Password = s.Password
	if s.ConnectTimeout > 0 {
		cfg.ConnectTimeout = s.ConnectTimeout
	}
	if s.PublishTimeout > 0 {
		cfg.PublishTimeout = s.PublishTimeout
	}
	if s.ReconnectInterval > 0 {
		cfg.ReconnectInterval = s.ReconnectInterval
	}
	return cfg
}

// GetLogger returns the mqtt module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("mqtt")
}

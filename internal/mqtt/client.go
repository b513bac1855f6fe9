package mqtt

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/lampwatch/lampwatch/internal/errors"
	"github.com/lampwatch/lampwatch/internal/logger"
	"github.com/lampwatch/lampwatch/internal/observability/metrics"
)

const (
	componentName = "mqtt"
	publishQoS    = 1
)

// client implements the Client interface.
type client struct {
	config  Config
	metrics *metrics.MQTTMetrics
	log     logger.Logger

	// newPaho builds the underlying client; tests replace it.
	newPaho func(*paho.ClientOptions) paho.Client

	mu       sync.Mutex
	internal paho.Client

	// connected is only written by the paho connect and connection-lost handlers.
	connected atomic.Bool

	subsMu sync.RWMutex
	subs   map[string]MessageHandler
}

// NewClient creates a new MQTT client. m may be nil.
func NewClient(config Config, m *metrics.MQTTMetrics) Client {
	return &client{
		config:  config,
		metrics: m,
		log:     GetLogger(),
		newPaho: paho.NewClient,
		subs:    make(map[string]MessageHandler),
	}
}

func (c *client) options() *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetMaxReconnectInterval(c.config.ReconnectInterval)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
		c.log.Debug("reconnecting to broker", logger.String("broker", c.config.Broker))
	})
	return opts
}

// Connect attempts to establish a connection to the MQTT broker.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.internal == nil {
		c.internal = c.newPaho(c.options())
	}
	internal := c.internal
	c.mu.Unlock()

	token := internal.Connect()

	timer := time.NewTimer(c.config.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-timer.C:
		c.metrics.IncrementErrors("connect")
		return errors.Newf("connection to %s timed out after %s", c.config.Broker, c.config.ConnectTimeout).
			Component(componentName).
			Category(errors.CategoryMQTTConnection).
			Context("broker", c.config.Broker).
			Build()
	case <-ctx.Done():
		return errors.New(ctx.Err()).
			Component(componentName).
			Category(errors.CategoryMQTTConnection).
			Context("broker", c.config.Broker).
			Build()
	}

	if err := token.Error(); err != nil {
		c.metrics.IncrementErrors("connect")
		return errors.New(fmt.Errorf("connection error: %w", err)).
			Component(componentName).
			Category(errors.CategoryMQTTConnection).
			Context("broker", c.config.Broker).
			Build()
	}
	return nil
}

// Publish sends a message to the specified topic on the MQTT broker.
func (c *client) Publish(ctx context.Context, topic string, payload []byte) error {
	internal := c.active()
	if internal == nil {
		c.metrics.IncrementErrors("not_connected")
		return errors.Newf("not connected to MQTT broker").
			Component(componentName).
			Category(errors.CategoryMQTTConnection).
			Context("topic", topic).
			Build()
	}

	start := time.Now()
	token := internal.Publish(topic, publishQoS, false, payload)

	timer := time.NewTimer(c.config.PublishTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-timer.C:
		c.metrics.IncrementErrors("timeout")
		return publishError(errors.Newf("publish timeout after %s", c.config.PublishTimeout), topic)
	case <-ctx.Done():
		c.metrics.IncrementErrors("timeout")
		return publishError(errors.New(ctx.Err()), topic)
	}

	if err := token.Error(); err != nil {
		c.metrics.IncrementErrors("publish")
		return publishError(errors.New(err), topic)
	}

	c.metrics.RecordDelivered(len(payload), time.Since(start))
	c.log.Debug("message published",
		logger.String("topic", topic),
		logger.Int("size", len(payload)),
		logger.Duration("elapsed", time.Since(start)))
	return nil
}

func publishError(b *errors.ErrorBuilder, topic string) error {
	return b.Component(componentName).
		Category(errors.CategoryMQTTPublish).
		Context("topic", topic).
		Build()
}

// Subscribe records the handler and subscribes now if connected; onConnect
// subscribes every recorded topic again.
func (c *client) Subscribe(topic string, handler MessageHandler) error {
	c.subsMu.Lock()
	c.subs[topic] = handler
	c.subsMu.Unlock()

	internal := c.active()
	if internal == nil {
		return nil
	}
	return c.subscribe(internal, topic, handler)
}

// active returns the paho client, or nil while disconnected or after
// Disconnect has released it.
func (c *client) active() paho.Client {
	if !c.connected.Load() {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internal
}

func (c *client) subscribe(internal paho.Client, topic string, handler MessageHandler) error {
	token := internal.Subscribe(topic, publishQoS, func(_ paho.Client, msg paho.Message) {
		c.metrics.IncrementReceived()
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return errors.Newf("subscribe to %s timed out", topic).
			Component(componentName).
			Category(errors.CategoryMQTTConnection).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryMQTTConnection).
			Context("topic", topic).
			Build()
	}
	c.log.Info("subscribed", logger.String("topic", topic))
	return nil
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	return c.connected.Load()
}

// retrying reports whether paho is already reconnecting on its own. paho's
// IsConnected is true while a retry loop is active even with the socket down.
func (c *client) retrying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internal != nil && c.internal.IsConnected() && !c.internal.IsConnectionOpen()
}

// Supervise runs until ctx is done.
func (c *client) Supervise(ctx context.Context) {
	ticker := time.NewTicker(c.config.ReconnectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.connected.Load() || c.retrying() {
				continue
			}
			c.reconnect(ctx)
		}
	}
}

func (c *client) reconnect(ctx context.Context) {
	c.metrics.IncrementReconnectAttempts()
	c.log.Info("attempting reconnect", logger.String("broker", c.config.Broker))

	connectCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()
	if err := c.Connect(connectCtx); err != nil {
		c.log.Warn("reconnect failed", logger.Error(err))
	}
}

// Disconnect closes the connection to the MQTT broker.
func (c *client) Disconnect() {
	c.connected.Store(false)
	c.mu.Lock()
	internal := c.internal
	c.internal = nil
	c.mu.Unlock()

	if internal != nil {
		internal.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
	}
	c.metrics.UpdateConnectionStatus(false)
}

func (c *client) onConnect(internal paho.Client) {
	c.connected.Store(true)
	c.metrics.UpdateConnectionStatus(true)
	c.log.Info("connected to broker", logger.String("broker", c.config.Broker))

	c.subsMu.RLock()
	subs := maps.Clone(c.subs)
	c.subsMu.RUnlock()

	for topic, handler := range subs {
		if err := c.subscribe(internal, topic, handler); err != nil {
			c.log.Warn("resubscribe failed", logger.String("topic", topic), logger.Error(err))
		}
	}
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.connected.Store(false)
	c.metrics.UpdateConnectionStatus(false)
	c.metrics.IncrementErrors("connection_lost")
	c.log.Warn("connection to broker lost",
		logger.String("broker", c.config.Broker),
		logger.Error(err))
}

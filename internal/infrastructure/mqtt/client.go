package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/openhandy-bridge/internal/infrastructure/config"
)

// Client publishes bridge state to an MQTT broker.
//
// While connected the retained {prefix}/availability topic reads "online".
// A clean Close replaces it with a graceful offline message; any other
// disconnect lets the broker deliver the will, an offline message with
// reason unexpected_disconnect. paho reconnects on its own and each
// reconnect republishes "online".
//
// All methods are safe for concurrent use.
type Client struct {
	client   pahomqtt.Client
	clientID string
	topics   Topics

	mu           sync.RWMutex
	connected    bool
	onDisconnect func(err error)
	logger       Logger
}

// Logger is satisfied by *logging.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Connect dials the broker described by cfg and waits up to 10 seconds
// for the first connection. It returns ErrDisabled when cfg.Enabled is
// false.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	c := &Client{
		clientID: cfg.Broker.ClientID,
		topics:   Topics{Prefix: cfg.TopicPrefix},
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, c.topics, c.clientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.onConnected() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onLost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		if l := c.getLogger(); l != nil {
			l.Info("reconnecting to MQTT broker")
		}
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		// ConnectRetry keeps dialling in the background until Disconnect.
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs on its own goroutine and may lag behind.
	c.setConnected(true)
	return c, nil
}

func (c *Client) onConnected() {
	c.setConnected(true)
	c.publishAvailability("online", "")

	if l := c.getLogger(); l != nil {
		l.Info("connected to MQTT broker", "client_id", c.clientID)
	}
}

func (c *Client) onLost(err error) {
	c.setConnected(false)

	c.mu.RLock()
	cb, l := c.onDisconnect, c.logger
	c.mu.RUnlock()

	if l != nil {
		l.Warn("MQTT connection lost", "error", err)
	}
	if cb != nil {
		cb(err)
	}
}

// publishAvailability sends a retained QoS 1 availability message.
// The returned token is only waited on by Close.
func (c *Client) publishAvailability(status, reason string) pahomqtt.Token {
	return c.client.Publish(c.topics.Availability(), 1, true,
		buildAvailabilityPayload(status, c.clientID, reason))
}

// Close publishes the graceful offline message, waits for it, then
// disconnects. Safe on a nil or never-connected client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	if c.IsConnected() {
		c.publishAvailability("offline", reasonShutdown).WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker is unreachable,
// including during paho's reconnect backoff.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// SetOnDisconnect registers a callback for unexpected connection loss.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger sets the logger for connection events.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

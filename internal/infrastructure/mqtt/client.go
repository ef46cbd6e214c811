package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/mqttlightbulb/internal/infrastructure/config"
)

// newPahoClient is replaced in tests to run without a broker.
var newPahoClient = pahomqtt.NewClient

// Client is the broker connection of one accessory.
//
// Safe for concurrent use. Requested subscriptions are remembered and
// re-applied every time paho (re)connects.
type Client struct {
	client    pahomqtt.Client
	brokerURL string
	clientID  string

	subscriptions map[string]subscription // keyed by topic filter
	subMu         sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	logger Logger
}

// Logger is satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// subscription is one remembered Subscribe call.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// paho invokes handlers from its router goroutine, one message at a time.
// A returned error is logged and otherwise ignored.
type MessageHandler func(topic string, payload []byte) error

// Connect starts a client for one accessory and returns without waiting
// for the broker.
//
// The first connection attempt runs in the background and is retried every
// second, as are reconnects after a loss. Connection events are logged.
//
// Parameters:
//   - acc: Accessory entry supplying url, username and password. A
//     user:password in the url is used when username is empty.
//   - cfg: Shared MQTT settings (TLS verification)
//   - logger: Optional logger (may be nil)
//
// Returns:
//   - *Client: Started client
//   - error: ErrInvalidBrokerURL if acc.URL cannot be used
func Connect(acc config.AccessoryConfig, cfg config.MQTTConfig, logger Logger) (*Client, error) {
	brokerURL, user, err := parseBrokerURL(acc.URL)
	if err != nil {
		return nil, err
	}
	acc = withURLCredentials(acc, user)

	c := &Client{
		brokerURL:     brokerURL,
		clientID:      newClientID(),
		subscriptions: make(map[string]subscription),
		logger:        logger,
	}

	opts := buildClientOptions(brokerURL, c.clientID, acc, cfg)
	configureLWT(opts)

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.logDebug("mqtt reconnecting", "broker", c.brokerURL)
	})

	c.client = newPahoClient(opts)
	token := c.client.Connect()
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			c.logWarn("mqtt connect failed", "broker", c.brokerURL, "error", err)
		}
	}()

	c.logInfo("mqtt client started", "broker", c.brokerURL, "client_id", c.clientID)
	return c, nil
}

// handleConnect is called when the connection is established.
func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.logInfo("mqtt connected", "broker", c.brokerURL)

	c.restoreSubscriptions()
}

// handleDisconnect is called when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.logWarn("mqtt connection lost", "broker", c.brokerURL, "error", err)
}

// restoreSubscriptions applies every tracked subscription.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	subs := make([]subscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	c.subMu.RUnlock()

	for _, sub := range subs {
		c.subscribe(sub)
	}
}

// Close disconnects from the broker. Pending subscriptions are forgotten.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// HealthCheck reports whether the broker connection is up.
//
// Parameters:
//   - ctx: Context for cancellation
//
// Returns:
//   - error: nil if connected, ErrNotConnected otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected reports whether the session is up right now.
func (c *Client) IsConnected() bool {
	if c.client == nil {
		return false
	}
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// BrokerURL returns the normalised broker address.
func (c *Client) BrokerURL() string {
	return c.brokerURL
}

// ClientID returns the MQTT client id sent to the broker.
func (c *Client) ClientID() string {
	return c.clientID
}

func (c *Client) getLogger() Logger {
	return c.logger
}

func (c *Client) logDebug(msg string, args ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Debug(msg, args...)
	}
}

func (c *Client) logInfo(msg string, args ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Info(msg, args...)
	}
}

func (c *Client) logWarn(msg string, args ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, args...)
	}
}

// watchToken logs the outcome of an asynchronous operation once paho completes it.
func (c *Client) watchToken(token pahomqtt.Token, op, topic string) {
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			c.logWarn("mqtt "+op+" failed", "topic", topic, "error", err)
		}
	}()
}

// wrapHandler adapts handler to paho. Handler errors are logged and a
// panic is logged instead of killing paho's router goroutine.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("mqtt handler panicked",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.logWarn("mqtt handler failed",
				"topic", msg.Topic(),
				"error", err,
			)
		}
	}
}

package mqtt

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/mqttlightbulb/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout bounds a single connection attempt.
	defaultConnectTimeout = 30 * time.Second

	// defaultReconnectInterval is the fixed delay between connection attempts.
	defaultReconnectInterval = 1 * time.Second

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 10 * time.Second

	// defaultWriteTimeout bounds how long Publish waits for paho's outbound queue.
	defaultWriteTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12

	// clientIDPrefix matches the ids handed out by the mqtt.js client, which
	// some broker ACLs key on.
	clientIDPrefix = "mqttjs_"
)

// Last Will and Testament, published by the broker if the connection drops
// without a DISCONNECT.
const (
	willTopic   = "WillMsg"
	willPayload = "Connection Closed abnormally..!"
	willQoS     = 0
	willRetain  = false
)

// Default ports applied when the accessory URL omits one.
const (
	defaultTCPPort = "1883"
	defaultTLSPort = "8883"
)

// BrokerURL converts an accessory URL into a paho broker address.
//
// mqtt:// becomes tcp://, mqtts:// and tls:// become ssl://, tcp://, ssl://,
// ws:// and wss:// are kept. A URL without a scheme is treated as tcp://.
// tcp and ssl brokers without a port get 1883 and 8883 respectively.
// Credentials in the URL are not part of the address; see Connect.
//
// Returns:
//   - string: Broker address for pahomqtt.ClientOptions.AddBroker
//   - error: ErrInvalidBrokerURL if the URL is empty, unparsable or uses an unknown scheme
func BrokerURL(raw string) (string, error) {
	broker, _, err := parseBrokerURL(raw)
	return broker, err
}

// parseBrokerURL returns the paho broker address and any user:password
// carried in raw.
func parseBrokerURL(raw string) (string, *url.Userinfo, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil, fmt.Errorf("%w: empty", ErrInvalidBrokerURL)
	}
	if !strings.Contains(raw, "://") {
		raw = "tcp://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrInvalidBrokerURL, err)
	}
	if u.Hostname() == "" {
		return "", nil, fmt.Errorf("%w: missing host in %q", ErrInvalidBrokerURL, raw)
	}

	var scheme, port string
	switch strings.ToLower(u.Scheme) {
	case "mqtt", "tcp":
		scheme, port = "tcp", defaultTCPPort
	case "mqtts", "ssl", "tls":
		scheme, port = "ssl", defaultTLSPort
	case "ws", "wss":
		ws := url.URL{
			Scheme:   strings.ToLower(u.Scheme),
			Host:     u.Host,
			Path:     u.Path,
			RawQuery: u.RawQuery,
		}
		return ws.String(), u.User, nil
	default:
		return "", nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidBrokerURL, u.Scheme)
	}

	host := u.Host
	if u.Port() == "" {
		host = u.Host + ":" + port
	}
	return scheme + "://" + host, u.User, nil
}

// withURLCredentials fills username and password from the broker URL
// when the accessory leaves them unset.
func withURLCredentials(acc config.AccessoryConfig, user *url.Userinfo) config.AccessoryConfig {
	if user == nil || acc.Username != "" {
		return acc
	}
	acc.Username = user.Username()
	if password, ok := user.Password(); ok && acc.Password == "" {
		acc.Password = password
	}
	return acc
}

// isSecure reports whether a broker address needs a TLS config.
func isSecure(brokerURL string) bool {
	return strings.HasPrefix(brokerURL, "ssl://") || strings.HasPrefix(brokerURL, "wss://")
}

// newClientID returns "mqttjs_" followed by 8 random hex characters.
func newClientID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return clientIDPrefix + id[:8]
}

// buildClientOptions creates paho MQTT options for one accessory.
//
// This configures:
//   - Broker address and client id
//   - Authentication credentials (if provided)
//   - Clean session, 10s keepalive, 30s connect timeout, 5s write timeout
//   - Connect and reconnect retries at a fixed one second interval
//   - TLS for ssl:// and wss:// brokers
func buildClientOptions(brokerURL, clientID string, acc config.AccessoryConfig, cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)

	if acc.Username != "" {
		opts.SetUsername(acc.Username)
		opts.SetPassword(acc.Password)
	}

	opts.SetCleanSession(true)

	// The broker may not be up yet; keep trying the first connection too.
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(defaultReconnectInterval)
	opts.SetMaxReconnectInterval(defaultReconnectInterval)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	opts.SetWriteTimeout(defaultWriteTimeout)

	if isSecure(brokerURL) {
		opts.SetTLSConfig(&tls.Config{
			MinVersion:         tlsMinVersion,
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // mqtt.insecure_skip_verify
		})
	}

	return opts
}

// configureLWT registers the Last Will and Testament.
func configureLWT(opts *pahomqtt.ClientOptions) {
	opts.SetWill(willTopic, willPayload, willQoS, willRetain)
}

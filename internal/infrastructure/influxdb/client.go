package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/mqttlightbulb/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds
)

// Logger is the subset of logging.Logger used for asynchronous write errors.
type Logger interface {
	Warn(msg string, args ...any)
}

// Client queues light state points for one InfluxDB bucket.
//
// Writes never block the caller: points are batched by the WriteAPI and
// flushed every flush_interval seconds or batch_size points, whichever
// comes first. Safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	bucket   string

	mu     sync.RWMutex
	open   bool
	logger Logger
}

// Connect creates a client and pings the server before returning.
//
// Parameters:
//   - cfg: influxdb section of config.yaml
//   - logger: Receives asynchronous write failures (may be nil)
//
// Returns:
//   - *Client: Client ready for RecordStateChange
//   - error: ErrDisabled, or ErrConnectionFailed if the ping fails
func Connect(cfg config.InfluxDBConfig, logger Logger) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(positiveOr(cfg.BatchSize, defaultBatchSize)).
		SetFlushInterval(positiveOr(cfg.FlushInterval, defaultFlushInterval) * uint(time.Second/time.Millisecond))

	raw := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := ping(ctx, raw); err != nil {
		raw.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.URL, err)
	}

	c := newClient(raw, raw.WriteAPI(cfg.Org, cfg.Bucket), cfg.Bucket, logger)
	go c.drainErrors(c.writeAPI.Errors())
	return c, nil
}

func newClient(raw influxdb2.Client, writeAPI api.WriteAPI, bucket string, logger Logger) *Client {
	return &Client{
		client:   raw,
		writeAPI: writeAPI,
		bucket:   bucket,
		open:     true,
		logger:   logger,
	}
}

// drainErrors logs write failures until the WriteAPI closes the channel.
func (c *Client) drainErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		logger := c.logger
		c.mu.RUnlock()

		if logger != nil {
			logger.Warn("influxdb write failed", "bucket", c.bucket, "error", err)
		}
	}
}

// Close flushes queued points and releases the HTTP client.
// Later writes are dropped.
func (c *Client) Close() error {
	c.mu.Lock()
	wasOpen := c.open
	c.open = false
	c.mu.Unlock()

	if !wasOpen {
		return nil
	}

	c.writeAPI.Flush()
	if c.client != nil {
		c.client.Close()
	}
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := ping(ctx, c.client); err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	return nil
}

// IsConnected reports whether the client accepts writes.
// It does not contact the server; use HealthCheck for that.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}

// Flush sends queued points now. No-op after Close.
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}

func ping(ctx context.Context, raw influxdb2.Client) error {
	healthy, err := raw.Ping(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return fmt.Errorf("server not healthy")
	}
	return nil
}

// positiveOr returns v as a uint, or def when v is not positive.
func positiveOr(v, def int) uint {
	if v <= 0 {
		return uint(def) // #nosec G115 -- constant default
	}
	return uint(v) // #nosec G115 -- checked above
}

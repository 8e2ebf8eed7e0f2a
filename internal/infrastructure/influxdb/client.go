package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/homegateway/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Client is the telemetry sink for device readings and derived state
// transitions. Writes are batched and never block the caller; failures
// arrive asynchronously through SetOnError.
//
// A nil *Client is valid and drops every write, so actors do not need to
// branch on whether telemetry is enabled.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	mu        sync.RWMutex
	connected bool
	onError   func(err error)

	queued atomic.Uint64
	failed atomic.Uint64
}

// Option adjusts the client at Connect time.
type Option func(*influxdb2.Options)

// WithSiteTag adds a site tag to every point so several gateways can share
// one bucket.
func WithSiteTag(siteID string) Option {
	return func(o *influxdb2.Options) {
		if siteID != "" {
			o.AddDefaultTag("site", siteID)
		}
	}
}

// Connect pings the server and returns a client writing to cfg.Bucket.
//
// Parameters:
//   - cfg: InfluxDB configuration from config.yaml
//   - opts: Optional point defaults such as WithSiteTag
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrDisabled when telemetry is switched off, ErrConnectionFailed otherwise
func Connect(cfg config.InfluxDBConfig, opts ...Option) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := defaultBatchSize
	if cfg.BatchSize > 0 {
		batchSize = cfg.BatchSize
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	options := influxdb2.DefaultOptions().
		SetBatchSize(uint(batchSize)). //nolint:gosec // G115: positive by construction
		SetFlushInterval(uint(flush.Milliseconds()))
	for _, opt := range opts {
		opt(options)
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, options)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil || !healthy {
		client.Close()
		if err == nil {
			err = fmt.Errorf("server at %s not ready", cfg.URL)
		}
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		connected: true,
	}
	go c.drainErrors()
	return c, nil
}

// drainErrors runs until the write API is closed.
func (c *Client) drainErrors() {
	for err := range c.writeAPI.Errors() {
		c.failed.Add(1)

		c.mu.RLock()
		cb := c.onError
		c.mu.RUnlock()
		if cb != nil {
			cb(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// Close flushes buffered points and releases the client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(ctx)
	switch {
	case err != nil:
		return fmt.Errorf("influxdb health check: %w", err)
	case !healthy:
		return fmt.Errorf("influxdb health check: server not ready")
	}
	return nil
}

// IsConnected reports whether writes are being accepted.
func (c *Client) IsConnected() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SetOnError registers the callback for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Stats counts points handed to the batcher and batches the server refused.
type Stats struct {
	Queued uint64 `json:"queued"`
	Failed uint64 `json:"failed"`
}

// Stats returns the write counters. A nil client reports zeros.
func (c *Client) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{Queued: c.queued.Load(), Failed: c.failed.Load()}
}

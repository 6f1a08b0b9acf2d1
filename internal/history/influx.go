// Package history records property changes and power-line activity as
// InfluxDB time series.
package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

var (
	ErrDisabled         = errors.New("history: disabled in configuration")
	ErrConnectionFailed = errors.New("history: connection failed")
)

const (
	connectTimeout       = 10 * time.Second
	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds
)

// Config holds the InfluxDB connection settings.
type Config struct {
	Enabled       bool
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     int
	FlushInterval int // seconds
}

// Point is one measurement handed to a Writer.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]any
	Time        time.Time
}

// Writer accepts points for asynchronous delivery.
type Writer interface {
	Write(p Point)
	Flush()
	Close() error
}

// Client writes points to InfluxDB through the batching write API.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	mu      sync.RWMutex
	closed  bool
	onError func(error)
}

// Connect pings the server and prepares a non-blocking write API.
func Connect(cfg Config) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = defaultFlushInterval
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batch)).
			SetFlushInterval(uint(flush)*1000))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := &Client{client: client, writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket)}
	go c.drainErrors(c.writeAPI.Errors())
	return c, nil
}

// SetOnError installs a callback for asynchronous write failures.
func (c *Client) SetOnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

func (c *Client) drainErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		fn := c.onError
		c.mu.RUnlock()
		if fn != nil {
			fn(err)
		}
	}
}

func (c *Client) Write(p Point) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(p.Measurement, p.Tags, p.Fields, p.Time))
}

func (c *Client) Flush() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.closed {
		c.writeAPI.Flush()
	}
}

// Close flushes pending points and closes the client.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

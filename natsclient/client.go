// Package natsclient manages the NATS connection used for durable workflow
// state: JetStream access, KV bucket management, and a KV wrapper with
// compare-and-swap retry semantics.
package natsclient

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/journeykit/errors"
	"github.com/c360/journeykit/metric"
)

// ConnectionStatus represents the client connection state
type ConnectionStatus int

// Connection states
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Client wraps a NATS connection with lifecycle management and metrics
type Client struct {
	url           string
	name          string
	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	mu     sync.RWMutex
	conn   *nats.Conn
	js     jetstream.JetStream
	status ConnectionStatus

	closeMu sync.Mutex
	closed  atomic.Bool

	logger  *slog.Logger
	metrics *metric.Metrics
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithName sets the connection name reported to the server
func WithName(name string) ClientOption {
	return func(c *Client) { c.name = name }
}

// WithMaxReconnects sets the reconnect attempt limit (-1 = unlimited)
func WithMaxReconnects(n int) ClientOption {
	return func(c *Client) { c.maxReconnects = n }
}

// WithReconnectWait sets the delay between reconnect attempts
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) { c.reconnectWait = d }
}

// WithTimeout sets the connect timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithDrainTimeout bounds connection draining during Close
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.drainTimeout = d }
}

// WithClientLogger sets the structured logger
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics wires connection gauges into the core metrics
func WithMetrics(m *metric.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a client for the given NATS URL. Connect must be called
// before any messaging or KV operation.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("empty URL"), "Client", "NewClient", "validate URL")
	}

	c := &Client{
		url:           url,
		name:          "journeykit",
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  5 * time.Second,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL returns the configured server URL
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// IsHealthy reports whether the underlying connection is usable
func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordNATSStatus(status == StatusConnected)
	}
}

// Connect establishes the connection and initializes JetStream
func (c *Client) Connect(ctx context.Context) error {
	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS", "url", c.url)

	opts := []nats.Option{
		nats.Name(c.name),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("NATS disconnected", "error", err)
			if c.metrics != nil {
				c.metrics.RecordNATSStatus(false)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.logger.Info("NATS reconnected")
			if c.metrics != nil {
				c.metrics.RecordNATSStatus(true)
				c.metrics.RecordNATSReconnect()
			}
		}),
	}

	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		if err != nil {
			connectDone <- err
			return
		}

		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			connectDone <- err
			return
		}

		c.mu.Lock()
		c.conn = conn
		c.js = js
		c.mu.Unlock()
		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			c.setStatus(StatusDisconnected)
			return errors.WrapTransient(err, "Client", "Connect", "establish connection")
		}
	case <-ctx.Done():
		c.setStatus(StatusDisconnected)
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	c.setStatus(StatusConnected)
	c.logger.Info("Connected to NATS", "url", c.url)
	return nil
}

// Close drains and closes the connection. Safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Load() {
		return nil
	}
	c.closed.Store(true)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.status = StatusDisconnected
		return nil
	}

	drainTimeout := c.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
			drainTimeout = remaining
		}
	}

	var drainErr error
	drainDone := make(chan error, 1)
	go func() {
		drainDone <- c.conn.Drain()
	}()

	select {
	case err := <-drainDone:
		if err != nil {
			drainErr = errors.Wrap(err, "Client", "Close", "drain connection")
		}
	case <-time.After(drainTimeout):
		drainErr = errors.WrapTransient(
			fmt.Errorf("drain timeout after %v", drainTimeout),
			"Client", "Close", "drain connection")
	case <-ctx.Done():
		drainErr = errors.Wrap(ctx.Err(), "Client", "Close", "drain connection")
	}

	c.conn.Close()
	c.conn = nil
	c.js = nil
	c.status = StatusDisconnected

	if c.metrics != nil {
		c.metrics.RecordNATSStatus(false)
	}
	return drainErr
}

// GetConnection returns the raw NATS connection (nil before Connect)
func (c *Client) GetConnection() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// JetStream returns the JetStream context
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.js == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("not connected"), "Client", "JetStream", "get JetStream context")
	}
	return c.js, nil
}

// Publish publishes data to a core NATS subject
func (c *Client) Publish(subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return errors.WrapTransient(
			fmt.Errorf("not connected"), "Client", "Publish", "publish "+subject)
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish "+subject)
	}
	return nil
}

// Subscribe subscribes a handler to a core NATS subject
func (c *Client) Subscribe(subject string, handler func([]byte)) (*nats.Subscription, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("not connected"), "Client", "Subscribe", "subscribe "+subject)
	}

	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Subscribe", "subscribe "+subject)
	}
	return sub, nil
}

// CreateKeyValueBucket creates a KV bucket, returning the existing bucket
// if one with the same name is already present.
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	kv, err := js.CreateKeyValue(ctx, cfg)
	if err != nil {
		if isAlreadyExistsError(err) {
			return js.KeyValue(ctx, cfg.Bucket)
		}
		return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket",
			"create bucket "+cfg.Bucket)
	}
	return kv, nil
}

// GetKeyValueBucket returns an existing KV bucket
func (c *Client) GetKeyValueBucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	kv, err := js.KeyValue(ctx, name)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "GetKeyValueBucket",
			"get bucket "+name)
	}
	return kv, nil
}

func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "already in use") ||
		strings.Contains(msg, "already exists")
}

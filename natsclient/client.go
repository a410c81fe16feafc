// Package natsclient manages the NATS connection the pipeline uses for
// cluster-change notifications and the JetStream KV matchpoint store.
package natsclient

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/openlibraryenvironment/dcb-service-sub007/errors"
	"github.com/openlibraryenvironment/dcb-service-sub007/metric"
)

// Well-known connection errors.
var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrNoJetStream  = stderrors.New("JetStream not initialized")
)

// Client wraps one NATS connection plus its JetStream context. Connection
// state transitions are reported through slog and the NATS metrics gauges.
type Client struct {
	url    string
	logger *slog.Logger

	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	clientName    string
	username      string
	password      string
	token         string

	metrics *metric.Metrics

	mu     sync.RWMutex
	conn   *nats.Conn
	js     jetstream.JetStream
	closed bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics enables connection-state metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithName sets the client name reported to the server.
func WithName(name string) Option {
	return func(c *Client) { c.clientName = name }
}

// WithCredentials sets username/password authentication.
func WithCredentials(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithToken sets token authentication.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithTimeout sets the connect timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithMaxReconnects sets the reconnect attempt cap (-1 = infinite).
func WithMaxReconnects(n int) Option {
	return func(c *Client) { c.maxReconnects = n }
}

// NewClient creates a client for the given server URL. Connect must be
// called before any operation.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:           url,
		logger:        slog.Default(),
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		pingInterval:  30 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the configured server URL.
func (c *Client) URL() string { return c.url }

// Connect establishes the connection and initializes JetStream.
func (c *Client) Connect(ctx context.Context) error {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}
	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return errors.WrapTransient(r.err, "Client", "Connect", "establish connection")
		}
		js, err := jetstream.New(r.conn)
		if err != nil {
			r.conn.Close()
			return errors.Wrap(err, "Client", "Connect", "initialize JetStream")
		}
		c.mu.Lock()
		c.conn = r.conn
		c.js = js
		c.mu.Unlock()
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	c.logger.Info("connected to NATS", "url", c.url)
	if c.metrics != nil {
		c.metrics.RecordNATSStatus(true)
	}
	return nil
}

// IsConnected reports whether the underlying connection is up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Publish publishes a message on a core NATS subject.
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	return conn.Publish(subject, data)
}

// JetStream returns the JetStream context.
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.js == nil {
		return nil, errors.WrapTransient(ErrNoJetStream, "Client", "JetStream", "get JetStream context")
	}
	return c.js, nil
}

// KeyValue opens a KV bucket, creating it when absent.
func (c *Client) KeyValue(ctx context.Context, bucket string) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	kv, err := js.KeyValue(ctx, bucket)
	if err == nil {
		return kv, nil
	}
	if !stderrors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, errors.Wrap(err, "Client", "KeyValue", "open bucket")
	}

	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: bucket})
	if err != nil {
		return nil, errors.Wrap(err, "Client", "KeyValue", "create bucket")
	}
	c.logger.Info("created KV bucket", "bucket", bucket)
	return kv, nil
}

// Close drains and closes the connection. Safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.conn == nil {
		return nil
	}

	drainTimeout := c.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
			drainTimeout = remaining
		}
	}

	drainDone := make(chan error, 1)
	go func() { drainDone <- c.conn.Drain() }()

	var drainErr error
	select {
	case err := <-drainDone:
		if err != nil {
			drainErr = errors.Wrap(err, "Client", "Close", "drain connection")
		}
	case <-time.After(drainTimeout):
		drainErr = errors.WrapTransient(stderrors.New("drain timeout"), "Client", "Close", "drain connection")
		c.logger.Warn("drain timed out, force closing", "timeout", drainTimeout)
	case <-ctx.Done():
		drainErr = errors.Wrap(ctx.Err(), "Client", "Close", "drain cancelled")
	}

	c.conn.Close()
	c.conn = nil
	c.js = nil
	c.username = ""
	c.password = ""
	c.token = ""

	if c.metrics != nil {
		c.metrics.RecordNATSStatus(false)
	}
	return drainErr
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	c.logger.Warn("NATS disconnected", "error", err)
	if c.metrics != nil {
		c.metrics.RecordNATSStatus(false)
	}
}

func (c *Client) handleReconnect(conn *nats.Conn) {
	c.logger.Info("NATS reconnected", "url", conn.ConnectedUrl())
	if c.metrics != nil {
		c.metrics.RecordNATSStatus(true)
		c.metrics.RecordNATSReconnect()
	}
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.logger.Info("NATS connection closed")
	if c.metrics != nil {
		c.metrics.RecordNATSStatus(false)
	}
}

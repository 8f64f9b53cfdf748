// Package natsclient manages the NATS connection shared by the KV storage
// backend and the tracking dispatcher. It adds connection status tracking,
// a failure threshold that stops reconnect storms, and structured logging of
// connection events over the raw nats.go connection.
package natsclient

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/messagekit/errors"
)

// ConnectionStatus represents the state of the NATS connection.
type ConnectionStatus int32

// Possible connection statuses.
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusClosed
)

// String returns the string representation of ConnectionStatus.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sentinel errors.
var (
	ErrNotConnected      = stderrors.New("not connected to NATS")
	ErrConnectionTimeout = stderrors.New("connection timeout")
)

// Client wraps a NATS connection with lifecycle management.
type Client struct {
	urls   []string
	opts   []nats.Option
	logger *slog.Logger

	mu     sync.RWMutex
	nc     *nats.Conn
	status atomic.Int32

	reconnects atomic.Int64
	connected  chan struct{}
}

// New creates a client for the given server URLs. The client does not
// connect until Connect is called.
func New(urls []string, logger *slog.Logger, options ...Option) (*Client, error) {
	if len(urls) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Client", "New", "read server urls")
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		urls:      urls,
		logger:    logger.With("component", "natsclient.Client"),
		connected: make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Connect dials the configured servers. Reconnection is handled by nats.go;
// the client only observes and logs the transitions.
func (c *Client) Connect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nc != nil {
		return nil
	}
	c.status.Store(int32(StatusConnecting))

	opts := append([]nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.status.Store(int32(StatusReconnecting))
			c.logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.status.Store(int32(StatusConnected))
			c.reconnects.Add(1)
			c.logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.status.Store(int32(StatusClosed))
			c.logger.Info("NATS connection closed")
		}),
	}, c.opts...)

	nc, err := nats.Connect(joinURLs(c.urls), opts...)
	if err != nil {
		c.status.Store(int32(StatusDisconnected))
		return errors.WrapTransient(err, "Client", "Connect", "dial NATS servers")
	}

	c.nc = nc
	c.status.Store(int32(StatusConnected))
	close(c.connected)
	c.logger.Info("NATS connected", "url", nc.ConnectedUrl())
	return nil
}

// WaitForConnection blocks until the first successful connect or ctx expiry.
func (c *Client) WaitForConnection(ctx context.Context) error {
	select {
	case <-c.connected:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ErrConnectionTimeout,
			"Client", "WaitForConnection", "wait for NATS connection")
	}
}

// Conn returns the underlying connection, or an error when not connected.
func (c *Client) Conn() (*nats.Conn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.nc == nil || c.Status() == StatusClosed {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "Conn", "read connection")
	}
	return c.nc, nil
}

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

// Reconnects returns the observed reconnect count.
func (c *Client) Reconnects() int64 {
	return c.reconnects.Load()
}

// Close drains and closes the connection. Drain lets in-flight tracking
// publishes flush before teardown.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nc == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- c.nc.Drain()
	}()

	select {
	case err := <-done:
		if err != nil {
			c.nc.Close()
		}
	case <-ctx.Done():
		c.nc.Close()
	}

	c.nc = nil
	c.status.Store(int32(StatusClosed))
	return nil
}

func joinURLs(urls []string) string {
	out := urls[0]
	for _, u := range urls[1:] {
		out += "," + u
	}
	return out
}

package natsclient

import (
	"time"

	"github.com/nats-io/nats.go"
)

// Option customizes a Client at construction time.
type Option func(*Client)

// WithCredentials sets username and password authentication.
func WithCredentials(username, password string) Option {
	return func(c *Client) {
		c.opts = append(c.opts, nats.UserInfo(username, password))
	}
}

// WithToken sets token authentication.
func WithToken(token string) Option {
	return func(c *Client) {
		c.opts = append(c.opts, nats.Token(token))
	}
}

// WithReconnect overrides the reconnect policy. maxReconnects of -1 retries
// forever.
func WithReconnect(maxReconnects int, wait time.Duration) Option {
	return func(c *Client) {
		c.opts = append(c.opts, nats.MaxReconnects(maxReconnects), nats.ReconnectWait(wait))
	}
}

// WithName sets the connection name visible in NATS monitoring.
func WithName(name string) Option {
	return func(c *Client) {
		c.opts = append(c.opts, nats.Name(name))
	}
}

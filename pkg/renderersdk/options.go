package renderersdk

import (
	"log/slog"
	"time"
)

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token presented to the host.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithActor claims a specific actor id instead of letting the host assign
// one.
func WithActor(id int) Option {
	return func(c *Client) { c.actor = id }
}

// WithLogger sets a custom slog.Logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithCallTimeout bounds every call to the host.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

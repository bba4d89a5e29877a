package client

import "github.com/rs/zerolog"

// Option customizes a Client at construction time.
type Option func(*Client)

// WithLogger sets the logger used by the client and its retry policy.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

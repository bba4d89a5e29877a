package core

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
)

// Default exchange endpoints.
const (
	DefaultPublicURL  = "https://poloniex.com/public"
	DefaultTradingURL = "https://poloniex.com/tradingApi"
	DefaultFeedURL    = "wss://api2.poloniex.com/"
)

// DefaultRetryDelays is the bounded backoff schedule applied around each
// dispatch: sleep each delay in order between attempts, with one final
// attempt after the last delay.
var DefaultRetryDelays = []time.Duration{0, 2 * time.Second, 5 * time.Second, 30 * time.Second}

// Credentials holds the API key pair used to sign private requests.
// Immutable for the lifetime of the client that owns them.
type Credentials struct {
	// Key is the public API key identifier, sent in the Key header.
	Key string `json:"key"`
	// Secret is the shared secret used for request MACs.
	Secret string `json:"secret"`
}

// Valid reports whether both key and secret are present.
func (c *Credentials) Valid() bool {
	return c != nil && c.Key != "" && c.Secret != ""
}

// Config contains all options for a client instance: endpoints,
// authentication, networking, rate limiting, retry schedule, decoding, and
// circuit breaker settings.
type Config struct {
	PublicURL  string `json:"public_url" validate:"required,url"`
	TradingURL string `json:"trading_url" validate:"required,url"`
	FeedURL    string `json:"feed_url" validate:"required"`

	Credentials *Credentials `json:"credentials,omitempty"`

	// Timeout is the maximum duration for a single HTTP attempt.
	Timeout time.Duration `json:"timeout" validate:"min=1ms"`

	// RateLimitRequests per RateLimitPeriod is the ceiling the coordinator
	// enforces on every outbound network operation.
	RateLimitRequests int           `json:"rate_limit_requests" validate:"min=1"`
	RateLimitPeriod   time.Duration `json:"rate_limit_period" validate:"min=1ms"`

	// RetryDelays is the backoff schedule between dispatch attempts.
	RetryDelays []time.Duration `json:"retry_delays" validate:"required,min=1"`

	// DecodeMode controls JSON number decoding; DecodeExact by default.
	DecodeMode DecodeMode `json:"decode_mode"`

	CircuitBreakerEnabled          bool          `json:"circuit_breaker_enabled"`
	CircuitBreakerFailThreshold    int           `json:"circuit_breaker_fail_threshold"`
	CircuitBreakerSuccessThreshold int           `json:"circuit_breaker_success_threshold"`
	CircuitBreakerTimeout          time.Duration `json:"circuit_breaker_timeout"`

	LogLevel string `json:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// DefaultConfig returns a Config initialized with the production endpoints
// and the exchange's documented limits: 6 requests per second, the
// [0, 2, 5, 30]s retry schedule, exact-precision decoding, and a 10s timeout.
func DefaultConfig() *Config {
	return &Config{
		PublicURL:  DefaultPublicURL,
		TradingURL: DefaultTradingURL,
		FeedURL:    DefaultFeedURL,

		Timeout: 10 * time.Second,

		RateLimitRequests: 6,
		RateLimitPeriod:   time.Second,

		RetryDelays: DefaultRetryDelays,
		DecodeMode:  DecodeExact,

		CircuitBreakerEnabled:          false,
		CircuitBreakerFailThreshold:    5,
		CircuitBreakerSuccessThreshold: 2,
		CircuitBreakerTimeout:          30 * time.Second,

		LogLevel: "info",
	}
}

var validate = validator.New()

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	for _, d := range c.RetryDelays {
		if d < 0 {
			return errors.New("RetryDelays must be non-negative")
		}
	}
	if c.CircuitBreakerEnabled {
		if c.CircuitBreakerFailThreshold <= 0 {
			return errors.New("CircuitBreakerFailThreshold must be positive when enabled")
		}
		if c.CircuitBreakerSuccessThreshold <= 0 {
			return errors.New("CircuitBreakerSuccessThreshold must be positive when enabled")
		}
		if c.CircuitBreakerTimeout <= 0 {
			return errors.New("CircuitBreakerTimeout must be positive when enabled")
		}
	}
	return nil
}

// HasCredentials reports whether a usable API key pair is configured.
func (c *Config) HasCredentials() bool {
	return c.Credentials.Valid()
}

// WithCredentials sets the API credentials and returns the config for chaining.
func (c *Config) WithCredentials(creds *Credentials) *Config {
	c.Credentials = creds
	return c
}

// WithTimeout sets the request timeout and returns the config for chaining.
func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.Timeout = timeout
	return c
}

// WithRateLimit sets the rate limiting parameters and returns the config for chaining.
func (c *Config) WithRateLimit(requests int, period time.Duration) *Config {
	c.RateLimitRequests = requests
	c.RateLimitPeriod = period
	return c
}

// WithRetryDelays sets the backoff schedule and returns the config for chaining.
func (c *Config) WithRetryDelays(delays []time.Duration) *Config {
	c.RetryDelays = delays
	return c
}

// WithDecodeMode sets the JSON number decoding policy and returns the config for chaining.
func (c *Config) WithDecodeMode(mode DecodeMode) *Config {
	c.DecodeMode = mode
	return c
}

// Package client implements the dispatch layer: command classification,
// nonce sequencing, request signing, rate coordination, and bounded retry
// around every exchange call.
package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"resty.dev/v3"

	"poloniex/internal/circuitbreaker"
	"poloniex/internal/nonce"
	"poloniex/internal/ratelimit"
	"poloniex/internal/retry"
	"poloniex/internal/sign"
	"poloniex/pkg/core"
)

// Client dispatches commands to the exchange. One instance serves one API
// key; the nonce stream, rate coordinator, and breaker state are all scoped
// to the instance and never shared across keys.
type Client struct {
	config  *core.Config
	http    *resty.Client
	nonces  *nonce.Sequencer
	coach   *ratelimit.Coordinator
	breaker *circuitbreaker.Breaker
	policy  *retry.Policy
	logger  zerolog.Logger
	json    sonic.API
}

// wireAlias maps commands whose on-the-wire name differs from the
// registered one. The public trade history endpoint answers to the private
// command's name.
var wireAlias = map[string]string{
	"marketTradeHist": "returnTradeHistory",
}

// New creates a Client from the given configuration. The configuration is
// validated up front; construction fails rather than producing a client
// that would fail on first use.
func New(config *core.Config, opts ...Option) (*Client, error) {
	if config == nil {
		config = core.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	httpClient := resty.New()
	httpClient.SetTimeout(config.Timeout)

	c := &Client{
		config: config,
		http:   httpClient,
		nonces: nonce.New(),
		coach:  ratelimit.New(config.RateLimitRequests, config.RateLimitPeriod),
		logger: zerolog.Nop(),
		json:   config.DecodeMode.API(),
	}

	if config.CircuitBreakerEnabled {
		c.breaker = circuitbreaker.New(circuitbreaker.Config{
			FailThreshold:    config.CircuitBreakerFailThreshold,
			SuccessThreshold: config.CircuitBreakerSuccessThreshold,
			Timeout:          config.CircuitBreakerTimeout,
		})
	}

	for _, opt := range opts {
		opt(c)
	}

	c.policy = retry.New(config.RetryDelays, c.logger)

	return c, nil
}

// Call dispatches a command with the given arguments and returns the
// decoded response. Unknown commands, missing credentials, and missing
// required parameters fail here, before any rate-limit or network cost.
// Transient failures are retried on the configured schedule; fatal ones
// propagate immediately.
func (c *Client) Call(ctx context.Context, command string, args url.Values) (any, error) {
	kind, err := core.Classify(command, c.config.HasCredentials())
	if err != nil {
		return nil, err
	}
	if err := core.ValidateArgs(command, args); err != nil {
		return nil, err
	}

	return retry.Do(ctx, c.policy, func(ctx context.Context) (any, error) {
		return c.attempt(ctx, kind, command, args)
	})
}

// attempt performs one full dispatch: argument preparation, nonce, MAC,
// coordinator gate, HTTP exchange, and response classification. It runs
// from scratch on every retry so each attempt carries a fresh nonce.
func (c *Client) attempt(ctx context.Context, kind core.Kind, command string, args url.Values) (any, error) {
	form := url.Values{}
	for k, vs := range args {
		form[k] = vs
	}
	wire := command
	if alias, ok := wireAlias[command]; ok {
		wire = alias
	}
	form.Set("command", wire)

	var signature string
	if kind == core.KindPrivate {
		form.Set("nonce", strconv.FormatInt(c.nonces.Next(), 10))
	}
	encoded := form.Encode()
	if kind == core.KindPrivate {
		signature = sign.MAC(c.config.Credentials.Secret, encoded)
	}

	if err := c.coach.Wait(ctx); err != nil {
		return nil, err
	}

	if c.breaker != nil && !c.breaker.Allow() {
		return nil, core.NewTransientError("circuit breaker open", nil)
	}

	var resp *resty.Response
	var err error
	if kind == core.KindPrivate {
		resp, err = c.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/x-www-form-urlencoded").
			SetHeader("Key", c.config.Credentials.Key).
			SetHeader("Sign", signature).
			SetBody(encoded).
			Post(c.config.TradingURL)
	} else {
		resp, err = c.http.R().
			SetContext(ctx).
			Get(c.config.PublicURL + "?" + encoded)
	}
	if err != nil {
		c.record(false)
		c.logger.Error().Err(err).Str("command", command).Msg("http request failed")
		return nil, core.NewTransientError("http request", err)
	}

	c.logger.Debug().
		Str("command", command).
		Str("kind", kind.String()).
		Int("status", resp.StatusCode()).
		Msg("dispatched")

	result, err := c.handleResponse(resp.StatusCode(), resp.Bytes())
	c.record(err == nil || !core.IsTransient(err))
	return result, err
}

// retryableStatus reports whether the HTTP status indicates gateway
// flakiness worth retrying.
func retryableStatus(status int) bool {
	return status == 502 || status == 504 || (status >= 520 && status <= 526)
}

// handleResponse classifies one exchange response. Gateway statuses and
// recoverable rejections come back transient; a body that is not valid
// JSON, or any other exchange-reported error, is fatal.
func (c *Client) handleResponse(status int, body []byte) (any, error) {
	if retryableStatus(status) {
		return nil, core.NewTransientError(fmt.Sprintf("gateway error %d", status), nil)
	}

	var payload any
	if err := c.json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidResponse, err)
	}

	if obj, ok := payload.(map[string]any); ok {
		if msg, ok := obj["error"].(string); ok {
			switch {
			case core.IsNonceRejection(msg):
				if server, ok := parseServerNonce(msg); ok {
					c.nonces.Resync(server)
					c.logger.Warn().Int64("server_nonce", server).Msg("nonce rejected, resynced")
				}
				return nil, core.NewTransientError("nonce rejected", &core.ExchangeError{Message: msg})
			case core.IsBusyRejection(msg):
				return nil, core.NewTransientError("exchange busy", &core.ExchangeError{Message: msg})
			default:
				return nil, &core.ExchangeError{Message: msg}
			}
		}
	}

	return payload, nil
}

// parseServerNonce extracts the authoritative value from a rejection like
// "Nonce must be greater than 1533...890. You provided 1000.": the last
// word of the first sentence.
func parseServerNonce(msg string) (int64, bool) {
	sentence, _, _ := strings.Cut(msg, ".")
	fields := strings.Fields(sentence)
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseInt(fields[len(fields)-1], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (c *Client) record(success bool) {
	if c.breaker != nil {
		c.breaker.Record(success)
	}
}

// AccountAuth produces the signed material for the feed's account channel:
// a fresh urlencoded nonce payload, its MAC, and the API key. Each call
// consumes one nonce; the result must not be reused.
func (c *Client) AccountAuth() (payload, signature, key string, err error) {
	if !c.config.HasCredentials() {
		return "", "", "", core.ErrMissingCredentials
	}
	form := url.Values{}
	form.Set("nonce", strconv.FormatInt(c.nonces.Next(), 10))
	payload = form.Encode()
	return payload, sign.MAC(c.config.Credentials.Secret, payload), c.config.Credentials.Key, nil
}

// Throttle blocks until the shared rate coordinator clears one outbound
// operation. The feed gates its subscribe and unsubscribe sends through
// this so socket traffic and HTTP calls draw from the same budget.
func (c *Client) Throttle(ctx context.Context) error {
	return c.coach.Wait(ctx)
}

// HasCredentials reports whether the client can issue private commands.
func (c *Client) HasCredentials() bool {
	return c.config.HasCredentials()
}

// Config returns the client configuration.
func (c *Client) Config() *core.Config {
	return c.config
}

// RateMetrics returns a snapshot of the rate coordinator's counters.
func (c *Client) RateMetrics() ratelimit.MetricsSnapshot {
	return c.coach.Snapshot()
}

// Close releases the underlying HTTP resources.
func (c *Client) Close() error {
	return c.http.Close()
}

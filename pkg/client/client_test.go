package client

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poloniex/internal/nonce"
	"poloniex/pkg/core"
)

func testConfig(publicURL, tradingURL string) *core.Config {
	cfg := core.DefaultConfig().
		WithRetryDelays([]time.Duration{0, 0}).
		WithRateLimit(1000, time.Second).
		WithTimeout(5 * time.Second)
	cfg.PublicURL = publicURL
	cfg.TradingURL = tradingURL
	return cfg
}

func testCredentials() *core.Credentials {
	return &core.Credentials{Key: "api-key", Secret: "api-secret"}
}

func TestCall_PublicSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "returnTicker", r.URL.Query().Get("command"))
		fmt.Fprint(w, `{"BTC_ETH":{"last":"0.030000000000000001"}}`)
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL, srv.URL))
	require.NoError(t, err)
	defer c.Close()

	result, err := c.Call(context.Background(), "returnTicker", nil)
	require.NoError(t, err)

	ticker := result.(map[string]any)["BTC_ETH"].(map[string]any)
	assert.Equal(t, json.Number("0.030000000000000001"), ticker["last"],
		"exact mode keeps full precision")
}

func TestCall_NativeDecodeMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"BTC_ETH":{"last":0.03}}`)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL, srv.URL).WithDecodeMode(core.DecodeNative)
	c, err := New(cfg)
	require.NoError(t, err)
	defer c.Close()

	result, err := c.Call(context.Background(), "returnTicker", nil)
	require.NoError(t, err)

	ticker := result.(map[string]any)["BTC_ETH"].(map[string]any)
	assert.Equal(t, 0.03, ticker["last"])
}

func TestCall_UnknownCommand(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL, srv.URL))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call(context.Background(), "stealAllFunds", nil)
	assert.ErrorIs(t, err, core.ErrInvalidCommand)
	assert.Zero(t, requests, "rejected before any network cost")
}

func TestCall_PrivateWithoutCredentials(t *testing.T) {
	c, err := New(testConfig("http://127.0.0.1:1", "http://127.0.0.1:1"))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call(context.Background(), "returnBalances", nil)
	assert.ErrorIs(t, err, core.ErrMissingCredentials)
}

func TestCall_MissingParameter(t *testing.T) {
	c, err := New(testConfig("http://127.0.0.1:1", "http://127.0.0.1:1").
		WithCredentials(testCredentials()))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call(context.Background(), "buy", url.Values{"currencyPair": {"BTC_ETH"}})
	assert.ErrorIs(t, err, core.ErrMissingParameter)
}

func TestCall_GatewayErrorsExhaustRetries(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL, srv.URL))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call(context.Background(), "returnTicker", nil)
	require.Error(t, err)
	assert.True(t, core.IsRetryExhausted(err))
	assert.Equal(t, 3, requests, "two delays means three attempts")
}

func TestCall_ExchangeErrorIsFatal(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		fmt.Fprint(w, `{"error":"Invalid currency pair."}`)
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL, srv.URL))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call(context.Background(), "returnTicker", nil)
	require.Error(t, err)

	var exchangeErr *core.ExchangeError
	require.ErrorAs(t, err, &exchangeErr)
	assert.Equal(t, "Invalid currency pair.", exchangeErr.Error(), "message kept verbatim")
	assert.Equal(t, 1, requests, "fatal rejection is not retried")
}

func TestCall_InvalidJSONIsFatal(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		fmt.Fprint(w, `<html>maintenance</html>`)
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL, srv.URL))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call(context.Background(), "returnTicker", nil)
	assert.ErrorIs(t, err, core.ErrInvalidResponse)
	assert.Equal(t, 1, requests)
}

func TestCall_PrivateSignature(t *testing.T) {
	creds := testCredentials()

	var gotKey, gotSign, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		gotKey = r.Header.Get("Key")
		gotSign = r.Header.Get("Sign")
		gotBody = string(body)
		fmt.Fprint(w, `{"available":{}}`)
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL, srv.URL).WithCredentials(creds))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call(context.Background(), "returnBalances", nil)
	require.NoError(t, err)

	assert.Equal(t, creds.Key, gotKey)

	// The MAC must cover the exact bytes that traveled as the body.
	mac := hmac.New(sha512.New, []byte(creds.Secret))
	mac.Write([]byte(gotBody))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSign)

	form, err := url.ParseQuery(gotBody)
	require.NoError(t, err)
	assert.Equal(t, "returnBalances", form.Get("command"))
	assert.NotEmpty(t, form.Get("nonce"))
}

func TestCall_FreshNoncePerAttempt(t *testing.T) {
	var nonces []int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		n, _ := strconv.ParseInt(form.Get("nonce"), 10, 64)
		nonces = append(nonces, n)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL, srv.URL).WithCredentials(testCredentials()))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call(context.Background(), "returnBalances", nil)
	require.Error(t, err)

	require.Len(t, nonces, 3)
	assert.Less(t, nonces[0], nonces[1])
	assert.Less(t, nonces[1], nonces[2])
}

func TestCall_NonceRejectionResyncs(t *testing.T) {
	const serverNonce = 1_700_000_000_000_123

	var nonces []int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		n, _ := strconv.ParseInt(form.Get("nonce"), 10, 64)
		nonces = append(nonces, n)

		if len(nonces) == 1 {
			fmt.Fprintf(w, `{"error":"Nonce must be greater than %d. You provided %d."}`, serverNonce, n)
			return
		}
		fmt.Fprint(w, `{"available":{}}`)
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL, srv.URL).WithCredentials(testCredentials()))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call(context.Background(), "returnBalances", nil)
	require.NoError(t, err)

	require.Len(t, nonces, 2)
	assert.GreaterOrEqual(t, nonces[1], int64(serverNonce)+nonce.Stride,
		"retry adopts the server's authoritative value")
}

func TestCall_BusyRejectionIsRetried(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			fmt.Fprint(w, `{"error":"Order book is busy, please try again."}`)
			return
		}
		fmt.Fprint(w, `{"success":1}`)
	}))
	defer srv.Close()

	c, err := New(testConfig(srv.URL, srv.URL).WithCredentials(testCredentials()))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call(context.Background(), "returnBalances", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, requests)
}

func TestParseServerNonce(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want int64
		ok   bool
	}{
		{
			name: "standard rejection",
			msg:  "Nonce must be greater than 1533930000000042. You provided 7.",
			want: 1533930000000042,
			ok:   true,
		},
		{
			name: "no number",
			msg:  "Nonce must be greater than what you sent.",
			ok:   false,
		},
		{
			name: "empty",
			msg:  "",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseServerNonce(tt.msg)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestAccountAuth(t *testing.T) {
	c, err := New(testConfig("http://127.0.0.1:1", "http://127.0.0.1:1").
		WithCredentials(testCredentials()))
	require.NoError(t, err)
	defer c.Close()

	payload1, sig1, key, err := c.AccountAuth()
	require.NoError(t, err)
	payload2, sig2, _, err := c.AccountAuth()
	require.NoError(t, err)

	assert.Equal(t, "api-key", key)
	assert.NotEqual(t, payload1, payload2, "every call consumes a fresh nonce")
	assert.NotEqual(t, sig1, sig2)

	form, err := url.ParseQuery(payload1)
	require.NoError(t, err)
	assert.NotEmpty(t, form.Get("nonce"))
}

func TestAccountAuth_NoCredentials(t *testing.T) {
	c, err := New(testConfig("http://127.0.0.1:1", "http://127.0.0.1:1"))
	require.NoError(t, err)
	defer c.Close()

	_, _, _, err = c.AccountAuth()
	assert.ErrorIs(t, err, core.ErrMissingCredentials)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.PublicURL = ""

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNew_CircuitBreaker(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL, srv.URL)
	cfg.CircuitBreakerEnabled = true
	cfg.CircuitBreakerFailThreshold = 2
	cfg.CircuitBreakerSuccessThreshold = 1
	cfg.CircuitBreakerTimeout = time.Minute

	c, err := New(cfg)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call(context.Background(), "returnTicker", nil)
	require.Error(t, err)
	assert.True(t, core.IsRetryExhausted(err))
	assert.Equal(t, 2, requests, "breaker opens after two failures and short-circuits the rest")
}

// Package upbit is the REST client for the Upbit spot exchange: market list,
// tickers, candles, accounts and orders.
package upbit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"upbitmt/internal/config"
	"upbitmt/internal/gateway/exchange"
	"upbitmt/internal/logger"
	"upbitmt/internal/pkg/text"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	signer     *signer
	limiter    *rate.Limiter
	loc        *time.Location
}

func NewClient(cfg config.UpbitConfig, loc *time.Location) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("upbit.base_url cannot be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse upbit.base_url: %w", err)
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 8
	}
	if loc == nil {
		loc = time.FixedZone("KST", 9*60*60)
	}
	c := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)),
		loc:        loc,
	}
	if cfg.HasCredentials() {
		c.signer = newSigner(strings.TrimSpace(cfg.AccessKey), strings.TrimSpace(cfg.SecretKey))
	}
	return c, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Authenticated reports whether private endpoints can be called.
func (c *Client) Authenticated() bool {
	return c.signer != nil
}

// doRequest sends GET params as the query string and POST params as a JSON
// body. Failures come back as *exchange.APIError; Status 0 means no response
// was received.
func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, private bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &exchange.APIError{Message: "request pacing: " + err.Error(), Kind: exchange.ErrMarketUnavailable, NotSent: true}
	}
	endpoint := c.resolveEndpoint(path)
	var body io.Reader
	if method == http.MethodGet {
		endpoint.RawQuery = params.Encode()
	} else if len(params) > 0 {
		payload := make(map[string]string, len(params))
		for k := range params {
			payload[k] = params.Get(k)
		}
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	if private {
		if c.signer == nil {
			return nil, &exchange.APIError{Status: http.StatusUnauthorized, Message: "no upbit credentials configured", Kind: exchange.ErrAuth}
		}
		token, err := c.signer.token(params)
		if err != nil {
			return nil, &exchange.APIError{Message: "sign request: " + err.Error(), Kind: exchange.ErrMarketUnavailable, NotSent: true}
		}
		req.Header.Set("Authorization", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &exchange.APIError{Message: err.Error(), Kind: exchange.ErrMarketUnavailable, NotSent: neverSent(err)}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &exchange.APIError{Status: resp.StatusCode, Message: err.Error(), Kind: exchange.ErrMarketUnavailable}
	}
	if remaining := resp.Header.Get("Remaining-Req"); remaining != "" {
		logger.Debugf("upbit %s %s remaining=%s", method, path, remaining)
	}
	if resp.StatusCode >= 300 {
		return nil, classify(resp.StatusCode, data)
	}
	return data, nil
}

// neverSent reports transport failures that happen before any byte of the
// request is written: connection setup and name resolution.
func neverSent(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// classify maps an error response onto the exchange error taxonomy.
func classify(status int, body []byte) error {
	name := gjson.GetBytes(body, "error.name").String()
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = text.Truncate(strings.TrimSpace(string(body)), 512)
	}
	apiErr := &exchange.APIError{Status: status, Name: name, Message: msg}
	switch {
	case status == http.StatusUnauthorized:
		apiErr.Kind = exchange.ErrAuth
	case status == http.StatusTooManyRequests || status == http.StatusTeapot:
		apiErr.Kind = exchange.ErrRateLimited
	case status >= 500:
		apiErr.Kind = exchange.ErrMarketUnavailable
	case strings.HasPrefix(name, "insufficient_funds"):
		apiErr.Kind = exchange.ErrInsufficientFunds
	case strings.HasPrefix(name, "under_min_total"):
		apiErr.Kind = exchange.ErrMinNotionalNotMet
	case name == "invalid_access_key" || name == "jwt_verification" || name == "expired_access_key" || name == "no_authorization_ip" || name == "out_of_scope":
		apiErr.Kind = exchange.ErrAuth
	}
	return apiErr
}

func (c *Client) resolveEndpoint(path string) *url.URL {
	trimmed := strings.TrimSpace(path)
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	base := *c.baseURL
	base.Path = strings.TrimSuffix(base.Path, "/") + trimmed
	base.RawPath = ""
	base.RawQuery = ""
	base.Fragment = ""
	return &base
}

// Package taostats is a client for the taostats.io REST API.
//
// Every request goes through Client.Get, which is the only network failure
// boundary: HTTP 429 responses are retried after a fixed cooldown for as long
// as the server keeps throttling, and everything else that is not a 2xx with
// a well-formed body comes back as an *UpstreamError.
package taostats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/arkiv/chain-observer/internal/metrics"
)

const (
	DefaultBaseURL  = "https://api.taostats.io"
	DefaultCooldown = 20 * time.Second

	maxBodyBytes = 10 * 1024 * 1024
)

// Config configures a Client. Zero values select the defaults.
type Config struct {
	BaseURL string
	APIKey  string

	// Cooldown is the fixed wait after each 429 response.
	Cooldown time.Duration
	// RequestsPerSecond paces outgoing requests; 0 disables pacing.
	RequestsPerSecond float64

	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *metrics.Metrics

	// NewTimer supplies the timer used for cooldown waits. Tests replace it
	// to avoid real sleeping.
	NewTimer func() backoff.Timer
}

type Client struct {
	baseURL  string
	apiKey   string
	cooldown time.Duration
	http     *http.Client
	limiter  *rate.Limiter
	log      *slog.Logger
	metrics  *metrics.Metrics
	newTimer func() backoff.Timer
}

func New(cfg Config) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		cooldown: cfg.Cooldown,
		http:     cfg.HTTPClient,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		newTimer: cfg.NewTimer,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.cooldown <= 0 {
		c.cooldown = DefaultCooldown
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: time.Minute}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	} else {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return c
}

// Get issues GET baseURL+path?params and decodes the JSON body into out.
// It blocks through any number of 429 cooldowns. Only ctx cancellation
// interrupts the wait.
func (c *Client) Get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	endpoint := endpointLabel(path)

	var body []byte
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		b, status, err := c.do(ctx, u)
		c.metrics.ObserveRequest(endpoint, status)
		switch {
		case err != nil:
			return backoff.Permanent(&UpstreamError{URL: u, StatusCode: status, Err: err})
		case status == http.StatusTooManyRequests:
			return errRateLimited
		case status < 200 || status >= 300:
			return backoff.Permanent(&UpstreamError{
				URL:        u,
				StatusCode: status,
				Err:        fmt.Errorf("unexpected status %q", http.StatusText(status)),
			})
		}
		body = b
		return nil
	}
	notify := func(_ error, wait time.Duration) {
		c.metrics.ObserveRateLimited(endpoint)
		c.log.Warn("rate limited, cooling down", "url", u, "wait", wait)
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(c.cooldown), ctx)
	var timer backoff.Timer
	if c.newTimer != nil {
		timer = c.newTimer()
	}
	if err := backoff.RetryNotifyWithTimer(op, b, notify, timer); err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &UpstreamError{URL: u, StatusCode: http.StatusOK, Err: fmt.Errorf("decode body: %w", err)}
	}
	if v, ok := out.(interface{ validate() error }); ok {
		if err := v.validate(); err != nil {
			return &UpstreamError{URL: u, StatusCode: http.StatusOK, Err: err}
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, u string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, resp.StatusCode, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}

// endpointLabel turns "/api/v1/delegate/info" into "delegate/info".
func endpointLabel(path string) string {
	p := strings.TrimPrefix(path, "/")
	rest, ok := strings.CutPrefix(p, "api/")
	if !ok {
		return p
	}
	if _, after, found := strings.Cut(rest, "/"); found {
		return after
	}
	return rest
}

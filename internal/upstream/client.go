// Package upstream implements the authenticated HTTP client for the
// upstream trade-search API: login/token caching, account listing, paged
// trade history, and a polling "stream" of new executions.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout      = 20 * time.Second
	defaultRateLimitRPS = 5
	maxErrorBodyBytes   = 64 << 10
)

// Client is the authenticated upstream trade-search client. It owns the
// one piece of shared mutable state in this service (the token cache) and
// wraps every call in a rate limiter and a circuit breaker so an unattended
// sync job backs off automatically instead of hammering a failing upstream.
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	apiKey     string
	timeout    time.Duration

	tokens  tokenCache
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	log *logrus.Logger
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client (tests inject one
// pointed at an httptest.Server).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithTimeout overrides the per-request timeout (default 20s).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRateLimit overrides the client-side request throttle, generalizing the
// rate-limit-header logging a plain broker client would otherwise only
// observe after the fact into an enforced token-bucket limit.
func WithRateLimit(ratePerSecond float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(ratePerSecond), burst) }
}

// WithLogger overrides the logger (default: logrus.StandardLogger()).
func WithLogger(l *logrus.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New constructs a Client against baseURL with the given credentials.
func New(baseURL, username, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		apiKey:     apiKey,
		timeout:    defaultTimeout,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(defaultRateLimitRPS), defaultRateLimitRPS*2),
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "upstream-trade-search",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.WithFields(logrus.Fields{"breaker": name, "from": from, "to": to}).Warn("upstream circuit breaker state change")
		},
	})
	return c
}

// AccountSummary is a row from POST /api/Account/search.
type AccountSummary struct {
	ID      int64
	Name    string
	Balance float64
	Status  string
}

// post executes an authenticated JSON POST to endpoint, retrying exactly
// once if the upstream reports 401 (after invalidating the cached token).
// Every call is rate-limited and routed through the circuit breaker.
func (c *Client) post(ctx context.Context, endpoint string, body, response any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.postOnce(ctx, endpoint, body, response, true)
	})
	return err
}

func (c *Client) postOnce(ctx context.Context, endpoint string, body, response any, allowRetry bool) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	token, err := c.tokens.get(ctx, c.login)
	if err != nil {
		return err
	}

	status, raw, err := c.rawPost(ctx, endpoint, body, token)
	if err != nil {
		return &Error{Status: 0, Message: err.Error()}
	}

	if status == http.StatusUnauthorized {
		if !allowRetry {
			return &Error{Status: status, Message: "unauthorized after retry"}
		}
		c.tokens.invalidate()
		return c.postOnce(ctx, endpoint, body, response, false)
	}

	if status < 200 || status >= 300 {
		return &Error{Status: status, Message: truncate(string(raw), maxErrorBodyBytes)}
	}

	var envelope struct {
		Success *bool  `json:"success"`
		Detail  string `json:"detail"`
		Msg1    string `json:"errorMessage"`
		Msg2    string `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Success != nil && !*envelope.Success {
		msg := firstNonEmpty(envelope.Detail, envelope.Msg1, envelope.Msg2)
		return &Error{Status: status, Message: msg}
	}

	if response == nil {
		return nil
	}
	if err := json.Unmarshal(raw, response); err != nil {
		return &Error{Status: status, Message: fmt.Sprintf("decoding response: %v", err)}
	}
	return nil
}

func (c *Client) rawPost(ctx context.Context, endpoint string, body any, token string) (int, []byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.log.WithError(cerr).Warn("closing upstream response body")
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, raw, nil
}

// login performs the loginKey handshake and returns a token plus its
// computed expiry.
func (c *Client) login(ctx context.Context) (string, time.Time, error) {
	status, raw, err := c.rawPost(ctx, "/api/Auth/loginKey", map[string]string{
		"userName": c.username,
		"apiKey":   c.apiKey,
	}, "")
	if err != nil {
		return "", time.Time{}, &Error{Status: 0, Message: err.Error()}
	}
	if status < 200 || status >= 300 {
		return "", time.Time{}, &Error{Status: status, Message: truncate(string(raw), maxErrorBodyBytes)}
	}

	var resp struct {
		Token      string   `json:"token"`
		ExpiresAt  string   `json:"expiresAt"`
		Expiration string   `json:"expiration"`
		ExpiresIn  *float64 `json:"expiresIn"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", time.Time{}, &Error{Status: status, Message: fmt.Sprintf("decoding login response: %v", err)}
	}
	if resp.Token == "" {
		return "", time.Time{}, &Error{Status: status, Message: "login response missing token"}
	}

	expiry := parseTokenExpiry(time.Now().UTC(), resp.ExpiresAt, resp.Expiration, resp.ExpiresIn)
	return resp.Token, expiry, nil
}

// ListAccounts fetches the active, tradable accounts, sorted ascending by
// ID.
func (c *Client) ListAccounts(ctx context.Context) ([]AccountSummary, error) {
	var resp struct {
		Accounts []map[string]any `json:"accounts"`
		Data     []map[string]any `json:"data"`
		Items    []map[string]any `json:"items"`
	}
	if err := c.post(ctx, "/api/Account/search", map[string]bool{"onlyActiveAccounts": true}, &resp); err != nil {
		return nil, err
	}

	rows := firstNonEmptyRows(resp.Accounts, resp.Data, resp.Items)
	out := make([]AccountSummary, 0, len(rows))
	for _, r := range rows {
		if canTrade, ok := r["canTrade"].(bool); ok && !canTrade {
			continue
		}
		out = append(out, AccountSummary{
			ID:      asInt64(firstOf(r, "id", "accountId")),
			Name:    asString(firstOf(r, "name", "accountName")),
			Balance: asFloat(firstOf(r, "balance", "cashBalance", "equity")),
			Status:  asString(firstOf(r, "status")),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func firstNonEmptyRows(groups ...[]map[string]any) []map[string]any {
	for _, g := range groups {
		if len(g) > 0 {
			return g
		}
	}
	return nil
}

func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		var n int64
		_, _ = fmt.Sscanf(t, "%d", &n)
		return n
	default:
		return 0
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

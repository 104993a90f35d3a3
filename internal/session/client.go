package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// APIError represents an error response from the token endpoint.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("token endpoint error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// Client exchanges a refresh token for short-lived access tokens and caches
// the result until shortly before expiry.
type Client struct {
	tokenURL     string
	refreshToken string
	httpClient   *http.Client
	logger       *slog.Logger

	maxRetries    int
	retryBackoff  time.Duration
	refreshMargin time.Duration

	mu      sync.Mutex
	token   string
	expires time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a token refresh client.
func NewClient(tokenURL, refreshToken string, opts ...ClientOption) *Client {
	c := &Client{
		tokenURL:     tokenURL,
		refreshToken: refreshToken,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:        slog.Default(),
		maxRetries:    3,
		retryBackoff:  time.Second,
		refreshMargin: 30 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRefreshMargin sets how long before expiry a cached token is discarded.
func WithRefreshMargin(d time.Duration) ClientOption {
	return func(c *Client) {
		c.refreshMargin = d
	}
}

// AccessToken returns a valid access token, refreshing it when the cached one
// is missing or within the refresh margin of expiring.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.expires.Add(-c.refreshMargin)) {
		return c.token, nil
	}

	token, expiresIn, err := c.refresh(ctx)
	if err != nil {
		return "", err
	}

	c.token = token
	c.expires = time.Now().Add(expiresIn)
	c.logger.Debug("access token refreshed", "expires_in", expiresIn)

	return token, nil
}

// Invalidate discards the cached token so the next call refreshes.
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expires = time.Time{}
	c.mu.Unlock()
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"` // seconds
}

// refresh performs the token exchange with exponential backoff retry.
func (c *Client) refresh(ctx context.Context) (string, time.Duration, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int63n(int64(backoff)))
			c.logger.Debug("retrying token refresh",
				"attempt", attempt,
				"backoff", jitter,
			)

			select {
			case <-ctx.Done():
				return "", 0, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		token, expiresIn, err := c.doRefresh(ctx)
		if err == nil {
			return token, expiresIn, nil
		}

		lastErr = err

		apiErr, ok := err.(*APIError)
		if !ok || !apiErr.IsRetryable() {
			return "", 0, err
		}
	}

	return "", 0, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doRefresh(ctx context.Context) (string, time.Duration, error) {
	payload, err := json.Marshal(refreshRequest{RefreshToken: c.refreshToken})
	if err != nil {
		return "", 0, fmt.Errorf("marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, bytes.NewReader(payload))
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return "", 0, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	var parsed refreshResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", 0, fmt.Errorf("unmarshal response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", 0, fmt.Errorf("token endpoint returned no access token")
	}

	expiresIn := time.Duration(parsed.ExpiresIn) * time.Second
	if parsed.ExpiresIn == 0 {
		// Fall back to the token's own exp claim when the endpoint omits TTL.
		if claims, err := ParseClaims(parsed.AccessToken); err == nil && !claims.Expiry().IsZero() {
			expiresIn = time.Until(claims.Expiry())
		}
	}

	return parsed.AccessToken, expiresIn, nil
}

// Package auvo provides a client for the upstream field-service REST API
// that task records are pulled from.
package auvo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/fieldfin/taskfin/ratelimit"
)

const (
	// DefaultBaseURL is the production API root.
	DefaultBaseURL = "https://api.auvo.com.br/v2"
	// DefaultPageSize is the page size requested when none is configured.
	DefaultPageSize = 100
	// DefaultMaxPages bounds a single paginated fetch.
	DefaultMaxPages = 1000
	// DefaultTimeout applies to every individual HTTP call.
	DefaultTimeout = 30 * time.Second
)

// Config holds upstream client configuration
type Config struct {
	BaseURL  string
	PageSize int
	MaxPages int
	Timeout  time.Duration
	Pacer    *ratelimit.Config
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:  DefaultBaseURL,
		PageSize: DefaultPageSize,
		MaxPages: DefaultMaxPages,
		Timeout:  DefaultTimeout,
		Pacer:    ratelimit.DefaultConfig(),
	}
}

// ConfigFromEnv overlays AUVO_* environment variables on DefaultConfig.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("AUVO_BASE_URL")); v != "" {
		cfg.BaseURL = v
	}

	var invalid []string
	readInt := func(name string, dst *int) {
		v := strings.TrimSpace(os.Getenv(name))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			invalid = append(invalid, name)
			return
		}
		*dst = n
	}

	readInt("AUVO_PAGE_SIZE", &cfg.PageSize)
	readInt("AUVO_MAX_PAGES", &cfg.MaxPages)

	timeoutSecs := int(cfg.Timeout / time.Second)
	readInt("AUVO_TIMEOUT_SECONDS", &timeoutSecs)
	cfg.Timeout = time.Duration(timeoutSecs) * time.Second

	delayMs := int(cfg.Pacer.APIDelay / time.Millisecond)
	readInt("AUVO_API_DELAY_MS", &delayMs)
	cfg.Pacer.APIDelay = time.Duration(delayMs) * time.Millisecond

	if len(invalid) > 0 {
		return cfg, fmt.Errorf("invalid upstream configuration: %v", invalid)
	}
	return cfg, nil
}

// Client wraps upstream API interactions
type Client struct {
	baseURL    string
	pageSize   int
	maxPages   int
	httpClient *http.Client
	pacer      *ratelimit.Pacer
}

// NewClient creates a new upstream client
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("missing upstream base URL")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream base URL %q", cfg.BaseURL)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		pageSize:   cfg.PageSize,
		maxPages:   cfg.MaxPages,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		pacer:      ratelimit.NewPacer(cfg.Pacer),
	}, nil
}

// PageSize returns the configured default page size.
func (c *Client) PageSize() int {
	return c.pageSize
}

// get performs one authenticated GET and classifies the outcome.
func (c *Client) get(ctx context.Context, token *oauth2.Token, endpoint string, params url.Values) ([]byte, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	fullURL := fmt.Sprintf("%s/%s", c.baseURL, strings.TrimPrefix(endpoint, "/"))
	if len(params) > 0 {
		fullURL = fmt.Sprintf("%s?%s", fullURL, params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	token.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrNetwork, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		c.pacer.Success()
		return body, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body), kind: ErrUnauthorized}
	case http.StatusTooManyRequests:
		delay := c.pacer.Throttled()
		slog.Warn("Upstream throttled request", "endpoint", endpoint, "nextDelay", delay)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	default:
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
}

// IsRetryable reports whether err is a transport failure a caller may retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}

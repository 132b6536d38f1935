package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL matches the daemon's default listen address and base path.
const DefaultBaseURL = "http://127.0.0.1:7070/api"

// Client provides HTTP client functionality to communicate with the tunnelctl daemon
type Client struct {
	baseURL string
	client  *http.Client
	stream  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: DefaultBaseURL,
		Timeout: 10 * time.Second,
	}
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// New creates a new tunnelctl API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
		// streams stay open; rely on the context instead of a timeout
		stream: &http.Client{},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) ListProfiles(ctx context.Context) ([]Profile, error) {
	var out []Profile
	err := c.do(ctx, http.MethodGet, "/profiles", nil, &out)
	return out, err
}

func (c *Client) GetProfile(ctx context.Context, id string) (Profile, error) {
	var out Profile
	err := c.do(ctx, http.MethodGet, "/profiles/"+url.PathEscape(id), nil, &out)
	return out, err
}

// AddProfile creates a disabled profile and returns it with its assigned id.
func (c *Client) AddProfile(ctx context.Context, d Draft) (Profile, error) {
	var out Profile
	err := c.do(ctx, http.MethodPost, "/profiles", d, &out)
	return out, err
}

// UpdateProfile replaces the profile with p.ID. Changing Enabled connects or
// disconnects it on the daemon.
func (c *Client) UpdateProfile(ctx context.Context, p Profile) error {
	return c.do(ctx, http.MethodPut, "/profiles/"+url.PathEscape(p.ID), p, nil)
}

func (c *Client) DeleteProfile(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/profiles/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ToggleProfile(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/profiles/"+url.PathEscape(id)+"/toggle", nil, nil)
}

func (c *Client) Connect(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/profiles/"+url.PathEscape(id)+"/connect", nil, nil)
}

func (c *Client) Disconnect(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/profiles/"+url.PathEscape(id)+"/disconnect", nil, nil)
}

func (c *Client) ProcessStats(ctx context.Context, id string) (ProcessStats, error) {
	var out ProcessStats
	err := c.do(ctx, http.MethodGet, "/profiles/"+url.PathEscape(id)+"/process", nil, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context) (Snapshot, error) {
	var out Snapshot
	err := c.do(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}

// WatchStatus calls fn for every snapshot streamed by the daemon until ctx is
// cancelled or the stream ends. A cancelled context is not an error.
func (c *Client) WatchStatus(ctx context.Context, fn func(Snapshot)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status/stream", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.stream.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.checkResponse(resp); err != nil {
		return err
	}

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data:")
		if !ok {
			continue
		}
		var s Snapshot
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &s); err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		fn(s)
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// do performs a JSON request. body and out may be nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.checkResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{StatusCode: resp.StatusCode, Message: errorResp.Error}
}

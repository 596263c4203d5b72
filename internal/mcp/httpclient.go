package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/models"
	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/session"
	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/watch"
)

// HTTPClient implements DataSource by calling the kinevo-sync admin API.
// The MCP binary runs locally (stdio) while the sync service runs next to
// the companion hub, usually reached over Tailscale.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Compile-time check: HTTPClient satisfies DataSource.
var _ DataSource = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTPClient targeting the given base URL.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("httpclient: create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpclient: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httpclient: %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return body, nil
}

func (c *HTTPClient) NextWorkout(ctx context.Context) (*watch.WorkoutSnapshot, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/watch/next-workout", nil)
	if err != nil {
		return nil, err
	}

	snap, err := watch.DecodeSnapshot(body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: decode next workout: %w", err)
	}
	return snap, nil
}

func (c *HTTPClient) PushNextWorkout(ctx context.Context) (*PushResult, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/v1/watch/push", nil)
	if err != nil {
		return nil, err
	}

	var result PushResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("httpclient: decode push result: %w", err)
	}
	return &result, nil
}

func (c *HTTPClient) WatchStatus(ctx context.Context) (*session.Status, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/watch/status", nil)
	if err != nil {
		return nil, err
	}

	var st session.Status
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, fmt.Errorf("httpclient: decode status: %w", err)
	}
	return &st, nil
}

func (c *HTTPClient) DebugLogs(ctx context.Context) ([]string, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/watch/debug-logs", nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Entries []string `json:"entries"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("httpclient: decode debug logs: %w", err)
	}
	return resp.Entries, nil
}

func (c *HTTPClient) RecentSessions(ctx context.Context, limit int) ([]models.WorkoutSessionRow, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.do(ctx, http.MethodGet, "/api/v1/watch/sessions", params)
	if err != nil {
		return nil, err
	}

	var sessions []models.WorkoutSessionRow
	if err := json.Unmarshal(body, &sessions); err != nil {
		return nil, fmt.Errorf("httpclient: decode sessions: %w", err)
	}
	return sessions, nil
}

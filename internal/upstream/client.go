package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quartzlab/keysmith/internal/domain"
	"github.com/quartzlab/keysmith/internal/metrics"
)

// Config holds remote key service client settings.
type Config struct {
	// BaseURL is the root URL of the backend admin API.
	BaseURL string

	// AdminToken authenticates admin-level requests.
	AdminToken string

	// SessionUser and SessionPassword obtain the backend session token.
	SessionUser     string
	SessionPassword string

	// Timeout is the per-request timeout.
	Timeout time.Duration
}

// Client is the HTTP implementation of KeyService.
//
// The backend requires two credentials: the admin token, sent on every
// request, and a short-lived session token. When a request fails with
// 401 the session token is refreshed and the request retried exactly
// once; this is the only retry the client performs.
type Client struct {
	baseURL         string
	adminToken      string
	sessionUser     string
	sessionPassword string
	httpClient      *http.Client
	metrics         *metrics.Metrics
	logger          zerolog.Logger

	mu           sync.Mutex
	sessionToken string
}

// NewClient creates a new remote key service client.
func NewClient(cfg Config, m *metrics.Metrics, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:         cfg.BaseURL,
		adminToken:      cfg.AdminToken,
		sessionUser:     cfg.SessionUser,
		sessionPassword: cfg.SessionPassword,
		httpClient:      &http.Client{Timeout: timeout},
		metrics:         m,
		logger:          logger.With().Str("component", "upstream").Logger(),
	}
}

// AddUser provisions a backend account and its API key.
func (c *Client) AddUser(ctx context.Context, name string) (*ProvisionedUser, error) {
	req := struct {
		Name string `json:"name"`
	}{Name: name}

	var resp ProvisionedUser
	if err := c.call(ctx, "add_user", http.MethodPost, "/api/admin/users", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetKeyEnabled toggles a key's enablement flag.
func (c *Client) SetKeyEnabled(ctx context.Context, keyID int64, enabled bool) error {
	req := struct {
		Enabled bool `json:"enabled"`
	}{Enabled: enabled}

	path := fmt.Sprintf("/api/admin/keys/%d/enabled", keyID)
	return c.call(ctx, "set_key_enabled", http.MethodPut, path, req, nil)
}

// GetKeyUsage returns the usage counters for a key.
func (c *Client) GetKeyUsage(ctx context.Context, keyID int64) (*domain.Usage, error) {
	var resp domain.Usage
	path := fmt.Sprintf("/api/admin/keys/%d/usage", keyID)
	if err := c.call(ctx, "get_key_usage", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListActiveSessions returns the backend's active sessions.
func (c *Client) ListActiveSessions(ctx context.Context) ([]Session, error) {
	var resp struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.call(ctx, "list_sessions", http.MethodGet, "/api/admin/sessions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// GetOverviewStats returns aggregate backend statistics.
func (c *Client) GetOverviewStats(ctx context.Context) (*OverviewStats, error) {
	var resp OverviewStats
	if err := c.call(ctx, "overview_stats", http.MethodGet, "/api/admin/overview", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// call performs one logical backend operation, recording metrics.
func (c *Client) call(ctx context.Context, op, method, path string, body, out interface{}) error {
	start := time.Now()
	err := c.attempt(ctx, method, path, body, out, true)
	if c.metrics != nil {
		c.metrics.RecordUpstreamRequest(op, time.Since(start), err)
	}
	if err != nil {
		c.logger.Debug().Err(err).Str("op", op).Msg("backend call failed")
	}
	return err
}

// attempt performs one HTTP exchange. On a 401 response it refreshes
// the session token and retries once; allowRefresh guards recursion.
func (c *Client) attempt(ctx context.Context, method, path string, body, out interface{}, allowRefresh bool) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.adminToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.currentSessionToken(); token != "" {
		req.Header.Set("X-Session-Token", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && allowRefresh {
		io.Copy(io.Discard, resp.Body)
		if err := c.refreshSession(ctx); err != nil {
			return err
		}
		return c.attempt(ctx, method, path, body, out, false)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode backend response: %w", err)
		}
	}

	return nil
}

func (c *Client) currentSessionToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionToken
}

// refreshSession obtains a fresh session token from the backend.
func (c *Client) refreshSession(ctx context.Context) error {
	if c.sessionUser == "" {
		return fmt.Errorf("backend rejected session and no session credentials are configured")
	}

	creds := struct {
		User     string `json:"user"`
		Password string `json:"password"`
	}{User: c.sessionUser, Password: c.sessionPassword}

	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode session credentials: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/session", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.adminToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("session refresh failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("session refresh returned status %d", resp.StatusCode)
	}

	var session struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return fmt.Errorf("failed to decode session response: %w", err)
	}

	c.mu.Lock()
	c.sessionToken = session.Token
	c.mu.Unlock()

	c.logger.Debug().Msg("refreshed backend session token")

	return nil
}

// Ensure Client implements KeyService.
var _ KeyService = (*Client)(nil)

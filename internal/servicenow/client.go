// Package servicenow wraps the ServiceNow Table API for incident management.
// The wrapper exposes the handful of operations the agent's tools need
// rather than a general Table API client.
package servicenow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentgate-dev/agentgate/pkg/observability"
)

const incidentTable = "/api/now/table/incident"

// Config holds the connection and auth settings for one instance.
type Config struct {
	// InstanceURL is the base URL, e.g. https://dev12345.service-now.com.
	InstanceURL string
	// AuthType selects the scheme: "basic", "oauth", or "api_key".
	AuthType string

	Username string
	Password string

	// OAuth password-grant settings. TokenURL defaults to the instance's
	// oauth_token.do endpoint.
	ClientID     string
	ClientSecret string
	TokenURL     string

	APIKey       string
	APIKeyHeader string

	// Timeout bounds each request. Zero means 30 seconds.
	Timeout time.Duration
	// RequestsPerSecond is the client-side rate limit. Zero disables it.
	RequestsPerSecond float64
}

// Client is a rate-limited ServiceNow Table API client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewClient validates the config and builds a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.InstanceURL == "" {
		return nil, fmt.Errorf("servicenow: instance URL is required")
	}
	cfg.InstanceURL = strings.TrimSuffix(cfg.InstanceURL, "/")

	switch cfg.AuthType {
	case "", "basic":
		cfg.AuthType = "basic"
		if cfg.Username == "" || cfg.Password == "" {
			return nil, fmt.Errorf("servicenow: basic auth requires username and password")
		}
	case "oauth":
		if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.Username == "" || cfg.Password == "" {
			return nil, fmt.Errorf("servicenow: oauth requires client credentials and user credentials")
		}
		if cfg.TokenURL == "" {
			cfg.TokenURL = cfg.InstanceURL + "/oauth_token.do"
		}
	case "api_key":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("servicenow: api_key auth requires an API key")
		}
		if cfg.APIKeyHeader == "" {
			cfg.APIKeyHeader = "x-sn-apikey"
		}
	default:
		return nil, fmt.Errorf("servicenow: unknown auth type %q", cfg.AuthType)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
	}, nil
}

// do issues one authenticated request and decodes the JSON response.
func (c *Client) do(ctx context.Context, operation, method, path string, query url.Values, body any, out any) (http.Header, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	endpoint := c.cfg.InstanceURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = strings.NewReader(string(payload))
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observability.RecordServiceNowRequest(operation, "error", time.Since(start))
		return nil, fmt.Errorf("servicenow: %s: %w", operation, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.RecordServiceNowRequest(operation, "error", time.Since(start))
		return nil, fmt.Errorf("servicenow: %s: read response: %w", operation, err)
	}

	observability.RecordServiceNowRequest(operation, fmt.Sprintf("%d", resp.StatusCode), time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("servicenow: %s: status %d: %s", operation, resp.StatusCode, snippet(data))
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("servicenow: %s: decode response: %w", operation, err)
		}
	}
	return resp.Header, nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	switch c.cfg.AuthType {
	case "basic":
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	case "oauth":
		token, err := c.oauthToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case "api_key":
		req.Header.Set(c.cfg.APIKeyHeader, c.cfg.APIKey)
	}
	return nil
}

// oauthToken returns a cached password-grant token, refreshing it shortly
// before expiry.
func (c *Client) oauthToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("servicenow: fetch oauth token: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("servicenow: fetch oauth token: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("servicenow: fetch oauth token: status %d: %s", resp.StatusCode, snippet(data))
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(data, &token); err != nil {
		return "", fmt.Errorf("servicenow: fetch oauth token: decode response: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("servicenow: fetch oauth token: empty access token")
	}

	expiresIn := token.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 1800
	}
	c.accessToken = token.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(expiresIn)*time.Second - 60*time.Second)
	return c.accessToken, nil
}

func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 256 {
		return s[:256] + "..."
	}
	return s
}

// Ping verifies the instance is reachable and the credentials work by
// requesting a single incident record.
func (c *Client) Ping(ctx context.Context) error {
	q := url.Values{}
	q.Set("sysparm_limit", "1")
	q.Set("sysparm_fields", "sys_id")
	_, err := c.do(ctx, "ping", http.MethodGet, incidentTable, q, nil, nil)
	return err
}

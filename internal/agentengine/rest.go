package agentengine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"

	"github.com/agentgate-dev/agentgate/pkg/router"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// RESTClient talks to the Agent Engine REST surface. Session creation and
// queries go through the generic :query and :streamQuery methods with a
// classMethod selector, mirroring how the managed runtime dispatches to
// the deployed agent.
type RESTClient struct {
	httpClient *http.Client
	baseURL    string
	parent     string

	mu    sync.RWMutex
	agent Agent
}

// NewRESTClient builds a client authenticated with Application Default
// Credentials for the given project and location.
func NewRESTClient(ctx context.Context, projectID, location string, opts ...option.ClientOption) (*RESTClient, error) {
	if projectID == "" {
		return nil, fmt.Errorf("agentengine: project id is required")
	}
	if location == "" {
		return nil, fmt.Errorf("agentengine: location is required")
	}

	opts = append([]option.ClientOption{option.WithScopes(cloudPlatformScope)}, opts...)
	hc, _, err := htransport.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("agentengine: create authenticated client: %w", err)
	}

	return &RESTClient{
		httpClient: hc,
		baseURL:    fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1beta1", location),
		parent:     fmt.Sprintf("projects/%s/locations/%s", projectID, location),
	}, nil
}

// NewRESTClientFromHTTP builds a client over an existing HTTP client and
// base URL. Used by tests.
func NewRESTClientFromHTTP(hc *http.Client, baseURL, projectID, location string) *RESTClient {
	return &RESTClient{
		httpClient: hc,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		parent:     fmt.Sprintf("projects/%s/locations/%s", projectID, location),
	}
}

// UseAgent binds the client to a discovered agent. Session operations fail
// until an agent is bound.
func (c *RESTClient) UseAgent(a Agent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agent = a
}

func (c *RESTClient) boundAgent() (Agent, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.agent.Name == "" {
		return Agent{}, fmt.Errorf("agentengine: no agent bound")
	}
	return c.agent, nil
}

type listResponse struct {
	ReasoningEngines []struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
		CreateTime  string `json:"createTime"`
	} `json:"reasoningEngines"`
	NextPageToken string `json:"nextPageToken"`
}

// ListAgents returns agents whose display name matches exactly, following
// pagination until exhausted.
func (c *RESTClient) ListAgents(ctx context.Context, displayName string) ([]Agent, error) {
	var agents []Agent
	pageToken := ""

	for {
		q := url.Values{}
		q.Set("filter", fmt.Sprintf("display_name=%q", displayName))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		endpoint := fmt.Sprintf("%s/%s/reasoningEngines?%s", c.baseURL, c.parent, q.Encode())

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("list agents: %w", err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("list agents: read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("list agents: status %d: %s", resp.StatusCode, truncate(body, 512))
		}

		var page listResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("list agents: decode response: %w", err)
		}

		for _, e := range page.ReasoningEngines {
			if e.DisplayName != displayName {
				continue
			}
			created, _ := time.Parse(time.RFC3339Nano, e.CreateTime)
			agents = append(agents, Agent{
				Name:        e.Name,
				DisplayName: e.DisplayName,
				CreateTime:  created,
			})
		}

		if page.NextPageToken == "" {
			return agents, nil
		}
		pageToken = page.NextPageToken
	}
}

type classMethodRequest struct {
	ClassMethod string         `json:"classMethod"`
	Input       map[string]any `json:"input"`
}

// CreateSession asks the agent to create a session for the user and returns
// the decoded response body untouched. Callers normalize the shape.
func (c *RESTClient) CreateSession(ctx context.Context, userID string) (any, error) {
	agent, err := c.boundAgent()
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(classMethodRequest{
		ClassMethod: "create_session",
		Input:       map[string]any{"user_id": userID},
	})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/%s:query", c.baseURL, agent.Name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("create session: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("create session: status %d: %s", resp.StatusCode, truncate(body, 512))
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("create session: decode response: %w", err)
	}
	return decoded, nil
}

// StreamQuery sends a message on a session and returns the event stream.
func (c *RESTClient) StreamQuery(ctx context.Context, userID, sessionID, message string) (router.EventStream, error) {
	agent, err := c.boundAgent()
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(classMethodRequest{
		ClassMethod: "stream_query",
		Input: map[string]any{
			"user_id":    userID,
			"session_id": sessionID,
			"message":    message,
		},
	})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/%s:streamQuery", c.baseURL, agent.Name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream query: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("stream query: status %d: %s", resp.StatusCode, truncate(body, 512))
	}

	return newRESTStream(resp.Body), nil
}

// restStream decodes the streamed response body. The runtime emits either a
// single JSON array of events or newline-delimited JSON objects depending on
// the agent framework version, so the stream sniffs the first non-space byte
// and handles both framings.
type restStream struct {
	body    io.ReadCloser
	dec     *json.Decoder
	array   bool
	started bool
}

func newRESTStream(body io.ReadCloser) *restStream {
	br := bufio.NewReader(body)
	array := false
	for {
		b, err := br.Peek(1)
		if err != nil {
			break
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			_, _ = br.Discard(1)
			continue
		case '[':
			array = true
		}
		break
	}
	return &restStream{
		body:  &readCloser{Reader: br, Closer: body},
		dec:   json.NewDecoder(br),
		array: array,
	}
}

func (s *restStream) Next() (any, error) {
	if s.array && !s.started {
		// consume the opening bracket
		if _, err := s.dec.Token(); err != nil {
			return nil, err
		}
		s.started = true
	}

	if s.array {
		if !s.dec.More() {
			// consume the closing bracket
			_, _ = s.dec.Token()
			return nil, io.EOF
		}
	}

	var event any
	if err := s.dec.Decode(&event); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return event, nil
}

func (s *restStream) Close() error {
	return s.body.Close()
}

type readCloser struct {
	io.Reader
	io.Closer
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

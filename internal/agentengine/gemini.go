package agentengine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/agentgate-dev/agentgate/pkg/router"
)

// GeminiClient is the development backend: it talks to the model directly
// instead of a deployed agent, keeping per-session conversation history in
// memory. Useful in environments where no Agent Engine deployment exists.
type GeminiClient struct {
	client *genai.Client
	model  string

	mu       sync.Mutex
	sessions map[string][]*genai.Content
}

// NewGeminiClient creates a direct-model client using Application Default
// Credentials against the Vertex AI backend.
func NewGeminiClient(ctx context.Context, projectID, location, model string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GeminiClient{
		client:   client,
		model:    model,
		sessions: make(map[string][]*genai.Content),
	}, nil
}

// ListAgents reports a single synthetic agent so that discovery succeeds and
// the service comes up ready in development.
func (g *GeminiClient) ListAgents(ctx context.Context, displayName string) ([]Agent, error) {
	return []Agent{{
		Name:        "local/geminiBackends/" + g.model,
		DisplayName: displayName,
		CreateTime:  time.Now(),
	}}, nil
}

// CreateSession allocates a local session with empty history. The response
// mirrors the managed runtime's wrapped shape.
func (g *GeminiClient) CreateSession(ctx context.Context, userID string) (any, error) {
	id := uuid.NewString()

	g.mu.Lock()
	g.sessions[id] = nil
	g.mu.Unlock()

	return map[string]any{
		"output": map[string]any{
			"id":      id,
			"user_id": userID,
		},
	}, nil
}

// StreamQuery generates a streamed model response for the session, emitting
// events shaped like the managed runtime's content/parts events. History is
// committed only after the stream drains cleanly.
func (g *GeminiClient) StreamQuery(ctx context.Context, userID, sessionID, message string) (router.EventStream, error) {
	g.mu.Lock()
	history, ok := g.sessions[sessionID]
	g.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("gemini: unknown session %s", sessionID)
	}

	contents := make([]*genai.Content, 0, len(history)+1)
	contents = append(contents, history...)
	contents = append(contents, &genai.Content{
		Role:  "user",
		Parts: []*genai.Part{{Text: message}},
	})

	eventCh := make(chan any, 10)
	errCh := make(chan error, 1)
	streamCtx, cancel := context.WithCancel(ctx)

	go func() {
		defer close(eventCh)
		defer close(errCh)

		var reply string
		for resp, err := range g.client.Models.GenerateContentStream(streamCtx, g.model, contents, nil) {
			if err != nil {
				select {
				case errCh <- err:
				case <-streamCtx.Done():
				}
				return
			}
			chunk := chunkText(resp)
			if chunk == "" {
				continue
			}
			reply += chunk

			event := map[string]any{
				"content": map[string]any{
					"parts": []any{map[string]any{"text": chunk}},
				},
			}
			select {
			case eventCh <- event:
			case <-streamCtx.Done():
				return
			}
		}

		g.mu.Lock()
		g.sessions[sessionID] = append(contents, &genai.Content{
			Role:  "model",
			Parts: []*genai.Part{{Text: reply}},
		})
		g.mu.Unlock()
	}()

	return &geminiStream{events: eventCh, errs: errCh, cancel: cancel}, nil
}

func chunkText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	content := resp.Candidates[0].Content
	if content == nil {
		return ""
	}
	var text string
	for _, part := range content.Parts {
		if part != nil {
			text += part.Text
		}
	}
	return text
}

type geminiStream struct {
	events chan any
	errs   chan error
	cancel context.CancelFunc
}

func (s *geminiStream) Next() (any, error) {
	event, ok := <-s.events
	if ok {
		return event, nil
	}
	if err, ok := <-s.errs; ok && err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *geminiStream) Close() error {
	s.cancel()
	return nil
}

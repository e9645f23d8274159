// Package router maps caller identities to remote conversation sessions and
// normalizes the upstream agent's heterogeneous streamed events into a single
// text reply. Local resolution is pure in-memory bookkeeping and always
// succeeds; only the remote calls can fail, and their failures propagate to
// the caller without retries.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/agentgate-dev/agentgate/internal/telemetry"
	"github.com/agentgate-dev/agentgate/pkg/observability"
	"github.com/agentgate-dev/agentgate/pkg/sessionstore"
)

// NoTextPlaceholder is returned when the upstream stream completes without
// producing any extractable text.
const NoTextPlaceholder = "Agent processed your message but returned no text response."

// EventStream is a lazy sequence of implementation-defined event payloads.
// Next returns io.EOF when the stream is exhausted.
type EventStream interface {
	Next() (any, error)
	Close() error
}

// Upstream is the slice of the managed agent runtime the router needs.
type Upstream interface {
	// CreateSession creates a remote conversation session for the user.
	// The response shape is implementation-defined; see resolveRemoteID.
	CreateSession(ctx context.Context, userID string) (any, error)

	// StreamQuery opens a streaming read for the session/user/message triple.
	StreamQuery(ctx context.Context, userID, sessionID, message string) (EventStream, error)
}

// AgentStatus reports whether a remote agent was discovered at startup.
type AgentStatus interface {
	Ready() bool
}

// QueryRequest is one inbound chat message.
type QueryRequest struct {
	Message   string
	CallerID  string // display identity, typically an email
	RemoteUID string // stable federated identity, preferred as caller key
	SessionID string // optional session the caller wants to continue
}

// CallerKey returns the identity used for session tracking, preferring the
// stable federated id over the display id.
func (r QueryRequest) CallerKey() string {
	if r.RemoteUID != "" {
		return r.RemoteUID
	}
	return r.CallerID
}

// QueryResult is the reply for one inbound chat message.
type QueryResult struct {
	Text           string
	SessionID      string
	CallerID       string
	SessionCreated bool
}

// Router maps each caller to exactly one remote session and collects
// streamed replies. The injected store is the only shared mutable state;
// all locking lives inside it, and no lock is ever held across a remote
// call.
type Router struct {
	store    sessionstore.Store
	upstream Upstream
	status   AgentStatus
}

// New creates a Router. upstream may be nil when the upstream connection
// could not be established; the router then serves mock responses while
// still performing session bookkeeping.
func New(store sessionstore.Store, upstream Upstream, status AgentStatus) *Router {
	return &Router{store: store, upstream: upstream, status: status}
}

// Ready reports whether the remote agent is usable.
func (r *Router) Ready() bool {
	return r.upstream != nil && r.status != nil && r.status.Ready()
}

// ResolveSession resolves the caller to a session id before any remote call
// is made, so callers always get a session id back even when the agent is
// unreachable.
//
// If providedSessionID is already a tracked value it is returned unchanged.
// Otherwise the caller's existing mapping is returned, or a fresh local id
// is synthesized and recorded atomically (racing requests for the same
// never-seen caller converge on one stored value).
func (r *Router) ResolveSession(ctx context.Context, callerKey, providedSessionID string) (string, bool, error) {
	if providedSessionID != "" {
		tracked, err := r.store.HasSession(ctx, providedSessionID)
		if err != nil {
			return "", false, fmt.Errorf("session lookup: %w", err)
		}
		if tracked {
			return providedSessionID, false, nil
		}
	}

	candidate := newLocalSessionID(callerKey)
	stored, existed, err := r.store.GetOrSet(ctx, callerKey, candidate)
	if err != nil {
		return "", false, fmt.Errorf("session resolve: %w", err)
	}
	if !existed {
		observability.RecordSessionCreated("local")
	}
	return stored, !existed, nil
}

// CreateRemoteSession creates a session on the upstream runtime and
// overwrites the caller's mapping with the resolved remote id. On failure
// the mapping is left untouched, still pointing at the synthesized id.
func (r *Router) CreateRemoteSession(ctx context.Context, callerKey, callerDisplayID string) (string, error) {
	resp, err := r.upstream.CreateSession(ctx, callerDisplayID)
	if err != nil {
		observability.RecordUpstreamError("session")
		return "", &SessionCreationError{CallerKey: callerKey, Err: err}
	}

	remoteID := resolveRemoteID(resp)
	if err := r.store.Set(ctx, callerKey, remoteID); err != nil {
		return "", &SessionCreationError{CallerKey: callerKey, Err: fmt.Errorf("record remote session: %w", err)}
	}
	observability.RecordSessionCreated("remote")
	return remoteID, nil
}

// resolveRemoteID normalizes the implementation-defined create-session
// response: a direct identifier, an "id" field, a nested "output.id" field,
// or, failing all of those, the stringified whole response.
func resolveRemoteID(resp any) string {
	switch v := resp.(type) {
	case string:
		return v
	case map[string]any:
		if id, ok := v["id"].(string); ok {
			return id
		}
		if output, ok := v["output"].(map[string]any); ok {
			if id, ok := output["id"].(string); ok {
				return id
			}
		}
	}
	return stringify(resp)
}

// StreamAndCollect consumes the upstream stream to completion, appending
// extracted text in arrival order. It blocks until the stream ends or ctx
// is cancelled. Mid-stream failures abandon the accumulation entirely.
func (r *Router) StreamAndCollect(ctx context.Context, remoteSessionID, callerDisplayID, message string) (string, error) {
	stream, err := r.upstream.StreamQuery(ctx, callerDisplayID, remoteSessionID, message)
	if err != nil {
		observability.RecordUpstreamError("query")
		return "", &QueryError{SessionID: remoteSessionID, Err: err}
	}
	defer func() { _ = stream.Close() }()

	var sb strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return "", &QueryError{SessionID: remoteSessionID, Err: err}
		}
		raw, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			observability.RecordUpstreamError("query")
			return "", &QueryError{SessionID: remoteSessionID, Err: err}
		}
		ev := ParseEvent(raw)
		observability.RecordEventShape(ev.Kind.String())
		sb.WriteString(ev.ExtractText())
	}

	if sb.Len() == 0 {
		return NoTextPlaceholder, nil
	}
	return sb.String(), nil
}

// ClearSession removes the caller's mapping. Idempotent; clearing an
// untracked caller is not an error.
func (r *Router) ClearSession(ctx context.Context, callerKey string) (string, bool, error) {
	removed, found, err := r.store.Delete(ctx, callerKey)
	if err != nil {
		return "", false, fmt.Errorf("session clear: %w", err)
	}
	return removed, found, nil
}

// Sessions returns the current mapping for the debug listing endpoint.
func (r *Router) Sessions(ctx context.Context) (map[string]string, error) {
	return r.store.Snapshot(ctx)
}

// Query handles one inbound message end to end: local resolution, mock
// fallback when the agent is not ready, remote session creation when
// needed, then stream collection.
func (r *Router) Query(ctx context.Context, req QueryRequest) (QueryResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "router.Query",
		attribute.String("caller.id", req.CallerID),
		attribute.Bool("session.provided", req.SessionID != ""),
	)
	defer span.End()

	callerKey := req.CallerKey()

	sessionID, created, err := r.ResolveSession(ctx, callerKey, req.SessionID)
	if err != nil {
		return QueryResult{}, err
	}

	if !r.Ready() {
		observability.RecordQuery("mock")
		return QueryResult{
			Text:           fmt.Sprintf("[MOCK] Agent not ready. Mock response to: %q from user %s", req.Message, req.CallerID),
			SessionID:      sessionID,
			CallerID:       req.CallerID,
			SessionCreated: created,
		}, nil
	}

	if created || req.SessionID == "" {
		remoteID, err := r.CreateRemoteSession(ctx, callerKey, req.CallerID)
		if err != nil {
			observability.RecordQuery("error")
			return QueryResult{}, err
		}
		sessionID = remoteID
	}

	text, err := r.StreamAndCollect(ctx, sessionID, req.CallerID, req.Message)
	if err != nil {
		observability.RecordQuery("error")
		return QueryResult{}, err
	}

	observability.RecordQuery("ok")
	return QueryResult{
		Text:           text,
		SessionID:      sessionID,
		CallerID:       req.CallerID,
		SessionCreated: created,
	}, nil
}

// newLocalSessionID synthesizes a process-unique local session id from the
// caller key, the current time, and a random component.
func newLocalSessionID(callerKey string) string {
	return fmt.Sprintf("session_%s_%d_%s", callerKey, time.Now().Unix(), uuid.NewString()[:8])
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgate-dev/agentgate/internal/firebaseauth"
	"github.com/agentgate-dev/agentgate/pkg/observability"
	"github.com/agentgate-dev/agentgate/pkg/router"
	"github.com/agentgate-dev/agentgate/pkg/sessionstore"
)

type stubStream struct {
	events []any
	err    error
	pos    int
}

func (s *stubStream) Next() (any, error) {
	if s.pos < len(s.events) {
		ev := s.events[s.pos]
		s.pos++
		return ev, nil
	}
	if s.err != nil {
		return nil, s.err
	}
	return nil, io.EOF
}

func (s *stubStream) Close() error { return nil }

type stubUpstream struct {
	createResp any
	createErr  error
	events     []any
	streamErr  error
}

func (u *stubUpstream) CreateSession(ctx context.Context, userID string) (any, error) {
	return u.createResp, u.createErr
}

func (u *stubUpstream) StreamQuery(ctx context.Context, userID, sessionID, message string) (router.EventStream, error) {
	if u.streamErr != nil {
		return nil, u.streamErr
	}
	return &stubStream{events: u.events}, nil
}

type ready bool

func (r ready) Ready() bool { return bool(r) }

func newTestServer(t *testing.T, upstream router.Upstream, agentReady bool, extra ...func(*Options)) *Server {
	t.Helper()
	store := sessionstore.NewMemoryStore(0)
	t.Cleanup(func() { _ = store.Close() })

	opts := Options{
		Router:         router.New(store, upstream, ready(agentReady)),
		Health:         observability.NewHealthChecker(),
		Environment:    "test",
		AllowedOrigins: []string{"*"},
	}
	for _, fn := range extra {
		fn(&opts)
	}
	return NewServer(0, opts)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestQueryEndpoint_MockMode(t *testing.T) {
	srv := newTestServer(t, nil, false)
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/query", map[string]string{
		"message": "hello",
		"user_id": "ana@u-factor.io",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeResponse(t, rec)
	assert.Equal(t, true, body["success"])
	assert.True(t, strings.HasPrefix(body["text"].(string), "[MOCK]"))
	assert.NotEmpty(t, body["session_id"])
	assert.Equal(t, true, body["session_created"])
}

func TestQueryEndpoint_FullFlow(t *testing.T) {
	upstream := &stubUpstream{
		createResp: map[string]any{"output": map[string]any{"id": "remote-1"}},
		events: []any{
			map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": "Hi there"}}}},
		},
	}
	srv := newTestServer(t, upstream, true)
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/query", map[string]string{
		"message": "hello",
		"user_id": "ana@u-factor.io",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeResponse(t, rec)
	assert.Equal(t, "Hi there", body["text"])
	assert.Equal(t, "remote-1", body["session_id"])
}

func TestQueryEndpoint_CamelCaseKeys(t *testing.T) {
	srv := newTestServer(t, nil, false)
	handler := srv.Handler()

	// The web UI sends camelCase identity keys.
	rec := doJSON(t, handler, http.MethodPost, "/query", map[string]string{
		"message": "hello",
		"userId":  "ana@u-factor.io",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeResponse(t, rec)
	assert.Equal(t, "ana@u-factor.io", body["user_id"])
	sessionID := body["session_id"].(string)

	// The session id echoed back in camelCase is recognized as tracked.
	rec = doJSON(t, handler, http.MethodPost, "/query", map[string]string{
		"message":   "again",
		"userId":    "ana@u-factor.io",
		"sessionId": sessionID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeResponse(t, rec)
	assert.Equal(t, sessionID, body["session_id"])
	assert.Equal(t, false, body["session_created"])

	rec = doJSON(t, handler, http.MethodPost, "/clear-session", map[string]string{"userId": "ana@u-factor.io"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sessionID, decodeResponse(t, rec)["cleared_session"])
}

func TestQueryEndpoint_Validation(t *testing.T) {
	srv := newTestServer(t, nil, false)
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/query", map[string]string{"user_id": "ana"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeResponse(t, rec)["detail"], "message")

	rec = doJSON(t, handler, http.MethodPost, "/query", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeResponse(t, rec)["detail"], "user_id")
}

func TestQueryEndpoint_UpstreamFailureIs500(t *testing.T) {
	upstream := &stubUpstream{createErr: errors.New("quota exceeded")}
	srv := newTestServer(t, upstream, true)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/query", map[string]string{
		"message": "hello",
		"user_id": "ana",
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeResponse(t, rec)["detail"], "quota exceeded")
}

func TestClearSessionEndpoint(t *testing.T) {
	srv := newTestServer(t, nil, false)
	handler := srv.Handler()

	// Create a session first.
	rec := doJSON(t, handler, http.MethodPost, "/query", map[string]string{
		"message": "hello",
		"user_id": "ana",
	})
	sessionID := decodeResponse(t, rec)["session_id"].(string)

	rec = doJSON(t, handler, http.MethodPost, "/clear-session", map[string]string{"user_id": "ana"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeResponse(t, rec)
	assert.Equal(t, sessionID, body["cleared_session"])

	// Idempotent: a second clear reports nothing to clear.
	rec = doJSON(t, handler, http.MethodPost, "/clear-session", map[string]string{"user_id": "ana"})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeResponse(t, rec)
	assert.Nil(t, body["cleared_session"])

	// Missing identity is a client error.
	rec = doJSON(t, handler, http.MethodPost, "/clear-session", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionsEndpoint(t *testing.T) {
	srv := newTestServer(t, nil, false)
	handler := srv.Handler()

	doJSON(t, handler, http.MethodPost, "/query", map[string]string{"message": "x", "user_id": "ana"})
	doJSON(t, handler, http.MethodPost, "/query", map[string]string{"message": "y", "user_id": "rui"})

	rec := doJSON(t, handler, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeResponse(t, rec)
	assert.Equal(t, float64(2), body["session_count"])
}

func TestHealthEndpoint_DegradedWithoutAgent(t *testing.T) {
	srv := newTestServer(t, nil, false)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeResponse(t, rec)
	assert.Equal(t, false, body["agent_ready"])
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "test", body["environment"])
}

func TestHealthEndpoint_HealthyWithAgent(t *testing.T) {
	srv := newTestServer(t, &stubUpstream{}, true)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeResponse(t, rec)
	assert.Equal(t, true, body["agent_ready"])
	assert.Equal(t, "healthy", body["status"])
}

// stubUserAdmin backs the security endpoints with an in-memory user set.
type stubUserAdmin struct {
	users   map[string]*auth.UserRecord
	deleted []string
}

func (f *stubUserAdmin) GetUser(ctx context.Context, uid string) (*auth.UserRecord, error) {
	if u, ok := f.users[uid]; ok {
		return u, nil
	}
	return nil, errors.New("user not found")
}

func (f *stubUserAdmin) GetUserByEmail(ctx context.Context, email string) (*auth.UserRecord, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, errors.New("user not found")
}

func (f *stubUserAdmin) DeleteUser(ctx context.Context, uid string) error {
	delete(f.users, uid)
	f.deleted = append(f.deleted, uid)
	return nil
}

func (f *stubUserAdmin) CreateUser(ctx context.Context, user *auth.UserToCreate) (*auth.UserRecord, error) {
	return nil, errors.New("not implemented")
}

func (f *stubUserAdmin) SetCustomUserClaims(ctx context.Context, uid string, claims map[string]interface{}) error {
	return nil
}

func (f *stubUserAdmin) VisitUsers(ctx context.Context, visit func(*auth.UserRecord) error) error {
	for _, u := range f.users {
		if err := visit(u); err != nil {
			return err
		}
	}
	return nil
}

func TestValidateAllEndpoint_ReportOnlyByDefault(t *testing.T) {
	admin := &stubUserAdmin{users: map[string]*auth.UserRecord{
		"u1": {
			UserInfo:         &auth.UserInfo{UID: "u1", Email: "intruder@gmail.com"},
			ProviderUserInfo: []*auth.UserInfo{{ProviderID: "google.com"}},
		},
	}}
	srv := newTestServer(t, nil, false, func(o *Options) {
		o.Security = firebaseauth.NewService(admin, firebaseauth.Policy{AllowedDomains: []string{"u-factor.io"}})
	})
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/security/validate-all", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeResponse(t, rec)
	assert.Equal(t, float64(1), body["unauthorized_count"])
	assert.Empty(t, admin.deleted, "the default sweep must not delete anyone")

	rec = doJSON(t, handler, http.MethodPost, "/security/validate-all?delete=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"u1"}, admin.deleted)
}

func TestDisabledCapabilitiesAnswer503(t *testing.T) {
	srv := newTestServer(t, nil, false)
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/security/user-created", map[string]string{"uid": "u1"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/tools/incidents", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, nil, false)
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/query", nil)
	req.Header.Set("Origin", "https://ui.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_RestrictedOrigins(t *testing.T) {
	srv := newTestServer(t, nil, false, func(o *Options) {
		o.AllowedOrigins = []string{"https://ui.example.com"}
	})
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://ui.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "https://ui.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

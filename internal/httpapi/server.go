// Package httpapi is the HTTP facade over the session router and the
// supporting security and incident services.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/agentgate-dev/agentgate/internal/firebaseauth"
	"github.com/agentgate-dev/agentgate/internal/servicenow"
	"github.com/agentgate-dev/agentgate/pkg/observability"
	"github.com/agentgate-dev/agentgate/pkg/router"
)

// Options wires the server's collaborators. Security and Incidents are
// optional; their endpoints answer 503 when the capability is not
// configured.
type Options struct {
	Router         *router.Router
	Security       *firebaseauth.Service
	Incidents      *servicenow.Client
	Health         *observability.HealthChecker
	Environment    string
	AllowedOrigins []string
}

// Server is the HTTP transport.
type Server struct {
	opts       Options
	httpServer *http.Server
}

// NewServer builds the server and its routes.
func NewServer(port int, opts Options) *Server {
	s := &Server{opts: opts}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the full route tree, wrapped in the CORS and metrics
// middleware. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("POST /clear-session", s.handleClearSession)
	mux.HandleFunc("GET /sessions", s.handleSessions)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/live", observability.LivenessHandler())
	if s.opts.Health != nil {
		mux.HandleFunc("GET /health/ready", s.opts.Health.ReadinessHandler())
	}
	mux.Handle("GET /metrics", observability.MetricsHandler())

	mux.HandleFunc("POST /security/user-created", s.handleUserCreated)
	mux.HandleFunc("GET /security/validate/{uid}", s.handleValidateUser)
	mux.HandleFunc("POST /security/validate-all", s.handleValidateAll)
	mux.HandleFunc("DELETE /security/users/{uid}", s.handleDeleteUser)

	mux.HandleFunc("POST /tools/incidents", s.handleCreateIncident)
	mux.HandleFunc("GET /tools/incidents", s.handleListIncidents)
	mux.HandleFunc("GET /tools/incidents/{id}", s.handleGetIncident)
	mux.HandleFunc("PATCH /tools/incidents/{id}", s.handleUpdateIncident)
	mux.HandleFunc("POST /tools/incidents/{id}/comments", s.handleAddComment)
	mux.HandleFunc("POST /tools/incidents/{id}/resolve", s.handleResolveIncident)

	return corsMiddleware(s.opts.AllowedOrigins, metricsMiddleware(mux))
}

// Start runs the listener until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers with the FastAPI-style {"detail": ...} shape the UI
// already understands.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

package httpapi

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/agentgate-dev/agentgate/pkg/router"
)

// queryRequest accepts both snake_case and the camelCase spellings the web
// UI sends. Responses stay snake_case.
type queryRequest struct {
	Message     string `json:"message"`
	UserID      string `json:"user_id"`
	FirebaseUID string `json:"firebase_uid,omitempty"`
	SessionID   string `json:"session_id,omitempty"`

	UserIDCamel      string `json:"userId,omitempty"`
	FirebaseUIDCamel string `json:"firebaseUid,omitempty"`
	SessionIDCamel   string `json:"sessionId,omitempty"`
}

// normalize folds the camelCase aliases into the canonical fields. The
// snake_case spelling wins when both are present.
func (q *queryRequest) normalize() {
	if q.UserID == "" {
		q.UserID = q.UserIDCamel
	}
	if q.FirebaseUID == "" {
		q.FirebaseUID = q.FirebaseUIDCamel
	}
	if q.SessionID == "" {
		q.SessionID = q.SessionIDCamel
	}
}

type queryResponse struct {
	Success        bool   `json:"success"`
	Text           string `json:"text"`
	SessionID      string `json:"session_id"`
	UserID         string `json:"user_id"`
	SessionCreated bool   `json:"session_created"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.normalize()
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.UserID == "" && req.FirebaseUID == "" {
		writeError(w, http.StatusBadRequest, "user_id or firebase_uid is required")
		return
	}

	result, err := s.opts.Router.Query(r.Context(), router.QueryRequest{
		Message:   req.Message,
		CallerID:  req.UserID,
		RemoteUID: req.FirebaseUID,
		SessionID: req.SessionID,
	})
	if err != nil {
		var sessionErr *router.SessionCreationError
		var queryErr *router.QueryError
		switch {
		case errors.As(err, &sessionErr), errors.As(err, &queryErr):
			log.Printf("Query failed for user %s: %v", req.UserID, err)
			writeError(w, http.StatusInternalServerError, err.Error())
		default:
			log.Printf("Query failed for user %s: %v", req.UserID, err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Success:        true,
		Text:           result.Text,
		SessionID:      result.SessionID,
		UserID:         result.CallerID,
		SessionCreated: result.SessionCreated,
	})
}

type clearSessionRequest struct {
	UserID      string `json:"user_id"`
	FirebaseUID string `json:"firebase_uid,omitempty"`

	UserIDCamel      string `json:"userId,omitempty"`
	FirebaseUIDCamel string `json:"firebaseUid,omitempty"`
}

func (q *clearSessionRequest) normalize() {
	if q.UserID == "" {
		q.UserID = q.UserIDCamel
	}
	if q.FirebaseUID == "" {
		q.FirebaseUID = q.FirebaseUIDCamel
	}
}

type clearSessionResponse struct {
	Success        bool    `json:"success"`
	Message        string  `json:"message"`
	ClearedSession *string `json:"cleared_session"`
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	var req clearSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.normalize()

	callerKey := req.FirebaseUID
	if callerKey == "" {
		callerKey = req.UserID
	}
	if callerKey == "" {
		writeError(w, http.StatusBadRequest, "user_id or firebase_uid is required")
		return
	}

	removed, found, err := s.opts.Router.ClearSession(r.Context(), callerKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := clearSessionResponse{Success: true}
	if found {
		resp.Message = "Session cleared"
		resp.ClearedSession = &removed
	} else {
		resp.Message = "No session to clear"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.opts.Router.Sessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"sessions":      sessions,
		"session_count": len(sessions),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	agentReady := s.opts.Router.Ready()

	body := map[string]any{
		"status":      "healthy",
		"agent_ready": agentReady,
		"environment": s.opts.Environment,
	}
	if s.opts.Health != nil {
		checks := s.opts.Health.Check(r.Context())
		body["checks"] = checks.Checks
		if checks.Status != "healthy" {
			body["status"] = string(checks.Status)
		}
	}
	if !agentReady && body["status"] == "healthy" {
		body["status"] = "degraded"
	}

	status := http.StatusOK
	if body["status"] == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

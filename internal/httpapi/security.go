package httpapi

import (
	"log"
	"net/http"
)

func (s *Server) securityEnabled(w http.ResponseWriter) bool {
	if s.opts.Security == nil {
		writeError(w, http.StatusServiceUnavailable, "security endpoints are not configured")
		return false
	}
	return true
}

type userCreatedRequest struct {
	UID string `json:"uid"`
}

// handleUserCreated is the signup webhook target. Unauthorized accounts are
// deleted in the background; the response reports the decision either way.
func (s *Server) handleUserCreated(w http.ResponseWriter, r *http.Request) {
	if !s.securityEnabled(w) {
		return
	}
	var req userCreatedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UID == "" {
		writeError(w, http.StatusBadRequest, "uid is required")
		return
	}

	decision, err := s.opts.Security.HandleUserCreated(r.Context(), req.UID)
	if err != nil {
		log.Printf("User-created webhook failed for %s: %v", req.UID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "decision": decision})
}

func (s *Server) handleValidateUser(w http.ResponseWriter, r *http.Request) {
	if !s.securityEnabled(w) {
		return
	}
	uid := r.PathValue("uid")

	decision, err := s.opts.Security.ValidateUser(r.Context(), uid)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "decision": decision})
}

// handleValidateAll sweeps every user and reports how each one fares against
// the signup policy. Deletion of unauthorized accounts must be requested
// explicitly with ?delete=true.
func (s *Server) handleValidateAll(w http.ResponseWriter, r *http.Request) {
	if !s.securityEnabled(w) {
		return
	}
	deleteUnauthorized := r.URL.Query().Get("delete") == "true"

	report, err := s.opts.Security.ValidateAll(r.Context(), deleteUnauthorized)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":            true,
		"deleted":            deleteUnauthorized,
		"authorized":         report.Authorized,
		"unauthorized":       report.Unauthorized,
		"non_google":         report.NonGoogle,
		"unauthorized_count": len(report.Unauthorized),
	})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if !s.securityEnabled(w) {
		return
	}
	uid := r.PathValue("uid")

	if err := s.opts.Security.DeleteUser(r.Context(), uid); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "user deleted"})
}

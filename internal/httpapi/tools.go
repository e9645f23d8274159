package httpapi

import (
	"net/http"
	"strconv"

	"github.com/agentgate-dev/agentgate/internal/servicenow"
)

func (s *Server) incidentsEnabled(w http.ResponseWriter) bool {
	if s.opts.Incidents == nil {
		writeError(w, http.StatusServiceUnavailable, "incident endpoints are not configured")
		return false
	}
	return true
}

func (s *Server) handleCreateIncident(w http.ResponseWriter, r *http.Request) {
	if !s.incidentsEnabled(w) {
		return
	}
	var params servicenow.CreateIncidentParams
	if !decodeBody(w, r, &params) {
		return
	}

	incident, err := s.opts.Incidents.CreateIncident(r.Context(), params)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "incident": incident})
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	if !s.incidentsEnabled(w) {
		return
	}

	q := r.URL.Query()
	params := servicenow.ListIncidentsParams{
		State:           q.Get("state"),
		Priority:        q.Get("priority"),
		AssignmentGroup: q.Get("assignment_group"),
		DescriptionLike: q.Get("search"),
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		params.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil {
		params.Offset = v
	}

	result, err := s.opts.Incidents.ListIncidents(r.Context(), params)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"incidents": result.Incidents,
		"total":     result.Total,
	})
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	if !s.incidentsEnabled(w) {
		return
	}

	incident, err := s.opts.Incidents.GetIncident(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "incident": incident})
}

func (s *Server) handleUpdateIncident(w http.ResponseWriter, r *http.Request) {
	if !s.incidentsEnabled(w) {
		return
	}
	var fields map[string]any
	if !decodeBody(w, r, &fields) {
		return
	}

	incident, err := s.opts.Incidents.UpdateIncident(r.Context(), r.PathValue("id"), fields)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "incident": incident})
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	if !s.incidentsEnabled(w) {
		return
	}
	var body struct {
		Comment string `json:"comment"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	incident, err := s.opts.Incidents.AddComment(r.Context(), r.PathValue("id"), body.Comment)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "incident": incident})
}

func (s *Server) handleResolveIncident(w http.ResponseWriter, r *http.Request) {
	if !s.incidentsEnabled(w) {
		return
	}
	var body struct {
		CloseCode  string `json:"close_code"`
		CloseNotes string `json:"close_notes"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	incident, err := s.opts.Incidents.ResolveIncident(r.Context(), r.PathValue("id"), body.CloseCode, body.CloseNotes)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "incident": incident})
}

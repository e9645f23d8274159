package servicenow

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Incident is the flattened incident record the tools work with. ServiceNow
// reference fields come back as {value, display_value} objects when display
// values are requested; the wrapper flattens them to the display value.
type Incident struct {
	SysID            string `json:"sys_id"`
	Number           string `json:"number"`
	ShortDescription string `json:"short_description"`
	Description      string `json:"description,omitempty"`
	State            string `json:"state,omitempty"`
	Priority         string `json:"priority,omitempty"`
	Urgency          string `json:"urgency,omitempty"`
	Impact           string `json:"impact,omitempty"`
	Category         string `json:"category,omitempty"`
	AssignmentGroup  string `json:"assignment_group,omitempty"`
	AssignedTo       string `json:"assigned_to,omitempty"`
	Caller           string `json:"caller_id,omitempty"`
	OpenedAt         string `json:"opened_at,omitempty"`
	UpdatedAt        string `json:"sys_updated_on,omitempty"`
	CloseCode        string `json:"close_code,omitempty"`
	CloseNotes       string `json:"close_notes,omitempty"`
}

// CreateIncidentParams are the inputs for incident creation.
type CreateIncidentParams struct {
	ShortDescription string `json:"short_description"`
	Description      string `json:"description,omitempty"`
	Urgency          string `json:"urgency,omitempty"`
	Impact           string `json:"impact,omitempty"`
	Category         string `json:"category,omitempty"`
	CallerID         string `json:"caller_id,omitempty"`
	AssignmentGroup  string `json:"assignment_group,omitempty"`
}

// ListIncidentsParams filter and page the incident listing.
type ListIncidentsParams struct {
	State           string
	Priority        string
	AssignmentGroup string
	// DescriptionLike substring-matches the short description.
	DescriptionLike string
	// Query is a raw sysparm_query fragment joined after the filters.
	Query  string
	Limit  int
	Offset int
}

// ListIncidentsResult carries one page plus the total match count.
type ListIncidentsResult struct {
	Incidents []Incident `json:"incidents"`
	Total     int        `json:"total"`
}

type recordEnvelope struct {
	Result map[string]any `json:"result"`
}

type listEnvelope struct {
	Result []map[string]any `json:"result"`
}

// CreateIncident opens an incident and returns the created record.
func (c *Client) CreateIncident(ctx context.Context, params CreateIncidentParams) (Incident, error) {
	if strings.TrimSpace(params.ShortDescription) == "" {
		return Incident{}, fmt.Errorf("servicenow: short description is required")
	}

	var envelope recordEnvelope
	_, err := c.do(ctx, "create_incident", http.MethodPost, incidentTable, displayQuery(nil), params, &envelope)
	if err != nil {
		return Incident{}, err
	}
	return flattenIncident(envelope.Result), nil
}

// GetIncident fetches one incident by sys_id or number.
func (c *Client) GetIncident(ctx context.Context, key string) (Incident, error) {
	sysID, err := c.resolveSysID(ctx, key)
	if err != nil {
		return Incident{}, err
	}

	var envelope recordEnvelope
	_, err = c.do(ctx, "get_incident", http.MethodGet, incidentTable+"/"+sysID, displayQuery(nil), nil, &envelope)
	if err != nil {
		return Incident{}, err
	}
	return flattenIncident(envelope.Result), nil
}

// UpdateIncident patches arbitrary fields on an incident identified by
// sys_id or number.
func (c *Client) UpdateIncident(ctx context.Context, key string, fields map[string]any) (Incident, error) {
	if len(fields) == 0 {
		return Incident{}, fmt.Errorf("servicenow: no fields to update")
	}
	sysID, err := c.resolveSysID(ctx, key)
	if err != nil {
		return Incident{}, err
	}

	var envelope recordEnvelope
	_, err = c.do(ctx, "update_incident", http.MethodPatch, incidentTable+"/"+sysID, displayQuery(nil), fields, &envelope)
	if err != nil {
		return Incident{}, err
	}
	return flattenIncident(envelope.Result), nil
}

// AddComment appends a customer-visible comment to an incident.
func (c *Client) AddComment(ctx context.Context, key, comment string) (Incident, error) {
	if strings.TrimSpace(comment) == "" {
		return Incident{}, fmt.Errorf("servicenow: comment is required")
	}
	return c.UpdateIncident(ctx, key, map[string]any{"comments": comment})
}

// ResolveIncident moves an incident to the resolved state with close code
// and notes.
func (c *Client) ResolveIncident(ctx context.Context, key, closeCode, closeNotes string) (Incident, error) {
	if closeCode == "" {
		closeCode = "Solved (Permanently)"
	}
	if strings.TrimSpace(closeNotes) == "" {
		return Incident{}, fmt.Errorf("servicenow: close notes are required")
	}
	return c.UpdateIncident(ctx, key, map[string]any{
		"state":       "6",
		"close_code":  closeCode,
		"close_notes": closeNotes,
	})
}

// ListIncidents returns one page of incidents matching the filters, newest
// update first, plus the total match count from X-Total-Count.
func (c *Client) ListIncidents(ctx context.Context, params ListIncidentsParams) (ListIncidentsResult, error) {
	limit := params.Limit
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	q := displayQuery(nil)
	q.Set("sysparm_query", buildListQuery(params))
	q.Set("sysparm_limit", strconv.Itoa(limit))
	if params.Offset > 0 {
		q.Set("sysparm_offset", strconv.Itoa(params.Offset))
	}

	var envelope listEnvelope
	headers, err := c.do(ctx, "list_incidents", http.MethodGet, incidentTable, q, nil, &envelope)
	if err != nil {
		return ListIncidentsResult{}, err
	}

	result := ListIncidentsResult{Incidents: make([]Incident, 0, len(envelope.Result))}
	for _, record := range envelope.Result {
		result.Incidents = append(result.Incidents, flattenIncident(record))
	}
	if total, err := strconv.Atoi(headers.Get("X-Total-Count")); err == nil {
		result.Total = total
	} else {
		result.Total = len(result.Incidents)
	}
	return result, nil
}

// buildListQuery assembles a sysparm_query from the filters, joined with ^.
func buildListQuery(params ListIncidentsParams) string {
	var clauses []string
	if params.State != "" {
		clauses = append(clauses, "state="+params.State)
	}
	if params.Priority != "" {
		clauses = append(clauses, "priority="+params.Priority)
	}
	if params.AssignmentGroup != "" {
		clauses = append(clauses, "assignment_group.name="+params.AssignmentGroup)
	}
	if params.DescriptionLike != "" {
		clauses = append(clauses, "short_descriptionLIKE"+params.DescriptionLike)
	}
	if params.Query != "" {
		clauses = append(clauses, params.Query)
	}
	clauses = append(clauses, "ORDERBYDESCsys_updated_on")
	return strings.Join(clauses, "^")
}

// isSysID reports whether the key looks like a sys_id: 32 hex characters.
func isSysID(key string) bool {
	if len(key) != 32 {
		return false
	}
	for _, r := range key {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// resolveSysID maps an incident number like INC0010001 to its sys_id;
// sys_ids pass through.
func (c *Client) resolveSysID(ctx context.Context, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("servicenow: incident id is required")
	}
	if isSysID(key) {
		return key, nil
	}

	q := url.Values{}
	q.Set("sysparm_query", "number="+key)
	q.Set("sysparm_fields", "sys_id")
	q.Set("sysparm_limit", "1")

	var envelope listEnvelope
	if _, err := c.do(ctx, "resolve_incident", http.MethodGet, incidentTable, q, nil, &envelope); err != nil {
		return "", err
	}
	if len(envelope.Result) == 0 {
		return "", fmt.Errorf("servicenow: incident %s not found", key)
	}
	sysID, _ := envelope.Result[0]["sys_id"].(string)
	if sysID == "" {
		return "", fmt.Errorf("servicenow: incident %s not found", key)
	}
	return sysID, nil
}

// displayQuery returns the base query asking for both values and display
// values, so reference fields flatten to something readable.
func displayQuery(q url.Values) url.Values {
	if q == nil {
		q = url.Values{}
	}
	q.Set("sysparm_display_value", "all")
	q.Set("sysparm_exclude_reference_link", "true")
	return q
}

// flattenIncident maps a raw Table API record to an Incident, preferring
// display values for reference and choice fields.
func flattenIncident(record map[string]any) Incident {
	return Incident{
		SysID:            fieldValue(record, "sys_id"),
		Number:           fieldValue(record, "number"),
		ShortDescription: fieldDisplay(record, "short_description"),
		Description:      fieldDisplay(record, "description"),
		State:            fieldDisplay(record, "state"),
		Priority:         fieldDisplay(record, "priority"),
		Urgency:          fieldDisplay(record, "urgency"),
		Impact:           fieldDisplay(record, "impact"),
		Category:         fieldDisplay(record, "category"),
		AssignmentGroup:  fieldDisplay(record, "assignment_group"),
		AssignedTo:       fieldDisplay(record, "assigned_to"),
		Caller:           fieldDisplay(record, "caller_id"),
		OpenedAt:         fieldDisplay(record, "opened_at"),
		UpdatedAt:        fieldDisplay(record, "sys_updated_on"),
		CloseCode:        fieldDisplay(record, "close_code"),
		CloseNotes:       fieldDisplay(record, "close_notes"),
	}
}

func fieldValue(record map[string]any, name string) string {
	return extractField(record, name, "value")
}

func fieldDisplay(record map[string]any, name string) string {
	return extractField(record, name, "display_value")
}

func extractField(record map[string]any, name, preferred string) string {
	raw, ok := record[name]
	if !ok || raw == nil {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return v
	case map[string]any:
		if s, ok := v[preferred].(string); ok && s != "" {
			return s
		}
		if s, ok := v["value"].(string); ok {
			return s
		}
		if s, ok := v["display_value"].(string); ok {
			return s
		}
	}
	return fmt.Sprintf("%v", raw)
}

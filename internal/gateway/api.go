// ABOUTME: HTTP API handlers for conversation control, metrics, templates and agents
// ABOUTME: JSON over stdlib net/http; state-machine violations map to 409, absences to 404

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/2389/overseer-gateway/internal/ledger"
	"github.com/2389/overseer-gateway/internal/store"
	"github.com/2389/overseer-gateway/internal/template"
)

// AppendMessageRequest is the JSON request body for POST /api/conversations/{id}/messages.
type AppendMessageRequest struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// TakeoverRequest is the JSON request body for POST /api/conversations/{id}/takeover.
type TakeoverRequest struct {
	SupervisorID   string `json:"supervisor_id"`
	SupervisorName string `json:"supervisor_name"`
}

// ReturnRequest is the JSON request body for POST /api/conversations/{id}/return.
type ReturnRequest struct {
	Notes string `json:"notes"`
}

// StatusRequest is the JSON request body for PATCH /api/conversations/{id}/status.
type StatusRequest struct {
	Status string `json:"status"`
}

// TagsRequest is the JSON request body for POST /api/conversations/{id}/tags.
type TagsRequest struct {
	Tags []string `json:"tags"`
}

// ConversationResponse wraps a conversation snapshot. PersistWarning is set
// when the in-memory transition succeeded but the storage mirror write
// failed (degraded success).
type ConversationResponse struct {
	Conversation   *ledger.Conversation `json:"conversation"`
	PersistWarning string               `json:"persist_warning,omitempty"`
}

// MessageResponse is the JSON response for a newly appended message.
type MessageResponse struct {
	Message        *ledger.Message `json:"message"`
	PersistWarning string          `json:"persist_warning,omitempty"`
}

// FillTemplateRequest is the JSON request body for POST /api/templates/{id}/fill.
type FillTemplateRequest struct {
	Values map[string]string `json:"values"`
}

// FillTemplateResponse is the JSON response for a template fill.
type FillTemplateResponse struct {
	FilledContent       string   `json:"filled_content"`
	UnresolvedVariables []string `json:"unresolved_variables"`
}

// PreviewTemplateResponse is the JSON response for a template preview.
type PreviewTemplateResponse struct {
	HTML string `json:"html"`
}

// TemplateResponse is the JSON shape for template records.
type TemplateResponse struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Content    string   `json:"content"`
	Category   string   `json:"category"`
	Variables  []string `json:"variables"`
	UsageCount int      `json:"usage_count"`
	LastUsed   string   `json:"last_used,omitempty"`
}

// AgentResponse is the JSON shape for agent records.
type AgentResponse struct {
	ID           string                     `json:"id"`
	Name         string                     `json:"name"`
	Status       string                     `json:"status"`
	Parameters   store.AgentParameters      `json:"parameters"`
	Capabilities []store.AgentCapability    `json:"capabilities"`
	Escalation   store.EscalationThresholds `json:"escalation_thresholds"`
}

// AgentConfigRequest is the JSON request body for PATCH /api/agents/{id}/config.
// Each field is optional and applied independently; absent fields leave the
// current value untouched. No partial-object merges happen implicitly.
type AgentConfigRequest struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	MaxTokens     *int     `json:"max_tokens,omitempty"`
	ResponseStyle *string  `json:"response_style,omitempty"`

	Capabilities []struct {
		ID      string `json:"id"`
		Enabled bool   `json:"enabled"`
	} `json:"capabilities,omitempty"`

	SentimentBelow   *float64 `json:"sentiment_below,omitempty"`
	WaitSecondsAbove *int     `json:"wait_seconds_above,omitempty"`
}

// handleListConversations handles GET /api/conversations.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, g.ledger.List())
}

// handleGetConversation handles GET /api/conversations/{id}.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := g.ledger.Get(r.PathValue("id"))
	if err != nil {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	g.sendJSON(w, http.StatusOK, conv)
}

// handleConversationHistory handles GET /api/conversations/{id}/history.
func (g *Gateway) handleConversationHistory(w http.ResponseWriter, r *http.Request) {
	conv, err := g.ledger.Get(r.PathValue("id"))
	if err != nil {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conv.ID,
		"customer_name":   conv.CustomerName,
		"agent_id":        conv.AgentID,
		"messages":        conv.Messages,
		"status":          conv.Status,
		"control":         conv.Control,
		"start_time":      conv.StartTime,
		"end_time":        conv.EndTime,
	})
}

// handleAppendMessage handles POST /api/conversations/{id}/messages.
func (g *Gateway) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	var req AppendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Sender == "" || req.Text == "" {
		g.sendJSONError(w, http.StatusBadRequest, "sender and text are required")
		return
	}

	_, msg, err := g.ledger.AppendMessage(r.Context(), r.PathValue("id"), req.Sender, req.Text)
	if g.mapLedgerError(w, err) {
		return
	}
	g.sendJSON(w, http.StatusCreated, MessageResponse{
		Message:        msg,
		PersistWarning: persistWarning(err),
	})
}

// handleTakeover handles POST /api/conversations/{id}/takeover.
func (g *Gateway) handleTakeover(w http.ResponseWriter, r *http.Request) {
	var req TakeoverRequest
	if err := decodeOptionalBody(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	conv, err := g.ledger.Takeover(r.Context(), r.PathValue("id"), req.SupervisorID, req.SupervisorName)
	if g.mapLedgerError(w, err) {
		return
	}
	g.sendJSON(w, http.StatusOK, ConversationResponse{
		Conversation:   conv,
		PersistWarning: persistWarning(err),
	})
}

// handleReturn handles POST /api/conversations/{id}/return.
func (g *Gateway) handleReturn(w http.ResponseWriter, r *http.Request) {
	var req ReturnRequest
	if err := decodeOptionalBody(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	conv, err := g.ledger.ReturnToAI(r.Context(), r.PathValue("id"), req.Notes)
	if g.mapLedgerError(w, err) {
		return
	}
	g.sendJSON(w, http.StatusOK, ConversationResponse{
		Conversation:   conv,
		PersistWarning: persistWarning(err),
	})
}

// handleSetStatus handles PATCH /api/conversations/{id}/status.
func (g *Gateway) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Status == "" {
		g.sendJSONError(w, http.StatusBadRequest, "status is required")
		return
	}

	conv, err := g.ledger.SetStatus(r.Context(), r.PathValue("id"), ledger.Status(req.Status))
	if g.mapLedgerError(w, err) {
		return
	}
	g.sendJSON(w, http.StatusOK, ConversationResponse{
		Conversation:   conv,
		PersistWarning: persistWarning(err),
	})
}

// handleAddTags handles POST /api/conversations/{id}/tags.
func (g *Gateway) handleAddTags(w http.ResponseWriter, r *http.Request) {
	var req TagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Tags == nil {
		g.sendJSONError(w, http.StatusBadRequest, "tags array is required")
		return
	}

	conv, err := g.ledger.AddTags(r.Context(), r.PathValue("id"), req.Tags)
	if g.mapLedgerError(w, err) {
		return
	}
	g.sendJSON(w, http.StatusOK, ConversationResponse{
		Conversation:   conv,
		PersistWarning: persistWarning(err),
	})
}

// handleMetrics handles GET /api/metrics: a single current snapshot.
func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, g.aggregator.Snapshot())
}

// handleAnalytics handles GET /api/analytics: daily rollups for the dashboard chart.
func (g *Gateway) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, map[string]any{
		"daily":         g.aggregator.Daily(7),
		"conversations": len(g.ledger.List()),
	})
}

// handleListTemplates handles GET /api/templates with optional ?category=.
func (g *Gateway) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	tpls, err := g.store.ListTemplates(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		g.logger.Error("failed to list templates", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	out := make([]TemplateResponse, 0, len(tpls))
	for _, tpl := range tpls {
		out = append(out, templateToResponse(tpl))
	}
	g.sendJSON(w, http.StatusOK, out)
}

// handleGetTemplate handles GET /api/templates/{id}.
func (g *Gateway) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := g.store.GetTemplate(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "template not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to load template", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, templateToResponse(tpl))
}

// handleFillTemplate handles POST /api/templates/{id}/fill. Filling counts
// as a use: usage_count is bumped best-effort.
func (g *Gateway) handleFillTemplate(w http.ResponseWriter, r *http.Request) {
	var req FillTemplateRequest
	if err := decodeOptionalBody(r.Body, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	tpl, err := g.store.GetTemplate(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "template not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to load template", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	filled, unresolved := template.Fill(tpl.Content, req.Values)

	if err := g.store.IncrementTemplateUsage(r.Context(), tpl.ID); err != nil {
		g.logger.Warn("failed to bump template usage", "template_id", tpl.ID, "error", err)
	}

	g.sendJSON(w, http.StatusOK, FillTemplateResponse{
		FilledContent:       filled,
		UnresolvedVariables: unresolved,
	})
}

// handlePreviewTemplate handles POST /api/templates/{id}/preview.
func (g *Gateway) handlePreviewTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := g.store.GetTemplate(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "template not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to load template", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	html, err := template.PreviewHTML(tpl.Content)
	if err != nil {
		g.logger.Error("failed to render template preview", "template_id", tpl.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, PreviewTemplateResponse{HTML: html})
}

// handleListAgents handles GET /api/agents.
func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := g.store.ListAgents(r.Context())
	if err != nil {
		g.logger.Error("failed to list agents", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	out := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentToResponse(a))
	}
	g.sendJSON(w, http.StatusOK, out)
}

// handleGetAgent handles GET /api/agents/{id}.
func (g *Gateway) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := g.store.GetAgent(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "agent not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to load agent", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, agentToResponse(agent))
}

// handlePatchAgentConfig handles PATCH /api/agents/{id}/config.
// Every provided field is validated and applied individually; unknown
// capability ids are rejected rather than silently created.
func (g *Gateway) handlePatchAgentConfig(w http.ResponseWriter, r *http.Request) {
	var req AgentConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	agent, err := g.store.GetAgent(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "agent not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to load agent", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if req.Temperature != nil {
		if *req.Temperature < 0 || *req.Temperature > 2 {
			g.sendJSONError(w, http.StatusBadRequest, "temperature must be in [0, 2]")
			return
		}
		agent.Parameters.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		if *req.MaxTokens <= 0 {
			g.sendJSONError(w, http.StatusBadRequest, "max_tokens must be positive")
			return
		}
		agent.Parameters.MaxTokens = *req.MaxTokens
	}
	if req.ResponseStyle != nil {
		agent.Parameters.ResponseStyle = *req.ResponseStyle
	}
	if req.SentimentBelow != nil {
		if *req.SentimentBelow < 0 || *req.SentimentBelow > 1 {
			g.sendJSONError(w, http.StatusBadRequest, "sentiment_below must be in [0, 1]")
			return
		}
		agent.Escalation.SentimentBelow = *req.SentimentBelow
	}
	if req.WaitSecondsAbove != nil {
		if *req.WaitSecondsAbove < 0 {
			g.sendJSONError(w, http.StatusBadRequest, "wait_seconds_above must not be negative")
			return
		}
		agent.Escalation.WaitSecondsAbove = *req.WaitSecondsAbove
	}
	for _, c := range req.Capabilities {
		found := false
		for i := range agent.Capabilities {
			if agent.Capabilities[i].ID == c.ID {
				agent.Capabilities[i].Enabled = c.Enabled
				found = true
				break
			}
		}
		if !found {
			g.sendJSONError(w, http.StatusBadRequest, "unknown capability: "+c.ID)
			return
		}
	}

	agent.UpdatedAt = time.Now()
	if err := g.store.SaveAgent(r.Context(), agent); err != nil {
		g.logger.Error("failed to save agent", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.sendJSON(w, http.StatusOK, agentToResponse(agent))
}

// mapLedgerError writes an error response for terminal ledger failures.
// Returns true when the request is finished. ErrPersist is not terminal:
// the mutation committed and the handler should respond with a warning.
func (g *Gateway) mapLedgerError(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil, errors.Is(err, ledger.ErrPersist):
		return false
	case errors.Is(err, ledger.ErrConversationNotFound):
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, ledger.ErrAlreadyUnderSupervision):
		g.sendJSONError(w, http.StatusConflict, "conversation already under supervision")
	case errors.Is(err, ledger.ErrNotUnderSupervision):
		g.sendJSONError(w, http.StatusConflict, "conversation not under supervision")
	case errors.Is(err, ledger.ErrInvalidTransition):
		g.sendJSONError(w, http.StatusConflict, "invalid status transition")
	case errors.Is(err, ledger.ErrInvalidStatus):
		g.sendJSONError(w, http.StatusBadRequest, "unknown status value")
	default:
		g.logger.Error("unexpected ledger error", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
	return true
}

// persistWarning extracts the degraded-success message, if any.
func persistWarning(err error) string {
	if errors.Is(err, ledger.ErrPersist) {
		return "state updated but not persisted; storage write failed"
	}
	return ""
}

// decodeOptionalBody decodes JSON into v, treating an empty body as the
// zero value. Several control operations take all-optional bodies.
func decodeOptionalBody(body io.Reader, v any) error {
	err := json.NewDecoder(body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func templateToResponse(tpl *store.Template) TemplateResponse {
	resp := TemplateResponse{
		ID:         tpl.ID,
		Name:       tpl.Name,
		Content:    tpl.Content,
		Category:   tpl.Category,
		Variables:  tpl.Variables,
		UsageCount: tpl.UsageCount,
	}
	if tpl.LastUsed != nil {
		resp.LastUsed = tpl.LastUsed.Format(time.RFC3339)
	}
	return resp
}

func agentToResponse(a *store.Agent) AgentResponse {
	return AgentResponse{
		ID:           a.ID,
		Name:         a.Name,
		Status:       a.Status,
		Parameters:   a.Parameters,
		Capabilities: a.Capabilities,
		Escalation:   a.Escalation,
	}
}

// sendJSON writes a JSON response with the given status code.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}

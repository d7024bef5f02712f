package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/connexus-ai/ragbox-backend/internal/apperr"
	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// AgentDeps bundles the Agent Loop's dependency.
type AgentDeps struct {
	Agent *service.AgentService
}

// askRequest is the wire shape of POST /api/ai/qa.
type askRequest struct {
	Query             string             `json:"query"`
	ConversationID    *string            `json:"conversationId"`
	KBIDs             []string           `json:"kbIds"`
	UseTools          bool               `json:"useTools"`
	PreferredTools    []string           `json:"preferredTools"`
	ChatModelOverride *string            `json:"chatModel"`
	MCPTool           *askMCPToolRequest `json:"mcpTool"`
}

type askMCPToolRequest struct {
	Endpoint string         `json:"endpoint"`
	ToolName string         `json:"toolName"`
	Args     map[string]any `json:"args"`
}

// respondErr maps a service-layer error to its HTTP status, using
// apperr.Error's Kind when present and falling back to 500 otherwise.
func respondErr(w http.ResponseWriter, err error) {
	if appErr, ok := apperr.As(err); ok {
		respondJSON(w, appErr.Status(), envelope{Success: false, Error: appErr.Detail})
		return
	}
	respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "internal error"})
}

// Ask handles POST /api/ai/qa: a single turn of the Agent Loop (C8).
func Ask(deps AgentDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondJSON(w, http.StatusUnauthorized, envelope{Success: false, Error: "unauthorized"})
			return
		}

		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "query is required"})
			return
		}
		if req.ConversationID != nil && !validateUUID(*req.ConversationID) {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid conversation ID format"})
			return
		}

		agentReq := service.AgentRequest{
			UserID:            userID,
			Query:             req.Query,
			ConversationID:    req.ConversationID,
			KBIDs:             req.KBIDs,
			UseTools:          req.UseTools,
			PreferredTools:    req.PreferredTools,
			ChatModelOverride: req.ChatModelOverride,
		}
		if req.MCPTool != nil {
			agentReq.MCPTool = &service.MCPToolRequest{
				Endpoint: req.MCPTool.Endpoint,
				ToolName: req.MCPTool.ToolName,
				Args:     req.MCPTool.Args,
			}
		}

		result, err := deps.Agent.Answer(r.Context(), agentReq)
		if err != nil {
			respondErr(w, err)
			return
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: result})
	}
}

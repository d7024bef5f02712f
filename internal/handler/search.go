package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/provider"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// SemanticSearcher is the Retrieval Engine (C7) contract the semantic
// search endpoint calls directly, bypassing the Agent Loop's planner and
// synthesis steps.
type SemanticSearcher interface {
	Retrieve(ctx context.Context, cred provider.Credential, ownerID string, kbIDs []string, query string) (*service.RetrievalResult, error)
}

// EmbeddingCredentialResolver resolves the embedding credential a raw
// search call should use.
type EmbeddingCredentialResolver interface {
	EmbeddingCredentialFor(ctx context.Context, ownerID string) (provider.Credential, error)
}

// SearchDeps bundles dependencies for the semantic search handler.
type SearchDeps struct {
	Retriever SemanticSearcher
	Creds     EmbeddingCredentialResolver
}

// SemanticSearch handles GET /api/search/semantic?q=...&kbIds=a,b,c.
// Runs the same embed -> top-K -> rerank pipeline the Agent Loop's rag
// tool uses (C7), scoped to the caller and returned without an LLM
// synthesis pass.
func SemanticSearch(deps SearchDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondJSON(w, http.StatusUnauthorized, envelope{Success: false, Error: "unauthorized"})
			return
		}

		query := r.URL.Query().Get("q")
		if query == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "q is required"})
			return
		}

		var kbIDs []string
		if raw := r.URL.Query().Get("kbIds"); raw != "" {
			kbIDs = strings.Split(raw, ",")
		}

		cred, err := deps.Creds.EmbeddingCredentialFor(r.Context(), userID)
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to resolve credential"})
			return
		}

		result, err := deps.Retriever.Retrieve(r.Context(), cred, userID, kbIDs, query)
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "search failed"})
			return
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: result})
	}
}

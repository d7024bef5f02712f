// Package provider implements the Provider Gateway (C2): a single
// interface over every LLM/embedding/rerank/web-search backend a tenant
// can configure, generalized from the teacher's Vertex-AI-only
// gcpclient.GenAIAdapter into a multi-provider dispatcher.
package provider

import (
	"context"
	"fmt"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// Credential identifies which concrete backend and model to call. The
// zero value (ProviderType == "") means "no credential configured",
// which every Gateway method must handle per spec's fallback table.
type Credential struct {
	ProviderType model.ProviderType
	APIKey       string
	BaseURL      string
	ModelID      string
}

// Configured reports whether this credential can be used to call out.
func (c Credential) Configured() bool {
	return c.ProviderType != "" && c.APIKey != ""
}

// ChatMessage is one turn of chat context sent to a Chat call.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatResult is the model's reply plus which llm_type/model were
// actually used, for AIConversationMessage.LLMTypeUsed/LLMModelUsed.
type ChatResult struct {
	Content      string
	LLMTypeUsed  string
	LLMModelUsed string
}

// EmbeddingDimensions is the fixed width every embedding in this system
// uses, matching the teacher's embedder.go constant.
const EmbeddingDimensions = 768

// ZeroVector is the well-known sentinel embedding used whenever no
// credential is configured (invariant I1).
func ZeroVector() []float32 {
	return make([]float32, EmbeddingDimensions)
}

// Gateway is the C2 contract.
type Gateway interface {
	// Embed returns one embedding vector per input text. With no
	// credential configured it returns ZeroVector() for every input
	// instead of failing (spec's missing-credential fallback table).
	Embed(ctx context.Context, cred Credential, texts []string) ([][]float32, error)

	// Chat produces one assistant reply for the given message history.
	// With no credential configured it returns apperr.ProviderUnconfigured.
	Chat(ctx context.Context, cred Credential, messages []ChatMessage) (ChatResult, error)

	// Rerank scores each candidate against query. With no credential
	// configured every score is exactly 0, signaling callers (C7) to
	// fall back to the original similarity ranking (spec P6).
	Rerank(ctx context.Context, cred Credential, query string, candidates []string) ([]float64, error)

	// WebSearch performs a web search and returns result snippets. With
	// no credential configured it returns apperr.ProviderUnconfigured.
	WebSearch(ctx context.Context, cred Credential, query string, limit int) ([]WebResult, error)
}

// WebResult is one web_search hit.
type WebResult struct {
	Title   string
	URL     string
	Snippet string
}

// Router dispatches Gateway calls to the concrete client registered for
// a Credential's ProviderType.
type Router struct {
	clients map[model.ProviderType]Gateway
}

func NewRouter() *Router {
	return &Router{clients: make(map[model.ProviderType]Gateway)}
}

// Register adds a concrete Gateway implementation for a provider type.
func (r *Router) Register(pt model.ProviderType, client Gateway) {
	r.clients[pt] = client
}

func (r *Router) resolve(cred Credential) (Gateway, error) {
	if !cred.Configured() {
		return nil, nil
	}
	client, ok := r.clients[cred.ProviderType]
	if !ok {
		return nil, fmt.Errorf("provider.Router: no client registered for provider type %q", cred.ProviderType)
	}
	return client, nil
}

func (r *Router) Embed(ctx context.Context, cred Credential, texts []string) ([][]float32, error) {
	client, err := r.resolve(cred)
	if err != nil {
		return nil, err
	}
	if client == nil {
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = ZeroVector()
		}
		return out, nil
	}
	return client.Embed(ctx, cred, texts)
}

func (r *Router) Chat(ctx context.Context, cred Credential, messages []ChatMessage) (ChatResult, error) {
	client, err := r.resolve(cred)
	if err != nil {
		return ChatResult{}, err
	}
	if client == nil {
		return ChatResult{}, errProviderUnconfigured("chat")
	}
	return client.Chat(ctx, cred, messages)
}

func (r *Router) Rerank(ctx context.Context, cred Credential, query string, candidates []string) ([]float64, error) {
	client, err := r.resolve(cred)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return make([]float64, len(candidates)), nil
	}
	return client.Rerank(ctx, cred, query, candidates)
}

func (r *Router) WebSearch(ctx context.Context, cred Credential, query string, limit int) ([]WebResult, error) {
	client, err := r.resolve(cred)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errProviderUnconfigured("web_search")
	}
	return client.WebSearch(ctx, cred, query, limit)
}

var _ Gateway = (*Router)(nil)

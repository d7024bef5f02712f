package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/connexus-ai/ragbox-backend/internal/gcpclient"
)

// VertexAdapter wraps the kept gcpclient.GenAIAdapter (Vertex AI Gemini,
// dual SDK/REST path) so the ProviderVertexAI credential type can be
// dispatched through the same Gateway interface as every OpenAI-compatible
// provider. Embed goes through the kept gcpclient.EmbeddingAdapter and
// returns an error when none is configured. Rerank and web search are
// not exposed by this adapter, so those two calls return an error
// explaining why rather than silently no-op'ing.
type VertexAdapter struct {
	adapter   *gcpclient.GenAIAdapter
	embedder  *gcpclient.EmbeddingAdapter
}

func NewVertexAdapter(adapter *gcpclient.GenAIAdapter, embedder *gcpclient.EmbeddingAdapter) *VertexAdapter {
	return &VertexAdapter{adapter: adapter, embedder: embedder}
}

var _ Gateway = (*VertexAdapter)(nil)

func (v *VertexAdapter) Chat(ctx context.Context, cred Credential, messages []ChatMessage) (ChatResult, error) {
	var system string
	var userParts []string
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = m.Content
		default:
			userParts = append(userParts, m.Content)
		}
	}

	text, err := v.adapter.GenerateContent(ctx, system, strings.Join(userParts, "\n\n"))
	if err != nil {
		return ChatResult{}, fmt.Errorf("provider.VertexAdapter.Chat: %w", err)
	}
	return ChatResult{Content: text, LLMTypeUsed: "vertexai", LLMModelUsed: cred.ModelID}, nil
}

func (v *VertexAdapter) Embed(ctx context.Context, cred Credential, texts []string) ([][]float32, error) {
	if v.embedder == nil {
		return nil, fmt.Errorf("provider.VertexAdapter: no embedding model configured")
	}
	out, err := v.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("provider.VertexAdapter.Embed: %w", err)
	}
	return out, nil
}

func (v *VertexAdapter) Rerank(context.Context, Credential, string, []string) ([]float64, error) {
	return nil, fmt.Errorf("provider.VertexAdapter: rerank is not supported by this Vertex AI adapter")
}

func (v *VertexAdapter) WebSearch(context.Context, Credential, string, int) ([]WebResult, error) {
	return nil, fmt.Errorf("provider.VertexAdapter: web search is not supported by this Vertex AI adapter")
}

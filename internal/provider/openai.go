package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/apperr"
)

// OpenAICompatibleClient speaks the OpenAI chat/embeddings/rerank wire
// format directly over HTTP, so the same client backs OpenAI,
// SiliconFlow, Zhipu, ModelScope, and Custom provider types — each only
// differs by BaseURL/APIKey/ModelID, per spec's tagged-union Provider.
//
// Grounded on the teacher's gcpclient/genai.go REST path (direct HTTP
// call, manual JSON marshal/unmarshal) and gcpclient/retry.go's
// withRetry helper, generalized from Vertex-only to any HTTP backend.
type OpenAICompatibleClient struct {
	httpClient *http.Client
}

func NewOpenAICompatibleClient(httpClient *http.Client) *OpenAICompatibleClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &OpenAICompatibleClient{httpClient: httpClient}
}

var _ Gateway = (*OpenAICompatibleClient)(nil)

type oaChatRequest struct {
	Model    string          `json:"model"`
	Messages []oaChatMessage `json:"messages"`
}

type oaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaChatResponse struct {
	Choices []struct {
		Message oaChatMessage `json:"message"`
	} `json:"choices"`
}

func (c *OpenAICompatibleClient) Chat(ctx context.Context, cred Credential, messages []ChatMessage) (ChatResult, error) {
	req := oaChatRequest{Model: cred.ModelID}
	for _, m := range messages {
		req.Messages = append(req.Messages, oaChatMessage{Role: m.Role, Content: m.Content})
	}

	var resp oaChatResponse
	_, err := withRetry(ctx, "provider.Chat", func() (struct{}, error) {
		return struct{}{}, c.postJSON(ctx, cred, "/chat/completions", req, &resp)
	})
	if err != nil {
		return ChatResult{}, fmt.Errorf("provider.OpenAICompatibleClient.Chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ChatResult{}, fmt.Errorf("provider.OpenAICompatibleClient.Chat: empty choices")
	}

	return ChatResult{
		Content:      resp.Choices[0].Message.Content,
		LLMTypeUsed:  string(cred.ProviderType),
		LLMModelUsed: cred.ModelID,
	}, nil
}

type oaEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type oaEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *OpenAICompatibleClient) Embed(ctx context.Context, cred Credential, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := oaEmbeddingRequest{Model: cred.ModelID, Input: texts}
	var resp oaEmbeddingResponse
	_, err := withRetry(ctx, "provider.Embed", func() (struct{}, error) {
		return struct{}{}, c.postJSON(ctx, cred, "/embeddings", req, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("provider.OpenAICompatibleClient.Embed: %w", err)
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}

// Rerank uses the OpenAI-compatible /rerank endpoint shape shared by
// SiliconFlow/Zhipu/ModelScope cross-encoder rerank models.
type oaRerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type oaRerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func (c *OpenAICompatibleClient) Rerank(ctx context.Context, cred Credential, query string, candidates []string) ([]float64, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	req := oaRerankRequest{Model: cred.ModelID, Query: query, Documents: candidates}
	var resp oaRerankResponse
	_, err := withRetry(ctx, "provider.Rerank", func() (struct{}, error) {
		return struct{}{}, c.postJSON(ctx, cred, "/rerank", req, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("provider.OpenAICompatibleClient.Rerank: %w", err)
	}

	scores := make([]float64, len(candidates))
	for _, r := range resp.Results {
		if r.Index >= 0 && r.Index < len(scores) {
			scores[r.Index] = r.RelevanceScore
		}
	}
	return scores, nil
}

// WebSearch is not part of the OpenAI chat-completions wire format;
// Custom-type providers that expose a search endpoint reuse the same
// POST-JSON plumbing.
type oaSearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type oaSearchResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Snippet string `json:"snippet"`
	} `json:"results"`
}

func (c *OpenAICompatibleClient) WebSearch(ctx context.Context, cred Credential, query string, limit int) ([]WebResult, error) {
	req := oaSearchRequest{Query: query, Limit: limit}
	var resp oaSearchResponse
	_, err := withRetry(ctx, "provider.WebSearch", func() (struct{}, error) {
		return struct{}{}, c.postJSON(ctx, cred, "/search", req, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("provider.OpenAICompatibleClient.WebSearch: %w", err)
	}

	out := make([]WebResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, WebResult{Title: r.Title, URL: r.URL, Snippet: r.Snippet})
	}
	return out, nil
}

func (c *OpenAICompatibleClient) postJSON(ctx context.Context, cred Credential, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimSuffix(cred.BaseURL, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cred.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		slog.Warn("provider request failed", "status", resp.StatusCode, "path", path)
		detail := fmt.Sprintf("%s: status %d: %s", path, resp.StatusCode, string(respBody))
		// 401/403 are retried/classified by isRetryableError upstream (bad
		// key vs rate limit look the same from here); every other 4xx is a
		// caller-side mistake no retry will fix, so surface it as fatal
		// instead of letting it flow back as a bare error (spec §7).
		if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden &&
			resp.StatusCode >= 400 && resp.StatusCode < 500 && !isRetryableStatus(resp.StatusCode) {
			return apperr.ProviderFatal(detail, nil)
		}
		return fmt.Errorf("%s", detail)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

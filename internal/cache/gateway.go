package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/provider"
)

// CachingGateway wraps a provider.Gateway with an EmbeddingCache,
// short-circuiting single-text Embed calls (the shape every retrieval
// query uses) on a cache hit. Multi-text calls (chunk ingestion) and
// every other Gateway method pass straight through, since only repeated
// single queries are worth caching.
type CachingGateway struct {
	provider.Gateway
	embeddings *EmbeddingCache
}

// NewCachingGateway wraps gateway with an embedding cache of the given TTL.
func NewCachingGateway(gateway provider.Gateway, ttl time.Duration) *CachingGateway {
	return &CachingGateway{Gateway: gateway, embeddings: NewEmbeddingCache(ttl)}
}

// Embed caches single-query embedding calls keyed by (model, text) hash.
// Batch calls (len(texts) != 1), used by the chunking pipeline, always
// go straight to the underlying gateway since chunk text rarely repeats.
func (g *CachingGateway) Embed(ctx context.Context, cred provider.Credential, texts []string) ([][]float32, error) {
	if len(texts) != 1 {
		return g.Gateway.Embed(ctx, cred, texts)
	}

	key := fmt.Sprintf("%s:%s", cred.ModelID, EmbeddingQueryHash(texts[0]))
	if vec, ok := g.embeddings.Get(key); ok {
		return [][]float32{vec}, nil
	}

	vecs, err := g.Gateway.Embed(ctx, cred, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) == 1 {
		g.embeddings.Set(key, vecs[0])
	}
	return vecs, nil
}

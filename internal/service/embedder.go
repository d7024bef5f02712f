package service

import (
	"context"
	"fmt"
	"math"

	"github.com/connexus-ai/ragbox-backend/internal/provider"
)

const (
	// maxBatchSize is the max texts per provider embedding call.
	maxBatchSize = 250
	// embeddingDimensions is the expected vector dimensionality.
	embeddingDimensions = provider.EmbeddingDimensions
)

// ChunkStore abstracts bulk insertion of chunks with vectors.
type ChunkStore interface {
	BulkInsert(ctx context.Context, chunks []Chunk, vectors [][]float32) error
}

// EmbedderService generates vector embeddings via the Provider Gateway
// and stores them with chunks.
type EmbedderService struct {
	gateway    provider.Gateway
	chunkStore ChunkStore
}

func NewEmbedderService(gateway provider.Gateway, chunkStore ChunkStore) *EmbedderService {
	return &EmbedderService{gateway: gateway, chunkStore: chunkStore}
}

// Embed generates embeddings for a slice of texts, batching as needed.
// Returns one embeddingDimensions-wide L2-normalized vector per input
// text, or the zero-vector sentinel for every text when cred is not
// configured (invariant I1).
func (s *EmbedderService) Embed(ctx context.Context, cred provider.Credential, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("service.Embed: no texts provided")
	}

	if !cred.Configured() {
		zero := make([][]float32, len(texts))
		for i := range zero {
			zero[i] = provider.ZeroVector()
		}
		return zero, nil
	}

	allVectors := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += maxBatchSize {
		end := i + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		vectors, err := s.gateway.Embed(ctx, cred, batch)
		if err != nil {
			return nil, fmt.Errorf("service.Embed: batch %d-%d: %w", i, end, err)
		}

		for j, vec := range vectors {
			if isZeroVector(vec) {
				continue
			}
			if len(vec) != embeddingDimensions {
				return nil, fmt.Errorf("service.Embed: vector %d has %d dimensions, want %d", i+j, len(vec), embeddingDimensions)
			}
			vectors[j] = l2Normalize(vec)
		}

		allVectors = append(allVectors, vectors...)
	}

	if len(allVectors) != len(texts) {
		return nil, fmt.Errorf("service.Embed: got %d vectors for %d texts", len(allVectors), len(texts))
	}

	return allVectors, nil
}

// EmbedAndStore generates embeddings for chunks and persists them via
// ChunkStore. Implements the Embedder interface used by PipelineService.
func (s *EmbedderService) EmbedAndStore(ctx context.Context, cred provider.Credential, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := s.Embed(ctx, cred, texts)
	if err != nil {
		return fmt.Errorf("service.EmbedAndStore: %w", err)
	}

	if err := s.chunkStore.BulkInsert(ctx, chunks, vectors); err != nil {
		return fmt.Errorf("service.EmbedAndStore: store: %w", err)
	}

	return nil
}

func isZeroVector(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return len(vec) > 0
}

// l2Normalize normalizes a vector to unit length (L2 norm = 1).
func l2Normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return vec
	}

	result := make([]float32, len(vec))
	for i, v := range vec {
		result[i] = float32(float64(v) / norm)
	}
	return result
}

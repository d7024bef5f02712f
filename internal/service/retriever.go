package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/provider"
)

const (
	// kInitial is the number of candidates fetched from the vector index
	// before reranking (spec §4.6 step 2).
	kInitial = 50
	// kFinal is the number of ranked spans ultimately returned (spec
	// §4.6 steps 3/5).
	kFinal = 5
	// maxChunksPerDocument limits how many chunks from one document can
	// appear in a single result set.
	maxChunksPerDocument = 2

	// localRerank weights, used only as the P6 fallback when the C2
	// reranker is unconfigured (all scores exactly zero).
	weightSimilarity = 0.70
	weightRecency    = 0.15
	weightParentDoc  = 0.15
)

// VectorSearchResult is one candidate hit from the vector index (C5) or
// full-text search, scoped to a single owner.
type VectorSearchResult struct {
	Chunk      model.KnowledgeDocumentChunk
	Similarity float64
	Document   model.KnowledgeDocument
}

// VectorSearcher abstracts C5's QueryTopK for testability.
type VectorSearcher interface {
	SimilaritySearch(ctx context.Context, ownerID string, kbIDs []string, queryVec []float32, topK int) ([]VectorSearchResult, error)
}

// BM25Searcher abstracts full-text search, fused with vector results via
// reciprocal rank fusion. Not required by spec.md's QueryTopK contract,
// but kept as a hybrid-retrieval enrichment.
type BM25Searcher interface {
	FullTextSearch(ctx context.Context, ownerID string, kbIDs []string, query string, topK int) ([]VectorSearchResult, error)
}

// RankedChunk is a chunk with its final score (C2 rerank score, or the
// similarity/localRerank fallback) and parent document id.
type RankedChunk struct {
	Chunk      model.KnowledgeDocumentChunk `json:"chunk"`
	Score      float64                      `json:"score"`
	DocumentID string                       `json:"documentId"`
}

// RetrievalResult contains the ranked chunks and a diagnostic reason for
// empty results (e.g. no embedding credential configured).
type RetrievalResult struct {
	Chunks              []RankedChunk `json:"chunks"`
	TotalCandidates     int           `json:"totalCandidates"`
	TotalDocumentsFound int           `json:"totalDocumentsFound"`
	Reason              string        `json:"reason,omitempty"`
}

// RetrieverService implements the Retrieval Engine (C7): query →
// embedding → top-K by cosine (fused with BM25 when available) →
// rerank (C2, falling back to localRerank) → final ranked spans.
type RetrieverService struct {
	gateway  provider.Gateway
	searcher VectorSearcher
	bm25     BM25Searcher // nil = vector-only
}

func NewRetrieverService(gateway provider.Gateway, searcher VectorSearcher) *RetrieverService {
	return &RetrieverService{gateway: gateway, searcher: searcher}
}

// SetBM25 attaches a BM25Searcher for hybrid retrieval. When nil
// (default), retrieval is vector-only.
func (s *RetrieverService) SetBM25(bm25 BM25Searcher) {
	s.bm25 = bm25
}

// Retrieve runs the full C7 pipeline for a single query, scoped to
// ownerID and (optionally) a set of kb_ids.
func (s *RetrieverService) Retrieve(ctx context.Context, cred provider.Credential, ownerID string, kbIDs []string, query string) (*RetrievalResult, error) {
	if query == "" {
		return nil, fmt.Errorf("service.Retrieve: query is empty")
	}

	queryVecs, err := s.gateway.Embed(ctx, cred, []string{query})
	if err != nil {
		return nil, fmt.Errorf("service.Retrieve: embed: %w", err)
	}
	queryVec := queryVecs[0]
	if isZeroVector(queryVec) {
		return &RetrievalResult{Reason: "no embedding available"}, nil
	}

	var vectorResults, bm25Results []VectorSearchResult
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		vectorResults, err = s.searcher.SimilaritySearch(gCtx, ownerID, kbIDs, queryVec, kInitial)
		return err
	})
	if s.bm25 != nil {
		g.Go(func() error {
			var err error
			bm25Results, err = s.bm25.FullTextSearch(gCtx, ownerID, kbIDs, query, kInitial)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("service.Retrieve: search: %w", err)
	}

	var candidates []VectorSearchResult
	if len(bm25Results) > 0 {
		candidates = reciprocalRankFusion(vectorResults, bm25Results)
	} else {
		candidates = vectorResults
	}

	if len(candidates) == 0 {
		return &RetrievalResult{Chunks: []RankedChunk{}}, nil
	}

	docSet := make(map[string]struct{})
	for _, c := range candidates {
		docSet[c.Document.ID] = struct{}{}
	}
	totalDocsFound := len(docSet)

	if len(candidates) < kFinal {
		ranked := deduplicate(bySimilarity(candidates), maxChunksPerDocument)
		return &RetrievalResult{
			Chunks:              ranked,
			TotalCandidates:     len(candidates),
			TotalDocumentsFound: totalDocsFound,
		}, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Chunk.Text
	}

	rerankScores, err := s.gateway.Rerank(ctx, cred, query, texts)
	if err != nil {
		return nil, fmt.Errorf("service.Retrieve: rerank: %w", err)
	}

	ranked := applyRerank(candidates, rerankScores, time.Now().UTC())
	deduped := deduplicate(ranked, maxChunksPerDocument)

	limit := kFinal
	if limit > len(deduped) {
		limit = len(deduped)
	}

	return &RetrievalResult{
		Chunks:              deduped[:limit],
		TotalCandidates:     len(candidates),
		TotalDocumentsFound: totalDocsFound,
	}, nil
}

// applyRerank uses the C2 reranker's scores unless every score is
// exactly zero, in which case it falls back to localRerank (P6).
func applyRerank(candidates []VectorSearchResult, scores []float64, now time.Time) []RankedChunk {
	allZero := true
	for _, sc := range scores {
		if sc != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		slog.Info("retriever falling back to local rerank", "reason", "reranker unconfigured or all-zero scores")
	}

	ranked := make([]RankedChunk, len(candidates))
	for i, c := range candidates {
		score := localRerank(c, now)
		if !allZero && i < len(scores) {
			score = scores[i]
		}
		ranked[i] = RankedChunk{Chunk: c.Chunk, Score: score, DocumentID: c.Chunk.DocumentID}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked
}

// bySimilarity is used when there are too few candidates to bother
// reranking (spec §4.6 step 3): sort by similarity and return as-is.
func bySimilarity(candidates []VectorSearchResult) []RankedChunk {
	ranked := make([]RankedChunk, len(candidates))
	for i, c := range candidates {
		ranked[i] = RankedChunk{Chunk: c.Chunk, Score: c.Similarity, DocumentID: c.Chunk.DocumentID}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return ranked
}

// localRerank scores a candidate using a weighted formula combining
// similarity, document recency, and parent-document size. It is the
// fallback scorer when the C2 reranker is unconfigured.
func localRerank(c VectorSearchResult, now time.Time) float64 {
	recency := recencyBoost(c.Document.CreatedAt, now)
	parentDoc := parentDocBoost(c.Document.TotalChunks)
	return weightSimilarity*c.Similarity + weightRecency*recency + weightParentDoc*parentDoc
}

// recencyBoost returns a score [0, 1] based on document age. Documents
// created within the last 7 days get 1.0, decaying to 0 at 365 days.
func recencyBoost(docCreated time.Time, now time.Time) float64 {
	daysSince := now.Sub(docCreated).Hours() / 24
	if daysSince < 0 {
		daysSince = 0
	}
	if daysSince <= 7 {
		return 1.0
	}
	if daysSince >= 365 {
		return 0.0
	}
	return 1.0 - (daysSince-7)/(365-7)
}

// parentDocBoost returns a score [0, 1] based on the document's chunk
// count, capped at 50 chunks.
func parentDocBoost(totalChunks int) float64 {
	if totalChunks <= 0 {
		return 0.0
	}
	const cap = 50.0
	return math.Min(float64(totalChunks)/cap, 1.0)
}

// reciprocalRankFusion combines results from vector and BM25 search.
// score = sum(1 / (k + rank_in_list)) for each list the chunk appears
// in. k=60 is the standard RRF constant.
func reciprocalRankFusion(vectorResults, bm25Results []VectorSearchResult) []VectorSearchResult {
	const k = 60
	scores := make(map[string]float64)
	items := make(map[string]VectorSearchResult)

	for rank, item := range vectorResults {
		id := item.Chunk.ID
		scores[id] += 1.0 / float64(k+rank+1)
		if _, exists := items[id]; !exists {
			items[id] = item
		}
	}
	for rank, item := range bm25Results {
		id := item.Chunk.ID
		scores[id] += 1.0 / float64(k+rank+1)
		if _, exists := items[id]; !exists {
			items[id] = item
		}
	}

	type scored struct {
		result VectorSearchResult
		score  float64
	}
	var sorted []scored
	for id, item := range items {
		sorted = append(sorted, scored{item, scores[id]})
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].score > sorted[j].score })

	results := make([]VectorSearchResult, len(sorted))
	for i, sc := range sorted {
		results[i] = sc.result
	}
	return results
}

// deduplicate limits the number of chunks from any single document.
func deduplicate(ranked []RankedChunk, maxPerDoc int) []RankedChunk {
	docCount := make(map[string]int)
	var result []RankedChunk

	for _, r := range ranked {
		if docCount[r.DocumentID] >= maxPerDoc {
			continue
		}
		docCount[r.DocumentID]++
		result = append(result, r)
	}

	return result
}

package service

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/provider"
)

// mockRetrieverGateway implements provider.Gateway for retriever tests.
type mockRetrieverGateway struct {
	embedVec     []float32
	embedErr     error
	rerankScores []float64
	rerankErr    error
}

func (m *mockRetrieverGateway) Embed(ctx context.Context, cred provider.Credential, texts []string) ([][]float32, error) {
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	vec := m.embedVec
	if vec == nil {
		vec = make([]float32, 768)
		vec[0] = 1.0
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = vec
	}
	return out, nil
}

func (m *mockRetrieverGateway) Chat(context.Context, provider.Credential, []provider.ChatMessage) (provider.ChatResult, error) {
	return provider.ChatResult{}, fmt.Errorf("not implemented")
}

func (m *mockRetrieverGateway) Rerank(ctx context.Context, cred provider.Credential, query string, candidates []string) ([]float64, error) {
	if m.rerankErr != nil {
		return nil, m.rerankErr
	}
	if m.rerankScores != nil {
		return m.rerankScores, nil
	}
	return make([]float64, len(candidates)), nil
}

func (m *mockRetrieverGateway) WebSearch(context.Context, provider.Credential, string, int) ([]provider.WebResult, error) {
	return nil, fmt.Errorf("not implemented")
}

// mockVectorSearcher implements VectorSearcher for testing.
type mockVectorSearcher struct {
	results       []VectorSearchResult
	err           error
	capturedTopK  int
	capturedOwner string
	capturedKBIDs []string
}

func (m *mockVectorSearcher) SimilaritySearch(ctx context.Context, ownerID string, kbIDs []string, queryVec []float32, topK int) ([]VectorSearchResult, error) {
	m.capturedTopK = topK
	m.capturedOwner = ownerID
	m.capturedKBIDs = kbIDs
	if m.err != nil {
		return nil, m.err
	}
	return m.results, nil
}

// mockBM25Searcher implements BM25Searcher for testing.
type mockBM25Searcher struct {
	results []VectorSearchResult
	err     error
}

func (m *mockBM25Searcher) FullTextSearch(ctx context.Context, ownerID string, kbIDs []string, query string, topK int) ([]VectorSearchResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.results, nil
}

func makeResult(docID string, content string, similarity float64, docCreatedAt time.Time, totalChunks int) VectorSearchResult {
	return VectorSearchResult{
		Chunk: model.KnowledgeDocumentChunk{
			ID:         "chunk-" + docID,
			DocumentID: docID,
			Text:       content,
		},
		Similarity: similarity,
		Document: model.KnowledgeDocument{
			ID:          docID,
			TotalChunks: totalChunks,
			CreatedAt:   docCreatedAt,
		},
	}
}

func manyResults(n int) []VectorSearchResult {
	now := time.Now().UTC()
	results := make([]VectorSearchResult, n)
	for i := range results {
		results[i] = makeResult(fmt.Sprintf("doc-%d", i), fmt.Sprintf("chunk %d", i), 0.9-float64(i)*0.01, now, 10)
		results[i].Chunk.ID = fmt.Sprintf("chunk-%d", i)
	}
	return results
}

func TestRetrieve_Success(t *testing.T) {
	now := time.Now().UTC()
	searcher := &mockVectorSearcher{results: append(manyResults(10), makeResult("doc-extra", "relevant chunk", 0.95, now, 10))}
	svc := NewRetrieverService(&mockRetrieverGateway{}, searcher)

	result, err := svc.Retrieve(context.Background(), provider.Credential{}, "test-user", nil, "test query")
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(result.Chunks) == 0 {
		t.Fatal("expected at least 1 chunk")
	}
	if result.TotalCandidates != 11 {
		t.Errorf("TotalCandidates = %d, want 11", result.TotalCandidates)
	}
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	svc := NewRetrieverService(&mockRetrieverGateway{}, &mockVectorSearcher{})

	_, err := svc.Retrieve(context.Background(), provider.Credential{}, "test-user", nil, "")
	if err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestRetrieve_EmbedError(t *testing.T) {
	gw := &mockRetrieverGateway{embedErr: fmt.Errorf("embed failed")}
	svc := NewRetrieverService(gw, &mockVectorSearcher{})

	_, err := svc.Retrieve(context.Background(), provider.Credential{}, "test-user", nil, "test")
	if err == nil {
		t.Fatal("expected error when embed fails")
	}
}

func TestRetrieve_NoEmbeddingReturnsDiagnosticReason(t *testing.T) {
	gw := &mockRetrieverGateway{embedVec: make([]float32, 768)}
	svc := NewRetrieverService(gw, &mockVectorSearcher{})

	result, err := svc.Retrieve(context.Background(), provider.Credential{}, "test-user", nil, "test")
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if result.Reason == "" {
		t.Error("expected diagnostic reason for zero-vector embedding")
	}
	if len(result.Chunks) != 0 {
		t.Error("expected no chunks when embedding is unavailable")
	}
}

func TestRetrieve_SearchError(t *testing.T) {
	searcher := &mockVectorSearcher{err: fmt.Errorf("search failed")}
	svc := NewRetrieverService(&mockRetrieverGateway{}, searcher)

	_, err := svc.Retrieve(context.Background(), provider.Credential{}, "test-user", nil, "test")
	if err == nil {
		t.Fatal("expected error when search fails")
	}
}

func TestRetrieve_NoCandidates(t *testing.T) {
	searcher := &mockVectorSearcher{results: []VectorSearchResult{}}
	svc := NewRetrieverService(&mockRetrieverGateway{}, searcher)

	result, err := svc.Retrieve(context.Background(), provider.Credential{}, "test-user", nil, "test")
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(result.Chunks) != 0 {
		t.Errorf("expected 0 chunks, got %d", len(result.Chunks))
	}
}

func TestRetrieve_FewCandidatesSkipsRerank(t *testing.T) {
	searcher := &mockVectorSearcher{results: manyResults(3)}
	svc := NewRetrieverService(&mockRetrieverGateway{}, searcher)

	result, err := svc.Retrieve(context.Background(), provider.Credential{}, "test-user", nil, "test")
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(result.Chunks) != 3 {
		t.Errorf("expected 3 chunks (below kFinal), got %d", len(result.Chunks))
	}
}

func TestRetrieve_SearchScopedToOwnerAndKBs(t *testing.T) {
	searcher := &mockVectorSearcher{results: []VectorSearchResult{}}
	svc := NewRetrieverService(&mockRetrieverGateway{}, searcher)

	svc.Retrieve(context.Background(), provider.Credential{}, "test-user", []string{"kb-1"}, "test")

	if searcher.capturedTopK != kInitial {
		t.Errorf("topK = %d, want %d", searcher.capturedTopK, kInitial)
	}
	if searcher.capturedOwner != "test-user" {
		t.Errorf("owner = %q, want test-user", searcher.capturedOwner)
	}
	if len(searcher.capturedKBIDs) != 1 || searcher.capturedKBIDs[0] != "kb-1" {
		t.Errorf("kbIDs = %v, want [kb-1]", searcher.capturedKBIDs)
	}
}

func TestRetrieve_ReturnsMaxKFinal(t *testing.T) {
	searcher := &mockVectorSearcher{results: manyResults(10)}
	svc := NewRetrieverService(&mockRetrieverGateway{}, searcher)

	result, err := svc.Retrieve(context.Background(), provider.Credential{}, "test-user", nil, "test")
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if len(result.Chunks) != kFinal {
		t.Errorf("expected %d chunks (limit), got %d", kFinal, len(result.Chunks))
	}
	if result.TotalCandidates != 10 {
		t.Errorf("TotalCandidates = %d, want 10", result.TotalCandidates)
	}
}

func TestRetrieve_RerankFallbackOnAllZeroScores(t *testing.T) {
	searcher := &mockVectorSearcher{results: manyResults(10)}
	gw := &mockRetrieverGateway{rerankScores: make([]float64, 10)}
	svc := NewRetrieverService(gw, searcher)

	result, err := svc.Retrieve(context.Background(), provider.Credential{}, "test-user", nil, "test")
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	// All-zero rerank scores ⇒ fallback to localRerank, which always
	// favors the highest-similarity candidate first among equally-aged docs.
	if result.Chunks[0].DocumentID != "doc-0" {
		t.Errorf("expected doc-0 to rank first under fallback, got %s", result.Chunks[0].DocumentID)
	}
}

func TestRetrieve_RerankUsesGatewayScoresWhenNonZero(t *testing.T) {
	searcher := &mockVectorSearcher{results: manyResults(10)}
	scores := make([]float64, 10)
	scores[9] = 0.99 // last candidate should now rank first
	gw := &mockRetrieverGateway{rerankScores: scores}
	svc := NewRetrieverService(gw, searcher)

	result, err := svc.Retrieve(context.Background(), provider.Credential{}, "test-user", nil, "test")
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}
	if result.Chunks[0].DocumentID != "doc-9" {
		t.Errorf("expected doc-9 to rank first via rerank score, got %s", result.Chunks[0].DocumentID)
	}
}

func TestRetrieve_RerankError(t *testing.T) {
	searcher := &mockVectorSearcher{results: manyResults(10)}
	gw := &mockRetrieverGateway{rerankErr: fmt.Errorf("rerank down")}
	svc := NewRetrieverService(gw, searcher)

	_, err := svc.Retrieve(context.Background(), provider.Credential{}, "test-user", nil, "test")
	if err == nil {
		t.Fatal("expected error when rerank fails")
	}
}

func TestRetrieve_Deduplication(t *testing.T) {
	now := time.Now().UTC()
	results := []VectorSearchResult{
		makeResult("doc-A", "chunk A1", 0.95, now, 10),
		makeResult("doc-A", "chunk A2", 0.93, now, 10),
		makeResult("doc-A", "chunk A3", 0.91, now, 10),
		makeResult("doc-A", "chunk A4", 0.89, now, 10),
		makeResult("doc-B", "chunk B1", 0.87, now, 10),
	}
	for i := range results {
		results[i].Chunk.ID = fmt.Sprintf("chunk-%d", i)
	}
	for len(results) < kFinal+1 {
		results = append(results, makeResult(fmt.Sprintf("doc-filler-%d", len(results)), "filler", 0.1, now, 10))
	}

	searcher := &mockVectorSearcher{results: results}
	svc := NewRetrieverService(&mockRetrieverGateway{}, searcher)

	result, err := svc.Retrieve(context.Background(), provider.Credential{}, "test-user", nil, "test")
	if err != nil {
		t.Fatalf("Retrieve() error: %v", err)
	}

	docCounts := make(map[string]int)
	for _, c := range result.Chunks {
		docCounts[c.DocumentID]++
	}
	if docCounts["doc-A"] > 2 {
		t.Errorf("doc-A has %d chunks, want max 2", docCounts["doc-A"])
	}
}

func TestRetrieve_HybridWithBM25(t *testing.T) {
	results := manyResults(10)
	vectorSearcher := &mockVectorSearcher{results: results}
	bm25Mock := &mockBM25Searcher{results: []VectorSearchResult{makeResult("doc-bm25", "bm25 match", 0.80, time.Now().UTC(), 5)}}
	bm25Mock.results[0].Chunk.ID = "chunk-bm25"

	svc := NewRetrieverService(&mockRetrieverGateway{}, vectorSearcher)
	svc.SetBM25(bm25Mock)

	result, err := svc.Retrieve(context.Background(), provider.Credential{}, "test-user", nil, "Section 4.2")
	if err != nil {
		t.Fatalf("Retrieve with BM25 error: %v", err)
	}
	if result.TotalCandidates != 11 {
		t.Errorf("TotalCandidates = %d, want 11 (10 vector + 1 bm25-only)", result.TotalCandidates)
	}
}

func TestRecencyBoost(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name    string
		docAge  time.Duration
		wantMin float64
		wantMax float64
	}{
		{"recent (1 day)", 24 * time.Hour, 0.99, 1.0},
		{"week old", 7 * 24 * time.Hour, 0.99, 1.0},
		{"6 months old", 180 * 24 * time.Hour, 0.4, 0.6},
		{"1 year old", 365 * 24 * time.Hour, 0.0, 0.01},
		{"2 years old", 730 * 24 * time.Hour, 0.0, 0.01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			boost := recencyBoost(now.Add(-tt.docAge), now)
			if boost < tt.wantMin || boost > tt.wantMax {
				t.Errorf("recencyBoost = %f, want [%f, %f]", boost, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestParentDocBoost(t *testing.T) {
	tests := []struct {
		totalChunks int
		want        float64
	}{
		{0, 0.0},
		{1, 0.02},
		{25, 0.50},
		{50, 1.00},
		{100, 1.00},
	}

	for _, tt := range tests {
		got := parentDocBoost(tt.totalChunks)
		if math.Abs(got-tt.want) > 0.01 {
			t.Errorf("parentDocBoost(%d) = %f, want %f", tt.totalChunks, got, tt.want)
		}
	}
}

func TestDeduplicate(t *testing.T) {
	ranked := []RankedChunk{
		{DocumentID: "a", Score: 0.9},
		{DocumentID: "a", Score: 0.8},
		{DocumentID: "a", Score: 0.7},
		{DocumentID: "b", Score: 0.6},
		{DocumentID: "b", Score: 0.5},
		{DocumentID: "b", Score: 0.4},
	}

	result := deduplicate(ranked, 2)

	docCounts := make(map[string]int)
	for _, r := range result {
		docCounts[r.DocumentID]++
	}
	if docCounts["a"] != 2 {
		t.Errorf("doc a count = %d, want 2", docCounts["a"])
	}
	if docCounts["b"] != 2 {
		t.Errorf("doc b count = %d, want 2", docCounts["b"])
	}
	if len(result) != 4 {
		t.Errorf("total results = %d, want 4", len(result))
	}
}

func TestReciprocalRankFusion_CombinesResults(t *testing.T) {
	now := time.Now().UTC()
	vectorResults := []VectorSearchResult{
		makeResult("doc-1", "vector match 1", 0.95, now, 10),
		makeResult("doc-2", "vector match 2", 0.85, now, 5),
	}
	vectorResults[0].Chunk.ID = "chunk-v1"
	vectorResults[1].Chunk.ID = "chunk-v2"

	bm25Results := []VectorSearchResult{
		makeResult("doc-2", "bm25 match (same as vector)", 0.90, now, 5),
		makeResult("doc-3", "bm25 only match", 0.80, now, 8),
	}
	bm25Results[0].Chunk.ID = "chunk-v2"
	bm25Results[1].Chunk.ID = "chunk-b1"

	fused := reciprocalRankFusion(vectorResults, bm25Results)

	if len(fused) != 3 {
		t.Fatalf("fused count = %d, want 3", len(fused))
	}
	if fused[0].Chunk.ID != "chunk-v2" {
		t.Errorf("expected chunk-v2 (in both lists) to rank first, got %s", fused[0].Chunk.ID)
	}
}

func TestReciprocalRankFusion_EmptyBM25(t *testing.T) {
	now := time.Now().UTC()
	vectorResults := []VectorSearchResult{makeResult("doc-1", "only vector", 0.95, now, 10)}
	vectorResults[0].Chunk.ID = "chunk-1"

	fused := reciprocalRankFusion(vectorResults, nil)

	if len(fused) != 1 {
		t.Fatalf("fused count = %d, want 1", len(fused))
	}
	if fused[0].Chunk.ID != "chunk-1" {
		t.Errorf("expected chunk-1, got %s", fused[0].Chunk.ID)
	}
}

func TestLocalRerank(t *testing.T) {
	now := time.Now().UTC()
	candidates := []VectorSearchResult{
		{Chunk: model.KnowledgeDocumentChunk{ID: "c1"}, Similarity: 0.9, Document: model.KnowledgeDocument{ID: "d1", CreatedAt: now.Add(-1 * 24 * time.Hour), TotalChunks: 30}},
		{Chunk: model.KnowledgeDocumentChunk{ID: "c2"}, Similarity: 0.8, Document: model.KnowledgeDocument{ID: "d2", CreatedAt: now.Add(-200 * 24 * time.Hour), TotalChunks: 5}},
	}

	s1 := localRerank(candidates[0], now)
	s2 := localRerank(candidates[1], now)

	if s1 <= s2 {
		t.Errorf("expected candidate 0 to score higher, got %f vs %f", s1, s2)
	}
	if s1 <= 0 || s1 > 1.0 {
		t.Errorf("localRerank = %f, want (0, 1]", s1)
	}
}

package repository

import (
	"context"
	"testing"

	"github.com/connexus-ai/ragbox-backend/internal/service"
)

func TestBM25Repository_FullTextSearch(t *testing.T) {
	chunkRepo, docRepo, ownerID, kbID, cleanup := setupChunkRepo(t)
	defer cleanup()

	docID := createTestDocForChunks(t, docRepo, ownerID, kbID)
	ctx := context.Background()

	vec := make([]float32, 768)
	err := chunkRepo.BulkInsert(ctx, []service.Chunk{
		{Content: "The quarterly revenue report covers fiscal year 2025 projections", ContentHash: "bm25hash-" + docID, TokenCount: 8, Index: 0, DocumentID: docID, OwnerID: ownerID, KBID: kbID},
	}, [][]float32{vec})
	if err != nil {
		t.Fatalf("BulkInsert() error: %v", err)
	}

	bm25 := NewBM25Repository(chunkRepo.pool)
	results, err := bm25.FullTextSearch(ctx, ownerID, nil, "quarterly revenue projections", 10)
	if err != nil {
		t.Fatalf("FullTextSearch() error: %v", err)
	}

	found := false
	for _, r := range results {
		if r.Document.ID == docID {
			found = true
		}
	}
	if !found {
		t.Error("expected full-text match for our document")
	}
}

func TestBM25Repository_FullTextSearch_ScopedToOwner(t *testing.T) {
	chunkRepo, docRepo, ownerID, kbID, cleanup := setupChunkRepo(t)
	defer cleanup()

	otherOwnerID := "00000000-0000-0000-0000-000000000099"
	docID := createTestDocForChunks(t, docRepo, ownerID, kbID)
	ctx := context.Background()

	vec := make([]float32, 768)
	chunkRepo.BulkInsert(ctx, []service.Chunk{
		{Content: "A unique phrase about migratory falcon habitats", ContentHash: "bm25hash2-" + docID, TokenCount: 6, Index: 0, DocumentID: docID, OwnerID: ownerID, KBID: kbID},
	}, [][]float32{vec})

	bm25 := NewBM25Repository(chunkRepo.pool)
	results, err := bm25.FullTextSearch(ctx, otherOwnerID, nil, "migratory falcon habitats", 10)
	if err != nil {
		t.Fatalf("FullTextSearch() error: %v", err)
	}
	for _, r := range results {
		if r.Document.ID == docID {
			t.Error("another owner's query should not surface this document's chunks")
		}
	}
}

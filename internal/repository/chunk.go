package repository

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// ChunkRepo implements service.ChunkStore and service.VectorSearcher
// against the knowledge_document_chunks/knowledge_documents tables.
type ChunkRepo struct {
	pool *pgxpool.Pool
}

// NewChunkRepo creates a ChunkRepo.
func NewChunkRepo(pool *pgxpool.Pool) *ChunkRepo {
	return &ChunkRepo{pool: pool}
}

// Compile-time checks.
var (
	_ service.ChunkStore     = (*ChunkRepo)(nil)
	_ service.VectorSearcher = (*ChunkRepo)(nil)
)

// BulkInsert stores chunks with their embedding vectors using pgx batching.
func (r *ChunkRepo) BulkInsert(ctx context.Context, chunks []service.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("repository.BulkInsert: chunk count (%d) != vector count (%d)", len(chunks), len(vectors))
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()

	for i, c := range chunks {
		id := uuid.New().String()
		embedding := pgvector.NewVector(vectors[i])

		batch.Queue(`
			INSERT INTO knowledge_document_chunks (id, document_id, owner_id, kb_id, chunk_index, text, token_count, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			id, c.DocumentID, c.OwnerID, c.KBID, c.Index, c.Content, c.TokenCount, embedding, now,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < len(chunks); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("repository.BulkInsert: chunk %d: %w", i, err)
		}
	}

	return nil
}

// SimilaritySearch finds the top-K chunks most similar to queryVec using
// cosine distance, scoped to ownerID and (optionally) a set of kb_ids
// (spec §4.6 step 2: QueryTopK restricted to owner_id = caller).
func (r *ChunkRepo) SimilaritySearch(ctx context.Context, ownerID string, kbIDs []string, queryVec []float32, topK int) ([]service.VectorSearchResult, error) {
	embedding := pgvector.NewVector(queryVec)

	query := `
		SELECT
			c.id, c.document_id, c.owner_id, c.kb_id, c.chunk_index, c.text,
			c.token_count, c.created_at,
			1 - (c.embedding <=> $1::vector) AS similarity,
			d.id, d.kb_id, d.owner_id, d.file_name, d.mime, d.total_chunks, d.created_at
		FROM knowledge_document_chunks c
		JOIN knowledge_documents d ON c.document_id = d.id
		WHERE d.deleted_at IS NULL
			AND c.owner_id = $2`

	args := []interface{}{embedding, ownerID}
	if len(kbIDs) > 0 {
		query += fmt.Sprintf(` AND c.kb_id = ANY($%d)`, len(args)+1)
		args = append(args, kbIDs)
	}

	query += fmt.Sprintf(`
		ORDER BY c.embedding <=> $1::vector, c.chunk_index, c.document_id
		LIMIT $%d`, len(args)+1)
	args = append(args, topK)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository.SimilaritySearch: %w", err)
	}
	defer rows.Close()

	var results []service.VectorSearchResult
	for rows.Next() {
		var rr service.VectorSearchResult
		err := rows.Scan(
			&rr.Chunk.ID, &rr.Chunk.DocumentID, &rr.Chunk.OwnerID, &rr.Chunk.KBID,
			&rr.Chunk.ChunkIndex, &rr.Chunk.Text, &rr.Chunk.TokenCount, &rr.Chunk.CreatedAt,
			&rr.Similarity,
			&rr.Document.ID, &rr.Document.KBID, &rr.Document.OwnerID, &rr.Document.FileName,
			&rr.Document.Mime, &rr.Document.TotalChunks, &rr.Document.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository.SimilaritySearch: scan: %w", err)
		}
		// A stored chunk kept at the I1 zero sentinel (embedder.go) has no
		// magnitude, so cosine distance against it is NaN; drop it rather
		// than let a NaN similarity pollute fusion/rerank downstream.
		if math.IsNaN(rr.Similarity) {
			continue
		}
		results = append(results, rr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.SimilaritySearch: rows: %w", err)
	}

	return results, nil
}

// DeleteByDocumentID removes all chunks for a document. Used on
// re-ingestion (a failed or re-uploaded document's stale chunks must
// not linger and pollute retrieval).
func (r *ChunkRepo) DeleteByDocumentID(ctx context.Context, documentID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM knowledge_document_chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("repository.DeleteByDocumentID: %w", err)
	}
	return nil
}

// CountByDocumentID returns the number of chunks for a document.
func (r *ChunkRepo) CountByDocumentID(ctx context.Context, documentID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM knowledge_document_chunks WHERE document_id = $1`, documentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("repository.CountByDocumentID: %w", err)
	}
	return count, nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// BM25Repository implements service.BM25Searcher using PostgreSQL
// full-text search (ts_vector), fused with vector results via
// reciprocal rank fusion as a hybrid-retrieval enrichment on top of
// spec.md's QueryTopK contract. Relies on a GIN index over
// knowledge_document_chunks.text_tsv.
type BM25Repository struct {
	pool *pgxpool.Pool
}

// NewBM25Repository creates a BM25Repository.
func NewBM25Repository(pool *pgxpool.Pool) *BM25Repository {
	return &BM25Repository{pool: pool}
}

// Compile-time check.
var _ service.BM25Searcher = (*BM25Repository)(nil)

// FullTextSearch finds chunks matching the query via PostgreSQL
// full-text search, scoped to ownerID and (optionally) a set of kb_ids.
func (r *BM25Repository) FullTextSearch(ctx context.Context, ownerID string, kbIDs []string, query string, topK int) ([]service.VectorSearchResult, error) {
	sqlQuery := `
		SELECT c.id, c.document_id, c.owner_id, c.kb_id, c.chunk_index, c.text,
		       c.token_count, c.created_at,
		       ts_rank_cd(c.text_tsv, plainto_tsquery('english', $1)) AS rank,
		       d.id, d.kb_id, d.owner_id, d.file_name, d.mime, d.total_chunks, d.created_at
		FROM knowledge_document_chunks c
		JOIN knowledge_documents d ON c.document_id = d.id
		WHERE d.deleted_at IS NULL
		  AND c.owner_id = $2
		  AND c.text_tsv @@ plainto_tsquery('english', $1)`

	args := []interface{}{query, ownerID}
	if len(kbIDs) > 0 {
		sqlQuery += fmt.Sprintf(` AND c.kb_id = ANY($%d)`, len(args)+1)
		args = append(args, kbIDs)
	}
	sqlQuery += fmt.Sprintf(` ORDER BY rank DESC LIMIT $%d`, len(args)+1)
	args = append(args, topK)

	rows, err := r.pool.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("repository.FullTextSearch: %w", err)
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
			return nil, fmt.Errorf("repository.FullTextSearch: scan: %w", err)
		}
		results = append(results, rr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.FullTextSearch: rows: %w", err)
	}

	return results, nil
}

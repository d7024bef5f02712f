package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// RelatedDocRepo implements service.RelatedDocSearcher by comparing each
// document's centroid embedding (the average of its chunk vectors)
// against the source document's centroid, grounded on the same
// pgvector cosine-distance operator ChunkRepo.SimilaritySearch uses.
type RelatedDocRepo struct {
	pool *pgxpool.Pool
}

func NewRelatedDocRepo(pool *pgxpool.Pool) *RelatedDocRepo {
	return &RelatedDocRepo{pool: pool}
}

var _ service.RelatedDocSearcher = (*RelatedDocRepo)(nil)

func (r *RelatedDocRepo) FindRelatedDocuments(ctx context.Context, documentID, ownerID string, limit int) ([]service.RelatedDocument, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := r.pool.Query(ctx, `
		WITH source_centroid AS (
			SELECT avg(embedding) AS centroid
			FROM knowledge_document_chunks
			WHERE document_id = $1 AND owner_id = $2
		)
		SELECT d.id, d.kb_id, d.owner_id, d.file_name, d.blob_key, d.blob_public_url, d.mime,
			d.folder_id, d.status, d.status_message, d.total_chunks, d.size_bytes,
			d.checksum, d.metadata, d.deleted_at, d.created_at, d.updated_at,
			1 - (avg(c.embedding) <=> (SELECT centroid FROM source_centroid)) AS similarity
		FROM knowledge_document_chunks c
		JOIN knowledge_documents d ON d.id = c.document_id
		WHERE c.owner_id = $2 AND d.id != $1 AND d.deleted_at IS NULL
			AND (SELECT centroid FROM source_centroid) IS NOT NULL
		GROUP BY d.id
		ORDER BY similarity DESC
		LIMIT $3`,
		documentID, ownerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.FindRelatedDocuments: %w", err)
	}
	defer rows.Close()

	var related []service.RelatedDocument
	for rows.Next() {
		var d model.KnowledgeDocument
		var status string
		var metaJSON []byte
		var similarity float64

		if err := rows.Scan(
			&d.ID, &d.KBID, &d.OwnerID, &d.FileName, &d.BlobKey, &d.BlobPublicURL, &d.Mime,
			&d.FolderID, &status, &d.StatusMessage, &d.TotalChunks, &d.SizeBytes,
			&d.Checksum, &metaJSON, &d.DeletedAt, &d.CreatedAt, &d.UpdatedAt,
			&similarity,
		); err != nil {
			return nil, fmt.Errorf("repository.FindRelatedDocuments: scan: %w", err)
		}
		d.Status = model.DocumentStatus(status)
		if metaJSON != nil {
			d.Metadata = json.RawMessage(metaJSON)
		}
		related = append(related, service.RelatedDocument{Document: d, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.FindRelatedDocuments: rows: %w", err)
	}
	return related, nil
}

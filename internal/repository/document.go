package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// DocumentRepo implements service.DocumentRepository with pgx.
type DocumentRepo struct {
	pool *pgxpool.Pool
}

// NewDocumentRepo creates a DocumentRepo.
func NewDocumentRepo(pool *pgxpool.Pool) *DocumentRepo {
	return &DocumentRepo{pool: pool}
}

// Compile-time check that DocumentRepo implements service.DocumentRepository.
var _ service.DocumentRepository = (*DocumentRepo)(nil)

func (r *DocumentRepo) Create(ctx context.Context, doc *model.KnowledgeDocument) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO knowledge_documents (
			id, kb_id, owner_id, file_name, blob_key, blob_public_url, mime,
			folder_id, status, status_message, total_chunks, size_bytes,
			checksum, metadata, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16
		)`,
		doc.ID, doc.KBID, doc.OwnerID, doc.FileName, doc.BlobKey, doc.BlobPublicURL, doc.Mime,
		doc.FolderID, string(doc.Status), doc.StatusMessage, doc.TotalChunks, doc.SizeBytes,
		doc.Checksum, metaOrNil(doc.Metadata), doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository.Create: %w", err)
	}
	return nil
}

func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*model.KnowledgeDocument, error) {
	return scanDocumentRow(r.pool.QueryRow(ctx, `
		SELECT id, kb_id, owner_id, file_name, blob_key, blob_public_url, mime,
			folder_id, status, status_message, total_chunks, size_bytes,
			checksum, metadata, deleted_at, created_at, updated_at
		FROM knowledge_documents WHERE id = $1 AND deleted_at IS NULL`, id,
	))
}

func (r *DocumentRepo) ListByKB(ctx context.Context, kbID string, opts service.ListOpts) ([]model.KnowledgeDocument, int, error) {
	var total int
	countQuery := `SELECT count(*) FROM knowledge_documents WHERE kb_id = $1 AND deleted_at IS NULL`
	countArgs := []interface{}{kbID}
	if opts.Search != "" {
		countQuery += ` AND file_name ILIKE $2`
		countArgs = append(countArgs, "%"+opts.Search+"%")
	}
	if err := r.pool.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repository.ListByKB: count: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	listQuery := `
		SELECT id, kb_id, owner_id, file_name, blob_key, blob_public_url, mime,
			folder_id, status, status_message, total_chunks, size_bytes,
			checksum, metadata, deleted_at, created_at, updated_at
		FROM knowledge_documents WHERE kb_id = $1 AND deleted_at IS NULL`
	args := []interface{}{kbID}
	if opts.Search != "" {
		listQuery += ` AND file_name ILIKE $2`
		args = append(args, "%"+opts.Search+"%")
	}
	listQuery += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, opts.Offset)

	rows, err := r.pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("repository.ListByKB: query: %w", err)
	}
	defer rows.Close()

	var docs []model.KnowledgeDocument
	for rows.Next() {
		d, err := scanDocumentRow(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("repository.ListByKB: scan: %w", err)
		}
		docs = append(docs, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("repository.ListByKB: rows: %w", err)
	}

	return docs, total, nil
}

// ListByVault satisfies service.DocumentLister for the KB health checks
// (C's freshness/coverage scans), which want every document in a
// KnowledgeBase with no pagination.
func (r *DocumentRepo) ListByVault(ctx context.Context, vaultID string) ([]model.KnowledgeDocument, error) {
	docs, _, err := r.ListByKB(ctx, vaultID, service.ListOpts{Limit: 100000})
	if err != nil {
		return nil, fmt.Errorf("repository.ListByVault: %w", err)
	}
	return docs, nil
}

func (r *DocumentRepo) UpdateStatus(ctx context.Context, id string, status model.DocumentStatus, message *string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE knowledge_documents SET status = $1, status_message = $2, updated_at = $3 WHERE id = $4`,
		string(status), message, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("repository.UpdateStatus: %w", err)
	}
	return nil
}

func (r *DocumentRepo) UpdateTotalChunks(ctx context.Context, id string, count int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE knowledge_documents SET total_chunks = $1, updated_at = $2 WHERE id = $3`,
		count, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("repository.UpdateTotalChunks: %w", err)
	}
	return nil
}

func (r *DocumentRepo) SoftDelete(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx,
		`UPDATE knowledge_documents SET deleted_at = $1, updated_at = $2 WHERE id = $3`,
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("repository.SoftDelete: %w", err)
	}
	return nil
}

func (r *DocumentRepo) UpdateFolder(ctx context.Context, id string, folderID *string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE knowledge_documents SET folder_id = $1, updated_at = $2 WHERE id = $3`,
		folderID, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("repository.UpdateFolder: %w", err)
	}
	return nil
}

// rowScanner abstracts pgx.Row and pgx.Rows, both of which implement Scan.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocumentRow(row rowScanner) (*model.KnowledgeDocument, error) {
	d := &model.KnowledgeDocument{}
	var status string
	var metaJSON []byte

	err := row.Scan(
		&d.ID, &d.KBID, &d.OwnerID, &d.FileName, &d.BlobKey, &d.BlobPublicURL, &d.Mime,
		&d.FolderID, &status, &d.StatusMessage, &d.TotalChunks, &d.SizeBytes,
		&d.Checksum, &metaJSON, &d.DeletedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.scanDocument: %w", err)
	}
	d.Status = model.DocumentStatus(status)
	if metaJSON != nil {
		d.Metadata = json.RawMessage(metaJSON)
	}
	return d, nil
}

func metaOrNil(meta json.RawMessage) interface{} {
	if len(meta) == 0 {
		return nil
	}
	return []byte(meta)
}

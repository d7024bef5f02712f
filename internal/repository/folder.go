package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// FolderRepo implements service.FolderRepository with pgx.
type FolderRepo struct {
	pool *pgxpool.Pool
}

// NewFolderRepo creates a FolderRepo.
func NewFolderRepo(pool *pgxpool.Pool) *FolderRepo {
	return &FolderRepo{pool: pool}
}

// Compile-time check.
var _ service.FolderRepository = (*FolderRepo)(nil)

func (r *FolderRepo) Create(ctx context.Context, folder *model.KnowledgeBaseFolder) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO knowledge_base_folders (id, kb_id, parent_id, name, created_at) VALUES ($1, $2, $3, $4, $5)`,
		folder.ID, folder.KBID, folder.ParentID, folder.Name, folder.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository.FolderCreate: %w", err)
	}
	return nil
}

func (r *FolderRepo) ListByKB(ctx context.Context, kbID string) ([]model.KnowledgeBaseFolder, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, kb_id, parent_id, name, created_at, deleted_at
		 FROM knowledge_base_folders WHERE kb_id = $1 AND deleted_at IS NULL ORDER BY name`,
		kbID,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.FolderListByKB: %w", err)
	}
	defer rows.Close()

	var folders []model.KnowledgeBaseFolder
	for rows.Next() {
		var f model.KnowledgeBaseFolder
		if err := rows.Scan(&f.ID, &f.KBID, &f.ParentID, &f.Name, &f.CreatedAt, &f.DeletedAt); err != nil {
			return nil, fmt.Errorf("repository.FolderListByKB: scan: %w", err)
		}
		folders = append(folders, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.FolderListByKB: rows: %w", err)
	}
	return folders, nil
}

func (r *FolderRepo) GetByID(ctx context.Context, id string) (*model.KnowledgeBaseFolder, error) {
	var f model.KnowledgeBaseFolder
	err := r.pool.QueryRow(ctx,
		`SELECT id, kb_id, parent_id, name, created_at, deleted_at
		 FROM knowledge_base_folders WHERE id = $1 AND deleted_at IS NULL`,
		id,
	).Scan(&f.ID, &f.KBID, &f.ParentID, &f.Name, &f.CreatedAt, &f.DeletedAt)
	if err != nil {
		return nil, fmt.Errorf("repository.FolderGetByID: %w", err)
	}
	return &f, nil
}

func (r *FolderRepo) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE knowledge_base_folders SET deleted_at = $1 WHERE id = $2`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("repository.FolderDelete: %w", err)
	}
	return nil
}

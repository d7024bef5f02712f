package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// TempFileRepo persists AIConversationTemporaryFile rows: attachments
// scoped to a single conversation's lifetime, embedded like a chunk but
// owned by no KnowledgeBase.
type TempFileRepo struct {
	pool *pgxpool.Pool
}

// NewTempFileRepo creates a TempFileRepo.
func NewTempFileRepo(pool *pgxpool.Pool) *TempFileRepo {
	return &TempFileRepo{pool: pool}
}

// Create records a pending attachment upload.
func (r *TempFileRepo) Create(ctx context.Context, conversationID, blobKey, mime string) (*model.AIConversationTemporaryFile, error) {
	f := &model.AIConversationTemporaryFile{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		BlobKey:        blobKey,
		Mime:           mime,
		Status:         model.TempFileStatusPending,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO ai_conversation_temporary_files (id, conversation_id, blob_key, mime, status, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING created_at`,
		f.ID, f.ConversationID, f.BlobKey, f.Mime, f.Status,
	).Scan(&f.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("repository.TempFile.Create: %w", err)
	}
	return f, nil
}

// TempFileRecord is the full attachment row plus its owning user, joined
// from the parent conversation, for cmd/worker's "ingest_temp_file"
// dispatch.
type TempFileRecord struct {
	model.AIConversationTemporaryFile
	OwnerID string
}

// GetByID loads an attachment and its owning user for worker-side
// ingestion, joining ai_conversations since temp files carry no owner
// column of their own.
func (r *TempFileRepo) GetByID(ctx context.Context, id string) (*TempFileRecord, error) {
	rec := &TempFileRecord{}
	var status string
	err := r.pool.QueryRow(ctx, `
		SELECT f.id, f.conversation_id, f.blob_key, f.mime, f.status, f.created_at, c.owner_id
		FROM ai_conversation_temporary_files f
		JOIN ai_conversations c ON c.id = f.conversation_id
		WHERE f.id = $1`, id,
	).Scan(&rec.ID, &rec.ConversationID, &rec.BlobKey, &rec.Mime, &status, &rec.CreatedAt, &rec.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("repository.TempFile.GetByID: %w", err)
	}
	rec.Status = model.TempFileStatus(status)
	return rec, nil
}

// GetStatus reads the current lifecycle state of an attachment, for the
// Agent Loop's bounded poll (spec §4.7 step 3).
func (r *TempFileRepo) GetStatus(ctx context.Context, id string) (model.TempFileStatus, error) {
	var status string
	if err := r.pool.QueryRow(ctx, `SELECT status FROM ai_conversation_temporary_files WHERE id = $1`, id).Scan(&status); err != nil {
		return "", fmt.Errorf("repository.TempFile.GetStatus: %w", err)
	}
	return model.TempFileStatus(status), nil
}

// UpdateCompleted stores the extracted text and embedding for an
// attachment and marks it completed.
func (r *TempFileRepo) UpdateCompleted(ctx context.Context, id, extractedText string, embedding []float32) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE ai_conversation_temporary_files
		SET status = $2, extracted_text = $3, embedding = $4
		WHERE id = $1`,
		id, model.TempFileStatusCompleted, extractedText, pgvector.NewVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("repository.TempFile.UpdateCompleted: %w", err)
	}
	return nil
}

// UpdateFailed marks an attachment as failed; the Agent Loop proceeds
// regardless once its poll window elapses (spec §4.7 step 3: "proceed
// regardless").
func (r *TempFileRepo) UpdateFailed(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE ai_conversation_temporary_files SET status = $2 WHERE id = $1`, id, model.TempFileStatusFailed)
	if err != nil {
		return fmt.Errorf("repository.TempFile.UpdateFailed: %w", err)
	}
	return nil
}

// ListTextByConversation returns the extracted text of every completed
// attachment on a conversation, for the rag tool's "kb_ids ∪
// conversation's temporary files" context union (spec §4.7 step 5).
func (r *TempFileRepo) ListTextByConversation(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT extracted_text FROM ai_conversation_temporary_files
		WHERE conversation_id = $1 AND status = $2 AND extracted_text IS NOT NULL`,
		conversationID, model.TempFileStatusCompleted,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.TempFile.ListTextByConversation: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("repository.TempFile.ListTextByConversation: scan: %w", err)
		}
		out = append(out, text)
	}
	return out, nil
}

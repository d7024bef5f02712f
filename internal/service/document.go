package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/ragbox-backend/internal/blob"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// DocumentRepository defines the persistence operations for
// KnowledgeDocuments.
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.KnowledgeDocument) error
	GetByID(ctx context.Context, id string) (*model.KnowledgeDocument, error)
	ListByKB(ctx context.Context, kbID string, opts ListOpts) ([]model.KnowledgeDocument, int, error)
	UpdateStatus(ctx context.Context, id string, status model.DocumentStatus, message *string) error
	UpdateTotalChunks(ctx context.Context, id string, count int) error
	SoftDelete(ctx context.Context, id string) error
	UpdateFolder(ctx context.Context, id string, folderID *string) error
}

// FolderRepository defines persistence operations for KnowledgeBase
// folders.
type FolderRepository interface {
	Create(ctx context.Context, folder *model.KnowledgeBaseFolder) error
	ListByKB(ctx context.Context, kbID string) ([]model.KnowledgeBaseFolder, error)
	GetByID(ctx context.Context, id string) (*model.KnowledgeBaseFolder, error)
	Delete(ctx context.Context, id string) error
}

// ListOpts holds pagination and filtering options for document listing.
type ListOpts struct {
	Limit  int
	Offset int
	Search string
}

// Enqueuer schedules background work onto the distributed job queue
// (C10). DocumentService uses it to enqueue ingestion immediately after
// persisting a pending KnowledgeDocument row.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskType string, priority model.TaskPriority, data any) (string, error)
}

// DocumentService handles document upload and the 202-Accepted contract
// in spec §6: persist a pending row, store the blob, enqueue ingestion,
// return immediately.
type DocumentService struct {
	blobStore blob.Store
	docRepo   DocumentRepository
	queue     Enqueuer
}

func NewDocumentService(blobStore blob.Store, docRepo DocumentRepository, queue Enqueuer) *DocumentService {
	return &DocumentService{blobStore: blobStore, docRepo: docRepo, queue: queue}
}

// Upload validates the file, stores it, creates the pending document row,
// and enqueues an ingest_document task. It returns the row as it looks
// immediately after the 202 response is issued.
func (s *DocumentService) Upload(ctx context.Context, kbID, ownerID, fileName, mime string, content []byte) (*model.KnowledgeDocument, error) {
	if !model.AllowedMimeTypes[mime] {
		return nil, fmt.Errorf("service.Upload: unsupported content type %q", mime)
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("service.Upload: empty file")
	}
	if len(content) > model.MaxFileSizeBytes {
		return nil, fmt.Errorf("service.Upload: file size %d exceeds maximum %d bytes", len(content), model.MaxFileSizeBytes)
	}

	docID := uuid.New().String()
	blobKey := fmt.Sprintf("kb/%s/documents/%s/%s", kbID, docID, fileName)

	if err := s.blobStore.Upload(ctx, blobKey, mime, content); err != nil {
		return nil, fmt.Errorf("service.Upload: store blob: %w", err)
	}

	now := time.Now().UTC()
	doc := &model.KnowledgeDocument{
		ID:        docID,
		KBID:      kbID,
		OwnerID:   ownerID,
		FileName:  fileName,
		BlobKey:   blobKey,
		Mime:      mime,
		Status:    model.DocumentStatusPending,
		SizeBytes: len(content),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.docRepo.Create(ctx, doc); err != nil {
		if delErr := s.blobStore.Delete(ctx, blobKey); delErr != nil {
			return nil, fmt.Errorf("service.Upload: create document: %w (compensating blob delete also failed: %v)", err, delErr)
		}
		return nil, fmt.Errorf("service.Upload: create document: %w", err)
	}

	if _, err := s.queue.Enqueue(ctx, "ingest_document", model.PriorityNormal, map[string]string{"document_id": docID}); err != nil {
		return nil, fmt.Errorf("service.Upload: enqueue ingestion: %w", err)
	}

	return doc, nil
}

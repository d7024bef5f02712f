package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/connexus-ai/ragbox-backend/internal/blob"
	"github.com/connexus-ai/ragbox-backend/internal/extract"
	"github.com/connexus-ai/ragbox-backend/internal/provider"
)

// TempFileRepository is the persistence contract TempFileIngestor needs
// from internal/repository.TempFileRepo.
type TempFileRepository interface {
	UpdateCompleted(ctx context.Context, id, extractedText string, embedding []float32) error
	UpdateFailed(ctx context.Context, id string) error
}

// TempFileIngestor runs a lightweight single-vector ingestion for a
// conversation-scoped attachment: the same download/extract/embed shape
// as PipelineService.ProcessDocument (C6), generalized to the
// AIConversationTemporaryFile table's single-row shape — one embedding
// per attachment instead of chunked embeddings per document.
type TempFileIngestor struct {
	repo    TempFileRepository
	blobs   blob.Store
	gateway provider.Gateway
	creds   CredentialResolver
}

// NewTempFileIngestor creates a TempFileIngestor.
func NewTempFileIngestor(repo TempFileRepository, blobs blob.Store, gateway provider.Gateway, creds CredentialResolver) *TempFileIngestor {
	return &TempFileIngestor{repo: repo, blobs: blobs, gateway: gateway, creds: creds}
}

// Ingest downloads, extracts, and embeds a single attachment, dispatched
// off the request path through the distributed job queue's
// "ingest_temp_file" task type.
func (s *TempFileIngestor) Ingest(ctx context.Context, fileID, ownerID, blobKey, mime string) error {
	data, err := s.blobs.Download(ctx, blobKey)
	if err != nil {
		_ = s.repo.UpdateFailed(ctx, fileID)
		return fmt.Errorf("service.TempFileIngestor.Ingest: download: %w", err)
	}

	text, err := extract.Extract(data, mime)
	if err != nil {
		_ = s.repo.UpdateFailed(ctx, fileID)
		return fmt.Errorf("service.TempFileIngestor.Ingest: extract: %w", err)
	}

	cred, err := s.creds.EmbeddingCredentialFor(ctx, ownerID)
	if err != nil {
		_ = s.repo.UpdateFailed(ctx, fileID)
		return fmt.Errorf("service.TempFileIngestor.Ingest: credential: %w", err)
	}

	vecs, err := s.gateway.Embed(ctx, cred, []string{text})
	if err != nil {
		_ = s.repo.UpdateFailed(ctx, fileID)
		return fmt.Errorf("service.TempFileIngestor.Ingest: embed: %w", err)
	}

	if err := s.repo.UpdateCompleted(ctx, fileID, text, vecs[0]); err != nil {
		slog.Error("temp file ingestion failed to persist", "file_id", fileID, "error", err)
		return fmt.Errorf("service.TempFileIngestor.Ingest: persist: %w", err)
	}
	return nil
}

package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/connexus-ai/ragbox-backend/internal/blob"
	"github.com/connexus-ai/ragbox-backend/internal/extract"
	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/provider"
)

var (
	processingMu sync.Mutex
	processing   = make(map[string]bool)
)

// Chunker abstracts document chunking.
type Chunker interface {
	Chunk(ctx context.Context, text string, docID string) ([]Chunk, error)
}

// Chunk represents a chunked piece of text (used by the pipeline).
type Chunk struct {
	Content      string
	ContentHash  string
	TokenCount   int
	Index        int
	DocumentID   string
	OwnerID      string
	KBID         string
	PageNumber   int
	SectionTitle string
}

// Embedder abstracts vector embedding and storage.
type Embedder interface {
	EmbedAndStore(ctx context.Context, cred provider.Credential, chunks []Chunk) error
}

// CredentialResolver looks up the provider credential that should be
// used to embed a document's chunks — normally the owning user's
// configured embedding credential.
type CredentialResolver interface {
	EmbeddingCredentialFor(ctx context.Context, ownerID string) (provider.Credential, error)
}

// PipelineService orchestrates the document ingestion pipeline (C6):
// download blob → extract text → chunk → embed → update status.
type PipelineService struct {
	docRepo  DocumentRepository
	blobs    blob.Store
	chunker  Chunker
	embedder Embedder
	creds    CredentialResolver
}

func NewPipelineService(
	docRepo DocumentRepository,
	blobs blob.Store,
	chunker Chunker,
	embedder Embedder,
	creds CredentialResolver,
) *PipelineService {
	return &PipelineService{
		docRepo:  docRepo,
		blobs:    blobs,
		chunker:  chunker,
		embedder: embedder,
		creds:    creds,
	}
}

// ProcessDocument runs the full ingestion pipeline for a document. It is
// designed to run off the request path, dispatched through the bounded
// internal/workerpool.
func (s *PipelineService) ProcessDocument(ctx context.Context, docID string) error {
	processingMu.Lock()
	if processing[docID] {
		processingMu.Unlock()
		return fmt.Errorf("pipeline.ProcessDocument: document %s is already being processed", docID)
	}
	processing[docID] = true
	processingMu.Unlock()

	defer func() {
		processingMu.Lock()
		delete(processing, docID)
		processingMu.Unlock()
	}()

	slog.Info("pipeline starting", "document_id", docID)

	doc, err := s.docRepo.GetByID(ctx, docID)
	if err != nil {
		slog.Error("pipeline failed to get document", "document_id", docID, "error", err)
		return fmt.Errorf("pipeline.ProcessDocument: get document: %w", err)
	}
	slog.Info("pipeline processing document", "document_id", docID, "file_name", doc.FileName, "mime", doc.Mime, "size_bytes", doc.SizeBytes)

	if err := s.setStatus(ctx, docID, model.DocumentStatusProcessing, "extracting text"); err != nil {
		return err
	}

	slog.Info("pipeline step 1: downloading blob", "document_id", docID, "blob_key", doc.BlobKey)
	data, err := s.blobs.Download(ctx, doc.BlobKey)
	if err != nil {
		slog.Error("pipeline blob download failed", "document_id", docID, "error", err)
		s.failDocument(ctx, docID, "download_failed", err)
		return fmt.Errorf("pipeline.ProcessDocument: download: %w", err)
	}

	slog.Info("pipeline step 2: extracting text", "document_id", docID)
	text, err := extract.Extract(data, doc.Mime)
	if err != nil {
		slog.Error("pipeline text extraction failed", "document_id", docID, "error", err)
		s.failDocument(ctx, docID, "parse_failed", err)
		return fmt.Errorf("pipeline.ProcessDocument: extract: %w", err)
	}
	slog.Info("pipeline text extracted", "document_id", docID, "chars", len(text))

	return s.chunkEmbedAndFinish(ctx, doc, text)
}

// ProcessText runs a simplified ingestion pipeline for pre-extracted
// text (e.g. webhook-submitted knowledge articles).
func (s *PipelineService) ProcessText(ctx context.Context, docID, ownerID, text string) error {
	processingMu.Lock()
	if processing[docID] {
		processingMu.Unlock()
		return fmt.Errorf("pipeline.ProcessText: document %s is already being processed", docID)
	}
	processing[docID] = true
	processingMu.Unlock()

	defer func() {
		processingMu.Lock()
		delete(processing, docID)
		processingMu.Unlock()
	}()

	if text == "" {
		s.failDocument(ctx, docID, "no_text", fmt.Errorf("no text supplied"))
		return fmt.Errorf("pipeline.ProcessText: no text for document %s", docID)
	}

	if err := s.setStatus(ctx, docID, model.DocumentStatusProcessing, "chunking"); err != nil {
		return err
	}

	doc, err := s.docRepo.GetByID(ctx, docID)
	if err != nil {
		return fmt.Errorf("pipeline.ProcessText: get document: %w", err)
	}
	doc.OwnerID = ownerID

	return s.chunkEmbedAndFinish(ctx, doc, text)
}

func (s *PipelineService) chunkEmbedAndFinish(ctx context.Context, doc *model.KnowledgeDocument, text string) error {
	docID := doc.ID
	hash := sha256.Sum256([]byte(text))
	slog.Info("pipeline checksum computed", "document_id", docID, "sha256", hex.EncodeToString(hash[:8]))

	slog.Info("pipeline step: chunking text", "document_id", docID, "chars", len(text))
	chunks, err := s.chunker.Chunk(ctx, text, docID)
	if err != nil {
		slog.Error("pipeline chunking failed", "document_id", docID, "error", err)
		s.failDocument(ctx, docID, "chunk_failed", err)
		return fmt.Errorf("pipeline: chunk: %w", err)
	}
	for i := range chunks {
		chunks[i].OwnerID = doc.OwnerID
		chunks[i].KBID = doc.KBID
	}
	slog.Info("pipeline chunks created", "document_id", docID, "chunk_count", len(chunks))

	cred, err := s.creds.EmbeddingCredentialFor(ctx, doc.OwnerID)
	if err != nil {
		slog.Error("pipeline credential resolution failed", "document_id", docID, "error", err)
		s.failDocument(ctx, docID, "credential_failed", err)
		return fmt.Errorf("pipeline: resolve credential: %w", err)
	}

	slog.Info("pipeline step: generating embeddings", "document_id", docID, "chunk_count", len(chunks))
	if err := s.embedder.EmbedAndStore(ctx, cred, chunks); err != nil {
		slog.Error("pipeline embedding failed", "document_id", docID, "error", err)
		s.failDocument(ctx, docID, "embed_failed", err)
		return fmt.Errorf("pipeline: embed: %w", err)
	}

	if err := s.docRepo.UpdateTotalChunks(ctx, docID, len(chunks)); err != nil {
		slog.Warn("pipeline failed to update total_chunks", "document_id", docID, "error", err)
	}
	if err := s.docRepo.UpdateStatus(ctx, docID, model.DocumentStatusCompleted, nil); err != nil {
		slog.Error("pipeline failed to set completed", "document_id", docID, "error", err)
		return fmt.Errorf("pipeline: set completed: %w", err)
	}

	slog.Info("pipeline completed", "document_id", docID, "chunk_count", len(chunks))
	return nil
}

func (s *PipelineService) setStatus(ctx context.Context, docID string, status model.DocumentStatus, message string) error {
	if err := s.docRepo.UpdateStatus(ctx, docID, status, &message); err != nil {
		slog.Error("pipeline failed to update status", "document_id", docID, "target_status", status, "error", err)
		return fmt.Errorf("pipeline: set status %s: %w", status, err)
	}
	return nil
}

// failDocument sets the document status to failed with a status_message
// naming the stage, per spec's "ingestion errors are recorded in
// status/status_message on the document row" propagation policy.
func (s *PipelineService) failDocument(ctx context.Context, docID, stage string, origErr error) {
	msg := fmt.Sprintf("%s: %s", stage, origErr.Error())
	_ = s.docRepo.UpdateStatus(ctx, docID, model.DocumentStatusFailed, &msg)
}

package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/connexus-ai/ragbox-backend/internal/provider"
)

type tempFileMockRepo struct {
	completedText string
	completedVec  []float32
	failedCalled  bool
}

func (m *tempFileMockRepo) UpdateCompleted(ctx context.Context, id, extractedText string, embedding []float32) error {
	m.completedText = extractedText
	m.completedVec = embedding
	return nil
}

func (m *tempFileMockRepo) UpdateFailed(ctx context.Context, id string) error {
	m.failedCalled = true
	return nil
}

type tempFileMockGateway struct {
	provider.Gateway
	vecs [][]float32
	err  error
}

func (m *tempFileMockGateway) Embed(ctx context.Context, cred provider.Credential, texts []string) ([][]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.vecs, nil
}

func newTestTempFileIngestor() (*TempFileIngestor, *tempFileMockRepo) {
	repo := &tempFileMockRepo{}
	blobs := &pipelineMockBlobStore{data: []byte("attachment contents")}
	gateway := &tempFileMockGateway{vecs: [][]float32{make([]float32, 768)}}
	creds := &pipelineMockCreds{}
	return NewTempFileIngestor(repo, blobs, gateway, creds), repo
}

func TestTempFileIngestor_Ingest_Success(t *testing.T) {
	svc, repo := newTestTempFileIngestor()

	if err := svc.Ingest(context.Background(), "file-1", "user-1", "uploads/file-1.txt", "text/plain"); err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if repo.completedText == "" {
		t.Error("expected extracted text to be stored")
	}
	if len(repo.completedVec) != 768 {
		t.Errorf("embedding length = %d, want 768", len(repo.completedVec))
	}
	if repo.failedCalled {
		t.Error("did not expect UpdateFailed to be called on success")
	}
}

func TestTempFileIngestor_Ingest_DownloadFailsMarksFailed(t *testing.T) {
	svc, repo := newTestTempFileIngestor()
	svc.blobs = &pipelineMockBlobStore{err: fmt.Errorf("object not found")}

	if err := svc.Ingest(context.Background(), "file-1", "user-1", "uploads/missing.txt", "text/plain"); err == nil {
		t.Fatal("expected error when blob download fails")
	}
	if !repo.failedCalled {
		t.Error("expected UpdateFailed to be called after download error")
	}
}

func TestTempFileIngestor_Ingest_EmbedFailsMarksFailed(t *testing.T) {
	svc, repo := newTestTempFileIngestor()
	svc.gateway = &tempFileMockGateway{err: fmt.Errorf("embedding API down")}

	if err := svc.Ingest(context.Background(), "file-1", "user-1", "uploads/file-1.txt", "text/plain"); err == nil {
		t.Fatal("expected error when embedding fails")
	}
	if !repo.failedCalled {
		t.Error("expected UpdateFailed to be called after embed error")
	}
}

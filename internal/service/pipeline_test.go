package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/provider"
)

// --- Pipeline test mocks ---

type pipelineMockRepo struct {
	doc         *model.KnowledgeDocument
	getErr      error
	statuses    []model.DocumentStatus
	messages    []string
	totalChunks int
	updateErr   error
}

func (m *pipelineMockRepo) Create(ctx context.Context, doc *model.KnowledgeDocument) error {
	return nil
}

func (m *pipelineMockRepo) GetByID(ctx context.Context, id string) (*model.KnowledgeDocument, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	docCopy := *m.doc
	return &docCopy, nil
}

func (m *pipelineMockRepo) ListByKB(ctx context.Context, kbID string, opts ListOpts) ([]model.KnowledgeDocument, int, error) {
	return nil, 0, nil
}

func (m *pipelineMockRepo) UpdateStatus(ctx context.Context, id string, status model.DocumentStatus, message *string) error {
	m.statuses = append(m.statuses, status)
	if message != nil {
		m.messages = append(m.messages, *message)
	} else {
		m.messages = append(m.messages, "")
	}
	return m.updateErr
}

func (m *pipelineMockRepo) UpdateTotalChunks(ctx context.Context, id string, count int) error {
	m.totalChunks = count
	return nil
}

func (m *pipelineMockRepo) SoftDelete(ctx context.Context, id string) error { return nil }

func (m *pipelineMockRepo) UpdateFolder(ctx context.Context, id string, folderID *string) error {
	return nil
}

type pipelineMockBlobStore struct {
	data []byte
	err  error
}

func (m *pipelineMockBlobStore) Upload(ctx context.Context, key, contentType string, data []byte) error {
	return nil
}

func (m *pipelineMockBlobStore) Download(ctx context.Context, key string) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.data, nil
}

func (m *pipelineMockBlobStore) Delete(ctx context.Context, key string) error { return nil }

func (m *pipelineMockBlobStore) UrlToKey(url string) (string, error) { return url, nil }

type pipelineMockChunker struct {
	chunks []Chunk
	err    error
}

func (m *pipelineMockChunker) Chunk(ctx context.Context, text, docID string) ([]Chunk, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.chunks, nil
}

type pipelineMockEmbedder struct {
	err error
}

func (m *pipelineMockEmbedder) EmbedAndStore(ctx context.Context, cred provider.Credential, chunks []Chunk) error {
	return m.err
}

type pipelineMockCreds struct {
	cred provider.Credential
	err  error
}

func (m *pipelineMockCreds) EmbeddingCredentialFor(ctx context.Context, ownerID string) (provider.Credential, error) {
	if m.err != nil {
		return provider.Credential{}, m.err
	}
	return m.cred, nil
}

func newTestPipeline() (*PipelineService, *pipelineMockRepo) {
	repo := &pipelineMockRepo{
		doc: &model.KnowledgeDocument{
			ID:       "doc-1",
			KBID:     "kb-1",
			OwnerID:  "user-1",
			FileName: "test.txt",
			BlobKey:  "kb/kb-1/documents/doc-1/test.txt",
			Mime:     "text/plain",
			Status:   model.DocumentStatusPending,
		},
	}

	blobs := &pipelineMockBlobStore{
		data: []byte("This is extracted text from the document. It has multiple sentences and paragraphs."),
	}

	chunker := &pipelineMockChunker{
		chunks: []Chunk{
			{Content: "chunk 1 text", ContentHash: "abc", TokenCount: 100, Index: 0, DocumentID: "doc-1"},
			{Content: "chunk 2 text", ContentHash: "def", TokenCount: 120, Index: 1, DocumentID: "doc-1"},
		},
	}

	embedder := &pipelineMockEmbedder{}
	creds := &pipelineMockCreds{}

	svc := NewPipelineService(repo, blobs, chunker, embedder, creds)

	return svc, repo
}

func TestProcessDocument_FullPipeline(t *testing.T) {
	svc, repo := newTestPipeline()

	err := svc.ProcessDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("ProcessDocument() error: %v", err)
	}

	if len(repo.statuses) < 2 {
		t.Fatalf("expected at least 2 status updates, got %d", len(repo.statuses))
	}
	if repo.statuses[0] != model.DocumentStatusProcessing {
		t.Errorf("statuses[0] = %q, want %q", repo.statuses[0], model.DocumentStatusProcessing)
	}
	if repo.statuses[len(repo.statuses)-1] != model.DocumentStatusCompleted {
		t.Errorf("final status = %q, want %q", repo.statuses[len(repo.statuses)-1], model.DocumentStatusCompleted)
	}

	if repo.totalChunks != 2 {
		t.Errorf("totalChunks = %d, want 2", repo.totalChunks)
	}
}

func TestProcessDocument_DownloadFails(t *testing.T) {
	svc, repo := newTestPipeline()
	svc.blobs = &pipelineMockBlobStore{err: fmt.Errorf("object not found")}

	err := svc.ProcessDocument(context.Background(), "doc-1")
	if err == nil {
		t.Fatal("expected error when blob download fails")
	}

	found := false
	for _, s := range repo.statuses {
		if s == model.DocumentStatusFailed {
			found = true
		}
	}
	if !found {
		t.Error("expected status to be set to Failed after download error")
	}
}

func TestProcessDocument_ChunkFails(t *testing.T) {
	svc, repo := newTestPipeline()
	svc.chunker = &pipelineMockChunker{err: fmt.Errorf("chunk error")}

	err := svc.ProcessDocument(context.Background(), "doc-1")
	if err == nil {
		t.Fatal("expected error when chunker fails")
	}

	found := false
	for _, s := range repo.statuses {
		if s == model.DocumentStatusFailed {
			found = true
		}
	}
	if !found {
		t.Error("expected status to be set to Failed after chunk error")
	}
}

func TestProcessDocument_EmbedFails(t *testing.T) {
	svc, repo := newTestPipeline()
	svc.embedder = &pipelineMockEmbedder{err: fmt.Errorf("embedding error")}

	err := svc.ProcessDocument(context.Background(), "doc-1")
	if err == nil {
		t.Fatal("expected error when embedder fails")
	}

	found := false
	for _, s := range repo.statuses {
		if s == model.DocumentStatusFailed {
			found = true
		}
	}
	if !found {
		t.Error("expected status to be set to Failed after embed error")
	}
}

func TestProcessDocument_CredentialResolutionFails(t *testing.T) {
	svc, repo := newTestPipeline()
	svc.creds = &pipelineMockCreds{err: fmt.Errorf("no embedding credential configured")}

	err := svc.ProcessDocument(context.Background(), "doc-1")
	if err == nil {
		t.Fatal("expected error when credential resolution fails")
	}

	found := false
	for _, s := range repo.statuses {
		if s == model.DocumentStatusFailed {
			found = true
		}
	}
	if !found {
		t.Error("expected status to be set to Failed after credential resolution error")
	}
}

func TestProcessDocument_DocNotFound(t *testing.T) {
	svc, _ := newTestPipeline()
	svc.docRepo = &pipelineMockRepo{getErr: fmt.Errorf("not found")}

	err := svc.ProcessDocument(context.Background(), "nonexistent")
	if err == nil {
		t.Fatal("expected error when doc not found")
	}
}

func TestProcessDocument_ConcurrentCallsRejected(t *testing.T) {
	processingMu.Lock()
	processing["doc-concurrent"] = true
	processingMu.Unlock()
	defer func() {
		processingMu.Lock()
		delete(processing, "doc-concurrent")
		processingMu.Unlock()
	}()

	svc, _ := newTestPipeline()
	err := svc.ProcessDocument(context.Background(), "doc-concurrent")
	if err == nil {
		t.Fatal("expected error for a document already being processed")
	}
	if !strings.Contains(err.Error(), "already being processed") {
		t.Errorf("error = %v, want mention of already being processed", err)
	}
}

func TestProcessDocument_EmbeddingAPI500_FailsGracefully(t *testing.T) {
	svc, repo := newTestPipeline()
	svc.embedder = &pipelineMockEmbedder{err: fmt.Errorf("embedding API returned HTTP 500: internal server error")}

	err := svc.ProcessDocument(context.Background(), "doc-1")

	if err == nil {
		t.Fatal("expected error when embedding API returns 500")
	}
	if !strings.Contains(err.Error(), "embed") {
		t.Errorf("error should reference embed stage, got: %v", err)
	}

	foundFailed := false
	var lastMsg string
	for i, s := range repo.statuses {
		if s == model.DocumentStatusFailed {
			foundFailed = true
			if i < len(repo.messages) {
				lastMsg = repo.messages[i]
			}
		}
	}
	if !foundFailed {
		t.Error("expected document status to be set to Failed after embedding API 500")
	}
	if !strings.Contains(lastMsg, "embed_failed") {
		t.Errorf("expected status message to contain 'embed_failed', got: %s", lastMsg)
	}

	// Verify system recovers: can process another document after failure
	svc.embedder = &pipelineMockEmbedder{}
	repo.statuses = nil
	repo.messages = nil
	err = svc.ProcessDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("pipeline should recover after failure, got: %v", err)
	}
	if repo.statuses[len(repo.statuses)-1] != model.DocumentStatusCompleted {
		t.Errorf("recovered pipeline should reach Completed, got: %v", repo.statuses)
	}
}

func TestProcessText_Success(t *testing.T) {
	svc, repo := newTestPipeline()

	err := svc.ProcessText(context.Background(), "doc-1", "user-1", "pre-extracted webhook text")
	if err != nil {
		t.Fatalf("ProcessText() error: %v", err)
	}
	if repo.statuses[len(repo.statuses)-1] != model.DocumentStatusCompleted {
		t.Errorf("final status = %q, want %q", repo.statuses[len(repo.statuses)-1], model.DocumentStatusCompleted)
	}
}

func TestProcessText_EmptyTextFails(t *testing.T) {
	svc, repo := newTestPipeline()

	err := svc.ProcessText(context.Background(), "doc-1", "user-1", "")
	if err == nil {
		t.Fatal("expected error for empty text")
	}

	found := false
	for _, s := range repo.statuses {
		if s == model.DocumentStatusFailed {
			found = true
		}
	}
	if !found {
		t.Error("expected status to be set to Failed for empty text")
	}
}

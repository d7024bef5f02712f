package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

const testDocID = "10000000-0000-0000-0000-000000000001"

// withChiParam adds chi URL params to the request context.
func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// crudDocRepo implements service.DocumentRepository for handler tests.
type crudDocRepo struct {
	created     *model.KnowledgeDocument
	docs        []model.KnowledgeDocument
	total       int
	singleDoc   *model.KnowledgeDocument
	getErr      error
	listErr     error
	deleteErr   error
	folderErr   error
	statusErr   error
	chunksErr   error
	folderID    *string
	totalChunks int
}

func (m *crudDocRepo) Create(ctx context.Context, doc *model.KnowledgeDocument) error {
	m.created = doc
	return nil
}

func (m *crudDocRepo) GetByID(ctx context.Context, id string) (*model.KnowledgeDocument, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.singleDoc, nil
}

func (m *crudDocRepo) ListByKB(ctx context.Context, kbID string, opts service.ListOpts) ([]model.KnowledgeDocument, int, error) {
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	return m.docs, m.total, nil
}

func (m *crudDocRepo) UpdateStatus(ctx context.Context, id string, status model.DocumentStatus, message *string) error {
	return m.statusErr
}

func (m *crudDocRepo) UpdateTotalChunks(ctx context.Context, id string, count int) error {
	m.totalChunks = count
	return m.chunksErr
}

func (m *crudDocRepo) SoftDelete(ctx context.Context, id string) error {
	return m.deleteErr
}

func (m *crudDocRepo) UpdateFolder(ctx context.Context, id string, folderID *string) error {
	m.folderID = folderID
	return m.folderErr
}

// mockChunkDeleter implements ChunkDeleter.
type mockChunkDeleter struct {
	err error
}

func (m *mockChunkDeleter) DeleteByDocumentID(ctx context.Context, documentID string) error {
	return m.err
}

// mockBlobDownloader implements BlobDownloader.
type mockBlobDownloader struct {
	data []byte
	err  error
}

func (m *mockBlobDownloader) Download(ctx context.Context, key string) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.data, nil
}

// stubBlobStore implements blob.Store for upload-path tests.
type stubBlobStore struct {
	uploadErr error
}

func (s *stubBlobStore) Upload(ctx context.Context, key, contentType string, data []byte) error {
	return s.uploadErr
}
func (s *stubBlobStore) Download(ctx context.Context, key string) ([]byte, error) { return nil, nil }
func (s *stubBlobStore) Delete(ctx context.Context, key string) error             { return nil }
func (s *stubBlobStore) UrlToKey(url string) (string, error)                     { return url, nil }

// stubEnqueuer implements service.Enqueuer.
type stubEnqueuer struct {
	enqueueErr error
}

func (s *stubEnqueuer) Enqueue(ctx context.Context, taskType string, priority model.TaskPriority, data any) (string, error) {
	if s.enqueueErr != nil {
		return "", s.enqueueErr
	}
	return "task-1", nil
}

func newMultipartUpload(fieldName, filename, contentType string, content []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, _ := w.CreatePart(map[string][]string{
		"Content-Disposition": {`form-data; name="` + fieldName + `"; filename="` + filename + `"`},
		"Content-Type":        {contentType},
	})
	part.Write(content)
	w.Close()
	return body, w.FormDataContentType()
}

func TestUploadDocument_Success(t *testing.T) {
	repo := &crudDocRepo{}
	docSvc := service.NewDocumentService(&stubBlobStore{}, repo, &stubEnqueuer{})
	deps := DocCRUDDeps{DocRepo: repo, DocService: docSvc}
	h := UploadDocument(deps)

	body, contentType := newMultipartUpload("file", "report.pdf", "application/pdf", []byte("%PDF-1.4 test"))
	req := httptest.NewRequest(http.MethodPost, "/api/kbs/"+testKBID+"/documents", body)
	req.Header.Set("Content-Type", contentType)
	req = req.WithContext(middleware.WithUserID(req.Context(), "user-123"))
	req = withChiParam(req, "kbId", testKBID)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202. body: %s", rec.Code, rec.Body.String())
	}
}

func TestUploadDocument_NoFile(t *testing.T) {
	repo := &crudDocRepo{}
	docSvc := service.NewDocumentService(&stubBlobStore{}, repo, &stubEnqueuer{})
	deps := DocCRUDDeps{DocRepo: repo, DocService: docSvc}
	h := UploadDocument(deps)

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	w.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/kbs/"+testKBID+"/documents", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req = req.WithContext(middleware.WithUserID(req.Context(), "user-123"))
	req = withChiParam(req, "kbId", testKBID)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUploadDocument_NoAuth(t *testing.T) {
	deps := DocCRUDDeps{}
	h := UploadDocument(deps)

	body, contentType := newMultipartUpload("file", "report.pdf", "application/pdf", []byte("data"))
	req := httptest.NewRequest(http.MethodPost, "/api/kbs/"+testKBID+"/documents", body)
	req.Header.Set("Content-Type", contentType)
	req = withChiParam(req, "kbId", testKBID)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestUploadDocument_InvalidKBID(t *testing.T) {
	deps := DocCRUDDeps{DocRepo: &crudDocRepo{}}
	h := UploadDocument(deps)

	body, contentType := newMultipartUpload("file", "report.pdf", "application/pdf", []byte("data"))
	req := httptest.NewRequest(http.MethodPost, "/api/kbs/not-a-uuid/documents", body)
	req.Header.Set("Content-Type", contentType)
	req = req.WithContext(middleware.WithUserID(req.Context(), "user-123"))
	req = withChiParam(req, "kbId", "not-a-uuid")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUploadDocument_PathTraversalFilename(t *testing.T) {
	repo := &crudDocRepo{}
	docSvc := service.NewDocumentService(&stubBlobStore{}, repo, &stubEnqueuer{})
	deps := DocCRUDDeps{DocRepo: repo, DocService: docSvc}
	h := UploadDocument(deps)

	body, contentType := newMultipartUpload("file", "../../etc/passwd", "text/plain", []byte("data"))
	req := httptest.NewRequest(http.MethodPost, "/api/kbs/"+testKBID+"/documents", body)
	req.Header.Set("Content-Type", contentType)
	req = req.WithContext(middleware.WithUserID(req.Context(), "user-123"))
	req = withChiParam(req, "kbId", testKBID)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListDocuments_Success(t *testing.T) {
	repo := &crudDocRepo{
		docs:  []model.KnowledgeDocument{{ID: "d1", KBID: testKBID, OwnerID: "user-1", FileName: "test.pdf"}},
		total: 1,
	}
	deps := DocCRUDDeps{DocRepo: repo}
	h := ListDocuments(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/kbs/"+testKBID+"/documents?limit=10", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), "user-1"))
	req = withChiParam(req, "kbId", testKBID)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp envelope
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Success {
		t.Error("expected success=true")
	}
}

func TestListDocuments_Unauthorized(t *testing.T) {
	deps := DocCRUDDeps{}
	h := ListDocuments(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/kbs/"+testKBID+"/documents", nil)
	req = withChiParam(req, "kbId", testKBID)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestListDocuments_RepoError(t *testing.T) {
	repo := &crudDocRepo{listErr: fmt.Errorf("db error")}
	deps := DocCRUDDeps{DocRepo: repo}
	h := ListDocuments(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/kbs/"+testKBID+"/documents", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), "user-1"))
	req = withChiParam(req, "kbId", testKBID)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestGetDocument_Success(t *testing.T) {
	repo := &crudDocRepo{singleDoc: &model.KnowledgeDocument{ID: testDocID, OwnerID: "user-1", FileName: "test.pdf"}}
	deps := DocCRUDDeps{DocRepo: repo}
	h := GetDocument(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/documents/"+testDocID, nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), "user-1"))
	req = withChiParam(req, "id", testDocID)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestGetDocument_NotFound(t *testing.T) {
	repo := &crudDocRepo{getErr: fmt.Errorf("not found")}
	deps := DocCRUDDeps{DocRepo: repo}
	h := GetDocument(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/documents/20000000-0000-0000-0000-000000000002", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), "user-1"))
	req = withChiParam(req, "id", "20000000-0000-0000-0000-000000000002")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetDocument_Forbidden(t *testing.T) {
	repo := &crudDocRepo{singleDoc: &model.KnowledgeDocument{ID: testDocID, OwnerID: "other-user"}}
	deps := DocCRUDDeps{DocRepo: repo}
	h := GetDocument(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/documents/"+testDocID, nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), "user-1"))
	req = withChiParam(req, "id", testDocID)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestGetDocument_Unauthorized(t *testing.T) {
	deps := DocCRUDDeps{}
	h := GetDocument(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/documents/"+testDocID, nil)
	req = withChiParam(req, "id", testDocID)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestDeleteDocument_Success(t *testing.T) {
	repo := &crudDocRepo{singleDoc: &model.KnowledgeDocument{ID: testDocID, OwnerID: "user-1"}}
	deps := DocCRUDDeps{DocRepo: repo}
	h := DeleteDocument(deps)

	req := httptest.NewRequest(http.MethodDelete, "/api/documents/"+testDocID, nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), "user-1"))
	req = withChiParam(req, "id", testDocID)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestDeleteDocument_Unauthorized(t *testing.T) {
	deps := DocCRUDDeps{}
	h := DeleteDocument(deps)

	req := httptest.NewRequest(http.MethodDelete, "/api/documents/"+testDocID, nil)
	req = withChiParam(req, "id", testDocID)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestDeleteDocument_NotFound(t *testing.T) {
	repo := &crudDocRepo{getErr: fmt.Errorf("not found")}
	deps := DocCRUDDeps{DocRepo: repo}
	h := DeleteDocument(deps)

	req := httptest.NewRequest(http.MethodDelete, "/api/documents/20000000-0000-0000-0000-000000000002", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), "user-1"))
	req = withChiParam(req, "id", "20000000-0000-0000-0000-000000000002")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDeleteDocument_RepoError(t *testing.T) {
	repo := &crudDocRepo{
		singleDoc: &model.KnowledgeDocument{ID: testDocID, OwnerID: "user-1"},
		deleteErr: fmt.Errorf("db error"),
	}
	deps := DocCRUDDeps{DocRepo: repo}
	h := DeleteDocument(deps)

	req := httptest.NewRequest(http.MethodDelete, "/api/documents/"+testDocID, nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), "user-1"))
	req = withChiParam(req, "id", testDocID)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestUpdateDocument_MoveFolder(t *testing.T) {
	repo := &crudDocRepo{singleDoc: &model.KnowledgeDocument{ID: testDocID, OwnerID: "user-1"}}
	deps := DocCRUDDeps{DocRepo: repo}
	h := UpdateDocument(deps)

	body, _ := json.Marshal(UpdateDocumentRequest{FolderID: &testFolderID2})
	req := httptest.NewRequest(http.MethodPatch, "/api/documents/"+testDocID, bytes.NewReader(body))
	req = req.WithContext(middleware.WithUserID(req.Context(), "user-1"))
	req = withChiParam(req, "id", testDocID)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200. body: %s", rec.Code, rec.Body.String())
	}
	if repo.folderID == nil || *repo.folderID != testFolderID2 {
		t.Errorf("folderID = %v, want %q", repo.folderID, testFolderID2)
	}
}

var testFolderID2 = "10000000-0000-0000-0000-0000000000f3"

func TestUpdateDocument_MissingFolderID(t *testing.T) {
	repo := &crudDocRepo{singleDoc: &model.KnowledgeDocument{ID: testDocID, OwnerID: "user-1"}}
	deps := DocCRUDDeps{DocRepo: repo}
	h := UpdateDocument(deps)

	req := httptest.NewRequest(http.MethodPatch, "/api/documents/"+testDocID, bytes.NewReader([]byte(`{}`)))
	req = req.WithContext(middleware.WithUserID(req.Context(), "user-1"))
	req = withChiParam(req, "id", testDocID)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUpdateDocument_Unauthorized(t *testing.T) {
	deps := DocCRUDDeps{}
	h := UpdateDocument(deps)

	req := httptest.NewRequest(http.MethodPatch, "/api/documents/"+testDocID, bytes.NewReader([]byte(`{}`)))
	req = withChiParam(req, "id", testDocID)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestDeleteChunks_Success(t *testing.T) {
	repo := &crudDocRepo{singleDoc: &model.KnowledgeDocument{ID: testDocID, OwnerID: "user-1"}}
	deps := DocCRUDDeps{DocRepo: repo, ChunkDeleter: &mockChunkDeleter{}}
	h := DeleteChunks(deps)

	req := httptest.NewRequest(http.MethodDelete, "/api/documents/"+testDocID+"/chunks", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), "user-1"))
	req = withChiParam(req, "id", testDocID)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if repo.totalChunks != 0 {
		t.Errorf("totalChunks = %d, want 0", repo.totalChunks)
	}
}

func TestDeleteChunks_NoDeleterConfigured(t *testing.T) {
	repo := &crudDocRepo{singleDoc: &model.KnowledgeDocument{ID: testDocID, OwnerID: "user-1"}}
	deps := DocCRUDDeps{DocRepo: repo}
	h := DeleteChunks(deps)

	req := httptest.NewRequest(http.MethodDelete, "/api/documents/"+testDocID+"/chunks", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), "user-1"))
	req = withChiParam(req, "id", testDocID)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestDeleteChunks_Unauthorized(t *testing.T) {
	deps := DocCRUDDeps{}
	h := DeleteChunks(deps)

	req := httptest.NewRequest(http.MethodDelete, "/api/documents/"+testDocID+"/chunks", nil)
	req = withChiParam(req, "id", testDocID)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestDownloadDocument_Success(t *testing.T) {
	repo := &crudDocRepo{singleDoc: &model.KnowledgeDocument{ID: testDocID, OwnerID: "user-1", FileName: "test.pdf", Mime: "application/pdf", BlobKey: "kb/doc.pdf"}}
	deps := DocCRUDDeps{DocRepo: repo, Blobs: &mockBlobDownloader{data: []byte("content")}}
	h := DownloadDocument(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/documents/"+testDocID+"/download", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), "user-1"))
	req = withChiParam(req, "id", testDocID)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "content" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "content")
	}
	if rec.Header().Get("Content-Type") != "application/pdf" {
		t.Errorf("Content-Type = %q, want application/pdf", rec.Header().Get("Content-Type"))
	}
}

func TestDownloadDocument_BlobError(t *testing.T) {
	repo := &crudDocRepo{singleDoc: &model.KnowledgeDocument{ID: testDocID, OwnerID: "user-1", BlobKey: "kb/doc.pdf"}}
	deps := DocCRUDDeps{DocRepo: repo, Blobs: &mockBlobDownloader{err: fmt.Errorf("not found")}}
	h := DownloadDocument(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/documents/"+testDocID+"/download", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), "user-1"))
	req = withChiParam(req, "id", testDocID)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDownloadDocument_Unauthorized(t *testing.T) {
	deps := DocCRUDDeps{}
	h := DownloadDocument(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/documents/"+testDocID+"/download", nil)
	req = withChiParam(req, "id", testDocID)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

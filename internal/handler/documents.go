package handler

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

const maxFilenameLength = 255

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ChunkDeleter abstracts chunk deletion for testability.
type ChunkDeleter interface {
	DeleteByDocumentID(ctx context.Context, documentID string) error
}

// BlobDownloader abstracts blob retrieval for testability.
type BlobDownloader interface {
	Download(ctx context.Context, key string) ([]byte, error)
}

// DocCRUDDeps bundles dependencies for document CRUD handlers.
type DocCRUDDeps struct {
	DocRepo      service.DocumentRepository
	ChunkDeleter ChunkDeleter
	Blobs        BlobDownloader
	DocService   *service.DocumentService
}

// UploadDocument handles POST /api/kbs/{kbId}/documents. The request body
// is a multipart form with a single "file" field; the spec's 202-Accepted
// contract (persist pending row, enqueue ingestion, return immediately) is
// implemented in service.DocumentService.Upload.
func UploadDocument(deps DocCRUDDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondJSON(w, http.StatusUnauthorized, envelope{Success: false, Error: "unauthorized"})
			return
		}

		kbID := chi.URLParam(r, "kbId")
		if !validateUUID(kbID) {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid knowledge base ID format"})
			return
		}

		if err := r.ParseMultipartForm(model.MaxFileSizeBytes); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid multipart form"})
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "file is required"})
			return
		}
		defer file.Close()

		if len(header.Filename) > maxFilenameLength {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "filename exceeds 255 character limit"})
			return
		}
		if strings.Contains(header.Filename, "..") || strings.Contains(header.Filename, "/") || strings.Contains(header.Filename, "\\") {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "filename contains invalid path characters"})
			return
		}

		contentType := detectContentType(header)
		content, err := io.ReadAll(file)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "failed to read file"})
			return
		}

		doc, err := deps.DocService.Upload(r.Context(), kbID, userID, header.Filename, contentType, content)
		if err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: err.Error()})
			return
		}

		respondJSON(w, http.StatusAccepted, envelope{Success: true, Data: doc})
	}
}

func detectContentType(header *multipart.FileHeader) string {
	if ct := header.Header.Get("Content-Type"); ct != "" {
		if parsed, _, err := mime.ParseMediaType(ct); err == nil {
			return parsed
		}
		return ct
	}
	return "application/octet-stream"
}

// ListDocuments handles GET /api/kbs/{kbId}/documents.
func ListDocuments(deps DocCRUDDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondJSON(w, http.StatusUnauthorized, envelope{Success: false, Error: "unauthorized"})
			return
		}

		kbID := chi.URLParam(r, "kbId")
		if !validateUUID(kbID) {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid knowledge base ID format"})
			return
		}

		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		offset, _ := strconv.Atoi(q.Get("offset"))
		search := strings.TrimSpace(q.Get("search"))

		docs, total, err := deps.DocRepo.ListByKB(r.Context(), kbID, service.ListOpts{
			Limit:  limit,
			Offset: offset,
			Search: search,
		})
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to list documents"})
			return
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]interface{}{
			"documents": docs,
			"total":     total,
		}})
	}
}

// GetDocument handles GET /api/documents/{id}.
func GetDocument(deps DocCRUDDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondJSON(w, http.StatusUnauthorized, envelope{Success: false, Error: "unauthorized"})
			return
		}

		docID := chi.URLParam(r, "id")
		if !validateUUID(docID) {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid document ID format"})
			return
		}

		doc, err := deps.DocRepo.GetByID(r.Context(), docID)
		if err != nil {
			respondJSON(w, http.StatusNotFound, envelope{Success: false, Error: "document not found"})
			return
		}
		if doc.OwnerID != userID {
			respondJSON(w, http.StatusForbidden, envelope{Success: false, Error: "access denied"})
			return
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: doc})
	}
}

// DeleteDocument handles DELETE /api/documents/{id} (soft delete).
func DeleteDocument(deps DocCRUDDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondJSON(w, http.StatusUnauthorized, envelope{Success: false, Error: "unauthorized"})
			return
		}

		docID := chi.URLParam(r, "id")
		if !validateUUID(docID) {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid document ID format"})
			return
		}

		doc, err := deps.DocRepo.GetByID(r.Context(), docID)
		if err != nil || doc.OwnerID != userID {
			respondJSON(w, http.StatusNotFound, envelope{Success: false, Error: "document not found"})
			return
		}

		if err := deps.DocRepo.SoftDelete(r.Context(), docID); err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to delete document"})
			return
		}

		respondJSON(w, http.StatusOK, envelope{Success: true})
	}
}

// UpdateDocumentRequest is the request body for document updates (folder move only).
type UpdateDocumentRequest struct {
	FolderID *string `json:"folderId"`
}

// UpdateDocument handles PATCH /api/documents/{id}. Only the folder
// assignment is mutable; rename is not part of the current model (file
// name is fixed at upload time, matching the blob key).
func UpdateDocument(deps DocCRUDDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondJSON(w, http.StatusUnauthorized, envelope{Success: false, Error: "unauthorized"})
			return
		}

		docID := chi.URLParam(r, "id")
		if !validateUUID(docID) {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid document ID format"})
			return
		}

		doc, err := deps.DocRepo.GetByID(r.Context(), docID)
		if err != nil || doc.OwnerID != userID {
			respondJSON(w, http.StatusNotFound, envelope{Success: false, Error: "document not found"})
			return
		}

		var req UpdateDocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
			return
		}
		if req.FolderID == nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "folderId is required"})
			return
		}

		folderID := *req.FolderID
		if folderID != "" && !validateUUID(folderID) {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid folder ID format"})
			return
		}
		var folderPtr *string
		if folderID != "" {
			folderPtr = &folderID
		}
		if err := deps.DocRepo.UpdateFolder(r.Context(), docID, folderPtr); err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to move document"})
			return
		}

		respondJSON(w, http.StatusOK, envelope{Success: true})
	}
}

// DeleteChunks handles DELETE /api/documents/{id}/chunks.
// Removes all embeddings for a document and resets its status to pending
// so it can be re-ingested.
func DeleteChunks(deps DocCRUDDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondJSON(w, http.StatusUnauthorized, envelope{Success: false, Error: "unauthorized"})
			return
		}

		docID := chi.URLParam(r, "id")
		if !validateUUID(docID) {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid document ID format"})
			return
		}

		doc, err := deps.DocRepo.GetByID(r.Context(), docID)
		if err != nil || doc.OwnerID != userID {
			respondJSON(w, http.StatusNotFound, envelope{Success: false, Error: "document not found"})
			return
		}

		if deps.ChunkDeleter == nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "chunk deletion not configured"})
			return
		}

		if err := deps.ChunkDeleter.DeleteByDocumentID(r.Context(), docID); err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to delete chunks"})
			return
		}

		if err := deps.DocRepo.UpdateStatus(r.Context(), docID, model.DocumentStatusPending, nil); err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to update document status"})
			return
		}

		if err := deps.DocRepo.UpdateTotalChunks(r.Context(), docID, 0); err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to update chunk count"})
			return
		}

		respondJSON(w, http.StatusOK, envelope{Success: true})
	}
}

// DownloadDocument handles GET /api/documents/{id}/download. It streams
// the original blob directly rather than a signed URL, since blob.Store
// is a generic key/value contract with no native URL-signing concept.
func DownloadDocument(deps DocCRUDDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondJSON(w, http.StatusUnauthorized, envelope{Success: false, Error: "unauthorized"})
			return
		}

		docID := chi.URLParam(r, "id")
		if !validateUUID(docID) {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid document ID format"})
			return
		}

		doc, err := deps.DocRepo.GetByID(r.Context(), docID)
		if err != nil || doc.OwnerID != userID {
			respondJSON(w, http.StatusNotFound, envelope{Success: false, Error: "document not found"})
			return
		}

		if deps.Blobs == nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "blob store not configured"})
			return
		}

		data, err := deps.Blobs.Download(r.Context(), doc.BlobKey)
		if err != nil {
			respondJSON(w, http.StatusNotFound, envelope{Success: false, Error: "file not available for download"})
			return
		}

		w.Header().Set("Content-Type", doc.Mime)
		w.Header().Set("Content-Disposition", `attachment; filename="`+doc.FileName+`"`)
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}

package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// TextIngester abstracts text-only document processing for testability.
type TextIngester interface {
	ProcessText(ctx context.Context, docID, ownerID, text string) error
}

// IngestTextDeps bundles dependencies for the ingest-text handler.
type IngestTextDeps struct {
	DocRepo  service.DocumentRepository
	Pipeline TextIngester
	Pool     PoolSubmitter
}

type ingestTextRequest struct {
	Text string `json:"text"`
}

// IngestText handles POST /api/documents/{id}/ingest-text.
// Used for webhook knowledge ingestion where the caller already has
// extracted text and wants to skip the blob-download/extract steps.
// Validates ownership, checks the document is still pending, then fires
// the pipeline's text-only path. Returns 202 Accepted immediately.
func IngestText(deps IngestTextDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondJSON(w, http.StatusUnauthorized, envelope{Success: false, Error: "unauthorized"})
			return
		}

		docID := chi.URLParam(r, "id")
		if docID == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "document id required"})
			return
		}
		if !validateUUID(docID) {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid document ID format"})
			return
		}

		var req ingestTextRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
			return
		}
		if req.Text == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "text is required"})
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

		if doc.Status != model.DocumentStatusPending {
			respondJSON(w, http.StatusConflict, envelope{
				Success: false,
				Error:   "document is not in pending status",
			})
			return
		}

		ownerID := doc.OwnerID
		deps.Pool.Submit(context.Background(), docID, func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 120*time.Second)
			defer cancel()
			slog.Info("ingest-text starting pipeline", "document_id", docID)
			if err := deps.Pipeline.ProcessText(ctx, docID, ownerID, req.Text); err != nil {
				slog.Error("ingest-text pipeline failed", "document_id", docID, "error", err)
				return err
			}
			slog.Info("ingest-text pipeline completed", "document_id", docID)
			return nil
		})

		respondJSON(w, http.StatusAccepted, envelope{
			Success: true,
			Data: map[string]string{
				"documentId": docID,
				"status":     "processing",
			},
		})
	}
}

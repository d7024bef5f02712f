package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

// FolderDeps bundles dependencies for folder handlers.
type FolderDeps struct {
	FolderRepo service.FolderRepository
}

// CreateFolderRequest is the request body for creating a folder.
type CreateFolderRequest struct {
	Name     string  `json:"name"`
	ParentID *string `json:"parentId,omitempty"`
}

// ListFolders handles GET /api/kbs/{kbId}/folders.
func ListFolders(deps FolderDeps) http.HandlerFunc {
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

		folders, err := deps.FolderRepo.ListByKB(r.Context(), kbID)
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to list folders"})
			return
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: folders})
	}
}

// CreateFolder handles POST /api/kbs/{kbId}/folders.
func CreateFolder(deps FolderDeps) http.HandlerFunc {
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

		var req CreateFolderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid request body"})
			return
		}
		if req.Name == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "folder name is required"})
			return
		}
		if req.ParentID != nil && *req.ParentID != "" && !validateUUID(*req.ParentID) {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid parent folder ID format"})
			return
		}

		folder := &model.KnowledgeBaseFolder{
			ID:        uuid.New().String(),
			KBID:      kbID,
			ParentID:  req.ParentID,
			Name:      req.Name,
			CreatedAt: time.Now().UTC(),
		}

		if err := deps.FolderRepo.Create(r.Context(), folder); err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to create folder"})
			return
		}

		respondJSON(w, http.StatusCreated, envelope{Success: true, Data: folder})
	}
}

// DeleteFolder handles DELETE /api/kbs/{kbId}/folders/{id}.
func DeleteFolder(deps FolderDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			respondJSON(w, http.StatusUnauthorized, envelope{Success: false, Error: "unauthorized"})
			return
		}

		kbID := chi.URLParam(r, "kbId")
		folderID := chi.URLParam(r, "id")
		if !validateUUID(kbID) || !validateUUID(folderID) {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "invalid ID format"})
			return
		}

		folder, err := deps.FolderRepo.GetByID(r.Context(), folderID)
		if err != nil || folder.KBID != kbID {
			respondJSON(w, http.StatusNotFound, envelope{Success: false, Error: "folder not found"})
			return
		}

		if err := deps.FolderRepo.Delete(r.Context(), folderID); err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to delete folder"})
			return
		}

		respondJSON(w, http.StatusOK, envelope{Success: true})
	}
}

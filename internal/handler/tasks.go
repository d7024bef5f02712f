package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// TaskStore is the distributed queue (C10) contract the tasks handler
// needs from internal/queue.Queue.
type TaskStore interface {
	GetStatus(ctx context.Context, taskID string) (*model.DistributedTask, error)
	Cancel(ctx context.Context, taskID string) (bool, error)
}

// TasksDeps bundles dependencies for the distributed tasks handler.
type TasksDeps struct {
	Queue TaskStore
}

// GetTaskStatus handles GET /api/distributed/tasks/{id}.
func GetTaskStatus(deps TasksDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if middleware.UserIDFromContext(r.Context()) == "" {
			respondJSON(w, http.StatusUnauthorized, envelope{Success: false, Error: "unauthorized"})
			return
		}

		taskID := chi.URLParam(r, "id")
		if taskID == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "task id required"})
			return
		}

		task, err := deps.Queue.GetStatus(r.Context(), taskID)
		if err != nil {
			respondJSON(w, http.StatusNotFound, envelope{Success: false, Error: "task not found"})
			return
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: task})
	}
}

// CancelTask handles DELETE /api/distributed/tasks/{id}.
func CancelTask(deps TasksDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if middleware.UserIDFromContext(r.Context()) == "" {
			respondJSON(w, http.StatusUnauthorized, envelope{Success: false, Error: "unauthorized"})
			return
		}

		taskID := chi.URLParam(r, "id")
		if taskID == "" {
			respondJSON(w, http.StatusBadRequest, envelope{Success: false, Error: "task id required"})
			return
		}

		found, err := deps.Queue.Cancel(r.Context(), taskID)
		if err != nil {
			respondJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "failed to cancel task"})
			return
		}
		if !found {
			respondJSON(w, http.StatusNotFound, envelope{Success: false, Error: "task not found"})
			return
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]string{"taskId": taskID, "status": "cancelled"}})
	}
}

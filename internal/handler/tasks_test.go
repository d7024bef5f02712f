package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/connexus-ai/ragbox-backend/internal/middleware"
	"github.com/connexus-ai/ragbox-backend/internal/model"
)

type mockTaskStore struct {
	task      *model.DistributedTask
	getErr    error
	cancelOK  bool
	cancelErr error
}

func (m *mockTaskStore) GetStatus(ctx context.Context, taskID string) (*model.DistributedTask, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.task, nil
}

func (m *mockTaskStore) Cancel(ctx context.Context, taskID string) (bool, error) {
	return m.cancelOK, m.cancelErr
}

func TestGetTaskStatus_Success(t *testing.T) {
	store := &mockTaskStore{task: &model.DistributedTask{TaskID: "t1", Status: model.TaskPending}}
	deps := TasksDeps{Queue: store}
	h := GetTaskStatus(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/distributed/tasks/t1", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), "user-1"))
	req = withChiParam(req, "id", "t1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d. body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestGetTaskStatus_NotFound(t *testing.T) {
	store := &mockTaskStore{getErr: fmt.Errorf("not found")}
	deps := TasksDeps{Queue: store}
	h := GetTaskStatus(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/distributed/tasks/missing", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), "user-1"))
	req = withChiParam(req, "id", "missing")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestCancelTask_Success(t *testing.T) {
	store := &mockTaskStore{cancelOK: true}
	deps := TasksDeps{Queue: store}
	h := CancelTask(deps)

	req := httptest.NewRequest(http.MethodDelete, "/api/distributed/tasks/t1", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), "user-1"))
	req = withChiParam(req, "id", "t1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d. body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestCancelTask_NotFound(t *testing.T) {
	store := &mockTaskStore{cancelOK: false}
	deps := TasksDeps{Queue: store}
	h := CancelTask(deps)

	req := httptest.NewRequest(http.MethodDelete, "/api/distributed/tasks/missing", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), "user-1"))
	req = withChiParam(req, "id", "missing")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

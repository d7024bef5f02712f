package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/service"
)

func setupDocRepo(t *testing.T) (*DocumentRepo, string, func()) {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := NewPool(ctx, dbURL, 5)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	migrationSQL, err := os.ReadFile("../../migrations/001_initial_schema.up.sql")
	if err != nil {
		pool.Close()
		t.Fatalf("read migration: %v", err)
	}

	kbID := uuid.New().String()
	ownerID := uuid.New().String()

	ensureSchema := func() error {
		if _, err := pool.Exec(ctx, string(migrationSQL)); err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, `
			INSERT INTO users (id, email, total_points, login_count, created_at, updated_at)
			VALUES ($1, $2, 0, 0, now(), now())
			ON CONFLICT (id) DO NOTHING
		`, ownerID, ownerID+"@ragbox.test"); err != nil {
			return err
		}
		_, err := pool.Exec(ctx, `
			INSERT INTO knowledge_bases (id, owner_id, name, visibility, created_at, updated_at)
			VALUES ($1, $2, 'test kb', 'private', now(), now())
			ON CONFLICT (id) DO NOTHING
		`, kbID, ownerID)
		return err
	}

	for attempt := 0; attempt < 5; attempt++ {
		err = ensureSchema()
		if err == nil {
			break
		}
		time.Sleep(time.Duration(attempt+1) * time.Second)
	}
	if err != nil {
		pool.Close()
		t.Fatalf("setup schema after retries: %v", err)
	}

	repo := NewDocumentRepo(pool)
	return repo, kbID, func() {
		pool.Close()
	}
}

func newTestDoc(kbID string) *model.KnowledgeDocument {
	id := uuid.New().String()
	return &model.KnowledgeDocument{
		ID:        id,
		KBID:      kbID,
		OwnerID:   id,
		FileName:  "test.pdf",
		BlobKey:   "kb/" + kbID + "/documents/" + id + "/test.pdf",
		Mime:      "application/pdf",
		Status:    model.DocumentStatusPending,
		SizeBytes: 1024,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func TestDocumentRepo_CreateAndGetByID(t *testing.T) {
	repo, kbID, cleanup := setupDocRepo(t)
	defer cleanup()

	ctx := context.Background()
	doc := newTestDoc(kbID)

	if err := repo.Create(ctx, doc); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := repo.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}

	if got.ID != doc.ID {
		t.Errorf("ID = %q, want %q", got.ID, doc.ID)
	}
	if got.KBID != doc.KBID {
		t.Errorf("KBID = %q, want %q", got.KBID, doc.KBID)
	}
	if got.Status != model.DocumentStatusPending {
		t.Errorf("Status = %q, want %q", got.Status, model.DocumentStatusPending)
	}
	if got.FileName != "test.pdf" {
		t.Errorf("FileName = %q, want %q", got.FileName, "test.pdf")
	}
}

func TestDocumentRepo_ListByKB(t *testing.T) {
	repo, kbID, cleanup := setupDocRepo(t)
	defer cleanup()

	ctx := context.Background()

	for i := 0; i < 3; i++ {
		doc := newTestDoc(kbID)
		if err := repo.Create(ctx, doc); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}

	docs, total, err := repo.ListByKB(ctx, kbID, service.ListOpts{Limit: 10, Offset: 0})
	if err != nil {
		t.Fatalf("ListByKB() error: %v", err)
	}

	if total < 3 {
		t.Errorf("total = %d, want >= 3", total)
	}
	if len(docs) < 3 {
		t.Errorf("docs count = %d, want >= 3", len(docs))
	}
}

func TestDocumentRepo_SoftDelete(t *testing.T) {
	repo, kbID, cleanup := setupDocRepo(t)
	defer cleanup()

	ctx := context.Background()
	doc := newTestDoc(kbID)
	repo.Create(ctx, doc)

	if err := repo.SoftDelete(ctx, doc.ID); err != nil {
		t.Fatalf("SoftDelete() error: %v", err)
	}

	_, err := repo.GetByID(ctx, doc.ID)
	if err == nil {
		t.Error("expected GetByID to fail for soft-deleted document")
	}
}

func TestDocumentRepo_UpdateStatus(t *testing.T) {
	repo, kbID, cleanup := setupDocRepo(t)
	defer cleanup()

	ctx := context.Background()
	doc := newTestDoc(kbID)
	repo.Create(ctx, doc)

	msg := "extracting"
	if err := repo.UpdateStatus(ctx, doc.ID, model.DocumentStatusProcessing, &msg); err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}

	got, _ := repo.GetByID(ctx, doc.ID)
	if got.Status != model.DocumentStatusProcessing {
		t.Errorf("Status = %q, want %q", got.Status, model.DocumentStatusProcessing)
	}
	if got.StatusMessage == nil || *got.StatusMessage != msg {
		t.Errorf("StatusMessage = %v, want %q", got.StatusMessage, msg)
	}
}

func TestDocumentRepo_UpdateTotalChunks(t *testing.T) {
	repo, kbID, cleanup := setupDocRepo(t)
	defer cleanup()

	ctx := context.Background()
	doc := newTestDoc(kbID)
	repo.Create(ctx, doc)

	if err := repo.UpdateTotalChunks(ctx, doc.ID, 42); err != nil {
		t.Fatalf("UpdateTotalChunks() error: %v", err)
	}

	got, _ := repo.GetByID(ctx, doc.ID)
	if got.TotalChunks != 42 {
		t.Errorf("TotalChunks = %d, want 42", got.TotalChunks)
	}
}

func TestDocumentRepo_UpdateFolder(t *testing.T) {
	repo, kbID, cleanup := setupDocRepo(t)
	defer cleanup()

	ctx := context.Background()
	doc := newTestDoc(kbID)
	repo.Create(ctx, doc)

	folderID := uuid.New().String()
	if err := repo.UpdateFolder(ctx, doc.ID, &folderID); err != nil {
		t.Fatalf("UpdateFolder() error: %v", err)
	}

	got, _ := repo.GetByID(ctx, doc.ID)
	if got.FolderID == nil || *got.FolderID != folderID {
		t.Errorf("FolderID = %v, want %q", got.FolderID, folderID)
	}
}

package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

func setupConvRepo(t *testing.T) (*ConversationRepo, string, func()) {
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
	if _, err := pool.Exec(ctx, string(migrationSQL)); err != nil {
		pool.Close()
		t.Fatalf("apply migration: %v", err)
	}

	userID := uuid.New().String()
	if _, err := pool.Exec(ctx, `
		INSERT INTO users (id, email, total_points, login_count, created_at, updated_at)
		VALUES ($1, $2, 0, 0, now(), now())
	`, userID, userID+"@ragbox.test"); err != nil {
		pool.Close()
		t.Fatalf("insert user: %v", err)
	}

	return NewConversationRepo(pool), userID, func() {
		pool.Exec(context.Background(), `DELETE FROM users WHERE id = $1`, userID)
		pool.Close()
	}
}

func TestConversationRepo_CreateAndGetByID(t *testing.T) {
	repo, userID, cleanup := setupConvRepo(t)
	defer cleanup()
	ctx := context.Background()

	title := "first chat"
	conv, err := repo.Create(ctx, userID, &title)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if conv.ID == "" {
		t.Fatal("expected generated ID")
	}

	got, err := repo.GetByID(ctx, userID, conv.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got.Title == nil || *got.Title != "first chat" {
		t.Errorf("Title = %v, want 'first chat'", got.Title)
	}
}

func TestConversationRepo_GetByID_WrongOwnerNotFound(t *testing.T) {
	repo, userID, cleanup := setupConvRepo(t)
	defer cleanup()
	ctx := context.Background()

	conv, err := repo.Create(ctx, userID, nil)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if _, err := repo.GetByID(ctx, "someone-else", conv.ID); err == nil {
		t.Fatal("expected error fetching another owner's conversation")
	}
}

func TestConversationRepo_AppendTurn_AtomicAndOrdered(t *testing.T) {
	repo, userID, cleanup := setupConvRepo(t)
	defer cleanup()
	ctx := context.Background()

	conv, err := repo.Create(ctx, userID, nil)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	beforeUpdate := conv.LastUpdated

	llmType := "openai"
	llmModel := "gpt-4o"
	err = repo.AppendTurn(ctx, conv.ID, []model.AIConversationMessage{
		{Role: model.RoleUser, Content: "what's in my knowledge base?"},
		{Role: model.RoleAssistant, Content: "here's what I found", LLMTypeUsed: &llmType, LLMModelUsed: &llmModel},
	})
	if err != nil {
		t.Fatalf("AppendTurn() error: %v", err)
	}

	msgs, err := repo.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("ListMessages() error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != model.RoleUser || msgs[1].Role != model.RoleAssistant {
		t.Errorf("messages out of order: %v, %v", msgs[0].Role, msgs[1].Role)
	}
	if msgs[1].LLMModelUsed == nil || *msgs[1].LLMModelUsed != "gpt-4o" {
		t.Errorf("LLMModelUsed = %v, want gpt-4o", msgs[1].LLMModelUsed)
	}

	updated, err := repo.GetByID(ctx, userID, conv.ID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if !updated.LastUpdated.After(beforeUpdate) {
		t.Error("expected last_updated to advance after AppendTurn")
	}
}

func TestConversationRepo_AppendTurn_EmptyRejected(t *testing.T) {
	repo, userID, cleanup := setupConvRepo(t)
	defer cleanup()
	ctx := context.Background()

	conv, _ := repo.Create(ctx, userID, nil)
	if err := repo.AppendTurn(ctx, conv.ID, nil); err == nil {
		t.Fatal("expected error appending zero messages")
	}
}

func TestConversationRepo_ListByOwner_OrdersByRecency(t *testing.T) {
	repo, userID, cleanup := setupConvRepo(t)
	defer cleanup()
	ctx := context.Background()

	first, _ := repo.Create(ctx, userID, nil)
	second, _ := repo.Create(ctx, userID, nil)

	if err := repo.AppendTurn(ctx, first.ID, []model.AIConversationMessage{{Role: model.RoleUser, Content: "hi"}}); err != nil {
		t.Fatalf("AppendTurn() error: %v", err)
	}

	convs, err := repo.ListByOwner(ctx, userID, 10)
	if err != nil {
		t.Fatalf("ListByOwner() error: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("got %d conversations, want 2", len(convs))
	}
	if convs[0].ID != first.ID {
		t.Errorf("most recently updated conversation should be first, got %s want %s", convs[0].ID, first.ID)
	}
	_ = second
}

func TestConversationRepo_SetTitleIfAbsent_FirstNonNullWins(t *testing.T) {
	repo, userID, cleanup := setupConvRepo(t)
	defer cleanup()
	ctx := context.Background()

	conv, err := repo.Create(ctx, userID, nil)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := repo.SetTitleIfAbsent(ctx, conv.ID, "first title")
	if err != nil {
		t.Fatalf("SetTitleIfAbsent() error: %v", err)
	}
	if got != "first title" {
		t.Errorf("title = %q, want %q", got, "first title")
	}

	got, err = repo.SetTitleIfAbsent(ctx, conv.ID, "second title")
	if err != nil {
		t.Fatalf("SetTitleIfAbsent() second call error: %v", err)
	}
	if got != "first title" {
		t.Errorf("title = %q, want first writer to win (%q)", got, "first title")
	}
}

func TestConversationRepo_AppendTurnTx_ComposesWithCallerTransaction(t *testing.T) {
	repo, userID, cleanup := setupConvRepo(t)
	defer cleanup()
	ctx := context.Background()

	conv, err := repo.Create(ctx, userID, nil)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	tx, err := repo.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx() error: %v", err)
	}
	defer tx.Rollback(ctx)

	if err := repo.AppendTurnTx(ctx, tx, conv.ID, []model.AIConversationMessage{
		{Role: model.RoleUser, Content: "hello"},
	}); err != nil {
		t.Fatalf("AppendTurnTx() error: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}

	msgs, err := repo.ListMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("ListMessages() error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
}

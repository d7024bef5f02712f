package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// ConversationRepo implements the Conversation Store (C9): creating
// threads and appending turns atomically so a user-message/assistant-reply
// pair (plus any tool_calls/tool_output JSON) never lands half-written.
type ConversationRepo struct {
	pool *pgxpool.Pool
}

// NewConversationRepo creates a ConversationRepo.
func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

// Create starts a new conversation owned by ownerID.
func (r *ConversationRepo) Create(ctx context.Context, ownerID string, title *string) (*model.AIConversation, error) {
	conv := &model.AIConversation{
		ID:      uuid.New().String(),
		OwnerID: ownerID,
		Title:   title,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO ai_conversations (id, owner_id, title, last_updated, created_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING last_updated, created_at`,
		conv.ID, conv.OwnerID, conv.Title,
	).Scan(&conv.LastUpdated, &conv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("repository.Conversation.Create: %w", err)
	}
	return conv, nil
}

// GetByID loads a conversation, enforcing ownership.
func (r *ConversationRepo) GetByID(ctx context.Context, ownerID, id string) (*model.AIConversation, error) {
	var c model.AIConversation
	err := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, title, last_updated, created_at
		FROM ai_conversations WHERE id = $1 AND owner_id = $2`, id, ownerID,
	).Scan(&c.ID, &c.OwnerID, &c.Title, &c.LastUpdated, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("repository.Conversation.GetByID: %w", err)
	}
	return &c, nil
}

// ListByOwner returns a user's conversations, most recently updated first.
func (r *ConversationRepo) ListByOwner(ctx context.Context, ownerID string, limit int) ([]model.AIConversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, owner_id, title, last_updated, created_at
		FROM ai_conversations WHERE owner_id = $1
		ORDER BY last_updated DESC LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("repository.Conversation.ListByOwner: %w", err)
	}
	defer rows.Close()

	var out []model.AIConversation
	for rows.Next() {
		var c model.AIConversation
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Title, &c.LastUpdated, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository.Conversation.ListByOwner: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// ListMessages returns every message in a conversation, oldest first.
func (r *ConversationRepo) ListMessages(ctx context.Context, conversationID string) ([]model.AIConversationMessage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, tool_calls_json, tool_output_json,
			llm_type_used, llm_model_used, sent_at
		FROM ai_conversation_messages WHERE conversation_id = $1
		ORDER BY sent_at ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("repository.Conversation.ListMessages: %w", err)
	}
	defer rows.Close()

	var out []model.AIConversationMessage
	for rows.Next() {
		var m model.AIConversationMessage
		var role string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.ToolCallsJSON,
			&m.ToolOutputJSON, &m.LLMTypeUsed, &m.LLMModelUsed, &m.SentAt); err != nil {
			return nil, fmt.Errorf("repository.Conversation.ListMessages: scan: %w", err)
		}
		m.Role = model.MessageRole(role)
		out = append(out, m)
	}
	return out, nil
}

// BeginTx starts a transaction against the same pool, so a caller (the
// Agent Loop, C8) can compose AppendTurnTx with points.AwardPoints and
// points.CheckAndAwardAchievements into one commit (spec §4.7 step 7).
func (r *ConversationRepo) BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository.Conversation.BeginTx: %w", err)
	}
	return tx, nil
}

// AppendTurn inserts one or more messages (typically a user turn and the
// assistant's reply, possibly with tool_calls/tool_output messages in
// between) and bumps the parent conversation's last_updated, all inside a
// single transaction: a caller never observes a conversation whose
// last_updated moved without the corresponding messages landing, or vice
// versa.
func (r *ConversationRepo) AppendTurn(ctx context.Context, conversationID string, messages []model.AIConversationMessage) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository.Conversation.AppendTurn: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.AppendTurnTx(ctx, tx, conversationID, messages); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository.Conversation.AppendTurn: commit: %w", err)
	}
	return nil
}

// AppendTurnTx is AppendTurn's logic against a caller-supplied
// transaction, so it composes with other per-turn writes (point credit,
// achievement check) into a single commit instead of owning its own.
func (r *ConversationRepo) AppendTurnTx(ctx context.Context, tx pgx.Tx, conversationID string, messages []model.AIConversationMessage) error {
	if len(messages) == 0 {
		return fmt.Errorf("repository.Conversation.AppendTurnTx: no messages to append")
	}

	for i := range messages {
		m := &messages[i]
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		if m.SentAt.IsZero() {
			m.SentAt = time.Now().UTC()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO ai_conversation_messages (
				id, conversation_id, role, content, tool_calls_json, tool_output_json,
				llm_type_used, llm_model_used, sent_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			m.ID, conversationID, string(m.Role), m.Content, nullableJSON(m.ToolCallsJSON),
			nullableJSON(m.ToolOutputJSON), m.LLMTypeUsed, m.LLMModelUsed, m.SentAt,
		); err != nil {
			return fmt.Errorf("repository.Conversation.AppendTurnTx: insert message: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE ai_conversations SET last_updated = now() WHERE id = $1`, conversationID); err != nil {
		return fmt.Errorf("repository.Conversation.AppendTurnTx: touch conversation: %w", err)
	}
	return nil
}

// SetTitleIfAbsent sets a conversation's title only if it is currently
// null, then returns whatever title actually ended up stored. This gives
// "first non-null wins" semantics (spec §4.9): if two clients race to
// generate a title for the same first_exchange, both get back the
// winner's title instead of overwriting each other.
func (r *ConversationRepo) SetTitleIfAbsent(ctx context.Context, conversationID, title string) (string, error) {
	if _, err := r.pool.Exec(ctx, `
		UPDATE ai_conversations SET title = $2 WHERE id = $1 AND title IS NULL`,
		conversationID, title,
	); err != nil {
		return "", fmt.Errorf("repository.Conversation.SetTitleIfAbsent: %w", err)
	}

	var final *string
	if err := r.pool.QueryRow(ctx, `SELECT title FROM ai_conversations WHERE id = $1`, conversationID).Scan(&final); err != nil {
		return "", fmt.Errorf("repository.Conversation.SetTitleIfAbsent: %w", err)
	}
	if final == nil {
		return "", nil
	}
	return *final, nil
}

// nullableJSON turns an empty json.RawMessage into a SQL NULL instead of
// an empty-string insert, so `tool_calls_json IS NULL` stays a reliable
// "no tool calls on this message" check.
func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

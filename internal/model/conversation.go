package model

import (
	"encoding/json"
	"time"
)

// MessageRole identifies the speaker of an AIConversationMessage.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// AIConversation is a single chat thread owned by a user.
type AIConversation struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Title       *string   `json:"title,omitempty"`
	LastUpdated time.Time `json:"lastUpdated"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AIConversationMessage is one append-only turn in a conversation. Order
// within a conversation is by SentAt.
type AIConversationMessage struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	Role           MessageRole     `json:"role"`
	Content        string          `json:"content"`
	ToolCallsJSON  json.RawMessage `json:"toolCallsJson,omitempty"`
	ToolOutputJSON json.RawMessage `json:"toolOutputJson,omitempty"`
	LLMTypeUsed    *string         `json:"llmTypeUsed,omitempty"`
	LLMModelUsed   *string         `json:"llmModelUsed,omitempty"`
	SentAt         time.Time       `json:"sentAt"`
}

// TempFileStatus mirrors DocumentStatus for conversation-scoped uploads.
type TempFileStatus string

const (
	TempFileStatusPending    TempFileStatus = "pending"
	TempFileStatusProcessing TempFileStatus = "processing"
	TempFileStatusCompleted  TempFileStatus = "completed"
	TempFileStatusFailed     TempFileStatus = "failed"
)

// AIConversationTemporaryFile is an attachment scoped to a single
// conversation's lifetime; it is embedded like a chunk but owned by no
// KnowledgeBase.
type AIConversationTemporaryFile struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	BlobKey        string         `json:"blobKey"`
	Mime           string         `json:"mime"`
	Status         TempFileStatus `json:"status"`
	ExtractedText  *string        `json:"extractedText,omitempty"`
	Embedding      []float32      `json:"-"`
	CreatedAt      time.Time      `json:"createdAt"`
}

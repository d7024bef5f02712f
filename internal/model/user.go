package model

import "time"

// UserStatus is whether an account can authenticate.
type UserStatus string

const (
	UserStatusActive    UserStatus = "Active"
	UserStatusSuspended UserStatus = "Suspended"
)

// ProviderType is the tagged union of LLM/embedding/rerank providers a
// user can configure a Credential against (C2 Provider Gateway).
type ProviderType string

const (
	ProviderOpenAI      ProviderType = "openai"
	ProviderSiliconFlow ProviderType = "siliconflow"
	ProviderZhipu       ProviderType = "zhipu"
	ProviderModelScope  ProviderType = "modelscope"
	ProviderVertexAI    ProviderType = "vertexai"
	ProviderCustom      ProviderType = "custom"
)

// Credential is one user-configured provider endpoint. EncryptedKey is
// at-rest ciphertext; callers must decrypt it before use.
type Credential struct {
	ID           string       `json:"id"`
	UserID       string       `json:"userId"`
	ProviderType ProviderType `json:"providerType"`
	EncryptedKey string       `json:"-"`
	BaseURL      string       `json:"baseUrl"`
	ModelID      string       `json:"modelId"`
	ModelIDs     []string     `json:"modelIds,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// User is a tenant account. Every KnowledgeBase, AIConversation,
// PointTransaction, and Credential is exclusively owned by one User.
type User struct {
	ID          string       `json:"id"`
	Email       string       `json:"email"`
	Name        *string      `json:"name,omitempty"`
	Status      UserStatus   `json:"status"`
	IsAdmin     bool         `json:"isAdmin"`
	TotalPoints int          `json:"totalPoints"`
	LoginCount  int          `json:"loginCount"`
	Credentials []Credential `json:"credentials,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	LastLoginAt *time.Time   `json:"lastLoginAt,omitempty"`
}

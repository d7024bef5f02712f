package model

import (
	"encoding/json"
	"time"
)

// DocumentStatus is the lifecycle state of a KnowledgeDocument as it
// moves through the ingestion pipeline (C6).
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// Visibility controls whether a KnowledgeBase is visible to users other
// than its owner.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// KnowledgeBase is an owner-scoped container for documents, articles, and
// folders.
type KnowledgeBase struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"ownerId"`
	Name       string     `json:"name"`
	Visibility Visibility `json:"visibility"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// KnowledgeDocument is an uploaded file belonging to a KnowledgeBase.
type KnowledgeDocument struct {
	ID             string          `json:"id"`
	KBID           string          `json:"kbId"`
	OwnerID        string          `json:"ownerId"`
	FileName       string          `json:"fileName"`
	BlobKey        string          `json:"blobKey"`
	BlobPublicURL  *string         `json:"blobPublicUrl,omitempty"`
	Mime           string          `json:"mime"`
	FolderID       *string         `json:"folderId,omitempty"`
	Status         DocumentStatus  `json:"status"`
	StatusMessage  *string         `json:"statusMessage,omitempty"`
	TotalChunks    int             `json:"totalChunks"`
	SizeBytes      int             `json:"sizeBytes"`
	Checksum       *string         `json:"checksum,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	DeletedAt      *time.Time      `json:"deletedAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// KnowledgeDocumentChunk is the atomic retrieval unit: a slice of a
// document's extracted text with its embedding vector.
type KnowledgeDocumentChunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	OwnerID    string    `json:"ownerId"`
	KBID       string    `json:"kbId"`
	ChunkIndex int       `json:"chunkIndex"`
	Text       string    `json:"text"`
	TokenCount int       `json:"tokenCount"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// KnowledgeBaseFolder organizes documents inside a KnowledgeBase into a
// tree.
type KnowledgeBaseFolder struct {
	ID        string     `json:"id"`
	KBID      string     `json:"kbId"`
	ParentID  *string    `json:"parentId,omitempty"`
	Name      string     `json:"name"`
	CreatedAt time.Time  `json:"createdAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// AllowedMimeTypes lists the mime types accepted for upload.
var AllowedMimeTypes = map[string]bool{
	"application/pdf": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"text/plain": true,
	"text/csv":   true,
	"text/markdown": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"image/png":  true,
	"image/jpeg": true,
}

// MaxFileSizeBytes is the maximum allowed upload size (50 MB).
const MaxFileSizeBytes = 50 * 1024 * 1024

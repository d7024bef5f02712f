package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/provider"
)

// CredentialRepository is the persistence contract service.CredentialService
// needs from internal/repository.CredentialRepo.
type CredentialRepository interface {
	GetDefaultForUser(ctx context.Context, userID string) (*model.Credential, error)
}

// CredentialCipher decrypts a credential's at-rest ciphertext, implemented
// by internal/credstore.Cipher.
type CredentialCipher interface {
	Decrypt(encoded string) (string, error)
}

// CredentialService resolves a user's stored, encrypted Credential into the
// decrypted provider.Credential the Gateway needs to make a call. It
// implements pipeline.go's CredentialResolver.
type CredentialService struct {
	repo   CredentialRepository
	cipher CredentialCipher
}

// NewCredentialService creates a CredentialService.
func NewCredentialService(repo CredentialRepository, cipher CredentialCipher) *CredentialService {
	return &CredentialService{repo: repo, cipher: cipher}
}

// EmbeddingCredentialFor returns the decrypted credential the pipeline
// should use to embed a document's chunks for ownerID. With no credential
// configured it returns the zero-value Credential, which Gateway.Embed
// turns into the zero-vector fallback per invariant I1 — this is not an
// error condition.
func (s *CredentialService) EmbeddingCredentialFor(ctx context.Context, ownerID string) (provider.Credential, error) {
	return s.resolve(ctx, ownerID, nil)
}

// ChatCredentialFor returns the decrypted credential the Agent Loop (C8)
// should use for a turn's planner/synthesis calls, applying the spec's
// "chat model override ∪ user's per-provider model list ∪ system
// default" rule: modelOverride wins over the stored default model when
// non-empty. A nil/empty modelOverride falls back to the stored model.
func (s *CredentialService) ChatCredentialFor(ctx context.Context, ownerID string, modelOverride *string) (provider.Credential, error) {
	return s.resolve(ctx, ownerID, modelOverride)
}

func (s *CredentialService) resolve(ctx context.Context, ownerID string, modelOverride *string) (provider.Credential, error) {
	stored, err := s.repo.GetDefaultForUser(ctx, ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return provider.Credential{}, nil
	}
	if err != nil {
		return provider.Credential{}, fmt.Errorf("service.CredentialService.resolve: %w", err)
	}

	key, err := s.cipher.Decrypt(stored.EncryptedKey)
	if err != nil {
		return provider.Credential{}, fmt.Errorf("service.CredentialService.resolve: %w", err)
	}

	modelID := stored.ModelID
	if modelOverride != nil && *modelOverride != "" {
		modelID = *modelOverride
	}

	return provider.Credential{
		ProviderType: stored.ProviderType,
		APIKey:       key,
		BaseURL:      stored.BaseURL,
		ModelID:      modelID,
	}, nil
}

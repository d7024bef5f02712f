package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/ragbox-backend/internal/model"
)

// CredentialRepo handles provider credential persistence. Values stored
// and returned here carry EncryptedKey ciphertext; decryption happens one
// layer up, in service.CredentialResolver.
type CredentialRepo struct {
	pool *pgxpool.Pool
}

// NewCredentialRepo creates a CredentialRepo.
func NewCredentialRepo(pool *pgxpool.Pool) *CredentialRepo {
	return &CredentialRepo{pool: pool}
}

// Insert stores a new credential, returning its generated ID.
func (r *CredentialRepo) Insert(ctx context.Context, c *model.Credential) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO credentials (id, user_id, provider_type, encrypted_key, base_url, model_id, model_ids, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, now())
		RETURNING id, created_at`,
		c.UserID, string(c.ProviderType), c.EncryptedKey, c.BaseURL, c.ModelID, c.ModelIDs,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("repository.Credential.Insert: %w", err)
	}
	return nil
}

// ListByUser returns every credential a user has configured.
func (r *CredentialRepo) ListByUser(ctx context.Context, userID string) ([]model.Credential, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, provider_type, encrypted_key, base_url, model_id, model_ids, created_at
		FROM credentials WHERE user_id = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("repository.Credential.ListByUser: %w", err)
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		var c model.Credential
		var providerType string
		if err := rows.Scan(&c.ID, &c.UserID, &providerType, &c.EncryptedKey, &c.BaseURL, &c.ModelID, &c.ModelIDs, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository.Credential.ListByUser: scan: %w", err)
		}
		c.ProviderType = model.ProviderType(providerType)
		creds = append(creds, c)
	}
	return creds, nil
}

// GetDefaultForUser returns the user's first-configured credential, used
// wherever a single "default provider" is needed (embeddings, chat with
// no explicit selection). Returns pgx.ErrNoRows if the user has none.
func (r *CredentialRepo) GetDefaultForUser(ctx context.Context, userID string) (*model.Credential, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, provider_type, encrypted_key, base_url, model_id, model_ids, created_at
		FROM credentials WHERE user_id = $1 ORDER BY created_at ASC LIMIT 1`, userID)

	var c model.Credential
	var providerType string
	if err := row.Scan(&c.ID, &c.UserID, &providerType, &c.EncryptedKey, &c.BaseURL, &c.ModelID, &c.ModelIDs, &c.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("repository.Credential.GetDefaultForUser: %w", err)
	}
	return &c, nil
}

// Delete removes a credential owned by userID.
func (r *CredentialRepo) Delete(ctx context.Context, userID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM credentials WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("repository.Credential.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repository.Credential.Delete: not found")
	}
	return nil
}
